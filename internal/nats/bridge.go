package nats

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/agentmesh/orchestrator/internal/bus"
)

// subjectPrefix namespaces every bridged subject so a shared NATS
// deployment can carry unrelated traffic alongside the orchestrator's.
const subjectPrefix = "agentmesh.bus."

// Bridge relays a Bus's outbound unicast sends onto NATS subjects and
// feeds inbound NATS deliveries back into local Bus recipients, so agent
// hosts running in separate processes can exchange messages through the
// same in-process Bus API (spec section 4.F's Message Bus, extended per
// SPEC_FULL.md to an optional multi-process backend). The in-process Bus
// remains authoritative for correlator/timeout bookkeeping; the Bridge
// only widens delivery to remote recipients.
type Bridge struct {
	conn  *Conn
	local *bus.Bus
}

// NewBridge binds conn to local. It subscribes to nothing and forwards
// nothing by itself: callers relay messages with Publish and subscribe
// agent subjects with ListenFor.
func NewBridge(conn *Conn, local *bus.Bus) *Bridge {
	return &Bridge{conn: conn, local: local}
}

// Publish relays msg to its recipient's NATS subject. Callers use this
// for recipients that Bus.Send could not find locally (apperr.NotFound),
// i.e. agents hosted by another process.
func (br *Bridge) Publish(msg bus.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	return br.conn.Publish(subjectFor(msg.RecipientID), data)
}

// ListenFor subscribes to agentID's subject and delivers every decoded
// bus.Message to local via a synthetic Send, letting the local
// dispatch/correlator machinery handle it exactly like a same-process
// message.
func (br *Bridge) ListenFor(agentID string) error {
	_, err := br.conn.Subscribe(subjectFor(agentID), func(raw *Message) {
		var msg bus.Message
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			log.Printf("[NATS-BRIDGE] failed to decode message for %s: %v", agentID, err)
			return
		}
		if _, err := br.local.Send(msg); err != nil {
			log.Printf("[NATS-BRIDGE] local delivery failed for %s: %v", agentID, err)
		}
	})
	return err
}

func subjectFor(agentID string) string {
	return subjectPrefix + agentID
}
