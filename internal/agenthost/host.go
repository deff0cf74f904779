// Package agenthost implements the Agent Host (spec section 4.I): one
// agent's identity, capability set, and bindings to its Local Memory,
// Shared Context, Knowledge Store and Message Bus client, plus the
// message-kind dispatch table every agent shares.
//
// Grounded in the teacher's internal/captain split between mechanical
// message dispatch and agent-specific policy: handleMessage here plays
// captain.go's role, while the Behavior interface stands in for the
// pluggable decision logic captain.go delegated to
// supervisor.DecisionEngine.
package agenthost

import (
	"context"
	"log"
	"time"

	"github.com/agentmesh/orchestrator/internal/bus"
	"github.com/agentmesh/orchestrator/internal/knowledge"
	"github.com/agentmesh/orchestrator/internal/localmem"
	"github.com/agentmesh/orchestrator/internal/sharedctx"
)

// ReviewResult is what a Behavior returns from ReviewContent (spec's
// review_content subclass contract).
type ReviewResult struct {
	Score       float64
	Approved    bool
	Suggestions []string
}

// Behavior supplies the agent-specific policy an Agent Host mechanically
// dispatches to (spec section 4.I).
type Behavior interface {
	ProcessRequest(requestType string, data any, sender string) (any, error)
	ReviewContent(content any, criteria []string, requester string) (ReviewResult, error)
	Capabilities() []string
}

// Host encapsulates one agent (spec section 4.I).
type Host struct {
	id       string
	behavior Behavior

	bus            *bus.Bus
	local          *localmem.Store
	shared         *sharedctx.Context
	knowledge      *knowledge.Store
	defaultTimeout time.Duration
}

// Option configures New.
type Option func(*Host)

// WithDefaultTimeout overrides the timeout SendRequest applies when
// called with a zero duration (spec section 6's
// default_timeout_seconds config field).
func WithDefaultTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.defaultTimeout = d
		}
	}
}

// New constructs a Host and registers it on b under id, advertising
// behavior's capabilities as registration metadata (consumed by
// internal/review's reviewer-selection scoring).
func New(id string, behavior Behavior, b *bus.Bus, local *localmem.Store, shared *sharedctx.Context, know *knowledge.Store, opts ...Option) *Host {
	h := &Host{
		id:             id,
		behavior:       behavior,
		bus:            b,
		local:          local,
		shared:         shared,
		knowledge:      know,
		defaultTimeout: 30 * time.Second,
	}
	for _, fn := range opts {
		fn(h)
	}
	b.Register(id, h.handleMessage, map[string]any{"capabilities": behavior.Capabilities()})
	return h
}

// ID returns the agent's identity.
func (h *Host) ID() string { return h.id }

// handleMessage is the spec's handle_message dispatch table.
func (h *Host) handleMessage(msg bus.Message) error {
	switch msg.Kind {
	case bus.Request:
		return h.handleRequest(msg)
	case bus.Discovery:
		return h.handleDiscovery(msg)
	case bus.Notification:
		return h.handleNotification(msg)
	case bus.ReviewRequest:
		return h.handleReviewRequest(msg)
	case bus.StatusUpdate:
		return h.handleStatusUpdate(msg)
	case bus.Response:
		return nil // the bus resolves correlation before this is ever invoked
	default:
		return nil
	}
}

func (h *Host) handleRequest(msg bus.Message) error {
	requestType, data := splitRequestBody(msg.Body)
	result, err := h.behavior.ProcessRequest(requestType, data, msg.SenderID)
	if err != nil {
		return err
	}
	if !msg.RequiresResponse {
		return nil
	}
	_, sendErr := h.bus.Send(bus.Message{
		SenderID:          h.id,
		RecipientID:       msg.SenderID,
		Kind:              bus.Response,
		Body:              result,
		OriginalMessageID: msg.ID,
		ConversationID:    msg.ConversationID,
	})
	return sendErr
}

func splitRequestBody(body any) (requestType string, data any) {
	envelope, ok := body.(map[string]any)
	if !ok {
		return "", body
	}
	if t, ok := envelope["type"].(string); ok {
		return t, envelope["data"]
	}
	return "", body
}

func (h *Host) handleDiscovery(msg bus.Message) error {
	h.local.StoreValue(msg.ID, msg.Body, []string{"discovery", msg.SenderID})
	return nil
}

func (h *Host) handleNotification(msg bus.Message) error {
	h.local.StoreValue(msg.ID, msg.Body, []string{"notification", msg.SenderID})
	return nil
}

func (h *Host) handleReviewRequest(msg bus.Message) error {
	envelope, _ := msg.Body.(map[string]any)
	content := envelope["content"]
	criteria, _ := envelope["criteria"].([]string)
	reviewID, _ := envelope["review_id"].(string)

	result, err := h.behavior.ReviewContent(content, criteria, msg.SenderID)
	if err != nil {
		return err
	}

	_, sendErr := h.bus.Send(bus.Message{
		SenderID:    h.id,
		RecipientID: msg.SenderID,
		Kind:        bus.ReviewResponse,
		Body: map[string]any{
			"review_id":   reviewID,
			"score":       result.Score,
			"approved":    result.Approved,
			"suggestions": result.Suggestions,
		},
		ConversationID: msg.ConversationID,
	})
	return sendErr
}

func (h *Host) handleStatusUpdate(msg bus.Message) error {
	h.local.StoreValue("peer_status:"+msg.SenderID, msg.Body, []string{"status"})
	return nil
}

// SendRequest is the spec's send_request convenience wrapper: it blocks
// for the awaited response body or returns the timeout/capacity error
// that resolved the bus Future.
func (h *Host) SendRequest(target, requestType string, data any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = h.defaultTimeout
	}

	future, err := h.bus.Send(bus.Message{
		SenderID:         h.id,
		RecipientID:      target,
		Kind:             bus.Request,
		Body:             map[string]any{"type": requestType, "data": data},
		RequiresResponse: true,
		ResponseTimeout:  timeout,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return future.Wait(ctx)
}

// ShareDiscovery is the spec's share_discovery convenience wrapper: it
// writes relevance-tagged discovery metadata to the Shared Context and
// broadcasts a DISCOVERY message to every other registered agent.
func (h *Host) ShareDiscovery(workflowType string, data any, relevance float64) error {
	metadata := map[string]any{
		"context_type": "discovery",
		"agent_id":     h.id,
		"relevance":    relevance,
	}
	key := workflowType + ":" + h.id + ":" + time.Now().UTC().Format(time.RFC3339Nano)
	if err := h.shared.Store(key, data, metadata); err != nil {
		return err
	}

	_, err := h.bus.Send(bus.Message{
		SenderID:    h.id,
		RecipientID: bus.Broadcast,
		Kind:        bus.Discovery,
		Body:        data,
	})
	if err != nil {
		log.Printf("[AGENTHOST] %s failed to broadcast discovery: %v", h.id, err)
	}
	return err
}
