package nats

import (
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/internal/bus"
)

func startBridgeTestServer(t *testing.T) string {
	t.Helper()

	srv := NewDevServer(14333)
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start dev NATS server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	if !srv.IsRunning() {
		t.Fatal("expected dev server to report running after Start")
	}
	return srv.URL()
}

func TestBridge_DeliversRemoteMessageToLocalRecipient(t *testing.T) {
	url := startBridgeTestServer(t)

	localBus := bus.New()
	defer localBus.Close()

	received := make(chan bus.Message, 1)
	localBus.Register("remote-agent", func(m bus.Message) error {
		received <- m
		return nil
	}, nil)

	listenerConn, err := Dial(url)
	if err != nil {
		t.Fatalf("failed to dial listener connection: %v", err)
	}
	defer listenerConn.Close()

	br := NewBridge(listenerConn, localBus)
	if err := br.ListenFor("remote-agent"); err != nil {
		t.Fatalf("ListenFor failed: %v", err)
	}

	senderConn, err := Dial(url)
	if err != nil {
		t.Fatalf("failed to dial sender connection: %v", err)
	}
	defer senderConn.Close()
	if !senderConn.IsConnected() {
		t.Fatal("expected sender connection to report connected")
	}

	senderBridge := NewBridge(senderConn, bus.New())
	if err := senderBridge.Publish(bus.Message{
		SenderID:    "origin-agent",
		RecipientID: "remote-agent",
		Kind:        bus.Notification,
		Body:        map[string]any{"hello": "world"},
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.SenderID != "origin-agent" {
			t.Errorf("expected sender origin-agent, got %s", msg.SenderID)
		}
		body, _ := msg.Body.(map[string]any)
		if body["hello"] != "world" {
			t.Errorf("expected bridged body to survive JSON round-trip, got %v", msg.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged message")
	}
}

func TestBridge_PublishSucceedsWithoutListener(t *testing.T) {
	url := startBridgeTestServer(t)

	conn, err := Dial(url)
	if err != nil {
		t.Fatalf("failed to dial connection: %v", err)
	}
	defer conn.Close()

	br := NewBridge(conn, bus.New())
	// NATS publish is fire-and-forget: publishing to a subject nobody
	// subscribed to does not itself error, it's simply dropped.
	if err := br.Publish(bus.Message{SenderID: "a", RecipientID: "nobody-home", Kind: bus.Notification}); err != nil {
		t.Errorf("expected publish with no subscriber to succeed, got %v", err)
	}
}
