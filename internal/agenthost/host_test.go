package agenthost

import (
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/internal/bus"
	"github.com/agentmesh/orchestrator/internal/knowledge"
	"github.com/agentmesh/orchestrator/internal/localmem"
	"github.com/agentmesh/orchestrator/internal/sharedctx"
)

type echoBehavior struct {
	capabilities []string
	reviewResult ReviewResult
}

func (b *echoBehavior) ProcessRequest(requestType string, data any, sender string) (any, error) {
	return map[string]any{"echo": data, "from": sender, "type": requestType}, nil
}

func (b *echoBehavior) ReviewContent(content any, criteria []string, requester string) (ReviewResult, error) {
	return b.reviewResult, nil
}

func (b *echoBehavior) Capabilities() []string { return b.capabilities }

func newTestHost(t *testing.T, b *bus.Bus, id string, behavior Behavior) *Host {
	t.Helper()
	return New(id, behavior, b, localmem.New(), sharedctx.New("wf-1"), knowledge.New())
}

func TestHandleRequest_RespondsViaBus(t *testing.T) {
	busInstance := bus.New()
	defer busInstance.Close()

	server := newTestHost(t, busInstance, "server", &echoBehavior{})

	result, err := server_sendRequest(t, busInstance, "caller", server.ID(), "ping", "hello")
	if err != nil {
		t.Fatalf("send_request failed: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["echo"] != "hello" {
		t.Errorf("expected echoed body, got %v", result)
	}
}

func server_sendRequest(t *testing.T, b *bus.Bus, callerID, target, requestType string, data any) (any, error) {
	t.Helper()
	caller := &Host{id: callerID, bus: b}
	return caller.SendRequest(target, requestType, data, time.Second)
}

func TestHandleDiscovery_StoresToLocalMemory(t *testing.T) {
	busInstance := bus.New()
	defer busInstance.Close()

	local := localmem.New()
	host := New("watcher", &echoBehavior{}, busInstance, local, sharedctx.New("wf-1"), knowledge.New())

	_, err := busInstance.Send(bus.Message{SenderID: "other", RecipientID: host.ID(), Kind: bus.Discovery, Body: "found-a-bug"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		stats := local.Statistics()
		if stats.CurrentEntries >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected discovery to be stored in local memory")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleReviewRequest_SendsReviewResponse(t *testing.T) {
	busInstance := bus.New()
	defer busInstance.Close()

	received := make(chan bus.Message, 1)
	busInstance.Register("requester", func(msg bus.Message) error {
		if msg.Kind == bus.ReviewResponse {
			received <- msg
		}
		return nil
	}, nil)

	reviewer := New("reviewer", &echoBehavior{reviewResult: ReviewResult{Score: 0.9, Approved: true, Suggestions: []string{"nit"}}},
		busInstance, localmem.New(), sharedctx.New("wf-1"), knowledge.New())
	_ = reviewer

	_, err := busInstance.Send(bus.Message{
		SenderID:    "requester",
		RecipientID: "reviewer",
		Kind:        bus.ReviewRequest,
		Body:        map[string]any{"review_id": "review-1", "content": "c", "criteria": []string{"accuracy"}},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case msg := <-received:
		body, _ := msg.Body.(map[string]any)
		if body["review_id"] != "review-1" || body["approved"] != true {
			t.Errorf("unexpected review response body: %v", body)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a REVIEW_RESPONSE")
	}
}

func TestShareDiscovery_WritesSharedContextAndBroadcasts(t *testing.T) {
	busInstance := bus.New()
	defer busInstance.Close()

	shared := sharedctx.New("wf-1")
	host := New("sharer", &echoBehavior{}, busInstance, localmem.New(), shared, knowledge.New())

	peerReceived := make(chan bus.Message, 1)
	busInstance.Register("peer", func(msg bus.Message) error {
		if msg.Kind == bus.Discovery {
			peerReceived <- msg
		}
		return nil
	}, nil)

	if err := host.ShareDiscovery("recon", map[string]any{"finding": "xss"}, 0.8); err != nil {
		t.Fatalf("share discovery failed: %v", err)
	}

	select {
	case <-peerReceived:
	case <-time.After(time.Second):
		t.Fatal("expected broadcast discovery to reach peer")
	}

	entries := shared.Search(sharedctx.Filter{ContextType: "discovery"})
	if len(entries) != 1 {
		t.Fatalf("expected 1 shared context entry, got %d", len(entries))
	}
}
