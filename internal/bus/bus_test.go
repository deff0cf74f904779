package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/internal/apperr"
	"github.com/agentmesh/orchestrator/internal/clock"
)

func TestRequestResponse_HappyPath(t *testing.T) {
	b := New()
	defer b.Close()

	b.Register("responder", func(msg Message) error {
		if msg.Kind != Request {
			return nil
		}
		_, err := b.Send(Message{
			SenderID:          "responder",
			RecipientID:       msg.SenderID,
			Kind:              Response,
			Body:              "pong",
			OriginalMessageID: msg.ID,
		})
		return err
	}, nil)

	future, err := b.Send(Message{
		SenderID:         "requester",
		RecipientID:      "responder",
		Kind:             Request,
		Body:             "ping",
		RequiresResponse: true,
		ResponseTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	body, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("expected response, got error: %v", err)
	}
	if body != "pong" {
		t.Errorf("expected pong, got %v", body)
	}
}

func TestRequestResponse_TimeoutResolvesExactlyOnce(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New(WithClock(fc))
	defer b.Close()

	b.Register("blackhole", func(msg Message) error { return nil }, nil)

	future, err := b.Send(Message{
		SenderID:         "requester",
		RecipientID:      "blackhole",
		Kind:             Request,
		RequiresResponse: true,
		ResponseTimeout:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	fc.Advance(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = future.Wait(ctx)
	if apperr.KindOf(err) != apperr.Timeout {
		t.Fatalf("expected Timeout, got %v", err)
	}

	// second wait observes the same terminal result, never blocks again.
	_, err2 := future.Wait(ctx)
	if apperr.KindOf(err2) != apperr.Timeout {
		t.Errorf("expected idempotent Timeout on re-wait, got %v", err2)
	}
}

func TestSend_UnknownRecipient(t *testing.T) {
	b := New()
	defer b.Close()

	future, err := b.Send(Message{
		SenderID:         "requester",
		RecipientID:      "nobody",
		Kind:             Request,
		RequiresResponse: true,
	})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, waitErr := future.Wait(ctx)
	if apperr.KindOf(waitErr) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", waitErr)
	}
}

func TestSend_FireAndForgetUnknownRecipientIsSilent(t *testing.T) {
	b := New()
	defer b.Close()

	future, err := b.Send(Message{
		SenderID:    "requester",
		RecipientID: "nobody",
		Kind:        Notification,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if future != nil {
		t.Errorf("expected nil future for fire-and-forget send, got %v", future)
	}
	stats := b.Statistics()
	if stats.MessagesFailed != 1 {
		t.Errorf("expected 1 failed message recorded, got %d", stats.MessagesFailed)
	}
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	received := map[string]bool{}
	done := make(chan struct{})

	track := func(id string) Handler {
		return func(msg Message) error {
			mu.Lock()
			received[id] = true
			n := len(received)
			mu.Unlock()
			if n == 2 {
				close(done)
			}
			return nil
		}
	}

	b.Register("alice", track("alice"), nil)
	b.Register("bob", track("bob"), nil)
	b.Register("carol", track("carol"), nil)

	if _, err := b.Send(Message{SenderID: "alice", RecipientID: Broadcast, Kind: Notification}); err != nil {
		t.Fatalf("broadcast send failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast fan-out")
	}

	mu.Lock()
	defer mu.Unlock()
	if received["alice"] {
		t.Error("sender should not receive its own broadcast")
	}
	if !received["bob"] || !received["carol"] {
		t.Errorf("expected bob and carol to receive broadcast, got %v", received)
	}
}

func TestInboxCapacity_RejectPolicyReturnsCapacityError(t *testing.T) {
	b := New()
	defer b.Close()

	blocked := make(chan struct{})
	b.Register("slow", func(msg Message) error {
		<-blocked
		return nil
	}, nil, WithInboxCapacity(1), WithOverflowPolicy(OverflowReject))
	defer close(blocked)

	// First message occupies the handler goroutine (blocked on <-blocked);
	// the second fills the capacity-1 queue; the third must overflow it.
	if _, err := b.Send(Message{SenderID: "s", RecipientID: "slow", Kind: Notification}); err != nil {
		t.Fatalf("handler-occupying send failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := b.Send(Message{SenderID: "s", RecipientID: "slow", Kind: Notification}); err != nil {
		t.Fatalf("queue-filling send failed: %v", err)
	}

	future, err := b.Send(Message{
		SenderID:         "s",
		RecipientID:      "slow",
		Kind:             Request,
		RequiresResponse: true,
		ResponseTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("second send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, waitErr := future.Wait(ctx)
	if apperr.KindOf(waitErr) != apperr.Capacity {
		t.Fatalf("expected Capacity error, got %v", waitErr)
	}
}

func TestConversationTracking(t *testing.T) {
	b := New()
	defer b.Close()

	b.Register("bob", func(msg Message) error { return nil }, nil)

	if _, err := b.Send(Message{SenderID: "alice", RecipientID: "bob", Kind: Notification, ConversationID: "conv-1"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	msgs := b.ConversationMessages("conv-1")
	if len(msgs) != 1 {
		t.Errorf("expected 1 tracked message, got %d", len(msgs))
	}

	participants := b.ConversationParticipants("conv-1")
	if len(participants) != 2 {
		t.Errorf("expected 2 participants, got %v", participants)
	}
}

func TestRegisterUnregister_RoundTrip(t *testing.T) {
	b := New()
	defer b.Close()

	b.Register("temp", func(msg Message) error { return nil }, nil)
	ids := b.RegisteredAgentIDs()
	if len(ids) != 1 {
		t.Fatalf("expected 1 registered agent, got %v", ids)
	}

	b.Unregister("temp")
	ids = b.RegisteredAgentIDs()
	if len(ids) != 0 {
		t.Fatalf("expected 0 registered agents after unregister, got %v", ids)
	}

	// sending to the now-unregistered agent behaves like unknown recipient
	if _, err := b.Send(Message{SenderID: "x", RecipientID: "temp", Kind: Notification}); err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
}

func TestHandlerPanicYieldsNegativeResponse(t *testing.T) {
	b := New()
	defer b.Close()

	b.Register("flaky", func(msg Message) error {
		panic("boom")
	}, nil)

	future, err := b.Send(Message{
		SenderID:         "caller",
		RecipientID:      "flaky",
		Kind:             Request,
		RequiresResponse: true,
		ResponseTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	body, waitErr := future.Wait(ctx)
	if waitErr != nil {
		t.Fatalf("expected negative RESPONSE rather than a wait error, got %v", waitErr)
	}
	asMap, ok := body.(map[string]any)
	if !ok || asMap["error"] == nil {
		t.Errorf("expected negative response body describing the handler panic, got %v", body)
	}
}
