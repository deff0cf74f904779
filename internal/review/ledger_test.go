package review

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/internal/bus"
)

func TestWithPersistence_RecordsRequestSubmitAndFinalize(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reviews.db")
	b := bus.New()
	defer b.Close()

	b.Register("reviewer-a", func(bus.Message) error { return nil }, map[string]any{
		"capabilities": []string{"general"},
	})

	c := New(b, WithPersistence(dbPath))
	defer c.Close()

	r, err := c.RequestReview("requester", "payload", nil, 1, time.Minute)
	if err != nil {
		t.Fatalf("RequestReview failed: %v", err)
	}

	if _, err := c.SubmitReview(r.ID, "reviewer-a", 0.9, true, []string{"looks good"}); err != nil {
		t.Fatalf("SubmitReview failed: %v", err)
	}

	history, err := c.ledger.History(r.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	wantEvents := []string{"requested", "submitted", "finalized"}
	if len(history) != len(wantEvents) {
		t.Fatalf("expected %d ledger events, got %d: %+v", len(wantEvents), len(history), history)
	}
	for i, want := range wantEvents {
		if history[i].Event != want {
			t.Errorf("event %d: expected %q, got %q", i, want, history[i].Event)
		}
	}
}

func TestWithPersistence_CreatesMissingDirectory(t *testing.T) {
	b := bus.New()
	defer b.Close()

	c := New(b, WithPersistence(filepath.Join(t.TempDir(), "nested", "reviews.db")))
	defer c.Close()

	if c.ledger == nil {
		t.Fatal("expected the ledger to open after creating the missing nested directory")
	}

	if _, err := c.RequestReview("requester", "payload", nil, 1, time.Minute); err != nil {
		t.Fatalf("expected RequestReview to succeed even with a fresh nested ledger path, got %v", err)
	}
}
