package workflow

import (
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/internal/apperr"
	"github.com/agentmesh/orchestrator/internal/clock"
	"github.com/agentmesh/orchestrator/internal/metricscore"
	"github.com/agentmesh/orchestrator/internal/sharedctx"
)

func TestCreateWorkflow_ReturnsActiveWorkflowWithSharedContext(t *testing.T) {
	m := metricscore.New()
	c := New(m)

	wf, shared := c.CreateWorkflow([]string{"agent-a", "agent-b"})

	if wf.State != Active {
		t.Errorf("expected Active state, got %s", wf.State)
	}
	if len(wf.Participants) != 2 {
		t.Errorf("expected 2 participants, got %d", len(wf.Participants))
	}
	if wf.EndedAt != nil {
		t.Errorf("expected nil EndedAt, got %v", wf.EndedAt)
	}

	if err := shared.Store("k", "v", nil); err != nil {
		t.Errorf("expected Store to succeed on an active workflow, got %v", err)
	}

	got := m.Aggregate(KindCreated, metricscore.AggCount, time.Hour, map[string]string{"workflow_id": wf.ID})
	if got != 1 {
		t.Errorf("expected one workflow_created point, got %v", got)
	}
}

func TestEndWorkflow_SealsSharedContextAndRecordsEvent(t *testing.T) {
	m := metricscore.New()
	c := New(m)

	wf, shared := c.CreateWorkflow([]string{"agent-a"})

	ended, err := c.EndWorkflow(wf.ID)
	if err != nil {
		t.Fatalf("EndWorkflow failed: %v", err)
	}
	if ended.State != Ended {
		t.Errorf("expected Ended state, got %s", ended.State)
	}
	if ended.EndedAt == nil {
		t.Error("expected EndedAt to be set")
	}

	if err := shared.Store("k", "v", nil); err != sharedctx.ErrSealed {
		t.Errorf("expected ErrSealed after termination, got %v", err)
	}
	if _, ok := shared.Retrieve("k"); ok {
		t.Error("expected no entry written after seal")
	}

	got := m.Aggregate(KindEnded, metricscore.AggCount, time.Hour, map[string]string{"workflow_id": wf.ID})
	if got != 1 {
		t.Errorf("expected one workflow_ended point, got %v", got)
	}
}

func TestEndWorkflow_UnknownIDIsNotFound(t *testing.T) {
	c := New(metricscore.New())
	if _, err := c.EndWorkflow("missing"); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("expected a NotFound error for an unknown workflow id, got %v", err)
	}
}

func TestStatus_ReflectsLifecycleTransitions(t *testing.T) {
	fc := clock.NewFake(time.Now())
	c := New(metricscore.New(), WithClock(fc))

	wf, _ := c.CreateWorkflow([]string{"agent-a"})

	fc.Advance(time.Minute)
	_, err := c.EndWorkflow(wf.ID)
	if err != nil {
		t.Fatalf("EndWorkflow failed: %v", err)
	}

	status, err := c.Status(wf.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != Ended {
		t.Errorf("expected Ended state, got %s", status.State)
	}
	if !status.EndedAt.After(status.CreatedAt) {
		t.Errorf("expected EndedAt after CreatedAt, got created=%v ended=%v", status.CreatedAt, status.EndedAt)
	}
}

func TestSharedContext_ReturnsBoundContext(t *testing.T) {
	c := New(metricscore.New())
	wf, shared := c.CreateWorkflow([]string{"agent-a"})

	got, err := c.SharedContext(wf.ID)
	if err != nil {
		t.Fatalf("SharedContext failed: %v", err)
	}
	if got != shared {
		t.Error("expected the same Shared Context instance returned from CreateWorkflow")
	}
}

func TestSnapshot_IsIndependentOfInternalState(t *testing.T) {
	c := New(metricscore.New())
	wf, _ := c.CreateWorkflow([]string{"agent-a"})

	wf.Participants[0] = "mutated"

	status, err := c.Status(wf.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Participants[0] != "agent-a" {
		t.Errorf("expected internal state unaffected by caller mutation, got %v", status.Participants)
	}
}
