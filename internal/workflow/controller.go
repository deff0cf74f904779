// Package workflow implements the Workflow Controller (spec section
// 4.J): creates a workflow and its Shared Context, tracks participants,
// emits lifecycle events to the Metrics Core, and seals the context on
// termination.
//
// Grounded in the teacher's internal/captain/supervisor.go's
// orchestration-of-agents shape (a controller owning the lifetime of a
// group of cooperating agents) and internal/server/hub.go's
// session-lifecycle bookkeeping (create/track/terminate with an event
// emitted at each transition).
package workflow

import (
	"sync"
	"time"

	"github.com/agentmesh/orchestrator/internal/apperr"
	"github.com/agentmesh/orchestrator/internal/clock"
	"github.com/agentmesh/orchestrator/internal/ids"
	"github.com/agentmesh/orchestrator/internal/metricscore"
	"github.com/agentmesh/orchestrator/internal/sharedctx"
)

// State is a Workflow's lifecycle state.
type State string

const (
	Active State = "ACTIVE"
	Ended  State = "ENDED"
)

// Workflow is the spec's Workflow entity (section 3).
type Workflow struct {
	ID           string
	Participants []string
	CreatedAt    time.Time
	EndedAt      *time.Time
	State        State
}

// Metric point kinds the Controller records lifecycle events under,
// exported so the Transport Adapter can subscribe a workflow/{id}
// stream to exactly these two kinds.
const (
	KindCreated = "workflow_created"
	KindEnded   = "workflow_ended"
)

type workflowEntry struct {
	mu       sync.Mutex
	workflow Workflow
	shared   *sharedctx.Context
}

// Controller owns every workflow's lifetime (spec section 4.J).
type Controller struct {
	clock   clock.Clock
	metrics *metricscore.Core

	mu        sync.RWMutex
	workflows map[string]*workflowEntry
}

// Option configures New.
type Option func(*Controller)

// WithClock overrides the default system clock (for deterministic tests).
func WithClock(c clock.Clock) Option {
	return func(co *Controller) { co.clock = c }
}

// New creates a Controller that reports lifecycle events to metrics.
func New(metrics *metricscore.Core, opts ...Option) *Controller {
	c := &Controller{
		clock:     clock.New(),
		metrics:   metrics,
		workflows: make(map[string]*workflowEntry),
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// CreateWorkflow instantiates a new Shared Context for participants and
// returns the Workflow record alongside the context, so the caller can
// hand the context to each participant's Agent Host.
func (c *Controller) CreateWorkflow(participants []string) (*Workflow, *sharedctx.Context) {
	id := ids.Prefixed("wf")
	shared := sharedctx.New(id)

	wf := Workflow{
		ID:           id,
		Participants: append([]string(nil), participants...),
		CreatedAt:    c.clock.Now(),
		State:        Active,
	}

	e := &workflowEntry{workflow: wf, shared: shared}
	c.mu.Lock()
	c.workflows[id] = e
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Record(metricscore.Point{
			Kind:      KindCreated,
			Value:     1,
			Tags:      map[string]string{"workflow_id": id},
			Timestamp: wf.CreatedAt,
		})
	}

	return c.snapshot(e), shared
}

// EndWorkflow seals the workflow's Shared Context (rejecting new
// entries while reads remain allowed) and marks it ended.
func (c *Controller) EndWorkflow(workflowID string) (*Workflow, error) {
	e, err := c.entry(workflowID)
	if err != nil {
		return nil, err
	}

	e.shared.Seal()

	e.mu.Lock()
	now := c.clock.Now()
	e.workflow.EndedAt = &now
	e.workflow.State = Ended
	e.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Record(metricscore.Point{
			Kind:      KindEnded,
			Value:     1,
			Tags:      map[string]string{"workflow_id": workflowID},
			Timestamp: now,
		})
	}

	return c.snapshot(e), nil
}

// Status returns a snapshot of workflowID's current state.
func (c *Controller) Status(workflowID string) (*Workflow, error) {
	e, err := c.entry(workflowID)
	if err != nil {
		return nil, err
	}
	return c.snapshot(e), nil
}

// SharedContext returns the Shared Context bound to workflowID, for
// participants to store/retrieve/subscribe against.
func (c *Controller) SharedContext(workflowID string) (*sharedctx.Context, error) {
	e, err := c.entry(workflowID)
	if err != nil {
		return nil, err
	}
	return e.shared, nil
}

func (c *Controller) entry(workflowID string) (*workflowEntry, error) {
	c.mu.RLock()
	e, ok := c.workflows[workflowID]
	c.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown workflow: "+workflowID)
	}
	return e, nil
}

func (c *Controller) snapshot(e *workflowEntry) *Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf := e.workflow
	wf.Participants = append([]string(nil), e.workflow.Participants...)
	return &wf
}
