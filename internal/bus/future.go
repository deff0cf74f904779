package bus

import (
	"context"
	"sync"

	"github.com/agentmesh/orchestrator/internal/apperr"
)

// Future represents a pending response to a REQUEST with requires_response
// set. Exactly one of RESPONDED, TIMED_OUT, a delivery-time Capacity
// failure, or a NotFound failure for an unregistered recipient completes
// it (spec invariant 2).
type Future struct {
	mu   sync.Mutex
	done chan struct{}
	body any
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// failedFuture returns a Future already completed with err.
func failedFuture(err error) *Future {
	f := newFuture()
	f.complete(nil, err)
	return f
}

// complete resolves the future exactly once; later calls are no-ops.
func (f *Future) complete(body any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return // already completed
	default:
	}
	f.body = body
	f.err = err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is cancelled, whichever
// comes first.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.body, f.err
	case <-ctx.Done():
		return nil, apperr.New(apperr.Timeout, "wait cancelled")
	}
}
