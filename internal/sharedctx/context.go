// Package sharedctx implements the workflow-scoped Shared Context (spec
// section 4.E): a K/V store with filtered pub/sub subscriptions and an
// execution history log.
//
// The subscription/backpressure machinery is adapted directly from the
// teacher's internal/events/bus.go Bus.Subscribe/Publish/
// sendWithBackpressure: a bounded per-subscriber channel, a few
// non-blocking retries, then a dropped-event counter instead of blocking
// the producer.
package sharedctx

import (
	"log"
	"sync"
	"time"
)

const (
	subscriberQueueCapacity = 100
	maxBackpressureRetries  = 3
	backpressureRetryDelay  = 10 * time.Millisecond
)

// Entry is one shared-context record (spec's Context Entry).
type Entry struct {
	WorkflowID string
	Key        string
	Value      any
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Filter is a conjunction of metadata key/value equalities, plus an
// optional context_type constraint, as spec section 4.E prescribes.
type Filter struct {
	ContextType string
	Metadata    map[string]any
}

func (f Filter) matches(e Entry) bool {
	if f.ContextType != "" {
		ct, _ := e.Metadata["context_type"].(string)
		if ct != f.ContextType {
			return false
		}
	}
	for k, want := range f.Metadata {
		got, ok := e.Metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

type subscription struct {
	id       string
	filter   Filter
	queue    chan Entry
	sync     bool
	handler  func(Entry)
}

// Context is one workflow's Shared Context.
type Context struct {
	workflowID string

	mu      sync.RWMutex
	entries map[string]*Entry
	subs    map[string]*subscription
	history []string // ordered execution step log
	sealed  bool

	dropped uint64
}

// New creates a Shared Context scoped to workflowID.
func New(workflowID string) *Context {
	return &Context{
		workflowID: workflowID,
		entries:    make(map[string]*Entry),
		subs:       make(map[string]*subscription),
	}
}

// Store writes key idempotently and dispatches to matching subscribers.
// Returns an error if the workflow has already ended (spec's Workflow
// invariant: "once ended, no new entries accepted").
func (c *Context) Store(key string, value any, metadata map[string]any) error {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		return ErrSealed
	}

	entry := Entry{WorkflowID: c.workflowID, Key: key, Value: value, Metadata: metadata, CreatedAt: time.Now()}
	c.entries[key] = &entry

	// Snapshot matching subscriptions under the lock so dispatch order
	// matches store-call program order per subscriber (spec invariant 4).
	var matched []*subscription
	for _, sub := range c.subs {
		if sub.filter.matches(entry) {
			matched = append(matched, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range matched {
		if sub.sync {
			sub.handler(entry)
			continue
		}
		c.sendWithBackpressure(sub, entry)
	}
	return nil
}

// ErrSealed is returned by Store once the workflow has ended.
var ErrSealed = &sealedError{}

type sealedError struct{}

func (*sealedError) Error() string { return "shared context: workflow has ended" }

// Retrieve reads key.
func (c *Context) Retrieve(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Search returns every entry matching filter.
func (c *Context) Search(filter Filter) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry
	for _, e := range c.entries {
		if filter.matches(*e) {
			out = append(out, *e)
		}
	}
	return out
}

// Subscribe registers handler to be invoked for every subsequent Store
// whose metadata satisfies filter. If sync is true, handler runs inline
// before Store returns; otherwise it runs asynchronously off a bounded
// queue (the default).
func (c *Context) Subscribe(id string, filter Filter, handler func(Entry), sync bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &subscription{id: id, filter: filter, handler: handler, sync: sync}
	if !sync {
		sub.queue = make(chan Entry, subscriberQueueCapacity)
		go c.drain(sub)
	}
	c.subs[id] = sub
}

// drain runs the async delivery loop for one subscriber.
func (c *Context) drain(sub *subscription) {
	for e := range sub.queue {
		sub.handler(e)
	}
}

// sendWithBackpressure offers entry to an async subscriber's queue,
// retrying briefly before dropping and counting (spec section 4.E:
// "dropped events are counted but do not block the producer").
func (c *Context) sendWithBackpressure(sub *subscription, e Entry) {
	select {
	case sub.queue <- e:
		return
	default:
	}

	for retry := 1; retry <= maxBackpressureRetries; retry++ {
		time.Sleep(backpressureRetryDelay)
		select {
		case sub.queue <- e:
			return
		default:
		}
	}

	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
	log.Printf("[SHAREDCTX] dropped entry after retries: workflow=%s key=%s subscriber=%s", c.workflowID, e.Key, sub.id)
}

// Unsubscribe removes a subscription; unknown ids are a no-op success.
func (c *Context) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[id]
	if !ok {
		return
	}
	if sub.queue != nil {
		close(sub.queue)
	}
	delete(c.subs, id)
}

// DroppedCount returns the number of async deliveries dropped due to a
// full subscriber queue.
func (c *Context) DroppedCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// AddExecutionStep appends to the ordered workflow audit log.
func (c *Context) AddExecutionStep(step string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, step)
}

// GetExecutionHistory returns the ordered audit log.
func (c *Context) GetExecutionHistory() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.history))
	copy(out, c.history)
	return out
}

// Seal prevents further Store calls; reads remain allowed (spec's Workflow
// invariant).
func (c *Context) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
}
