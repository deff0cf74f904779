package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agentmesh/orchestrator/internal/apperr"
	"github.com/agentmesh/orchestrator/internal/clock"
	"github.com/agentmesh/orchestrator/internal/ids"
)

// Handler processes one delivered message. It is the agent's
// inbox_handler (spec's Agent Identity). A handler that wants to answer a
// REQUEST replies by calling Bus.Send with Kind=Response and
// OriginalMessageID set to the request's ID; the bus itself never
// synthesizes a positive response, only a negative one on handler failure.
type Handler func(Message) error

const (
	defaultInboxCapacity = 1000
	sweepInterval         = 200 * time.Millisecond
)

// Stats mirrors the counters spec section 4.F requires to be exposed.
type Stats struct {
	MessagesSent        uint64
	MessagesDelivered    uint64
	MessagesFailed       uint64
	ResponsesReceived    uint64
	Timeouts             uint64
	Broadcasts           uint64
	RegisteredAgents     int
	PendingResponses     int
	ActiveConversations  int
}

type registration struct {
	agentID string
	handler Handler
	meta    map[string]any
	inbox   *inbox
}

type correlator struct {
	future   *Future
	deadline time.Time
}

type conversation struct {
	id           string
	messageIDs   []string
	participants map[string]bool
}

// Bus is the central message router (spec section 4.F).
type Bus struct {
	clock clock.Clock

	defaultInboxCapacity   int
	defaultResponseTimeout time.Duration

	mu            sync.RWMutex
	agents        map[string]*registration
	correlators   map[string]*correlator
	conversations map[string]*conversation
	stats         Stats

	sweeperCancel context.CancelFunc
}

// Option configures New.
type Option func(*Bus)

// WithClock overrides the default system clock (for deterministic tests).
func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// WithDefaultInboxCapacity overrides the inbox capacity newly registered
// agents get unless Register is called with its own WithInboxCapacity
// (spec section 6's max_queue_size config field).
func WithDefaultInboxCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.defaultInboxCapacity = n
		}
	}
}

// WithDefaultResponseTimeout overrides the deadline allocateCorrelator
// applies to a REQUEST whose ResponseTimeout is unset (spec section 6's
// default_timeout_seconds config field).
func WithDefaultResponseTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.defaultResponseTimeout = d
		}
	}
}

// New creates a Bus and starts its background timeout sweeper.
func New(opts ...Option) *Bus {
	b := &Bus{
		clock:                  clock.New(),
		defaultInboxCapacity:   defaultInboxCapacity,
		defaultResponseTimeout: 30 * time.Second,
		agents:                 make(map[string]*registration),
		correlators:            make(map[string]*correlator),
		conversations:          make(map[string]*conversation),
	}
	for _, fn := range opts {
		fn(b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.sweeperCancel = cancel
	go b.sweepLoop(ctx)
	return b
}

// Close stops the background timeout sweeper. Registered agent dispatch
// loops are stopped individually via Unregister.
func (b *Bus) Close() {
	b.sweeperCancel()
}

// RegisterOption configures Register.
type RegisterOption func(*registration)

// WithInboxCapacity overrides the bus's default inbox capacity (1000
// unless changed with WithDefaultInboxCapacity).
func WithInboxCapacity(n int) RegisterOption {
	return func(r *registration) { r.inbox.capacity = n }
}

// WithOverflowPolicy overrides the default drop-oldest overflow policy.
func WithOverflowPolicy(p OverflowPolicy) RegisterOption {
	return func(r *registration) { r.inbox.policy = p }
}

// Register binds handler to agentID. The handler is registered before any
// message targets the agent, per spec's Agent Identity invariant.
func (b *Bus) Register(agentID string, handler Handler, metadata map[string]any, opts ...RegisterOption) {
	reg := &registration{
		agentID: agentID,
		handler: handler,
		meta:    metadata,
		inbox:   newInbox(b.defaultInboxCapacity, OverflowDropOldest),
	}
	for _, fn := range opts {
		fn(reg)
	}

	b.mu.Lock()
	b.agents[agentID] = reg
	b.stats.RegisteredAgents = len(b.agents)
	b.mu.Unlock()

	go b.dispatchLoop(reg)
}

// Unregister removes agentID and purges its pending inbound messages.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	reg, ok := b.agents[agentID]
	if ok {
		delete(b.agents, agentID)
		b.stats.RegisteredAgents = len(b.agents)
	}
	b.mu.Unlock()

	if ok {
		reg.inbox.close()
	}
}

// dispatchLoop is the single logical dispatcher for one recipient: it
// pulls messages in (priority ASC, enqueue time ASC) order and invokes the
// handler. Distinct recipients' loops run concurrently; within one
// recipient, delivery order equals enqueue order (spec invariant 3).
func (b *Bus) dispatchLoop(reg *registration) {
	for {
		msg, ok := reg.inbox.popBlocking()
		if !ok {
			return
		}
		b.deliver(reg, msg)
	}
}

func (b *Bus) deliver(reg *registration, msg Message) {
	err := b.invokeHandler(reg.handler, msg)

	b.mu.Lock()
	b.stats.MessagesDelivered++
	b.mu.Unlock()

	if err != nil {
		log.Printf("[BUS] handler error: agent=%s message=%s kind=%s error=%v", reg.agentID, msg.ID, msg.Kind, err)
		if msg.RequiresResponse {
			b.sendNegativeResponse(msg, err)
		}
	}
}

func (b *Bus) invokeHandler(h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(msg)
}

func (b *Bus) sendNegativeResponse(original Message, cause error) {
	_, sendErr := b.Send(Message{
		SenderID:          original.RecipientID,
		RecipientID:       original.SenderID,
		Kind:              Response,
		Body:              map[string]any{"error": cause.Error(), "kind": string(apperr.KindOf(cause))},
		OriginalMessageID: original.ID,
		ConversationID:    original.ConversationID,
	})
	if sendErr != nil {
		log.Printf("[BUS] failed to send negative response for %s: %v", original.ID, sendErr)
	}
}

// Send routes msg. If msg.RequiresResponse, it returns a Future that
// resolves with the eventual RESPONSE body, a Timeout, a Capacity error,
// or a NotFound error when the recipient is not registered.
func (b *Bus) Send(msg Message) (*Future, error) {
	if msg.ID == "" {
		msg.ID = ids.Prefixed("msg")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = b.clock.Now()
	}
	if msg.Priority == 0 {
		msg.Priority = 5
	}

	b.mu.Lock()
	b.stats.MessagesSent++
	b.mu.Unlock()

	b.trackConversation(msg)

	// RESPONSE messages are intercepted for correlator completion before
	// ever reaching a recipient inbox (spec section 4.F).
	if msg.Kind == Response && msg.OriginalMessageID != "" {
		if b.completeCorrelator(msg.OriginalMessageID, msg.Body, nil) {
			return nil, nil
		}
		// No matching correlator: deliver as a normal message.
	}

	if msg.RecipientID == Broadcast {
		return b.sendBroadcast(msg)
	}

	return b.sendUnicast(msg)
}

func (b *Bus) trackConversation(msg Message) {
	if msg.ConversationID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.conversations[msg.ConversationID]
	if !ok {
		conv = &conversation{id: msg.ConversationID, participants: make(map[string]bool)}
		b.conversations[msg.ConversationID] = conv
	}
	conv.messageIDs = append(conv.messageIDs, msg.ID)
	conv.participants[msg.SenderID] = true
	if msg.RecipientID != Broadcast {
		conv.participants[msg.RecipientID] = true
	}
	b.stats.ActiveConversations = len(b.conversations)
}

func (b *Bus) sendUnicast(msg Message) (*Future, error) {
	b.mu.RLock()
	reg, ok := b.agents[msg.RecipientID]
	b.mu.RUnlock()

	if !ok {
		b.mu.Lock()
		b.stats.MessagesFailed++
		b.mu.Unlock()
		if msg.RequiresResponse {
			return failedFuture(apperr.New(apperr.NotFound, "unknown recipient: "+msg.RecipientID)), nil
		}
		return nil, nil
	}

	var future *Future
	if msg.RequiresResponse {
		future = b.allocateCorrelator(msg)
	}

	enqueued := reg.inbox.push(msg)
	if !enqueued {
		b.mu.Lock()
		b.stats.MessagesFailed++
		b.mu.Unlock()
		if msg.RequiresResponse {
			b.completeCorrelator(msg.ID, nil, apperr.New(apperr.Capacity, "recipient inbox full: "+msg.RecipientID))
		}
		return future, nil
	}

	return future, nil
}

func (b *Bus) sendBroadcast(msg Message) (*Future, error) {
	b.mu.Lock()
	b.stats.Broadcasts++
	var recipients []string
	for id := range b.agents {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}
	b.mu.Unlock()

	for _, id := range recipients {
		copyMsg := msg
		copyMsg.ID = ids.Prefixed("msg")
		copyMsg.RecipientID = id
		if _, err := b.sendUnicast(copyMsg); err != nil {
			log.Printf("[BUS] broadcast delivery failed for %s: %v", id, err)
		}
	}
	return nil, nil
}

// allocateCorrelator registers a pending response correlator for msg,
// keyed by msg.ID, with a deadline of now + msg.ResponseTimeout.
func (b *Bus) allocateCorrelator(msg Message) *Future {
	timeout := msg.ResponseTimeout
	if timeout <= 0 {
		timeout = b.defaultResponseTimeout
	}

	future := newFuture()
	b.mu.Lock()
	b.correlators[msg.ID] = &correlator{future: future, deadline: b.clock.Now().Add(timeout)}
	b.stats.PendingResponses = len(b.correlators)
	b.mu.Unlock()
	return future
}

// completeCorrelator resolves the correlator for messageID, if any exists,
// with either a successful body or an error. Returns whether a correlator
// was found.
func (b *Bus) completeCorrelator(messageID string, body any, err error) bool {
	b.mu.Lock()
	c, ok := b.correlators[messageID]
	if ok {
		delete(b.correlators, messageID)
		b.stats.PendingResponses = len(b.correlators)
		if err == nil {
			b.stats.ResponsesReceived++
		}
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	c.future.complete(body, err)
	return true
}

// sweepLoop periodically scans correlators for expired deadlines (spec
// section 4.F: "periodically (<=1s) scan correlators").
func (b *Bus) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweepOnce()
		}
	}
}

func (b *Bus) sweepOnce() {
	now := b.clock.Now()

	b.mu.Lock()
	var expiredFutures []*Future
	for id, c := range b.correlators {
		if now.After(c.deadline) {
			expiredFutures = append(expiredFutures, c.future)
			delete(b.correlators, id)
		}
	}
	b.stats.PendingResponses = len(b.correlators)
	b.stats.Timeouts += uint64(len(expiredFutures))
	b.mu.Unlock()

	for _, f := range expiredFutures {
		f.complete(nil, apperr.New(apperr.Timeout, "response timed out"))
	}
}

// Statistics returns a snapshot of the bus's counters.
func (b *Bus) Statistics() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// ConversationMessages returns the message IDs logged against conversationID.
func (b *Bus) ConversationMessages(conversationID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]string, len(conv.messageIDs))
	copy(out, conv.messageIDs)
	return out
}

// ConversationParticipants returns the agent IDs that have taken part in
// conversationID.
func (b *Bus) ConversationParticipants(conversationID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conv.participants))
	for id := range conv.participants {
		out = append(out, id)
	}
	return out
}

// AgentMetadata returns the registration metadata for agentID, if any agent
// is currently registered under that ID. Used by internal/review to score
// reviewer candidates by capability without coupling the bus to the review
// domain.
func (b *Bus) AgentMetadata(agentID string) (map[string]any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reg, ok := b.agents[agentID]
	if !ok {
		return nil, false
	}
	return reg.meta, true
}

// RegisteredAgentIDs returns a snapshot of every registered agent ID.
func (b *Bus) RegisteredAgentIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.agents))
	for id := range b.agents {
		out = append(out, id)
	}
	return out
}
