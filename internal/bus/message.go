// Package bus implements the Agent Message Bus (spec section 4.F): routed
// delivery, request/response correlation with timeouts, broadcast fan-out,
// and conversation threading.
//
// Adapted from the teacher's internal/events/bus.go (subscriber registry,
// backpressure send, dropped-event counter) fused with
// internal/nats/messages.go's message-kind vocabulary and
// internal/nats/client.go's request/reply-with-timeout pattern.
package bus

import "time"

// Kind enumerates the message kinds from spec section 3.
type Kind string

const (
	Request          Kind = "REQUEST"
	Response         Kind = "RESPONSE"
	Notification     Kind = "NOTIFICATION"
	Discovery        Kind = "DISCOVERY"
	ReviewRequest    Kind = "REVIEW_REQUEST"
	ReviewResponse   Kind = "REVIEW_RESPONSE"
	StatusUpdate     Kind = "STATUS_UPDATE"
	TaskAssignment   Kind = "TASK_ASSIGNMENT"
	TaskCompletion   Kind = "TASK_COMPLETION"
	ErrorKind        Kind = "ERROR"
	Update           Kind = "UPDATE"
)

// Broadcast is the recipient sentinel meaning "every registered agent
// except the sender" (spec section 9's Open Question, resolved in
// SPEC_FULL.md: exclude sender by default).
const Broadcast = "*"

// Message is the spec's Message data model entry.
type Message struct {
	ID                string
	SenderID          string
	RecipientID       string
	Kind              Kind
	Body              any
	CreatedAt         time.Time
	ConversationID    string
	Priority          int // 1=highest ... 10=lowest
	RequiresResponse  bool
	ResponseTimeout   time.Duration
	OriginalMessageID string // set on RESPONSE messages
}

// State is the per-message delivery state machine (spec section 4.F).
type State string

const (
	StateCreated   State = "CREATED"
	StateQueued    State = "QUEUED"
	StateDelivered State = "DELIVERED"
	StateDropped   State = "DROPPED"
)

// WaitState is the correlator's parallel state machine for messages that
// require a response.
type WaitState string

const (
	WaitStateWaiting    WaitState = "WAITING"
	WaitStateResponded  WaitState = "RESPONDED"
	WaitStateTimedOut   WaitState = "TIMED_OUT"
)
