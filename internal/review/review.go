// Package review implements the Peer Review Coordinator (spec section
// 4.G): capability-scored reviewer selection, quorum collection,
// consensus scoring, and deadline enforcement.
//
// Adapted from the teacher's internal/memory/review_board.go
// (ReviewBoard/ReviewerVote/ConsensusResult, CalculateConsensus),
// simplified from its per-defect tracking down to a per-reviewer
// {score, approved, suggestions} submission and driven by
// internal/bus.Bus for reviewer discovery and REVIEW_REQUEST dispatch
// instead of a SQL-backed assignment table.
package review

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/agentmesh/orchestrator/internal/apperr"
	"github.com/agentmesh/orchestrator/internal/bus"
	"github.com/agentmesh/orchestrator/internal/clock"
	"github.com/agentmesh/orchestrator/internal/ids"
)

// State is a Review's terminal state machine (spec section 3).
type State string

const (
	Pending       State = "PENDING"
	Approved      State = "APPROVED"
	Rejected      State = "REJECTED"
	NeedsRevision State = "NEEDS_REVISION"
	TimedOut      State = "TIMED_OUT"
)

// consensusSpread is the maximum allowed gap between the highest and
// lowest submitted score for consensus_reached (spec section 4.G).
const consensusSpread = 0.3

const (
	approvalThreshold  = 0.7
	rejectionThreshold = 0.3
)

const floorScore = 0.01
const generalCapabilityBonus = 0.05
const specializedCapabilityBonus = 0.02

var specializedCapabilities = map[string]bool{
	"security":    true,
	"quality":     true,
	"performance": true,
	"review":      true,
}

// Submission is one reviewer's vote on a Review.
type Submission struct {
	ReviewerID  string
	Score       float64
	Approved    bool
	Suggestions []string
	SubmittedAt time.Time
}

// Review is the spec's Review entity (section 3).
type Review struct {
	ID                string
	RequesterID       string
	Content           any
	Criteria          []string
	RequiredReviewers int
	ReceivedReviews   []Submission
	Deadline          time.Time
	TerminalState     State

	OverallScore     float64
	ConsensusReached bool
	ApprovalRate     float64

	// CommonThemes is a supplemented field (not in the distilled spec): a
	// top-3 list of keywords shared across multiple reviewers'
	// suggestions, a lightweight echo of the teacher's defect
	// categorization.
	CommonThemes []string
}

type entry struct {
	mu     sync.Mutex
	review Review
	done   chan struct{}
	closed bool
}

const sweepInterval = 500 * time.Millisecond

// Coordinator orchestrates quorum reviews on behalf of requesters,
// selecting reviewers from whoever is currently registered on bus.
type Coordinator struct {
	bus            *bus.Bus
	clock          clock.Clock
	ledger         *ledger
	defaultDeadline time.Duration

	mu      sync.RWMutex
	reviews map[string]*entry

	sweeperCancel context.CancelFunc
}

// Option configures New.
type Option func(*Coordinator)

// WithClock overrides the default system clock (for deterministic tests).
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithDefaultDeadline overrides the deadline RequestReview applies when
// called with a zero timeout (spec section 6's
// review_default_deadline_minutes config field).
func WithDefaultDeadline(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.defaultDeadline = d
		}
	}
}

// WithPersistence durably logs every request/submission/finalization to a
// SQLite-backed ledger at path, so a review's history survives a process
// restart. Without this option the Coordinator is purely in-memory.
func WithPersistence(path string) Option {
	return func(co *Coordinator) {
		l, err := openLedger(path)
		if err != nil {
			log.Printf("[REVIEW] degraded: failed to open ledger at %s: %v", path, err)
			return
		}
		co.ledger = l
	}
}

// New creates a Coordinator bound to b and starts its deadline sweeper.
func New(b *bus.Bus, opts ...Option) *Coordinator {
	co := &Coordinator{
		bus:             b,
		clock:           clock.New(),
		defaultDeadline: 10 * time.Minute,
		reviews:         make(map[string]*entry),
	}
	for _, fn := range opts {
		fn(co)
	}

	ctx, cancel := context.WithCancel(context.Background())
	co.sweeperCancel = cancel
	go co.sweepLoop(ctx)
	return co
}

// Close stops the background deadline sweeper and, if persistence is
// enabled, the ledger's database handle.
func (c *Coordinator) Close() {
	c.sweeperCancel()
	if c.ledger != nil {
		if err := c.ledger.Close(); err != nil {
			log.Printf("[REVIEW] failed to close ledger: %v", err)
		}
	}
}

// RequestReview selects N reviewers by capability match against criteria,
// creates a pending Review, and dispatches a REVIEW_REQUEST to each
// selected reviewer over the bus.
func (c *Coordinator) RequestReview(requesterID string, content any, criteria []string, requiredReviewers int, timeout time.Duration) (*Review, error) {
	if requiredReviewers <= 0 {
		return nil, apperr.New(apperr.Validation, "required_reviewers must be >= 1")
	}
	if timeout <= 0 {
		timeout = c.defaultDeadline
	}

	reviewers := c.selectReviewers(requesterID, criteria, requiredReviewers)

	r := Review{
		ID:                ids.Prefixed("review"),
		RequesterID:       requesterID,
		Content:           content,
		Criteria:          append([]string(nil), criteria...),
		RequiredReviewers: requiredReviewers,
		Deadline:          c.clock.Now().Add(timeout),
		TerminalState:     Pending,
	}

	e := &entry{review: r, done: make(chan struct{})}
	c.mu.Lock()
	c.reviews[r.ID] = e
	c.mu.Unlock()

	if c.ledger != nil {
		c.ledger.record(r.ID, "requested", map[string]any{
			"requester_id":       requesterID,
			"criteria":           criteria,
			"required_reviewers": requiredReviewers,
			"reviewers":          reviewers,
			"deadline":           r.Deadline,
		})
	}

	for _, reviewerID := range reviewers {
		_, err := c.bus.Send(bus.Message{
			SenderID:    requesterID,
			RecipientID: reviewerID,
			Kind:        bus.ReviewRequest,
			Body: map[string]any{
				"review_id": r.ID,
				"content":   content,
				"criteria":  criteria,
			},
		})
		if err != nil {
			log.Printf("[REVIEW] failed to dispatch review request to %s for %s: %v", reviewerID, r.ID, err)
		}
	}

	return c.snapshot(e), nil
}

// selectReviewers enumerates registered agents (excluding requesterID),
// scores each against criteria, and returns the top-N IDs, ties broken
// by agent_id (spec section 4.G step 3).
func (c *Coordinator) selectReviewers(requesterID string, criteria []string, n int) []string {
	type scored struct {
		id    string
		score float64
	}

	var pool []scored
	for _, id := range c.bus.RegisteredAgentIDs() {
		if id == requesterID {
			continue
		}
		meta, _ := c.bus.AgentMetadata(id)
		pool = append(pool, scored{id: id, score: scoreCandidate(capabilitiesOf(meta), criteria)})
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].id < pool[j].id
	})

	if n > len(pool) {
		n = len(pool)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pool[i].id
	}
	return out
}

func capabilitiesOf(meta map[string]any) []string {
	raw, ok := meta["capabilities"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// scoreCandidate implements spec section 4.G step 2's concrete formula.
func scoreCandidate(capabilities, criteria []string) float64 {
	if len(capabilities) == 0 {
		return floorScore
	}

	capSet := make(map[string]bool, len(capabilities))
	for _, capability := range capabilities {
		capSet[capability] = true
	}

	var score float64
	if len(criteria) > 0 {
		overlap := 0
		for _, want := range criteria {
			if capSet[want] {
				overlap++
			}
		}
		score = float64(overlap) / float64(len(criteria))
	}

	if capSet["general"] {
		score += generalCapabilityBonus
	}
	for capability := range specializedCapabilities {
		if capSet[capability] {
			score += specializedCapabilityBonus
		}
	}
	return score
}

// SubmitReview records reviewerID's vote on reviewID. Idempotent by
// (review_id, reviewer_id): a repeat submission returns the review's
// current snapshot without appending again (spec section 8).
func (c *Coordinator) SubmitReview(reviewID, reviewerID string, score float64, approved bool, suggestions []string) (*Review, error) {
	c.mu.RLock()
	e, ok := c.reviews[reviewID]
	c.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown review: "+reviewID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.review.ReceivedReviews {
		if s.ReviewerID == reviewerID {
			snap := cloneReview(e.review)
			return &snap, nil
		}
	}

	if e.review.TerminalState != Pending || len(e.review.ReceivedReviews) >= e.review.RequiredReviewers {
		snap := cloneReview(e.review)
		return &snap, nil
	}

	e.review.ReceivedReviews = append(e.review.ReceivedReviews, Submission{
		ReviewerID:  reviewerID,
		Score:       score,
		Approved:    approved,
		Suggestions: suggestions,
		SubmittedAt: c.clock.Now(),
	})

	if c.ledger != nil {
		c.ledger.record(reviewID, "submitted", map[string]any{
			"reviewer_id": reviewerID,
			"score":       score,
			"approved":    approved,
			"suggestions": suggestions,
		})
	}

	if len(e.review.ReceivedReviews) == e.review.RequiredReviewers {
		c.finalizeLocked(e, terminalStateFor)
	}

	snap := cloneReview(e.review)
	return &snap, nil
}

// Status returns a snapshot of reviewID's current state.
func (c *Coordinator) Status(reviewID string) (*Review, error) {
	c.mu.RLock()
	e, ok := c.reviews[reviewID]
	c.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown review: "+reviewID)
	}
	return c.snapshot(e), nil
}

// Await blocks until reviewID reaches a terminal state or ctx is
// cancelled, resolving the spec's "blocked waiter" on timeout or quorum.
func (c *Coordinator) Await(ctx context.Context, reviewID string) (*Review, error) {
	c.mu.RLock()
	e, ok := c.reviews[reviewID]
	c.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown review: "+reviewID)
	}

	select {
	case <-e.done:
		return c.snapshot(e), nil
	case <-ctx.Done():
		return nil, apperr.New(apperr.Timeout, "wait cancelled")
	}
}

func (c *Coordinator) snapshot(e *entry) *Review {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := cloneReview(e.review)
	return &snap
}

func cloneReview(r Review) Review {
	out := r
	out.Criteria = append([]string(nil), r.Criteria...)
	out.ReceivedReviews = append([]Submission(nil), r.ReceivedReviews...)
	out.CommonThemes = append([]string(nil), r.CommonThemes...)
	return out
}

// terminalStateFor implements spec section 4.G's consensus decision rule.
func terminalStateFor(approvalRate float64) State {
	switch {
	case approvalRate >= approvalThreshold:
		return Approved
	case approvalRate <= rejectionThreshold:
		return Rejected
	default:
		return NeedsRevision
	}
}

// finalizeLocked computes consensus math over e.review's current
// submissions, assigns the terminal state via stateFor, and closes the
// waiter channel exactly once. Callers must hold e.mu.
func (c *Coordinator) finalizeLocked(e *entry, stateFor func(approvalRate float64) State) {
	overall, consensus, approvalRate := consensusMath(e.review.ReceivedReviews)
	e.review.OverallScore = overall
	e.review.ConsensusReached = consensus
	e.review.ApprovalRate = approvalRate
	e.review.CommonThemes = commonThemes(e.review.ReceivedReviews)
	e.review.TerminalState = stateFor(approvalRate)
	c.closeLocked(e)

	if c.ledger != nil {
		c.ledger.record(e.review.ID, "finalized", map[string]any{
			"terminal_state":    e.review.TerminalState,
			"overall_score":     e.review.OverallScore,
			"consensus_reached": e.review.ConsensusReached,
			"approval_rate":     e.review.ApprovalRate,
		})
	}
}

func (c *Coordinator) closeLocked(e *entry) {
	if !e.closed {
		close(e.done)
		e.closed = true
	}
}

// consensusMath implements spec section 4.G's concrete formulas.
func consensusMath(subs []Submission) (overall float64, consensus bool, approvalRate float64) {
	if len(subs) == 0 {
		return 0, false, 0
	}

	min, max, sum := subs[0].Score, subs[0].Score, 0.0
	approved := 0
	for _, s := range subs {
		sum += s.Score
		if s.Score < min {
			min = s.Score
		}
		if s.Score > max {
			max = s.Score
		}
		if s.Approved {
			approved++
		}
	}

	overall = sum / float64(len(subs))
	consensus = (max - min) <= consensusSpread
	approvalRate = float64(approved) / float64(len(subs))
	return
}

// sweepLoop periodically transitions reviews whose deadline has passed
// with fewer than N submissions to TIMED_OUT (spec section 4.G).
func (c *Coordinator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

func (c *Coordinator) sweepOnce() {
	now := c.clock.Now()

	c.mu.RLock()
	due := make([]*entry, 0, len(c.reviews))
	for _, e := range c.reviews {
		due = append(due, e)
	}
	c.mu.RUnlock()

	for _, e := range due {
		e.mu.Lock()
		if e.review.TerminalState == Pending && now.After(e.review.Deadline) {
			c.finalizeLocked(e, func(float64) State { return TimedOut })
		}
		e.mu.Unlock()
	}
}

// commonThemes is the supplemented "common suggestion themes" feature
// (SPEC_FULL.md 4.G): a stdlib-only keyword-overlap clustering across
// reviewers' free-text suggestions, in place of the teacher's SQL-backed
// defect-category taxonomy.
func commonThemes(subs []Submission) []string {
	freq := map[string]int{}
	for _, s := range subs {
		seen := map[string]bool{}
		for _, suggestion := range s.Suggestions {
			for _, word := range tokenizeWords(suggestion) {
				if len(word) < 4 || stopwords[word] || seen[word] {
					continue
				}
				seen[word] = true
				freq[word]++
			}
		}
	}

	type kv struct {
		word  string
		count int
	}
	var kvs []kv
	for w, n := range freq {
		if n < 2 {
			continue // "common" means raised by more than one reviewer
		}
		kvs = append(kvs, kv{w, n})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].word < kvs[j].word
	})

	const maxThemes = 3
	n := maxThemes
	if len(kvs) < n {
		n = len(kvs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = kvs[i].word
	}
	return out
}

func tokenizeWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "should": true,
	"could": true, "would": true, "have": true, "from": true,
	"there": true, "their": true, "more": true, "some": true,
}
