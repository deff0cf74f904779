package learning

import (
	"fmt"
	"sync"

	"github.com/agentmesh/orchestrator/internal/apperr"
	"github.com/agentmesh/orchestrator/internal/clock"
	"github.com/agentmesh/orchestrator/internal/ids"
	"github.com/agentmesh/orchestrator/internal/knowledge"
)

const maxHistory = 500

// FeedbackProcessor turns submitted Feedback into Knowledge Store writes
// (feedback_processor.py's UserFeedbackProcessor).
type FeedbackProcessor struct {
	know  *knowledge.Store
	clock clock.Clock

	mu      sync.Mutex
	history []record
	stats   Stats
}

// New creates a FeedbackProcessor backed by know.
func New(know *knowledge.Store) *FeedbackProcessor {
	return &FeedbackProcessor{
		know:  know,
		clock: clock.New(),
		stats: Stats{ByType: make(map[FeedbackType]int)},
	}
}

// Process validates and routes fb to its type-specific handler, recording
// the outcome in bounded history and per-type counters
// (feedback_processor.py's process_feedback).
func (p *FeedbackProcessor) Process(fb Feedback) (Result, error) {
	if fb.Severity == "" {
		fb.Severity = Medium
	}

	var res Result
	switch fb.Type {
	case Correction:
		res = p.processCorrection(fb)
	case Preference:
		res = p.processPreference(fb)
	case Guidance:
		res = p.processGuidance(fb)
	case Rating:
		res = p.processRating(fb)
	case Suggestion:
		res = p.processSuggestion(fb)
	case Warning:
		res = p.processWarning(fb)
	default:
		return Result{}, apperr.New(apperr.Validation, "unknown feedback type: "+string(fb.Type))
	}

	p.mu.Lock()
	p.history = append(p.history, record{feedback: fb, result: res, createdAt: p.clock.Now()})
	if len(p.history) > maxHistory {
		p.history = p.history[len(p.history)-maxHistory:]
	}
	p.stats.TotalProcessed++
	p.stats.ByType[fb.Type]++
	p.mu.Unlock()

	return res, nil
}

// processCorrection stores the mistake as a failure pattern to avoid, and,
// for high/critical severity, reinforces it as a learned pattern too
// (feedback_processor.py's _process_correction).
func (p *FeedbackProcessor) processCorrection(fb Feedback) Result {
	key := ids.Prefixed("correction")
	p.know.Store(key, map[string]any{
		"task_description": fb.TaskDescription,
		"original_action":  fb.OriginalAction,
		"correct_action":   fb.CorrectAction,
		"explanation":      fb.Explanation,
		"context":          fb.Context,
	}, map[string]any{"knowledge_type": knowledge.FailurePattern})

	if fb.Severity == High || fb.Severity == Critical {
		p.know.Store(ids.Prefixed("pattern"), map[string]any{
			"type":       "correction",
			"correction": fb.CorrectAction,
			"confidence": 0.9,
		}, map[string]any{"knowledge_type": knowledge.LearnedPattern})
	}

	return Result{Success: true, Type: Correction, KnowledgeUpdated: true}
}

// processPreference stores the preference and notes how many similar
// prior preferences were found; those are counted, not compared or merged
// (feedback_processor.py's _process_preference).
func (p *FeedbackProcessor) processPreference(fb Feedback) Result {
	key := fb.PreferenceKey
	if key == "" {
		key = ids.Prefixed("preference")
	}

	similar := p.know.FindUserPreferences(fb.PreferenceText, 5)

	p.know.Store(key, map[string]any{
		"preference": fb.PreferenceText,
		"strength":   fb.Strength,
		"context":    fb.Context,
	}, map[string]any{"knowledge_type": knowledge.UserPreference})

	notes := ""
	if len(similar) > 0 {
		notes = fmt.Sprintf("found %d similar prior preference(s)", len(similar))
	}
	return Result{Success: true, Type: Preference, KnowledgeUpdated: true, Notes: notes}
}

// processGuidance stores the instruction as a learned pattern
// (feedback_processor.py's _process_guidance, scoped down: this package
// does not synthesize a workflow template from accumulated guidance the
// way the original does, since workflow template authoring belongs to an
// operator, not an inferred side effect of one feedback submission).
func (p *FeedbackProcessor) processGuidance(fb Feedback) Result {
	p.know.Store(ids.Prefixed("guidance"), map[string]any{
		"instruction": fb.Instruction,
		"examples":    fb.Examples,
		"context":     fb.Context,
	}, map[string]any{"knowledge_type": knowledge.LearnedPattern})

	return Result{Success: true, Type: Guidance, KnowledgeUpdated: true}
}

// processRating stores a low score as a failure pattern and a high score
// as a reinforced learned pattern (feedback_processor.py's
// _process_rating).
func (p *FeedbackProcessor) processRating(fb Feedback) Result {
	max := fb.MaxScore
	if max <= 0 {
		max = 5
	}
	normalized := fb.Score / max

	switch {
	case normalized < 0.4:
		p.know.Store(ids.Prefixed("rating"), map[string]any{
			"task_description": fb.TaskDescription,
			"failure_reason":    fmt.Sprintf("low rating: %.1f/%.1f", fb.Score, max),
			"workflow_id":       fb.WorkflowID,
			"agent_ids":         fb.AgentIDs,
		}, map[string]any{"knowledge_type": knowledge.FailurePattern})
	case normalized > 0.8:
		p.know.Store(ids.Prefixed("rating"), map[string]any{
			"type":       "successful_approach",
			"confidence": normalized,
			"workflow_id": fb.WorkflowID,
		}, map[string]any{"knowledge_type": knowledge.LearnedPattern})
	}

	return Result{Success: true, Type: Rating, KnowledgeUpdated: normalized < 0.4 || normalized > 0.8, NormalizedScore: normalized}
}

// processSuggestion stores the idea as pending domain knowledge for later
// operator review (feedback_processor.py's _process_suggestion).
func (p *FeedbackProcessor) processSuggestion(fb Feedback) Result {
	p.know.Store(ids.Prefixed("suggestion"), map[string]any{
		"suggestion": fb.SuggestionText,
		"status":     "pending_review",
	}, map[string]any{"knowledge_type": knowledge.DomainKnowledge})

	return Result{Success: true, Type: Suggestion, KnowledgeUpdated: true}
}

// processWarning stores the risk as a failure pattern to avoid
// (feedback_processor.py's _process_warning).
func (p *FeedbackProcessor) processWarning(fb Feedback) Result {
	p.know.Store(ids.Prefixed("warning"), map[string]any{
		"task_description": "warning: " + fb.Issue,
		"failure_reason":    fb.Issue,
		"prevention":        fb.Prevention,
	}, map[string]any{"knowledge_type": knowledge.FailurePattern})

	return Result{Success: true, Type: Warning, KnowledgeUpdated: true}
}

// Statistics returns the accumulated per-type counters.
func (p *FeedbackProcessor) Statistics() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := Stats{TotalProcessed: p.stats.TotalProcessed, ByType: make(map[FeedbackType]int, len(p.stats.ByType))}
	for k, v := range p.stats.ByType {
		out.ByType[k] = v
	}
	return out
}

// History returns up to limit of the most recent processed feedback
// events, newest last.
func (p *FeedbackProcessor) History(limit int) []Feedback {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := 0
	if limit > 0 && len(p.history) > limit {
		start = len(p.history) - limit
	}
	out := make([]Feedback, 0, len(p.history)-start)
	for _, r := range p.history[start:] {
		out = append(out, r.feedback)
	}
	return out
}
