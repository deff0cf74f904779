// Package learning implements the Learning & Feedback component (spec
// section 4.L, EXPANDED): turning operator feedback into Knowledge Store
// writes, and recommending behavioral adaptations drawn back out of it.
// spec.md's Purpose line names "learning" as part of what the system
// does; it is not named in spec.md's Non-goals, so this package carries
// it forward rather than dropping it silently.
//
// Grounded in original_source/src/learning/feedback_processor.py
// (UserFeedbackProcessor's per-type feedback handling) and
// original_source/src/learning/adaptive_system.py (AdaptiveBehaviorSystem's
// preference/failure-avoidance recommendation). Scoped down from both:
// the Python originals also cover performance/context/resource-based
// adaptation classes and a workflow-template-generation path; those read
// as analytics/ML surfaces spec.md's Non-goals already exclude
// ("predictive failure detection", "dashboard aggregation"), so only the
// two adaptation classes that map directly onto the Knowledge Store's
// existing FindUserPreferences/CheckFailurePatterns wrappers are kept.
package learning

import "time"

// FeedbackType enumerates the feedback kinds a caller can submit,
// mirroring feedback_processor.py's FeedbackType enum.
type FeedbackType string

const (
	Correction FeedbackType = "correction"
	Preference FeedbackType = "preference"
	Guidance   FeedbackType = "guidance"
	Rating     FeedbackType = "rating"
	Suggestion FeedbackType = "suggestion"
	Warning    FeedbackType = "warning"
)

// Severity mirrors feedback_processor.py's FeedbackSeverity enum.
type Severity string

const (
	Low      Severity = "low"
	Medium   Severity = "medium"
	High     Severity = "high"
	Critical Severity = "critical"
)

// Feedback is one submitted feedback event (feedback_processor.py's
// process_feedback input dict, given a concrete Go shape).
type Feedback struct {
	Type            FeedbackType   `json:"type"`
	Severity        Severity       `json:"severity"`
	TaskDescription string         `json:"task_description"`
	Context         map[string]any `json:"context"`

	// Correction fields.
	OriginalAction string `json:"original_action"`
	CorrectAction  string `json:"correct_action"`
	Explanation    string `json:"explanation"`

	// Preference fields.
	PreferenceKey  string  `json:"preference_key"`
	PreferenceText string  `json:"preference_text"`
	Strength       float64 `json:"strength"`

	// Guidance fields.
	Instruction string   `json:"instruction"`
	Examples    []string `json:"examples"`

	// Rating fields.
	Score      float64  `json:"score"`
	MaxScore   float64  `json:"max_score"`
	WorkflowID string   `json:"workflow_id"`
	AgentIDs   []string `json:"agent_ids"`

	// Suggestion fields.
	SuggestionText string `json:"suggestion_text"`

	// Warning fields.
	Issue      string   `json:"issue"`
	Prevention []string `json:"prevention"`
}

// Result is what Process returns (feedback_processor.py's per-handler
// result dict, unified across feedback types).
type Result struct {
	Success          bool         `json:"success"`
	Type             FeedbackType `json:"type"`
	KnowledgeUpdated bool         `json:"knowledge_updated"`
	NormalizedScore  float64      `json:"normalized_score,omitempty"`
	Notes            string       `json:"notes,omitempty"`
}

// Stats mirrors feedback_processor.py's feedback_stats counters.
type Stats struct {
	TotalProcessed int                  `json:"total_processed"`
	ByType         map[FeedbackType]int `json:"by_type"`
}

// record is one entry of the in-memory feedback history
// (feedback_processor.py's feedback_history list).
type record struct {
	feedback  Feedback
	result    Result
	createdAt time.Time
}

// AdaptationType mirrors the subset of adaptive_system.py's
// AdaptationType enum this package implements.
type AdaptationType string

const (
	PreferenceBased   AdaptationType = "preference_based"
	FailureAvoidance  AdaptationType = "failure_avoidance"
)

// Adaptation is a recommended behavioral change (adaptive_system.py's
// Adaptation dataclass).
type Adaptation struct {
	Type        AdaptationType `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Impact      string         `json:"impact"` // "low", "medium", or "high"
	Source      string         `json:"source"`
}

// impactFor buckets a confidence/strength score into the three-tier
// impact label adaptive_system.py's _determine_impact used.
func impactFor(strength float64) string {
	switch {
	case strength >= 0.8:
		return "high"
	case strength >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
