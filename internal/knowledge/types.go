// Package knowledge implements the Knowledge Store (spec section 4.C): a
// federation of vectorstore.Collection instances, one per KnowledgeType,
// addressable by type-inferred routing, fan-out search, and typed
// convenience wrappers.
package knowledge

import "time"

// Type enumerates the knowledge_type values from the spec's data model.
type Type string

const (
	LearnedPattern  Type = "LEARNED_PATTERN"
	UserPreference  Type = "USER_PREFERENCE"
	DomainKnowledge Type = "DOMAIN_KNOWLEDGE"
	FailurePattern  Type = "FAILURE_PATTERN"
	WorkflowTemplate Type = "WORKFLOW_TEMPLATE"
	AgentBehavior   Type = "AGENT_BEHAVIOR"
)

// AllTypes lists every knowledge_type, in a stable order used for
// deterministic fan-out and statistics reporting.
func AllTypes() []Type {
	return []Type{LearnedPattern, UserPreference, DomainKnowledge, FailurePattern, WorkflowTemplate, AgentBehavior}
}

// Entry is a single, typed knowledge record (spec's Knowledge Entry).
type Entry struct {
	Type      Type
	Key       string
	Value     any
	Metadata  map[string]any
	Embedding []float64
	CreatedAt time.Time
	Similarity float64 // populated by Search; zero for plain retrieve
}

// SearchRequest parameterizes Store.Search.
type SearchRequest struct {
	Text          string
	Types         []Type
	Limit         int
	MinSimilarity float64
}

// Stats summarizes one collection's contents.
type Stats struct {
	Count  int
	Oldest *time.Time
	Newest *time.Time
}

// Statistics is the aggregate + per-type statistics() result.
type Statistics struct {
	Total    int
	PerType  map[Type]Stats
}
