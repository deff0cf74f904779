package learning

import (
	"sort"

	"github.com/agentmesh/orchestrator/internal/knowledge"
)

// AdaptiveSystem recommends behavioral adaptations for a context by
// querying the Knowledge Store for relevant user preferences and failure
// patterns (adaptive_system.py's AdaptiveBehaviorSystem, scoped to its
// PREFERENCE_BASED and FAILURE_AVOIDANCE adaptation classes).
type AdaptiveSystem struct {
	know *knowledge.Store
}

// NewAdaptiveSystem creates an AdaptiveSystem backed by know.
func NewAdaptiveSystem(know *knowledge.Store) *AdaptiveSystem {
	return &AdaptiveSystem{know: know}
}

// GetAdaptations returns adaptations relevant to contextText, ranked by
// confidence descending (adaptive_system.py's get_adaptations +
// _rank_adaptations).
func (a *AdaptiveSystem) GetAdaptations(contextText string, limit int) []Adaptation {
	if limit <= 0 {
		limit = 10
	}

	var out []Adaptation
	for _, entry := range a.know.FindUserPreferences(contextText, limit) {
		out = append(out, Adaptation{
			Type:        PreferenceBased,
			Name:        "apply_preference:" + entry.Key,
			Description: "match inferred from a stored user preference",
			Confidence:  entry.Similarity,
			Impact:      impactFor(entry.Similarity),
			Source:      entry.Key,
		})
	}
	for _, entry := range a.know.CheckFailurePatterns(contextText, limit) {
		out = append(out, Adaptation{
			Type:        FailureAvoidance,
			Name:        "avoid_failure:" + entry.Key,
			Description: "context resembles a previously recorded failure pattern",
			Confidence:  entry.Similarity,
			Impact:      impactFor(entry.Similarity),
			Source:      entry.Key,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
