package learning

import (
	"testing"

	"github.com/agentmesh/orchestrator/internal/knowledge"
)

func TestGetAdaptations_SurfacesStoredPreferencesAndFailures(t *testing.T) {
	know := knowledge.New()
	know.Store("pref-deploy-style", map[string]any{"preference": "blue/green deploys"}, map[string]any{"knowledge_type": knowledge.UserPreference})
	know.Store("fail-deploy-drain", map[string]any{"failure_reason": "dropped connections on restart"}, map[string]any{"knowledge_type": knowledge.FailurePattern})

	adaptive := NewAdaptiveSystem(know)
	adaptations := adaptive.GetAdaptations("deploy", 10)

	var sawPreference, sawFailure bool
	for _, a := range adaptations {
		switch a.Type {
		case PreferenceBased:
			sawPreference = true
		case FailureAvoidance:
			sawFailure = true
		}
		if a.Impact != "low" && a.Impact != "medium" && a.Impact != "high" {
			t.Errorf("unexpected impact label %q", a.Impact)
		}
	}
	if !sawPreference {
		t.Error("expected a preference_based adaptation")
	}
	if !sawFailure {
		t.Error("expected a failure_avoidance adaptation")
	}
}

func TestGetAdaptations_RanksByConfidenceDescending(t *testing.T) {
	know := knowledge.New()
	know.Store("pref-a", map[string]any{"preference": "use rolling restarts for the payments service"}, map[string]any{"knowledge_type": knowledge.UserPreference})
	know.Store("pref-b", map[string]any{"preference": "unrelated note about lunch"}, map[string]any{"knowledge_type": knowledge.UserPreference})

	adaptive := NewAdaptiveSystem(know)
	adaptations := adaptive.GetAdaptations("rolling restarts for the payments service", 10)

	for i := 1; i < len(adaptations); i++ {
		if adaptations[i].Confidence > adaptations[i-1].Confidence {
			t.Fatalf("expected adaptations sorted by descending confidence, got %v", adaptations)
		}
	}
}

func TestImpactFor_BucketsByStrength(t *testing.T) {
	cases := map[float64]string{0.95: "high", 0.6: "medium", 0.1: "low"}
	for strength, want := range cases {
		if got := impactFor(strength); got != want {
			t.Errorf("impactFor(%v) = %q, want %q", strength, got, want)
		}
	}
}
