package knowledge

import "testing"

func TestInferType(t *testing.T) {
	cases := []struct {
		key   string
		value any
		meta  map[string]any
		want  Type
	}{
		{key: "login_failure", value: "x", want: FailurePattern},
		{key: "user_preference_theme", value: "x", want: UserPreference},
		{key: "api_auth", value: "REST API", want: LearnedPattern},
		{key: "k", value: "v", meta: map[string]any{"knowledge_type": DomainKnowledge}, want: DomainKnowledge},
		{key: "k", value: map[string]any{"error": "timeout"}, want: FailurePattern},
		{key: "k", value: map[string]any{"steps": []string{"a", "b"}}, want: WorkflowTemplate},
	}

	for _, c := range cases {
		got := InferType(c.key, c.value, c.meta)
		if got != c.want {
			t.Errorf("InferType(%q) = %s, want %s", c.key, got, c.want)
		}
	}
}

func TestStoreRetrieve(t *testing.T) {
	s := New()
	s.Store("api_auth", map[string]any{"description": "REST API with JWT"}, nil)

	entry, ok := s.Retrieve("api_auth")
	if !ok {
		t.Fatal("expected entry")
	}
	if entry.Type != LearnedPattern {
		t.Errorf("expected LEARNED_PATTERN, got %s", entry.Type)
	}
}

func TestSearch_SemanticAcrossTypes(t *testing.T) {
	s := New()
	s.Store("api_auth", map[string]any{"description": "REST API with JWT"}, nil)

	results := s.Search(SearchRequest{
		Text:          "authentication for REST service",
		Types:         []Type{LearnedPattern},
		Limit:         5,
		MinSimilarity: 0.1,
	})

	found := false
	for _, r := range results {
		if r.Key == "api_auth" {
			found = true
			if r.Similarity < 0.1 {
				t.Errorf("expected similarity >= 0.1, got %f", r.Similarity)
			}
		}
	}
	if !found {
		t.Error("expected api_auth in results")
	}
}

func TestExportClearImportRoundTrip(t *testing.T) {
	s := New()
	s.Store("api_auth", map[string]any{"description": "REST API with JWT"}, nil)
	s.Store("login_failure", "timed out waiting for token", nil)

	before := s.Search(SearchRequest{Limit: 10})
	if len(before) != 2 {
		t.Fatalf("expected 2 entries before export, got %d", len(before))
	}

	dump, err := s.Export(nil)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	s2 := New()
	if err := s2.Import(dump, true); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	after := s2.Search(SearchRequest{Limit: 10})
	if len(after) != len(before) {
		t.Fatalf("expected %d entries after import, got %d", len(before), len(after))
	}
}

func TestImport_SkipsExistingWhenNotOverwrite(t *testing.T) {
	s := New()
	s.Store("api_auth", "original", nil)

	dump, _ := New().Export(nil) // empty dump, but exercise the no-overwrite path below
	_ = dump

	s2 := New()
	s2.Store("api_auth", "already here", nil)
	exported, _ := s.Export(nil)
	if err := s2.Import(exported, false); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	entry, _ := s2.Retrieve("api_auth")
	if entry.Value != "already here" {
		t.Errorf("expected existing value preserved, got %v", entry.Value)
	}
}

func TestStatistics(t *testing.T) {
	s := New()
	s.Store("api_auth", "x", nil)
	s.Store("login_failure", "y", nil)

	stats := s.Statistics()
	if stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Total)
	}
	if stats.PerType[LearnedPattern].Count != 1 {
		t.Errorf("expected 1 learned pattern, got %d", stats.PerType[LearnedPattern].Count)
	}
	if stats.PerType[FailurePattern].Count != 1 {
		t.Errorf("expected 1 failure pattern, got %d", stats.PerType[FailurePattern].Count)
	}
}
