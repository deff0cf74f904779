package vectorstore

import "testing"

func TestPutGet_LatestVersionWins(t *testing.T) {
	c := New("patterns", NewHashEmbedder(64))

	c.Put("api_auth", "REST API with JWT", nil)
	c.Put("api_auth", "REST API with OAuth2", nil)

	entry, ok := c.Get("api_auth")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if entry.Value != "REST API with OAuth2" {
		t.Errorf("expected latest version, got %v", entry.Value)
	}
	if entry.Version != 2 {
		t.Errorf("expected version 2, got %d", entry.Version)
	}
}

func TestPut_NeverOverwritesPriorVersions(t *testing.T) {
	c := New("patterns", NewHashEmbedder(64))
	c.Put("k", "v1", nil)
	c.Put("k", "v2", nil)

	c.mu.Lock()
	n := len(c.versions["k"])
	c.mu.Unlock()
	if n != 2 {
		t.Errorf("expected 2 retained versions, got %d", n)
	}
}

func TestQuery_SemanticSearch(t *testing.T) {
	c := New("patterns", NewHashEmbedder(256))
	c.Put("api_auth", "REST API with JWT authentication", nil)
	c.Put("unrelated", "a recipe for chocolate cake", nil)

	matches, err := c.Query(Query{Text: "authentication for REST service", Limit: 5, MinSimilarity: 0.1})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	found := false
	for _, m := range matches {
		if m.Entry.Key == "api_auth" {
			found = true
			if m.Similarity < 0.1 {
				t.Errorf("expected similarity >= 0.1, got %f", m.Similarity)
			}
		}
	}
	if !found {
		t.Error("expected api_auth to be in results")
	}
}

func TestQuery_FilterOnlyOrdersByRecency(t *testing.T) {
	c := New("patterns", NewHashEmbedder(32))
	c.Put("a", "x", map[string]any{"agent_id": "a1"})
	c.Put("b", "y", map[string]any{"agent_id": "a1"})
	c.Put("c", "z", map[string]any{"agent_id": "a2"})

	matches, err := c.Query(Query{Filter: map[string]any{"agent_id": "a1"}, Limit: 10})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Entry.Key != "b" {
		t.Errorf("expected most recent (b) first, got %s", matches[0].Entry.Key)
	}
}

func TestDelete(t *testing.T) {
	c := New("patterns", NewHashEmbedder(32))
	if c.Delete("missing") {
		t.Error("expected false for missing key")
	}
	c.Put("k", "v", nil)
	if !c.Delete("k") {
		t.Error("expected true for existing key")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("expected key to be gone after delete")
	}
}

func TestListKeysGlob(t *testing.T) {
	c := New("patterns", NewHashEmbedder(32))
	c.Put("user_pref_1", "v", nil)
	c.Put("user_pref_2", "v", nil)
	c.Put("other", "v", nil)

	keys := c.ListKeys("user_pref_*")
	if len(keys) != 2 {
		t.Errorf("expected 2 keys matching glob, got %d: %v", len(keys), keys)
	}
}

func TestSizeAndClear(t *testing.T) {
	c := New("patterns", NewHashEmbedder(32))
	c.Put("a", "v", nil)
	c.Put("b", "v", nil)
	if c.Size() != 2 {
		t.Errorf("expected size 2, got %d", c.Size())
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("expected size 0 after clear, got %d", c.Size())
	}
}

// degradingEmbedder always fails, simulating an unavailable embedding model.
type degradingEmbedder struct{ dim int }

func (d degradingEmbedder) Dimension() int { return d.dim }
func (d degradingEmbedder) Embed(string) ([]float64, error) {
	return nil, errDegraded
}

var errDegraded = &embedErr{"embedding backend unavailable"}

type embedErr struct{ msg string }

func (e *embedErr) Error() string { return e.msg }

func TestDegradedEmbeddingFallsBackToZeroVector(t *testing.T) {
	c := New("patterns", degradingEmbedder{dim: 16})
	c.Put("k", "some value", nil)

	if !c.Degraded() {
		t.Error("expected collection to be marked degraded")
	}

	entry, ok := c.Get("k")
	if !ok {
		t.Fatal("expected entry despite embed failure")
	}
	for _, v := range entry.Embedding {
		if v != 0 {
			t.Errorf("expected zero vector, got %v", entry.Embedding)
			break
		}
	}
}
