package localmem

import "testing"

func TestStoreRetrieveDelete(t *testing.T) {
	s := New()
	s.StoreValue("k", "v1", nil)

	e, ok := s.Retrieve("k")
	if !ok || e.Value != "v1" {
		t.Fatalf("expected v1, got %v ok=%v", e.Value, ok)
	}

	s.StoreValue("k", "v2", nil)
	e, _ = s.Retrieve("k")
	if e.Value != "v2" {
		t.Errorf("expected v2 after overwrite, got %v", e.Value)
	}

	if !s.Delete("k") {
		t.Error("expected delete to report existing key")
	}
	if _, ok := s.Retrieve("k"); ok {
		t.Error("expected key gone after delete")
	}
}

func TestFindingsNamespaceIsSeparate(t *testing.T) {
	s := New()
	s.StoreValue("k", "v", nil)
	s.AddFinding("f1", "discovery")

	s.ClearFindings()

	if _, ok := s.Retrieve("k"); !ok {
		t.Error("expected entry to survive ClearFindings")
	}
	if len(s.GetFindings()) != 0 {
		t.Error("expected findings cleared")
	}
}

func TestClearWipesBoth(t *testing.T) {
	s := New()
	s.StoreValue("k", "v", nil)
	s.AddFinding("f1", "x")

	s.Clear()

	if _, ok := s.Retrieve("k"); ok {
		t.Error("expected entry gone after Clear")
	}
	if len(s.GetFindings()) != 0 {
		t.Error("expected findings gone after Clear")
	}
}

func TestStatisticsSynchronous(t *testing.T) {
	s := New()
	s.StoreValue("a", 1, nil)
	s.StoreValue("b", 2, nil)
	s.Retrieve("a")
	s.Retrieve("missing")

	stats := s.Statistics()
	if stats.Stores != 2 {
		t.Errorf("expected 2 stores, got %d", stats.Stores)
	}
	if stats.Retrieves != 2 {
		t.Errorf("expected 2 retrieves, got %d", stats.Retrieves)
	}
	if stats.CurrentEntries != 2 {
		t.Errorf("expected 2 current entries, got %d", stats.CurrentEntries)
	}
}

func TestNoCrossAgentVisibility(t *testing.T) {
	a := New()
	b := New()

	a.StoreValue("secret", "only-a", nil)

	if _, ok := b.Retrieve("secret"); ok {
		t.Error("agent B must never see agent A's local memory")
	}
}
