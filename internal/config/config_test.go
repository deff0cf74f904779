package config

import (
	"path/filepath"
	"testing"
	"time"

	"os"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.MaxQueueSize != 1000 {
		t.Errorf("expected default MaxQueueSize=1000, got %d", cfg.MaxQueueSize)
	}
	if cfg.DefaultTimeout() != 30*time.Second {
		t.Errorf("expected default timeout=30s, got %v", cfg.DefaultTimeout())
	}
}

func TestLoad_MergesOverridesOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	yaml := "max_queue_size: 50\ncache_ttl_seconds: 120\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MaxQueueSize != 50 {
		t.Errorf("expected overridden MaxQueueSize=50, got %d", cfg.MaxQueueSize)
	}
	if cfg.CacheTTL() != 2*time.Minute {
		t.Errorf("expected overridden CacheTTL=2m, got %v", cfg.CacheTTL())
	}
	if cfg.EmbeddingModelName != "hash-bow-v1" {
		t.Errorf("expected default EmbeddingModelName to survive merge, got %s", cfg.EmbeddingModelName)
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
