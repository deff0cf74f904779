package knowledge

import (
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentmesh/orchestrator/internal/vectorstore"
	"gopkg.in/yaml.v3"
)

// Store federates one vectorstore.Collection per knowledge Type.
type Store struct {
	collections map[Type]*vectorstore.Collection
}

// Option configures New.
type Option func(*options)

type options struct {
	persistDir string
	embedder   vectorstore.Embedder
}

// WithPersistence stores each knowledge_type's collection in its own
// subdirectory of dir, one SQLite file per knowledge_type.
func WithPersistence(dir string) Option {
	return func(o *options) { o.persistDir = dir }
}

// WithEmbedder overrides the default HashEmbedder.
func WithEmbedder(e vectorstore.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// New creates a Store with one collection per knowledge type.
func New(opts ...Option) *Store {
	o := &options{embedder: vectorstore.NewHashEmbedder(256)}
	for _, fn := range opts {
		fn(o)
	}

	collections := make(map[Type]*vectorstore.Collection, len(AllTypes()))
	for _, t := range AllTypes() {
		name := strings.ToLower(string(t))
		if o.persistDir == "" {
			collections[t] = vectorstore.New(name, o.embedder)
			continue
		}
		backing, err := vectorstore.OpenSQLiteBacking(o.persistDir, name)
		if err != nil {
			log.Printf("[KNOWLEDGE] degraded: failed to open backing for %s: %v", name, err)
			collections[t] = vectorstore.New(name, o.embedder)
			continue
		}
		_ = backing.WriteHeader("hash-bow", o.embedder.Dimension())
		collections[t] = vectorstore.NewPersistent(name, o.embedder, backing)
	}

	return &Store{collections: collections}
}

// InferType determines the knowledge_type for a store() call lacking an
// explicit type in metadata, following spec section 4.C's precedence:
// explicit metadata -> key substring -> value shape -> default
// LEARNED_PATTERN. Substring rules are grounded in the teacher's
// router.ClassifyQuery keyword-matching style (internal/router/router.go).
func InferType(key string, value any, metadata map[string]any) Type {
	if metadata != nil {
		if raw, ok := metadata["knowledge_type"]; ok {
			if t, ok := raw.(Type); ok {
				return t
			}
			if s, ok := raw.(string); ok && s != "" {
				return Type(s)
			}
		}
	}

	lowerKey := strings.ToLower(key)
	switch {
	case strings.Contains(lowerKey, "fail"):
		return FailurePattern
	case strings.Contains(lowerKey, "preference"), strings.Contains(lowerKey, "user"):
		return UserPreference
	case strings.Contains(lowerKey, "template"), strings.Contains(lowerKey, "workflow"):
		return WorkflowTemplate
	case strings.Contains(lowerKey, "behavior"):
		return AgentBehavior
	case strings.Contains(lowerKey, "domain"):
		return DomainKnowledge
	}

	if m, ok := value.(map[string]any); ok {
		if _, hasErr := m["error"]; hasErr {
			return FailurePattern
		}
		if _, hasReason := m["reason"]; hasReason {
			return FailurePattern
		}
		if _, hasSteps := m["steps"]; hasSteps {
			return WorkflowTemplate
		}
		if _, hasSeq := m["sequence"]; hasSeq {
			return WorkflowTemplate
		}
	}

	return LearnedPattern
}

// Store routes a (key, value, metadata) write to the inferred or explicit
// collection.
func (s *Store) Store(key string, value any, metadata map[string]any) Entry {
	t := InferType(key, value, metadata)
	entry := s.collections[t].Put(key, value, metadata)
	return Entry{
		Type:      t,
		Key:       entry.Key,
		Value:     entry.Value,
		Metadata:  entry.Metadata,
		Embedding: entry.Embedding,
		CreatedAt: entry.CreatedAt,
	}
}

// Retrieve searches every collection for key until found.
func (s *Store) Retrieve(key string) (Entry, bool) {
	for _, t := range AllTypes() {
		if e, ok := s.collections[t].Get(key); ok {
			return Entry{Type: t, Key: e.Key, Value: e.Value, Metadata: e.Metadata, Embedding: e.Embedding, CreatedAt: e.CreatedAt}, true
		}
	}
	return Entry{}, false
}

// Search fans out to the requested types (or all types if none given),
// merges by similarity, and truncates to req.Limit. Failure in one
// sub-collection does not abort the federated call (spec section 4.C
// failure policy): its partial absence is simply logged.
func (s *Store) Search(req SearchRequest) []Entry {
	types := req.Types
	if len(types) == 0 {
		types = AllTypes()
	}

	var all []Entry
	for _, t := range types {
		coll, ok := s.collections[t]
		if !ok {
			log.Printf("[KNOWLEDGE] search: unknown type %s, skipping", t)
			continue
		}
		matches, err := coll.Query(vectorstore.Query{
			Text:          req.Text,
			Limit:         req.Limit,
			MinSimilarity: req.MinSimilarity,
		})
		if err != nil {
			log.Printf("[KNOWLEDGE] search: collection %s failed: %v", t, err)
			continue
		}
		for _, m := range matches {
			all = append(all, Entry{
				Type: t, Key: m.Entry.Key, Value: m.Entry.Value, Metadata: m.Entry.Metadata,
				Embedding: m.Entry.Embedding, CreatedAt: m.Entry.CreatedAt, Similarity: m.Similarity,
			})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Similarity != all[j].Similarity {
			return all[i].Similarity > all[j].Similarity
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if req.Limit > 0 && len(all) > req.Limit {
		all = all[:req.Limit]
	}
	return all
}

// FindSimilarPatterns is a typed convenience wrapper over Search scoped to
// a single knowledge type.
func (s *Store) FindSimilarPatterns(context string, t Type, limit int, minSimilarity float64) []Entry {
	return s.Search(SearchRequest{Text: context, Types: []Type{t}, Limit: limit, MinSimilarity: minSimilarity})
}

// FindUserPreferences searches USER_PREFERENCE entries for context.
func (s *Store) FindUserPreferences(context string, limit int) []Entry {
	return s.FindSimilarPatterns(context, UserPreference, limit, 0)
}

// CheckFailurePatterns searches FAILURE_PATTERN entries for context.
func (s *Store) CheckFailurePatterns(context string, limit int) []Entry {
	return s.FindSimilarPatterns(context, FailurePattern, limit, 0)
}

// Statistics reports per-type and aggregate counts and timestamps.
func (s *Store) Statistics() Statistics {
	stats := Statistics{PerType: make(map[Type]Stats, len(AllTypes()))}
	for _, t := range AllTypes() {
		coll := s.collections[t]
		keys := coll.ListKeys("")
		st := Stats{Count: len(keys)}
		for _, k := range keys {
			e, ok := coll.Get(k)
			if !ok {
				continue
			}
			if st.Oldest == nil || e.CreatedAt.Before(*st.Oldest) {
				ts := e.CreatedAt
				st.Oldest = &ts
			}
			if st.Newest == nil || e.CreatedAt.After(*st.Newest) {
				ts := e.CreatedAt
				st.Newest = &ts
			}
		}
		stats.PerType[t] = st
		stats.Total += st.Count
	}
	return stats
}

// dump is the YAML-serializable shape used by Export/Import.
type dump struct {
	Entries []dumpEntry `yaml:"entries"`
}

type dumpEntry struct {
	Type     Type           `yaml:"type"`
	Key      string         `yaml:"key"`
	Value    any            `yaml:"value"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// Export dumps every entry of the requested types (or all types) as YAML.
func (s *Store) Export(types []Type) ([]byte, error) {
	if len(types) == 0 {
		types = AllTypes()
	}

	var d dump
	for _, t := range types {
		coll, ok := s.collections[t]
		if !ok {
			continue
		}
		for _, k := range coll.ListKeys("") {
			e, ok := coll.Get(k)
			if !ok {
				continue
			}
			d.Entries = append(d.Entries, dumpEntry{Type: t, Key: e.Key, Value: e.Value, Metadata: e.Metadata})
		}
	}

	return yaml.Marshal(d)
}

// Import restores entries from an Export dump. If overwrite is false,
// entries whose key already exists in the target collection are skipped.
func (s *Store) Import(raw []byte, overwrite bool) error {
	var d dump
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return err
	}

	for _, e := range d.Entries {
		coll, ok := s.collections[e.Type]
		if !ok {
			continue
		}
		if !overwrite {
			if _, exists := coll.Get(e.Key); exists {
				continue
			}
		}
		coll.Put(e.Key, e.Value, e.Metadata)
	}
	return nil
}

// matchesGlob reports whether key matches glob (filepath.Match syntax; an
// empty glob matches every key). It is unexported and has no callers.
func matchesGlob(key, glob string) bool {
	if glob == "" {
		return true
	}
	ok, _ := filepath.Match(glob, key)
	return ok
}
