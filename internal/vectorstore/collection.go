// Package vectorstore implements the embedding-backed Vector Collection
// described in spec section 4.B: a (key, version) -> {value, metadata,
// embedding} map with similarity search and metadata filtering.
//
// The similarity backend is pluggable behind the Embedder interface so the
// collection stays agnostic to any particular embedding model, per spec
// section 9 ("Vector store abstraction").
package vectorstore

import (
	"fmt"
	"log"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Embedder projects text into a fixed-dimension vector.
type Embedder interface {
	Embed(text string) ([]float64, error)
	Dimension() int
}

// Entry is one version of a key's value.
type Entry struct {
	Key       string
	Version   int
	Value     any
	Metadata  map[string]any
	Embedding []float64
	CreatedAt time.Time
}

// Query describes a Collection.Query call.
type Query struct {
	Text         string
	Filter       map[string]any
	Limit        int
	MinSimilarity float64
}

// Match is a single query result.
type Match struct {
	Entry      Entry
	Similarity float64
}

// Collection is a single typed vector collection.
type Collection struct {
	name     string
	embedder Embedder

	mu       sync.Mutex
	versions map[string][]Entry // key -> versions, oldest first
	degraded bool
	backing  *SQLiteBacking
}

// New creates an in-memory Collection using embedder for similarity.
func New(name string, embedder Embedder) *Collection {
	return &Collection{
		name:     name,
		embedder: embedder,
		versions: make(map[string][]Entry),
	}
}

// Degraded reports whether the collection is operating without a working
// embedder or recovered from a corrupted on-disk load (spec section 4.B
// failure modes).
func (c *Collection) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *Collection) markDegraded(reason string) {
	c.degraded = true
	log.Printf("[VECTOR] degraded collection=%s reason=%s", c.name, reason)
}

// canonicalText projects value into the text the embedder consumes. Values
// that are already strings are used verbatim; everything else falls back to
// a stable key=value projection of a string map, or a best-effort %v.
func canonicalText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(toText(v[k]))
			b.WriteString(" ")
		}
		return b.String()
	default:
		return toText(value)
	}
}

func toText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Put appends a new version of key; it never overwrites prior versions.
func (c *Collection) Put(key string, value any, metadata map[string]any) Entry {
	embedding, err := c.embedder.Embed(canonicalText(value))
	if err != nil {
		c.mu.Lock()
		c.markDegraded("embed failure: " + err.Error())
		c.mu.Unlock()
		embedding = make([]float64, c.embedder.Dimension())
	}

	entry := Entry{
		Key:       key,
		Metadata:  metadata,
		Value:     value,
		Embedding: embedding,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	entry.Version = len(c.versions[key]) + 1
	c.versions[key] = append(c.versions[key], entry)
	backing := c.backing
	c.mu.Unlock()

	if backing != nil {
		if err := backing.Append(entry); err != nil {
			log.Printf("[VECTOR] failed to persist entry collection=%s key=%s error=%v", c.name, key, err)
		}
	}
	return entry
}

// Get returns the latest version of key, if any.
func (c *Collection) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vs := c.versions[key]
	if len(vs) == 0 {
		return Entry{}, false
	}
	return vs[len(vs)-1], true
}

// Delete removes all versions of key; reports whether any existed.
func (c *Collection) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.versions[key]
	delete(c.versions, key)
	return existed
}

// ListKeys returns the keys matching glob (a filepath.Match-style pattern),
// or all keys if glob is empty.
func (c *Collection) ListKeys(glob string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.versions))
	for k := range c.versions {
		if glob == "" {
			keys = append(keys, k)
			continue
		}
		if ok, _ := filepath.Match(glob, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Size returns the number of distinct keys.
func (c *Collection) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.versions)
}

// Clear removes every key from the collection.
func (c *Collection) Clear() {
	c.mu.Lock()
	c.versions = make(map[string][]Entry)
	backing := c.backing
	c.mu.Unlock()

	if backing != nil {
		if err := backing.Clear(); err != nil {
			log.Printf("[VECTOR] failed to clear backing collection=%s error=%v", c.name, err)
		}
	}
}

// latestEntries returns a snapshot of the latest version of every key.
func (c *Collection) latestEntries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.versions))
	for _, vs := range c.versions {
		out = append(out, vs[len(vs)-1])
	}
	return out
}

// Query searches the collection. If q.Text is set, results are ranked by
// cosine similarity; otherwise entries matching q.Filter alone are
// returned, ordered by recency (spec section 4.B).
func (c *Collection) Query(q Query) ([]Match, error) {
	candidates := c.latestEntries()

	filtered := candidates[:0:0]
	for _, e := range candidates {
		if matchesFilter(e.Metadata, q.Filter) {
			filtered = append(filtered, e)
		}
	}

	if q.Text == "" {
		sort.Slice(filtered, func(i, j int) bool {
			return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
		})
		limit := q.Limit
		if limit <= 0 || limit > len(filtered) {
			limit = len(filtered)
		}
		matches := make([]Match, limit)
		for i := 0; i < limit; i++ {
			matches[i] = Match{Entry: filtered[i], Similarity: 0}
		}
		return matches, nil
	}

	queryVec, err := c.embedder.Embed(q.Text)
	if err != nil {
		c.mu.Lock()
		c.markDegraded("query embed failure: " + err.Error())
		c.mu.Unlock()
		queryVec = make([]float64, c.embedder.Dimension())
	}

	minSim := q.MinSimilarity
	matches := make([]Match, 0, len(filtered))
	for _, e := range filtered {
		sim := cosineSimilarity(queryVec, e.Embedding)
		if sim >= minSim {
			matches = append(matches, Match{Entry: e, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Entry.CreatedAt.After(matches[j].Entry.CreatedAt)
	})

	limit := q.Limit
	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}
	return matches[:limit], nil
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// cosineSimilarity returns 1 - cosine distance between a and b. Vectors of
// mismatched length, or a zero vector on either side, yield 0 similarity
// rather than an error so degraded embeddings never break ordering by
// recency (callers fall back to recency when similarity is uniformly 0).
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
