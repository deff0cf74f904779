package vectorstore

import (
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder is a dependency-free Embedder: it tokenizes text and
// projects each token into a fixed-dimension vector via FNV hashing, then
// L2-normalizes the result. It stands in for a real embedding model per
// spec section 9 ("the spec is embedding-agnostic"); no third-party
// embedding/ML library appears anywhere in the example pack for this kind
// of process-local agent memory, so the default implementation is built on
// the standard library (hash/fnv) rather than adopting an unrelated
// ecosystem dependency just to have one — see DESIGN.md.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a HashEmbedder projecting into dim dimensions.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(text string) ([]float64, error) {
	vec := make([]float64, h.dim)
	tokens := tokenize(text)
	for _, tok := range tokens {
		idx := bucket(tok, h.dim)
		vec[idx] += 1
	}
	normalize(vec)
	return vec, nil
}

func tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func bucket(token string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int(h.Sum32() % uint32(dim))
}

func normalize(vec []float64) {
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range vec {
		vec[i] /= norm
	}
}
