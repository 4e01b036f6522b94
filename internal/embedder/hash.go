package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// defaultLocalDimensions is the vector size of the local hashing embedder.
const defaultLocalDimensions = 384

// HashEmbedder implements rag.Embedder with signed feature hashing over a
// lowercase bag of words. It needs no network and no model download, which
// makes it the default backend: the same text always maps to the same vector
// and texts that share words score higher under cosine similarity.
// It is safe for concurrent use.
type HashEmbedder struct {
	// dims is the output vector length.
	dims int
	// tokenPattern matches a single word or number.
	tokenPattern *regexp.Regexp
	// stopwords are dropped before hashing.
	stopwords map[string]struct{}
}

// NewHashEmbedder returns a HashEmbedder producing vectors of length dims.
// A non-positive dims selects the default (384).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultLocalDimensions
	}
	return &HashEmbedder{
		dims:         dims,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Dimensions returns the length of every vector this embedder produces.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Embed converts a batch of texts into their corresponding embeddings.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

// embedOne hashes each term into a bucket with a sign taken from a second
// hash bit, weights it by 1+log(tf) and L2-normalises the result. Text with no
// usable terms maps to the zero vector.
func (e *HashEmbedder) embedOne(text string) []float32 {
	tf := make(map[string]int)
	for _, tok := range e.tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		tf[tok]++
	}

	acc := make([]float64, e.dims)
	for term, count := range tf {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dims))
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1.0
		}
		acc[bucket] += sign * (1 + math.Log(float64(count)))
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, e.dims)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
		"has", "in", "is", "it", "its", "of", "on", "or", "that", "the",
		"this", "to", "was", "were", "what", "which", "who", "will", "with",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
