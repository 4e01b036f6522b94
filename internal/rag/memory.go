package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

// memoryRecord is an immutable chunk set; Put swaps whole records.
type memoryRecord struct {
	chunks    []Chunk
	indexedAt time.Time
}

// MemoryIndex is the default Index. Records live for the process lifetime.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	// now is overridable in tests.
	now func() time.Time
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

// Put replaces filename's record with a copy of chunks.
func (m *MemoryIndex) Put(_ context.Context, filename string, chunks []Chunk) error {
	rec := &memoryRecord{
		chunks:    append([]Chunk(nil), chunks...),
		indexedAt: m.now(),
	}
	m.mu.Lock()
	m.records[filename] = rec
	m.mu.Unlock()
	return nil
}

// Search ranks filename's chunks by cosine similarity to query.
func (m *MemoryIndex) Search(ctx context.Context, filename string, query []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	rec, ok := m.records[filename]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rag: search %q: %w", filename, apperr.ErrNotFound)
	}

	matches := make([]Match, 0, len(rec.chunks))
	for _, c := range rec.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches = append(matches, Match{
			Index: c.Index,
			Text:  c.Text,
			Score: CosineSimilarity(query, c.Embedding),
		})
	}
	sortMatches(matches)

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Has reports whether filename has a record.
func (m *MemoryIndex) Has(_ context.Context, filename string) (bool, error) {
	m.mu.RLock()
	_, ok := m.records[filename]
	m.mu.RUnlock()
	return ok, nil
}

// List returns every record sorted by filename.
func (m *MemoryIndex) List(_ context.Context) ([]DocumentInfo, error) {
	m.mu.RLock()
	out := make([]DocumentInfo, 0, len(m.records))
	for name, rec := range m.records {
		out = append(out, DocumentInfo{Filename: name, NumChunks: len(rec.chunks), IndexedAt: rec.indexedAt})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// Delete removes filename's record.
func (m *MemoryIndex) Delete(_ context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[filename]; !ok {
		return fmt.Errorf("rag: delete %q: %w", filename, apperr.ErrNotFound)
	}
	delete(m.records, filename)
	return nil
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is a zero vector or their lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// sortMatches orders by descending score, then ascending chunk index so equal
// scores rank deterministically.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Index < matches[j].Index
	})
}
