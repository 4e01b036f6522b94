package rag

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

// fakeQdrant keeps points in memory and understands the keyword and integer
// match conditions QdrantIndex builds. Query scores a point by its chunk index
// so ordering is predictable.
type fakeQdrant struct {
	mu        sync.Mutex
	exists    bool
	dropped   int
	created   int
	points    map[string]*qdrant.PointStruct
	upsertErr error
	closed    bool
}

func newFakeQdrant(exists bool) *fakeQdrant {
	return &fakeQdrant{exists: exists, points: make(map[string]*qdrant.PointStruct)}
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeQdrant) DeleteCollection(context.Context, string) error {
	f.dropped++
	f.exists = false
	return nil
}

func (f *fakeQdrant) CreateCollection(context.Context, *qdrant.CreateCollection) error {
	f.created++
	f.exists = true
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range req.GetPoints() {
		f.points[p.GetId().GetUuid()] = p
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*qdrant.ScoredPoint
	for _, p := range f.points {
		if !pointMatches(p, req.GetFilter()) {
			continue
		}
		idx := p.GetPayload()[payloadChunkIndex].GetIntegerValue()
		out = append(out, &qdrant.ScoredPoint{
			Id:      p.GetId(),
			Payload: p.GetPayload(),
			Score:   1 - 0.1*float32(idx),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit := int(req.GetLimit()); limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQdrant) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.points {
		if pointMatches(p, req.GetPoints().GetFilter()) {
			delete(f.points, id)
		}
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) Close() error {
	f.closed = true
	return nil
}

func (f *fakeQdrant) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func pointMatches(p *qdrant.PointStruct, filter *qdrant.Filter) bool {
	for _, c := range filter.GetMust() {
		fc := c.GetField()
		v := p.GetPayload()[fc.GetKey()]
		m := fc.GetMatch()
		switch m.GetMatchValue().(type) {
		case *qdrant.Match_Keyword:
			if v.GetStringValue() != m.GetKeyword() {
				return false
			}
		case *qdrant.Match_Integer:
			if v.GetIntegerValue() != m.GetInteger() {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func chunks(texts ...string) []Chunk {
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		out[i] = Chunk{Index: i, Text: t, Embedding: []float32{1, 0}}
	}
	return out
}

func TestQdrantIndex_ResetsCollectionOnStart(t *testing.T) {
	t.Parallel()
	fake := newFakeQdrant(true)
	_, err := newQdrantIndex(context.Background(), fake, "pdfrag_chunks", 384)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.dropped)
	assert.Equal(t, 1, fake.created)

	fresh := newFakeQdrant(false)
	_, err = newQdrantIndex(context.Background(), fresh, "pdfrag_chunks", 384)
	require.NoError(t, err)
	assert.Zero(t, fresh.dropped)
	assert.Equal(t, 1, fresh.created)
}

func TestQdrantIndex_PutSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeQdrant(false)
	idx, err := newQdrantIndex(ctx, fake, "c", 2)
	require.NoError(t, err)

	require.NoError(t, idx.Put(ctx, "doc.pdf", chunks("zero", "one", "two", "three")))
	require.NoError(t, idx.Put(ctx, "other.pdf", chunks("unrelated")))

	matches, err := idx.Search(ctx, "doc.pdf", []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "zero", matches[0].Text)
	assert.Equal(t, 0, matches[0].Index)
	assert.Equal(t, "two", matches[2].Text)
	for _, m := range matches {
		assert.NotEqual(t, "unrelated", m.Text)
	}
}

func TestQdrantIndex_PutReplacesPreviousGeneration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeQdrant(false)
	idx, err := newQdrantIndex(ctx, fake, "c", 2)
	require.NoError(t, err)

	require.NoError(t, idx.Put(ctx, "doc.pdf", chunks("old-0", "old-1", "old-2")))
	require.NoError(t, idx.Put(ctx, "doc.pdf", chunks("new-0")))

	assert.Equal(t, 1, fake.count())
	matches, err := idx.Search(ctx, "doc.pdf", []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new-0", matches[0].Text)

	docs, err := idx.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, docs[0].NumChunks)
}

func TestQdrantIndex_FailedUpsertKeepsOldRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeQdrant(false)
	idx, err := newQdrantIndex(ctx, fake, "c", 2)
	require.NoError(t, err)

	require.NoError(t, idx.Put(ctx, "doc.pdf", chunks("old")))
	fake.upsertErr = errors.New("unavailable")
	require.Error(t, idx.Put(ctx, "doc.pdf", chunks("new")))

	matches, err := idx.Search(ctx, "doc.pdf", []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "old", matches[0].Text)
}

func TestQdrantIndex_EmptyAndMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx, err := newQdrantIndex(ctx, newFakeQdrant(false), "c", 2)
	require.NoError(t, err)

	require.NoError(t, idx.Put(ctx, "blank.pdf", nil))
	matches, err := idx.Search(ctx, "blank.pdf", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = idx.Search(ctx, "missing.pdf", []float32{1, 0}, 3)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestQdrantIndex_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeQdrant(false)
	idx, err := newQdrantIndex(ctx, fake, "c", 2)
	require.NoError(t, err)

	require.NoError(t, idx.Put(ctx, "doc.pdf", chunks("a", "b")))
	require.NoError(t, idx.Delete(ctx, "doc.pdf"))
	assert.Zero(t, fake.count())

	ok, err := idx.Has(ctx, "doc.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, errors.Is(idx.Delete(ctx, "doc.pdf"), apperr.ErrNotFound))
	require.NoError(t, idx.Ping(ctx))
	require.NoError(t, idx.Close())
	assert.True(t, fake.closed)
}
