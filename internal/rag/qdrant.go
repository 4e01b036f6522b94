package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

// Payload keys written on every Qdrant point.
const (
	payloadFilename   = "filename"
	payloadGeneration = "generation"
	payloadChunkIndex = "chunk_index"
	payloadText       = "text"
)

// pointNamespace seeds the deterministic point IDs.
var pointNamespace = uuid.MustParse("6f1c8f0e-3d1a-4c55-9a51-2b7f0c1d9e42")

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection pdfrag owns (default: pdfrag_chunks).
	Collection string

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64

	// APIKey is the optional Qdrant API key.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// qdrantAPI is the subset of *qdrant.Client the index uses.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	DeleteCollection(ctx context.Context, collectionName string) error
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// qdrantRecord tracks the live generation of one document's points.
type qdrantRecord struct {
	generation int64
	numChunks  int
	indexedAt  time.Time
}

// QdrantIndex implements Index on a Qdrant collection. Each Put writes a new
// generation of points, switches the record to it and only then removes the
// previous generation, so searches always see one complete chunk set.
//
// The collection is dropped and recreated by NewQdrantIndex: documents never
// outlive the process, the same as with MemoryIndex.
type QdrantIndex struct {
	client     qdrantAPI
	collection string

	// writeMu serialises Put and Delete.
	writeMu sync.Mutex

	mu      sync.RWMutex
	records map[string]qdrantRecord
	nextGen int64

	now func() time.Time
}

// NewQdrantIndex connects to Qdrant and resets the configured collection.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "pdfrag_chunks"
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx, err := newQdrantIndex(ctx, client, cfg.Collection, cfg.VectorSize)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

func newQdrantIndex(ctx context.Context, client qdrantAPI, collection string, vectorSize uint64) (*QdrantIndex, error) {
	idx := &QdrantIndex{
		client:     client,
		collection: collection,
		records:    make(map[string]qdrantRecord),
		now:        time.Now,
	}
	if err := idx.resetCollection(ctx, vectorSize); err != nil {
		return nil, err
	}
	return idx, nil
}

// resetCollection drops the collection if present and creates it empty.
func (s *QdrantIndex) resetCollection(ctx context.Context, vectorSize uint64) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", s.collection, err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.collection, err)
	}
	return nil
}

// Put writes chunks as a new generation and retires the previous one.
func (s *QdrantIndex) Put(ctx context.Context, filename string, chunks []Chunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.nextGen++
	gen := s.nextGen
	prev, hadPrev := s.records[filename]
	s.mu.Unlock()

	if len(chunks) > 0 {
		points := make([]*qdrant.PointStruct, 0, len(chunks))
		for _, c := range chunks {
			id := uuid.NewSHA1(pointNamespace, []byte(filename+"\x00"+strconv.FormatInt(gen, 10)+"\x00"+strconv.Itoa(c.Index)))
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(id.String()),
				Vectors: qdrant.NewVectors(c.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					payloadFilename:   filename,
					payloadGeneration: gen,
					payloadChunkIndex: int64(c.Index),
					payloadText:       c.Text,
				}),
			})
		}
		wait := true
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert %q failed: %w", filename, err)
		}
	}

	s.mu.Lock()
	s.records[filename] = qdrantRecord{generation: gen, numChunks: len(chunks), indexedAt: s.now()}
	s.mu.Unlock()

	if hadPrev && prev.numChunks > 0 {
		if err := s.deletePoints(ctx, filename, &prev.generation); err != nil {
			return fmt.Errorf("qdrant: retire previous chunks of %q: %w", filename, err)
		}
	}
	return nil
}

// Search runs a filtered cosine query over filename's live generation.
func (s *QdrantIndex) Search(ctx context.Context, filename string, query []float32, topK int) ([]Match, error) {
	s.mu.RLock()
	rec, ok := s.records[filename]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("qdrant: search %q: %w", filename, apperr.ErrNotFound)
	}
	if rec.numChunks == 0 {
		return []Match{}, nil
	}
	if topK <= 0 {
		topK = rec.numChunks
	}

	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         generationFilter(filename, &rec.generation),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %q failed: %w", filename, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{Score: r.GetScore()}
		if p := r.GetPayload(); p != nil {
			m.Text = p[payloadText].GetStringValue()
			m.Index = int(p[payloadChunkIndex].GetIntegerValue())
		}
		matches = append(matches, m)
	}
	sortMatches(matches)
	return matches, nil
}

// Has reports whether filename has a record.
func (s *QdrantIndex) Has(_ context.Context, filename string) (bool, error) {
	s.mu.RLock()
	_, ok := s.records[filename]
	s.mu.RUnlock()
	return ok, nil
}

// List returns every record sorted by filename.
func (s *QdrantIndex) List(_ context.Context) ([]DocumentInfo, error) {
	s.mu.RLock()
	out := make([]DocumentInfo, 0, len(s.records))
	for name, rec := range s.records {
		out = append(out, DocumentInfo{Filename: name, NumChunks: rec.numChunks, IndexedAt: rec.indexedAt})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// Delete removes filename's record and every point stored for it.
func (s *QdrantIndex) Delete(ctx context.Context, filename string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	_, ok := s.records[filename]
	delete(s.records, filename)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("qdrant: delete %q: %w", filename, apperr.ErrNotFound)
	}

	if err := s.deletePoints(ctx, filename, nil); err != nil {
		return fmt.Errorf("qdrant: delete %q: %w", filename, err)
	}
	return nil
}

// Ping checks that the Qdrant server is reachable.
func (s *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// deletePoints removes filename's points, limited to one generation when gen
// is non-nil.
func (s *QdrantIndex) deletePoints(ctx context.Context, filename string, gen *int64) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(generationFilter(filename, gen)),
	})
	return err
}

func generationFilter(filename string, gen *int64) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch(payloadFilename, filename)}
	if gen != nil {
		must = append(must, qdrant.NewMatchInt(payloadGeneration, *gen))
	}
	return &qdrant.Filter{Must: must}
}
