// Package rag holds the retrieval half of pdfrag: the per-document similarity
// index, the embedder contract and the retriever that ties them together.
// Index implementations (in-memory, Qdrant) satisfy Index so the ingestion
// pipeline and the question answerer never depend on a specific backend.
package rag

import (
	"context"
	"time"
)

// Chunk is one indexed slice of a document's extracted text.
type Chunk struct {
	// Index is the chunk's position in the document, starting at 0.
	Index int

	// Text is the chunk content.
	Text string

	// Embedding is the chunk's vector. It is never mutated after Put.
	Embedding []float32
}

// Match is a chunk returned by a similarity search.
type Match struct {
	// Index is the chunk's position in its document.
	Index int

	// Text is the chunk content.
	Text string

	// Score is the cosine similarity between the query and the chunk.
	Score float32
}

// DocumentInfo describes one indexed document.
type DocumentInfo struct {
	// Filename is the key the document was uploaded under.
	Filename string

	// NumChunks is the number of chunks in the current record.
	NumChunks int

	// IndexedAt is when the current record was stored.
	IndexedAt time.Time
}

// Index maps a filename to its chunk set. Implementations must be safe to
// call from multiple goroutines, and Put must replace a record as a whole so
// concurrent readers observe either the old chunk set or the new one.
type Index interface {
	// Put stores chunks under filename, replacing any previous record.
	// An empty chunk slice is a valid record.
	Put(ctx context.Context, filename string, chunks []Chunk) error

	// Search returns up to topK chunks of filename ordered by descending
	// similarity to query. It returns an error wrapping apperr.ErrNotFound
	// when filename has no record.
	Search(ctx context.Context, filename string, query []float32, topK int) ([]Match, error)

	// Has reports whether filename has a record.
	Has(ctx context.Context, filename string) (bool, error)

	// List returns every record, sorted by filename.
	List(ctx context.Context) ([]DocumentInfo, error)

	// Delete removes filename's record. It returns an error wrapping
	// apperr.ErrNotFound when there is none.
	Delete(ctx context.Context, filename string) error

	// Close releases any resources held by the index.
	Close() error
}

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
