package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

// DefaultTopK is the number of matches returned when the caller passes 0.
const DefaultTopK = 3

// Retriever embeds a question and searches one document's chunks for it.
type Retriever struct {
	// embedder converts query text to a dense vector. It must be the same
	// embedder the document was ingested with.
	embedder Embedder

	// index holds the per-document chunk sets.
	index Index

	// defaultTopK is used when Retrieve is called with topK <= 0.
	defaultTopK int
}

// NewRetriever constructs a Retriever. defaultTopK <= 0 selects DefaultTopK.
func NewRetriever(embedder Embedder, index Index, defaultTopK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{embedder: embedder, index: index, defaultTopK: defaultTopK}, nil
}

// Retrieve returns the topK chunks of filename most similar to query.
// The document lookup happens before the embedding call so an unknown
// filename fails with apperr.KindNotFound without touching the embedder.
func (r *Retriever) Retrieve(ctx context.Context, filename, query string, topK int) ([]Match, error) {
	const op = "rag: retrieve"
	if topK <= 0 {
		topK = r.defaultTopK
	}

	ok, err := r.index.Has(ctx, filename)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, op, err)
	}
	if !ok {
		return nil, apperr.Errorf(apperr.KindNotFound, op, "no document named %q has been uploaded: %w", filename, apperr.ErrNotFound)
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, apperr.New(apperr.KindUpstream, op, fmt.Errorf("embedding query: %w", err))
	}
	if len(vecs) != 1 {
		return nil, apperr.Errorf(apperr.KindUpstream, op, "embedder returned %d vectors for 1 query", len(vecs))
	}

	matches, err := r.index.Search(ctx, filename, vecs[0], topK)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, op, err)
		}
		return nil, apperr.New(apperr.KindInternal, op, err)
	}
	return matches, nil
}
