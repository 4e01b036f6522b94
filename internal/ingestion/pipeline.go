// Package ingestion implements the document ingestion pipeline: persist the
// upload, extract its text, split it into overlapping chunks, embed every
// chunk and store the chunk set under the document's filename.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/extract"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/rag"
)

// Defaults applied by NewPipeline when the corresponding Config field is zero.
const (
	DefaultChunkSize      = 400
	DefaultChunkOverlap   = 50
	DefaultPreviewChars   = 300
	DefaultUploadDir      = "data/pdfs"
	DefaultEmbedBatchSize = 64
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by neighbouring chunks.
	// Negative means no overlap.
	ChunkOverlap int

	// PreviewChars is the length of Result.Preview.
	PreviewChars int

	// UploadDir is where raw uploads are written. Files are named after the
	// uploaded filename and a later upload of the same name overwrites.
	UploadDir string

	// EmbedBatchSize caps the number of chunks per Embed call.
	EmbedBatchSize int
}

// Result summarises one ingestion.
type Result struct {
	// Filename is the key the document is stored under.
	Filename string `json:"filename"`

	// TotalChars is the length of the extracted text in characters.
	TotalChars int `json:"total_chars"`

	// NumChunks is the number of chunks indexed.
	NumChunks int `json:"num_chunks"`

	// Preview is the first PreviewChars characters of the extracted text.
	Preview string `json:"preview"`
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

// WithExtractor replaces the default extension-dispatching extractor.
func WithExtractor(e extract.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// Pipeline orchestrates the persist → extract → split → embed → store flow.
type Pipeline struct {
	// embedder converts chunks into vectors.
	embedder rag.Embedder

	// index stores the chunk set for each filename.
	index rag.Index

	// extractor converts raw uploads into plain text.
	extractor extract.Extractor

	// splitter produces the overlapping chunks.
	splitter textsplitter.RecursiveCharacter

	// cfg holds the resolved pipeline configuration.
	cfg Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, index rag.Index, cfg *Config, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}

	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return nil, fmt.Errorf("ingestion: chunk overlap %d must be smaller than chunk size %d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = DefaultPreviewChars
	}
	if c.UploadDir == "" {
		c.UploadDir = DefaultUploadDir
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = DefaultEmbedBatchSize
	}

	p := &Pipeline{
		embedder:  embedder,
		index:     index,
		extractor: extract.New(),
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(c.ChunkSize),
			textsplitter.WithChunkOverlap(c.ChunkOverlap),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
		cfg: c,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest stores content under filename's base name, replacing any previous
// record for that name. A document with no extractable text is indexed with
// zero chunks and is not an error.
func (p *Pipeline) Ingest(ctx context.Context, filename string, content []byte) (*Result, error) {
	const op = "ingest"
	log := logging.FromContext(ctx)
	start := time.Now()

	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, op, err)
	}

	if err := p.persist(name, content); err != nil {
		return nil, apperr.New(apperr.KindInternal, op, err)
	}

	text, err := p.extractor.Extract(ctx, name, content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.New(apperr.KindInternal, op, ctx.Err())
		}
		return nil, apperr.New(apperr.KindExtraction, op, err)
	}
	if strings.TrimSpace(text) == "" {
		text = ""
	}

	texts, err := p.Split(text)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, op, err)
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return nil, apperr.New(apperr.KindUpstream, op, err)
	}

	chunks := make([]rag.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = rag.Chunk{Index: i, Text: t, Embedding: vectors[i]}
	}
	if err := p.index.Put(ctx, name, chunks); err != nil {
		return nil, apperr.New(apperr.KindInternal, op, fmt.Errorf("storing chunks: %w", err))
	}

	res := &Result{
		Filename:   name,
		TotalChars: utf8.RuneCountInString(text),
		NumChunks:  len(chunks),
		Preview:    prefixRunes(text, p.cfg.PreviewChars),
	}

	log.Info("ingestion: document indexed",
		slog.String("filename", name),
		slog.Int("bytes", len(content)),
		slog.Int("total_chars", res.TotalChars),
		slog.Int("num_chunks", res.NumChunks),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// Split breaks text into chunks of at most ChunkSize characters with
// ChunkOverlap characters shared between neighbours, preferring paragraph,
// line and word boundaries. It is deterministic and returns no chunks for "".
func (p *Pipeline) Split(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	parts, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("ingestion: split text: %w", err)
	}
	out := parts[:0]
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

// embed vectors texts in batches of EmbedBatchSize.
func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.EmbedBatchSize {
		end := min(start+p.cfg.EmbedBatchSize, len(texts))
		batch, err := p.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// persist writes content to UploadDir/name through a temp file and rename so
// a concurrent reader never sees a partial file.
func (p *Pipeline) persist(name string, content []byte) error {
	if err := os.MkdirAll(p.cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(p.cfg.UploadDir, ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(p.cfg.UploadDir, name)); err != nil {
		return fmt.Errorf("saving upload: %w", err)
	}
	return nil
}

// SanitizeFilename reduces a client-supplied filename to its base name so an
// upload can never be written outside the upload directory.
func SanitizeFilename(filename string) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	if strings.HasPrefix(name, ".upload-") {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	return name, nil
}

// prefixRunes returns the first n characters of s.
func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
