package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/pdfrag-go/internal/ingestion"
	"github.com/54b3r/pdfrag-go/internal/qa"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request, upload
	// body included.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover embedding and generation latency.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /upload and
	// /ask (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// MaxUploadBytes caps the request body of /upload and /ask.
	// Defaults to 32 MiB if zero.
	MaxUploadBytes int64
	// StatusMessage is returned by GET /.
	StatusMessage string
	// MetricsRegistry receives the server's Prometheus collectors.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Ingester indexes one uploaded document. *ingestion.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, filename string, content []byte) (*ingestion.Result, error)
}

// Answerer answers a question about one indexed document. *qa.Answerer
// satisfies it.
type Answerer interface {
	Answer(ctx context.Context, filename, question string) (*qa.Answer, error)
}

// Catalog lists and removes indexed documents. Every rag.Index satisfies it.
type Catalog interface {
	List(ctx context.Context) ([]rag.DocumentInfo, error)
	Delete(ctx context.Context, filename string) error
}

// Deps are the domain services the handlers call into.
type Deps struct {
	// Ingester handles POST /upload. Required.
	Ingester Ingester
	// Answerer handles POST /ask. Required.
	Answerer Answerer
	// Catalog backs the /api/documents endpoints. Required.
	Catalog Catalog
	// History backs GET /api/history and is cleared on document delete.
	// Optional: nil disables history.
	History store.HistoryStore
}

// Server is the HTTP front end of the ingestion and question-answering
// services.
type Server struct {
	// ingester handles uploads.
	ingester Ingester
	// answerer handles questions.
	answerer Answerer
	// catalog lists and deletes documents.
	catalog Catalog
	// history is the optional Q&A log.
	history store.HistoryStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped mux served by httpServer.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// statusResponse is the JSON body for GET /.
type statusResponse struct {
	// Message is the configured status string.
	Message string `json:"message"`
}

// matchResponse is one retrieved chunk in an /ask response.
type matchResponse struct {
	// Chunk is the chunk text.
	Chunk string `json:"chunk"`
	// Score is the cosine similarity between the question and the chunk.
	Score float32 `json:"score"`
}

// askResponse is the JSON body for POST /ask.
type askResponse struct {
	// Question is the question as asked.
	Question string `json:"question"`
	// Filename is the document the question was asked about.
	Filename string `json:"filename"`
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// TopMatches are the chunks the answer was conditioned on, best first.
	TopMatches []matchResponse `json:"top_matches"`
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	// Error is the human-readable failure message.
	Error string `json:"error"`
	// Kind is the failure category (e.g. "not_found").
	Kind string `json:"kind"`
	// Retryable is true when repeating the request may succeed.
	Retryable bool `json:"retryable"`
}

// documentResponse describes one indexed document in GET /api/documents.
type documentResponse struct {
	// Filename is the key the document was uploaded under.
	Filename string `json:"filename"`
	// NumChunks is the number of indexed chunks.
	NumChunks int `json:"num_chunks"`
	// IndexedAt is when the current record was stored.
	IndexedAt time.Time `json:"indexed_at"`
}

// documentsResponse is the JSON body for GET /api/documents.
type documentsResponse struct {
	// Documents is sorted by filename.
	Documents []documentResponse `json:"documents"`
}

// deleteResponse is the JSON body for DELETE /api/documents/{filename}.
type deleteResponse struct {
	// Filename is the document that was removed.
	Filename string `json:"filename"`
	// HistoryCleared is the number of history entries removed with it.
	HistoryCleared int64 `json:"history_cleared"`
}

// historyResponse is the JSON body for GET /api/history.
type historyResponse struct {
	// Filename is the document the entries belong to.
	Filename string `json:"filename"`
	// Enabled is false when the server runs without a history store.
	Enabled bool `json:"enabled"`
	// Entries are the most recent Q&A pairs, oldest first.
	Entries []store.Entry `json:"entries"`
}
