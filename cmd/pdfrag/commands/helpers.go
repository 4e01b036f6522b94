package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/pdfrag-go/internal/budget"
	"github.com/54b3r/pdfrag-go/internal/embedder"
	"github.com/54b3r/pdfrag-go/internal/ingestion"
	"github.com/54b3r/pdfrag-go/internal/provider"
	"github.com/54b3r/pdfrag-go/internal/qa"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/server"
	"github.com/54b3r/pdfrag-go/internal/store"
)

// Index backends selectable via INDEX_BACKEND.
const (
	indexMemory = "memory"
	indexQdrant = "qdrant"
)

// buildIndex constructs the rag.Index selected by INDEX_BACKEND. For qdrant
// the returned pinger probes the server; for memory it is nil.
func buildIndex(ctx context.Context, log *slog.Logger) (rag.Index, server.Pinger, error) {
	backend := getEnvOrDefault("INDEX_BACKEND", indexMemory)

	switch backend {
	case indexMemory:
		log.Info("index: in-memory")
		return rag.NewMemoryIndex(), nil, nil

	case indexQdrant:
		cfg := &rag.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "pdfrag_chunks"),
			VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		}
		idx, err := rag.NewQdrantIndex(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		log.Info("index: qdrant",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
			slog.Uint64("vector_size", cfg.VectorSize),
		)
		return idx, server.NewQdrantPinger(idx), nil

	default:
		return nil, nil, fmt.Errorf("unknown INDEX_BACKEND %q (valid: %s, %s)", backend, indexMemory, indexQdrant)
	}
}

// buildEmbedder validates the embedding configuration and constructs the
// embedder selected by EMBEDDING_PROVIDER.
func buildEmbedder(log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.Backend()))
	return emb, nil
}

// buildPipeline constructs the ingestion pipeline writing uploads to
// uploadDir.
func buildPipeline(emb rag.Embedder, idx rag.Index, uploadDir string) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(emb, idx, &ingestion.Config{UploadDir: uploadDir})
}

// buildAnswerer wires the retriever and the generation chain.
func buildAnswerer(ctx context.Context, chatModel model.BaseChatModel, providerCfg *provider.Config, emb rag.Embedder, idx rag.Index, history store.HistoryStore) (*qa.Answerer, error) {
	retriever, err := rag.NewRetriever(emb, idx, rag.DefaultTopK)
	if err != nil {
		return nil, err
	}
	return qa.New(ctx, &qa.Config{
		ChatModel:   chatModel,
		Retriever:   retriever,
		TopK:        rag.DefaultTopK,
		CallOptions: provider.CallOptions(providerCfg),
		History:     history,

		MaxContextTokens: getEnvInt("MODEL_CONTEXT_TOKENS", budget.DefaultMaxContextTokens),
	})
}

// buildHistory opens the Q&A history store. PDFRAG_HISTORY_DB overrides the
// default path; "disabled" turns history off. A store that fails to open is
// logged and disabled rather than aborting startup.
func buildHistory(log *slog.Logger) (store.HistoryStore, func()) {
	dbPath := getEnvOrDefault("PDFRAG_HISTORY_DB", store.DefaultDBPath)
	if dbPath == store.Disabled {
		log.Info("history: disabled via PDFRAG_HISTORY_DB=disabled")
		return nil, func() {}
	}

	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, func() {}
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs, func() { _ = hs.Close() }
}

// buildPingers assembles the readiness probes: the generation backend
// always, the index when it runs as a separate service.
func buildPingers(chatModel model.BaseChatModel, providerCfg *provider.Config, indexPinger server.Pinger) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(provider.NewHealthChecker(providerCfg), chatModel, string(providerCfg.Backend)),
	}
	if indexPinger != nil {
		pingers = append(pingers, indexPinger)
	}
	return pingers
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// getEnvOrDefault returns the value of key, or def if unset or empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns key parsed as an integer, or def if unset or invalid.
func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getEnvFloat returns key parsed as a float64, or def if unset or invalid.
func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
