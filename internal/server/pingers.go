package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/pdfrag-go/internal/provider"
)

// LLMPinger probes the generation backend. It satisfies the Pinger interface
// and is used by GET /api/ready.
type LLMPinger struct {
	// checker is the zero-token probe for the backend; nil when the backend
	// has none.
	checker provider.HealthChecker
	// model is probed with a one-word Generate call when checker is nil.
	model model.BaseChatModel
	// name identifies the backend in readiness responses (e.g. "gemini").
	name string
}

// NewLLMPinger constructs an LLMPinger. checker may be nil, in which case m
// is probed directly.
func NewLLMPinger(checker provider.HealthChecker, m model.BaseChatModel, name string) *LLMPinger {
	return &LLMPinger{checker: checker, model: m, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend for readiness. The zero-token checker is used
// when available; otherwise it falls back to a Generate call, which consumes
// tokens.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.checker != nil {
		if err := p.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return fmt.Errorf("%s: no health check or model configured", p.name)
	}

	slog.Warn("pinger: falling back to Generate-based health check, tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")}, model.WithMaxTokens(1))
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// indexPinger is implemented by index backends that run as a separate
// service. *rag.QdrantIndex satisfies it.
type indexPinger interface {
	Ping(ctx context.Context) error
}

// QdrantPinger probes the Qdrant index backend. It satisfies the Pinger
// interface and is used by GET /api/ready.
type QdrantPinger struct {
	// index is the Qdrant-backed index to probe.
	index indexPinger
}

// NewQdrantPinger constructs a QdrantPinger for the given index.
func NewQdrantPinger(index indexPinger) *QdrantPinger {
	return &QdrantPinger{index: index}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC through the index.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.index.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
