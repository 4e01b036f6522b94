// Package tracing wires optional Langfuse tracing into the eino callback
// system so every answer generation shows up as a trace.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/pdfrag-go/internal/version"
)

// defaultHost is used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Config holds Langfuse credentials.
type Config struct {
	// Host is the Langfuse base URL.
	Host string
	// PublicKey is read from LANGFUSE_PUBLIC_KEY.
	PublicKey string
	// SecretKey is read from LANGFUSE_SECRET_KEY.
	SecretKey string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}
	return Config{
		Host:      host,
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup registers a global Langfuse handler when cfg is enabled and returns
// the flush function that must run before exit. When tracing is disabled it
// returns a no-op flush.
func Setup(cfg Config, log *slog.Logger) func() {
	if !cfg.Enabled() {
		log.Debug("tracing: langfuse disabled")
		return func() {}
	}

	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "pdfrag",
		Release:   version.Version,
	})
	callbacks.AppendGlobalHandlers(handler)

	log.Info("tracing: langfuse enabled", slog.String("host", cfg.Host))
	return flush
}
