package tracing

import (
	"log/slog"
	"testing"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LANGFUSE_HOST", "")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk")
	t.Setenv("LANGFUSE_SECRET_KEY", "")

	cfg := ConfigFromEnv()
	if cfg.Host != defaultHost {
		t.Errorf("Host = %q, want %q", cfg.Host, defaultHost)
	}
	if cfg.Enabled() {
		t.Error("tracing should be disabled without a secret key")
	}

	t.Setenv("LANGFUSE_SECRET_KEY", "sk")
	if !ConfigFromEnv().Enabled() {
		t.Error("tracing should be enabled with both keys")
	}
}

func TestSetup_DisabledIsNoop(t *testing.T) {
	t.Parallel()
	flush := Setup(Config{}, slog.Default())
	if flush == nil {
		t.Fatal("flush must never be nil")
	}
	flush()
}
