package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HealthChecker probes a backend without spending tokens.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Model listing endpoints used as zero-token probes.
const (
	geminiModelsURL = "https://generativelanguage.googleapis.com/v1beta/models"
	openAIModelsURL = "https://api.openai.com/v1/models"
)

// httpChecker issues a GET and treats any 2xx as healthy.
type httpChecker struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// HealthCheck implements HealthChecker.
func (h *httpChecker) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NewHealthChecker returns a zero-token checker for cfg's backend: a model
// listing call for hosted APIs and /api/tags for Ollama. It returns nil for
// Ark, which has no listing endpoint reachable with an inference key.
func NewHealthChecker(cfg *Config) HealthChecker {
	client := &http.Client{Timeout: 10 * time.Second}
	switch cfg.Backend {
	case BackendGemini:
		return &httpChecker{
			url:     geminiModelsURL,
			headers: map[string]string{"x-goog-api-key": cfg.Gemini.APIKey},
			client:  client,
		}
	case BackendOpenAI:
		return &httpChecker{
			url:     openAIModelsURL,
			headers: map[string]string{"Authorization": "Bearer " + cfg.OpenAI.APIKey},
			client:  client,
		}
	case BackendAzure:
		u := strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/") +
			"/openai/models?api-version=" + url.QueryEscape(cfg.AzureOpenAI.APIVersion)
		return &httpChecker{
			url:     u,
			headers: map[string]string{"api-key": cfg.AzureOpenAI.APIKey},
			client:  client,
		}
	case BackendOllama:
		return &httpChecker{
			url:    strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags",
			client: client,
		}
	default:
		return nil
	}
}
