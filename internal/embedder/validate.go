package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelFragments identify chat/completion models that are not
// suitable for embedding.
var knownChatModelFragments = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama3", "llama2", "llama-3", "llama-2",
	"mistral", "mixtral", "gemma", "gemini",
	"phi-", "phi3", "claude", "command-r",
	"deepseek", "qwen", "vicuna", "falcon",
}

// looksLikeChatModel reports whether model resembles a chat model rather than
// a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, frag := range knownChatModelFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Validate is a startup pre-flight for the embedding configuration. It fails
// on missing credentials for the selected backend and warns when
// EMBEDDING_MODEL looks like a chat model. Call it before NewFromEnv so a
// misconfiguration surfaces at startup rather than on the first upload.
func Validate(log *slog.Logger) error {
	backend := Backend()

	switch backend {
	case "local", "ollama":
	case "openai":
		if firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: EMBEDDING_PROVIDER=openai but no API key found: set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: EMBEDDING_PROVIDER=azure but no API key found: set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT") == "" {
			return fmt.Errorf("embedder: EMBEDDING_PROVIDER=azure but no endpoint found: set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	default:
		return fmt.Errorf("embedder: unknown EMBEDDING_PROVIDER %q (valid: local, ollama, openai, azure)", backend)
	}

	if model := getEnv("EMBEDDING_MODEL"); model != "" && backend != "local" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}
	return nil
}
