package embedding

import (
	"fmt"
	"os"
	"strings"
)

// Config holds embedder configuration.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	OllamaURL string
	CacheSize int
}

// New creates an embedder with explicit configuration.
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model)
	case ProviderOllama:
		return NewOllamaProvider(cfg.OllamaURL, cfg.Model)
	case ProviderLocal:
		return NewLocalProvider()
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// NewFromEnv creates an embedder based on environment variables.
// Priority:
//  1. CODESEARCH_EMBEDDING_PROVIDER (openai, ollama, local)
//  2. OPENAI_API_KEY presence selects openai
//  3. Default to the local hash embedder
func NewFromEnv() (Embedder, error) {
	provider := strings.ToLower(os.Getenv("CODESEARCH_EMBEDDING_PROVIDER"))
	if provider != "" {
		return New(Config{
			Provider:  provider,
			APIKey:    os.Getenv(EnvOpenAIAPIKey),
			OllamaURL: os.Getenv("CODESEARCH_OLLAMA_URL"),
			Model:     os.Getenv("CODESEARCH_EMBEDDING_MODEL"),
		})
	}

	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return NewOpenAIProvider("", "")
	}

	return NewLocalProvider()
}

// DetectProvider returns the provider NewFromEnv would select.
func DetectProvider() string {
	if provider := os.Getenv("CODESEARCH_EMBEDDING_PROVIDER"); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
