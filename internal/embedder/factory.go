package embedder

import (
	"fmt"

	"github.com/ragbot0/ragbot/internal/config"
	"github.com/ragbot0/ragbot/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ — override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// NewFromEnv constructs a rag.Embedder from the environment. Embedding
// settings inherit from the generation backend when no embedding-specific
// override is set, so a local-only setup needs no embedding config at all.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER — if unset, local/ollama generation backends imply
//     "ollama", everything else implies "openai"
//  2. EMBEDDING_ENDPOINT / EMBEDDING_API_KEY — override inherited values
//  3. EMBEDDING_MODEL — overrides the backend's default model
//  4. EMBEDDING_DIMENSIONS — overrides the default vector size
//     (ollama: 768, openai/azure: 1536)
func NewFromEnv() (rag.Embedder, error) {
	provider := config.Env("EMBEDDING_PROVIDER", "")
	if provider == "" {
		switch config.Env("MODEL_BACKEND", "local") {
		case "local", "ollama":
			provider = "ollama"
		default:
			provider = "openai"
		}
	}

	dims := config.EnvInt("EMBEDDING_DIMENSIONS", 0)

	switch provider {
	case "ollama":
		host := config.Env("EMBEDDING_ENDPOINT", "")
		if host == "" {
			host = config.Env("MODEL_BASE_URL", "")
		}
		if host == "" {
			host = config.Env("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllama(&OllamaConfig{
			Host:       host,
			Model:      config.Env("EMBEDDING_MODEL", defaultOllamaModel),
			Dimensions: dims,
		}), nil

	case "openai":
		apiKey := config.Env("EMBEDDING_API_KEY", "")
		if apiKey == "" {
			apiKey = config.Env("OPENAI_API_KEY", "")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAI(&OpenAIConfig{
			BaseURL:    config.Env("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
		}), nil

	case "azure":
		apiKey := config.Env("EMBEDDING_API_KEY", "")
		if apiKey == "" {
			apiKey = config.Env("AZURE_OPENAI_API_KEY", "")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := config.Env("EMBEDDING_ENDPOINT", "")
		if endpoint == "" {
			endpoint = config.Env("AZURE_OPENAI_ENDPOINT", "")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAI(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Azure:      true,
			APIVersion: config.Env("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown provider %q, valid values: ollama, openai, azure", provider)
	}
}
