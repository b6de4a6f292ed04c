package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/ragbot0/ragbot/internal/config"
)

// NewFromEnv constructs a chat model from environment variables.
// MODEL_BACKEND selects the backend (default: local).
//
// Environment variables:
//
//	MODEL_BACKEND      = local | ollama | openai | azure | gemini (default: local)
//	MODEL_NAME         = model name or Azure deployment (default: llama3.2)
//	MODEL_BASE_URL     = endpoint override (local/ollama default: http://localhost:11434)
//	MODEL_API_KEY      = credential for openai/azure/gemini
//	MODEL_TEMPERATURE  = sampling temperature (default: 0.7)
//	MODEL_TOP_P        = nucleus sampling mass (default: 0.9)
//	MODEL_MAX_TOKENS   = generation cap (default: 2048)
//
//	Azure only: AZURE_OPENAI_DEPLOYMENT, AZURE_OPENAI_API_VERSION (default: 2024-02-01)
func NewFromEnv(ctx context.Context) (model.BaseChatModel, error) {
	cfg := &Config{
		Backend:         Backend(config.Env("MODEL_BACKEND", string(BackendLocal))),
		Model:           config.Env("MODEL_NAME", "llama3.2"),
		BaseURL:         config.Env("MODEL_BASE_URL", ""),
		APIKey:          config.Env("MODEL_API_KEY", ""),
		AzureDeployment: config.Env("AZURE_OPENAI_DEPLOYMENT", ""),
		AzureAPIVersion: config.Env("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		MaxTokens:       config.EnvInt("MODEL_MAX_TOKENS", 2048),
		Temperature:     float32(config.EnvFloat("MODEL_TEMPERATURE", 0.7)),
		TopP:            float32(config.EnvFloat("MODEL_TOP_P", 0.9)),
	}
	return New(ctx, cfg)
}

// New constructs a chat model from an explicit Config, delegating to the
// backend constructors. Validation happens here so callers get a clear error
// at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	switch cfg.Backend {
	case BackendLocal:
		return NewLocal(cfg), nil
	case BackendOllama:
		return newOllama(ctx, cfg)
	case BackendOpenAI:
		return newOpenAI(ctx, cfg)
	case BackendAzure:
		return newAzure(ctx, cfg)
	case BackendGemini:
		return newGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q, valid values: local, ollama, openai, azure, gemini", cfg.Backend)
	}
}
