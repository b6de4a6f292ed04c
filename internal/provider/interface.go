// Package provider selects and constructs the text-generation backend at
// runtime. Supported backends: a raw local Ollama client (the default),
// Ollama via its chat API, OpenAI, Azure OpenAI, and Google Gemini.
package provider

// Backend enumerates the supported generation backends.
type Backend string

const (
	// BackendLocal talks to a local Ollama instance over its /api/generate
	// endpoint, streaming newline-delimited JSON.
	BackendLocal Backend = "local"
	// BackendOllama talks to Ollama over its /api/chat endpoint.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Config holds the provider-level settings resolved from environment
// variables or supplied explicitly by the caller.
type Config struct {
	// Backend identifies which generation backend to use.
	Backend Backend

	// Model is the model name or deployment ID (e.g. "llama3.2", "gpt-4o").
	Model string

	// BaseURL overrides the default API endpoint (required for local,
	// ollama, and azure).
	BaseURL string

	// APIKey is the credential for the selected backend. Unused for
	// local and ollama.
	APIKey string

	// AzureDeployment is the Azure OpenAI deployment name (azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (azure only).
	AzureAPIVersion string

	// MaxTokens caps the number of tokens generated per response.
	MaxTokens int

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32

	// TopP is the nucleus-sampling probability mass (0.0–1.0).
	TopP float32
}
