package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Local is a chat model backed by Ollama's raw /api/generate endpoint.
// Responses stream as newline-delimited JSON; lines that fail to parse are
// skipped rather than aborting the stream, since a long generation is worth
// more than a single garbled line. Safe for concurrent use.
type Local struct {
	baseURL string
	model   string
	options map[string]any
	client  *http.Client
}

// NewLocal constructs a Local model from the given config.
func NewLocal(cfg *Config) *Local {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	options := map[string]any{}
	if cfg.Temperature > 0 {
		options["temperature"] = cfg.Temperature
	}
	if cfg.TopP > 0 {
		options["top_p"] = cfg.TopP
	}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}
	return &Local{
		baseURL: baseURL,
		model:   cfg.Model,
		options: options,
		// Generation can take minutes on CPU-only hosts; rely on ctx for cancellation.
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// generateRequest is the JSON body sent to /api/generate.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// generateChunk is one NDJSON line of a /api/generate response. The final
// line has Done set; non-streaming responses are a single such object.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate produces the complete response for the given messages.
func (m *Local) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	resp, err := m.post(ctx, input, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chunk generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("local model: decode response: %w", err)
	}
	if chunk.Error != "" {
		return nil, fmt.Errorf("local model: %s", chunk.Error)
	}
	return schema.AssistantMessage(chunk.Response, nil), nil
}

// Stream produces the response incrementally, one message chunk per NDJSON
// line. The returned reader ends with io.EOF after the final chunk.
func (m *Local) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	resp, err := m.post(ctx, input, true)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer resp.Body.Close()
		defer writer.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk generateChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				// Malformed line: skip it and keep streaming.
				continue
			}
			if chunk.Error != "" {
				writer.Send(nil, fmt.Errorf("local model: %s", chunk.Error))
				return
			}
			if chunk.Response != "" {
				if closed := writer.Send(schema.AssistantMessage(chunk.Response, nil), nil); closed {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			writer.Send(nil, fmt.Errorf("local model: read stream: %w", err))
		}
	}()
	return reader, nil
}

// post sends the generate request, flattening the message list into the
// prompt/system fields the endpoint expects.
func (m *Local) post(ctx context.Context, input []*schema.Message, stream bool) (*http.Response, error) {
	system, prompt := flatten(input)
	payload, err := json.Marshal(generateRequest{
		Model:   m.model,
		Prompt:  prompt,
		System:  system,
		Stream:  stream,
		Options: m.options,
	})
	if err != nil {
		return nil, fmt.Errorf("local model: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("local model: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local model: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("local model: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// flatten splits messages into the system instruction and a prompt
// transcript. A single user message passes through untouched; longer
// histories become a role-prefixed transcript ending at the assistant's turn.
func flatten(input []*schema.Message) (system, prompt string) {
	var sysParts, convParts []string
	var userOnly []*schema.Message
	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			sysParts = append(sysParts, msg.Content)
		case schema.Assistant:
			convParts = append(convParts, "Assistant: "+msg.Content)
		default:
			convParts = append(convParts, "User: "+msg.Content)
			userOnly = append(userOnly, msg)
		}
	}
	system = strings.Join(sysParts, "\n\n")
	if len(convParts) == 1 && len(userOnly) == 1 {
		return system, userOnly[0].Content
	}
	if len(convParts) > 0 {
		prompt = strings.Join(convParts, "\n") + "\nAssistant:"
	}
	return system, prompt
}
