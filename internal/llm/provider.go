package llm

import (
	"context"
	"encoding/json"
)

// Provider is the core abstraction for LLM interaction. The Orchestrator
// holds an ordered list of Providers and tries them in turn.
type Provider interface {
	// Name identifies the vendor, e.g. "anthropic". It is recorded on
	// responses and usage records.
	Name() string

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string

	// Available reports whether the provider can take a request right now.
	// A provider cooling down after a rate limit reports false.
	Available() bool

	// Generate sends a prompt to the LLM and returns its response.
	// The request's Schema field, when set, instructs the provider to return
	// JSON conforming to that schema. The response Content will be the
	// validated JSON.
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Embedder is implemented by providers that can produce text embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Wrapper is implemented by decorators so callers can reach the base provider.
type Wrapper interface {
	Unwrap() Provider
}

// Base unwraps decorators until it reaches the innermost provider.
func Base(p Provider) Provider {
	for {
		w, ok := p.(Wrapper)
		if !ok {
			return p
		}
		p = w.Unwrap()
	}
}

// Request describes what to send to the LLM.
type Request struct {
	// System is the system prompt. Sets the LLM's role and constraints.
	System string

	// Messages is the conversation history, oldest first.
	Messages []Message

	// Schema is the JSON Schema the response must conform to.
	// When set, the provider uses its native structured output mechanism.
	// When nil, the response Content is the raw text.
	Schema *Schema

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int

	// Temperature controls randomness. Range: 0.0 - 1.0.
	Temperature float64
}

// Message represents a single message in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema defines the JSON structure expected from the LLM.
type Schema struct {
	// Name identifies this schema (schema name for OpenAI, cache key for
	// validation). Kebab-case, e.g. "tutor-turn".
	Name string

	// Description is sent to the LLM to guide generation.
	Description string

	// Definition is the JSON Schema definition as a map.
	Definition map[string]any
}

// Response holds the LLM's output.
type Response struct {
	// Content is the generated output. When a Schema was provided in the
	// request, this is the validated JSON object; otherwise it is the raw
	// text.
	Content json.RawMessage

	// Usage reports token consumption for this request.
	Usage Usage

	// Provider is the Name of the provider that served the request.
	Provider string

	// Model is the actual model that served the request.
	Model string

	// StopReason indicates why generation stopped.
	// Normalized to: "end", "max_tokens", "degraded"
	StopReason string
}

// Text returns Content as a string.
func (r *Response) Text() string {
	return string(r.Content)
}

// Degraded reports whether the response came from the degraded fallback.
func (r *Response) Degraded() bool {
	return r.StopReason == stopDegraded
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int `json:"prompt_tokens"`
	OutputTokens int `json:"completion_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
