package llm

import (
	"fmt"
	"os"
	"time"
)

// Config holds all LLM provider configuration.
type Config struct {
	// Order lists provider names in priority order. Providers without an
	// API key are skipped. The degraded fallback is always appended.
	// Values: "anthropic", "openai", "gemini", "openrouter"
	Order []string `koanf:"order"`

	Anthropic  AnthropicConfig  `koanf:"anthropic"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Gemini     GeminiConfig     `koanf:"gemini"`
	OpenRouter OpenRouterConfig `koanf:"openrouter"`
	Retry      RetryConfig      `koanf:"retry"`

	// CallTimeout bounds a single provider attempt. Default: 30s.
	CallTimeout time.Duration `koanf:"call_timeout"`

	// AllowDegraded lets the placeholder provider answer when every real
	// provider failed. Default: true.
	AllowDegraded bool `koanf:"allow_degraded"`

	// DegradedMessage overrides the placeholder text.
	DegradedMessage string `koanf:"degraded_message"`

	// DegradedEmbeddingDims, when positive, makes the degraded provider
	// return zero vectors of this size from GenerateEmbedding.
	DegradedEmbeddingDims int `koanf:"degraded_embedding_dims"`

	// RequestsPerMinute and Cooldown apply per provider (see GuardConfig).
	RequestsPerMinute float64       `koanf:"requests_per_minute"`
	Cooldown          time.Duration `koanf:"cooldown"`
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`    // Default: "claude-haiku"
	BaseURL string `koanf:"base_url"` // Optional.
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey         string `koanf:"api_key"`
	Model          string `koanf:"model"`           // Default: "gpt-4o-mini"
	BaseURL        string `koanf:"base_url"`        // Optional. Override for compatible APIs.
	EmbeddingModel string `koanf:"embedding_model"` // Default: "text-embedding-3-small"
}

// GeminiConfig holds Gemini-specific configuration.
type GeminiConfig struct {
	APIKey         string `koanf:"api_key"`
	Model          string `koanf:"model"`           // Default: "gemini-flash"
	BaseURL        string `koanf:"base_url"`        // Optional.
	EmbeddingModel string `koanf:"embedding_model"` // Default: "gemini-embedding-001"
}

// OpenRouterConfig holds OpenRouter-specific configuration.
type OpenRouterConfig struct {
	APIKey         string `koanf:"api_key"`
	Model          string `koanf:"model"`    // Default: "google/gemini-2.0-flash-001"
	BaseURL        string `koanf:"base_url"` // Default: "https://openrouter.ai/api/v1"
	EmbeddingModel string `koanf:"embedding_model"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Order: []string{"anthropic", "openai", "gemini", "openrouter"},
		Anthropic: AnthropicConfig{
			Model: "claude-haiku",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Gemini: GeminiConfig{
			Model: "gemini-flash",
		},
		OpenRouter: OpenRouterConfig{
			Model: "google/gemini-2.0-flash-001",
		},
		Retry:         DefaultRetryConfig(),
		CallTimeout:   30 * time.Second,
		AllowDegraded: true,
		Cooldown:      30 * time.Second,
	}
}

// FillStandardKeys copies vendor-standard API key variables
// (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, OPENROUTER_API_KEY)
// into any provider whose key is still empty.
func (c *Config) FillStandardKeys() {
	fill := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fill(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&c.OpenRouter.APIKey, "OPENROUTER_API_KEY")
}

// Validate checks the provider order and retry settings.
func (c Config) Validate() error {
	for _, name := range c.Order {
		switch name {
		case "anthropic", "openai", "gemini", "openrouter":
		default:
			return fmt.Errorf("unknown LLM provider: %q", name)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("llm.retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("llm.retry.delay must not be negative")
	}
	return nil
}

// apiKey returns the configured key for a provider name.
func (c Config) apiKey(name string) string {
	switch name {
	case "anthropic":
		return c.Anthropic.APIKey
	case "openai":
		return c.OpenAI.APIKey
	case "gemini":
		return c.Gemini.APIKey
	case "openrouter":
		return c.OpenRouter.APIKey
	}
	return ""
}
