package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NewFromConfig builds the Orchestrator described by cfg. Each configured
// vendor is wrapped as guard → metering → base, and the degraded provider
// is appended last. A nil sink disables usage metering.
func NewFromConfig(ctx context.Context, cfg Config, sink UsageSink, log *zap.Logger) (*Orchestrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var providers []Provider
	for _, name := range cfg.Order {
		if cfg.apiKey(name) == "" {
			log.Info("LLM provider not configured, skipping", zap.String("provider", name))
			continue
		}
		base, err := newVendor(ctx, name, cfg)
		if err != nil {
			return nil, fmt.Errorf("initializing %s provider: %w", name, err)
		}

		var p Provider = base
		if sink != nil {
			p = WithMetering(p, sink, log)
		}
		p = WithGuard(p, GuardConfig{
			RequestsPerMinute: cfg.RequestsPerMinute,
			Cooldown:          cfg.Cooldown,
		})
		providers = append(providers, p)
	}
	providers = append(providers, NewDegradedProvider(cfg.DegradedMessage, cfg.DegradedEmbeddingDims))

	return NewOrchestrator(providers,
		WithRetryConfig(cfg.Retry),
		WithDefaults(CallOptions{AllowDegraded: cfg.AllowDegraded, Timeout: cfg.CallTimeout}),
		WithOrchestratorLogger(log),
	), nil
}

func newVendor(ctx context.Context, name string, cfg Config) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		return NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		return NewOpenRouterProvider(cfg.OpenRouter)
	}
	return nil, fmt.Errorf("unknown LLM provider: %q", name)
}
