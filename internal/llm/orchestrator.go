package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/abhisek/lectio/internal/llm"

// CallOptions tune a single orchestrated call.
type CallOptions struct {
	// AllowDegraded permits the degraded fallback to answer.
	AllowDegraded bool

	// Timeout bounds each individual provider attempt. Zero uses the
	// Orchestrator default.
	Timeout time.Duration
}

// Orchestrator tries an ordered list of providers, one attempt at a time.
// Each provider gets up to RetryConfig.MaxAttempts calls with linear
// backoff; rate-limit and quota errors move on to the next provider at once.
type Orchestrator struct {
	providers []Provider
	retry     RetryConfig
	defaults  CallOptions
	log       *zap.Logger
	tracer    trace.Tracer
	sleep     func(context.Context, time.Duration) error
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRetryConfig sets the per-provider retry policy.
func WithRetryConfig(cfg RetryConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.retry = cfg }
}

// WithDefaults sets the options used by Generate.
func WithDefaults(opts CallOptions) OrchestratorOption {
	return func(o *Orchestrator) { o.defaults = opts }
}

// WithOrchestratorLogger sets the logger for attempt failures.
func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

// NewOrchestrator creates an Orchestrator over providers in priority order.
// The list normally ends with a DegradedProvider.
func NewOrchestrator(providers []Provider, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		retry:     DefaultRetryConfig(),
		defaults:  CallOptions{AllowDegraded: true, Timeout: 30 * time.Second},
		log:       zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Providers returns the configured providers in priority order.
func (o *Orchestrator) Providers() []Provider {
	return o.providers
}

// Generate runs GenerateWith using the default call options.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Response, error) {
	return o.GenerateWith(ctx, req, o.defaults)
}

// GenerateWith returns the first successful provider response. When every
// eligible provider fails it returns an error wrapping ErrAllProvidersFailed
// and each provider's last error.
func (o *Orchestrator) GenerateWith(ctx context.Context, req Request, opts CallOptions) (*Response, error) {
	ctx, span := o.tracer.Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(attribute.Bool("allow_degraded", opts.AllowDegraded))

	if opts.Timeout <= 0 {
		opts.Timeout = o.defaults.Timeout
	}

	var errs []error
	for _, p := range o.providers {
		if IsDegraded(p) && !opts.AllowDegraded {
			continue
		}
		if !p.Available() {
			o.log.Debug("provider unavailable, skipping", zap.String("provider", p.Name()))
			continue
		}

		resp, err := o.tryProvider(ctx, p, req, opts.Timeout)
		if err == nil {
			if resp.Provider == "" {
				resp.Provider = p.Name()
			}
			span.SetAttributes(
				attribute.String("provider", resp.Provider),
				attribute.String("model", resp.Model),
				attribute.Bool("degraded", resp.Degraded()),
			)
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			span.SetStatus(codes.Error, ctxErr.Error())
			return nil, ctxErr
		}
		if Classify(err) == Fatal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no provider available"))
	}
	err := fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
	span.RecordError(err)
	span.SetStatus(codes.Error, ErrAllProvidersFailed.Error())
	return nil, err
}

// tryProvider makes up to MaxAttempts sequential calls to p.
func (o *Orchestrator) tryProvider(ctx context.Context, p Provider, req Request, timeout time.Duration) (*Response, error) {
	maxAttempts := o.retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := withTimeout(ctx, timeout)
		resp, err := p.Generate(callCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}

		disposition := Classify(err)
		fields := []zap.Field{
			zap.String("provider", p.Name()),
			zap.Int("attempt", attempt),
			zap.Stringer("disposition", disposition),
			zap.Error(err),
		}
		var invalid *ErrInvalidResponse
		if errors.As(err, &invalid) && invalid.Keyword != "" {
			fields = append(fields,
				zap.String("schema", invalid.Schema),
				zap.String("schema_path", invalid.Path),
				zap.String("schema_keyword", invalid.Keyword))
		}
		o.log.Warn("provider attempt failed", fields...)

		if disposition != Retry || attempt == maxAttempts {
			break
		}
		if err := o.sleep(ctx, o.retry.Backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// IsAIAvailable reports whether any non-degraded provider is available.
func (o *Orchestrator) IsAIAvailable() bool {
	for _, p := range o.providers {
		if !IsDegraded(p) && p.Available() {
			return true
		}
	}
	return false
}

// GenerateEmbedding asks each embedding-capable provider once, in order.
// A degraded provider participates only if it was built with dimensions.
func (o *Orchestrator) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, span := o.tracer.Start(ctx, "llm.embed")
	defer span.End()

	var errs []error
	for _, p := range o.providers {
		e, ok := asEmbedder(p)
		if !ok || !p.Available() {
			continue
		}

		callCtx, cancel := withTimeout(ctx, o.defaults.Timeout)
		vec, err := e.Embed(callCtx, text)
		cancel()
		if err == nil {
			span.SetAttributes(attribute.String("provider", p.Name()), attribute.Int("dims", len(vec)))
			return vec, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		o.log.Warn("embedding failed", zap.String("provider", p.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no embedding provider available"))
	}
	err := fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
	span.RecordError(err)
	span.SetStatus(codes.Error, ErrAllProvidersFailed.Error())
	return nil, err
}

// asEmbedder returns p as an Embedder when its base provider supports
// embeddings. Decorators forward Embed, so the outer value is returned.
func asEmbedder(p Provider) (Embedder, bool) {
	e, ok := p.(Embedder)
	if !ok {
		return nil, false
	}
	if _, ok := Base(p).(Embedder); !ok {
		return nil, false
	}
	return e, true
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
