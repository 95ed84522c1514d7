package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GuardConfig bounds how hard one provider is driven.
type GuardConfig struct {
	// RequestsPerMinute is the local request budget. Zero disables it.
	RequestsPerMinute float64 `koanf:"requests_per_minute"`

	// Cooldown is how long the provider reports unavailable after a
	// rate-limit or quota error. A larger RetryAfter from the vendor wins.
	Cooldown time.Duration `koanf:"cooldown"`
}

var errBudgetExhausted = errors.New("local request budget exhausted")

// GuardedProvider is a decorator that enforces a request budget and backs
// off after the vendor throttles.
type GuardedProvider struct {
	inner    Provider
	limiter  *rate.Limiter
	cooldown time.Duration
	now      func() time.Time

	mu    sync.Mutex
	until time.Time
}

// WithGuard wraps a Provider with a request budget and rate-limit cooldown.
func WithGuard(p Provider, cfg GuardConfig) *GuardedProvider {
	g := &GuardedProvider{
		inner:    p,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
	if cfg.RequestsPerMinute > 0 {
		burst := max(1, int(cfg.RequestsPerMinute/6))
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), burst)
	}
	return g
}

func (g *GuardedProvider) Name() string { return g.inner.Name() }
func (g *GuardedProvider) ModelID() string { return g.inner.ModelID() }
func (g *GuardedProvider) Unwrap() Provider { return g.inner }

// Available is false while cooling down or when the budget has no token.
func (g *GuardedProvider) Available() bool {
	g.mu.Lock()
	cooling := g.now().Before(g.until)
	g.mu.Unlock()
	if cooling {
		return false
	}
	if g.limiter != nil && g.limiter.Tokens() < 1 {
		return false
	}
	return g.inner.Available()
}

func (g *GuardedProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return nil, &ErrRateLimit{Err: errBudgetExhausted}
	}
	resp, err := g.inner.Generate(ctx, req)
	if err != nil {
		g.observe(err)
	}
	return resp, err
}

func (g *GuardedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	e, ok := g.inner.(Embedder)
	if !ok {
		return nil, ErrEmbeddingUnsupported
	}
	if g.limiter != nil && !g.limiter.Allow() {
		return nil, &ErrRateLimit{Err: errBudgetExhausted}
	}
	vec, err := e.Embed(ctx, text)
	if err != nil {
		g.observe(err)
	}
	return vec, err
}

// observe starts a cooldown after a vendor-side throttle.
func (g *GuardedProvider) observe(err error) {
	if !IsRateLimitOrQuota(err) || errors.Is(err, errBudgetExhausted) {
		return
	}
	wait := g.cooldown
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > wait {
		wait = rl.RetryAfter
	}
	if wait <= 0 {
		return
	}
	g.mu.Lock()
	g.until = g.now().Add(wait)
	g.mu.Unlock()
}
