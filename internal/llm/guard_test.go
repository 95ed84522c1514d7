package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGuardedProvider_CooldownAfterRateLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inner := NewMockProvider(
		MockResponse{Err: &ErrRateLimit{RetryAfter: 5 * time.Second}},
	).Named("a").Always(okResponse("ok"))
	g := WithGuard(inner, GuardConfig{Cooldown: 30 * time.Second})
	g.now = func() time.Time { return now }

	if !g.Available() {
		t.Fatal("expected available before any call")
	}
	if _, err := g.Generate(context.Background(), Request{}); err == nil {
		t.Fatal("expected rate limit error")
	}
	if g.Available() {
		t.Fatal("expected cooldown after rate limit")
	}

	now = now.Add(29 * time.Second)
	if g.Available() {
		t.Fatal("cooldown ended early")
	}
	now = now.Add(2 * time.Second)
	if !g.Available() {
		t.Fatal("expected provider back after cooldown")
	}
}

func TestGuardedProvider_RetryAfterWins(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inner := NewMockProvider(MockResponse{Err: &ErrRateLimit{RetryAfter: 2 * time.Minute}})
	g := WithGuard(inner, GuardConfig{Cooldown: 30 * time.Second})
	g.now = func() time.Time { return now }

	g.Generate(context.Background(), Request{})
	now = now.Add(time.Minute)
	if g.Available() {
		t.Fatal("vendor Retry-After should extend the cooldown")
	}
}

func TestGuardedProvider_OtherErrorsNoCooldown(t *testing.T) {
	inner := NewMockProvider(MockResponse{Err: &ErrProviderUnavailable{Err: errors.New("502")}})
	g := WithGuard(inner, GuardConfig{Cooldown: time.Minute})

	g.Generate(context.Background(), Request{})
	if !g.Available() {
		t.Fatal("transport errors must not trigger a cooldown")
	}
}

func TestGuardedProvider_LocalBudget(t *testing.T) {
	inner := NewMockProvider().Always(okResponse("ok"))
	g := WithGuard(inner, GuardConfig{RequestsPerMinute: 6})

	if _, err := g.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("first call within budget failed: %v", err)
	}
	if g.Available() {
		t.Fatal("expected unavailable once the budget is spent")
	}

	_, err := g.Generate(context.Background(), Request{})
	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
	if inner.CallCount() != 1 {
		t.Fatalf("over-budget call reached the vendor: %d calls", inner.CallCount())
	}
}

func TestGuardedProvider_Embed(t *testing.T) {
	inner := NewMockProvider()
	inner.AddEmbedding([]float32{0.5})
	g := WithGuard(inner, GuardConfig{})

	vec, err := g.Embed(context.Background(), "río")
	if err != nil || len(vec) != 1 {
		t.Fatalf("unexpected embed result %v, %v", vec, err)
	}
	if g.Unwrap() != Provider(inner) {
		t.Fatal("Unwrap should return the inner provider")
	}
}
