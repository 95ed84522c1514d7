package llm

import (
	"context"
	"time"
)

// RetryConfig configures per-provider retry behavior.
type RetryConfig struct {
	// MaxAttempts is the number of calls made to one provider before
	// failing over. Values below 1 are treated as 1.
	MaxAttempts int `koanf:"max_attempts"`

	// Delay is the base wait. The wait after attempt n is n*Delay.
	Delay time.Duration `koanf:"delay"`
}

// DefaultRetryConfig returns 3 attempts with a 1s linear backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Delay: time.Second}
}

func (c RetryConfig) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// Backoff returns the wait after the given 1-based attempt.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.Delay * time.Duration(attempt)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
