package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrAllProvidersFailed is returned by the Orchestrator when every eligible
// provider failed and degraded mode was not allowed.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ErrEmbeddingUnsupported is returned by providers without an embedding API.
var ErrEmbeddingUnsupported = errors.New("embeddings not supported by provider")

// ErrRateLimit indicates the provider returned a rate limit error (429).
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrQuotaExceeded indicates the account has no remaining quota or credit.
type ErrQuotaExceeded struct {
	Err error
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("quota exceeded: %v", e.Err)
}

func (e *ErrQuotaExceeded) Unwrap() error { return e.Err }

// ErrUnauthorized indicates the provider rejected the credentials.
type ErrUnauthorized struct {
	Err error
}

func (e *ErrUnauthorized) Error() string {
	return fmt.Sprintf("unauthorized: %v", e.Err)
}

func (e *ErrUnauthorized) Unwrap() error { return e.Err }

// ErrInvalidResponse indicates the LLM returned content that does not
// conform to the requested schema.
type ErrInvalidResponse struct {
	Content json.RawMessage
	// Schema names the schema the content was checked against, if any.
	Schema string
	// Path is the JSON pointer of the first offending value ("" for the
	// document root) and Keyword the schema keyword it broke.
	Path    string
	Keyword string
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	if e.Schema != "" && e.Keyword != "" {
		return fmt.Sprintf("invalid LLM response for %s at %q (%s): %v", e.Schema, e.Path, e.Keyword, e.Err)
	}
	return fmt.Sprintf("invalid LLM response: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

// ErrProviderUnavailable indicates the provider is down or unreachable.
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM provider unavailable: %v", e.Err)
	}
	return "LLM provider unavailable"
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrMaxTokensExceeded indicates the response was truncated because it
// hit the MaxTokens limit.
type ErrMaxTokensExceeded struct {
	Content json.RawMessage
}

func (e *ErrMaxTokensExceeded) Error() string {
	return "LLM response truncated: max tokens exceeded"
}

// Disposition tells the Orchestrator what to do after a failed attempt.
type Disposition int

const (
	// Retry the same provider after backoff.
	Retry Disposition = iota
	// FailoverNow skips the remaining attempts on this provider.
	FailoverNow
	// Fatal stops the whole orchestration.
	Fatal
)

func (d Disposition) String() string {
	switch d {
	case Retry:
		return "retry"
	case FailoverNow:
		return "failover"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// quotaMarkers are message fragments vendors use for throttling when the
// error is not typed.
var quotaMarkers = []string{
	"rate limit", "rate_limit", "ratelimit", "too many requests",
	"quota", "resource_exhausted", "resource exhausted", "insufficient_quota",
}

// status429 matches a 429 reported as a status, not any run of those digits
// inside an id or a byte count.
var status429 = regexp.MustCompile(`(?i)\b(?:http|status(?:\s+code)?|code|error)\s*[:=]?\s*429\b`)

// Classify maps an attempt error to a Disposition. Timeouts and generic
// transport failures are retried. Caller cancellation is fatal.
func Classify(err error) Disposition {
	if err == nil {
		return Retry
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if IsRateLimitOrQuota(err) {
		return FailoverNow
	}

	var unauthorized *ErrUnauthorized
	var maxTok *ErrMaxTokensExceeded
	switch {
	case errors.As(err, &unauthorized), errors.As(err, &maxTok):
		return FailoverNow
	case errors.Is(err, ErrEmbeddingUnsupported):
		return FailoverNow
	}
	return Retry
}

// IsRateLimitOrQuota reports whether err signals throttling or exhausted
// quota, either through the typed errors or a known message fragment.
func IsRateLimitOrQuota(err error) bool {
	var rl *ErrRateLimit
	var quota *ErrQuotaExceeded
	if errors.As(err, &rl) || errors.As(err, &quota) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return status429.MatchString(msg)
}
