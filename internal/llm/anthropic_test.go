package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

func newTestAnthropicProvider(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := anthropic.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)
	return &AnthropicProvider{
		client: &client,
		model:  "claude-haiku-4-5-20251001",
	}
}

func anthropicError(status int, errType, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": errType, "message": msg},
		})
	}
}

func TestAnthropicProvider_TutorTurn(t *testing.T) {
	var gotBody map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":   "msg_1",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "Un cauce es el lecho por donde corre el río."},
			},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 120, "output_tokens": 18},
		})
	}

	p := newTestAnthropicProvider(t, handler)
	resp, err := p.Generate(context.Background(), Request{
		System: "You are a reading tutor.",
		Messages: []Message{
			{Role: RoleUser, Content: "¿Qué es un cauce?"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Un cauce es el lecho por donde corre el río." {
		t.Fatalf("unexpected text: %q", resp.Text())
	}
	if resp.Provider != "anthropic" {
		t.Fatalf("expected provider anthropic, got %q", resp.Provider)
	}
	if resp.Usage.TotalTokens != 138 {
		t.Fatalf("expected 138 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if mt, _ := gotBody["max_tokens"].(float64); mt != defaultAnthropicMaxTokens {
		t.Fatalf("expected default max_tokens %d, got %v", defaultAnthropicMaxTokens, gotBody["max_tokens"])
	}
}

func TestAnthropicProvider_MaxTokensStop(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_2",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": "El río"}},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "max_tokens",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 2},
		})
	}

	resp, err := newTestAnthropicProvider(t, handler).Generate(context.Background(), Request{
		Messages:  []Message{{Role: RoleUser, Content: "resume"}},
		MaxTokens: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StopReason != "max_tokens" {
		t.Fatalf("expected max_tokens, got %q", resp.StopReason)
	}
}

func TestAnthropicProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
		want    Disposition
	}{
		{
			name:    "rate limit",
			handler: anthropicError(http.StatusTooManyRequests, "rate_limit_error", "Rate limit exceeded"),
			check:   func(err error) bool { var e *ErrRateLimit; return errors.As(err, &e) },
			want:    FailoverNow,
		},
		{
			name:    "overloaded",
			handler: anthropicError(529, "overloaded_error", "Overloaded"),
			check:   func(err error) bool { var e *ErrProviderUnavailable; return errors.As(err, &e) },
			want:    Retry,
		},
		{
			name:    "bad key",
			handler: anthropicError(http.StatusUnauthorized, "authentication_error", "invalid x-api-key"),
			check:   func(err error) bool { var e *ErrUnauthorized; return errors.As(err, &e) },
			want:    FailoverNow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestAnthropicProvider(t, tt.handler).Generate(context.Background(), Request{
				Messages: []Message{{Role: RoleUser, Content: "hola"}},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Fatalf("unexpected error type: %T (%v)", err, err)
			}
			if got := Classify(err); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAnthropicProvider_RetryAfterHeader(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		anthropicError(http.StatusTooManyRequests, "rate_limit_error", "slow down")(w, r)
	}

	_, err := newTestAnthropicProvider(t, handler).Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hola"}},
	})
	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("expected ErrRateLimit, got %T", err)
	}
	if rl.RetryAfter.Seconds() != 7 {
		t.Fatalf("expected 7s retry-after, got %s", rl.RetryAfter)
	}
}

func TestAnthropicProvider_NoEmbeddings(t *testing.T) {
	var p Provider = &AnthropicProvider{model: "claude-haiku-4-5-20251001"}
	if _, ok := asEmbedder(p); ok {
		t.Fatal("anthropic provider should not be used for embeddings")
	}
}

func TestAnthropicModelMapping(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"claude-sonnet", "claude-sonnet-4-5-20250929"},
		{"claude-haiku", "claude-haiku-4-5-20251001"},
		{"claude-opus-4-1", "claude-opus-4-1"},
	}
	for _, tt := range tests {
		if got := resolveModel(tt.input, anthropicModels); got != tt.expected {
			t.Errorf("resolveModel(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
