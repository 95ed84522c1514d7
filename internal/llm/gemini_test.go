package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestGeminiProvider(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-flash",
		BaseURL: server.URL + "/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func geminiError(status int, code int, statusText, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": code, "message": msg, "status": statusText},
		})
	}
}

func TestGeminiModelMapping(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"gemini-flash", "gemini-2.0-flash"},
		{"gemini-pro", "gemini-2.0-pro"},
		{"gemini-2.5-flash", "gemini-2.5-flash"},
	}
	for _, tt := range tests {
		if got := resolveModel(tt.input, geminiModels); got != tt.expected {
			t.Errorf("resolveModel(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestBuildGeminiSchema_TutorTurn(t *testing.T) {
	schema := buildGeminiSchema(tutorTurnSchema().Definition)

	if schema.Type != "OBJECT" {
		t.Fatalf("expected OBJECT type, got %s", schema.Type)
	}
	if len(schema.Properties) != 3 {
		t.Fatalf("expected 3 properties, got %d", len(schema.Properties))
	}
	if schema.Properties["reply"].Type != "STRING" {
		t.Fatalf("expected STRING for reply, got %s", schema.Properties["reply"].Type)
	}
	events := schema.Properties["events_to_write"]
	if events.Type != "ARRAY" || events.Items.Type != "OBJECT" {
		t.Fatalf("unexpected events_to_write schema: %+v", events)
	}
	if got := len(events.Items.Properties["type"].Enum); got != 3 {
		t.Fatalf("expected 3 event types, got %d", got)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "reply" {
		t.Fatalf("unexpected required fields %v", schema.Required)
	}
}

func TestBuildGeminiSchema_PropertyOrdering(t *testing.T) {
	schema := buildGeminiSchema(tutorTurnSchema().Definition)

	want := []string{"reply", "events_to_write", "quick_replies"}
	if strings.Join(schema.PropertyOrdering, ",") != strings.Join(want, ",") {
		t.Fatalf("ordering = %v, want %v", schema.PropertyOrdering, want)
	}
	item := schema.Properties["events_to_write"].Items
	if len(item.PropertyOrdering) != 1 || item.PropertyOrdering[0] != "type" {
		t.Fatalf("item ordering = %v", item.PropertyOrdering)
	}
	if schema.Properties["reply"].PropertyOrdering != nil {
		t.Fatal("scalar schemas carry no ordering")
	}
}

func TestGeminiProvider_Generate(t *testing.T) {
	var gotPath string
	handler := func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role":  "model",
						"parts": []map[string]any{{"text": `{"reply":"¿Qué parte te costó más?"}`}},
					},
					"finishReason": "STOP",
				},
			},
			"usageMetadata": map[string]any{
				"promptTokenCount":     30,
				"candidatesTokenCount": 9,
				"totalTokenCount":      39,
			},
		})
	}

	p := newTestGeminiProvider(t, handler)
	resp, err := p.Generate(context.Background(), Request{
		System:   "You are a reading tutor.",
		Messages: []Message{{Role: RoleUser, Content: "terminé el párrafo"}},
		Schema:   tutorTurnSchema(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(gotPath, "gemini-2.0-flash:generateContent") {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if resp.Provider != "gemini" || resp.StopReason != "end" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Usage.TotalTokens != 39 {
		t.Fatalf("expected 39 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestGeminiProvider_Embed(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []map[string]any{{"values": []float32{0.1, 0.2}}},
		})
	}

	vec, err := newTestGeminiProvider(t, handler).Embed(context.Background(), "cauce")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("expected 2 dims, got %d", len(vec))
	}
}

func TestGeminiProvider_ErrorMapping(t *testing.T) {
	t.Run("rate limit", func(t *testing.T) {
		p := newTestGeminiProvider(t, geminiError(http.StatusTooManyRequests, 429, "RESOURCE_EXHAUSTED", "Resource has been exhausted"))
		_, err := p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hola"}}})
		var rl *ErrRateLimit
		if !errors.As(err, &rl) {
			t.Fatalf("expected ErrRateLimit, got %T (%v)", err, err)
		}
	})

	t.Run("bad key", func(t *testing.T) {
		p := newTestGeminiProvider(t, geminiError(http.StatusForbidden, 403, "PERMISSION_DENIED", "API key not valid"))
		_, err := p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hola"}}})
		var unauth *ErrUnauthorized
		if !errors.As(err, &unauth) {
			t.Fatalf("expected ErrUnauthorized, got %T (%v)", err, err)
		}
	})
}
