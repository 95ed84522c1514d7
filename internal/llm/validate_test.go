package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

func tutorTurnSchema() *Schema {
	return &Schema{
		Name:        "test-tutor-turn",
		Description: "One tutor reply",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reply": map[string]any{"type": "string", "minLength": 1},
				"quick_replies": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"events_to_write": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"type": map[string]any{
								"type": "string",
								"enum": []any{"QUIZ_QUESTION", "CHECKPOINT_QUESTION", "VOCAB_DEFINITION"},
							},
						},
						"required": []any{"type"},
					},
				},
			},
			"required": []any{"reply"},
		},
	}
}

func TestValidateResponse_ValidTurn(t *testing.T) {
	raw := json.RawMessage(`{"reply":"Bien. ¿Por qué crees que el río cambió de cauce?","quick_replies":["No sé"],"events_to_write":[{"type":"CHECKPOINT_QUESTION"}]}`)
	if err := validateResponse(tutorTurnSchema(), raw); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidateResponse_ReplyOnly(t *testing.T) {
	raw := json.RawMessage(`{"reply":"Sigue leyendo."}`)
	if err := validateResponse(tutorTurnSchema(), raw); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidateResponse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing reply", `{"quick_replies":[]}`},
		{"empty reply", `{"reply":""}`},
		{"wrong type", `{"reply":42}`},
		{"event type outside enum", `{"reply":"ok","events_to_write":[{"type":"FINISHED"}]}`},
		{"event without type", `{"reply":"ok","events_to_write":[{}]}`},
		{"quick replies not strings", `{"reply":"ok","quick_replies":[1,2]}`},
		{"malformed", `{reply:`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateResponse(tutorTurnSchema(), json.RawMessage(tt.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			var invErr *ErrInvalidResponse
			if !errors.As(err, &invErr) {
				t.Fatalf("expected ErrInvalidResponse, got: %T", err)
			}
			if string(invErr.Content) != tt.raw {
				t.Fatalf("expected offending content to be kept, got %q", invErr.Content)
			}
		})
	}
}

func TestValidateResponse_NilSchema(t *testing.T) {
	if err := validateResponse(nil, json.RawMessage(`plain text reply`)); err != nil {
		t.Fatalf("expected no error with nil schema, got: %v", err)
	}
}

func TestValidateResponse_ReportsFailingPath(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		path    string
		keyword string
	}{
		{"event type outside enum", `{"reply":"ok","events_to_write":[{"type":"FINISHED"}]}`, "/events_to_write/0/type", "enum"},
		{"missing reply", `{"quick_replies":[]}`, "", "required"},
		{"wrong type", `{"reply":42}`, "/reply", "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateResponse(tutorTurnSchema(), json.RawMessage(tt.raw))
			var invErr *ErrInvalidResponse
			if !errors.As(err, &invErr) {
				t.Fatalf("expected ErrInvalidResponse, got: %v", err)
			}
			if invErr.Schema != "test-tutor-turn" {
				t.Errorf("schema = %q", invErr.Schema)
			}
			if invErr.Path != tt.path || invErr.Keyword != tt.keyword {
				t.Errorf("got path %q keyword %q, want %q %q", invErr.Path, invErr.Keyword, tt.path, tt.keyword)
			}
		})
	}
}

func TestValidateJSON_SchemasSharingANameStayApart(t *testing.T) {
	strict := &Schema{Name: "memory-summary", Definition: map[string]any{
		"type":       "object",
		"properties": map[string]any{"summary": map[string]any{"type": "string"}},
		"required":   []any{"summary"},
	}}
	loose := &Schema{Name: "memory-summary", Definition: map[string]any{"type": "object"}}

	raw := json.RawMessage(`{"note":"x"}`)
	if err := ValidateJSON(strict, raw); err == nil {
		t.Fatal("expected the strict schema to reject a document without summary")
	}
	if err := ValidateJSON(loose, raw); err != nil {
		t.Fatalf("loose schema reused the strict compilation: %v", err)
	}
	if err := ValidateJSON(strict, raw); err == nil {
		t.Fatal("strict schema lost its compilation")
	}
}
