package tutor

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/lectio/internal/llm"
)

// assertStrict walks every object in def and checks the rules of strict
// structured output: all properties required, no additional properties.
func assertStrict(t *testing.T, path string, def map[string]any) {
	t.Helper()
	if props, ok := def["properties"].(map[string]any); ok {
		required, _ := def["required"].([]any)
		for name, sub := range props {
			assert.True(t, slices.Contains(required, any(name)), "%s.%s is not required", path, name)
			assertStrict(t, path+"."+name, sub.(map[string]any))
		}
		assert.Equal(t, false, def["additionalProperties"], "%s allows additional properties", path)
	}
	if items, ok := def["items"].(map[string]any); ok {
		assertStrict(t, path+"[]", items)
	}
}

func TestTurnSchemaIsStrict(t *testing.T) {
	assertStrict(t, "turn", TurnSchema.Definition)
}

func TestTurnSchemaValidates(t *testing.T) {
	valid := `{"reply":"Hola","quick_replies":[],"events_to_write":[{"type":"QUIZ_QUESTION","text":"¿Dónde?","word":"","expected_answer":"mar"}]}`
	require.NoError(t, llm.ValidateJSON(TurnSchema, json.RawMessage(valid)))

	tests := []struct {
		name    string
		doc     string
		path    string
		keyword string
	}{
		{"event type outside enum", `{"reply":"Hola","quick_replies":[],"events_to_write":[{"type":"MARK_KEY_IDEA","text":"x","word":"","expected_answer":""}]}`, "/events_to_write/0/type", "enum"},
		{"missing fields", `{"reply":"Hola"}`, "", "required"},
		{"extra field", `{"reply":"Hola","quick_replies":[],"events_to_write":[],"mood":"happy"}`, "", "additionalProperties"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := llm.ValidateJSON(TurnSchema, json.RawMessage(tt.doc))
			var invalid *llm.ErrInvalidResponse
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, TurnSchema.Name, invalid.Schema)
			assert.Equal(t, tt.path, invalid.Path)
			assert.Equal(t, tt.keyword, invalid.Keyword)
		})
	}
}
