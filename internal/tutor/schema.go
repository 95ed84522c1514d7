package tutor

import (
	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/reading"
)

// aiEventTypes are the only event types the tutor model may ask to record.
var aiEventTypes = []reading.EventType{
	reading.EventQuizQuestion,
	reading.EventCheckpointQuestion,
	reading.EventVocabDefinition,
}

// TurnSchema defines the JSON schema for one tutor turn. Every property is
// required so the schema can be sent in strict structured-output mode;
// unused strings are returned empty.
var TurnSchema = &llm.Schema{
	Name:        "tutor-turn",
	Description: "The tutor's reply to the reader, suggested follow-ups, and events to record",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reply": map[string]any{
				"type":        "string",
				"description": "What the tutor says to the reader (1-5 sentences)",
			},
			"quick_replies": map[string]any{
				"type":        "array",
				"description": "Short follow-ups the reader can tap, at most 4",
				"items":       map[string]any{"type": "string"},
			},
			"events_to_write": map[string]any{
				"type":        "array",
				"description": "Questions asked or definitions given in this reply",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type": map[string]any{
							"type": "string",
							"enum": []any{
								string(reading.EventQuizQuestion),
								string(reading.EventCheckpointQuestion),
								string(reading.EventVocabDefinition),
							},
						},
						"text": map[string]any{
							"type":        "string",
							"description": "The question, or the definition",
						},
						"word": map[string]any{
							"type":        "string",
							"description": "The word defined; empty for questions",
						},
						"expected_answer": map[string]any{
							"type":        "string",
							"description": "The answer expected for a question; empty for definitions",
						},
					},
					"required":             []any{"type", "text", "word", "expected_answer"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"reply", "quick_replies", "events_to_write"},
		"additionalProperties": false,
	},
}

type turnOutput struct {
	Reply         string        `json:"reply"`
	QuickReplies  []string      `json:"quick_replies"`
	EventsToWrite []eventOutput `json:"events_to_write"`
}

type eventOutput struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	Word           string `json:"word"`
	ExpectedAnswer string `json:"expected_answer"`
}
