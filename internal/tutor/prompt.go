package tutor

import (
	"fmt"
	"strings"

	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/promptctx"
	"github.com/abhisek/lectio/internal/reading"
)

const systemPrompt = `You are a patient reading tutor. You guide one reader through one text: before reading you help them set a goal, while reading you answer questions about vocabulary and ideas and check understanding, after reading you help them summarize and write about what they read.

Rules:
- Answer in the language the reader writes in.
- Keep replies short (1-5 sentences) and grounded in the text excerpt. Do not invent facts about the text.
- Ask at most one question per reply. When you ask a quiz or checkpoint question, also record it in events_to_write with the expected answer.
- When you define a word, record it in events_to_write as VOCAB_DEFINITION with the word.
- Never give away the answer to a question you asked until the reader has tried.
- Readers can mark unknown words with [[word]] and key ideas with {{idea}}. Acknowledge marks briefly.`

// phaseGuidance tells the model what the reader should be doing now.
var phaseGuidance = map[reading.Phase]string{
	reading.PhasePre:    "The reader has not started reading. Help them state a goal, make a prediction and pick target words.",
	reading.PhaseDuring: "The reader is reading. Explain unknown words, highlight key ideas and ask an occasional checkpoint question.",
	reading.PhasePost:   "The reader has finished reading. Quiz their comprehension and help them write a short summary and a production text.",
}

func buildSessionBrief(s *reading.Session, pc *promptctx.PromptContext) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Phase: %s\n", s.Phase))
	if g, ok := phaseGuidance[s.Phase]; ok {
		b.WriteString(g + "\n")
	}
	b.WriteString(fmt.Sprintf("Difficulty layer: %s\n", s.AssetLayer))
	if s.GoalStatement != "" {
		b.WriteString(fmt.Sprintf("Reader's goal: %s\n", s.GoalStatement))
	}
	if s.PredictionText != "" {
		b.WriteString(fmt.Sprintf("Reader's prediction: %s\n", s.PredictionText))
	}
	if len(s.TargetWords) > 0 {
		b.WriteString(fmt.Sprintf("Target words: %s\n", strings.Join(s.TargetWords, ", ")))
	}

	b.WriteString("\nWhat we know about this reader on this text:\n")
	if pc.PedState == "" {
		b.WriteString("Nothing yet.\n")
	} else {
		b.WriteString(pc.PedState + "\n")
	}

	b.WriteString("\nText excerpt:\n")
	if pc.ContentSlice == "" {
		b.WriteString("(unavailable)\n")
	} else {
		b.WriteString(pc.ContentSlice + "\n")
	}
	return b.String()
}

// buildRequest assembles the conversation: a session brief, the recent
// turns oldest first, then the reader's new utterance.
func buildRequest(s *reading.Session, pc *promptctx.PromptContext, text string, cfg Config) llm.Request {
	msgs := make([]llm.Message, 0, len(pc.LastTurns)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: buildSessionBrief(s, pc)})
	for _, t := range pc.LastTurns {
		role := llm.RoleUser
		if t.Role == string(llm.RoleAssistant) {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	return llm.Request{
		System:      systemPrompt,
		Messages:    msgs,
		Schema:      TurnSchema,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}
