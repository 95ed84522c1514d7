package memjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/reading"
	"github.com/abhisek/lectio/internal/statecache"
)

const (
	maxIdeaChars   = 200
	maxKeyIdeas    = 12
	maxUnknownWord = 40

	// FeatureMemorySummary tags LLM usage from the compactor.
	FeatureMemorySummary = "memory_summary"
)

// CompactState is the cached summary of a reader's history with one text.
type CompactState struct {
	Sessions      int       `json:"sessions"`
	KeyIdeas      []string  `json:"key_ideas,omitempty"`
	UnknownWords  []string  `json:"unknown_words,omitempty"`
	Comprehension int       `json:"comprehension"`
	Production    int       `json:"production"`
	Frustration   int       `json:"frustration"`
	Summary       string    `json:"summary,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Encode renders the state as JSON of at most statecache.MaxStateChars
// characters, dropping the oldest ideas and words first.
func (s CompactState) Encode() (string, error) {
	for {
		raw, err := json.Marshal(s)
		if err != nil {
			return "", err
		}
		if utf8.RuneCount(raw) <= statecache.MaxStateChars {
			return string(raw), nil
		}
		switch {
		case len(s.KeyIdeas) > 0:
			s.KeyIdeas = s.KeyIdeas[1:]
		case len(s.UnknownWords) > 0:
			s.UnknownWords = s.UnknownWords[1:]
		case s.Summary != "":
			s.Summary = truncate(s.Summary, utf8.RuneCountInString(s.Summary)/2)
		default:
			return "", errors.New("compact state does not fit")
		}
	}
}

// DecodeCompactState parses a cached state.
func DecodeCompactState(raw string) (CompactState, error) {
	var s CompactState
	err := json.Unmarshal([]byte(raw), &s)
	return s, err
}

// Summarizer is the slice of the LLM orchestrator the compactor uses.
type Summarizer interface {
	GenerateWith(ctx context.Context, req llm.Request, opts llm.CallOptions) (*llm.Response, error)
}

// Compactor is the Handler that folds a finished session into the cached
// compact state.
type Compactor struct {
	events     reading.EventRepo
	cache      statecache.Cache
	summarizer Summarizer
	log        *zap.Logger
	now        func() time.Time
}

// NewCompactor creates a Compactor. summarizer may be nil, in which case no
// prose summary is produced.
func NewCompactor(events reading.EventRepo, cache statecache.Cache, summarizer Summarizer, log *zap.Logger) *Compactor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compactor{events: events, cache: cache, summarizer: summarizer, log: log, now: time.Now}
}

// Handle implements Handler.
func (c *Compactor) Handle(ctx context.Context, job Job) error {
	state := c.previous(ctx, job)

	events, err := c.events.ListEvents(ctx, job.SessionID, reading.EventQuery{
		Types: []reading.EventType{reading.EventMarkKeyIdea, reading.EventMarkUnknownWord},
	})
	if err != nil {
		return fmt.Errorf("list session events: %w", err)
	}

	for _, e := range events {
		switch e.Type {
		case reading.EventMarkKeyIdea:
			if idea := strings.TrimSpace(e.Payload.String(reading.KeyText)); idea != "" {
				state.KeyIdeas = appendUnique(state.KeyIdeas, truncate(idea, maxIdeaChars))
			}
		case reading.EventMarkUnknownWord:
			word := e.Payload.String(reading.KeyNormalized)
			if word == "" {
				word = strings.ToLower(strings.TrimSpace(e.Payload.String(reading.KeyWord)))
			}
			if word != "" {
				state.UnknownWords = appendUnique(state.UnknownWords, word)
			}
		}
	}
	state.KeyIdeas = keepLast(state.KeyIdeas, maxKeyIdeas)
	state.UnknownWords = keepLast(state.UnknownWords, maxUnknownWord)

	state.Sessions++
	if job.Outcome != nil {
		state.Comprehension = job.Outcome.ComprehensionScore
		state.Production = job.Outcome.ProductionScore
		state.Frustration = job.Outcome.FrustrationIndex
	}
	if summary, ok := c.summarize(ctx, state); ok {
		state.Summary = summary
	}
	state.UpdatedAt = c.now().UTC()

	encoded, err := state.Encode()
	if err != nil {
		return err
	}
	if err := c.cache.Set(ctx, job.UserID, job.ContentID, encoded); err != nil {
		return fmt.Errorf("store compact state: %w", err)
	}
	c.log.Debug("compact state updated",
		zap.String("user_id", job.UserID),
		zap.String("content_id", job.ContentID),
		zap.Int("sessions", state.Sessions),
		zap.Int("chars", utf8.RuneCountInString(encoded)))
	return nil
}

func (c *Compactor) previous(ctx context.Context, job Job) CompactState {
	raw, err := c.cache.Get(ctx, job.UserID, job.ContentID)
	if errors.Is(err, statecache.ErrMiss) {
		return CompactState{}
	}
	if err != nil {
		c.log.Warn("reading previous compact state", zap.String("user_id", job.UserID), zap.Error(err))
		return CompactState{}
	}
	state, err := DecodeCompactState(raw)
	if err != nil {
		c.log.Warn("discarding unreadable compact state", zap.String("user_id", job.UserID), zap.Error(err))
		return CompactState{}
	}
	return state
}

var summarySchema = &llm.Schema{
	Name:        "memory-summary",
	Description: "A short summary of the reader's progress on a text",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string", "description": "At most three sentences"},
		},
		"required":             []any{"summary"},
		"additionalProperties": false,
	},
}

const summarySystemPrompt = "You keep notes for a reading tutor. Given what a reader marked and how " +
	"they scored, write at most three sentences on what they understood and what they struggled with. " +
	"Write in the language of the key ideas."

// summarize asks a real provider for a prose summary. Degraded answers are
// not accepted.
func (c *Compactor) summarize(ctx context.Context, s CompactState) (string, bool) {
	if c.summarizer == nil {
		return "", false
	}
	facts, err := json.Marshal(struct {
		KeyIdeas      []string `json:"key_ideas"`
		UnknownWords  []string `json:"unknown_words"`
		Comprehension int      `json:"comprehension"`
		Production    int      `json:"production"`
		Frustration   int      `json:"frustration"`
		Previous      string   `json:"previous_summary,omitempty"`
	}{s.KeyIdeas, s.UnknownWords, s.Comprehension, s.Production, s.Frustration, s.Summary})
	if err != nil {
		return "", false
	}

	resp, err := c.summarizer.GenerateWith(llm.WithFeature(ctx, FeatureMemorySummary), llm.Request{
		System:      summarySystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: string(facts)}},
		Schema:      summarySchema,
		MaxTokens:   300,
		Temperature: 0.2,
	}, llm.CallOptions{AllowDegraded: false})
	if err != nil {
		c.log.Warn("memory summary unavailable", zap.Error(err))
		return "", false
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		c.log.Warn("memory summary unreadable", zap.String("provider", resp.Provider), zap.Error(err))
		return "", false
	}
	summary := strings.TrimSpace(out.Summary)
	return summary, summary != ""
}

func appendUnique(list []string, v string) []string {
	if slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, v) }) {
		return list
	}
	return append(list, v)
}

func keepLast(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}

func truncate(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
