// Package promptctx assembles what the tutor model sees on a turn: cached
// pedagogical state, the recent conversation and an excerpt of the text
// being read. Every source is best-effort.
package promptctx

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/lectio/internal/reading"
	"github.com/abhisek/lectio/internal/statecache"
)

// StateCache reads the compact pedagogical state of a user on a content.
// statecache.ErrMiss means nothing is cached.
type StateCache interface {
	Get(ctx context.Context, userID, contentID string) (string, error)
}

// Config bounds the assembled context.
type Config struct {
	Window       int           `koanf:"window"`
	TopK         int           `koanf:"top_k"`
	SliceChars   int           `koanf:"slice_chars"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// DefaultConfig returns the standard window of 6 turns, topK 6 and a
// 12,000 character content excerpt.
func DefaultConfig() Config {
	return Config{
		Window:       6,
		TopK:         6,
		SliceChars:   12000,
		FetchTimeout: 3 * time.Second,
	}
}

// Turn is one side of an earlier tutor exchange.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Plan records how a PromptContext was composed.
type Plan struct {
	Window      int      `json:"window"`
	TopK        int      `json:"top_k"`
	SliceLength int      `json:"slice_length"`
	Turns       int      `json:"turns"`
	StateCached bool     `json:"state_cached"`
	Skipped     []string `json:"skipped,omitempty"`
}

// PromptContext is the transient bundle handed to the tutor prompt.
type PromptContext struct {
	PedState     string `json:"ped_state"`
	LastTurns    []Turn `json:"last_turns"`
	ContentSlice string `json:"content_slice"`
	Plan         Plan   `json:"plan"`
}

// Builder fetches the three context sources concurrently.
type Builder struct {
	events   reading.EventRepo
	contents reading.ContentLookup
	cache    StateCache
	cfg      Config
	log      *zap.Logger
}

// NewBuilder creates a Builder. cache may be nil, in which case the
// pedagogical state is always empty. Non-positive config values fall back
// to DefaultConfig.
func NewBuilder(events reading.EventRepo, contents reading.ContentLookup, cache StateCache, cfg Config, log *zap.Logger) *Builder {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.SliceChars <= 0 {
		cfg.SliceChars = def.SliceChars
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{events: events, contents: contents, cache: cache, cfg: cfg, log: log}
}

// Build never fails. A source that errors or times out contributes its
// zero value and is listed in Plan.Skipped.
func (b *Builder) Build(ctx context.Context, sessionID, userID, contentID string) *PromptContext {
	var (
		state   string
		cached  bool
		turns   []Turn
		excerpt string
		skipped [3]string
	)

	var g errgroup.Group
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(ctx, b.cfg.FetchTimeout)
		defer cancel()
		s, err := b.loadState(fctx, userID, contentID)
		if err != nil {
			skipped[0] = "state"
			return nil
		}
		state, cached = s, s != ""
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(ctx, b.cfg.FetchTimeout)
		defer cancel()
		t, err := b.recentTurns(fctx, sessionID)
		if err != nil {
			b.log.Warn("recent turns unavailable", zap.String("session_id", sessionID), zap.Error(err))
			skipped[1] = "turns"
			return nil
		}
		turns = t
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(ctx, b.cfg.FetchTimeout)
		defer cancel()
		c, err := b.contents.FindContent(fctx, contentID)
		if err != nil {
			b.log.Warn("content unavailable", zap.String("content_id", contentID), zap.Error(err))
			skipped[2] = "content"
			return nil
		}
		excerpt = Truncate(c.RawText, b.cfg.SliceChars)
		return nil
	})
	_ = g.Wait()

	if turns == nil {
		turns = []Turn{}
	}
	pc := &PromptContext{
		PedState:     state,
		LastTurns:    turns,
		ContentSlice: excerpt,
		Plan: Plan{
			Window:      b.cfg.Window,
			TopK:        b.cfg.TopK,
			SliceLength: utf8.RuneCountInString(excerpt),
			Turns:       len(turns),
			StateCached: cached,
		},
	}
	for _, s := range skipped {
		if s != "" {
			pc.Plan.Skipped = append(pc.Plan.Skipped, s)
		}
	}
	b.log.Debug("prompt context built",
		zap.String("session_id", sessionID),
		zap.Int("turns", pc.Plan.Turns),
		zap.Int("slice_length", pc.Plan.SliceLength),
		zap.Bool("state_cached", cached),
		zap.Strings("skipped", pc.Plan.Skipped))
	return pc
}

func (b *Builder) loadState(ctx context.Context, userID, contentID string) (string, error) {
	if b.cache == nil {
		return "", nil
	}
	s, err := b.cache.Get(ctx, userID, contentID)
	if errors.Is(err, statecache.ErrMiss) {
		return "", nil
	}
	if err != nil {
		b.log.Warn("compact state unavailable",
			zap.String("user_id", userID),
			zap.String("content_id", contentID),
			zap.Error(err))
		return "", err
	}
	return s, nil
}

func (b *Builder) recentTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	events, err := b.events.ListEvents(ctx, sessionID, reading.EventQuery{
		Types: []reading.EventType{reading.EventPromptSent, reading.EventPromptReceived},
		Last:  b.cfg.Window,
	})
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, len(events))
	for i, e := range events {
		turns[i] = Turn{
			Role:      e.Payload.String(reading.KeyRole),
			Text:      e.Payload.String(reading.KeyText),
			Timestamp: e.CreatedAt,
		}
	}
	return turns, nil
}

// Truncate returns at most max characters of s, never splitting a rune.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
