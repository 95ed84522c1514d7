package scoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/lectio/internal/reading"
)

// Store is the persistence the scoring service needs.
type Store interface {
	reading.EventRepo
	reading.OutcomeRepo
}

// Service loads a session's history, scores it and upserts the outcome.
type Service struct {
	store    Store
	contents reading.ContentLookup
	engine   *Engine
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a scoring service.
func NewService(store Store, contents reading.ContentLookup, engine *Engine, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    store,
		contents: contents,
		engine:   engine,
		log:      log,
		now:      time.Now,
	}
}

// ScoreSession computes and stores the outcome for s. Recomputing with the
// same history overwrites the previous outcome with identical scores.
func (s *Service) ScoreSession(ctx context.Context, sess reading.Session) (*reading.Outcome, error) {
	events, err := s.store.ListEvents(ctx, sess.ID, reading.EventQuery{})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	var raw string
	content, err := s.contents.FindContent(ctx, sess.ContentID)
	if err != nil {
		s.log.Warn("scoring without content text",
			zap.String("session_id", sess.ID),
			zap.String("content_id", sess.ContentID),
			zap.Error(err))
	} else {
		raw = content.RawText
	}

	scores := s.engine.Score(Input{Events: events, RawText: raw, Layer: sess.AssetLayer})
	out := reading.Outcome{
		SessionID:          sess.ID,
		ComprehensionScore: scores.Comprehension,
		ProductionScore:    scores.Production,
		FrustrationIndex:   scores.Frustration,
		ComputedAt:         s.now(),
	}
	if err := s.store.UpsertOutcome(ctx, out); err != nil {
		return nil, fmt.Errorf("upsert outcome: %w", err)
	}

	s.log.Info("session scored",
		zap.String("session_id", sess.ID),
		zap.Int("comprehension", out.ComprehensionScore),
		zap.Int("production", out.ProductionScore),
		zap.Int("frustration", out.FrustrationIndex))
	return &out, nil
}
