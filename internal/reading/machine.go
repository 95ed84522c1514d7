package reading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// hookTimeout bounds each post-transition hook. Hooks run detached from the
// request context, so they need their own deadline.
const hookTimeout = 2 * time.Minute

// FinishHook runs after a session has been committed as FINISHED.
type FinishHook func(ctx context.Context, s Session) error

type namedHook struct {
	name string
	fn   FinishHook
}

// Machine owns the lifecycle of reading sessions. Every operation that
// reads and then writes a session runs under a per-session lock, and the
// write itself is a conditional update on the previous phase.
type Machine struct {
	repo     Repository
	contents ContentLookup
	profiles ProfileLookup
	gate     LayerGate
	log      *zap.Logger
	now      func() time.Time

	locks *keyedMutex

	hooksMu sync.RWMutex
	hooks   []namedHook
	running sync.WaitGroup
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger used for hook failures.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a phase machine over the given collaborators.
func NewMachine(repo Repository, contents ContentLookup, profiles ProfileLookup, gate LayerGate, opts ...Option) *Machine {
	m := &Machine{
		repo:     repo,
		contents: contents,
		profiles: profiles,
		gate:     gate,
		log:      zap.NewNop(),
		now:      time.Now,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnFinished registers a hook that runs after every successful transition to
// FINISHED. Hooks run asynchronously and independently: a failing or
// panicking hook is logged and does not affect the others.
func (m *Machine) OnFinished(name string, fn FinishHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, fn: fn})
}

// Wait blocks until all in-flight hooks have returned.
func (m *Machine) Wait() {
	m.running.Wait()
}

// StartResult is returned by StartSession. MinTargetWords is advisory and
// not stored on the session.
type StartResult struct {
	Session        *Session `json:"session"`
	MinTargetWords int      `json:"min_target_words"`
}

// StartSession creates a session in PRE for the user on the given content.
func (m *Machine) StartSession(ctx context.Context, userID, contentID string) (*StartResult, error) {
	content, err := m.contents.FindContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("content %s: %w", contentID, err)
	}

	layer, err := m.gate.DetermineLayer(ctx, userID, contentID)
	if err != nil {
		m.log.Warn("layer gating failed, using default layer",
			zap.String("user_id", userID),
			zap.String("content_id", contentID),
			zap.Error(err))
		layer = LayerL2
	}

	profile, err := m.profiles.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	now := m.now()
	s := &Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		ContentID:        content.ID,
		ContentVersionID: content.VersionID,
		Phase:            PhasePre,
		AssetLayer:       layer,
		TargetWords:      []string{},
		StartTime:        now,
		UpdatedAt:        now,
	}
	if err := m.repo.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &StartResult{
		Session:        s,
		MinTargetWords: MinTargetWords(profile.EducationLevel),
	}, nil
}

// Session returns the session after checking that userID owns it.
func (m *Machine) Session(ctx context.Context, sessionID, userID string) (*Session, error) {
	return m.load(ctx, sessionID, userID)
}

// UpdatePrePhase stores the goal-setting fields and moves the session to DURING.
func (m *Machine) UpdatePrePhase(ctx context.Context, sessionID, userID string, in PreReading) (*Session, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if s.Phase != PhasePre {
		return nil, invalid(fmt.Sprintf("pre-reading can only be updated in %s, session is in %s", PhasePre, s.Phase))
	}

	profile, err := m.profiles.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	words := cleanWords(in.TargetWords)
	if required := MinTargetWords(profile.EducationLevel); len(words) < required {
		return nil, invalid(fmt.Sprintf("at least %d target words are required, got %d", required, len(words)))
	}

	next := *s
	next.GoalStatement = strings.TrimSpace(in.GoalStatement)
	next.PredictionText = strings.TrimSpace(in.PredictionText)
	next.TargetWords = words
	next.Phase = PhaseDuring
	next.UpdatedAt = m.now()

	if err := m.repo.UpdateSession(ctx, &next, PhasePre); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return &next, nil
}

// SaveSummary stores the reader's note/summary. It is accepted while the
// session is DURING or POST.
func (m *Machine) SaveSummary(ctx context.Context, sessionID, userID, text string) (*Session, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if s.Phase != PhaseDuring && s.Phase != PhasePost {
		return nil, invalid(fmt.Sprintf("summary can only be saved in %s or %s, session is in %s", PhaseDuring, PhasePost, s.Phase))
	}

	next := *s
	next.Summary = text
	next.UpdatedAt = m.now()
	if err := m.repo.UpdateSession(ctx, &next, s.Phase); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return &next, nil
}

// AdvancePhase moves the session to POST (from PRE or DURING) or to
// FINISHED (from POST, after completion gating).
func (m *Machine) AdvancePhase(ctx context.Context, sessionID, userID string, to Phase) (*Session, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	switch to {
	case PhasePost:
		if s.Phase != PhasePre && s.Phase != PhaseDuring {
			return nil, invalid(fmt.Sprintf("cannot advance from %s to %s", s.Phase, to))
		}
	case PhaseFinished:
		if s.Phase != PhasePost {
			return nil, invalid(fmt.Sprintf("cannot advance from %s to %s", s.Phase, to))
		}
		if err := m.checkCompletion(ctx, s); err != nil {
			return nil, err
		}
	default:
		return nil, invalid(fmt.Sprintf("cannot advance from %s to %s", s.Phase, to))
	}

	now := m.now()
	next := *s
	next.Phase = to
	next.UpdatedAt = now
	if to == PhaseFinished {
		next.FinishedAt = &now
	}

	if err := m.repo.UpdateSession(ctx, &next, s.Phase); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if to == PhaseFinished {
		m.fireFinished(ctx, next)
	}
	return &next, nil
}

// AppendEvents appends events to the session log under the session lock.
// Events are stamped with ids and timestamps when missing. A FINISHED
// session's log is closed: its outcome was computed from it.
func (m *Machine) AppendEvents(ctx context.Context, sessionID, userID string, events ...Event) ([]Event, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if s.Phase == PhaseFinished {
		return nil, invalid("session is finished")
	}
	if len(events) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Event, len(events))
	for i, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.now()
		}
		if e.Payload == nil {
			e.Payload = Payload{}
		}
		e.SessionID = sessionID
		out[i] = e
	}
	if err := m.repo.AppendEvents(ctx, out...); err != nil {
		return nil, fmt.Errorf("append events: %w", err)
	}
	return out, nil
}

// checkCompletion runs all finish gates before any mutation and returns the
// first failure.
func (m *Machine) checkCompletion(ctx context.Context, s *Session) error {
	if strings.TrimSpace(s.Summary) == "" {
		return invalid("a summary is required before finishing the session")
	}

	responses, err := m.repo.CountEvents(ctx, s.ID, EventQuizResponse, EventCheckpointResponse)
	if err != nil {
		return fmt.Errorf("count responses: %w", err)
	}
	if responses == 0 {
		return invalid("at least one quiz or checkpoint response is required before finishing")
	}

	submissions, err := m.repo.CountEvents(ctx, s.ID, EventProductionSubmit)
	if err != nil {
		return fmt.Errorf("count submissions: %w", err)
	}
	if submissions == 0 {
		return invalid("at least one production submission is required before finishing")
	}
	return nil
}

func (m *Machine) load(ctx context.Context, sessionID, userID string) (*Session, error) {
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s.UserID != userID {
		return nil, ErrForbidden
	}
	return s, nil
}

func (m *Machine) fireFinished(ctx context.Context, s Session) {
	m.hooksMu.RLock()
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.hooksMu.RUnlock()

	base := context.WithoutCancel(ctx)
	for _, h := range hooks {
		m.running.Add(1)
		go func(h namedHook) {
			defer m.running.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("finish hook panicked",
						zap.String("hook", h.name),
						zap.String("session_id", s.ID),
						zap.Any("panic", r))
				}
			}()

			hctx, cancel := context.WithTimeout(base, hookTimeout)
			defer cancel()
			if err := h.fn(hctx, s); err != nil {
				m.log.Warn("finish hook failed",
					zap.String("hook", h.name),
					zap.String("session_id", s.ID),
					zap.Error(err))
			}
		}(h)
	}
}

func cleanWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}
