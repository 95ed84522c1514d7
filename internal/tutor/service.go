// Package tutor is the session orchestrator. It routes reader utterances
// either to the quick-command path, which only records events and may move
// the phase, or to the AI path, which enriches context, asks the LLM
// orchestrator for a structured turn and records the exchange. It also owns
// what happens when a session finishes: scoring, metrics and the memory job.
package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/memjob"
	"github.com/abhisek/lectio/internal/promptctx"
	"github.com/abhisek/lectio/internal/quickcmd"
	"github.com/abhisek/lectio/internal/reading"
)

const (
	instrumentationName = "github.com/abhisek/lectio/internal/tutor"

	// FeatureTurn tags usage records for tutor turns.
	FeatureTurn = "tutor_turn"

	finishHookName = "score-and-remember"
)

// Generator produces LLM responses. *llm.Orchestrator satisfies it.
type Generator interface {
	GenerateWith(ctx context.Context, req llm.Request, opts llm.CallOptions) (*llm.Response, error)
}

// ContextBuilder assembles the prompt context for a turn.
type ContextBuilder interface {
	Build(ctx context.Context, sessionID, userID, contentID string) *promptctx.PromptContext
}

// Scorer computes and stores a finished session's outcome.
type Scorer interface {
	ScoreSession(ctx context.Context, s reading.Session) (*reading.Outcome, error)
}

// Recorder receives session-level metrics. *metering.Sink satisfies it.
type Recorder interface {
	SessionFinished(o *reading.Outcome)
	MemoryJob(result string)
}

// Deps are the collaborators of a Service. Queue and Metrics are optional.
type Deps struct {
	Machine  *reading.Machine
	Outcomes reading.OutcomeRepo
	Context  ContextBuilder
	LLM      Generator
	Scorer   Scorer
	Queue    memjob.Queue
	Metrics  Recorder
	Log      *zap.Logger
}

// Service handles reader interactions with a session.
type Service struct {
	machine  *reading.Machine
	outcomes reading.OutcomeRepo
	builder  ContextBuilder
	gen      Generator
	scorer   Scorer
	queue    memjob.Queue
	metrics  Recorder
	cfg      Config
	log      *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a Service and registers its finish hook on the machine.
func New(deps Deps, cfg Config) *Service {
	s := &Service{
		machine:  deps.Machine,
		outcomes: deps.Outcomes,
		builder:  deps.Context,
		gen:      deps.LLM,
		scorer:   deps.Scorer,
		queue:    deps.Queue,
		metrics:  deps.Metrics,
		cfg:      cfg,
		log:      deps.Log,
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	s.machine.OnFinished(finishHookName, s.onFinished)
	return s
}

// Utterance is one message from the reader.
type Utterance struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Text      string            `json:"text"`
	Metadata  quickcmd.Metadata `json:"metadata,omitempty"`
}

// Reply is the outcome of processing an utterance. Events holds every event
// persisted for it, in order.
type Reply struct {
	Text         string           `json:"text"`
	QuickReplies []string         `json:"quick_replies"`
	Events       []reading.Event  `json:"events"`
	Session      *reading.Session `json:"session"`
	Provider     string           `json:"provider,omitempty"`
	Model        string           `json:"model,omitempty"`
	Degraded     bool             `json:"degraded"`
	ContextPlan  *promptctx.Plan  `json:"context_plan,omitempty"`
}

// StartSession creates a session in PRE.
func (s *Service) StartSession(ctx context.Context, userID, contentID string) (*reading.StartResult, error) {
	return s.machine.StartSession(ctx, userID, contentID)
}

// Session returns a session owned by userID.
func (s *Service) Session(ctx context.Context, sessionID, userID string) (*reading.Session, error) {
	return s.machine.Session(ctx, sessionID, userID)
}

// UpdatePrePhase stores the goal-setting fields and moves the session to DURING.
func (s *Service) UpdatePrePhase(ctx context.Context, sessionID, userID string, in reading.PreReading) (*reading.Session, error) {
	return s.machine.UpdatePrePhase(ctx, sessionID, userID, in)
}

// SaveSummary stores the reader's summary.
func (s *Service) SaveSummary(ctx context.Context, sessionID, userID, text string) (*reading.Session, error) {
	return s.machine.SaveSummary(ctx, sessionID, userID, text)
}

// AdvancePhase moves the session to POST or FINISHED.
func (s *Service) AdvancePhase(ctx context.Context, sessionID, userID string, to reading.Phase) (*reading.Session, error) {
	return s.machine.AdvancePhase(ctx, sessionID, userID, to)
}

// Outcome returns the stored outcome of a session owned by userID.
func (s *Service) Outcome(ctx context.Context, sessionID, userID string) (*reading.Outcome, error) {
	if _, err := s.machine.Session(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	o, err := s.outcomes.GetOutcome(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("outcome of session %s: %w", sessionID, err)
	}
	return o, nil
}

// ProcessUtterance records the events encoded in u and answers it.
// Slash commands are acknowledged without calling the LLM; a phase command
// also advances the session. Any other text goes to the tutor model, with
// inline markup recorded first.
func (s *Service) ProcessUtterance(ctx context.Context, u Utterance) (*Reply, error) {
	ctx, span := s.tracer.Start(ctx, "tutor.utterance", trace.WithAttributes(
		attribute.String("session_id", u.SessionID),
	))
	defer span.End()

	reply, err := s.processUtterance(ctx, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("events", len(reply.Events)),
		attribute.Bool("degraded", reply.Degraded),
	)
	return reply, nil
}

func (s *Service) processUtterance(ctx context.Context, u Utterance) (*Reply, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return nil, &reading.ValidationError{Reason: "utterance is empty"}
	}

	sess, err := s.machine.Session(ctx, u.SessionID, u.UserID)
	if err != nil {
		return nil, err
	}
	if sess.Phase == reading.PhaseFinished {
		return nil, &reading.ValidationError{Reason: "session is finished"}
	}

	command := quickcmd.IsCommand(text)
	parsed := quickcmd.Parse(text, u.Metadata)
	if command && len(parsed) == 0 {
		return nil, &reading.ValidationError{Reason: fmt.Sprintf("command %q needs an argument", text)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recorded, err := s.machine.AppendEvents(ctx, sess.ID, u.UserID, toEvents(parsed)...)
	if err != nil {
		return nil, err
	}

	if command {
		return s.handleCommand(ctx, sess, u.UserID, recorded)
	}
	return s.handleTurn(ctx, sess, u.UserID, text, recorded)
}

func (s *Service) handleCommand(ctx context.Context, sess *reading.Session, userID string, recorded []reading.Event) (*Reply, error) {
	ev := recorded[0]
	reply := &Reply{
		Text:         acknowledge(ev),
		QuickReplies: []string{},
		Events:       recorded,
		Session:      sess,
	}

	if ev.Type == reading.EventPhaseRequest {
		to := reading.Phase(ev.Payload.String(reading.KeyTargetPhase))
		next, err := s.machine.AdvancePhase(ctx, sess.ID, userID, to)
		if err != nil {
			return nil, err
		}
		reply.Session = next
	}

	s.log.Debug("quick command handled",
		zap.String("session_id", sess.ID),
		zap.String("event_type", string(ev.Type)))
	return reply, nil
}

func (s *Service) handleTurn(ctx context.Context, sess *reading.Session, userID, text string, recorded []reading.Event) (*Reply, error) {
	pc := s.builder.Build(ctx, sess.ID, userID, sess.ContentID)
	req := buildRequest(sess, pc, text, s.cfg)

	sent, err := s.machine.AppendEvents(ctx, sess.ID, userID, reading.Event{
		Type:    reading.EventPromptSent,
		Payload: reading.Payload{reading.KeyRole: string(llm.RoleUser), reading.KeyText: text},
	})
	if err != nil {
		return nil, err
	}
	recorded = append(recorded, sent...)

	resp, err := s.gen.GenerateWith(llm.WithFeature(ctx, FeatureTurn), req, llm.CallOptions{AllowDegraded: s.cfg.AllowDegraded})
	if err != nil {
		return nil, fmt.Errorf("generate tutor turn: %w", err)
	}

	out := decodeTurn(resp, s.log)
	received := reading.Event{
		Type: reading.EventPromptReceived,
		Payload: reading.Payload{
			reading.KeyRole:     string(llm.RoleAssistant),
			reading.KeyText:     out.Reply,
			reading.KeyProvider: resp.Provider,
			reading.KeyModel:    resp.Model,
			reading.KeyUsage: map[string]any{
				"prompt_tokens":     resp.Usage.InputTokens,
				"completion_tokens": resp.Usage.OutputTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
		},
	}
	written, err := s.machine.AppendEvents(ctx, sess.ID, userID, append([]reading.Event{received}, aiEvents(out.EventsToWrite)...)...)
	if err != nil {
		return nil, err
	}
	recorded = append(recorded, written...)

	s.log.Debug("tutor turn",
		zap.String("session_id", sess.ID),
		zap.String("provider", resp.Provider),
		zap.Bool("degraded", resp.Degraded()),
		zap.Strings("skipped_context", pc.Plan.Skipped))

	plan := pc.Plan
	return &Reply{
		Text:         out.Reply,
		QuickReplies: quickReplies(out.QuickReplies, s.cfg.MaxQuickReplies),
		Events:       recorded,
		Session:      sess,
		Provider:     resp.Provider,
		Model:        resp.Model,
		Degraded:     resp.Degraded(),
		ContextPlan:  &plan,
	}, nil
}

// onFinished scores the session, counts it and enqueues the memory job.
// Each step runs even when an earlier one failed.
func (s *Service) onFinished(ctx context.Context, sess reading.Session) error {
	var errs []error

	outcome, err := s.scorer.ScoreSession(ctx, sess)
	if err != nil {
		errs = append(errs, fmt.Errorf("score session: %w", err))
		outcome = nil
	}
	s.metrics.SessionFinished(outcome)

	if s.queue != nil {
		job := memjob.Job{
			UserID:     sess.UserID,
			ContentID:  sess.ContentID,
			SessionID:  sess.ID,
			Outcome:    outcome,
			EnqueuedAt: s.now(),
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.metrics.MemoryJob("dropped")
			errs = append(errs, fmt.Errorf("enqueue memory job: %w", err))
		} else {
			s.metrics.MemoryJob("enqueued")
		}
	}
	return errors.Join(errs...)
}

func toEvents(parsed []quickcmd.ParsedEvent) []reading.Event {
	events := make([]reading.Event, len(parsed))
	for i, p := range parsed {
		events[i] = reading.Event{Type: p.Type, Payload: p.Payload}
	}
	return events
}

// decodeTurn reads a structured turn. Degraded or unstructured content is
// used verbatim as the reply.
func decodeTurn(resp *llm.Response, log *zap.Logger) turnOutput {
	if resp.Degraded() {
		return turnOutput{Reply: resp.Text()}
	}
	var out turnOutput
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		log.Warn("tutor turn is not structured, using raw text",
			zap.String("provider", resp.Provider),
			zap.Error(err))
		return turnOutput{Reply: strings.TrimSpace(resp.Text())}
	}
	out.Reply = strings.TrimSpace(out.Reply)
	return out
}

// aiEvents keeps the informational events the model asked to record.
func aiEvents(in []eventOutput) []reading.Event {
	var out []reading.Event
	for _, e := range in {
		t := reading.EventType(e.Type)
		text := strings.TrimSpace(e.Text)
		if !slices.Contains(aiEventTypes, t) || text == "" {
			continue
		}
		p := reading.Payload{reading.KeyText: text, "source": "tutor"}
		if w := strings.TrimSpace(e.Word); w != "" {
			p[reading.KeyWord] = w
		}
		if a := strings.TrimSpace(e.ExpectedAnswer); a != "" {
			p["expectedAnswer"] = a
		}
		out = append(out, reading.Event{Type: t, Payload: p})
	}
	return out
}

func quickReplies(in []string, max int) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func acknowledge(e reading.Event) string {
	switch e.Type {
	case reading.EventMarkUnknownWord:
		return fmt.Sprintf("Noted %q as an unknown word.", e.Payload.String(reading.KeyWord))
	case reading.EventMarkKeyIdea:
		return "Key idea saved."
	case reading.EventCheckpointResponse:
		return "Checkpoint answer recorded."
	case reading.EventQuizResponse:
		if ok, present := e.Payload.Bool(reading.KeyCorrect); present {
			if ok {
				return "Quiz answer recorded: correct."
			}
			return "Quiz answer recorded: not quite."
		}
		return "Quiz answer recorded."
	case reading.EventProductionSubmit:
		return "Your text was submitted."
	case reading.EventPhaseRequest:
		return fmt.Sprintf("Moving the session to %s.", e.Payload.String(reading.KeyTargetPhase))
	}
	return "Recorded."
}

type nopRecorder struct{}

func (nopRecorder) SessionFinished(*reading.Outcome) {}
func (nopRecorder) MemoryJob(string)                 {}
