package memjob

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/reading"
	"github.com/abhisek/lectio/internal/statecache"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

type jobRecorder struct {
	mu   sync.Mutex
	jobs []Job
	got  chan struct{}
}

func newJobRecorder() *jobRecorder {
	return &jobRecorder{got: make(chan struct{}, 16)}
}

func (r *jobRecorder) handle(_ context.Context, job Job) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *jobRecorder) wait(t *testing.T, n int) []Job {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for job %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Job(nil), r.jobs...)
}

func TestNATSQueue_RoundTrip(t *testing.T) {
	server := startTestNATSServer(t)

	cfg := DefaultConfig()
	cfg.NATSURL = server.ClientURL()
	q, err := New(cfg, nil)
	require.NoError(t, err)
	defer q.Close()
	require.IsType(t, &NATSQueue{}, q)

	rec := newJobRecorder()
	require.NoError(t, q.Consume(rec.handle))

	outcome := &reading.Outcome{SessionID: "s1", ComprehensionScore: 62}
	require.NoError(t, q.Enqueue(context.Background(), Job{
		UserID: "u1", ContentID: "c1", SessionID: "s1", Outcome: outcome,
	}))

	jobs := rec.wait(t, 1)
	require.Len(t, jobs, 1)
	assert.Equal(t, "u1", jobs[0].UserID)
	require.NotNil(t, jobs[0].Outcome)
	assert.Equal(t, 62, jobs[0].Outcome.ComprehensionScore)
}

func TestNATSQueue_QueueGroupSharesWork(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	q := NewNATSQueue(nc, Config{Subject: "test.jobs"}, nil)
	rec := newJobRecorder()
	require.NoError(t, q.Consume(rec.handle))
	require.NoError(t, q.Consume(rec.handle))

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{SessionID: id}))
	}
	jobs := rec.wait(t, 3)
	assert.Len(t, jobs, 3, "each job is handled by exactly one consumer")

	select {
	case <-rec.got:
		t.Fatal("job delivered twice")
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, q.Close())
	assert.True(t, nc.IsConnected(), "borrowed connection stays open")
}

func TestNATSQueue_MalformedMessageIgnored(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	q := NewNATSQueue(nc, Config{}, nil)
	rec := newJobRecorder()
	require.NoError(t, q.Consume(rec.handle))

	require.NoError(t, nc.Publish(DefaultConfig().Subject, []byte("not json")))
	require.NoError(t, q.Enqueue(context.Background(), Job{SessionID: "ok"}))

	jobs := rec.wait(t, 1)
	assert.Equal(t, "ok", jobs[0].SessionID)
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(Config{Buffer: 1}, nil)

	require.NoError(t, q.Enqueue(context.Background(), Job{SessionID: "s1"}))
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{SessionID: "s2"}), ErrQueueFull)

	rec := newJobRecorder()
	require.NoError(t, q.Consume(rec.handle))
	jobs := rec.wait(t, 1)
	assert.Equal(t, "s1", jobs[0].SessionID)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{}), ErrClosed)
	assert.ErrorIs(t, q.Consume(rec.handle), ErrClosed)
}

func TestMemoryQueue_HandlerFailureDoesNotStopConsumer(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig(), nil)
	defer q.Close()

	done := make(chan string, 3)
	require.NoError(t, q.Consume(func(_ context.Context, job Job) error {
		done <- job.SessionID
		switch job.SessionID {
		case "boom":
			panic("handler bug")
		case "fail":
			return errors.New("cache down")
		}
		return nil
	}))

	for _, id := range []string{"boom", "fail", "ok"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{SessionID: id}))
	}
	for _, want := range []string{"boom", "fail", "ok"} {
		select {
		case got := <-done:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("consumer stopped before %s", want)
		}
	}
}

func seedMarks(t *testing.T, repo *reading.MemoryRepo, sessionID string, ideas, words []string) {
	t.Helper()
	var events []reading.Event
	for _, idea := range ideas {
		events = append(events, reading.Event{
			ID: sessionID + idea, SessionID: sessionID, Type: reading.EventMarkKeyIdea,
			Payload: reading.Payload{reading.KeyText: idea}, CreatedAt: time.Now(),
		})
	}
	for _, w := range words {
		events = append(events, reading.Event{
			ID: sessionID + w, SessionID: sessionID, Type: reading.EventMarkUnknownWord,
			Payload: reading.Payload{reading.KeyWord: w, reading.KeyNormalized: strings.ToLower(w)}, CreatedAt: time.Now(),
		})
	}
	require.NoError(t, repo.AppendEvents(context.Background(), events...))
}

func TestCompactor_FoldsSessionsIntoState(t *testing.T) {
	ctx := context.Background()
	repo := reading.NewMemoryRepo()
	cache := statecache.NewMemoryCache(0)
	c := NewCompactor(repo, cache, nil, nil)

	seedMarks(t, repo, "s1", []string{"el río cambió de cauce"}, []string{"Cauce"})
	require.NoError(t, c.Handle(ctx, Job{
		UserID: "u1", ContentID: "c1", SessionID: "s1",
		Outcome: &reading.Outcome{ComprehensionScore: 62, ProductionScore: 25, FrustrationIndex: 10},
	}))

	seedMarks(t, repo, "s2", []string{"la crecida", "El río cambió de cauce"}, []string{"ribera", "cauce"})
	require.NoError(t, c.Handle(ctx, Job{UserID: "u1", ContentID: "c1", SessionID: "s2"}))

	raw, err := cache.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	state, err := DecodeCompactState(raw)
	require.NoError(t, err)

	assert.Equal(t, 2, state.Sessions)
	assert.Equal(t, []string{"el río cambió de cauce", "la crecida"}, state.KeyIdeas)
	assert.Equal(t, []string{"cauce", "ribera"}, state.UnknownWords)
	assert.Equal(t, 62, state.Comprehension, "scores persist when a job has no outcome")
	assert.Empty(t, state.Summary)
}

func TestCompactor_UsesSummaryFromRealProvider(t *testing.T) {
	ctx := context.Background()
	repo := reading.NewMemoryRepo()
	cache := statecache.NewMemoryCache(0)
	mock := llm.NewMockProvider(llm.MockResponse{
		Content: json.RawMessage(`{"summary":"Entendió la idea central; le costó el vocabulario."}`),
	})
	orch := llm.NewOrchestrator([]llm.Provider{mock, llm.NewDegradedProvider("", 0)},
		llm.WithRetryConfig(llm.RetryConfig{MaxAttempts: 1}))

	seedMarks(t, repo, "s1", []string{"la crecida"}, nil)
	require.NoError(t, NewCompactor(repo, cache, orch, nil).Handle(ctx, Job{UserID: "u1", ContentID: "c1", SessionID: "s1"}))

	raw, err := cache.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	state, err := DecodeCompactState(raw)
	require.NoError(t, err)
	assert.Equal(t, "Entendió la idea central; le costó el vocabulario.", state.Summary)

	require.Len(t, mock.Calls, 1)
	require.NotNil(t, mock.Calls[0].Schema)
	assert.Equal(t, "memory-summary", mock.Calls[0].Schema.Name)
	assert.Contains(t, mock.Calls[0].Messages[0].Content, "la crecida")
}

func TestCompactor_SkipsSummaryWhenOnlyDegraded(t *testing.T) {
	ctx := context.Background()
	repo := reading.NewMemoryRepo()
	cache := statecache.NewMemoryCache(0)
	failing := llm.NewMockProvider(llm.MockResponse{Err: &llm.ErrRateLimit{}})
	orch := llm.NewOrchestrator([]llm.Provider{failing, llm.NewDegradedProvider("", 0)},
		llm.WithRetryConfig(llm.RetryConfig{MaxAttempts: 1}))

	seedMarks(t, repo, "s1", []string{"la crecida"}, nil)
	require.NoError(t, NewCompactor(repo, cache, orch, nil).Handle(ctx, Job{UserID: "u1", ContentID: "c1", SessionID: "s1"}))

	raw, err := cache.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	state, err := DecodeCompactState(raw)
	require.NoError(t, err)
	assert.Empty(t, state.Summary)
	assert.Equal(t, []string{"la crecida"}, state.KeyIdeas)
}

func TestCompactState_EncodeFitsLimit(t *testing.T) {
	s := CompactState{Summary: strings.Repeat("ñ", 1900)}
	for i := 0; i < 12; i++ {
		s.KeyIdeas = append(s.KeyIdeas, strings.Repeat(string(rune('a'+i)), 200))
	}
	encoded, err := s.Encode()
	require.NoError(t, err)
	assert.LessOrEqual(t, utf8.RuneCountInString(encoded), statecache.MaxStateChars)

	decoded, err := DecodeCompactState(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded.KeyIdeas, "ideas are dropped before the summary is cut")
	assert.NotEmpty(t, decoded.Summary)
}
