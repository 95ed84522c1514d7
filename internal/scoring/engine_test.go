package scoring

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/lectio/internal/reading"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func ev(typ reading.EventType, at time.Duration, p reading.Payload) reading.Event {
	return reading.Event{Type: typ, Payload: p, CreatedAt: t0.Add(at)}
}

func quiz(correct bool) reading.Event {
	return ev(reading.EventQuizResponse, 0, reading.Payload{reading.KeyText: "a", reading.KeyCorrect: correct})
}

func text(n int) reading.Payload {
	return reading.Payload{reading.KeyText: strings.Repeat("x", n)}
}

func TestScore_EmptyHistory(t *testing.T) {
	e := NewEngine(DefaultConfig())

	got := e.Score(Input{RawText: strings.Repeat("palabra ", 400)})
	assert.Equal(t, Scores{Comprehension: 50, Production: 5, Frustration: 0}, got)

	got = e.Score(Input{})
	assert.Equal(t, Scores{Comprehension: 50, Production: 5, Frustration: 0}, got)
}

func TestScore_QuizAccuracy(t *testing.T) {
	var events []reading.Event
	for i := 0; i < 10; i++ {
		events = append(events, quiz(i < 8))
	}

	got := NewEngine(DefaultConfig()).Score(Input{Events: events, RawText: "un texto corto"})
	assert.Equal(t, 62, got.Comprehension)
	assert.Equal(t, 0, got.Frustration)
}

func TestScore_UngradedQuizCountsAsMiss(t *testing.T) {
	ungraded := func(answer string) reading.Event {
		return ev(reading.EventQuizResponse, 0, reading.Payload{reading.KeyText: answer})
	}
	events := []reading.Event{quiz(true), ungraded("b"), ungraded("c")}

	got := NewEngine(DefaultConfig()).Score(Input{Events: events})
	// accuracy 1/3: 50 + (1/3-0.5)*40 = 43.3; misses 2/3 > 0.6.
	assert.Equal(t, 43, got.Comprehension)
	assert.Equal(t, 20, got.Frustration)

	got = NewEngine(DefaultConfig()).Score(Input{Events: []reading.Event{ungraded("b")}})
	assert.Equal(t, 30, got.Comprehension)
	assert.Equal(t, 20, got.Frustration)
}

func TestScore_Checkpoints(t *testing.T) {
	e := NewEngine(DefaultConfig())

	long := e.Score(Input{Events: []reading.Event{ev(reading.EventCheckpointResponse, 0, text(80))}})
	assert.Equal(t, 60, long.Comprehension)

	short := e.Score(Input{Events: []reading.Event{
		ev(reading.EventCheckpointResponse, 0, text(5)),
		ev(reading.EventCheckpointResponse, 0, text(5)),
		ev(reading.EventCheckpointResponse, 0, text(40)),
	}})
	// avg 16.7 < 20, and 2/3 answers are terse.
	assert.Equal(t, 40, short.Comprehension)
	assert.Equal(t, 20, short.Frustration)
}

func TestScore_UnknownWordRate(t *testing.T) {
	e := NewEngine(DefaultConfig())
	content := strings.Repeat("a", 1000)

	unknown := func(n int) []reading.Event {
		out := make([]reading.Event, n)
		for i := range out {
			out[i] = ev(reading.EventMarkUnknownWord, 0, reading.Payload{reading.KeyWord: "w"})
		}
		return out
	}

	// 35 per 1000 chars: rate 3.5.
	heavy := e.Score(Input{Events: unknown(35), RawText: content})
	assert.Equal(t, 35, heavy.Comprehension)
	assert.Equal(t, 25, heavy.Frustration)

	// 2 per 1000 chars: rate 0.2.
	light := e.Score(Input{Events: unknown(2), RawText: content})
	assert.Equal(t, 60, light.Comprehension)
	assert.Equal(t, 0, light.Frustration)

	// 15 per 1000 chars: rate 1.5.
	mid := e.Score(Input{Events: unknown(15), RawText: content})
	assert.Equal(t, 50, mid.Comprehension)
	assert.Equal(t, 5, mid.Frustration)
}

func TestScore_ProductionBuckets(t *testing.T) {
	e := NewEngine(DefaultConfig())
	cases := map[int]int{0: 5, 1: 25, 2: 25, 3: 55, 6: 55, 7: 80, 11: 80, 12: 95, 40: 95}

	for ideas, want := range cases {
		var events []reading.Event
		for i := 0; i < ideas; i++ {
			events = append(events, ev(reading.EventMarkKeyIdea, 0, text(10)))
		}
		assert.Equalf(t, want, e.Score(Input{Events: events}).Production, "%d key ideas", ideas)
	}
}

func TestScore_SubmitLengthBonus(t *testing.T) {
	e := NewEngine(DefaultConfig())
	cases := map[int]int{30: 5, 60: 10, 150: 15, 250: 20}

	for n, want := range cases {
		got := e.Score(Input{Events: []reading.Event{ev(reading.EventProductionSubmit, 0, text(n))}})
		assert.Equalf(t, want, got.Production, "submission of %d chars", n)
	}
}

func TestScore_Duration(t *testing.T) {
	e := NewEngine(DefaultConfig())
	// 400 words: 400/200*1.5 = 3 minutes at L2, 2.4 at L1.
	content := strings.Repeat("palabra ", 400)

	span := func(d time.Duration) []reading.Event {
		return []reading.Event{
			ev(reading.EventMarkKeyIdea, 0, text(1)),
			ev(reading.EventMarkKeyIdea, d, text(1)),
		}
	}

	assert.Equal(t, 0, e.Score(Input{Events: span(4 * time.Minute), RawText: content, Layer: reading.LayerL2}).Frustration)
	assert.Equal(t, 15, e.Score(Input{Events: span(5 * time.Minute), RawText: content, Layer: reading.LayerL2}).Frustration)
	assert.Equal(t, 30, e.Score(Input{Events: span(7 * time.Minute), RawText: content, Layer: reading.LayerL2}).Frustration)
	assert.Equal(t, 30, e.Score(Input{Events: span(5 * time.Minute), RawText: content, Layer: reading.LayerL1}).Frustration)
	assert.Equal(t, 0, e.Score(Input{Events: span(5 * time.Minute), RawText: content, Layer: reading.LayerL3}).Frustration)
}

func TestScore_QuizMisses(t *testing.T) {
	e := NewEngine(DefaultConfig())

	mostlyWrong := []reading.Event{quiz(false), quiz(false), quiz(false), quiz(false), quiz(true)}
	got := e.Score(Input{Events: mostlyWrong})
	assert.Equal(t, 20, got.Frustration)
	assert.Equal(t, 38, got.Comprehension)

	half := []reading.Event{quiz(false), quiz(true)}
	assert.Equal(t, 10, e.Score(Input{Events: half}).Frustration)
}

func TestScore_AlwaysBounded(t *testing.T) {
	e := NewEngine(DefaultConfig())
	types := []reading.EventType{
		reading.EventQuizResponse, reading.EventCheckpointResponse, reading.EventMarkUnknownWord,
		reading.EventMarkKeyIdea, reading.EventProductionSubmit, "SOMETHING_ELSE",
	}
	r := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 300; i++ {
		n := r.IntN(60)
		events := make([]reading.Event, n)
		for j := range events {
			p := text(r.IntN(300))
			if r.IntN(2) == 0 {
				p[reading.KeyCorrect] = r.IntN(3) == 0
			}
			events[j] = ev(types[r.IntN(len(types))], time.Duration(r.IntN(7200))*time.Second, p)
		}
		s := e.Score(Input{
			Events:  events,
			RawText: strings.Repeat("w ", r.IntN(500)),
			Layer:   []reading.AssetLayer{reading.LayerL1, reading.LayerL2, reading.LayerL3, ""}[r.IntN(4)],
		})
		for _, v := range []int{s.Comprehension, s.Production, s.Frustration} {
			require.GreaterOrEqual(t, v, 0)
			require.LessOrEqual(t, v, 100)
		}
	}
}

func TestService_ScoreSessionUpserts(t *testing.T) {
	ctx := context.Background()
	repo := reading.NewMemoryRepo()
	repo.AddContent(reading.Content{ID: "c1", RawText: "texto"})

	sess := reading.Session{ID: "s1", UserID: "u1", ContentID: "c1", AssetLayer: reading.LayerL2}
	require.NoError(t, repo.AppendEvents(ctx,
		reading.Event{ID: "e1", SessionID: "s1", Type: reading.EventMarkKeyIdea, Payload: text(5), CreatedAt: t0},
	))

	svc := NewService(repo, repo, NewEngine(DefaultConfig()), nil)
	first, err := svc.ScoreSession(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 25, first.ProductionScore)

	second, err := svc.ScoreSession(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, first.ComprehensionScore, second.ComprehensionScore)

	stored, err := repo.GetOutcome(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, *second, *stored)
}
