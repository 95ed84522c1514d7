// Package scoring distills a finished reading session into comprehension,
// production and frustration scores.
package scoring

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abhisek/lectio/internal/reading"
)

// Scores are the three end-of-session metrics, each in [0,100].
type Scores struct {
	Comprehension int
	Production    int
	Frustration   int
}

// Input is everything the heuristics look at.
type Input struct {
	Events  []reading.Event
	RawText string
	Layer   reading.AssetLayer
}

// Engine computes Scores. It holds no state beyond its configuration.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine with the given constants.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// stats is the single pass over the event log that all three scores share.
type stats struct {
	quizTotal, quizCorrect  int
	checkpoints             []int
	unknownWords            int
	keyIdeas                int
	submissions             []int
	first, last             time.Time
	timestamps              int
}

func collect(events []reading.Event) stats {
	var st stats
	for _, e := range events {
		if !e.CreatedAt.IsZero() {
			if st.timestamps == 0 || e.CreatedAt.Before(st.first) {
				st.first = e.CreatedAt
			}
			if st.timestamps == 0 || e.CreatedAt.After(st.last) {
				st.last = e.CreatedAt
			}
			st.timestamps++
		}

		switch e.Type {
		case reading.EventQuizResponse:
			// An ungraded answer counts as not correct.
			st.quizTotal++
			if correct, ok := e.Payload.Bool(reading.KeyCorrect); ok && correct {
				st.quizCorrect++
			}
		case reading.EventCheckpointResponse:
			st.checkpoints = append(st.checkpoints, textLen(e.Payload))
		case reading.EventMarkUnknownWord:
			st.unknownWords++
		case reading.EventMarkKeyIdea:
			st.keyIdeas++
		case reading.EventProductionSubmit:
			st.submissions = append(st.submissions, textLen(e.Payload))
		}
	}
	return st
}

// Score computes all three metrics for one session.
func (e *Engine) Score(in Input) Scores {
	st := collect(in.Events)
	rate, hasRate := unknownRate(st.unknownWords, utf8.RuneCountInString(in.RawText))

	return Scores{
		Comprehension: clamp(e.comprehension(st, rate, hasRate)),
		Production:    clamp(e.production(st)),
		Frustration:   clamp(e.frustration(st, rate, hasRate, in)),
	}
}

func (e *Engine) comprehension(st stats, rate float64, hasRate bool) float64 {
	c := e.cfg
	score := c.ComprehensionBase

	if st.quizTotal > 0 {
		accuracy := float64(st.quizCorrect) / float64(st.quizTotal)
		score += (accuracy - 0.5) * c.QuizWeight
	}

	if len(st.checkpoints) > 0 {
		avg := average(st.checkpoints)
		switch {
		case avg > float64(c.LongCheckpoint):
			score += c.CheckpointAdjust
		case avg < float64(c.ShortCheckpoint):
			score -= c.CheckpointAdjust
		}
	}

	if hasRate {
		switch {
		case rate > c.HighUnknownRate:
			score -= c.HighUnknownPenalty
		case rate < c.LowUnknownRate:
			score += c.LowUnknownBonus
		}
	}
	return score
}

func (e *Engine) production(st stats) float64 {
	c := e.cfg
	var score float64
	for _, b := range c.ProductionBuckets {
		score = b.Score
		if b.Below > 0 && st.keyIdeas < b.Below {
			break
		}
	}

	if len(st.submissions) > 0 {
		avg := average(st.submissions)
		for _, b := range c.SubmitBonuses {
			if avg > float64(b.Over) {
				score += b.Bonus
				break
			}
		}
	}
	return score
}

func (e *Engine) frustration(st stats, rate float64, hasRate bool, in Input) float64 {
	c := e.cfg
	var score float64

	expected := e.expectedMinutes(in.RawText, in.Layer)
	var actual float64
	if st.timestamps >= 2 {
		actual = st.last.Sub(st.first).Minutes()
	}
	if expected > 0 {
		switch {
		case actual > c.VerySlowFactor*expected:
			score += c.VerySlowPenalty
		case actual > c.SlowFactor*expected:
			score += c.SlowPenalty
		}
	}

	if hasRate {
		score += firstPenalty(c.UnknownRatePenalties, rate)
	}

	if n := len(st.checkpoints); n > 0 {
		terse := 0
		for _, l := range st.checkpoints {
			if l < c.TerseCheckpoint {
				terse++
			}
		}
		if float64(terse)/float64(n) > c.TerseFraction {
			score += c.TersePenalty
		}
	}

	if st.quizTotal > 0 {
		missed := float64(st.quizTotal-st.quizCorrect) / float64(st.quizTotal)
		score += firstPenalty(c.QuizMissPenalties, missed)
	}
	return score
}

// expectedMinutes estimates reading time for the text at the given layer.
func (e *Engine) expectedMinutes(raw string, layer reading.AssetLayer) float64 {
	if e.cfg.WordsPerMinute <= 0 {
		return 0
	}
	mult, ok := e.cfg.LayerMultipliers[layer]
	if !ok {
		mult = 1.0
	}
	words := float64(len(strings.Fields(raw)))
	return words / e.cfg.WordsPerMinute * e.cfg.ReadingSlack * mult
}

// unknownRate is unknown words per hundred characters of content. It is
// only meaningful when words were marked and the content is non-empty.
func unknownRate(unknown, contentLen int) (float64, bool) {
	if unknown == 0 || contentLen == 0 {
		return 0, false
	}
	return float64(unknown) / (float64(contentLen) / 100), true
}

func firstPenalty(ps []RatePenalty, v float64) float64 {
	for _, p := range ps {
		if v > p.Over {
			return p.Penalty
		}
	}
	return 0
}

func textLen(p reading.Payload) int {
	return utf8.RuneCountInString(strings.TrimSpace(p.String(reading.KeyText)))
}

func average(xs []int) float64 {
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func clamp(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(0, math.Min(100, math.Round(v))))
}
