// Package quickcmd turns chat utterances into structured session events.
//
// Two forms are recognized. A leading slash keyword ("/unknown cauce",
// "/quiz b") makes the whole utterance a command. Inline markup ("[[word]]"
// for an unknown word, "{{idea}}" for a key idea) may appear anywhere in an
// ordinary message. Everything here is a pure function of its inputs.
package quickcmd

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/abhisek/lectio/internal/reading"
)

// Metadata is the client-supplied context sent with an utterance, such as
// reader position and the question being answered.
type Metadata map[string]any

// Locator keys copied from metadata into every payload when present.
var locatorKeys = []string{"blockId", "chunkId", "page", "checkpointId", "questionId"}

// ParsedEvent is an event that has not been persisted yet.
type ParsedEvent struct {
	Type    reading.EventType
	Payload reading.Payload
}

type command struct {
	event reading.EventType
	build func(arg string, text string, meta Metadata) (reading.Payload, bool)
}

var commands = map[string]command{}

func init() {
	register(command{reading.EventMarkUnknownWord, unknownWord}, "unknown", "u", "palabra")
	register(command{reading.EventMarkKeyIdea, freeText}, "key", "k", "idea")
	register(command{reading.EventCheckpointResponse, freeText}, "checkpoint", "cp")
	register(command{reading.EventQuizResponse, quizAnswer}, "quiz", "q")
	register(command{reading.EventProductionSubmit, freeText}, "produce", "submit", "write")
	register(command{reading.EventPhaseRequest, phaseRequest(reading.PhasePost)}, "done", "post")
	register(command{reading.EventPhaseRequest, phaseRequest(reading.PhaseFinished)}, "finish", "end")
}

func register(c command, names ...string) {
	for _, n := range names {
		commands[n] = c
	}
}

var (
	unknownMarkup = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)
	ideaMarkup    = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
)

// IsCommand reports whether text starts with a recognized slash keyword.
// Commands are handled without consulting the tutor model.
func IsCommand(text string) bool {
	name, _ := splitCommand(text)
	_, ok := commands[name]
	return ok
}

// Parse returns the events encoded in text, in the order they appear.
// Text without a command or markup yields nil. A leading slash word that is
// not a command is ordinary text and its markup still counts.
func Parse(text string, meta Metadata) []ParsedEvent {
	name, arg := splitCommand(text)
	if c, ok := commands[name]; ok {
		payload, ok := c.build(arg, text, meta)
		if !ok {
			return nil
		}
		return []ParsedEvent{{Type: c.event, Payload: withLocators(payload, meta)}}
	}
	return parseMarkup(text, meta)
}

func splitCommand(text string) (name, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	name, arg, _ = strings.Cut(text[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

type match struct {
	at    int
	event ParsedEvent
}

func parseMarkup(text string, meta Metadata) []ParsedEvent {
	var found []match
	for _, m := range unknownMarkup.FindAllStringSubmatchIndex(text, -1) {
		if p, ok := unknownWord(text[m[2]:m[3]], text, meta); ok {
			found = append(found, match{m[0], ParsedEvent{reading.EventMarkUnknownWord, withLocators(p, meta)}})
		}
	}
	for _, m := range ideaMarkup.FindAllStringSubmatchIndex(text, -1) {
		if p, ok := freeText(text[m[2]:m[3]], text, meta); ok {
			found = append(found, match{m[0], ParsedEvent{reading.EventMarkKeyIdea, withLocators(p, meta)}})
		}
	}
	if len(found) == 0 {
		return nil
	}

	slices.SortStableFunc(found, func(a, b match) int { return cmp.Compare(a.at, b.at) })
	out := make([]ParsedEvent, len(found))
	for i, f := range found {
		out[i] = f.event
	}
	return out
}

func unknownWord(arg, text string, meta Metadata) (reading.Payload, bool) {
	word := strings.TrimSpace(arg)
	norm := normalizeWord(word)
	if norm == "" {
		return nil, false
	}
	return reading.Payload{
		reading.KeyWord:       word,
		reading.KeyNormalized: norm,
		reading.KeyLang:       inferLang(text, meta),
	}, true
}

func freeText(arg, _ string, _ Metadata) (reading.Payload, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, false
	}
	return reading.Payload{reading.KeyText: arg}, true
}

func quizAnswer(arg, text string, meta Metadata) (reading.Payload, bool) {
	p, ok := freeText(arg, text, meta)
	if !ok {
		return nil, false
	}
	if correct, ok := meta["correct"].(bool); ok {
		p[reading.KeyCorrect] = correct
	} else if expected, ok := meta["expectedAnswer"].(string); ok && strings.TrimSpace(expected) != "" {
		p[reading.KeyCorrect] = normalizeAnswer(arg) == normalizeAnswer(expected)
	}
	return p, true
}

func phaseRequest(to reading.Phase) func(string, string, Metadata) (reading.Payload, bool) {
	return func(string, string, Metadata) (reading.Payload, bool) {
		return reading.Payload{reading.KeyTargetPhase: string(to)}, true
	}
}

func withLocators(p reading.Payload, meta Metadata) reading.Payload {
	for _, k := range locatorKeys {
		if v, ok := meta[k]; ok && v != nil {
			p[k] = v
		}
	}
	return p
}

func normalizeWord(w string) string {
	w = strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.ToLower(w)
}

func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ".!?;:, ")
}
