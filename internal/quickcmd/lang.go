package quickcmd

import (
	"strings"
	"unicode"
)

// spanishMarkers are frequent Spanish function words that rarely appear in
// English text.
var spanishMarkers = map[string]bool{
	"el": true, "la": true, "los": true, "las": true, "de": true, "del": true,
	"que": true, "y": true, "en": true, "un": true, "una": true, "por": true,
	"para": true, "con": true, "es": true, "qué": true, "significa": true,
	"palabra": true, "no": true, "se": true, "lo": true, "al": true,
}

// inferLang returns metadata "lang" when set, otherwise a best-effort
// guess from the utterance: "es", "en" or "und".
func inferLang(text string, meta Metadata) string {
	if lang, ok := meta["lang"].(string); ok {
		if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
			return lang
		}
	}

	text = unknownMarkup.ReplaceAllString(text, " $1 ")
	latin, other := 0, 0
	for _, r := range text {
		switch {
		case strings.ContainsRune("ñÑáéíóúÁÉÍÓÚüÜ¿¡", r):
			return "es"
		case unicode.In(r, unicode.Latin):
			latin++
		case unicode.IsLetter(r):
			other++
		}
	}

	markers := 0
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if spanishMarkers[w] {
			markers++
		}
	}
	switch {
	case markers >= 2:
		return "es"
	case latin > 0 && latin >= other:
		return "en"
	default:
		return "und"
	}
}
