package reading

import "strings"

// DefaultMinTargetWords applies when the education level is unknown.
const DefaultMinTargetWords = 5

// minTargetWordsByLevel is keyed by upper-cased education level.
var minTargetWordsByLevel = map[string]int{
	"PRIMARIA": 3,
	"BASICO":   4,
	"MEDIO":    6,
	"SUPERIOR": 8,
	"POSGRADO": 10,
}

// MinTargetWords returns how many target words a reader at the given
// education level must choose before reading.
func MinTargetWords(educationLevel string) int {
	if n, ok := minTargetWordsByLevel[strings.ToUpper(strings.TrimSpace(educationLevel))]; ok {
		return n
	}
	return DefaultMinTargetWords
}
