// Package align lines up the output of two recognition engines and repairs
// near-identical lines character by character.
package align

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Distance returns the normalized Levenshtein distance between a and b:
// edits / max(len(a), len(b), 1), measured in runes.
// 0 means identical, 1 means nothing in common.
func Distance(a, b string) float64 {
	if a == b {
		return 0
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b), 1)
	d := float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
	if d > 1 {
		return 1
	}
	return d
}
