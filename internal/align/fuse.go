package align

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ConfusionTable maps a digit to the letters recognizers commonly mistake it
// for (and vice versa). Lookups work in both directions.
type ConfusionTable map[rune]string

// DefaultConfusions returns the built-in digit/letter confusion set.
func DefaultConfusions() ConfusionTable {
	return ConfusionTable{
		'0': "oO",
		'1': "lI",
		'5': "sS",
		'4': "aA",
	}
}

// ParseConfusions builds a table from configuration, where each key is a
// single digit and each value lists the letters it is confused with.
func ParseConfusions(raw map[string]string) (ConfusionTable, error) {
	table := make(ConfusionTable, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		letters := raw[k]
		if utf8.RuneCountInString(k) != 1 {
			return nil, fmt.Errorf("confusion key %q must be a single digit", k)
		}
		digit, _ := utf8.DecodeRuneInString(k)
		if !unicode.IsDigit(digit) {
			return nil, fmt.Errorf("confusion key %q must be a digit", k)
		}
		if letters == "" {
			return nil, fmt.Errorf("confusion key %q has no letters", k)
		}
		for _, r := range letters {
			if !unicode.IsLetter(r) {
				return nil, fmt.Errorf("confusion %q -> %q: %q is not a letter", k, letters, r)
			}
		}
		table[digit] = letters
	}
	return table, nil
}

// Letter resolves a digit/letter confusion between a and b. It returns the
// letter and true when one side is a digit the table links to the other.
func (t ConfusionTable) Letter(a, b rune) (rune, bool) {
	if letters, ok := t[a]; ok && strings.ContainsRune(letters, b) {
		return b, true
	}
	if letters, ok := t[b]; ok && strings.ContainsRune(letters, a) {
		return a, true
	}
	return 0, false
}

// FuseCharacters repairs primary using alt, character by character.
//
// Characters both sides agree on are kept. For a substituted pair a
// case-only mismatch takes the uppercase form and a digit/letter confusion
// takes the letter; anything else keeps the primary character. Characters
// present only in primary are kept and characters present only in alt are
// dropped, so the result is at most as long as primary and can be shorter
// than alt.
func FuseCharacters(primary, alt string, table ConfusionTable) string {
	if primary == alt {
		return primary
	}
	if table == nil {
		table = DefaultConfusions()
	}

	a, b := []rune(primary), []rune(alt)
	diffs := newDiffer().DiffMainRunes(a, b, false)

	var out strings.Builder
	out.Grow(len(primary))

	var del, ins []rune
	flush := func() {
		n := min(len(del), len(ins))
		for k := 0; k < n; k++ {
			out.WriteRune(pickRune(del[k], ins[k], table))
		}
		for k := n; k < len(del); k++ {
			out.WriteRune(del[k])
		}
		del, ins = del[:0], ins[:0]
	}

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			del = append(del, []rune(d.Text)...)
		case diffmatchpatch.DiffInsert:
			ins = append(ins, []rune(d.Text)...)
		case diffmatchpatch.DiffEqual:
			flush()
			out.WriteString(d.Text)
		}
	}
	flush()

	return out.String()
}

func pickRune(p, q rune, table ConfusionTable) rune {
	if p == q {
		return p
	}
	if unicode.IsLetter(p) && unicode.IsLetter(q) && unicode.ToLower(p) == unicode.ToLower(q) {
		if unicode.IsUpper(q) {
			return q
		}
		return p
	}
	if r, ok := table.Letter(p, q); ok {
		return r
	}
	return p
}

// Digits returns the table's digits in ascending order.
func (t ConfusionTable) Digits() string {
	digits := make([]rune, 0, len(t))
	for d := range t {
		digits = append(digits, d)
	}
	sort.Slice(digits, func(i, j int) bool { return digits[i] < digits[j] })
	return string(digits)
}
