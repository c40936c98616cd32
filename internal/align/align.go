package align

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Pair is one position of a line alignment. A missing side has index -1.
type Pair struct {
	Primary      string  `json:"primary,omitempty" yaml:"primary,omitempty"`
	Alt          string  `json:"alt,omitempty" yaml:"alt,omitempty"`
	PrimaryIndex int     `json:"primary_index" yaml:"primary_index"`
	AltIndex     int     `json:"alt_index" yaml:"alt_index"`
	Distance     float64 `json:"distance" yaml:"distance"`
}

// HasPrimary reports whether the primary side is present.
func (p Pair) HasPrimary() bool { return p.PrimaryIndex >= 0 }

// HasAlt reports whether the alt side is present.
func (p Pair) HasAlt() bool { return p.AltIndex >= 0 }

// newDiffer returns a differ with the timeout disabled. A deadline would let
// wall-clock time change the edit script, so two runs over the same input
// could disagree.
func newDiffer() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return dmp
}

// Lines aligns two ordered line lists, treating each line as an opaque
// token. Matched and replaced positions carry the normalized edit distance
// between the two lines; insert-only and delete-only positions carry 1.0.
//
// An empty alt list yields one primary-only pair per primary line.
func Lines(primary, alt []string) []Pair {
	if len(primary) == 0 && len(alt) == 0 {
		return nil
	}
	if len(alt) == 0 {
		pairs := make([]Pair, len(primary))
		for i, line := range primary {
			pairs[i] = Pair{Primary: line, PrimaryIndex: i, AltIndex: -1, Distance: 1}
		}
		return pairs
	}

	a, b := tokenize(primary, alt)
	diffs := newDiffer().DiffMainRunes(a, b, false)

	pairs := make([]Pair, 0, max(len(primary), len(alt)))
	pi, ai := 0, 0
	pendingDel, pendingIns := 0, 0

	flush := func() {
		n := min(pendingDel, pendingIns)
		for k := 0; k < n; k++ {
			p, q := primary[pi+k], alt[ai+k]
			pairs = append(pairs, Pair{
				Primary: p, Alt: q,
				PrimaryIndex: pi + k, AltIndex: ai + k,
				Distance: Distance(p, q),
			})
		}
		for k := n; k < pendingDel; k++ {
			pairs = append(pairs, Pair{Primary: primary[pi+k], PrimaryIndex: pi + k, AltIndex: -1, Distance: 1})
		}
		for k := n; k < pendingIns; k++ {
			pairs = append(pairs, Pair{Alt: alt[ai+k], PrimaryIndex: -1, AltIndex: ai + k, Distance: 1})
		}
		pi += pendingDel
		ai += pendingIns
		pendingDel, pendingIns = 0, 0
	}

	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			pendingDel += n
		case diffmatchpatch.DiffInsert:
			pendingIns += n
		case diffmatchpatch.DiffEqual:
			flush()
			for k := 0; k < n; k++ {
				pairs = append(pairs, Pair{
					Primary: primary[pi], Alt: alt[ai],
					PrimaryIndex: pi, AltIndex: ai,
				})
				pi++
				ai++
			}
		}
	}
	flush()

	return pairs
}

// tokenize maps every distinct line to a single rune so the differ can run
// over lines. Surrogate code points are skipped since they do not survive a
// round trip through string.
func tokenize(primary, alt []string) ([]rune, []rune) {
	ids := make(map[string]rune, len(primary)+len(alt))
	next := rune(1)
	id := func(line string) rune {
		if r, ok := ids[line]; ok {
			return r
		}
		if next >= 0xD800 && next <= 0xDFFF {
			next = 0xE000
		}
		r := next
		ids[line] = r
		next++
		return r
	}

	a := make([]rune, len(primary))
	for i, line := range primary {
		a[i] = id(line)
	}
	b := make([]rune, len(alt))
	for i, line := range alt {
		b[i] = id(line)
	}
	return a, b
}
