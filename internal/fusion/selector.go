package fusion

import (
	"strings"
	"unicode/utf8"

	"github.com/jackzampolin/ocrfuse/internal/align"
)

// Resolve turns one aligned pair into one output line. The first matching
// rule wins:
//
//  1. one side missing: the present side
//  2. identical: agree
//  3. alt confidence >= high: alt_confident
//  4. alt confidence < low: primary
//  5. distance <= char fusion threshold: character-level fusion
//  6. distance > drop threshold: primary
//  7. otherwise the longer trimmed line, primary on ties
//
// The returned text is always the primary text, the alt text, or
// align.FuseCharacters of the two.
func Resolve(pair align.Pair, altConfidence *float64, th Thresholds) FusedLine {
	line := FusedLine{Distance: pair.Distance}
	if pair.HasPrimary() {
		p := pair.Primary
		line.PrimaryText = &p
	}
	if pair.HasAlt() {
		a := pair.Alt
		line.AltText = &a
	}

	switch {
	case !pair.HasPrimary() && !pair.HasAlt():
		line.Source = SourceEmpty
		return line
	case !pair.HasAlt():
		return emit(line, pair.Primary, SourcePrimary)
	case !pair.HasPrimary():
		return emit(line, pair.Alt, SourceAlt)
	}

	if pair.Distance == 0 {
		return emit(line, pair.Primary, SourceAgree)
	}

	if altConfidence != nil {
		if *altConfidence >= th.HighConfidence {
			line.Text, line.Source = pair.Alt, SourceAltConfident
			return line
		}
		if *altConfidence < th.LowConfidence {
			line.Text, line.Source = pair.Primary, SourcePrimary
			return line
		}
	}

	if pair.Distance <= th.CharFusion {
		line.Text = align.FuseCharacters(pair.Primary, pair.Alt, th.Confusions)
		line.Source = SourceFused
		return line
	}

	if pair.Distance > th.DistanceDrop {
		line.Text, line.Source = pair.Primary, SourcePrimary
		return line
	}

	if runeLen(strings.TrimSpace(pair.Alt)) > runeLen(strings.TrimSpace(pair.Primary)) {
		line.Text, line.Source = pair.Alt, SourceAlt
		return line
	}
	line.Text, line.Source = pair.Primary, SourcePrimary
	return line
}

// emit sets text and source, downgrading blank text to SourceEmpty.
func emit(line FusedLine, text string, source Source) FusedLine {
	line.Text = text
	line.Source = source
	if strings.TrimSpace(text) == "" {
		line.Source = SourceEmpty
	}
	return line
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
