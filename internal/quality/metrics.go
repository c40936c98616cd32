// Package quality scores a fused page and decides whether its output is too
// poor to keep without escalation.
package quality

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Metrics are computed once per page and read by the critical failure
// detector. IVR and DictionaryOOVRatio are nil when no dictionary is
// configured or the page has no word tokens.
type Metrics struct {
	DisagreementScore   float64  `json:"disagreement_score" yaml:"disagreement_score"`
	DisagreeRate        float64  `json:"disagree_rate" yaml:"disagree_rate"`
	CorruptionScore     float64  `json:"corruption_score" yaml:"corruption_score"`
	MissingContentScore float64  `json:"missing_content_score" yaml:"missing_content_score"`
	CharConfusionScore  float64  `json:"char_confusion_score" yaml:"char_confusion_score"`
	DictionaryOOVRatio  *float64 `json:"dictionary_oov_ratio,omitempty" yaml:"dictionary_oov_ratio,omitempty"`
	IsFormPage          bool     `json:"is_form_page" yaml:"is_form_page"`
	IVR                 *float64 `json:"ivr,omitempty" yaml:"ivr,omitempty"`
	FragmentationScore  float64  `json:"fragmentation_score" yaml:"fragmentation_score"`
	LineCount           int      `json:"line_count" yaml:"line_count"`
}

// Input is everything Compute needs about a fused page.
type Input struct {
	// Lines are the fused line texts after fragment filtering.
	Lines []string
	// Distances holds the alignment distance of each fused position.
	Distances []float64
	// HasAlt is false when only one engine contributed; disagreement is then 0.
	HasAlt bool
	// CharFusionThreshold separates agreeing positions from disagreeing ones.
	CharFusionThreshold float64
	// EngineTexts are the page texts of every engine used for fusion.
	EngineTexts []string
	// FormHint overrides form detection when set.
	FormHint *bool
	// Dictionary enables IVR and OOV; nil leaves them unset.
	Dictionary *Dictionary
	// FragmentMaxLen is the rune length under which a line counts as a fragment.
	FragmentMaxLen int
	// ConfusableDigits are digits commonly misread for letters.
	ConfusableDigits string
}

// Compute scores a page.
func Compute(in Input) Metrics {
	var m Metrics

	if in.HasAlt && len(in.Distances) > 0 {
		sum, over := 0.0, 0
		for _, d := range in.Distances {
			sum += d
			if d > in.CharFusionThreshold {
				over++
			}
		}
		m.DisagreementScore = sum / float64(len(in.Distances))
		m.DisagreeRate = float64(over) / float64(len(in.Distances))
	}

	text := strings.Join(in.Lines, "\n")
	m.CorruptionScore = corruptionScore(text)
	m.MissingContentScore = missingContentScore(text, in.EngineTexts)
	m.CharConfusionScore = charConfusionScore(text, in.ConfusableDigits)

	if in.Dictionary != nil {
		if tokens := wordTokens(text); len(tokens) > 0 {
			known := 0
			for _, t := range tokens {
				if in.Dictionary.Contains(t) {
					known++
				}
			}
			ivr := float64(known) / float64(len(tokens))
			oov := 1 - ivr
			m.IVR, m.DictionaryOOVRatio = &ivr, &oov
		}
	}

	nonBlank, short, fields := 0, 0, 0
	for _, line := range in.Lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		nonBlank++
		if utf8.RuneCountInString(trimmed) < in.FragmentMaxLen {
			short++
		}
		if looksLikeField(trimmed) {
			fields++
		}
	}
	m.LineCount = nonBlank
	if nonBlank > 0 {
		m.FragmentationScore = float64(short) / float64(nonBlank)
	}

	switch {
	case in.FormHint != nil:
		m.IsFormPage = *in.FormHint
	case nonBlank >= minFormLines:
		m.IsFormPage = float64(fields)/float64(nonBlank) >= formFieldShare
	}

	return m
}

const (
	minFormLines   = 4
	formFieldShare = 0.4
)

var fieldPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[\p{L}][\p{L}\d .#/()-]{0,40}:(\s|$)`), // Label:
	regexp.MustCompile(`_{3,}`),                                // blanks to fill in
	regexp.MustCompile(`\|`),                                   // table cells
	regexp.MustCompile(`\.{4,}`),                               // dotted leaders
	regexp.MustCompile(`\[\s?[xX ]?\s?\]`),                     // checkboxes
}

func looksLikeField(line string) bool {
	for _, re := range fieldPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// corruptionScore is the share of non-space runes that no correct reading of
// printed text would produce.
func corruptionScore(text string) float64 {
	total, bad := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if isCorrupt(r) {
			bad++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}

func isCorrupt(r rune) bool {
	switch {
	case r == utf8.RuneError:
		return true
	case unicode.IsControl(r), unicode.Is(unicode.Co, r):
		return true
	case strings.ContainsRune("©®°™", r):
		return false
	case unicode.Is(unicode.So, r), unicode.Is(unicode.Sk, r):
		return true
	}
	return false
}

func missingContentScore(fused string, engineTexts []string) float64 {
	most := 0
	for _, t := range engineTexts {
		most = max(most, nonSpaceRunes(t))
	}
	if most == 0 {
		return 0
	}
	score := 1 - float64(nonSpaceRunes(fused))/float64(most)
	return min(max(score, 0), 1)
}

func nonSpaceRunes(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// charConfusionScore is the share of tokens mixing letters with digits that
// are often misread letters, such as "he11o".
func charConfusionScore(text, digits string) float64 {
	if digits == "" {
		digits = DefaultConfusableDigits
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0
	}
	mixed := 0
	for _, tok := range tokens {
		if strings.IndexFunc(tok, unicode.IsLetter) >= 0 && strings.ContainsAny(tok, digits) {
			mixed++
		}
	}
	return float64(mixed) / float64(len(tokens))
}

// DefaultConfusableDigits matches the default confusion table.
const DefaultConfusableDigits = "0145"
