package fusion

import (
	"strings"
	"unicode"
)

// FragmentOptions configures the trailing-fragment filter.
type FragmentOptions struct {
	// MinCluster is how many fragments must end the page before any are removed.
	MinCluster int
	// MaxLen is the exclusive rune length under which a line is short.
	MaxLen int
	// AllowList holds short lines that are legitimate content (case-insensitive).
	AllowList []string
}

// DefaultFragmentOptions returns the stock filter settings.
func DefaultFragmentOptions() FragmentOptions {
	return FragmentOptions{
		MinCluster: 3,
		MaxLen:     5,
		AllowList:  DefaultAllowList(),
	}
}

// DefaultAllowList returns short lines that commonly appear as headings.
func DefaultAllowList() []string {
	return []string{
		"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X",
		"A", "Ch.", "No.", "Fig.", "Vol.", "End", "Fin", "Note", "Map",
	}
}

// FilterFragments removes the trailing cluster of short column-edge
// artifacts from a page. Scattered short lines are kept; only a run of at
// least MinCluster fragments at the end of the page goes. Blank and
// numeric-only lines inside the trailing region are kept and neither extend
// nor interrupt the run.
func FilterFragments(lines []string, opts FragmentOptions) (kept []string, removed []RemovedLine) {
	allow := make(map[string]struct{}, len(opts.AllowList))
	for _, a := range opts.AllowList {
		allow[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}

	var run []int
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || isNumericLine(trimmed) {
			continue
		}
		if !isFragment(trimmed, opts.MaxLen, allow) {
			break
		}
		run = append(run, i)
	}

	if opts.MinCluster < 1 || len(run) < opts.MinCluster {
		return append([]string(nil), lines...), nil
	}

	drop := make(map[int]bool, len(run))
	for _, i := range run {
		drop[i] = true
	}
	for i, line := range lines {
		if drop[i] {
			removed = append(removed, RemovedLine{Index: i, Text: line})
			continue
		}
		kept = append(kept, line)
	}
	return kept, removed
}

func isFragment(trimmed string, maxLen int, allow map[string]struct{}) bool {
	if runeLen(trimmed) >= maxLen {
		return false
	}
	if _, ok := allow[strings.ToLower(trimmed)]; ok {
		return false
	}
	return true
}

// isNumericLine matches page numbers and similar: at least one digit and
// nothing but digits, spaces and light punctuation.
func isNumericLine(trimmed string) bool {
	digits := 0
	for _, r := range trimmed {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsSpace(r), strings.ContainsRune("-–—.,:()[]/", r):
		default:
			return false
		}
	}
	return digits > 0
}
