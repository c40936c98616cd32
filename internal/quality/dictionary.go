package quality

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Dictionary is a reference wordlist used for the in-vocabulary ratio.
// Words are NFC-normalized and Unicode case-folded on both insert and lookup,
// so "Straße", "STRASSE" and "strasse" are the same entry.
type Dictionary struct {
	words map[string]struct{}
}

// NewDictionary builds a dictionary from words. Blank entries are ignored.
func NewDictionary(words []string) *Dictionary {
	d := &Dictionary{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		if key := foldWord(w); key != "" {
			d.words[key] = struct{}{}
		}
	}
	return d
}

// LoadDictionary reads a wordlist with one word per line. Blank lines and
// lines starting with '#' are skipped.
func LoadDictionary(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("dictionary %s has no words", path)
	}
	return NewDictionary(words), nil
}

// Contains reports whether word is in the dictionary.
func (d *Dictionary) Contains(word string) bool {
	if d == nil {
		return false
	}
	_, ok := d.words[foldWord(word)]
	return ok
}

// Len returns the number of distinct folded entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.words)
}

// foldWord builds a fresh caser each call; cases.Caser is not safe for
// concurrent use and pages are scored in parallel.
func foldWord(w string) string {
	w = strings.TrimSpace(w)
	if w == "" {
		return ""
	}
	return cases.Fold().String(norm.NFC.String(w))
}

// wordTokens splits text into letter tokens. Internal apostrophes are kept
// ("don't"); tokens without any letter are discarded.
func wordTokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && r != '\'' && r != '’'
	})
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'’")
		if strings.IndexFunc(f, unicode.IsLetter) >= 0 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
