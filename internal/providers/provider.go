// Package providers holds the escalation collaborators: expensive,
// higher-accuracy recognizers called for pages the fused output could not
// save.
package providers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/ocrfuse/internal/fusion"
)

// RateLimitError is returned when the remote service answered 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError unwraps err to a RateLimitError if it is one.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

// imageURL turns a page image reference into something a vision API accepts:
// http(s) and data URLs pass through, anything else is read from disk and
// inlined as a base64 data URL.
func imageURL(ref string) (string, error) {
	switch {
	case ref == "":
		return "", errors.New("page has no image reference")
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "data:"):
		return ref, nil
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("page image %s is %s, not an image", ref, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

var (
	mdImage   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdHeading = regexp.MustCompile(`^#{1,6}\s+`)
	mdEmph    = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
)

// markdownLines converts a markdown transcription into plain line records.
// Image references and heading markers are stripped; blank lines dropped.
func markdownLines(md string) []fusion.LineRecord {
	var lines []fusion.LineRecord
	for _, raw := range strings.Split(md, "\n") {
		line := mdImage.ReplaceAllString(raw, "")
		line = mdHeading.ReplaceAllString(strings.TrimSpace(line), "")
		line = mdEmph.ReplaceAllString(line, "$2")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, fusion.LineRecord{Text: line})
	}
	return lines
}
