// Package output renders fused records and run summaries.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/ocrfuse/internal/fusion"
	"github.com/jackzampolin/ocrfuse/internal/home"
)

// Format defines the output format for records and summaries.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatYAML, FormatJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// Ext returns the file extension for the format.
func (f Format) Ext() string {
	return string(f)
}

// To writes data to the given writer in the specified format.
func To(w io.Writer, format Format, data any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// Sink receives records as they are emitted and the summary at the end.
type Sink interface {
	Record(rec fusion.FusedPageRecord) error
	Summary(sum fusion.RunSummary) error
}

// StreamSink writes every record and the summary to one writer. JSON output
// is one document per record; YAML output separates documents with ---.
type StreamSink struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

// NewStreamSink returns a sink writing to w.
func NewStreamSink(w io.Writer, format Format) *StreamSink {
	return &StreamSink{w: w, format: format}
}

func (s *StreamSink) Record(rec fusion.FusedPageRecord) error {
	return s.write(rec)
}

func (s *StreamSink) Summary(sum fusion.RunSummary) error {
	return s.write(sum)
}

func (s *StreamSink) write(data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == FormatYAML {
		if _, err := io.WriteString(s.w, "---\n"); err != nil {
			return err
		}
	}
	return To(s.w, s.format, data)
}

// DirSink writes one file per page and a summary file into a run directory.
type DirSink struct {
	layout home.RunLayout
	format Format
}

// NewDirSink creates the run directory and returns a sink writing into it.
func NewDirSink(layout home.RunLayout, format Format) (*DirSink, error) {
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &DirSink{layout: layout, format: format}, nil
}

// Dir returns the run directory.
func (s *DirSink) Dir() string {
	return s.layout.Dir()
}

func (s *DirSink) Record(rec fusion.FusedPageRecord) error {
	return s.writeFile(s.layout.PagePath(rec.PageID, s.format.Ext()), rec)
}

func (s *DirSink) Summary(sum fusion.RunSummary) error {
	return s.writeFile(s.layout.SummaryPath(s.format.Ext()), sum)
}

func (s *DirSink) writeFile(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := To(f, s.format, data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
