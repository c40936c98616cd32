package fusion

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/ocrfuse/internal/align"
	"github.com/jackzampolin/ocrfuse/internal/quality"
)

// Source records where a fused line's text came from.
type Source int

const (
	SourcePrimary Source = iota + 1
	SourceAlt
	SourceAltConfident
	SourceFused
	SourceAgree
	SourceEmpty
	SourceEscalated
)

// AllSources lists every source kind in declaration order.
var AllSources = []Source{
	SourcePrimary,
	SourceAlt,
	SourceAltConfident,
	SourceFused,
	SourceAgree,
	SourceEmpty,
	SourceEscalated,
}

func (s Source) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourceAlt:
		return "alt"
	case SourceAltConfident:
		return "alt_confident"
	case SourceFused:
		return "fused"
	case SourceAgree:
		return "agree"
	case SourceEmpty:
		return "empty"
	case SourceEscalated:
		return "escalated"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// ParseSource is the inverse of String.
func ParseSource(name string) (Source, error) {
	for _, s := range AllSources {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown line source %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	if _, err := ParseSource(s.String()); err != nil {
		return nil, err
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	parsed, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// BBox is a line bounding box in image pixels.
type BBox struct {
	X0 float64 `json:"x0" yaml:"x0"`
	Y0 float64 `json:"y0" yaml:"y0"`
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
}

// LineRecord is one recognized line.
type LineRecord struct {
	Text       string   `json:"text" yaml:"text"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	BBox       *BBox    `json:"bbox,omitempty" yaml:"bbox,omitempty"`
}

// EngineOutput is one engine's recognition of one page.
type EngineOutput struct {
	EngineID   string       `json:"engine_id" yaml:"engine_id"`
	Lines      []LineRecord `json:"lines" yaml:"lines"`
	WholeText  string       `json:"whole_text,omitempty" yaml:"whole_text,omitempty"`
	Confidence *float64     `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Available  bool         `json:"available" yaml:"available"`
}

// Texts returns the line texts in order. An engine that reported only
// whole-page text is split on newlines.
func (o EngineOutput) Texts() []string {
	if len(o.Lines) == 0 {
		if o.WholeText == "" {
			return []string{}
		}
		texts := strings.Split(strings.TrimRight(o.WholeText, "\r\n"), "\n")
		for i, t := range texts {
			texts[i] = strings.TrimSuffix(t, "\r")
		}
		return texts
	}
	texts := make([]string, len(o.Lines))
	for i, l := range o.Lines {
		texts[i] = l.Text
	}
	return texts
}

// PageText returns the whole-page text, falling back to the joined lines.
func (o EngineOutput) PageText() string {
	if o.WholeText != "" {
		return o.WholeText
	}
	return strings.Join(o.Texts(), "\n")
}

// LineConfidence returns the confidence for line i, falling back to the
// page-level confidence. Nil means the engine reported none.
func (o EngineOutput) LineConfidence(i int) *float64 {
	if i >= 0 && i < len(o.Lines) && o.Lines[i].Confidence != nil {
		return o.Lines[i].Confidence
	}
	return o.Confidence
}

// PageInput is everything known about one page before fusion.
type PageInput struct {
	PageID   string         `json:"page_id" yaml:"page_id"`
	ImageRef string         `json:"image_ref,omitempty" yaml:"image_ref,omitempty"`
	FormPage *bool          `json:"form_page,omitempty" yaml:"form_page,omitempty"`
	Engines  []EngineOutput `json:"engines" yaml:"engines"`

	// Rejected holds engines the loader could not decode. They are carried
	// into the record's dropped engines.
	Rejected []DroppedEngine `json:"-" yaml:"-"`
}

// FusedLine is one output position.
type FusedLine struct {
	Text        string   `json:"text" yaml:"text"`
	Source      Source   `json:"source" yaml:"source"`
	Distance    float64  `json:"distance" yaml:"distance"`
	Confidence  *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Engine      string   `json:"engine,omitempty" yaml:"engine,omitempty"`
	AltEngine   string   `json:"alt_engine,omitempty" yaml:"alt_engine,omitempty"`
	PrimaryText *string  `json:"primary_text,omitempty" yaml:"primary_text,omitempty"`
	AltText     *string  `json:"alt_text,omitempty" yaml:"alt_text,omitempty"`
}

// RejectedInput is a page file, or a page within one, that could not be
// decoded and so never reached fusion.
type RejectedInput struct {
	Source string `json:"source" yaml:"source"`
	PageID string `json:"page_id,omitempty" yaml:"page_id,omitempty"`
	Reason string `json:"reason" yaml:"reason"`
}

// DroppedEngine is an engine excluded before fusion along with why.
type DroppedEngine struct {
	EngineID string `json:"engine_id" yaml:"engine_id"`
	Reason   string `json:"reason" yaml:"reason"`
}

// RemovedLine is a line taken out by the fragment filter.
type RemovedLine struct {
	Index int    `json:"index" yaml:"index"`
	Text  string `json:"text" yaml:"text"`
}

// EscalationDecision separates whether a page needed escalation from
// whether it actually got it.
type EscalationDecision struct {
	NeedsEscalation bool     `json:"needs_escalation" yaml:"needs_escalation"`
	Reasons         []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Escalated       bool     `json:"escalated" yaml:"escalated"`
	BudgetConsumed  bool     `json:"budget_consumed" yaml:"budget_consumed"`
	Attempts        int      `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// PageStatus classifies an emitted page for the run summary.
type PageStatus string

const (
	StatusSucceeded        PageStatus = "succeeded"
	StatusDegraded         PageStatus = "degraded"
	StatusEscalationFailed PageStatus = "escalation_failed"
)

// FusedPageRecord is the final per-page artifact.
type FusedPageRecord struct {
	PageID             string             `json:"page_id" yaml:"page_id"`
	Status             PageStatus         `json:"status" yaml:"status"`
	Lines              []FusedLine        `json:"lines" yaml:"lines"`
	EnginesUsed        []string           `json:"engines_used" yaml:"engines_used"`
	PrimaryEngine      string             `json:"primary_engine,omitempty" yaml:"primary_engine,omitempty"`
	OutlierEngines     []string           `json:"outlier_engines,omitempty" yaml:"outlier_engines,omitempty"`
	DroppedEngines     []DroppedEngine    `json:"dropped_engines,omitempty" yaml:"dropped_engines,omitempty"`
	Outliers           OutlierReport      `json:"outliers" yaml:"outliers"`
	RemovedFragments   []RemovedLine      `json:"removed_fragments,omitempty" yaml:"removed_fragments,omitempty"`
	Metrics            quality.Metrics    `json:"metrics" yaml:"metrics"`
	Escalation         EscalationDecision `json:"escalation" yaml:"escalation"`
	PreEscalationLines []FusedLine        `json:"pre_escalation_lines,omitempty" yaml:"pre_escalation_lines,omitempty"`
	Notes              []string           `json:"notes,omitempty" yaml:"notes,omitempty"`
	Trace              []State            `json:"trace" yaml:"trace"`
	Error              string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// Thresholds drive the per-pair selection rules.
type Thresholds struct {
	DistanceDrop   float64
	CharFusion     float64
	HighConfidence float64
	LowConfidence  float64
	Confusions     align.ConfusionTable
}

// DefaultThresholds returns the stock selector settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DistanceDrop:   0.35,
		CharFusion:     0.15,
		HighConfidence: 0.8,
		LowConfidence:  0.5,
		Confusions:     align.DefaultConfusions(),
	}
}
