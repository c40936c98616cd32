package fusion

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfig is returned before any page is processed when a
	// threshold or limit is out of range.
	ErrInvalidConfig = errors.New("invalid fusion config")

	// ErrEscalationTimeout means the escalation call did not answer in time.
	ErrEscalationTimeout = errors.New("escalation timed out")

	// ErrEscalationFailed means the collaborator errored or reported failure.
	ErrEscalationFailed = errors.New("escalation failed")

	// ErrEscalationCancelled means the run was cancelled mid-call.
	ErrEscalationCancelled = errors.New("escalation cancelled")

	// ErrBudgetExhausted is not a failure: it is recorded as a reason when a
	// page needed escalation but the run had no budget left.
	ErrBudgetExhausted = errors.New("escalation budget exhausted")
)

// InputError describes a malformed engine output. The engine is dropped for
// that page and fusion continues with the others.
type InputError struct {
	PageID   string
	EngineID string
	Reason   string
}

func (e *InputError) Error() string {
	if e.EngineID == "" {
		return fmt.Sprintf("page %s: invalid engine output: %s", e.PageID, e.Reason)
	}
	return fmt.Sprintf("page %s: engine %s: %s", e.PageID, e.EngineID, e.Reason)
}

// ValidateEngineOutput checks one engine output for values the fusion rules
// cannot interpret.
func ValidateEngineOutput(pageID string, o EngineOutput) error {
	fail := func(format string, args ...any) error {
		return &InputError{PageID: pageID, EngineID: o.EngineID, Reason: fmt.Sprintf(format, args...)}
	}

	if o.EngineID == "" {
		return fail("missing engine_id")
	}
	if !validConfidence(o.Confidence) {
		return fail("page confidence %v outside [0,1]", *o.Confidence)
	}
	for i, line := range o.Lines {
		if !validConfidence(line.Confidence) {
			return fail("line %d confidence %v outside [0,1]", i, *line.Confidence)
		}
		if b := line.BBox; b != nil && (b.X1 < b.X0 || b.Y1 < b.Y0) {
			return fail("line %d bbox is inverted", i)
		}
	}
	return nil
}

func validConfidence(c *float64) bool {
	if c == nil {
		return true
	}
	return !math.IsNaN(*c) && *c >= 0 && *c <= 1
}
