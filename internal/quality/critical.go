package quality

import (
	"fmt"
	"math"
)

// FormThresholds are the tighter rules applied to form pages, which score
// low on dictionary and fragmentation heuristics even when read correctly.
type FormThresholds struct {
	MinIVR           float64 `mapstructure:"min_ivr"`
	DisagreeRate     float64 `mapstructure:"disagree_rate"`
	DisagreeIVR      float64 `mapstructure:"disagree_ivr"`
	Fragmentation    float64 `mapstructure:"fragmentation"`
	FragmentationIVR float64 `mapstructure:"fragmentation_ivr"`
}

// Thresholds configure IsCriticalFailure.
type Thresholds struct {
	Corruption     float64        `mapstructure:"corruption_threshold"`
	Disagree       float64        `mapstructure:"disagree_threshold"`
	MissingContent float64        `mapstructure:"missing_content_threshold"`
	MinLineCount   int            `mapstructure:"min_line_count"`
	Form           FormThresholds `mapstructure:"form"`
}

// DefaultThresholds returns the stock detector settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Corruption:     0.8,
		Disagree:       0.8,
		MissingContent: 0.7,
		MinLineCount:   3,
		Form: FormThresholds{
			MinIVR:           0.15,
			DisagreeRate:     0.5,
			DisagreeIVR:      0.4,
			Fragmentation:    0.3,
			FragmentationIVR: 0.5,
		},
	}
}

// Validate checks that every ratio lies in [0,1].
func (t Thresholds) Validate() error {
	ratios := []struct {
		name  string
		value float64
	}{
		{"corruption_threshold", t.Corruption},
		{"disagree_threshold", t.Disagree},
		{"missing_content_threshold", t.MissingContent},
		{"form.min_ivr", t.Form.MinIVR},
		{"form.disagree_rate", t.Form.DisagreeRate},
		{"form.disagree_ivr", t.Form.DisagreeIVR},
		{"form.fragmentation", t.Form.Fragmentation},
		{"form.fragmentation_ivr", t.Form.FragmentationIVR},
	}
	for _, r := range ratios {
		if math.IsNaN(r.value) || r.value < 0 || r.value > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", r.name, r.value)
		}
	}
	if t.MinLineCount < 0 {
		return fmt.Errorf("min_line_count must not be negative, got %d", t.MinLineCount)
	}
	return nil
}

// IsCriticalFailure judges whether a page's fused output is unacceptable.
// Form pages with a known IVR are judged only by the form rules; without a
// dictionary there is no IVR and the generic rules apply.
func IsCriticalFailure(m Metrics, t Thresholds) (bool, []string) {
	var reasons []string

	if m.IsFormPage && m.IVR != nil {
		ivr := *m.IVR
		if ivr < t.Form.MinIVR {
			reasons = append(reasons, fmt.Sprintf("form page ivr %.2f < %.2f", ivr, t.Form.MinIVR))
		}
		if m.DisagreeRate > t.Form.DisagreeRate && ivr < t.Form.DisagreeIVR {
			reasons = append(reasons, fmt.Sprintf("form page disagree_rate %.2f > %.2f with ivr %.2f < %.2f",
				m.DisagreeRate, t.Form.DisagreeRate, ivr, t.Form.DisagreeIVR))
		}
		if m.FragmentationScore > t.Form.Fragmentation && ivr < t.Form.FragmentationIVR {
			reasons = append(reasons, fmt.Sprintf("form page fragmentation %.2f > %.2f with ivr %.2f < %.2f",
				m.FragmentationScore, t.Form.Fragmentation, ivr, t.Form.FragmentationIVR))
		}
		return len(reasons) > 0, reasons
	}

	if m.CorruptionScore > t.Corruption {
		reasons = append(reasons, fmt.Sprintf("corruption_score %.2f > %.2f", m.CorruptionScore, t.Corruption))
	}
	if m.DisagreeRate > t.Disagree {
		reasons = append(reasons, fmt.Sprintf("disagree_rate %.2f > %.2f", m.DisagreeRate, t.Disagree))
	}
	if m.LineCount < t.MinLineCount && m.MissingContentScore > t.MissingContent {
		reasons = append(reasons, fmt.Sprintf("line_count %d < %d with missing_content %.2f > %.2f",
			m.LineCount, t.MinLineCount, m.MissingContentScore, t.MissingContent))
	}
	return len(reasons) > 0, reasons
}
