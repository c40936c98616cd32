package fusion

import (
	"sort"
	"strings"

	"github.com/jackzampolin/ocrfuse/internal/align"
)

// OutlierStatus says whether outlier detection had enough data to run.
type OutlierStatus string

const (
	OutlierOK     OutlierStatus = "ok"
	OutlierSingle OutlierStatus = "single"  // one non-empty output, nothing to compare
	OutlierNoData OutlierStatus = "no_data" // no non-empty outputs
)

// EnginePair is the distance between two engines' page text. A sorts before B.
type EnginePair struct {
	A        string  `json:"a" yaml:"a"`
	B        string  `json:"b" yaml:"b"`
	Distance float64 `json:"distance" yaml:"distance"`
}

// OutlierReport is the full result of outlier detection for one page.
type OutlierReport struct {
	Status            OutlierStatus      `json:"status" yaml:"status"`
	PairwiseDistances []EnginePair       `json:"pairwise_distances,omitempty" yaml:"pairwise_distances,omitempty"`
	MeanDistances     map[string]float64 `json:"mean_distances,omitempty" yaml:"mean_distances,omitempty"`
	BestPair          *EnginePair        `json:"best_pair,omitempty" yaml:"best_pair,omitempty"`
	Outliers          []string           `json:"outliers,omitempty" yaml:"outliers,omitempty"`
}

// IsOutlier reports whether engineID was flagged.
func (r OutlierReport) IsOutlier(engineID string) bool {
	for _, id := range r.Outliers {
		if id == engineID {
			return true
		}
	}
	return false
}

// Distance looks up the pairwise distance between two engines.
func (r OutlierReport) Distance(a, b string) (float64, bool) {
	if a > b {
		a, b = b, a
	}
	for _, p := range r.PairwiseDistances {
		if p.A == a && p.B == b {
			return p.Distance, true
		}
	}
	return 0, false
}

// DetectOutliers compares every engine's page text with every other and
// flags engines that disagree with the rest beyond threshold.
//
// Flagging is iterative: among the engines still in play, those holding the
// largest mean distance to the others are flagged if that mean exceeds the
// threshold, then the means are recomputed without them. Two engines that
// disagree heavily are therefore both flagged; there is no third opinion to
// say which one is wrong.
func DetectOutliers(outputs map[string]string, threshold float64) OutlierReport {
	var ids []string
	for id, text := range outputs {
		if strings.TrimSpace(text) != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	switch len(ids) {
	case 0:
		return OutlierReport{Status: OutlierNoData}
	case 1:
		return OutlierReport{Status: OutlierSingle}
	}

	dist := make(map[[2]string]float64, len(ids)*(len(ids)-1)/2)
	report := OutlierReport{Status: OutlierOK}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			d := align.Distance(outputs[ids[i]], outputs[ids[j]])
			dist[[2]string{ids[i], ids[j]}] = d
			dist[[2]string{ids[j], ids[i]}] = d
			p := EnginePair{A: ids[i], B: ids[j], Distance: d}
			report.PairwiseDistances = append(report.PairwiseDistances, p)
			if report.BestPair == nil || d < report.BestPair.Distance {
				best := p
				report.BestPair = &best
			}
		}
	}

	report.MeanDistances = meanDistances(ids, dist)

	remaining := ids
	for len(remaining) >= 2 {
		means := meanDistances(remaining, dist)
		worst := 0.0
		for _, id := range remaining {
			worst = max(worst, means[id])
		}
		if worst <= threshold {
			break
		}

		var keep []string
		for _, id := range remaining {
			if means[id] == worst {
				report.Outliers = append(report.Outliers, id)
			} else {
				keep = append(keep, id)
			}
		}
		remaining = keep
	}
	sort.Strings(report.Outliers)

	return report
}

func meanDistances(ids []string, dist map[[2]string]float64) map[string]float64 {
	means := make(map[string]float64, len(ids))
	for _, a := range ids {
		sum := 0.0
		for _, b := range ids {
			if a != b {
				sum += dist[[2]string{a, b}]
			}
		}
		means[a] = sum / float64(len(ids)-1)
	}
	return means
}
