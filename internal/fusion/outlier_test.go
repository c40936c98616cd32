package fusion

import (
	"reflect"
	"testing"
)

func TestDetectOutliers_FlagsTheOddOneOut(t *testing.T) {
	report := DetectOutliers(map[string]string{
		"tesseract": "ABC",
		"paddle":    "ABD",
		"doctr":     "XYZ",
	}, 0.6)

	if report.Status != OutlierOK {
		t.Fatalf("status = %s, want ok", report.Status)
	}
	if !reflect.DeepEqual(report.Outliers, []string{"doctr"}) {
		t.Errorf("outliers = %v, want [doctr]", report.Outliers)
	}
	if report.BestPair == nil {
		t.Fatal("best pair missing")
	}
	if report.BestPair.A != "paddle" || report.BestPair.B != "tesseract" {
		t.Errorf("best pair = %s/%s, want paddle/tesseract", report.BestPair.A, report.BestPair.B)
	}
	if len(report.PairwiseDistances) != 3 {
		t.Errorf("pairwise distances = %d, want 3", len(report.PairwiseDistances))
	}
	if d, ok := report.Distance("tesseract", "paddle"); !ok || d <= 0 || d >= 0.5 {
		t.Errorf("Distance(tesseract, paddle) = %v, %v", d, ok)
	}
}

func TestDetectOutliers_TwoDisagreeingEnginesBothFlagged(t *testing.T) {
	report := DetectOutliers(map[string]string{"a": "ABC", "b": "XYZ"}, 0.6)
	if !reflect.DeepEqual(report.Outliers, []string{"a", "b"}) {
		t.Errorf("outliers = %v, want both", report.Outliers)
	}
}

func TestDetectOutliers_NotEnoughData(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]string
		want    OutlierStatus
	}{
		{"nothing", nil, OutlierNoData},
		{"all blank", map[string]string{"a": "", "b": "  \n"}, OutlierNoData},
		{"one engine", map[string]string{"a": "text"}, OutlierSingle},
		{"one non-blank", map[string]string{"a": "text", "b": ""}, OutlierSingle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := DetectOutliers(tt.outputs, 0.6)
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Outliers) != 0 || report.BestPair != nil {
				t.Errorf("unexpected outliers %v / best pair %v", report.Outliers, report.BestPair)
			}
		})
	}
}

func TestDetectOutliers_CloserThirdEngineDoesNotFlag(t *testing.T) {
	base := map[string]string{
		"a": "It was the best of times",
		"b": "It was the worst of tides",
	}
	before := DetectOutliers(base, 0.2)
	if before.IsOutlier("a") {
		t.Fatalf("a flagged before adding c: %+v", before)
	}

	dAB, _ := before.Distance("a", "b")
	withC := map[string]string{
		"a": base["a"],
		"b": base["b"],
		"c": "It was the best of tines",
	}
	after := DetectOutliers(withC, 0.2)
	if dAC, _ := after.Distance("a", "c"); dAC >= dAB {
		t.Fatalf("fixture broken: d(a,c)=%v should be below d(a,b)=%v", dAC, dAB)
	}
	if after.IsOutlier("a") {
		t.Errorf("adding an engine closer to a flagged a: %+v", after)
	}
}

func TestDetectOutliers_MeansReported(t *testing.T) {
	report := DetectOutliers(map[string]string{"a": "ABC", "b": "ABD", "c": "XYZ"}, 0.6)
	if got := report.MeanDistances["c"]; got != 1 {
		t.Errorf("mean distance of c = %v, want 1", got)
	}
	if len(report.MeanDistances) != 3 {
		t.Errorf("mean distances = %v", report.MeanDistances)
	}
}
