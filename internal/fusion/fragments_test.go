package fusion

import (
	"reflect"
	"testing"
)

func TestFilterFragments(t *testing.T) {
	tests := []struct {
		name        string
		lines       []string
		opts        FragmentOptions
		wantKept    []string
		wantRemoved []RemovedLine
	}{
		{
			name:     "trailing column bleed removed",
			lines:    []string{"Battles", "his", "LL.", "ured"},
			opts:     DefaultFragmentOptions(),
			wantKept: []string{"Battles"},
			wantRemoved: []RemovedLine{
				{Index: 1, Text: "his"},
				{Index: 2, Text: "LL."},
				{Index: 3, Text: "ured"},
			},
		},
		{
			name:     "scattered short lines kept",
			lines:    []string{"ab", "A long line of text", "cd", "Another long line"},
			opts:     DefaultFragmentOptions(),
			wantKept: []string{"ab", "A long line of text", "cd", "Another long line"},
		},
		{
			name:     "cluster below minimum kept",
			lines:    []string{"A long line of text", "ab", "cd"},
			opts:     DefaultFragmentOptions(),
			wantKept: []string{"A long line of text", "ab", "cd"},
		},
		{
			name:     "page number inside the run is kept",
			lines:    []string{"A long line of text", "ab", "12", "cd", "ef"},
			opts:     DefaultFragmentOptions(),
			wantKept: []string{"A long line of text", "12"},
			wantRemoved: []RemovedLine{
				{Index: 1, Text: "ab"},
				{Index: 3, Text: "cd"},
				{Index: 4, Text: "ef"},
			},
		},
		{
			name:     "allow-listed heading breaks the run",
			lines:    []string{"A long line of text", "aa", "II", "xx", "yy"},
			opts:     DefaultFragmentOptions(),
			wantKept: []string{"A long line of text", "aa", "II", "xx", "yy"},
		},
		{
			name:     "allow-list is case-insensitive",
			lines:    []string{"A long line of text", "end", "xx", "yy"},
			opts:     DefaultFragmentOptions(),
			wantKept: []string{"A long line of text", "end", "xx", "yy"},
		},
		{
			name:     "blank lines are transparent",
			lines:    []string{"A long line of text", "ab", "", "cd", " ", "ef"},
			opts:     DefaultFragmentOptions(),
			wantKept: []string{"A long line of text", "", " "},
			wantRemoved: []RemovedLine{
				{Index: 1, Text: "ab"},
				{Index: 3, Text: "cd"},
				{Index: 5, Text: "ef"},
			},
		},
		{
			name:     "shorter max_len",
			lines:    []string{"Battles", "his", "LL.", "ured"},
			opts:     FragmentOptions{MinCluster: 3, MaxLen: 4},
			wantKept: []string{"Battles", "his", "LL.", "ured"},
		},
		{
			name:     "empty input",
			lines:    nil,
			opts:     DefaultFragmentOptions(),
			wantKept: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, removed := FilterFragments(tt.lines, tt.opts)
			if len(kept) != len(tt.wantKept) || (len(kept) > 0 && !reflect.DeepEqual(kept, tt.wantKept)) {
				t.Errorf("kept = %q, want %q", kept, tt.wantKept)
			}
			if !reflect.DeepEqual(removed, tt.wantRemoved) {
				t.Errorf("removed = %+v, want %+v", removed, tt.wantRemoved)
			}
			if len(kept)+len(removed) != len(tt.lines) {
				t.Errorf("lines lost: %d kept + %d removed != %d", len(kept), len(removed), len(tt.lines))
			}
		})
	}
}

func TestFilterFragments_NumericLinesNeverRemoved(t *testing.T) {
	lines := []string{"Body text line", "1", "x", "- 12 -", "y", "iv", "(3)", "z"}
	for minCluster := 1; minCluster <= len(lines); minCluster++ {
		_, removed := FilterFragments(lines, FragmentOptions{MinCluster: minCluster, MaxLen: 10})
		for _, rm := range removed {
			if isNumericLine(rm.Text) {
				t.Errorf("min_cluster=%d removed numeric line %q", minCluster, rm.Text)
			}
		}
	}
}
