package fusion

import (
	"testing"

	"github.com/jackzampolin/ocrfuse/internal/align"
)

func conf(v float64) *float64 { return &v }

func pairOf(primary, alt string) align.Pair {
	pairs := align.Lines([]string{primary}, []string{alt})
	if len(pairs) != 1 {
		panic("expected a single aligned pair")
	}
	return pairs[0]
}

func TestResolve_Rules(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name       string
		pair       align.Pair
		altConf    *float64
		wantText   string
		wantSource Source
	}{
		{
			name:       "divergent alt rejected",
			pair:       pairOf("SKILL 9", "sTAMINA 9"),
			wantText:   "SKILL 9",
			wantSource: SourcePrimary,
		},
		{
			name:       "case repair",
			pair:       pairOf("sTAMINA", "STAMINA"),
			wantText:   "STAMINA",
			wantSource: SourceFused,
		},
		{
			name:       "identical lines agree",
			pair:       pairOf("The end", "The end"),
			wantText:   "The end",
			wantSource: SourceAgree,
		},
		{
			name:       "confident alt wins",
			pair:       pairOf("The cat sat", "The cot sot"),
			altConf:    conf(0.9),
			wantText:   "The cot sot",
			wantSource: SourceAltConfident,
		},
		{
			name:       "unconfident alt loses",
			pair:       pairOf("The cat sat", "The cat sat on"),
			altConf:    conf(0.3),
			wantText:   "The cat sat",
			wantSource: SourcePrimary,
		},
		{
			name:       "middle confidence falls through to length",
			pair:       pairOf("The cat sat", "The cat sat on"),
			altConf:    conf(0.6),
			wantText:   "The cat sat on",
			wantSource: SourceAlt,
		},
		{
			name:       "longer alt chosen in the ambiguous band",
			pair:       pairOf("The cat sat", "The cat sat on"),
			wantText:   "The cat sat on",
			wantSource: SourceAlt,
		},
		{
			name:       "primary only",
			pair:       align.Pair{Primary: "only here", PrimaryIndex: 0, AltIndex: -1, Distance: 1},
			wantText:   "only here",
			wantSource: SourcePrimary,
		},
		{
			name:       "alt only",
			pair:       align.Pair{Alt: "inserted", PrimaryIndex: -1, AltIndex: 0, Distance: 1},
			wantText:   "inserted",
			wantSource: SourceAlt,
		},
		{
			name:       "blank present side is empty",
			pair:       align.Pair{Primary: "  ", PrimaryIndex: 0, AltIndex: -1, Distance: 1},
			wantText:   "  ",
			wantSource: SourceEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.pair, tt.altConf, th)
			if got.Text != tt.wantText {
				t.Errorf("text = %q, want %q", got.Text, tt.wantText)
			}
			if got.Source != tt.wantSource {
				t.Errorf("source = %s, want %s", got.Source, tt.wantSource)
			}
			if got.Distance != tt.pair.Distance {
				t.Errorf("distance = %v, want %v", got.Distance, tt.pair.Distance)
			}
		})
	}
}

func TestResolve_LengthTieGoesToPrimary(t *testing.T) {
	// distance 2/10 sits between the fusion and drop thresholds
	got := Resolve(pairOf("abcdefghij", "abcdefghXY"), nil, DefaultThresholds())
	if got.Source != SourcePrimary || got.Text != "abcdefghij" {
		t.Errorf("got %s %q, want primary", got.Source, got.Text)
	}
}

func TestResolve_DigitConfusionNeedsWiderFusionThreshold(t *testing.T) {
	th := DefaultThresholds()
	// 2/7 is above the stock fusion threshold; the length rule ties to primary.
	if got := Resolve(pairOf("y0u 4re", "you are"), nil, th); got.Text != "y0u 4re" {
		t.Errorf("stock thresholds: got %q", got.Text)
	}

	th.CharFusion = 0.3
	got := Resolve(pairOf("y0u 4re", "you are"), nil, th)
	if got.Source != SourceFused || got.Text != "you are" {
		t.Errorf("got %s %q, want fused \"you are\"", got.Source, got.Text)
	}
}

func TestResolve_NeverInventsText(t *testing.T) {
	samples := []string{
		"", "STAMINA", "sTAMINA", "SKILL 9", "sTAMINA 9", "y0u 4re", "you are",
		"He11o world", "Hello world", "The cat sat", "The cat sat on the mat", "12",
	}
	confidences := []*float64{nil, conf(0.1), conf(0.6), conf(0.95)}
	th := DefaultThresholds()

	for _, p := range samples {
		for _, a := range samples {
			for _, c := range confidences {
				for _, pair := range align.Lines([]string{p}, []string{a}) {
					got := Resolve(pair, c, th)
					allowed := map[string]bool{}
					if pair.HasPrimary() {
						allowed[pair.Primary] = true
					}
					if pair.HasAlt() {
						allowed[pair.Alt] = true
					}
					if pair.HasPrimary() && pair.HasAlt() {
						allowed[align.FuseCharacters(pair.Primary, pair.Alt, th.Confusions)] = true
					}
					if !allowed[got.Text] {
						t.Errorf("Resolve(%q, %q) = %q, not one of the inputs or their fusion", p, a, got.Text)
					}
				}
			}
		}
	}
}

func TestSource_TextRoundTrip(t *testing.T) {
	for _, s := range AllSources {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", s, err)
		}
		var back Source
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", b, err)
		}
		if back != s {
			t.Errorf("round trip %s -> %s", s, back)
		}
	}

	if _, err := Source(0).MarshalText(); err == nil {
		t.Error("expected error for zero source")
	}
	if _, err := ParseSource("guess"); err == nil {
		t.Error("expected error for unknown source name")
	}
}
