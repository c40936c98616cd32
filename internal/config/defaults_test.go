package config

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultEntries(t *testing.T) {
	entries := DefaultEntries()

	if len(entries) == 0 {
		t.Fatal("DefaultEntries() returned empty slice")
	}

	// Verify required keys exist
	requiredKeys := []string{
		"fusion.engines",
		"fusion.distance_drop_threshold",
		"fusion.char_fusion_threshold",
		"fusion.high_confidence",
		"fusion.low_confidence",
		"fusion.outlier_threshold",
		"fragments.min_cluster",
		"fragments.max_len",
		"quality.corruption_threshold",
		"quality.disagree_threshold",
		"quality.form.min_ivr",
		"escalation.budget",
		"escalation.provider",
		"defaults.max_workers",
	}

	keys := make(map[string]bool)
	for _, e := range entries {
		if err := ValidateKey(e.Key); err != nil {
			t.Errorf("entry %q: %v", e.Key, err)
		}
		if keys[e.Key] {
			t.Errorf("duplicate entry %q", e.Key)
		}
		if e.Description == "" {
			t.Errorf("entry %q has no description", e.Key)
		}
		keys[e.Key] = true
	}

	for _, key := range requiredKeys {
		if !keys[key] {
			t.Errorf("DefaultEntries() missing required key: %s", key)
		}
	}
}

func TestGetDefault(t *testing.T) {
	t.Run("existing_key", func(t *testing.T) {
		entry, err := GetDefault("escalation.provider")
		if err != nil {
			t.Fatalf("GetDefault() error = %v", err)
		}
		if entry.Value != "none" {
			t.Errorf("GetDefault() Value = %v, want %q", entry.Value, "none")
		}
	})

	t.Run("non_existent_key", func(t *testing.T) {
		_, err := GetDefault("does.not.exist")
		if !errors.Is(err, ErrNoDefault) {
			t.Errorf("GetDefault() error = %v, want ErrNoDefault", err)
		}
	})

	t.Run("invalid_key", func(t *testing.T) {
		_, err := GetDefault("escalation budget")
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("GetDefault() error = %v, want ErrInvalidKey", err)
		}
	})
}

func TestGetDefault_ConfidenceDescriptions(t *testing.T) {
	// Both confidence thresholds are compared against the alt line.
	for _, key := range []string{"fusion.high_confidence", "fusion.low_confidence"} {
		entry, err := GetDefault(key)
		if err != nil {
			t.Fatalf("GetDefault(%q) error = %v", key, err)
		}
		if !strings.HasPrefix(entry.Description, "Alt confidence") {
			t.Errorf("%s description = %q", key, entry.Description)
		}
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"fusion.engines", false},
		{"quality.form.min_ivr", false},
		{"escalation.open-ai", false},
		{"", true},
		{".leading", true},
		{"trailing.", true},
		{"has space", true},
		{"semi;colon", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("error should wrap ErrInvalidKey: %v", err)
			}
		})
	}
}
