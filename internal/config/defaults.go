package config

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/spf13/viper"
)

var (
	// ErrNoDefault is returned when no default value exists for a config key.
	ErrNoDefault = errors.New("no default exists")

	// ErrInvalidKey is returned when a config key contains invalid characters.
	ErrInvalidKey = errors.New("invalid config key")
)

// Entry is one documented configuration key.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns every configuration key with its default value.
// These are registered with viper so that environment overrides apply to
// keys absent from the config file.
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		// ===================
		// Fusion
		// ===================
		{
			Key:         "fusion.engines",
			Value:       d.Fusion.Engines,
			Description: "Engine preference order; the first non-outlier engine is the primary",
		},
		{
			Key:         "fusion.distance_drop_threshold",
			Value:       d.Fusion.DistanceDropThreshold,
			Description: "Line distance above which the primary line is kept as is",
		},
		{
			Key:         "fusion.char_fusion_threshold",
			Value:       d.Fusion.CharFusionThreshold,
			Description: "Line distance at or below which characters are fused",
		},
		{
			Key:         "fusion.high_confidence",
			Value:       d.Fusion.HighConfidence,
			Description: "Alt confidence at or above which a confident alt wins",
		},
		{
			Key:         "fusion.low_confidence",
			Value:       d.Fusion.LowConfidence,
			Description: "Alt confidence below which the primary line is kept",
		},
		{
			Key:         "fusion.outlier_threshold",
			Value:       d.Fusion.OutlierThreshold,
			Description: "Mean page distance above which an engine is excluded",
		},
		{
			Key:         "fusion.confusions",
			Value:       d.Fusion.Confusions,
			Description: "Digit to confusable letters, e.g. \"0\": oO",
		},

		// ===================
		// Fragment filter
		// ===================
		{
			Key:         "fragments.min_cluster",
			Value:       d.Fragments.MinCluster,
			Description: "Shortest trailing run of short lines treated as column-edge debris",
		},
		{
			Key:         "fragments.max_len",
			Value:       d.Fragments.MaxLen,
			Description: "Lines shorter than this many characters count as fragments",
		},
		{
			Key:         "fragments.allow_list",
			Value:       d.Fragments.AllowList,
			Description: "Short tokens never removed (case-insensitive)",
		},

		// ===================
		// Quality
		// ===================
		{
			Key:         "quality.corruption_threshold",
			Value:       d.Quality.CorruptionThreshold,
			Description: "Corruption score above which a page is a critical failure",
		},
		{
			Key:         "quality.disagree_threshold",
			Value:       d.Quality.DisagreeThreshold,
			Description: "Disagreement score above which a page is a critical failure",
		},
		{
			Key:         "quality.missing_content_threshold",
			Value:       d.Quality.MissingContentThreshold,
			Description: "Missing content score above which a page is a critical failure",
		},
		{
			Key:         "quality.min_line_count",
			Value:       d.Quality.MinLineCount,
			Description: "Pages with fewer non-blank lines are a critical failure",
		},
		{
			Key:         "quality.form.min_ivr",
			Value:       d.Quality.Form.MinIVR,
			Description: "Form pages with a lower in-vocabulary ratio are a critical failure",
		},
		{
			Key:         "quality.form.disagree_rate",
			Value:       d.Quality.Form.DisagreeRate,
			Description: "Form page disagree rate paired with disagree_ivr",
		},
		{
			Key:         "quality.form.disagree_ivr",
			Value:       d.Quality.Form.DisagreeIVR,
			Description: "Form page IVR below which a high disagree rate fails the page",
		},
		{
			Key:         "quality.form.fragmentation",
			Value:       d.Quality.Form.Fragmentation,
			Description: "Form page fragmentation paired with fragmentation_ivr",
		},
		{
			Key:         "quality.form.fragmentation_ivr",
			Value:       d.Quality.Form.FragmentationIVR,
			Description: "Form page IVR below which high fragmentation fails the page",
		},
		{
			Key:         "quality.dictionary_path",
			Value:       d.Quality.DictionaryPath,
			Description: "Word list for the IVR metric, one word per line; empty disables IVR",
		},

		// ===================
		// Escalation
		// ===================
		{
			Key:         "escalation.budget",
			Value:       d.Escalation.Budget,
			Description: "Maximum escalation calls per run (per process in watch mode)",
		},
		{
			Key:         "escalation.provider",
			Value:       d.Escalation.Provider,
			Description: "Escalation provider: none, mistral, or openai",
		},
		{
			Key:         "escalation.timeout_seconds",
			Value:       d.Escalation.TimeoutSeconds,
			Description: "Timeout for each escalation attempt",
		},
		{
			Key:         "escalation.retry_delay_ms",
			Value:       d.Escalation.RetryDelayMS,
			Description: "Delay before the single escalation retry",
		},
		{
			Key:         "escalation.mistral.api_key",
			Value:       d.Escalation.Mistral.APIKey,
			Description: "Mistral API key (uses environment variable)",
		},
		{
			Key:         "escalation.mistral.model",
			Value:       d.Escalation.Mistral.Model,
			Description: "Mistral OCR model",
		},
		{
			Key:         "escalation.mistral.base_url",
			Value:       d.Escalation.Mistral.BaseURL,
			Description: "Mistral API base URL; empty uses the public endpoint",
		},
		{
			Key:         "escalation.mistral.rate_limit",
			Value:       d.Escalation.Mistral.RateLimit,
			Description: "Rate limit in requests per second for Mistral",
		},
		{
			Key:         "escalation.openai.api_key",
			Value:       d.Escalation.OpenAI.APIKey,
			Description: "OpenAI API key (uses environment variable)",
		},
		{
			Key:         "escalation.openai.model",
			Value:       d.Escalation.OpenAI.Model,
			Description: "OpenAI vision model",
		},
		{
			Key:         "escalation.openai.base_url",
			Value:       d.Escalation.OpenAI.BaseURL,
			Description: "OpenAI-compatible base URL; empty uses the public endpoint",
		},
		{
			Key:         "escalation.openai.rate_limit",
			Value:       d.Escalation.OpenAI.RateLimit,
			Description: "Rate limit in requests per second for OpenAI",
		},
		{
			Key:         "escalation.openai.max_retries",
			Value:       d.Escalation.OpenAI.MaxRetries,
			Description: "Transport retries inside the OpenAI client",
		},

		// ===================
		// CLI defaults
		// ===================
		{
			Key:         "defaults.max_workers",
			Value:       d.Defaults.MaxWorkers,
			Description: "Pages fused concurrently",
		},
		{
			Key:         "defaults.format",
			Value:       d.Defaults.Format,
			Description: "Record output format: yaml or json",
		},
	}
}

func applyDefaults(v *viper.Viper) {
	for _, e := range DefaultEntries() {
		v.SetDefault(e.Key, e.Value)
	}
}

// GetDefault returns the default for a config key.
// Returns ErrNoDefault if the key is unknown.
func GetDefault(key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w for key %q", ErrNoDefault, key)
}

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}
