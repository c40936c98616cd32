package config

// Config holds ocrfuse configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Fusion     FusionCfg     `mapstructure:"fusion" yaml:"fusion"`
	Fragments  FragmentsCfg  `mapstructure:"fragments" yaml:"fragments"`
	Quality    QualityCfg    `mapstructure:"quality" yaml:"quality"`
	Escalation EscalationCfg `mapstructure:"escalation" yaml:"escalation"`
	Defaults   DefaultsCfg   `mapstructure:"defaults" yaml:"defaults"`
}

// FusionCfg configures engine preference and the per-line selection rules.
type FusionCfg struct {
	Engines               []string          `mapstructure:"engines" yaml:"engines"` // Preference order, first is primary
	DistanceDropThreshold float64           `mapstructure:"distance_drop_threshold" yaml:"distance_drop_threshold"`
	CharFusionThreshold   float64           `mapstructure:"char_fusion_threshold" yaml:"char_fusion_threshold"`
	HighConfidence        float64           `mapstructure:"high_confidence" yaml:"high_confidence"`
	LowConfidence         float64           `mapstructure:"low_confidence" yaml:"low_confidence"`
	OutlierThreshold      float64           `mapstructure:"outlier_threshold" yaml:"outlier_threshold"`
	Confusions            map[string]string `mapstructure:"confusions" yaml:"confusions"` // digit -> letters
}

// FragmentsCfg configures the fragment filter.
type FragmentsCfg struct {
	MinCluster int      `mapstructure:"min_cluster" yaml:"min_cluster"`
	MaxLen     int      `mapstructure:"max_len" yaml:"max_len"`
	AllowList  []string `mapstructure:"allow_list" yaml:"allow_list"`
}

// QualityCfg configures the critical failure detector.
type QualityCfg struct {
	CorruptionThreshold     float64 `mapstructure:"corruption_threshold" yaml:"corruption_threshold"`
	DisagreeThreshold       float64 `mapstructure:"disagree_threshold" yaml:"disagree_threshold"`
	MissingContentThreshold float64 `mapstructure:"missing_content_threshold" yaml:"missing_content_threshold"`
	MinLineCount            int     `mapstructure:"min_line_count" yaml:"min_line_count"`
	Form                    FormCfg `mapstructure:"form" yaml:"form"`
	DictionaryPath          string  `mapstructure:"dictionary_path" yaml:"dictionary_path"` // Empty disables IVR
}

// FormCfg holds the form page overrides.
type FormCfg struct {
	MinIVR           float64 `mapstructure:"min_ivr" yaml:"min_ivr"`
	DisagreeRate     float64 `mapstructure:"disagree_rate" yaml:"disagree_rate"`
	DisagreeIVR      float64 `mapstructure:"disagree_ivr" yaml:"disagree_ivr"`
	Fragmentation    float64 `mapstructure:"fragmentation" yaml:"fragmentation"`
	FragmentationIVR float64 `mapstructure:"fragmentation_ivr" yaml:"fragmentation_ivr"`
}

// EscalationCfg configures the budget and the fallback provider.
type EscalationCfg struct {
	Budget         int        `mapstructure:"budget" yaml:"budget"`     // Max escalation calls per run
	Provider       string     `mapstructure:"provider" yaml:"provider"` // "none", "mistral", "openai"
	TimeoutSeconds int        `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RetryDelayMS   int        `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	Mistral        MistralCfg `mapstructure:"mistral" yaml:"mistral"`
	OpenAI         OpenAICfg  `mapstructure:"openai" yaml:"openai"`
}

// MistralCfg configures the Mistral OCR escalator.
type MistralCfg struct {
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"` // API key (supports ${ENV_VAR} syntax)
	Model     string  `mapstructure:"model" yaml:"model"`
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
}

// OpenAICfg configures the OpenAI vision escalator.
type OpenAICfg struct {
	APIKey     string  `mapstructure:"api_key" yaml:"api_key"` // API key (supports ${ENV_VAR} syntax)
	Model      string  `mapstructure:"model" yaml:"model"`
	BaseURL    string  `mapstructure:"base_url" yaml:"base_url"`
	RateLimit  float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	MaxRetries int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// DefaultsCfg holds run defaults for the CLI.
type DefaultsCfg struct {
	MaxWorkers int    `mapstructure:"max_workers" yaml:"max_workers"`
	Format     string `mapstructure:"format" yaml:"format"` // "yaml" or "json"
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Fusion: FusionCfg{
			Engines:               []string{"tesseract", "paddle"},
			DistanceDropThreshold: 0.35,
			CharFusionThreshold:   0.15,
			HighConfidence:        0.8,
			LowConfidence:         0.5,
			OutlierThreshold:      0.6,
			Confusions: map[string]string{
				"0": "oO",
				"1": "lI",
				"4": "aA",
				"5": "sS",
			},
		},
		Fragments: FragmentsCfg{
			MinCluster: 3,
			MaxLen:     5,
			AllowList: []string{
				"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X",
				"A", "Ch.", "No.", "Fig.", "Vol.", "End", "Fin", "Note", "Map",
			},
		},
		Quality: QualityCfg{
			CorruptionThreshold:     0.8,
			DisagreeThreshold:       0.8,
			MissingContentThreshold: 0.7,
			MinLineCount:            3,
			Form: FormCfg{
				MinIVR:           0.15,
				DisagreeRate:     0.5,
				DisagreeIVR:      0.4,
				Fragmentation:    0.3,
				FragmentationIVR: 0.5,
			},
		},
		Escalation: EscalationCfg{
			Budget:         10,
			Provider:       "none",
			TimeoutSeconds: 60,
			RetryDelayMS:   2000,
			Mistral: MistralCfg{
				APIKey:    "${MISTRAL_API_KEY}",
				Model:     "mistral-ocr-latest",
				RateLimit: 6.0,
			},
			OpenAI: OpenAICfg{
				APIKey:     "${OPENAI_API_KEY}",
				Model:      "gpt-4o",
				RateLimit:  8.0,
				MaxRetries: 2,
			},
		},
		Defaults: DefaultsCfg{
			MaxWorkers: 8,
			Format:     "yaml",
		},
	}
}
