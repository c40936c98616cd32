package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/ocrfuse/internal/align"
	"github.com/jackzampolin/ocrfuse/internal/fusion"
	"github.com/jackzampolin/ocrfuse/internal/providers"
	"github.com/jackzampolin/ocrfuse/internal/quality"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes environment overrides, e.g. OCRFUSE_ESCALATION_BUDGET.
const EnvPrefix = "OCRFUSE"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config. An
// empty cfgFile searches the working directory and then ~/.ocrfuse.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	applyDefaults(v)

	// Environment variables with OCRFUSE_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ocrfuse")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses and validates the current viper state.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetLogger sets the logger used for reload messages.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFileUsed returns the path of the loaded config file, or "" if
// only defaults and environment were used.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. An edit that fails
// validation is logged and the previous configuration stays in effect.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()

		cm.mu.Lock()
		logger := cm.logger
		if err != nil {
			cm.mu.Unlock()
			logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		logger.Info("config reloaded", "file", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Validate checks every value that can be checked without touching the
// filesystem. Errors wrap ErrInvalid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	if c.Escalation.Budget < 0 {
		return invalid("escalation.budget must not be negative, got %d", c.Escalation.Budget)
	}
	if c.Escalation.TimeoutSeconds <= 0 {
		return invalid("escalation.timeout_seconds must be positive, got %d", c.Escalation.TimeoutSeconds)
	}
	if c.Escalation.RetryDelayMS < 0 {
		return invalid("escalation.retry_delay_ms must not be negative, got %d", c.Escalation.RetryDelayMS)
	}
	if c.Defaults.MaxWorkers < 1 {
		return invalid("defaults.max_workers must be at least 1, got %d", c.Defaults.MaxWorkers)
	}
	switch c.Defaults.Format {
	case "yaml", "json":
	default:
		return invalid("defaults.format must be yaml or json, got %q", c.Defaults.Format)
	}

	fc, err := c.fusionConfig()
	if err != nil {
		return invalid("%v", err)
	}
	if err := fc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *Config) fusionConfig() (fusion.Config, error) {
	confusions, err := align.ParseConfusions(c.Fusion.Confusions)
	if err != nil {
		return fusion.Config{}, fmt.Errorf("fusion.confusions: %w", err)
	}

	return fusion.Config{
		Engines: c.Fusion.Engines,
		Thresholds: fusion.Thresholds{
			DistanceDrop:   c.Fusion.DistanceDropThreshold,
			CharFusion:     c.Fusion.CharFusionThreshold,
			HighConfidence: c.Fusion.HighConfidence,
			LowConfidence:  c.Fusion.LowConfidence,
			Confusions:     confusions,
		},
		OutlierThreshold: c.Fusion.OutlierThreshold,
		Fragments: fusion.FragmentOptions{
			MinCluster: c.Fragments.MinCluster,
			MaxLen:     c.Fragments.MaxLen,
			AllowList:  c.Fragments.AllowList,
		},
		Quality: quality.Thresholds{
			Corruption:     c.Quality.CorruptionThreshold,
			Disagree:       c.Quality.DisagreeThreshold,
			MissingContent: c.Quality.MissingContentThreshold,
			MinLineCount:   c.Quality.MinLineCount,
			Form: quality.FormThresholds{
				MinIVR:           c.Quality.Form.MinIVR,
				DisagreeRate:     c.Quality.Form.DisagreeRate,
				DisagreeIVR:      c.Quality.Form.DisagreeIVR,
				Fragmentation:    c.Quality.Form.Fragmentation,
				FragmentationIVR: c.Quality.Form.FragmentationIVR,
			},
		},
		EscalationTimeout:    time.Duration(c.Escalation.TimeoutSeconds) * time.Second,
		EscalationRetryDelay: time.Duration(c.Escalation.RetryDelayMS) * time.Millisecond,
		EscalatorName:        c.escalatorName(),
	}, nil
}

func (c *Config) escalatorName() string {
	if c.Escalation.Provider == "" || c.Escalation.Provider == providers.NoneName {
		return "escalation"
	}
	return c.Escalation.Provider
}

// ToFusionConfig converts the config for fusion.NewEngine, loading the
// dictionary if one is configured.
func (c *Config) ToFusionConfig(logger *slog.Logger) (fusion.Config, error) {
	fc, err := c.fusionConfig()
	if err != nil {
		return fusion.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	fc.Logger = logger

	if path := ResolveEnvVars(c.Quality.DictionaryPath); path != "" {
		dict, err := quality.LoadDictionary(path)
		if err != nil {
			return fusion.Config{}, fmt.Errorf("%w: quality.dictionary_path: %w", ErrInvalid, err)
		}
		fc.Dictionary = dict
	}
	return fc, nil
}

// ToProviderConfig converts the config for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderConfig() providers.Config {
	timeout := time.Duration(c.Escalation.TimeoutSeconds) * time.Second
	return providers.Config{
		Provider: c.Escalation.Provider,
		Mistral: providers.MistralConfig{
			APIKey:    ResolveEnvVars(c.Escalation.Mistral.APIKey),
			BaseURL:   c.Escalation.Mistral.BaseURL,
			Model:     c.Escalation.Mistral.Model,
			RateLimit: c.Escalation.Mistral.RateLimit,
			Timeout:   timeout,
		},
		OpenAI: providers.OpenAIConfig{
			APIKey:     ResolveEnvVars(c.Escalation.OpenAI.APIKey),
			Model:      c.Escalation.OpenAI.Model,
			BaseURL:    c.Escalation.OpenAI.BaseURL,
			RateLimit:  c.Escalation.OpenAI.RateLimit,
			MaxRetries: c.Escalation.OpenAI.MaxRetries,
			Timeout:    timeout,
		},
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# ocrfuse configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Any key can be overridden with OCRFUSE_<SECTION>_<KEY>, e.g. OCRFUSE_ESCALATION_BUDGET=25

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
