package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/ocrfuse/internal/align"
	"github.com/jackzampolin/ocrfuse/internal/fusion"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Escalation.Mistral.APIKey != "${MISTRAL_API_KEY}" {
		t.Error("expected mistral API key placeholder")
	}

	fc, err := cfg.ToFusionConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(fc.Thresholds.Confusions, align.DefaultConfusions()) {
		t.Errorf("confusions = %v", fc.Thresholds.Confusions)
	}
	if !reflect.DeepEqual(fc.Fragments, fusion.DefaultFragmentOptions()) {
		t.Errorf("fragments = %+v", fc.Fragments)
	}
	if fc.OutlierThreshold != fusion.DefaultConfig().OutlierThreshold {
		t.Errorf("outlier threshold = %v", fc.OutlierThreshold)
	}
	if _, err := fusion.NewEngine(fc, fusion.NewBudget(cfg.Escalation.Budget), nil); err != nil {
		t.Errorf("NewEngine() error = %v", err)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestNewManager(t *testing.T) {
	t.Run("defaults without a config file", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())

		mgr, err := NewManager("")
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get(); !reflect.DeepEqual(got, DefaultConfig()) {
			t.Errorf("config = %+v\nwant %+v", got, DefaultConfig())
		}
		if mgr.ConfigFileUsed() != "" {
			t.Errorf("config file used = %q", mgr.ConfigFileUsed())
		}
	})

	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
fusion:
  engines: [doctr, tesseract]
  outlier_threshold: 0.5
escalation:
  budget: 3
  provider: mistral
`)
		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if !reflect.DeepEqual(cfg.Fusion.Engines, []string{"doctr", "tesseract"}) {
			t.Errorf("engines = %v", cfg.Fusion.Engines)
		}
		if cfg.Fusion.OutlierThreshold != 0.5 || cfg.Escalation.Budget != 3 || cfg.Escalation.Provider != "mistral" {
			t.Errorf("overrides not applied: %+v", cfg)
		}
		if cfg.Fusion.DistanceDropThreshold != 0.35 || cfg.Quality.MinLineCount != 3 {
			t.Errorf("defaults lost: %+v", cfg)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		configFile := writeConfig(t, "escalation:\n  budget: 3\n")
		t.Setenv("OCRFUSE_ESCALATION_BUDGET", "25")
		t.Setenv("OCRFUSE_QUALITY_FORM_MIN_IVR", "0.2")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatal(err)
		}
		if cfg := mgr.Get(); cfg.Escalation.Budget != 25 || cfg.Quality.Form.MinIVR != 0.2 {
			t.Errorf("env not applied: budget=%d min_ivr=%v", cfg.Escalation.Budget, cfg.Quality.Form.MinIVR)
		}
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		configFile := writeConfig(t, "fusion:\n  high_confidence: 1.5\n")
		_, err := NewManager(configFile)
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("err = %v, want ErrInvalid", err)
		}
		if !errors.Is(err, fusion.ErrInvalidConfig) {
			t.Errorf("err = %v, want fusion.ErrInvalidConfig wrapped", err)
		}
	})

	t.Run("missing explicit file", func(t *testing.T) {
		if _, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error")
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative budget", func(c *Config) { c.Escalation.Budget = -1 }},
		{"zero timeout", func(c *Config) { c.Escalation.TimeoutSeconds = 0 }},
		{"negative retry delay", func(c *Config) { c.Escalation.RetryDelayMS = -5 }},
		{"no workers", func(c *Config) { c.Defaults.MaxWorkers = 0 }},
		{"unknown format", func(c *Config) { c.Defaults.Format = "xml" }},
		{"bad confusion key", func(c *Config) { c.Fusion.Confusions = map[string]string{"o": "0"} }},
		{"corruption out of range", func(c *Config) { c.Quality.CorruptionThreshold = 2 }},
		{"low above high", func(c *Config) { c.Fusion.LowConfidence = 0.9 }},
		{"fragment max len", func(c *Config) { c.Fragments.MaxLen = 0 }},
		{"duplicate engine", func(c *Config) { c.Fusion.Engines = []string{"a", "a"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestConfig_ToFusionConfig(t *testing.T) {
	t.Run("loads dictionary", func(t *testing.T) {
		dict := filepath.Join(t.TempDir(), "words.txt")
		if err := os.WriteFile(dict, []byte("# words\nthe\nquick\nfox\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("TEST_DICT", dict)

		cfg := DefaultConfig()
		cfg.Quality.DictionaryPath = "${TEST_DICT}"
		cfg.Escalation.Provider = "openai"
		cfg.Escalation.TimeoutSeconds = 5

		fc, err := cfg.ToFusionConfig(nil)
		if err != nil {
			t.Fatal(err)
		}
		if fc.Dictionary.Len() != 3 || !fc.Dictionary.Contains("Quick") {
			t.Errorf("dictionary len = %d", fc.Dictionary.Len())
		}
		if fc.EscalatorName != "openai" || fc.EscalationTimeout != 5*time.Second {
			t.Errorf("escalation settings = %q %s", fc.EscalatorName, fc.EscalationTimeout)
		}
	})

	t.Run("missing dictionary", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Quality.DictionaryPath = filepath.Join(t.TempDir(), "missing.txt")
		if _, err := cfg.ToFusionConfig(nil); !errors.Is(err, ErrInvalid) {
			t.Errorf("err = %v, want ErrInvalid", err)
		}
	})
}

func TestConfig_ToProviderConfig(t *testing.T) {
	t.Setenv("TEST_MISTRAL_KEY", "m-key-123")

	cfg := DefaultConfig()
	cfg.Escalation.Provider = "mistral"
	cfg.Escalation.Mistral.APIKey = "${TEST_MISTRAL_KEY}"
	cfg.Escalation.OpenAI.APIKey = "direct-key"

	pc := cfg.ToProviderConfig()
	if pc.Provider != "mistral" || pc.Mistral.APIKey != "m-key-123" || pc.OpenAI.APIKey != "direct-key" {
		t.Errorf("provider config = %+v", pc)
	}
	if pc.Mistral.Timeout != 60*time.Second {
		t.Errorf("timeout = %s", pc.Mistral.Timeout)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if got := mgr.Get(); !reflect.DeepEqual(got, DefaultConfig()) {
		t.Errorf("round trip = %+v", got)
	}
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "escalation:\n  budget: 1\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "escalation:\n  budget: 1\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Escalation.Budget
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "fusion:\n  outlier_threshold: 0.6\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Fusion.OutlierThreshold)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is ignored.
	if err := os.WriteFile(configFile, []byte("fusion:\n  outlier_threshold: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := mgr.Get().Fusion.OutlierThreshold; got != 0.6 {
		t.Fatalf("invalid edit applied: outlier_threshold = %v", got)
	}

	if err := os.WriteFile(configFile, []byte("fusion:\n  outlier_threshold: 0.45\n"), 0o644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := lastValue.Load().(float64); ok && v == 0.45 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Fusion.OutlierThreshold; got != 0.45 {
		t.Errorf("config not updated: outlier_threshold = %v", got)
	}
}
