package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jackzampolin/ocrfuse/internal/fusion"
)

// NoneName disables escalation.
const NoneName = "none"

// Config selects and configures the escalation provider.
type Config struct {
	Provider string        `mapstructure:"provider"`
	Mistral  MistralConfig `mapstructure:"mistral"`
	OpenAI   OpenAIConfig  `mapstructure:"openai"`
}

// Builder constructs an escalator from config.
type Builder func(cfg Config) (fusion.Escalator, error)

// Registry maps provider names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
	logger   *slog.Logger
}

// NewRegistry returns a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{
		builders: make(map[string]Builder),
		logger:   slog.Default(),
	}
	r.Register(NoneName, func(Config) (fusion.Escalator, error) {
		return nil, nil
	})
	r.Register(MistralName, func(cfg Config) (fusion.Escalator, error) {
		if cfg.Mistral.APIKey == "" {
			return nil, fmt.Errorf("%s: api_key is required", MistralName)
		}
		return NewMistralEscalator(cfg.Mistral), nil
	})
	r.Register(OpenAIName, func(cfg Config) (fusion.Escalator, error) {
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("%s: api_key is required", OpenAIName)
		}
		return NewOpenAIEscalator(cfg.OpenAI)
	})
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds or replaces a provider builder.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build returns the escalator selected by cfg.Provider. An empty provider
// means none, for which Build returns a nil escalator and a nil error; the
// fusion engine then records pages needing escalation without spending
// budget on them.
func (r *Registry) Build(cfg Config) (fusion.Escalator, error) {
	name := cfg.Provider
	if name == "" {
		name = NoneName
	}

	r.mu.RLock()
	b, ok := r.builders[name]
	logger := r.logger
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown escalation provider %q (have %v)", name, r.Names())
	}

	esc, err := b(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("escalation provider ready", "provider", name)
	return esc, nil
}
