// Package fusion combines several recognizers' output for a page into one
// transcription with per-line provenance, and escalates pages judged too
// poor to keep under a fixed per-run budget.
package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jackzampolin/ocrfuse/internal/quality"
)

// Config holds everything that tunes fusion. It is validated once, before
// any page is processed.
type Config struct {
	// Engines is the preference order; the first non-outlier engine is the primary.
	Engines          []string
	Thresholds       Thresholds
	OutlierThreshold float64
	Fragments        FragmentOptions
	Quality          quality.Thresholds
	// Dictionary enables the IVR metric. Nil disables it.
	Dictionary *quality.Dictionary

	EscalationTimeout    time.Duration
	EscalationRetryDelay time.Duration
	// EscalatorName is recorded as the engine of escalated lines.
	EscalatorName string

	Logger *slog.Logger
}

// DefaultConfig returns a config with every threshold at its stock value.
func DefaultConfig() Config {
	return Config{
		Thresholds:           DefaultThresholds(),
		OutlierThreshold:     0.6,
		Fragments:            DefaultFragmentOptions(),
		Quality:              quality.DefaultThresholds(),
		EscalationTimeout:    60 * time.Second,
		EscalationRetryDelay: 2 * time.Second,
		EscalatorName:        "escalation",
	}
}

// Validate returns an error wrapping ErrInvalidConfig for any value out of range.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	ratios := []struct {
		name  string
		value float64
	}{
		{"distance_drop_threshold", c.Thresholds.DistanceDrop},
		{"char_fusion_threshold", c.Thresholds.CharFusion},
		{"high_confidence", c.Thresholds.HighConfidence},
		{"low_confidence", c.Thresholds.LowConfidence},
		{"outlier_threshold", c.OutlierThreshold},
	}
	for _, r := range ratios {
		if math.IsNaN(r.value) || r.value < 0 || r.value > 1 {
			return invalid("%s must be in [0,1], got %v", r.name, r.value)
		}
	}
	if c.Thresholds.LowConfidence > c.Thresholds.HighConfidence {
		return invalid("low_confidence %v exceeds high_confidence %v", c.Thresholds.LowConfidence, c.Thresholds.HighConfidence)
	}
	if c.Thresholds.CharFusion > c.Thresholds.DistanceDrop {
		return invalid("char_fusion_threshold %v exceeds distance_drop_threshold %v", c.Thresholds.CharFusion, c.Thresholds.DistanceDrop)
	}
	if c.Fragments.MinCluster < 1 {
		return invalid("fragment min_cluster must be at least 1, got %d", c.Fragments.MinCluster)
	}
	if c.Fragments.MaxLen < 1 {
		return invalid("fragment max_len must be at least 1, got %d", c.Fragments.MaxLen)
	}
	if err := c.Quality.Validate(); err != nil {
		return invalid("%v", err)
	}
	if c.EscalationTimeout <= 0 {
		return invalid("escalation timeout must be positive, got %s", c.EscalationTimeout)
	}
	if c.EscalationRetryDelay < 0 {
		return invalid("escalation retry delay must not be negative, got %s", c.EscalationRetryDelay)
	}
	seen := make(map[string]bool, len(c.Engines))
	for _, id := range c.Engines {
		if id == "" {
			return invalid("engine preference list has an empty id")
		}
		if seen[id] {
			return invalid("engine %q listed twice in preference order", id)
		}
		seen[id] = true
	}
	return nil
}

// Engine fuses pages. It is safe for concurrent use; the budget is the only
// state shared between pages.
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	budget    *Budget
	escalator Escalator
	logger    *slog.Logger
}

// NewEngine validates cfg and returns an engine drawing on budget. A nil
// escalator means pages needing escalation are recorded as such but never
// escalated and never consume budget.
func NewEngine(cfg Config, budget *Budget, escalator Escalator) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if budget == nil {
		return nil, fmt.Errorf("%w: budget is required", ErrInvalidConfig)
	}
	cfg = withDefaults(cfg)
	return &Engine{
		cfg:       cfg,
		budget:    budget,
		escalator: escalator,
		logger:    cfg.Logger,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Thresholds.Confusions == nil {
		cfg.Thresholds.Confusions = DefaultThresholds().Confusions
	}
	if cfg.EscalatorName == "" {
		cfg.EscalatorName = "escalation"
	}
	return cfg
}

// Reconfigure swaps the thresholds used for pages started after the call.
// The budget is fixed for the engine's lifetime.
func (e *Engine) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = withDefaults(cfg)
	e.mu.Lock()
	e.cfg = cfg
	e.logger = cfg.Logger
	e.mu.Unlock()
	return nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Budget returns the engine's escalation budget.
func (e *Engine) Budget() *Budget {
	return e.budget
}

// ProcessPage runs one page through the fusion state machine and always
// returns an emitted record. The error is non-nil only when ctx was
// cancelled before the page started. A cancellation during escalation
// discards the escalation result and emits the fused lines with the
// cancellation among the escalation reasons.
func (e *Engine) ProcessPage(ctx context.Context, page PageInput) (rec FusedPageRecord, err error) {
	if err := ctx.Err(); err != nil {
		return FusedPageRecord{PageID: page.PageID}, fmt.Errorf("page %s not started: %w", page.PageID, err)
	}

	cfg := e.Config()
	logger := cfg.Logger.With("page_id", page.PageID)
	r := newPageRun(page)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("fusion panicked", "panic", p)
			r.record.Error = fmt.Sprintf("internal error: %v", p)
			r = finish(r)
			rec, err = r.record, nil
		}
	}()

	for r.state != StateEmitted {
		var req *EscalationRequest
		r, req = step(cfg, r)
		if req != nil {
			r.outcome = e.escalate(ctx, cfg, *req, logger)
		}
	}

	for _, d := range r.record.DroppedEngines {
		logger.Warn("engine dropped", "engine_id", d.EngineID, "reason", d.Reason)
	}
	logger.Debug("page fused",
		"status", r.record.Status,
		"lines", len(r.record.Lines),
		"primary", r.record.PrimaryEngine,
		"outliers", r.record.OutlierEngines,
		"escalated", r.record.Escalation.Escalated)
	return r.record, err
}

// escalate performs the side effect requested by the state machine.
func (e *Engine) escalate(ctx context.Context, cfg Config, req EscalationRequest, logger *slog.Logger) *escalationOutcome {
	if e.escalator == nil {
		logger.Info("page needs escalation but no escalator is configured", "reasons", req.Reasons)
		return &escalationOutcome{err: fmt.Errorf("%w: no escalation provider configured", ErrEscalationFailed)}
	}
	if !e.budget.Reserve(req.PageID) {
		logger.Info("escalation budget exhausted, keeping fused output",
			"reasons", req.Reasons, "budget_max", e.budget.Max())
		return &escalationOutcome{}
	}

	logger.Info("escalating page", "reasons", req.Reasons, "budget_remaining", e.budget.Remaining())
	result, attempts, err := callEscalator(ctx, e.escalator, req, cfg.EscalationTimeout, cfg.EscalationRetryDelay, logger)
	if err != nil {
		logger.Warn("escalation failed, keeping fused output", "attempts", attempts, "error", err)
		return &escalationOutcome{reserved: true, attempts: attempts, err: err}
	}
	return &escalationOutcome{reserved: true, attempts: attempts, result: result}
}
