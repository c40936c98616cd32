package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrfuse/internal/config"
	"github.com/jackzampolin/ocrfuse/internal/fusion"
	"github.com/jackzampolin/ocrfuse/internal/home"
	"github.com/jackzampolin/ocrfuse/internal/ingest"
	"github.com/jackzampolin/ocrfuse/internal/output"
	"github.com/jackzampolin/ocrfuse/internal/providers"
	"github.com/jackzampolin/ocrfuse/internal/svcctx"
	"github.com/jackzampolin/ocrfuse/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "ocrfuse",
	Short: "Fuse disagreeing OCR engine output into one auditable transcription",
	Long: `ocrfuse combines per-page text from several OCR engines into one
best-effort transcription with full provenance.

For each page it:
  - Excludes engines whose text disagrees with everyone else
  - Aligns the remaining engines line by line and picks or fuses each line
  - Removes column-edge debris left by neighbouring pages
  - Scores the result and, within a fixed budget, re-reads failed pages
    with a fallback provider`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.ocrfuse/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "ocrfuse home directory (default: ~/.ocrfuse)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "", "output format: yaml or json (default from config)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn, error",
	)

	rootCmd.AddCommand(versionCmd)
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	// Records go to stdout; logs stay on stderr.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

// loadServices builds the services shared by the commands that fuse pages.
func loadServices(cmd *cobra.Command) (*svcctx.Services, error) {
	logger, err := newLogger(logLevel)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	path := cfgFile
	if path == "" && homeDir != "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}
	mgr.SetLogger(logger)
	if used := mgr.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", "file", used)
	}

	loader, err := ingest.NewLoader(logger)
	if err != nil {
		return nil, err
	}

	registry := providers.NewRegistry()
	registry.SetLogger(logger)

	svc := &svcctx.Services{
		Config:   mgr,
		Registry: registry,
		Loader:   loader,
		Logger:   logger,
		Home:     h,
	}
	cmd.SetContext(svcctx.WithServices(cmd.Context(), svc))
	return svc, nil
}

// buildEngine creates the fusion engine with a fresh budget of budgetMax
// calls. A negative budgetMax uses the configured budget.
func buildEngine(svc *svcctx.Services, budgetMax int) (*fusion.Engine, error) {
	cfg := svc.Config.Get()
	fc, err := cfg.ToFusionConfig(svc.Logger)
	if err != nil {
		return nil, err
	}
	esc, err := svc.Registry.Build(cfg.ToProviderConfig())
	if err != nil {
		return nil, err
	}
	if budgetMax < 0 {
		budgetMax = cfg.Escalation.Budget
	}
	engine, err := fusion.NewEngine(fc, fusion.NewBudget(budgetMax), esc)
	if err != nil {
		return nil, err
	}
	svc.Engine = engine
	return engine, nil
}

// resolveFormat returns the --output flag or the configured default.
func resolveFormat(cfg *config.Config) (output.Format, error) {
	if outputFormat != "" {
		return output.ParseFormat(outputFormat)
	}
	return output.ParseFormat(cfg.Defaults.Format)
}
