package main

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrfuse/internal/config"
	"github.com/jackzampolin/ocrfuse/internal/fusion"
	"github.com/jackzampolin/ocrfuse/internal/home"
	"github.com/jackzampolin/ocrfuse/internal/ingest"
	"github.com/jackzampolin/ocrfuse/internal/output"
)

var (
	watchOut      string
	watchExisting bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Fuse page files as they land in a directory",
	Long: `Watch a drop directory and fuse every *.json page file written to it.

All files share one escalation budget for the life of the process. Edits to
the config file are picked up without a restart, except for the budget and
the escalation provider.

Records are written to <out>/<session_id>/ (default: ~/.ocrfuse/runs), and
the session summary is written when the watch stops.

Examples:
  ocrfuse watch inbox/
  ocrfuse watch --existing --out runs/ inbox/`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := loadServices(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		logger := svc.Logger

		format, err := resolveFormat(svc.Config.Get())
		if err != nil {
			return err
		}
		engine, err := buildEngine(svc, -1)
		if err != nil {
			return err
		}

		sessionID := uuid.New().String()
		var layout home.RunLayout
		if watchOut != "" {
			layout = home.NewRunLayout(watchOut, sessionID)
		} else {
			if err := svc.Home.EnsureExists(); err != nil {
				return err
			}
			layout = svc.Home.Run(sessionID)
		}
		sink, err := output.NewDirSink(layout, format)
		if err != nil {
			return err
		}

		svc.Config.OnChange(func(cfg *config.Config) {
			fc, err := cfg.ToFusionConfig(logger)
			if err == nil {
				err = engine.Reconfigure(fc)
			}
			if err != nil {
				logger.Warn("keeping previous fusion settings", "error", err)
				return
			}
			logger.Info("fusion settings reloaded")
		})
		svc.Config.WatchConfig()

		var (
			mu      sync.Mutex
			session = fusion.RunSummary{RunID: sessionID}
		)
		handle := func(ctx context.Context, file string, pages []fusion.PageInput, rejected []fusion.RejectedInput) {
			mu.Lock()
			session.Rejected = append(session.Rejected, rejected...)
			mu.Unlock()
			if len(pages) == 0 {
				return
			}

			workers := svc.Config.Get().Defaults.MaxWorkers
			records, sum := engine.Run(ctx, pages, workers)

			mu.Lock()
			defer mu.Unlock()
			for _, rec := range records {
				if err := sink.Record(rec); err != nil {
					logger.Error("failed to write record", "page_id", rec.PageID, "error", err)
				}
				session.Add(rec)
			}
			session.Cancelled += sum.Cancelled
			logger.Info("page file fused",
				"file", filepath.Base(file),
				"pages", sum.Total,
				"rejected", len(rejected),
				"escalated", sum.Escalated,
				"budget_remaining", engine.Budget().Remaining(),
			)
		}

		logger.Info("watch session started", "session_id", sessionID, "out", sink.Dir())
		err = svc.Loader.Watch(ctx, args[0], ingest.WatchOptions{IncludeExisting: watchExisting}, handle)

		mu.Lock()
		defer mu.Unlock()
		session.BudgetConsumed = engine.Budget().Consumed()
		session.BudgetMax = engine.Budget().Max()
		if werr := sink.Summary(session); werr != nil && err == nil {
			err = werr
		}
		return err
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchOut, "out", "", "directory for session output (default: ~/.ocrfuse/runs)")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "also fuse files already in the directory")

	rootCmd.AddCommand(watchCmd)
}
