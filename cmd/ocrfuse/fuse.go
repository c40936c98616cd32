package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrfuse/internal/home"
	"github.com/jackzampolin/ocrfuse/internal/output"
)

var (
	fuseOut     string
	fuseWorkers int
	fuseBudget  int
)

var fuseCmd = &cobra.Command{
	Use:   "fuse <file|dir>...",
	Short: "Fuse engine output for a batch of pages",
	Long: `Fuse engine output for a batch of pages.

Each argument is a page file or a directory of *.json page files. A page file
holds one page object or an array of them:

  {"page_id": "p1", "image_ref": "p1.png", "engines": [
    {"engine_id": "tesseract", "lines": [{"text": "...", "confidence": 0.9}]},
    {"engine_id": "paddle", "whole_text": "..."}
  ]}

Pages that fail validation are skipped and listed under "rejected" in the
run summary.

Records and the run summary are written to stdout, or with --out to
<out>/<run_id>/page_<page_id>.<format> and <out>/<run_id>/summary.<format>.

Examples:
  ocrfuse fuse pages/                  # Fuse a directory, print YAML
  ocrfuse fuse -o json page-1.json     # Print JSON
  ocrfuse fuse --out runs/ pages/      # Write one file per page
  ocrfuse fuse --budget 0 pages/       # Never escalate`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := loadServices(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cfg := svc.Config.Get()

		format, err := resolveFormat(cfg)
		if err != nil {
			return err
		}
		workers := fuseWorkers
		if workers <= 0 {
			workers = cfg.Defaults.MaxWorkers
		}

		engine, err := buildEngine(svc, fuseBudget)
		if err != nil {
			return err
		}
		loaded, err := svc.Loader.Load(args)
		if err != nil {
			return err
		}

		records, summary := engine.Run(ctx, loaded.Pages, workers)
		summary.Rejected = loaded.Rejected

		var sink output.Sink
		if fuseOut != "" {
			dirSink, err := output.NewDirSink(home.NewRunLayout(fuseOut, summary.RunID), format)
			if err != nil {
				return err
			}
			svc.Logger.Info("writing records", "dir", dirSink.Dir())
			sink = dirSink
		} else {
			sink = output.NewStreamSink(cmd.OutOrStdout(), format)
		}

		for _, rec := range records {
			if err := sink.Record(rec); err != nil {
				return err
			}
		}
		if err := sink.Summary(summary); err != nil {
			return err
		}
		return ctx.Err()
	},
}

func init() {
	fuseCmd.Flags().StringVar(&fuseOut, "out", "", "directory for per-page record files (default: stdout)")
	fuseCmd.Flags().IntVar(&fuseWorkers, "workers", 0, "pages fused concurrently (default from config)")
	fuseCmd.Flags().IntVar(&fuseBudget, "budget", -1, "escalation budget for this run (default from config)")

	rootCmd.AddCommand(fuseCmd)
}
