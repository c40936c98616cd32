package fusion

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RunSummary aggregates a batch. Per-page failures are counted here rather
// than returned as errors.
type RunSummary struct {
	RunID            string `json:"run_id" yaml:"run_id"`
	Total            int    `json:"total" yaml:"total"`
	Succeeded        int    `json:"succeeded" yaml:"succeeded"`
	Degraded         int    `json:"degraded" yaml:"degraded"`
	EscalationFailed int    `json:"escalation_failed" yaml:"escalation_failed"`
	Escalated        int    `json:"escalated" yaml:"escalated"`
	BudgetSkipped    int    `json:"budget_skipped" yaml:"budget_skipped"`
	Cancelled        int    `json:"cancelled" yaml:"cancelled"`
	BudgetConsumed   int    `json:"budget_consumed" yaml:"budget_consumed"`
	BudgetMax        int    `json:"budget_max" yaml:"budget_max"`

	// Rejected lists inputs the loader could not turn into pages.
	Rejected []RejectedInput `json:"rejected,omitempty" yaml:"rejected,omitempty"`
}

// Add counts one emitted record.
func (s *RunSummary) Add(rec FusedPageRecord) {
	s.Total++
	switch rec.Status {
	case StatusSucceeded:
		s.Succeeded++
	case StatusDegraded:
		s.Degraded++
	case StatusEscalationFailed:
		s.EscalationFailed++
	}
	if rec.Escalation.Escalated {
		s.Escalated++
	}
	if rec.Escalation.NeedsEscalation && !rec.Escalation.BudgetConsumed {
		s.BudgetSkipped++
	}
}

// Run fuses pages with at most workers running at once and returns the
// emitted records in input order. Pages not started before ctx is cancelled
// are counted as cancelled and left out of the records; a page whose
// escalation was cut off is still emitted with its fused lines.
func (e *Engine) Run(ctx context.Context, pages []PageInput, workers int) ([]FusedPageRecord, RunSummary) {
	if workers < 1 {
		workers = 1
	}
	summary := RunSummary{RunID: uuid.New().String(), BudgetMax: e.budget.Max()}
	logger := e.Config().Logger.With("run_id", summary.RunID)
	logger.Info("run started", "pages", len(pages), "workers", workers)

	slots := make([]*FusedPageRecord, len(pages))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, page := range pages {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec, err := e.ProcessPage(ctx, page)
			if err != nil {
				logger.Debug("page not started", "page_id", page.PageID, "error", err)
				return nil
			}
			slots[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	records := make([]FusedPageRecord, 0, len(pages))
	for _, rec := range slots {
		if rec == nil {
			summary.Cancelled++
			continue
		}
		records = append(records, *rec)
		summary.Add(*rec)
	}
	summary.BudgetConsumed = e.budget.Consumed()

	logger.Info("run finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"degraded", summary.Degraded,
		"escalation_failed", summary.EscalationFailed,
		"cancelled", summary.Cancelled,
		"budget_consumed", summary.BudgetConsumed)
	return records, summary
}
