package notify

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
)

// Reminders batches overdue reminders. Externally triggered, typically from
// a cron-driven endpoint.
type Reminders struct {
	sink        Sink
	loans       store.LoanStore
	log         *slog.Logger
	concurrency int
}

func NewReminders(sink Sink, loans store.LoanStore, log *slog.Logger, concurrency int) *Reminders {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reminders{sink: sink, loans: loans, log: log, concurrency: concurrency}
}

// BatchResult summarizes one reminder run.
type BatchResult struct {
	Eligible int `json:"eligible"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

// SendOverdueReminders notifies every overdue, not-yet-notified borrower
// and marks the reminded loans so the next run skips them. Deliveries fan
// out concurrently with a bounded group; a failed delivery leaves its loan
// unmarked for the next run.
func (r *Reminders) SendOverdueReminders(ctx context.Context) (*BatchResult, error) {
	overdue, err := r.loans.ListOverdueUnnotified(ctx)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Eligible: len(overdue)}
	if len(overdue) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, loan := range overdue {
		g.Go(func() error {
			sent, err := r.sink.Notify(gctx, loan.UserID, models.TemplateOverdueReminder, map[string]any{
				"loan_id": loan.ID,
				"due_at":  loan.DueAt,
			})
			if err != nil || !sent {
				r.log.WarnContext(gctx, "overdue reminder not delivered",
					"loan_id", loan.ID, "user_id", loan.UserID, "error", err)
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return nil
			}

			loan.Notified = true
			if err := r.loans.UpdateLoan(gctx, &loan); err != nil {
				return err
			}
			mu.Lock()
			result.Sent++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.log.InfoContext(ctx, "overdue reminder batch",
		"eligible", result.Eligible, "sent", result.Sent, "failed", result.Failed)
	return result, nil
}
