// Package returns processes copy returns: it closes loan lines, collapses
// the copy back to available, measures lateness and applies sanctions.
package returns

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
	"biblio/internal/platform/metrics"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/platform/sentinel"
	"biblio/pkg/requestcontext"
)

// Sanction bounds: twice the late days, never under 3 nor over 30.
const (
	sanctionPerDay = 2
	sanctionMin    = 3
	sanctionMax    = 30
)

type Service struct {
	runner  store.Runner
	users   store.UserStore
	copies  store.CopyStore
	history store.HistoryStore
	loans   store.LoanStore
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewService(
	runner store.Runner,
	users store.UserStore,
	copies store.CopyStore,
	history store.HistoryStore,
	loans store.LoanStore,
	log *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		runner:  runner,
		users:   users,
		copies:  copies,
		history: history,
		loans:   loans,
		log:     log,
		metrics: m,
	}
}

// Result summarizes one processed return.
type Result struct {
	CopyCode     string           `json:"copy_code"`
	LoanID       int64            `json:"loan_id"`
	LoanState    models.LoanState `json:"loan_state"`
	DaysLate     int              `json:"days_late"`
	SanctionDays int              `json:"sanction_days"`
}

// SanctionDays computes the sanction for a late return. On-time returns
// carry no sanction; late ones cost twice the late days, clamped to [3, 30].
func SanctionDays(daysLate int) int {
	if daysLate <= 0 {
		return 0
	}
	days := daysLate * sanctionPerDay
	if days < sanctionMin {
		return sanctionMin
	}
	if days > sanctionMax {
		return sanctionMax
	}
	return days
}

// DaysLate counts whole calendar days between the due date and the return,
// by date, not by elapsed duration. Returning at 23:59 the day after a
// 00:01 due date is one day late; returning later the same day is zero.
func DaysLate(dueAt, returnedAt time.Time) int {
	due := time.Date(dueAt.Year(), dueAt.Month(), dueAt.Day(), 0, 0, 0, 0, time.UTC)
	ret := time.Date(returnedAt.Year(), returnedAt.Month(), returnedAt.Day(), 0, 0, 0, 0, time.UTC)
	days := int(ret.Sub(due) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

// RegisterReturn processes the return of the copy identified by code. The
// copy collapses back to available through the transient returned state,
// the line closes, a late return extends the borrower's sanction, and the
// loan itself closes once its last line is returned.
func (s *Service) RegisterReturn(ctx context.Context, copyCode string) (*Result, error) {
	now := requestcontext.Now(ctx)
	var result *Result

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		cp, err := s.copies.FindCopyByCode(ctx, copyCode)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "copy %q not found", copyCode)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load copy")
		}

		loan, line, err := s.loans.FindOpenLineByCopy(ctx, cp.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeInvalidState, "copy %q has no open loan", copyCode)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "find open loan line")
		}

		// loaned -> returned -> available, both hops recorded. The copy may
		// sit in in_reading_room for in-branch loans.
		if err := s.transitionCopy(ctx, cp.ID, cp.State, models.CopyReturned, "copy returned"); err != nil {
			return err
		}
		if err := s.transitionCopy(ctx, cp.ID, models.CopyReturned, models.CopyAvailable, "back on shelf"); err != nil {
			return err
		}

		if err := s.loans.MarkLineReturned(ctx, line.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "close loan line")
		}

		daysLate := DaysLate(loan.DueAt, now)
		sanction := SanctionDays(daysLate)
		if sanction > 0 {
			if err := s.sanctionUser(ctx, loan.UserID, sanction, now); err != nil {
				return err
			}
		}

		open, err := s.loans.CountOpenLines(ctx, loan.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "count open lines")
		}

		// Every processed return stamps the loan; a partial return records
		// when the latest copy came back, the last one also closes the loan.
		loan.ReturnedAt = &now
		if open == 0 {
			loan.State = models.LoanReturned
		}
		if err := s.loans.UpdateLoan(ctx, loan); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update loan")
		}

		result = &Result{
			CopyCode:     copyCode,
			LoanID:       loan.ID,
			LoanState:    loan.State,
			DaysLate:     daysLate,
			SanctionDays: sanction,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncReturnsProcessed()
	s.log.InfoContext(ctx, "return processed",
		"copy_code", result.CopyCode,
		"loan_id", result.LoanID,
		"days_late", result.DaysLate,
		"sanction_days", result.SanctionDays,
		"loan_state", string(result.LoanState),
	)
	return result, nil
}

// sanctionUser extends the borrower's sanction expiry by the given days.
// An existing future sanction stacks: the extension starts from whichever
// is later, now or the current expiry.
func (s *Service) sanctionUser(ctx context.Context, userID int64, days int, now time.Time) error {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load user for sanction")
	}

	base := now
	if user.SanctionExpiry != nil && user.SanctionExpiry.After(now) {
		base = *user.SanctionExpiry
	}
	expiry := base.Add(time.Duration(days) * 24 * time.Hour)
	user.SanctionExpiry = &expiry

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "apply sanction")
	}
	s.metrics.IncSanctionsApplied()
	return nil
}

func (s *Service) transitionCopy(ctx context.Context, copyID int64, from, to models.CopyState, reason string) error {
	if !from.CanTransitionTo(to) {
		return dErrors.Newf(dErrors.CodeInvalidState, "copy %d cannot go %s -> %s", copyID, from, to)
	}
	if err := s.copies.UpdateCopyState(ctx, copyID, from, to); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Newf(dErrors.CodeNotFound, "copy %d not found", copyID)
		case errors.Is(err, sentinel.ErrInvalidState):
			return dErrors.Newf(dErrors.CodeInvalidState, "copy %d is no longer %s", copyID, from)
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "update copy state")
		}
	}
	entry := &models.StateHistory{
		CopyID:     copyID,
		PriorState: from,
		NewState:   to,
		Reason:     reason,
		CreatedAt:  requestcontext.Now(ctx),
	}
	if err := s.history.AppendHistory(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "append state history")
	}
	s.metrics.IncCopyTransition(string(from), string(to))
	return nil
}
