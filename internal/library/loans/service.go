// Package loans implements the loan lifecycle: registration behind the
// lending preconditions, the due-date policy, the overdue sweep, and loan
// queries.
package loans

import (
	"context"
	"errors"
	"log/slog"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
	"biblio/internal/platform/metrics"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/platform/sentinel"
	"biblio/pkg/requestcontext"
)

// maxActiveLoans is the per-user cap on simultaneously active loans.
const maxActiveLoans = 3

type Service struct {
	runner    store.Runner
	users     store.UserStore
	documents store.DocumentStore
	copies    store.CopyStore
	history   store.HistoryStore
	loans     store.LoanStore
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func NewService(
	runner store.Runner,
	users store.UserStore,
	documents store.DocumentStore,
	copies store.CopyStore,
	history store.HistoryStore,
	loans store.LoanStore,
	log *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		runner:    runner,
		users:     users,
		documents: documents,
		copies:    copies,
		history:   history,
		loans:     loans,
		log:       log,
		metrics:   m,
	}
}

// RegisterLoan lends the given copies to the user as one loan. Preconditions
// are checked in a fixed order so callers get a stable first failure; the
// whole operation runs in one transaction and either every copy moves to
// loaned or none does.
func (s *Service) RegisterLoan(ctx context.Context, userID, staffID int64, loanType models.LoanType, copyIDs []int64) (*models.Loan, error) {
	if _, err := models.ParseLoanType(string(loanType)); err != nil {
		return nil, err
	}
	if len(copyIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "a loan needs at least one copy")
	}
	seen := make(map[int64]struct{}, len(copyIDs))
	for _, id := range copyIDs {
		if _, dup := seen[id]; dup {
			return nil, dErrors.Newf(dErrors.CodeValidation, "copy %d listed twice", id)
		}
		seen[id] = struct{}{}
	}

	now := requestcontext.Now(ctx)
	var created *models.Loan

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.users.FindUserByID(ctx, userID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "user %d not found", userID)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load user")
		}
		if !user.Active {
			return dErrors.Newf(dErrors.CodeInvalidState, "user %d is not active", userID)
		}
		if user.IsSanctioned(now) {
			return dErrors.Newf(dErrors.CodePolicyViolation,
				"user %d is sanctioned until %s", userID, user.SanctionExpiry.Format("2006-01-02"))
		}

		active, err := s.loans.CountLoansByUserAndState(ctx, userID, models.LoanActive)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "count active loans")
		}
		if active >= maxActiveLoans {
			return dErrors.Newf(dErrors.CodePolicyViolation,
				"user %d already has %d active loans", userID, active)
		}

		overdue, err := s.loans.CountLoansByUserAndState(ctx, userID, models.LoanOverdue)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "count overdue loans")
		}
		if overdue > 0 {
			return dErrors.Newf(dErrors.CodePolicyViolation,
				"user %d has %d overdue loans pending return", userID, overdue)
		}

		loan := &models.Loan{
			Type:     loanType,
			UserID:   userID,
			StaffID:  staffID,
			LoanedAt: now,
			State:    models.LoanActive,
		}
		docTypes := make([]models.DocumentType, 0, len(copyIDs))

		for _, copyID := range copyIDs {
			cp, err := s.copies.FindCopyByID(ctx, copyID)
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound, "copy %d not found", copyID)
			}
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "load copy")
			}
			if cp.State != models.CopyAvailable {
				return dErrors.Newf(dErrors.CodeInvalidState,
					"copy %d is %s, not available", copyID, cp.State)
			}

			doc, err := s.documents.FindDocumentByID(ctx, cp.DocumentID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "load document")
			}
			docTypes = append(docTypes, doc.Type)
			loan.Lines = append(loan.Lines, models.LoanLine{CopyID: copyID})
		}

		loan.DueAt = EstimateDueDate(loanType, docTypes, now)

		if err := s.loans.CreateLoan(ctx, loan); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeInvalidState, "a copy is already on an open loan")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "create loan")
		}

		for _, copyID := range copyIDs {
			if err := s.transitionCopy(ctx, copyID, models.CopyAvailable, models.CopyLoaned, staffID, "loan registered"); err != nil {
				return err
			}
		}

		created = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncLoansCreated()
	s.log.InfoContext(ctx, "loan registered",
		"loan_id", created.ID,
		"user_id", userID,
		"type", string(loanType),
		"copies", len(copyIDs),
		"due_at", created.DueAt,
	)
	return created, nil
}

// transitionCopy performs a guarded copy state change and records it.
func (s *Service) transitionCopy(ctx context.Context, copyID int64, from, to models.CopyState, actorID int64, reason string) error {
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
	if actorID != 0 {
		entry.ActorID = &actorID
	}
	if err := s.history.AppendHistory(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "append state history")
	}
	s.metrics.IncCopyTransition(string(from), string(to))
	return nil
}

// SweepOverdue marks active loans past their due date as overdue. Running it
// twice is harmless: already-overdue loans are not touched again. filter
// narrows the sweep to one loan type.
func (s *Service) SweepOverdue(ctx context.Context, filter *models.LoanType) ([]models.Loan, error) {
	now := requestcontext.Now(ctx)

	var swept []models.Loan
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		swept, err = s.loans.SweepOverdue(ctx, filter, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "sweep overdue loans")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(swept) > 0 {
		s.metrics.AddLoansOverdue(len(swept))
		s.log.InfoContext(ctx, "overdue sweep", "marked", len(swept))
	}
	return swept, nil
}

// ListActive lists active loans, optionally narrowed to one user. Pages are
// newest first.
func (s *Service) ListActive(ctx context.Context, userID *int64, page, size int) ([]models.Loan, error) {
	loans, err := s.loans.ListActiveLoans(ctx, userID, page, size)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list active loans")
	}
	return loans, nil
}

// UserHistory lists a user's loans, optionally filtered by state.
func (s *Service) UserHistory(ctx context.Context, userID int64, state *models.LoanState, page, size int) ([]models.Loan, error) {
	if _, err := s.users.FindUserByID(ctx, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "user %d not found", userID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load user")
	}
	loans, err := s.loans.ListLoansByUser(ctx, userID, state, page, size)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list loans")
	}
	return loans, nil
}

// Stats returns the loan counters by state and type.
func (s *Service) Stats(ctx context.Context) (models.LoanStats, error) {
	stats, err := s.loans.LoanStats(ctx)
	if err != nil {
		return models.LoanStats{}, dErrors.Wrap(err, dErrors.CodeInternal, "loan stats")
	}
	return stats, nil
}

// MarkNotified records that the user was reminded about an overdue loan.
// Only overdue loans can be marked.
func (s *Service) MarkNotified(ctx context.Context, loanID int64) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		loan, err := s.loans.FindLoanByID(ctx, loanID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "loan %d not found", loanID)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load loan")
		}
		if loan.State != models.LoanOverdue {
			return dErrors.Newf(dErrors.CodeInvalidState, "loan %d is %s, not overdue", loanID, loan.State)
		}
		if loan.Notified {
			return nil
		}
		loan.Notified = true
		if err := s.loans.UpdateLoan(ctx, loan); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update loan")
		}
		return nil
	})
}
