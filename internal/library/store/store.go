// Package store defines the persistence contracts for the lending core and
// ships two implementations: an in-memory store for unit tests and a
// PostgreSQL store for production.
//
// Stores are interface-driven to keep the domain logic testable and to allow
// swapping persistence without rewiring business code. Stores return
// sentinel errors (pkg/platform/sentinel); services translate them into
// coded domain errors.
package store

import (
	"context"
	"time"

	"biblio/internal/library/models"
)

// Runner executes fn inside one atomic unit. The PostgreSQL runner opens a
// transaction and stashes it in ctx for tx-aware stores; the memory store
// serializes transactions and rolls back its state on error. No partial
// side effects survive a failed fn.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	FindUserByRUT(ctx context.Context, rut string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	FindDocumentByID(ctx context.Context, id int64) (*models.Document, error)
}

type CopyStore interface {
	CreateCopy(ctx context.Context, copy *models.Copy) error
	FindCopyByID(ctx context.Context, id int64) (*models.Copy, error)
	FindCopyByCode(ctx context.Context, code string) (*models.Copy, error)
	ListCopiesByDocument(ctx context.Context, documentID int64) ([]models.Copy, error)

	// ListAvailableCopies returns up to limit available copies of the
	// document in ascending ID order; limit <= 0 means no limit.
	ListAvailableCopies(ctx context.Context, documentID int64, limit int) ([]models.Copy, error)

	CountCopiesByState(ctx context.Context, documentID int64) (map[models.CopyState]int, error)

	// UpdateCopyState performs a guarded transition: the row must currently
	// be in from. Returns sentinel.ErrInvalidState when the guard fails and
	// sentinel.ErrNotFound when the copy does not exist.
	UpdateCopyState(ctx context.Context, copyID int64, from, to models.CopyState) error
}

type HistoryStore interface {
	AppendHistory(ctx context.Context, entry *models.StateHistory) error
	ListHistoryByCopy(ctx context.Context, copyID int64) ([]models.StateHistory, error)
}

type LoanStore interface {
	// CreateLoan persists the loan and its lines. A copy already referenced
	// by an open line on any loan fails the whole insert with
	// sentinel.ErrConflict.
	CreateLoan(ctx context.Context, loan *models.Loan) error

	FindLoanByID(ctx context.Context, id int64) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error

	CountLoansByUserAndState(ctx context.Context, userID int64, state models.LoanState) (int, error)

	// FindOpenLineByCopy locates the open line referencing the copy inside
	// an open (active or overdue) loan.
	FindOpenLineByCopy(ctx context.Context, copyID int64) (*models.Loan, *models.LoanLine, error)

	MarkLineReturned(ctx context.Context, lineID int64) error
	CountOpenLines(ctx context.Context, loanID int64) (int, error)

	// SweepOverdue transitions active loans past their due date to overdue
	// and returns the affected loans. filter narrows by loan type when
	// non-nil.
	SweepOverdue(ctx context.Context, filter *models.LoanType, now time.Time) ([]models.Loan, error)

	ListLoansByUser(ctx context.Context, userID int64, state *models.LoanState, page, size int) ([]models.Loan, error)
	ListActiveLoans(ctx context.Context, userID *int64, page, size int) ([]models.Loan, error)
	ListOverdueUnnotified(ctx context.Context) ([]models.Loan, error)
	LoanStats(ctx context.Context) (models.LoanStats, error)
}

type ReservationStore interface {
	// CreateReservation fails with sentinel.ErrConflict when the user
	// already holds a non-terminal reservation for the document.
	CreateReservation(ctx context.Context, r *models.Reservation) error

	FindReservationByID(ctx context.Context, id int64) (*models.Reservation, error)
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	ListReservationsByUser(ctx context.Context, userID int64, state *models.ReservationState) ([]models.Reservation, error)
	ReservationStats(ctx context.Context) (models.ReservationStats, error)
}

type NotificationStore interface {
	AppendNotification(ctx context.Context, entry *models.NotificationLog) error
	ListNotificationsByUser(ctx context.Context, userID int64) ([]models.NotificationLog, error)
}

type TokenStore interface {
	SaveToken(ctx context.Context, token *models.ActivationToken) error
	FindToken(ctx context.Context, token string) (*models.ActivationToken, error)
	MarkTokenUsed(ctx context.Context, token string) error

	// InvalidateUserTokens marks all of the user's outstanding tokens used,
	// so only the most recently issued link works.
	InvalidateUserTokens(ctx context.Context, userID int64) error
}
