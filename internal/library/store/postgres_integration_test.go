//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
	"biblio/pkg/platform/sentinel"
	txcontext "biblio/pkg/platform/tx"
	"biblio/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateTables(ctx,
		"copy_state_history", "loan_lines", "loans", "reservations",
		"notification_log", "activation_tokens", "copies", "documents", "users")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedUser(role string) *models.User {
	now := time.Now().UTC()
	u := &models.User{
		RUT:          uuid.NewString()[:8] + "-5",
		FirstNames:   "Ana",
		LastNames:    "Rojas",
		Email:        uuid.NewString() + "@biblio.cl",
		PasswordHash: "x",
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.Require().NoError(s.store.CreateUser(context.Background(), u))
	return u
}

func (s *PostgresStoreSuite) seedCopy(state models.CopyState) *models.Copy {
	ctx := context.Background()
	doc := &models.Document{
		Title:     "Cien años de soledad",
		Author:    "García Márquez",
		Type:      models.DocumentBook,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.store.CreateDocument(ctx, doc))

	cp := &models.Copy{
		DocumentID: doc.ID,
		Code:       fmt.Sprintf("CA-%d-1", doc.ID),
		State:      state,
		Location:   "Sala General",
		CreatedAt:  time.Now().UTC(),
	}
	s.Require().NoError(s.store.CreateCopy(ctx, cp))
	return cp
}

func newLoan(userID, staffID, copyID int64) *models.Loan {
	now := time.Now().UTC()
	return &models.Loan{
		Type:     models.LoanHome,
		UserID:   userID,
		StaffID:  staffID,
		LoanedAt: now,
		DueAt:    now.Add(7 * 24 * time.Hour),
		State:    models.LoanActive,
		Lines:    []models.LoanLine{{CopyID: copyID}},
	}
}

// inTx runs fn against the store inside its own transaction, committing on
// success and rolling back on error, the same discipline the server's
// transactional runner applies.
func (s *PostgresStoreSuite) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// TestConcurrentLoanOnSameCopy verifies that concurrent loan registrations
// against one copy result in exactly one success; the partial unique index
// on open loan lines rejects every other attempt.
func (s *PostgresStoreSuite) TestConcurrentLoanOnSameCopy() {
	ctx := context.Background()
	user := s.seedUser("user")
	staff := s.seedUser("librarian")
	cp := s.seedCopy(models.CopyAvailable)

	const goroutines = 20

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.inTx(ctx, func(ctx context.Context) error {
				return s.store.CreateLoan(ctx, newLoan(user.ID, staff.ID, cp.ID))
			})
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one registration should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should get a conflict")

	// The losers' loan headers rolled back with their lines.
	stats, err := s.store.LoanStats(ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.Active)

	loan, line, err := s.store.FindOpenLineByCopy(ctx, cp.ID)
	s.Require().NoError(err)
	s.Equal(cp.ID, line.CopyID)
	s.Equal(user.ID, loan.UserID)
}

func (s *PostgresStoreSuite) TestLoanLifecycle() {
	ctx := context.Background()
	user := s.seedUser("user")
	staff := s.seedUser("librarian")
	cp := s.seedCopy(models.CopyAvailable)

	loan := newLoan(user.ID, staff.ID, cp.ID)
	loan.DueAt = time.Now().UTC().Add(-time.Hour)
	s.Require().NoError(s.store.CreateLoan(ctx, loan))
	s.Require().NotZero(loan.ID)
	s.Require().NotZero(loan.Lines[0].ID)

	n, err := s.store.CountLoansByUserAndState(ctx, user.ID, models.LoanActive)
	s.Require().NoError(err)
	s.Equal(1, n)

	affected, err := s.store.SweepOverdue(ctx, nil, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().Len(affected, 1)
	s.Equal(models.LoanOverdue, affected[0].State)

	unnotified, err := s.store.ListOverdueUnnotified(ctx)
	s.Require().NoError(err)
	s.Require().Len(unnotified, 1)
	s.Equal(loan.ID, unnotified[0].ID)

	s.Require().NoError(s.store.MarkLineReturned(ctx, loan.Lines[0].ID))
	open, err := s.store.CountOpenLines(ctx, loan.ID)
	s.Require().NoError(err)
	s.Equal(0, open)

	now := time.Now().UTC()
	loan.State = models.LoanReturned
	loan.ReturnedAt = &now
	s.Require().NoError(s.store.UpdateLoan(ctx, loan))

	got, err := s.store.FindLoanByID(ctx, loan.ID)
	s.Require().NoError(err)
	s.Equal(models.LoanReturned, got.State)
	s.Require().NotNil(got.ReturnedAt)
	s.Require().Len(got.Lines, 1)
	s.True(got.Lines[0].Returned)

	// The copy is lendable again once its line is closed.
	s.Require().NoError(s.store.CreateLoan(ctx, newLoan(user.ID, staff.ID, cp.ID)))
}

func (s *PostgresStoreSuite) TestGuardedCopyStateUpdate() {
	ctx := context.Background()
	cp := s.seedCopy(models.CopyAvailable)

	err := s.store.UpdateCopyState(ctx, cp.ID, models.CopyAvailable, models.CopyLoaned)
	s.Require().NoError(err)

	// Stale guard: the row is loaned now, not available.
	err = s.store.UpdateCopyState(ctx, cp.ID, models.CopyAvailable, models.CopyMaintenance)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)

	err = s.store.UpdateCopyState(ctx, cp.ID+1000, models.CopyAvailable, models.CopyLoaned)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	got, err := s.store.FindCopyByID(ctx, cp.ID)
	s.Require().NoError(err)
	s.Equal(models.CopyLoaned, got.State)
}

func (s *PostgresStoreSuite) TestConflictRollsBackWholeLoan() {
	ctx := context.Background()
	user := s.seedUser("user")
	staff := s.seedUser("librarian")
	held := s.seedCopy(models.CopyLoaned)
	free := s.seedCopy(models.CopyAvailable)

	s.Require().NoError(s.store.CreateLoan(ctx, newLoan(user.ID, staff.ID, held.ID)))

	// A basket mixing a free copy with a held one fails as a unit.
	err := s.inTx(ctx, func(ctx context.Context) error {
		basket := newLoan(user.ID, staff.ID, free.ID)
		basket.Lines = append(basket.Lines, models.LoanLine{CopyID: held.ID})
		return s.store.CreateLoan(ctx, basket)
	})
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	stats, err := s.store.LoanStats(ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.Active)

	_, _, err = s.store.FindOpenLineByCopy(ctx, free.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestReservationUniquePerUserAndDocument() {
	ctx := context.Background()
	user := s.seedUser("user")
	cp := s.seedCopy(models.CopyAvailable)
	now := time.Now().UTC()

	first := &models.Reservation{
		UserID:      user.ID,
		DocumentID:  cp.DocumentID,
		ReservedFor: now.Add(48 * time.Hour),
		State:       models.ReservationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.Require().NoError(s.store.CreateReservation(ctx, first))

	dup := *first
	dup.ID = 0
	s.Require().ErrorIs(s.store.CreateReservation(ctx, &dup), sentinel.ErrConflict)

	// A terminal reservation frees the slot.
	first.State = models.ReservationCancelled
	first.CancelReason = "cambio de planes"
	s.Require().NoError(s.store.UpdateReservation(ctx, first))

	again := *first
	again.ID = 0
	again.State = models.ReservationPending
	again.CancelReason = ""
	s.Require().NoError(s.store.CreateReservation(ctx, &again))
}

func (s *PostgresStoreSuite) TestActivationTokenRoundTrip() {
	ctx := context.Background()
	user := s.seedUser("user")
	now := time.Now().UTC()

	old := &models.ActivationToken{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}
	s.Require().NoError(s.store.SaveToken(ctx, old))
	s.Require().NoError(s.store.InvalidateUserTokens(ctx, user.ID))

	fresh := &models.ActivationToken{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}
	s.Require().NoError(s.store.SaveToken(ctx, fresh))

	got, err := s.store.FindToken(ctx, old.Token)
	s.Require().NoError(err)
	s.True(got.Used)

	got, err = s.store.FindToken(ctx, fresh.Token)
	s.Require().NoError(err)
	s.False(got.Used)

	s.Require().NoError(s.store.MarkTokenUsed(ctx, fresh.Token))
	got, err = s.store.FindToken(ctx, fresh.Token)
	s.Require().NoError(err)
	s.True(got.Used)

	_, err = s.store.FindToken(ctx, "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
