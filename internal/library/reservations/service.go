// Package reservations manages document reservations: creation with the
// future-date and one-open-per-document rules, and the pending -> active ->
// completed lifecycle.
package reservations

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

type Service struct {
	runner       store.Runner
	users        store.UserStore
	documents    store.DocumentStore
	reservations store.ReservationStore
	log          *slog.Logger
	metrics      *metrics.Metrics
}

func NewService(
	runner store.Runner,
	users store.UserStore,
	documents store.DocumentStore,
	reservations store.ReservationStore,
	log *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		runner:       runner,
		users:        users,
		documents:    documents,
		reservations: reservations,
		log:          log,
		metrics:      m,
	}
}

// sameOrBeforeDay reports whether a falls on the same calendar day as b or
// earlier.
func sameOrBeforeDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad <= bd
}

// Create places a reservation for the user on the document. The pickup date
// must be strictly after today, the document must exist and be active, and
// the user may hold only one open reservation per document.
func (s *Service) Create(ctx context.Context, userID, documentID int64, reservedFor time.Time) (*models.Reservation, error) {
	now := requestcontext.Now(ctx)
	if sameOrBeforeDay(reservedFor, now) {
		return nil, dErrors.New(dErrors.CodePolicyViolation, "reservation date must be after today")
	}

	var created *models.Reservation
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

		doc, err := s.documents.FindDocumentByID(ctx, documentID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "document %d not found", documentID)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load document")
		}
		if !doc.Active {
			return dErrors.Newf(dErrors.CodeInvalidState, "document %d is out of catalog", documentID)
		}

		r := &models.Reservation{
			UserID:      userID,
			DocumentID:  documentID,
			ReservedFor: reservedFor,
			State:       models.ReservationPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.reservations.CreateReservation(ctx, r); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeConflict,
					"user %d already holds an open reservation for document %d", userID, documentID)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "create reservation")
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncReservationsCreated()
	s.log.InfoContext(ctx, "reservation created",
		"reservation_id", created.ID, "user_id", userID, "document_id", documentID)
	return created, nil
}

// Cancel moves a pending or active reservation to cancelled, keeping the
// caller-supplied reason.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (*models.Reservation, error) {
	return s.transition(ctx, id, func(r *models.Reservation) error {
		if !r.CanCancel() {
			return dErrors.Newf(dErrors.CodeInvalidState, "reservation %d is %s and cannot be cancelled", id, r.State)
		}
		r.State = models.ReservationCancelled
		r.CancelReason = reason
		return nil
	})
}

// Activate moves a pending reservation to active, meaning the document is
// being held at the desk.
func (s *Service) Activate(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.transition(ctx, id, func(r *models.Reservation) error {
		if r.State != models.ReservationPending {
			return dErrors.Newf(dErrors.CodeInvalidState, "reservation %d is %s, not pending", id, r.State)
		}
		r.State = models.ReservationActive
		return nil
	})
}

// Complete closes an active reservation after pickup.
func (s *Service) Complete(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.transition(ctx, id, func(r *models.Reservation) error {
		if r.State != models.ReservationActive {
			return dErrors.Newf(dErrors.CodeInvalidState, "reservation %d is %s, not active", id, r.State)
		}
		r.State = models.ReservationCompleted
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id int64, mutate func(*models.Reservation) error) (*models.Reservation, error) {
	var updated *models.Reservation
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.reservations.FindReservationByID(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "reservation %d not found", id)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load reservation")
		}
		if err := mutate(r); err != nil {
			return err
		}
		r.UpdatedAt = requestcontext.Now(ctx)
		if err := s.reservations.UpdateReservation(ctx, r); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update reservation")
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Find loads one reservation.
func (s *Service) Find(ctx context.Context, id int64) (*models.Reservation, error) {
	r, err := s.reservations.FindReservationByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "reservation %d not found", id)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load reservation")
	}
	return r, nil
}

// ListByUser lists the user's reservations, optionally filtered by state.
func (s *Service) ListByUser(ctx context.Context, userID int64, state *models.ReservationState) ([]models.Reservation, error) {
	if _, err := s.users.FindUserByID(ctx, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "user %d not found", userID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load user")
	}
	list, err := s.reservations.ListReservationsByUser(ctx, userID, state)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list reservations")
	}
	return list, nil
}

// Stats returns the reservation counters by state.
func (s *Service) Stats(ctx context.Context) (models.ReservationStats, error) {
	stats, err := s.reservations.ReservationStats(ctx)
	if err != nil {
		return models.ReservationStats{}, dErrors.Wrap(err, dErrors.CodeInternal, "reservation stats")
	}
	return stats, nil
}
