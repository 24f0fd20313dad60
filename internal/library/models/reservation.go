package models

import (
	"time"

	dErrors "biblio/pkg/domain-errors"
)

// ReservationState is the lifecycle state of a reservation.
//
//	pending -> active -> completed
//	pending | active -> cancelled
type ReservationState string

const (
	ReservationPending   ReservationState = "pending"
	ReservationActive    ReservationState = "active"
	ReservationCancelled ReservationState = "cancelled"
	ReservationCompleted ReservationState = "completed"
)

var validReservationStates = map[ReservationState]bool{
	ReservationPending:   true,
	ReservationActive:    true,
	ReservationCancelled: true,
	ReservationCompleted: true,
}

// ParseReservationState constructs a ReservationState from external input.
func ParseReservationState(s string) (ReservationState, error) {
	st := ReservationState(s)
	if !validReservationStates[st] {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid reservation state %q", s)
	}
	return st, nil
}

func (s ReservationState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are possible.
func (s ReservationState) IsTerminal() bool {
	return s == ReservationCancelled || s == ReservationCompleted
}

// Reservation is one user's claim on a document for a future pickup date,
// independent of specific copies.
type Reservation struct {
	ID           int64
	UserID       int64
	DocumentID   int64
	ReservedFor  time.Time // pickup date, date precision
	State        ReservationState
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanCancel reports whether the reservation is still cancellable.
func (r *Reservation) CanCancel() bool {
	return r.State == ReservationPending || r.State == ReservationActive
}
