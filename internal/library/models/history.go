package models

import "time"

// StateHistory is one immutable entry in a copy's audit trail. Every copy
// state transition performed through the authorized-update path appends one
// row.
type StateHistory struct {
	ID         int64
	CopyID     int64
	PriorState CopyState
	NewState   CopyState

	// ActorID is nil for system-driven transitions (returns collapsing
	// returned -> available, the overdue sweep's side effects).
	ActorID *int64

	Reason    string
	CreatedAt time.Time
}
