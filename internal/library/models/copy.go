package models

import (
	"time"

	dErrors "biblio/pkg/domain-errors"
)

// CopyState is the lifecycle state of a physical copy.
//
// Usage: construct via ParseCopyState at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type CopyState string

const (
	CopyAvailable     CopyState = "available"
	CopyLoaned        CopyState = "loaned"
	CopyInReadingRoom CopyState = "in_reading_room"
	CopyReturned      CopyState = "returned"
	CopyMaintenance   CopyState = "maintenance"
	CopyLost          CopyState = "lost"
)

// validCopyStates is the single source of truth for valid copy states.
var validCopyStates = map[CopyState]bool{
	CopyAvailable:     true,
	CopyLoaned:        true,
	CopyInReadingRoom: true,
	CopyReturned:      true,
	CopyMaintenance:   true,
	CopyLost:          true,
}

// copyTransitions encodes the allowed state machine. Any pair not listed
// here is an invalid transition.
//
//	available   -> loaned | in_reading_room | maintenance | lost
//	loaned      -> returned
//	in_reading_room -> returned
//	returned    -> available   (automatic, no holding period)
//	maintenance -> available
//	lost        -> available
var copyTransitions = map[CopyState]map[CopyState]bool{
	CopyAvailable: {
		CopyLoaned:        true,
		CopyInReadingRoom: true,
		CopyMaintenance:   true,
		CopyLost:          true,
	},
	CopyLoaned:        {CopyReturned: true},
	CopyInReadingRoom: {CopyReturned: true},
	CopyReturned:      {CopyAvailable: true},
	CopyMaintenance:   {CopyAvailable: true},
	CopyLost:          {CopyAvailable: true},
}

// ParseCopyState constructs a CopyState from external input.
func ParseCopyState(s string) (CopyState, error) {
	st := CopyState(s)
	if !st.IsValid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid copy state %q", s)
	}
	return st, nil
}

// IsValid checks membership in the state allowlist.
func (s CopyState) IsValid() bool {
	return validCopyStates[s]
}

// CanTransitionTo reports whether the state machine admits s -> next.
func (s CopyState) CanTransitionTo(next CopyState) bool {
	return copyTransitions[s][next]
}

func (s CopyState) String() string {
	return string(s)
}

// Copy is one physical or digital instance of a catalog Document. Exactly
// one row per physical item; a Copy belongs to exactly one Document.
type Copy struct {
	ID         int64
	DocumentID int64
	Code       string
	State      CopyState
	Location   string
	CreatedAt  time.Time
}
