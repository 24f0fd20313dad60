package models

import (
	"time"

	dErrors "biblio/pkg/domain-errors"
)

// LoanType distinguishes in-branch (reading room) loans from home loans.
type LoanType string

const (
	LoanInBranch LoanType = "in_branch"
	LoanHome     LoanType = "home"
)

var validLoanTypes = map[LoanType]bool{
	LoanInBranch: true,
	LoanHome:     true,
}

// ParseLoanType constructs a LoanType from external input.
func ParseLoanType(s string) (LoanType, error) {
	t := LoanType(s)
	if !validLoanTypes[t] {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid loan type %q", s)
	}
	return t, nil
}

func (t LoanType) String() string {
	return string(t)
}

// LoanState is the lifecycle state of a loan aggregate.
//
//	active  -> overdue   (sweep, when now > due date)
//	active  -> returned  (all lines returned)
//	overdue -> returned  (all lines returned)
type LoanState string

const (
	LoanActive   LoanState = "active"
	LoanOverdue  LoanState = "overdue"
	LoanReturned LoanState = "returned"
)

var validLoanStates = map[LoanState]bool{
	LoanActive:   true,
	LoanOverdue:  true,
	LoanReturned: true,
}

// ParseLoanState constructs a LoanState from external input.
func ParseLoanState(s string) (LoanState, error) {
	st := LoanState(s)
	if !validLoanStates[st] {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid loan state %q", s)
	}
	return st, nil
}

func (s LoanState) String() string {
	return string(s)
}

// IsOpen reports whether the loan still has outstanding copies.
func (s LoanState) IsOpen() bool {
	return s == LoanActive || s == LoanOverdue
}

// Loan is an aggregate over one or more copies borrowed together by one
// user, attended by one staff member. The due date applies to the whole
// aggregate and is the soonest per-copy estimate.
type Loan struct {
	ID         int64
	Type       LoanType
	UserID     int64
	StaffID    int64
	LoanedAt   time.Time
	DueAt      time.Time
	ReturnedAt *time.Time
	State      LoanState
	Notified   bool
	Lines      []LoanLine
}

// OpenLines returns the lines whose copies have not been returned yet.
func (l *Loan) OpenLines() []LoanLine {
	var open []LoanLine
	for _, line := range l.Lines {
		if !line.Returned {
			open = append(open, line)
		}
	}
	return open
}

// LoanLine is one copy's membership within a loan. A copy may appear in at
// most one open line across all loans; the store enforces this at commit
// time.
type LoanLine struct {
	ID       int64
	LoanID   int64
	CopyID   int64
	Returned bool
}
