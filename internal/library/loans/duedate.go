package loans

import (
	"time"

	"biblio/internal/library/models"
)

// Lending windows per loan type and document type.
const (
	inBranchWindow  = 4 * time.Hour
	homeBookWindow  = 7 * 24 * time.Hour
	homeMediaWindow = 3 * 24 * time.Hour
	defaultWindow   = 5 * 24 * time.Hour
)

// copyDueAt computes the due date a single copy would get on its own.
func copyDueAt(loanType models.LoanType, docType models.DocumentType, at time.Time) time.Time {
	if loanType == models.LoanInBranch {
		return at.Add(inBranchWindow)
	}
	switch docType.Normalized() {
	case models.DocumentBook:
		return at.Add(homeBookWindow)
	case models.DocumentMultimedia:
		return at.Add(homeMediaWindow)
	default:
		return at.Add(defaultWindow)
	}
}

// EstimateDueDate computes the due date for a loan covering the given
// document types. The whole loan shares one date: the soonest of the
// per-copy dates, so a multimedia item in the basket tightens the deadline
// for everything borrowed with it.
func EstimateDueDate(loanType models.LoanType, docTypes []models.DocumentType, at time.Time) time.Time {
	if len(docTypes) == 0 {
		return copyDueAt(loanType, "", at)
	}
	due := copyDueAt(loanType, docTypes[0], at)
	for _, dt := range docTypes[1:] {
		if d := copyDueAt(loanType, dt, at); d.Before(due) {
			due = d
		}
	}
	return due
}
