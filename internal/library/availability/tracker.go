// Package availability answers "can this document be lent right now" from the
// per-copy state machine. It is read-only; loan and return flows mutate copy
// state themselves.
package availability

import (
	"context"
	"errors"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/platform/sentinel"
)

type Tracker struct {
	documents store.DocumentStore
	copies    store.CopyStore
}

func NewTracker(documents store.DocumentStore, copies store.CopyStore) *Tracker {
	return &Tracker{documents: documents, copies: copies}
}

// Summary is the per-document availability breakdown.
type Summary struct {
	DocumentID int64                    `json:"document_id"`
	Total      int                      `json:"total"`
	Available  int                      `json:"available"`
	ByState    map[models.CopyState]int `json:"by_state"`
}

// CountByState returns the availability breakdown for a document.
func (t *Tracker) CountByState(ctx context.Context, documentID int64) (*Summary, error) {
	if _, err := t.documents.FindDocumentByID(ctx, documentID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "document %d not found", documentID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load document")
	}

	counts, err := t.copies.CountCopiesByState(ctx, documentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count copies")
	}

	s := &Summary{DocumentID: documentID, ByState: counts}
	for state, n := range counts {
		s.Total += n
		if state == models.CopyAvailable {
			s.Available = n
		}
	}
	return s, nil
}

// CanRequest reports whether at least one copy of the document is available.
func (t *Tracker) CanRequest(ctx context.Context, documentID int64) (bool, error) {
	summary, err := t.CountByState(ctx, documentID)
	if err != nil {
		return false, err
	}
	return summary.Available > 0, nil
}

// PickAvailable selects n available copies of the document in ascending ID
// order. Fewer than n on the shelf is a policy violation, not a partial
// result.
func (t *Tracker) PickAvailable(ctx context.Context, documentID int64, n int) ([]models.Copy, error) {
	if n <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "requested copy count must be positive")
	}
	if _, err := t.documents.FindDocumentByID(ctx, documentID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "document %d not found", documentID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load document")
	}

	copies, err := t.copies.ListAvailableCopies(ctx, documentID, n)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list available copies")
	}
	if len(copies) < n {
		return nil, dErrors.Newf(dErrors.CodePolicyViolation,
			"document %d has %d available copies, %d requested", documentID, len(copies), n)
	}
	return copies, nil
}
