// Package copies covers catalog-side copy administration: registering
// documents and copies, manual state changes (maintenance, lost, recovery)
// and the per-copy audit trail.
package copies

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
	"biblio/internal/platform/metrics"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/platform/sentinel"
	"biblio/pkg/requestcontext"
)

type Service struct {
	runner    store.Runner
	documents store.DocumentStore
	copies    store.CopyStore
	history   store.HistoryStore
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func NewService(
	runner store.Runner,
	documents store.DocumentStore,
	copies store.CopyStore,
	history store.HistoryStore,
	log *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		runner:    runner,
		documents: documents,
		copies:    copies,
		history:   history,
		log:       log,
		metrics:   m,
	}
}

// AddDocument registers a catalog entry.
func (s *Service) AddDocument(ctx context.Context, title, author string, docType models.DocumentType) (*models.Document, error) {
	if strings.TrimSpace(title) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	}
	doc := &models.Document{
		Title:     strings.TrimSpace(title),
		Author:    strings.TrimSpace(author),
		Type:      docType.Normalized(),
		Active:    true,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.documents.CreateDocument(ctx, doc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create document")
	}
	return doc, nil
}

// AddCopy registers a new physical copy, born available.
func (s *Service) AddCopy(ctx context.Context, documentID int64, code, location string) (*models.Copy, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "copy code is required")
	}

	var created *models.Copy
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.documents.FindDocumentByID(ctx, documentID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound, "document %d not found", documentID)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load document")
		}
		c := &models.Copy{
			DocumentID: documentID,
			Code:       code,
			State:      models.CopyAvailable,
			Location:   strings.TrimSpace(location),
			CreatedAt:  requestcontext.Now(ctx),
		}
		if err := s.copies.CreateCopy(ctx, c); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeConflict, "copy code %q already exists", code)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "create copy")
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// FindByCode resolves a copy by its shelf code.
func (s *Service) FindByCode(ctx context.Context, code string) (*models.Copy, error) {
	c, err := s.copies.FindCopyByCode(ctx, code)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "copy %q not found", code)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load copy")
	}
	return c, nil
}

// manualTransitions is the subset of the copy state machine open to
// librarians: taking a copy off the shelf for maintenance, writing it off
// as lost, and recovering either back to available. Lending hops (loaned,
// in_reading_room, returned) belong to the loan and return flows, which
// keep the copy and its loan lines in step.
var manualTransitions = map[models.CopyState]map[models.CopyState]bool{
	models.CopyAvailable:   {models.CopyMaintenance: true, models.CopyLost: true},
	models.CopyMaintenance: {models.CopyAvailable: true},
	models.CopyLost:        {models.CopyAvailable: true},
}

// ChangeState performs a manual copy transition, to or from maintenance and
// lost. It records the acting librarian and a free-text reason.
func (s *Service) ChangeState(ctx context.Context, copyID int64, to models.CopyState, actorID int64, reason string) (*models.Copy, error) {
	var updated *models.Copy
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.copies.FindCopyByID(ctx, copyID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "copy %d not found", copyID)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load copy")
		}
		if !manualTransitions[c.State][to] {
			return dErrors.Newf(dErrors.CodeInvalidState, "copy %d cannot be moved %s -> %s by hand", copyID, c.State, to)
		}

		if err := s.copies.UpdateCopyState(ctx, copyID, c.State, to); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.Newf(dErrors.CodeInvalidState, "copy %d is no longer %s", copyID, c.State)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "update copy state")
		}
		entry := &models.StateHistory{
			CopyID:     copyID,
			PriorState: c.State,
			NewState:   to,
			ActorID:    &actorID,
			Reason:     reason,
			CreatedAt:  requestcontext.Now(ctx),
		}
		if err := s.history.AppendHistory(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append state history")
		}
		s.metrics.IncCopyTransition(string(c.State), string(to))

		c.State = to
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "copy state changed",
		"copy_id", copyID, "state", string(updated.State), "actor_id", actorID, "reason", reason)
	return updated, nil
}

// History lists a copy's audit trail, oldest first.
func (s *Service) History(ctx context.Context, copyID int64) ([]models.StateHistory, error) {
	if _, err := s.copies.FindCopyByID(ctx, copyID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "copy %d not found", copyID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load copy")
	}
	entries, err := s.history.ListHistoryByCopy(ctx, copyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list history")
	}
	return entries, nil
}
