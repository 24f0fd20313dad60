package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"biblio/internal/library/models"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/requestcontext"
)

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	documentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.availability.CountByState(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleFindCopy(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	c, err := h.copies.FindByCode(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type addDocumentRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Type   string `json:"type"`
}

func (h *Handler) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	doc, err := h.copies.AddDocument(r.Context(), req.Title, req.Author, models.DocumentType(req.Type))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

type addCopyRequest struct {
	DocumentID int64  `json:"document_id"`
	Code       string `json:"code"`
	Location   string `json:"location"`
}

func (h *Handler) handleAddCopy(w http.ResponseWriter, r *http.Request) {
	var req addCopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	c, err := h.copies.AddCopy(r.Context(), req.DocumentID, req.Code, req.Location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type changeCopyStateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

func (h *Handler) handleChangeCopyState(w http.ResponseWriter, r *http.Request) {
	copyID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req changeCopyStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	state, err := models.ParseCopyState(req.State)
	if err != nil {
		writeError(w, err)
		return
	}

	actorID := requestcontext.UserID(r.Context())
	c, err := h.copies.ChangeState(r.Context(), copyID, state, actorID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleCopyHistory(w http.ResponseWriter, r *http.Request) {
	copyID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.copies.History(r.Context(), copyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
