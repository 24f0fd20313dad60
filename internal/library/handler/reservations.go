package handler

import (
	"encoding/json"
	"net/http"

	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/requestcontext"
)

type createReservationRequest struct {
	DocumentID  int64  `json:"document_id"`
	ReservedFor string `json:"reserved_for"`
}

func (h *Handler) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	reservedFor, err := parseDate(req.ReservedFor)
	if err != nil {
		writeError(w, err)
		return
	}

	userID := requestcontext.UserID(r.Context())
	reservation, err := h.reservations.Create(r.Context(), userID, req.DocumentID, reservedFor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

type cancelReservationRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req cancelReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	// Patrons may only cancel their own reservations; staff may cancel any.
	if requestcontext.CallerRole(r.Context()) == requestcontext.RoleUser {
		existing, err := h.reservations.Find(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if existing.UserID != requestcontext.UserID(r.Context()) {
			writeError(w, dErrors.New(dErrors.CodePolicyViolation, "cannot cancel another user's reservation"))
			return
		}
	}

	reservation, err := h.reservations.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleActivateReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	reservation, err := h.reservations.Activate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleCompleteReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	reservation, err := h.reservations.Complete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleReservationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reservations.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
