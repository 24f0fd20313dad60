package handler

import (
	"encoding/json"
	"net/http"

	"biblio/internal/library/models"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/requestcontext"
)

type registerLoanRequest struct {
	UserID  int64   `json:"user_id"`
	Type    string  `json:"type"`
	CopyIDs []int64 `json:"copy_ids"`
}

func (h *Handler) handleRegisterLoan(w http.ResponseWriter, r *http.Request) {
	var req registerLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	loanType, err := models.ParseLoanType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}

	staffID := requestcontext.UserID(r.Context())
	loan, err := h.loans.RegisterLoan(r.Context(), req.UserID, staffID, loanType, req.CopyIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) handleActiveLoans(w http.ResponseWriter, r *http.Request) {
	page, size := pagination(r)

	var userID *int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := pathIDFromString(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		userID = &id
	}

	loans, err := h.loans.ListActive(r.Context(), userID, page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *Handler) handleSweepOverdue(w http.ResponseWriter, r *http.Request) {
	var filter *models.LoanType
	if raw := r.URL.Query().Get("type"); raw != "" {
		t, err := models.ParseLoanType(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter = &t
	}

	swept, err := h.loans.SweepOverdue(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marked": len(swept),
		"loans":  swept,
	})
}

func (h *Handler) handleUserLoans(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	page, size := pagination(r)

	var state *models.LoanState
	if raw := r.URL.Query().Get("state"); raw != "" {
		s, err := models.ParseLoanState(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		state = &s
	}

	loans, err := h.loans.UserHistory(r.Context(), userID, state, page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *Handler) handleLoanStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.loans.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleMarkNotified(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.loans.MarkNotified(r.Context(), loanID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerReturnRequest struct {
	CopyCode string `json:"copy_code"`
}

func (h *Handler) handleRegisterReturn(w http.ResponseWriter, r *http.Request) {
	var req registerReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CopyCode == "" {
		writeError(w, dErrors.New(dErrors.CodeValidation, "copy_code is required"))
		return
	}

	result, err := h.returns.RegisterReturn(r.Context(), req.CopyCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleOverdueReminders(w http.ResponseWriter, r *http.Request) {
	result, err := h.reminders.SendOverdueReminders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
