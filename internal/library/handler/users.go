package handler

import (
	"encoding/json"
	"net/http"

	"biblio/internal/library/models"
	"biblio/internal/library/users"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/requestcontext"
)

type registerUserRequest struct {
	RUT        string `json:"rut"`
	FirstNames string `json:"first_names"`
	LastNames  string `json:"last_names"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type userResponse struct {
	ID         int64  `json:"id"`
	RUT        string `json:"rut"`
	FirstNames string `json:"first_names"`
	LastNames  string `json:"last_names"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Active     bool   `json:"active"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:         u.ID,
		RUT:        u.RUT,
		FirstNames: u.FirstNames,
		LastNames:  u.LastNames,
		Email:      u.Email,
		Role:       u.Role,
		Active:     u.Active,
	}
}

func (h *Handler) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	user, err := h.users.Register(r.Context(), users.RegisterInput{
		RUT:        req.RUT,
		FirstNames: req.FirstNames,
		LastNames:  req.LastNames,
		Email:      req.Email,
		Password:   req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

type activateRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleActivateUser(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, dErrors.New(dErrors.CodeValidation, "token is required"))
		return
	}
	user, err := h.users.Activate(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type resendActivationRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleResendActivation(w http.ResponseWriter, r *http.Request) {
	var req resendActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, dErrors.New(dErrors.CodeValidation, "email is required"))
		return
	}
	if err := h.users.ResendActivation(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCanBorrow(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	eligibility, err := h.users.CanBorrow(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

type applySanctionRequest struct {
	Days   int    `json:"days"`
	Reason string `json:"reason"`
}

func (h *Handler) handleApplySanction(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req applySanctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	user, err := h.users.ApplySanction(r.Context(), userID, req.Days, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         user.ID,
		"sanction_expiry": user.SanctionExpiry,
	})
}

// handleUserReservations serves both patrons looking at their own
// reservations and staff looking at anyone's.
func (h *Handler) handleUserReservations(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	caller := requestcontext.UserID(r.Context())
	role := requestcontext.CallerRole(r.Context())
	if caller != userID && role == requestcontext.RoleUser {
		writeError(w, dErrors.New(dErrors.CodePolicyViolation, "cannot view another user's reservations"))
		return
	}

	var state *models.ReservationState
	if raw := r.URL.Query().Get("state"); raw != "" {
		s, err := models.ParseReservationState(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		state = &s
	}

	list, err := h.reservations.ListByUser(r.Context(), userID, state)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
