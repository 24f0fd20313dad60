// Package handler is the thin chi HTTP surface over the lending services.
// Handlers decode, delegate and encode; every rule lives in the services.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"biblio/internal/library/availability"
	"biblio/internal/library/copies"
	"biblio/internal/library/models"
	"biblio/internal/library/notify"
	"biblio/internal/library/reservations"
	"biblio/internal/library/returns"
	"biblio/internal/library/users"
	"biblio/internal/platform/middleware"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/requestcontext"
)

// LoanService is the slice of the loans engine the HTTP layer needs.
type LoanService interface {
	RegisterLoan(ctx context.Context, userID, staffID int64, loanType models.LoanType, copyIDs []int64) (*models.Loan, error)
	SweepOverdue(ctx context.Context, filter *models.LoanType) ([]models.Loan, error)
	ListActive(ctx context.Context, userID *int64, page, size int) ([]models.Loan, error)
	UserHistory(ctx context.Context, userID int64, state *models.LoanState, page, size int) ([]models.Loan, error)
	Stats(ctx context.Context) (models.LoanStats, error)
	MarkNotified(ctx context.Context, loanID int64) error
}

type Handler struct {
	log          *slog.Logger
	validator    middleware.TokenValidator
	availability *availability.Tracker
	copies       *copies.Service
	loans        LoanService
	returns      *returns.Service
	reservations *reservations.Service
	users        *users.Service
	reminders    *notify.Reminders
}

func New(
	log *slog.Logger,
	validator middleware.TokenValidator,
	tracker *availability.Tracker,
	copySvc *copies.Service,
	loanSvc LoanService,
	returnSvc *returns.Service,
	reservationSvc *reservations.Service,
	userSvc *users.Service,
	reminders *notify.Reminders,
) *Handler {
	return &Handler{
		log:          log,
		validator:    validator,
		availability: tracker,
		copies:       copySvc,
		loans:        loanSvc,
		returns:      returnSvc,
		reservations: reservationSvc,
		users:        userSvc,
		reminders:    reminders,
	}
}

// Router assembles the full route tree. Registration and activation are
// public; everything else needs a bearer token, and mutations of library
// stock need the librarian role.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.log))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestClock)
	r.Use(middleware.Logger(h.log))

	r.Post("/users", h.handleRegisterUser)
	r.Post("/users/activate", h.handleActivateUser)
	r.Post("/users/resend-activation", h.handleResendActivation)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.log))

		r.Get("/users/{id}/can-borrow", h.handleCanBorrow)
		r.Get("/users/{id}/loans", h.handleUserLoans)
		r.Get("/users/{id}/reservations", h.handleUserReservations)

		r.Get("/documents/{id}/availability", h.handleAvailability)
		r.Get("/copies/code/{code}", h.handleFindCopy)

		r.Post("/reservations", h.handleCreateReservation)
		r.Post("/reservations/{id}/cancel", h.handleCancelReservation)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(requestcontext.RoleLibrarian, h.log))

			r.Post("/documents", h.handleAddDocument)
			r.Post("/copies", h.handleAddCopy)
			r.Post("/copies/{id}/state", h.handleChangeCopyState)
			r.Get("/copies/{id}/history", h.handleCopyHistory)

			r.Post("/loans", h.handleRegisterLoan)
			r.Get("/loans/active", h.handleActiveLoans)
			r.Post("/loans/sweep-overdue", h.handleSweepOverdue)
			r.Get("/loans/stats", h.handleLoanStats)
			r.Post("/loans/{id}/notified", h.handleMarkNotified)

			r.Post("/returns", h.handleRegisterReturn)

			r.Post("/reservations/{id}/activate", h.handleActivateReservation)
			r.Post("/reservations/{id}/complete", h.handleCompleteReservation)
			r.Get("/reservations/stats", h.handleReservationStats)

			r.Post("/users/{id}/sanction", h.handleApplySanction)
			r.Post("/notifications/overdue-reminders", h.handleOverdueReminders)
		})
	})

	return r
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, dErrors.Newf(dErrors.CodeValidation, "invalid %s", name)
	}
	return id, nil
}

func pathIDFromString(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "invalid id")
	}
	return id, nil
}

func pagination(r *http.Request) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(r.URL.Query().Get("size"))
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "dates must be YYYY-MM-DD")
	}
	return t, nil
}
