// Package users covers patron accounts: registration with email activation,
// lending eligibility checks and manual sanctions.
package users

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
	"biblio/internal/platform/metrics"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/platform/sentinel"
	"biblio/pkg/requestcontext"
)

const (
	minPasswordLen  = 8
	maxSanctionDays = 30
	maxActiveLoans  = 3
)

// Notifier delivers account emails. Satisfied by notify.Recorder.
type Notifier interface {
	Notify(ctx context.Context, userID int64, templateID string, payload map[string]any) (bool, error)
}

type Service struct {
	runner   store.Runner
	users    store.UserStore
	loans    store.LoanStore
	tokens   store.TokenStore
	notifier Notifier
	tokenTTL time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewService(
	runner store.Runner,
	users store.UserStore,
	loans store.LoanStore,
	tokens store.TokenStore,
	notifier Notifier,
	tokenTTL time.Duration,
	log *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		runner:   runner,
		users:    users,
		loans:    loans,
		tokens:   tokens,
		notifier: notifier,
		tokenTTL: tokenTTL,
		log:      log,
		metrics:  m,
	}
}

// RegisterInput carries the registration form fields.
type RegisterInput struct {
	RUT        string
	FirstNames string
	LastNames  string
	Email      string
	Password   string
	Role       string
}

func (in *RegisterInput) validate() error {
	if strings.TrimSpace(in.FirstNames) == "" || strings.TrimSpace(in.LastNames) == "" {
		return dErrors.New(dErrors.CodeValidation, "first and last names are required")
	}
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return dErrors.New(dErrors.CodeValidation, "a valid email is required")
	}
	if len(in.Password) < minPasswordLen {
		return dErrors.Newf(dErrors.CodeValidation, "password must be at least %d characters", minPasswordLen)
	}
	return nil
}

// Register creates an inactive account and emails an activation link. The
// account cannot borrow until activated.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	rut, err := models.ParseRUT(in.RUT)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "hash password")
	}

	now := requestcontext.Now(ctx)
	role := in.Role
	if role == "" {
		role = string(requestcontext.RoleUser)
	}

	user := &models.User{
		RUT:          rut,
		FirstNames:   strings.TrimSpace(in.FirstNames),
		LastNames:    strings.TrimSpace(in.LastNames),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: string(hash),
		Role:         role,
		Active:       false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var token *models.ActivationToken
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.CreateUser(ctx, user); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "an account with this RUT or email already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "create user")
		}
		var err error
		token, err = s.issueToken(ctx, user.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncUsersRegistered()
	s.log.InfoContext(ctx, "user registered", "user_id", user.ID, "rut", user.RUT)

	// Delivery failure is logged by the sink wrapper; registration stands
	// either way and the link can be resent.
	_, _ = s.notifier.Notify(ctx, user.ID, models.TemplateAccountActivation, map[string]any{
		"name":  user.FullName(),
		"token": token.Token,
	})
	return user, nil
}

func (s *Service) issueToken(ctx context.Context, userID int64, now time.Time) (*models.ActivationToken, error) {
	token := &models.ActivationToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(s.tokenTTL),
		CreatedAt: now,
	}
	if err := s.tokens.SaveToken(ctx, token); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save activation token")
	}
	return token, nil
}

// Activate turns the account active. The token must exist, be unused and
// unexpired; it is consumed on success.
func (s *Service) Activate(ctx context.Context, token string) (*models.User, error) {
	now := requestcontext.Now(ctx)
	var user *models.User

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		at, err := s.tokens.FindToken(ctx, token)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "unknown activation token")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load activation token")
		}
		if at.Used {
			return dErrors.New(dErrors.CodeInvalidState, "activation token already used")
		}
		if at.IsExpired(now) {
			return dErrors.New(dErrors.CodeInvalidState, "activation token expired, request a new one")
		}

		user, err = s.users.FindUserByID(ctx, at.UserID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load user")
		}
		if user.Active {
			return dErrors.New(dErrors.CodeInvalidState, "account is already active")
		}

		user.Active = true
		user.UpdatedAt = now
		if err := s.users.UpdateUser(ctx, user); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "activate user")
		}
		if err := s.tokens.MarkTokenUsed(ctx, token); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "consume activation token")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncUsersActivated()
	s.log.InfoContext(ctx, "user activated", "user_id", user.ID)
	return user, nil
}

// ResendActivation invalidates any outstanding tokens and emails a fresh
// one. Only the newest link works.
func (s *Service) ResendActivation(ctx context.Context, email string) error {
	now := requestcontext.Now(ctx)
	var user *models.User
	var token *models.ActivationToken

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no account for this email")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load user")
		}
		if user.Active {
			return dErrors.New(dErrors.CodeInvalidState, "account is already active")
		}
		if err := s.tokens.InvalidateUserTokens(ctx, user.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "invalidate tokens")
		}
		token, err = s.issueToken(ctx, user.ID, now)
		return err
	})
	if err != nil {
		return err
	}

	_, _ = s.notifier.Notify(ctx, user.ID, models.TemplateAccountActivation, map[string]any{
		"name":  user.FullName(),
		"token": token.Token,
	})
	return nil
}

// Eligibility is the read-only twin of the lending preconditions: the same
// checks loan registration applies, reported instead of enforced.
type Eligibility struct {
	UserID         int64      `json:"user_id"`
	Eligible       bool       `json:"eligible"`
	Active         bool       `json:"active"`
	Sanctioned     bool       `json:"sanctioned"`
	SanctionExpiry *time.Time `json:"sanction_expiry,omitempty"`
	ActiveLoans    int        `json:"active_loans"`
	OverdueLoans   int        `json:"overdue_loans"`
	Reasons        []string   `json:"reasons,omitempty"`
}

// CanBorrow reports whether the user could open a loan right now, and why
// not if they cannot.
func (s *Service) CanBorrow(ctx context.Context, userID int64) (*Eligibility, error) {
	now := requestcontext.Now(ctx)

	user, err := s.users.FindUserByID(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "user %d not found", userID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load user")
	}

	active, err := s.loans.CountLoansByUserAndState(ctx, userID, models.LoanActive)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count active loans")
	}
	overdue, err := s.loans.CountLoansByUserAndState(ctx, userID, models.LoanOverdue)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count overdue loans")
	}

	e := &Eligibility{
		UserID:         userID,
		Active:         user.Active,
		Sanctioned:     user.IsSanctioned(now),
		SanctionExpiry: user.SanctionExpiry,
		ActiveLoans:    active,
		OverdueLoans:   overdue,
	}
	if !e.Active {
		e.Reasons = append(e.Reasons, "account is not active")
	}
	if e.Sanctioned {
		e.Reasons = append(e.Reasons, "sanction in force")
	}
	if active >= maxActiveLoans {
		e.Reasons = append(e.Reasons, "active loan limit reached")
	}
	if overdue > 0 {
		e.Reasons = append(e.Reasons, "overdue loans pending return")
	}
	e.Eligible = len(e.Reasons) == 0
	return e, nil
}

// ApplySanction manually extends a user's sanction, stacking on any sanction
// already in force. days must be between 1 and 30.
func (s *Service) ApplySanction(ctx context.Context, userID int64, days int, reason string) (*models.User, error) {
	if days < 1 || days > maxSanctionDays {
		return nil, dErrors.Newf(dErrors.CodeValidation, "sanction days must be between 1 and %d", maxSanctionDays)
	}
	now := requestcontext.Now(ctx)

	var user *models.User
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.FindUserByID(ctx, userID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "user %d not found", userID)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load user")
		}

		base := now
		if user.SanctionExpiry != nil && user.SanctionExpiry.After(now) {
			base = *user.SanctionExpiry
		}
		expiry := base.Add(time.Duration(days) * 24 * time.Hour)
		user.SanctionExpiry = &expiry
		user.UpdatedAt = now

		if err := s.users.UpdateUser(ctx, user); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "apply sanction")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncSanctionsApplied()
	s.log.InfoContext(ctx, "sanction applied",
		"user_id", userID, "days", days, "reason", reason, "expires", user.SanctionExpiry)
	return user, nil
}
