package users

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
	dErrors "biblio/pkg/domain-errors"
	"biblio/pkg/requestcontext"
)

var testNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

type sentMessage struct {
	UserID   int64
	Template string
	Payload  map[string]any
}

type fakeNotifier struct {
	sent []sentMessage
}

func (n *fakeNotifier) Notify(_ context.Context, userID int64, templateID string, payload map[string]any) (bool, error) {
	n.sent = append(n.sent, sentMessage{UserID: userID, Template: templateID, Payload: payload})
	return true, nil
}

type fixture struct {
	mem      *store.Memory
	svc      *Service
	notifier *fakeNotifier
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	notifier := &fakeNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(mem, mem, mem, mem, notifier, 24*time.Hour, log, nil)
	ctx := requestcontext.WithTime(context.Background(), testNow)
	return &fixture{mem: mem, svc: svc, notifier: notifier, ctx: ctx}
}

func validInput() RegisterInput {
	return RegisterInput{
		RUT:        "12.345.678-5",
		FirstNames: "Ana María",
		LastNames:  "Rojas Pérez",
		Email:      "Ana@Example.cl",
		Password:   "correcthorse",
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	user, err := f.svc.Register(f.ctx, validInput())
	require.NoError(t, err)

	assert.Equal(t, "12345678-5", user.RUT)
	assert.Equal(t, "ana@example.cl", user.Email)
	assert.False(t, user.Active)
	assert.Equal(t, string(requestcontext.RoleUser), user.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correcthorse")))

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, models.TemplateAccountActivation, f.notifier.sent[0].Template)
	assert.NotEmpty(t, f.notifier.sent[0].Payload["token"])
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*RegisterInput)
	}{
		{"bad rut", func(in *RegisterInput) { in.RUT = "12345678-9" }},
		{"missing names", func(in *RegisterInput) { in.FirstNames = " " }},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }},
		{"short password", func(in *RegisterInput) { in.Password = "short" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := f.svc.Register(f.ctx, in)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(f.ctx, validInput())
	require.NoError(t, err)

	_, err = f.svc.Register(f.ctx, validInput())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func (f *fixture) register(t *testing.T) (*models.User, string) {
	t.Helper()
	user, err := f.svc.Register(f.ctx, validInput())
	require.NoError(t, err)
	token, _ := f.notifier.sent[len(f.notifier.sent)-1].Payload["token"].(string)
	require.NotEmpty(t, token)
	return user, token
}

func TestActivate(t *testing.T) {
	f := newFixture(t)
	user, token := f.register(t)

	activated, err := f.svc.Activate(f.ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, activated.ID)
	assert.True(t, activated.Active)

	// Single use.
	_, err = f.svc.Activate(f.ctx, token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestActivateUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Activate(f.ctx, "nope")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestActivateExpiredToken(t *testing.T) {
	f := newFixture(t)
	_, token := f.register(t)

	later := requestcontext.WithTime(context.Background(), testNow.Add(25*time.Hour))
	_, err := f.svc.Activate(later, token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestResendActivationInvalidatesOldToken(t *testing.T) {
	f := newFixture(t)
	_, oldToken := f.register(t)

	require.NoError(t, f.svc.ResendActivation(f.ctx, "ana@example.cl"))
	require.Len(t, f.notifier.sent, 2)
	newToken, _ := f.notifier.sent[1].Payload["token"].(string)
	require.NotEmpty(t, newToken)
	require.NotEqual(t, oldToken, newToken)

	_, err := f.svc.Activate(f.ctx, oldToken)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = f.svc.Activate(f.ctx, newToken)
	assert.NoError(t, err)
}

func TestResendActivationChecks(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ResendActivation(f.ctx, "ghost@example.cl")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, token := f.register(t)
	_, err = f.svc.Activate(f.ctx, token)
	require.NoError(t, err)

	err = f.svc.ResendActivation(f.ctx, "ana@example.cl")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestCanBorrow(t *testing.T) {
	f := newFixture(t)
	user, token := f.register(t)

	// Inactive account.
	e, err := f.svc.CanBorrow(f.ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, e.Eligible)
	assert.Contains(t, e.Reasons, "account is not active")

	_, err = f.svc.Activate(f.ctx, token)
	require.NoError(t, err)

	e, err = f.svc.CanBorrow(f.ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, e.Eligible)
	assert.Empty(t, e.Reasons)

	// Sanctioned.
	_, err = f.svc.ApplySanction(f.ctx, user.ID, 5, "damaged copy")
	require.NoError(t, err)

	e, err = f.svc.CanBorrow(f.ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, e.Eligible)
	assert.True(t, e.Sanctioned)
	assert.Contains(t, e.Reasons, "sanction in force")
}

func TestCanBorrowCountsLoans(t *testing.T) {
	f := newFixture(t)
	user, token := f.register(t)
	_, err := f.svc.Activate(f.ctx, token)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		loan := &models.Loan{
			Type: models.LoanHome, UserID: user.ID, StaffID: 1,
			LoanedAt: testNow, DueAt: testNow.AddDate(0, 0, 7), State: models.LoanActive,
		}
		require.NoError(t, f.mem.CreateLoan(f.ctx, loan))
	}

	e, err := f.svc.CanBorrow(f.ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, e.Eligible)
	assert.Equal(t, 3, e.ActiveLoans)
	assert.Contains(t, e.Reasons, "active loan limit reached")
}

func TestCanBorrowUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CanBorrow(f.ctx, 404)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestApplySanction(t *testing.T) {
	f := newFixture(t)
	user, _ := f.register(t)

	updated, err := f.svc.ApplySanction(f.ctx, user.ID, 5, "noise complaint")
	require.NoError(t, err)
	require.NotNil(t, updated.SanctionExpiry)
	assert.True(t, updated.SanctionExpiry.Equal(testNow.AddDate(0, 0, 5)))

	// Stacks on the running sanction.
	updated, err = f.svc.ApplySanction(f.ctx, user.ID, 3, "repeat offense")
	require.NoError(t, err)
	assert.True(t, updated.SanctionExpiry.Equal(testNow.AddDate(0, 0, 8)))
}

func TestApplySanctionBounds(t *testing.T) {
	f := newFixture(t)
	user, _ := f.register(t)

	for _, days := range []int{0, -1, 31} {
		_, err := f.svc.ApplySanction(f.ctx, user.ID, days, "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	}
}
