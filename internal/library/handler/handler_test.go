package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biblio/internal/library/availability"
	"biblio/internal/library/copies"
	"biblio/internal/library/loans"
	"biblio/internal/library/models"
	"biblio/internal/library/notify"
	"biblio/internal/library/reservations"
	"biblio/internal/library/returns"
	"biblio/internal/library/store"
	"biblio/internal/library/users"
	"biblio/internal/platform/token"
	"biblio/pkg/requestcontext"
)

type testServer struct {
	srv      *httptest.Server
	mem      *store.Memory
	staff    string // librarian bearer token
	patron   string
	patronID int64
	staffID  int64
	notifier *recordingSink
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := &recordingSink{}

	tracker := availability.NewTracker(mem, mem)
	copySvc := copies.NewService(mem, mem, mem, mem, log, nil)
	loanSvc := loans.NewService(mem, mem, mem, mem, mem, mem, log, nil)
	returnSvc := returns.NewService(mem, mem, mem, mem, mem, log, nil)
	reservationSvc := reservations.NewService(mem, mem, mem, mem, log, nil)
	userSvc := users.NewService(mem, mem, mem, mem, sink, 24*time.Hour, log, nil)
	reminders := notify.NewReminders(sink, mem, log, 2)

	manager := token.NewManager([]byte("handler-test-key"), time.Hour)
	h := New(log, manager, tracker, copySvc, loanSvc, returnSvc, reservationSvc, userSvc, reminders)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	staff := &models.User{RUT: "7654321-6", FirstNames: "Luis", LastNames: "Soto", Email: "luis@example.cl", Role: "librarian", Active: true}
	require.NoError(t, mem.CreateUser(ctx, staff))
	patron := &models.User{RUT: "12345678-5", FirstNames: "Ana", LastNames: "Rojas", Email: "ana@example.cl", Role: "user", Active: true}
	require.NoError(t, mem.CreateUser(ctx, patron))

	now := time.Now()
	staffToken, err := manager.Issue(staff.ID, requestcontext.RoleLibrarian, now)
	require.NoError(t, err)
	patronToken, err := manager.Issue(patron.ID, requestcontext.RoleUser, now)
	require.NoError(t, err)

	return &testServer{
		srv:      srv,
		mem:      mem,
		staff:    staffToken,
		patron:   patronToken,
		patronID: patron.ID,
		staffID:  staff.ID,
		notifier: sink,
	}
}

type recordingSink struct {
	sent []string
}

func (s *recordingSink) Notify(_ context.Context, _ int64, templateID string, payload map[string]any) (bool, error) {
	s.sent = append(s.sent, templateID)
	if tok, ok := payload["token"].(string); ok {
		s.sent = append(s.sent, tok)
	}
	return true, nil
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) addStock(t *testing.T, docType string, copyCount int) (int64, []int64, []string) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/documents", ts.staff, map[string]any{
		"title": "La casa de los espíritus", "author": "Allende", "type": docType,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[struct {
		ID int64 `json:"ID"`
	}](t, resp)

	var ids []int64
	var codes []string
	for i := 0; i < copyCount; i++ {
		code := fmt.Sprintf("LCE-%d-%d", doc.ID, i)
		resp := ts.do(t, http.MethodPost, "/copies", ts.staff, map[string]any{
			"document_id": doc.ID, "code": code, "location": "shelf 3",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		c := decode[struct {
			ID int64 `json:"ID"`
		}](t, resp)
		ids = append(ids, c.ID)
		codes = append(codes, code)
	}
	return doc.ID, ids, codes
}

func TestAuthGates(t *testing.T) {
	ts := newTestServer(t)

	// No token at all.
	resp := ts.do(t, http.MethodGet, "/documents/1/availability", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Patron token on a librarian route.
	resp = ts.do(t, http.MethodPost, "/loans", ts.patron, map[string]any{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Garbage token.
	resp = ts.do(t, http.MethodGet, "/documents/1/availability", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterAndActivateUser(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/users", "", map[string]any{
		"rut": "1000005-K", "first_names": "Eva", "last_names": "Paz",
		"email": "eva@example.cl", "password": "correcthorse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user := decode[map[string]any](t, resp)
	assert.Equal(t, false, user["active"])

	// Activation token was handed to the sink as the payload token.
	require.NotEmpty(t, ts.notifier.sent)
	activation := ts.notifier.sent[len(ts.notifier.sent)-1]

	resp = ts.do(t, http.MethodPost, "/users/activate", "", map[string]any{"token": activation})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user = decode[map[string]any](t, resp)
	assert.Equal(t, true, user["active"])

	// Duplicate registration conflicts.
	resp = ts.do(t, http.MethodPost, "/users", "", map[string]any{
		"rut": "1000005-K", "first_names": "Eva", "last_names": "Paz",
		"email": "eva@example.cl", "password": "correcthorse",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoanAndReturnFlow(t *testing.T) {
	ts := newTestServer(t)
	docID, copyIDs, codes := ts.addStock(t, "book", 2)

	resp := ts.do(t, http.MethodPost, "/loans", ts.staff, map[string]any{
		"user_id": ts.patronID, "type": "home", "copy_ids": copyIDs,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Both copies now out; availability reflects it.
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/documents/%d/availability", docID), ts.patron, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[map[string]any](t, resp)
	assert.Equal(t, float64(0), summary["available"])

	// Lending an already-loaned copy is rejected.
	resp = ts.do(t, http.MethodPost, "/loans", ts.staff, map[string]any{
		"user_id": ts.patronID, "type": "home", "copy_ids": []int64{copyIDs[0]},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Return the first copy; loan stays open.
	resp = ts.do(t, http.MethodPost, "/returns", ts.staff, map[string]any{"copy_code": codes[0]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[map[string]any](t, resp)
	assert.Equal(t, "active", result["loan_state"])
	assert.Equal(t, float64(0), result["days_late"])

	// Return the second; loan closes.
	resp = ts.do(t, http.MethodPost, "/returns", ts.staff, map[string]any{"copy_code": codes[1]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result = decode[map[string]any](t, resp)
	assert.Equal(t, "returned", result["loan_state"])
}

func TestLoanErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	_, copyIDs, _ := ts.addStock(t, "book", 1)

	// Unknown user -> 404.
	resp := ts.do(t, http.MethodPost, "/loans", ts.staff, map[string]any{
		"user_id": 9999, "type": "home", "copy_ids": copyIDs,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Bad loan type -> 400.
	resp = ts.do(t, http.MethodPost, "/loans", ts.staff, map[string]any{
		"user_id": ts.patronID, "type": "weekend", "copy_ids": copyIDs,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Sanctioned user -> 403.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/users/%d/sanction", ts.patronID), ts.staff, map[string]any{
		"days": 5, "reason": "test",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/loans", ts.staff, map[string]any{
		"user_id": ts.patronID, "type": "home", "copy_ids": copyIDs,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestReservationEndpoints(t *testing.T) {
	ts := newTestServer(t)
	docID, _, _ := ts.addStock(t, "book", 1)
	future := time.Now().AddDate(0, 0, 3).Format("2006-01-02")

	resp := ts.do(t, http.MethodPost, "/reservations", ts.patron, map[string]any{
		"document_id": docID, "reserved_for": future,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	id := int64(created["ID"].(float64))

	// Duplicate -> 409.
	resp = ts.do(t, http.MethodPost, "/reservations", ts.patron, map[string]any{
		"document_id": docID, "reserved_for": future,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Past date -> 403 (policy violation).
	resp = ts.do(t, http.MethodPost, "/reservations", ts.patron, map[string]any{
		"document_id": docID, "reserved_for": "2020-01-01",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Staff activates then completes.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/reservations/%d/activate", id), ts.staff, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/reservations/%d/complete", id), ts.staff, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Completing twice -> 422.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/reservations/%d/complete", id), ts.staff, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCancelOwnershipRule(t *testing.T) {
	ts := newTestServer(t)
	docID, _, _ := ts.addStock(t, "book", 1)
	future := time.Now().AddDate(0, 0, 3).Format("2006-01-02")

	// Staff creates a reservation for themselves.
	resp := ts.do(t, http.MethodPost, "/reservations", ts.staff, map[string]any{
		"document_id": docID, "reserved_for": future,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	id := int64(created["ID"].(float64))

	// The patron cannot cancel someone else's reservation.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/reservations/%d/cancel", id), ts.patron, map[string]any{"reason": "nope"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Staff can.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/reservations/%d/cancel", id), ts.staff, map[string]any{"reason": "desk decision"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCopyStateEndpoints(t *testing.T) {
	ts := newTestServer(t)
	_, copyIDs, codes := ts.addStock(t, "book", 1)

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/copies/%d/state", copyIDs[0]), ts.staff, map[string]any{
		"state": "maintenance", "reason": "water damage",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Illegal transition -> 422.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/copies/%d/state", copyIDs[0]), ts.staff, map[string]any{
		"state": "loaned",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/copies/code/"+codes[0], ts.patron, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/copies/%d/history", copyIDs[0]), ts.staff, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]map[string]any](t, resp)
	assert.Len(t, history, 1)
}

func TestSweepAndReminders(t *testing.T) {
	ts := newTestServer(t)
	_, copyIDs, _ := ts.addStock(t, "multimedia", 1)

	resp := ts.do(t, http.MethodPost, "/loans", ts.staff, map[string]any{
		"user_id": ts.patronID, "type": "home", "copy_ids": copyIDs,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Nothing due yet.
	resp = ts.do(t, http.MethodPost, "/loans/sweep-overdue", ts.staff, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	swept := decode[map[string]any](t, resp)
	assert.Equal(t, float64(0), swept["marked"])

	resp = ts.do(t, http.MethodPost, "/notifications/overdue-reminders", ts.staff, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	batch := decode[map[string]any](t, resp)
	assert.Equal(t, float64(0), batch["eligible"])

	resp = ts.do(t, http.MethodGet, "/loans/stats", ts.staff, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCanBorrowEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, fmt.Sprintf("/users/%d/can-borrow", ts.patronID), ts.patron, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	e := decode[map[string]any](t, resp)
	assert.Equal(t, true, e["eligible"])
}
