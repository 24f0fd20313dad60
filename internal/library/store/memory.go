package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"biblio/internal/library/models"
	"biblio/pkg/platform/sentinel"
)

// Memory implements every store contract in process memory. It backs unit
// tests and local development. It intentionally favors clarity over
// performance.
type Memory struct {
	// txMu serializes RunInTx calls so a snapshot/restore pair cannot
	// interleave with another transaction.
	txMu sync.Mutex

	mu            sync.RWMutex
	users         map[int64]models.User
	documents     map[int64]models.Document
	copies        map[int64]models.Copy
	loans         map[int64]models.Loan
	reservations  map[int64]models.Reservation
	history       []models.StateHistory
	notifications []models.NotificationLog
	tokens        map[string]models.ActivationToken
	seq           map[string]int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:        make(map[int64]models.User),
		documents:    make(map[int64]models.Document),
		copies:       make(map[int64]models.Copy),
		loans:        make(map[int64]models.Loan),
		reservations: make(map[int64]models.Reservation),
		tokens:       make(map[string]models.ActivationToken),
		seq:          make(map[string]int64),
	}
}

func (m *Memory) nextID(table string) int64 {
	m.seq[table]++
	return m.seq[table]
}

// RunInTx executes fn as one atomic unit. Transactions are serialized; on
// error the whole store state is restored to the pre-fn snapshot, so no
// partial writes survive. Reads from other goroutines during fn may observe
// intermediate state; that is acceptable for a test double.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users         map[int64]models.User
	documents     map[int64]models.Document
	copies        map[int64]models.Copy
	loans         map[int64]models.Loan
	reservations  map[int64]models.Reservation
	history       []models.StateHistory
	notifications []models.NotificationLog
	tokens        map[string]models.ActivationToken
	seq           map[string]int64
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := memorySnapshot{
		users:         make(map[int64]models.User, len(m.users)),
		documents:     make(map[int64]models.Document, len(m.documents)),
		copies:        make(map[int64]models.Copy, len(m.copies)),
		loans:         make(map[int64]models.Loan, len(m.loans)),
		reservations:  make(map[int64]models.Reservation, len(m.reservations)),
		history:       append([]models.StateHistory(nil), m.history...),
		notifications: append([]models.NotificationLog(nil), m.notifications...),
		tokens:        make(map[string]models.ActivationToken, len(m.tokens)),
		seq:           make(map[string]int64, len(m.seq)),
	}
	for k, v := range m.users {
		snap.users[k] = v
	}
	for k, v := range m.documents {
		snap.documents[k] = v
	}
	for k, v := range m.copies {
		snap.copies[k] = v
	}
	for k, v := range m.loans {
		snap.loans[k] = cloneLoan(v)
	}
	for k, v := range m.reservations {
		snap.reservations[k] = v
	}
	for k, v := range m.tokens {
		snap.tokens[k] = v
	}
	for k, v := range m.seq {
		snap.seq[k] = v
	}
	return snap
}

func (m *Memory) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = snap.users
	m.documents = snap.documents
	m.copies = snap.copies
	m.loans = snap.loans
	m.reservations = snap.reservations
	m.history = snap.history
	m.notifications = snap.notifications
	m.tokens = snap.tokens
	m.seq = snap.seq
}

func cloneLoan(l models.Loan) models.Loan {
	out := l
	out.Lines = append([]models.LoanLine(nil), l.Lines...)
	if l.ReturnedAt != nil {
		t := *l.ReturnedAt
		out.ReturnedAt = &t
	}
	return out
}

// --- UserStore ---

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.RUT == user.RUT || u.Email == user.Email {
			return sentinel.ErrConflict
		}
	}
	user.ID = m.nextID("users")
	m.users[user.ID] = *user
	return nil
}

func (m *Memory) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) FindUserByRUT(_ context.Context, rut string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.RUT == rut {
			u := u
			return &u, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) UpdateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return sentinel.ErrNotFound
	}
	m.users[user.ID] = *user
	return nil
}

// --- DocumentStore ---

func (m *Memory) CreateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ID = m.nextID("documents")
	m.documents[doc.ID] = *doc
	return nil
}

func (m *Memory) FindDocumentByID(_ context.Context, id int64) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.documents[id]; ok {
		return &d, nil
	}
	return nil, sentinel.ErrNotFound
}

// --- CopyStore ---

func (m *Memory) CreateCopy(_ context.Context, copy *models.Copy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.copies {
		if c.Code == copy.Code {
			return sentinel.ErrConflict
		}
	}
	copy.ID = m.nextID("copies")
	m.copies[copy.ID] = *copy
	return nil
}

func (m *Memory) FindCopyByID(_ context.Context, id int64) (*models.Copy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.copies[id]; ok {
		return &c, nil
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) FindCopyByCode(_ context.Context, code string) (*models.Copy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.copies {
		if c.Code == code {
			c := c
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) ListCopiesByDocument(_ context.Context, documentID int64) ([]models.Copy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Copy
	for _, c := range m.copies {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sortCopiesByID(out)
	return out, nil
}

func (m *Memory) ListAvailableCopies(_ context.Context, documentID int64, limit int) ([]models.Copy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Copy
	for _, c := range m.copies {
		if c.DocumentID == documentID && c.State == models.CopyAvailable {
			out = append(out, c)
		}
	}
	sortCopiesByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountCopiesByState(_ context.Context, documentID int64) (map[models.CopyState]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.CopyState]int)
	for _, c := range m.copies {
		if c.DocumentID == documentID {
			counts[c.State]++
		}
	}
	return counts, nil
}

func (m *Memory) UpdateCopyState(_ context.Context, copyID int64, from, to models.CopyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.copies[copyID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if c.State != from {
		return sentinel.ErrInvalidState
	}
	c.State = to
	m.copies[copyID] = c
	return nil
}

func sortCopiesByID(copies []models.Copy) {
	sort.Slice(copies, func(i, j int) bool { return copies[i].ID < copies[j].ID })
}

// --- HistoryStore ---

func (m *Memory) AppendHistory(_ context.Context, entry *models.StateHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.nextID("history")
	m.history = append(m.history, *entry)
	return nil
}

func (m *Memory) ListHistoryByCopy(_ context.Context, copyID int64) ([]models.StateHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StateHistory
	for _, h := range m.history {
		if h.CopyID == copyID {
			out = append(out, h)
		}
	}
	return out, nil
}

// --- LoanStore ---

func (m *Memory) CreateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Commit-time guard for the one-open-line-per-copy invariant, mirroring
	// the partial unique index in the postgres schema.
	for _, line := range loan.Lines {
		for _, existing := range m.loans {
			if !existing.State.IsOpen() {
				continue
			}
			for _, el := range existing.Lines {
				if !el.Returned && el.CopyID == line.CopyID {
					return sentinel.ErrConflict
				}
			}
		}
	}

	loan.ID = m.nextID("loans")
	for i := range loan.Lines {
		loan.Lines[i].ID = m.nextID("loan_lines")
		loan.Lines[i].LoanID = loan.ID
	}
	m.loans[loan.ID] = cloneLoan(*loan)
	return nil
}

func (m *Memory) FindLoanByID(_ context.Context, id int64) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.loans[id]; ok {
		l = cloneLoan(l)
		return &l, nil
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) UpdateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.loans[loan.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	// Lines are owned by their own mutators; the caller's snapshot may be
	// stale, same as the postgres UPDATE which never touches loan_lines.
	updated := cloneLoan(*loan)
	updated.Lines = stored.Lines
	m.loans[loan.ID] = updated
	return nil
}

func (m *Memory) CountLoansByUserAndState(_ context.Context, userID int64, state models.LoanState) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, l := range m.loans {
		if l.UserID == userID && l.State == state {
			count++
		}
	}
	return count, nil
}

func (m *Memory) FindOpenLineByCopy(_ context.Context, copyID int64) (*models.Loan, *models.LoanLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.loans {
		if !l.State.IsOpen() {
			continue
		}
		for _, line := range l.Lines {
			if !line.Returned && line.CopyID == copyID {
				loan := cloneLoan(l)
				line := line
				return &loan, &line, nil
			}
		}
	}
	return nil, nil, sentinel.ErrNotFound
}

func (m *Memory) MarkLineReturned(_ context.Context, lineID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, l := range m.loans {
		for i := range l.Lines {
			if l.Lines[i].ID == lineID {
				l.Lines[i].Returned = true
				m.loans[id] = l
				return nil
			}
		}
	}
	return sentinel.ErrNotFound
}

func (m *Memory) CountOpenLines(_ context.Context, loanID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[loanID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	count := 0
	for _, line := range l.Lines {
		if !line.Returned {
			count++
		}
	}
	return count, nil
}

func (m *Memory) SweepOverdue(_ context.Context, filter *models.LoanType, now time.Time) ([]models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected []models.Loan
	for id, l := range m.loans {
		if l.State != models.LoanActive {
			continue
		}
		if filter != nil && l.Type != *filter {
			continue
		}
		if !l.DueAt.Before(now) {
			continue
		}
		l.State = models.LoanOverdue
		m.loans[id] = l
		affected = append(affected, cloneLoan(l))
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i].ID < affected[j].ID })
	return affected, nil
}

func (m *Memory) ListLoansByUser(_ context.Context, userID int64, state *models.LoanState, page, size int) ([]models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Loan
	for _, l := range m.loans {
		if l.UserID != userID {
			continue
		}
		if state != nil && l.State != *state {
			continue
		}
		out = append(out, cloneLoan(l))
	}
	return paginateLoans(out, page, size), nil
}

func (m *Memory) ListActiveLoans(_ context.Context, userID *int64, page, size int) ([]models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Loan
	for _, l := range m.loans {
		if l.State != models.LoanActive {
			continue
		}
		if userID != nil && l.UserID != *userID {
			continue
		}
		out = append(out, cloneLoan(l))
	}
	return paginateLoans(out, page, size), nil
}

func (m *Memory) ListOverdueUnnotified(_ context.Context) ([]models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Loan
	for _, l := range m.loans {
		if l.State == models.LoanOverdue && !l.Notified {
			out = append(out, cloneLoan(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) LoanStats(_ context.Context) (models.LoanStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats models.LoanStats
	for _, l := range m.loans {
		switch l.State {
		case models.LoanActive:
			stats.Active++
		case models.LoanOverdue:
			stats.Overdue++
		case models.LoanReturned:
			stats.Returned++
		}
		switch l.Type {
		case models.LoanInBranch:
			stats.InBranch++
		case models.LoanHome:
			stats.Home++
		}
	}
	return stats, nil
}

// paginateLoans orders newest-first and applies 1-based page windows, same
// semantics as the postgres queries.
func paginateLoans(loans []models.Loan, page, size int) []models.Loan {
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].LoanedAt.Equal(loans[j].LoanedAt) {
			return loans[i].ID > loans[j].ID
		}
		return loans[i].LoanedAt.After(loans[j].LoanedAt)
	})
	if size <= 0 {
		return loans
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(loans) {
		return nil
	}
	end := start + size
	if end > len(loans) {
		end = len(loans)
	}
	return loans[start:end]
}

// --- ReservationStore ---

func (m *Memory) CreateReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reservations {
		if existing.UserID == r.UserID && existing.DocumentID == r.DocumentID && !existing.State.IsTerminal() {
			return sentinel.ErrConflict
		}
	}
	r.ID = m.nextID("reservations")
	m.reservations[r.ID] = *r
	return nil
}

func (m *Memory) FindReservationByID(_ context.Context, id int64) (*models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.reservations[id]; ok {
		return &r, nil
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) UpdateReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[r.ID]; !ok {
		return sentinel.ErrNotFound
	}
	m.reservations[r.ID] = *r
	return nil
}

func (m *Memory) ListReservationsByUser(_ context.Context, userID int64, state *models.ReservationState) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Reservation
	for _, r := range m.reservations {
		if r.UserID != userID {
			continue
		}
		if state != nil && r.State != *state {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ReservationStats(_ context.Context) (models.ReservationStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats models.ReservationStats
	for _, r := range m.reservations {
		stats.Total++
		switch r.State {
		case models.ReservationPending:
			stats.Pending++
		case models.ReservationActive:
			stats.Active++
		case models.ReservationCompleted:
			stats.Completed++
		case models.ReservationCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// --- NotificationStore ---

func (m *Memory) AppendNotification(_ context.Context, entry *models.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.nextID("notifications")
	m.notifications = append(m.notifications, *entry)
	return nil
}

func (m *Memory) ListNotificationsByUser(_ context.Context, userID int64) ([]models.NotificationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.NotificationLog
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

// --- TokenStore ---

func (m *Memory) SaveToken(_ context.Context, token *models.ActivationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Token] = *token
	return nil
}

func (m *Memory) FindToken(_ context.Context, token string) (*models.ActivationToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tokens[token]; ok {
		return &t, nil
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) MarkTokenUsed(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return sentinel.ErrNotFound
	}
	t.Used = true
	m.tokens[token] = t
	return nil
}

func (m *Memory) InvalidateUserTokens(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, t := range m.tokens {
		if t.UserID == userID {
			t.Used = true
			m.tokens[k] = t
		}
	}
	return nil
}
