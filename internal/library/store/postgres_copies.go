package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biblio/internal/library/models"
	"biblio/pkg/platform/sentinel"
)

const copyColumns = `id, document_id, code, state, location, created_at`

func (p *Postgres) CreateCopy(ctx context.Context, copy *models.Copy) error {
	query := `
		INSERT INTO copies (document_id, code, state, location, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := p.execer(ctx).QueryRowContext(ctx, query,
		copy.DocumentID, copy.Code, string(copy.State), copy.Location, copy.CreatedAt,
	).Scan(&copy.ID)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert copy: %w", err)
	}
	return nil
}

func (p *Postgres) FindCopyByID(ctx context.Context, id int64) (*models.Copy, error) {
	row := p.execer(ctx).QueryRowContext(ctx,
		`SELECT `+copyColumns+` FROM copies WHERE id = $1`, id)
	return scanCopy(row)
}

func (p *Postgres) FindCopyByCode(ctx context.Context, code string) (*models.Copy, error) {
	row := p.execer(ctx).QueryRowContext(ctx,
		`SELECT `+copyColumns+` FROM copies WHERE code = $1`, code)
	return scanCopy(row)
}

func (p *Postgres) ListCopiesByDocument(ctx context.Context, documentID int64) ([]models.Copy, error) {
	rows, err := p.execer(ctx).QueryContext(ctx,
		`SELECT `+copyColumns+` FROM copies WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list copies: %w", err)
	}
	return collectCopies(rows)
}

func (p *Postgres) ListAvailableCopies(ctx context.Context, documentID int64, limit int) ([]models.Copy, error) {
	query := `
		SELECT ` + copyColumns + `
		FROM copies
		WHERE document_id = $1 AND state = 'available'
		ORDER BY id
	`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list available copies: %w", err)
	}
	return collectCopies(rows)
}

func (p *Postgres) CountCopiesByState(ctx context.Context, documentID int64) (map[models.CopyState]int, error) {
	rows, err := p.execer(ctx).QueryContext(ctx,
		`SELECT state, COUNT(*) FROM copies WHERE document_id = $1 GROUP BY state`, documentID)
	if err != nil {
		return nil, fmt.Errorf("count copies: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.CopyState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan copy count: %w", err)
		}
		counts[models.CopyState(state)] = n
	}
	return counts, rows.Err()
}

func (p *Postgres) UpdateCopyState(ctx context.Context, copyID int64, from, to models.CopyState) error {
	res, err := p.execer(ctx).ExecContext(ctx,
		`UPDATE copies SET state = $1 WHERE id = $2 AND state = $3`,
		string(to), copyID, string(from))
	if err != nil {
		return fmt.Errorf("update copy state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing copy from a failed state guard.
		var exists bool
		err := p.execer(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM copies WHERE id = $1)`, copyID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check copy exists: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func scanCopy(row *sql.Row) (*models.Copy, error) {
	var c models.Copy
	var state string
	err := row.Scan(&c.ID, &c.DocumentID, &c.Code, &state, &c.Location, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan copy: %w", err)
	}
	c.State = models.CopyState(state)
	return &c, nil
}

func collectCopies(rows *sql.Rows) ([]models.Copy, error) {
	defer rows.Close()
	var out []models.Copy
	for rows.Next() {
		var c models.Copy
		var state string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Code, &state, &c.Location, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan copy: %w", err)
		}
		c.State = models.CopyState(state)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendHistory(ctx context.Context, entry *models.StateHistory) error {
	query := `
		INSERT INTO copy_state_history (copy_id, prior_state, new_state, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := p.execer(ctx).QueryRowContext(ctx, query,
		entry.CopyID, string(entry.PriorState), string(entry.NewState),
		entry.ActorID, entry.Reason, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert state history: %w", err)
	}
	return nil
}

func (p *Postgres) ListHistoryByCopy(ctx context.Context, copyID int64) ([]models.StateHistory, error) {
	rows, err := p.execer(ctx).QueryContext(ctx, `
		SELECT id, copy_id, prior_state, new_state, actor_id, reason, created_at
		FROM copy_state_history
		WHERE copy_id = $1
		ORDER BY id
	`, copyID)
	if err != nil {
		return nil, fmt.Errorf("list state history: %w", err)
	}
	defer rows.Close()

	var out []models.StateHistory
	for rows.Next() {
		var h models.StateHistory
		var prior, next string
		if err := rows.Scan(&h.ID, &h.CopyID, &prior, &next, &h.ActorID, &h.Reason, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan state history: %w", err)
		}
		h.PriorState = models.CopyState(prior)
		h.NewState = models.CopyState(next)
		out = append(out, h)
	}
	return out, rows.Err()
}
