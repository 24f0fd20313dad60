package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biblio/internal/library/models"
	"biblio/pkg/platform/sentinel"
)

const reservationColumns = `id, user_id, document_id, reserved_for, state, cancel_reason, created_at, updated_at`

func (p *Postgres) CreateReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (user_id, document_id, reserved_for, state, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := p.execer(ctx).QueryRowContext(ctx, query,
		r.UserID, r.DocumentID, r.ReservedFor, string(r.State),
		r.CancelReason, r.CreatedAt, r.UpdatedAt,
	).Scan(&r.ID)
	if isUniqueViolation(err) {
		// reservations_open_user_doc_idx: non-terminal reservation already
		// held for this document.
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (p *Postgres) FindReservationByID(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	var state string
	err := p.execer(ctx).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id,
	).Scan(&r.ID, &r.UserID, &r.DocumentID, &r.ReservedFor, &state,
		&r.CancelReason, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	r.State = models.ReservationState(state)
	return &r, nil
}

func (p *Postgres) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	res, err := p.execer(ctx).ExecContext(ctx, `
		UPDATE reservations
		SET state = $2, cancel_reason = $3, updated_at = $4
		WHERE id = $1
	`, r.ID, string(r.State), r.CancelReason, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) ListReservationsByUser(ctx context.Context, userID int64, state *models.ReservationState) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = $1`
	args := []any{userID}
	if state != nil {
		query += ` AND state = $2`
		args = append(args, string(*state))
	}
	query += ` ORDER BY id`

	rows, err := p.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		var r models.Reservation
		var st string
		if err := rows.Scan(&r.ID, &r.UserID, &r.DocumentID, &r.ReservedFor, &st,
			&r.CancelReason, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		r.State = models.ReservationState(st)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) ReservationStats(ctx context.Context) (models.ReservationStats, error) {
	var stats models.ReservationStats
	err := p.execer(ctx).QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE state = 'pending'),
			COUNT(*) FILTER (WHERE state = 'active'),
			COUNT(*) FILTER (WHERE state = 'completed'),
			COUNT(*) FILTER (WHERE state = 'cancelled')
		FROM reservations
	`).Scan(&stats.Total, &stats.Pending, &stats.Active, &stats.Completed, &stats.Cancelled)
	if err != nil {
		return models.ReservationStats{}, fmt.Errorf("reservation stats: %w", err)
	}
	return stats, nil
}
