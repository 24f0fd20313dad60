package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biblio/internal/library/models"
	"biblio/pkg/platform/sentinel"
)

func (p *Postgres) AppendNotification(ctx context.Context, entry *models.NotificationLog) error {
	query := `
		INSERT INTO notification_log (user_id, template, recipient, sent, error_message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := p.execer(ctx).QueryRowContext(ctx, query,
		entry.UserID, entry.Template, entry.Recipient, entry.Sent,
		entry.Error, entry.SentAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

func (p *Postgres) ListNotificationsByUser(ctx context.Context, userID int64) ([]models.NotificationLog, error) {
	rows, err := p.execer(ctx).QueryContext(ctx, `
		SELECT id, user_id, template, recipient, sent, error_message, sent_at
		FROM notification_log
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notification log: %w", err)
	}
	defer rows.Close()

	var out []models.NotificationLog
	for rows.Next() {
		var n models.NotificationLog
		if err := rows.Scan(&n.ID, &n.UserID, &n.Template, &n.Recipient, &n.Sent, &n.Error, &n.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveToken(ctx context.Context, token *models.ActivationToken) error {
	query := `
		INSERT INTO activation_tokens (token, user_id, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.execer(ctx).ExecContext(ctx, query,
		token.Token, token.UserID, token.ExpiresAt, token.Used, token.CreatedAt)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert activation token: %w", err)
	}
	return nil
}

func (p *Postgres) FindToken(ctx context.Context, token string) (*models.ActivationToken, error) {
	var t models.ActivationToken
	err := p.execer(ctx).QueryRowContext(ctx, `
		SELECT token, user_id, expires_at, used, created_at
		FROM activation_tokens
		WHERE token = $1
	`, token).Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.Used, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan activation token: %w", err)
	}
	return &t, nil
}

func (p *Postgres) MarkTokenUsed(ctx context.Context, token string) error {
	res, err := p.execer(ctx).ExecContext(ctx,
		`UPDATE activation_tokens SET used = TRUE WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) InvalidateUserTokens(ctx context.Context, userID int64) error {
	_, err := p.execer(ctx).ExecContext(ctx,
		`UPDATE activation_tokens SET used = TRUE WHERE user_id = $1 AND NOT used`, userID)
	if err != nil {
		return fmt.Errorf("invalidate tokens: %w", err)
	}
	return nil
}
