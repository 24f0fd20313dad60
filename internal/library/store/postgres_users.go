package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biblio/internal/library/models"
	"biblio/pkg/platform/sentinel"
)

const userColumns = `id, rut, first_names, last_names, email, password_hash, role, active, sanction_expiry, created_at, updated_at`

func (p *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (rut, first_names, last_names, email, password_hash, role, active, sanction_expiry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := p.execer(ctx).QueryRowContext(ctx, query,
		user.RUT, user.FirstNames, user.LastNames, user.Email,
		user.PasswordHash, user.Role, user.Active, user.SanctionExpiry,
		user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *Postgres) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := p.execer(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (p *Postgres) FindUserByRUT(ctx context.Context, rut string) (*models.User, error) {
	row := p.execer(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE rut = $1`, rut)
	return scanUser(row)
}

func (p *Postgres) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := p.execer(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (p *Postgres) UpdateUser(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET first_names = $2, last_names = $3, email = $4, password_hash = $5,
		    role = $6, active = $7, sanction_expiry = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := p.execer(ctx).ExecContext(ctx, query,
		user.ID, user.FirstNames, user.LastNames, user.Email,
		user.PasswordHash, user.Role, user.Active, user.SanctionExpiry,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.RUT, &u.FirstNames, &u.LastNames, &u.Email,
		&u.PasswordHash, &u.Role, &u.Active, &u.SanctionExpiry,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (p *Postgres) CreateDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (title, author, doc_type, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := p.execer(ctx).QueryRowContext(ctx, query,
		doc.Title, doc.Author, string(doc.Type), doc.Active, doc.CreatedAt,
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (p *Postgres) FindDocumentByID(ctx context.Context, id int64) (*models.Document, error) {
	var d models.Document
	var docType string
	err := p.execer(ctx).QueryRowContext(ctx,
		`SELECT id, title, author, doc_type, active, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.Author, &docType, &d.Active, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Type = models.DocumentType(docType)
	return &d, nil
}
