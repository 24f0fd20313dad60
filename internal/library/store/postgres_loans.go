package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"biblio/internal/library/models"
	"biblio/pkg/platform/sentinel"
)

const loanColumns = `id, loan_type, user_id, staff_id, loaned_at, due_at, returned_at, state, notified`

func (p *Postgres) CreateLoan(ctx context.Context, loan *models.Loan) error {
	ex := p.execer(ctx)

	query := `
		INSERT INTO loans (loan_type, user_id, staff_id, loaned_at, due_at, returned_at, state, notified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := ex.QueryRowContext(ctx, query,
		string(loan.Type), loan.UserID, loan.StaffID, loan.LoanedAt,
		loan.DueAt, loan.ReturnedAt, string(loan.State), loan.Notified,
	).Scan(&loan.ID)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}

	for i := range loan.Lines {
		loan.Lines[i].LoanID = loan.ID
		err := ex.QueryRowContext(ctx,
			`INSERT INTO loan_lines (loan_id, copy_id, returned) VALUES ($1, $2, FALSE) RETURNING id`,
			loan.ID, loan.Lines[i].CopyID,
		).Scan(&loan.Lines[i].ID)
		if isUniqueViolation(err) {
			// loan_lines_open_copy_idx: the copy is already on an open
			// loan. The surrounding transaction rolls everything back.
			return sentinel.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert loan line: %w", err)
		}
	}
	return nil
}

func (p *Postgres) FindLoanByID(ctx context.Context, id int64) (*models.Loan, error) {
	row := p.execer(ctx).QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	loan, err := scanLoan(row)
	if err != nil {
		return nil, err
	}
	if err := p.loadLines(ctx, loan); err != nil {
		return nil, err
	}
	return loan, nil
}

func (p *Postgres) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	res, err := p.execer(ctx).ExecContext(ctx, `
		UPDATE loans
		SET returned_at = $2, state = $3, notified = $4
		WHERE id = $1
	`, loan.ID, loan.ReturnedAt, string(loan.State), loan.Notified)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) CountLoansByUserAndState(ctx context.Context, userID int64, state models.LoanState) (int, error) {
	var n int
	err := p.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE user_id = $1 AND state = $2`,
		userID, string(state)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count loans: %w", err)
	}
	return n, nil
}

func (p *Postgres) FindOpenLineByCopy(ctx context.Context, copyID int64) (*models.Loan, *models.LoanLine, error) {
	var line models.LoanLine
	var loanID int64
	err := p.execer(ctx).QueryRowContext(ctx, `
		SELECT ll.id, ll.loan_id, ll.copy_id, ll.returned
		FROM loan_lines ll
		JOIN loans l ON l.id = ll.loan_id
		WHERE ll.copy_id = $1 AND NOT ll.returned AND l.state IN ('active', 'overdue')
	`, copyID).Scan(&line.ID, &loanID, &line.CopyID, &line.Returned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find open loan line: %w", err)
	}
	line.LoanID = loanID

	loan, err := p.FindLoanByID(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}
	return loan, &line, nil
}

func (p *Postgres) MarkLineReturned(ctx context.Context, lineID int64) error {
	res, err := p.execer(ctx).ExecContext(ctx,
		`UPDATE loan_lines SET returned = TRUE WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("mark line returned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) CountOpenLines(ctx context.Context, loanID int64) (int, error) {
	var n int
	err := p.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loan_lines WHERE loan_id = $1 AND NOT returned`, loanID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open lines: %w", err)
	}
	return n, nil
}

func (p *Postgres) SweepOverdue(ctx context.Context, filter *models.LoanType, now time.Time) ([]models.Loan, error) {
	query := `
		UPDATE loans
		SET state = 'overdue'
		WHERE state = 'active' AND due_at < $1
	`
	args := []any{now}
	if filter != nil {
		query += ` AND loan_type = $2`
		args = append(args, string(*filter))
	}
	query += ` RETURNING ` + loanColumns

	rows, err := p.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sweep overdue: %w", err)
	}
	loans, err := collectLoans(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING order is unspecified; normalize for callers.
	sortLoansByID(loans)
	return loans, nil
}

func (p *Postgres) ListLoansByUser(ctx context.Context, userID int64, state *models.LoanState, page, size int) ([]models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE user_id = $1`
	args := []any{userID}
	if state != nil {
		query += fmt.Sprintf(` AND state = $%d`, len(args)+1)
		args = append(args, string(*state))
	}
	query += ` ORDER BY loaned_at DESC, id DESC`
	query, args = appendPagination(query, args, page, size)

	rows, err := p.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list loans by user: %w", err)
	}
	return collectLoans(rows)
}

func (p *Postgres) ListActiveLoans(ctx context.Context, userID *int64, page, size int) ([]models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE state = 'active'`
	var args []any
	if userID != nil {
		query += fmt.Sprintf(` AND user_id = $%d`, len(args)+1)
		args = append(args, *userID)
	}
	query += ` ORDER BY loaned_at DESC, id DESC`
	query, args = appendPagination(query, args, page, size)

	rows, err := p.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}
	return collectLoans(rows)
}

func (p *Postgres) ListOverdueUnnotified(ctx context.Context) ([]models.Loan, error) {
	rows, err := p.execer(ctx).QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE state = 'overdue' AND NOT notified ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list overdue unnotified: %w", err)
	}
	return collectLoans(rows)
}

func (p *Postgres) LoanStats(ctx context.Context) (models.LoanStats, error) {
	var stats models.LoanStats
	err := p.execer(ctx).QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'active'),
			COUNT(*) FILTER (WHERE state = 'overdue'),
			COUNT(*) FILTER (WHERE state = 'returned'),
			COUNT(*) FILTER (WHERE loan_type = 'in_branch'),
			COUNT(*) FILTER (WHERE loan_type = 'home')
		FROM loans
	`).Scan(&stats.Active, &stats.Overdue, &stats.Returned, &stats.InBranch, &stats.Home)
	if err != nil {
		return models.LoanStats{}, fmt.Errorf("loan stats: %w", err)
	}
	return stats, nil
}

func (p *Postgres) loadLines(ctx context.Context, loan *models.Loan) error {
	rows, err := p.execer(ctx).QueryContext(ctx,
		`SELECT id, loan_id, copy_id, returned FROM loan_lines WHERE loan_id = $1 ORDER BY id`,
		loan.ID)
	if err != nil {
		return fmt.Errorf("load loan lines: %w", err)
	}
	defer rows.Close()

	loan.Lines = nil
	for rows.Next() {
		var line models.LoanLine
		if err := rows.Scan(&line.ID, &line.LoanID, &line.CopyID, &line.Returned); err != nil {
			return fmt.Errorf("scan loan line: %w", err)
		}
		loan.Lines = append(loan.Lines, line)
	}
	return rows.Err()
}

func scanLoan(row *sql.Row) (*models.Loan, error) {
	var l models.Loan
	var loanType, state string
	err := row.Scan(&l.ID, &loanType, &l.UserID, &l.StaffID, &l.LoanedAt,
		&l.DueAt, &l.ReturnedAt, &state, &l.Notified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan loan: %w", err)
	}
	l.Type = models.LoanType(loanType)
	l.State = models.LoanState(state)
	return &l, nil
}

func collectLoans(rows *sql.Rows) ([]models.Loan, error) {
	defer rows.Close()
	var out []models.Loan
	for rows.Next() {
		var l models.Loan
		var loanType, state string
		if err := rows.Scan(&l.ID, &loanType, &l.UserID, &l.StaffID, &l.LoanedAt,
			&l.DueAt, &l.ReturnedAt, &state, &l.Notified); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		l.Type = models.LoanType(loanType)
		l.State = models.LoanState(state)
		out = append(out, l)
	}
	return out, rows.Err()
}

func sortLoansByID(loans []models.Loan) {
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
}

func appendPagination(query string, args []any, page, size int) (string, []any) {
	if size <= 0 {
		return query, args
	}
	if page < 1 {
		page = 1
	}
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, size, (page-1)*size)
	return query, args
}
