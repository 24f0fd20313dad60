// Package tx carries the ambient SQL transaction through context. The
// transactional runner opens one per service operation and stashes it here;
// postgres stores pick it up so every statement of a multi-write operation
// such as loan registration lands in the same transaction.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts the ambient SQL transaction, if one is present. Stores fall
// back to the plain connection pool when it is absent.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}
