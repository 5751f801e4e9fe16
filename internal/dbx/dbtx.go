// Package dbx holds the small database/sql helpers shared by the SQL
// record repositories.
package dbx

import (
	"context"
	"database/sql"
	"errors"
)

// DBTX is the subset of database/sql the repositories use.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ExecCount runs a statement and returns how many rows it touched.
func ExecCount(ctx context.Context, db DBTX, query string, args ...any) (int64, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Exists reports whether query returns at least one row. The query
// should select a single column.
func Exists(ctx context.Context, db DBTX, query string, args ...any) (bool, error) {
	var discard any
	err := db.QueryRowContext(ctx, query, args...).Scan(&discard)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

// Ping checks the connection with a trivial round trip. It works on
// transactions too, unlike (*sql.DB).PingContext.
func Ping(ctx context.Context, db DBTX) error {
	var one int
	return db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}
