// Package backend is the client of the managed relational backend: per-table
// reads with equality, membership and ordering, writes by id, and named remote
// procedures for multi-step server-side operations.
package backend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the client needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Client executes statements against the backend.
type Client struct {
	db DB
}

// New constructs a Client.
func New(db DB) *Client {
	return &Client{db: db}
}

// Query runs st and returns the open rows. Callers must close them.
func (c *Client) Query(ctx context.Context, st Statement) (pgx.Rows, error) {
	sql, args, err := st.Build()
	if err != nil {
		return nil, err
	}
	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, Wrap(opName(st), err)
	}
	return rows, nil
}

// QueryRow runs st expecting a single row.
func (c *Client) QueryRow(ctx context.Context, st Statement) (pgx.Row, error) {
	sql, args, err := st.Build()
	if err != nil {
		return nil, err
	}
	return c.db.QueryRow(ctx, sql, args...), nil
}

// Exec runs a write and reports the number of affected rows.
func (c *Client) Exec(ctx context.Context, st Statement) (int64, error) {
	sql, args, err := st.Build()
	if err != nil {
		return 0, err
	}
	tag, err := c.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, Wrap(opName(st), err)
	}
	return tag.RowsAffected(), nil
}

// Rows runs st and maps every row onto T by column name.
func Rows[T any](ctx context.Context, c *Client, st Statement) ([]T, error) {
	rows, err := c.Query(ctx, st)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, Wrap(opName(st), err)
	}
	return out, nil
}

// One runs st and maps exactly one row onto T. No rows yields ErrNotFound.
func One[T any](ctx context.Context, c *Client, st Statement) (T, error) {
	rows, err := c.Query(ctx, st)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[T])
	if err != nil {
		var zero T
		return zero, Wrap(opName(st), err)
	}
	return out, nil
}

// Scalar runs st and scans the single column of the single row into T.
func Scalar[T any](ctx context.Context, c *Client, st Statement) (T, error) {
	var out T
	row, err := c.QueryRow(ctx, st)
	if err != nil {
		return out, err
	}
	if err := row.Scan(&out); err != nil {
		return out, Wrap(opName(st), err)
	}
	return out, nil
}

func opName(st Statement) string {
	switch s := st.(type) {
	case Select:
		return "select " + s.Table
	case Insert:
		return "insert " + s.Table
	case Update:
		return "update " + s.Table
	case Delete:
		return "delete " + s.Table
	case Call:
		return "call " + s.Function
	default:
		return fmt.Sprintf("%T", st)
	}
}
