package backend

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the read returned no rows.
	ErrNotFound = errors.New("backend: not found")
	// ErrInvalidStatement indicates a statement could not be built.
	ErrInvalidStatement = errors.New("backend: invalid statement")
)

const codeUniqueViolation = "23505"

// Error is a structured failure reported by the backend itself, as opposed to
// a transport failure. Message is meant for humans.
type Error struct {
	Op      string
	Code    string
	Message string
	Detail  string
	Hint    string
	err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("backend: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("backend: %s: %s (%s)", e.Op, e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Wrap converts driver errors into the package taxonomy. Op names the
// endpoint for diagnostics.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{
			Op:      op,
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
			Hint:    pgErr.Hint,
			err:     err,
		}
	}
	return fmt.Errorf("backend: %s: %w", op, err)
}

// Reason returns the backend supplied message carried by err, or "" when the
// failure did not come with one.
func Reason(err error) string {
	var bErr *Error
	if errors.As(err, &bErr) {
		return bErr.Message
	}
	return ""
}

// IsConflict reports whether err is a unique constraint violation.
func IsConflict(err error) bool {
	var bErr *Error
	return errors.As(err, &bErr) && bErr.Code == codeUniqueViolation
}
