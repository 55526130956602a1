package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would break a uniqueness rule.
var ErrConflict = errors.New("conflict")

var (
	ErrDuplicateUsername = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrDuplicateEmail    = fmt.Errorf("%w: email already exists", ErrConflict)
)

const (
	uniqueViolation = "23505"

	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_key"
)

// translateError maps unique-constraint violations reported by either
// Postgres driver onto the store's conflict errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return conflictFor(pqErr.Constraint, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return conflictFor(pgErr.ConstraintName, err)
	}

	return err
}

func conflictFor(constraint string, cause error) error {
	switch constraint {
	case usernameConstraint:
		return ErrDuplicateUsername
	case emailConstraint:
		return ErrDuplicateEmail
	default:
		return fmt.Errorf("%w: %v", ErrConflict, cause)
	}
}
