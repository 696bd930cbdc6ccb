package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Domain error taxonomy. Tool handlers turn these into model-visible
// strings; the gateway turns them into 404 / 409 / 400 responses. Anything
// not wrapping one of these is an infrastructure failure and propagates.
var (
	// ErrNotFound marks lookups of entities that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks writes that violate a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// ServiceError is a domain rule violation that is neither a missing entity
// nor a uniqueness conflict, e.g. an invalid status value or a task assigned
// to a non-member.
type ServiceError struct {
	Msg string
}

func (e *ServiceError) Error() string { return e.Msg }

// Servicef builds a ServiceError from a format string.
func Servicef(format string, args ...any) error {
	return &ServiceError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf wraps ErrNotFound with entity context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with entity context.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// IsDomainError reports whether err belongs to the domain taxonomy, as
// opposed to an infrastructure failure.
func IsDomainError(err error) bool {
	var se *ServiceError
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.As(err, &se)
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
