package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFailedToOpenConnection = errors.New("storage: failed to open database connection")
	ErrFailedToApplyMigrations = errors.New("storage: failed to apply migrations")
	ErrMigrationsDirNotFound  = errors.New("storage: migrations directory not found")
	ErrHealthcheckFailed      = errors.New("storage: healthcheck failed")

	ErrTaskNotFound      = errors.New("storage: task not found")
	ErrResultNotFound    = errors.New("storage: result not found")
	ErrDLQEntryNotFound  = errors.New("storage: dlq entry not found")
	ErrNotInDLQ          = errors.New("storage: task is not in the dead letter queue")
	ErrNoPendingTask     = errors.New("storage: no pending task available")
)

// Temporary reports whether err represents a transient storage failure that
// the caller may retry (connection drops, deadlocks, serialization
// failures) as opposed to a terminal one (not found, constraint violation).
func Temporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		case "08000", "08003", "08006", "08001", "08004": // connection_exception family
			return true
		}
		return false
	}
	// Anything else (network errors bubbled up from pgx/net) is treated as
	// transient; the retrying caller bounds attempts regardless.
	return true
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
