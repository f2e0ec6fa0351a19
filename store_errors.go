package auth

import (
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// isUniqueViolation reports whether err is the store rejecting a duplicate
// on a unique index. This is the authoritative conflict signal.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}

	// sqlite drivers (mattn and modernc) only expose the message
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

// mapStoreError converts driver errors into the error taxonomy
func mapStoreError(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return ErrConflict.Clone()
	case isNotFound(err):
		return ErrIdentityNotFound.Clone()
	default:
		return internalError(err, msg)
	}
}
