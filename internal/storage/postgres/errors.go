package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/commerce-core/internal/domain"
)

// SQLSTATE codes the repositories react to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

func asPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// isUniqueViolation reports whether err violates the named unique constraint
// or index.
func isUniqueViolation(err error, constraint string) bool {
	pgErr, ok := asPgError(err)
	return ok && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraint
}

// mapTxError turns lost races and timeouts into domain.ErrConflict and
// leaves every other error untouched.
func mapTxError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return errors.Wrap(domain.ErrConflict, "timeout")
	}
	pgErr, ok := asPgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return errors.Wrapf(domain.ErrConflict, "unique violation on %s", pgErr.ConstraintName)
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
		return errors.Wrapf(domain.ErrConflict, "sqlstate %s", pgErr.Code)
	default:
		return err
	}
}
