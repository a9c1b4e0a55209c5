package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories translate into domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeExclusionViolation  = "23P01"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// IsUniqueViolation reports a unique index conflict.
func IsUniqueViolation(err error) bool { return hasCode(err, codeUniqueViolation) }

// IsExclusionViolation reports an exclusion constraint conflict.
func IsExclusionViolation(err error) bool { return hasCode(err, codeExclusionViolation) }

// IsForeignKeyViolation reports a missing referenced row.
func IsForeignKeyViolation(err error) bool { return hasCode(err, codeForeignKeyViolation) }

// IsSerializationFailure reports a transaction aborted by a concurrent writer.
func IsSerializationFailure(err error) bool { return hasCode(err, codeSerialization) }

// IsDeadlock reports a transaction chosen as the victim of a lock cycle.
func IsDeadlock(err error) bool { return hasCode(err, codeDeadlock) }

// IsNoRows reports an empty single-row result.
func IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// ConstraintName returns the violated constraint, or "".
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
