// Package sqlerr classifies errors returned by the supported database drivers.
package sqlerr

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Kind is the category of a driver error.
type Kind int

// Driver error kinds.
const (
	KindUnknown Kind = iota
	KindUniqueViolation
	KindForeignKeyViolation
	KindCheckViolation
	KindNotNullViolation
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUniqueViolation:
		return "unique"
	case KindForeignKeyViolation:
		return "foreign key"
	case KindCheckViolation:
		return "check"
	case KindNotNullViolation:
		return "not null"
	default:
		return "unknown"
	}
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlNotNull                = 1048
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// Classify returns the constraint kind of err, or KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if code, ok := sqlState(err); ok {
		switch code {
		case pgUniqueViolation:
			return KindUniqueViolation
		case pgForeignKeyViolation:
			return KindForeignKeyViolation
		case pgCheckViolation:
			return KindCheckViolation
		case pgNotNullViolation:
			return KindNotNullViolation
		}
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			return KindUniqueViolation
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return KindForeignKeyViolation
		case mysqlCheckConstraintViolate:
			return KindCheckViolation
		case mysqlNotNull:
			return KindNotNullViolation
		}
	}
	// Fallback to string matching for drivers without typed errors (sqlite).
	msg := err.Error()
	switch {
	case containsAny(msg, "UNIQUE constraint failed", "violates unique constraint", "Error 1062"):
		return KindUniqueViolation
	case containsAny(msg, "FOREIGN KEY constraint failed", "violates foreign key constraint", "Error 1451", "Error 1452"):
		return KindForeignKeyViolation
	case containsAny(msg, "CHECK constraint failed", "violates check constraint", "Error 3819"):
		return KindCheckViolation
	case containsAny(msg, "NOT NULL constraint failed", "violates not-null constraint", "Error 1048"):
		return KindNotNullViolation
	}
	return KindUnknown
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return Classify(err) != KindUnknown
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool {
	return Classify(err) == KindUniqueViolation
}

// IsForeignKeyConstraintError reports if the error resulted from a foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool {
	return Classify(err) == KindForeignKeyViolation
}

// IsCheckConstraintError reports if the error resulted from a check constraint violation.
func IsCheckConstraintError(err error) bool {
	return Classify(err) == KindCheckViolation
}

// sqlState extracts a SQLSTATE code from lib/pq or pgx errors.
func sqlState(err error) (string, bool) {
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		return string(pqe.Code), true
	}
	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		return pge.Code, true
	}
	return "", false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
