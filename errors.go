package tabula

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("tabula: entity not found")

	// ErrStaleState is returned when a mutation affected no rows although
	// rows were expected, meaning the row was concurrently changed or removed.
	ErrStaleState = errors.New("tabula: stale state")

	// ErrRowCountMismatch is returned when a statement affected a number of
	// rows different from its expectation.
	ErrRowCountMismatch = errors.New("tabula: row count mismatch")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("tabula: cannot start a transaction within a transaction")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("tabula: session is closed")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("tabula: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("tabula: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string { return e.label }

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any { return e.id }

// NewNotFoundError returns a new NotFoundError with the ID that was searched for.
func NewNotFoundError(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}

// RowCountMismatchError reports a statement whose affected row count
// differs from what its expectation requires.
type RowCountMismatchError struct {
	Table    string
	SQL      string
	Expected int64
	Actual   int64
	// BatchPosition is the position of the statement in its batch,
	// or -1 for statements executed on their own.
	BatchPosition int
}

func (e *RowCountMismatchError) Error() string {
	if e.BatchPosition >= 0 {
		return fmt.Sprintf("tabula: batch update of %s returned unexpected row count from update [%d]; actual row count: %d; expected: %d; statement: %s",
			e.Table, e.BatchPosition, e.Actual, e.Expected, e.SQL)
	}
	return fmt.Sprintf("tabula: unexpected row count for %s; actual row count: %d; expected: %d; statement: %s",
		e.Table, e.Actual, e.Expected, e.SQL)
}

// Is reports whether the target matches ErrRowCountMismatch.
func (e *RowCountMismatchError) Is(err error) bool {
	return err == ErrRowCountMismatch
}

// NewRowCountMismatchError returns a new RowCountMismatchError.
func NewRowCountMismatchError(table, sql string, expected, actual int64, batchPosition int) *RowCountMismatchError {
	return &RowCountMismatchError{Table: table, SQL: sql, Expected: expected, Actual: actual, BatchPosition: batchPosition}
}

// IsRowCountMismatch returns true if the error is a RowCountMismatchError.
func IsRowCountMismatch(err error) bool {
	return err != nil && errors.Is(err, ErrRowCountMismatch)
}

// StaleStateError signals an optimistic concurrency conflict: the row of
// the entity was updated or deleted by another transaction.
type StaleStateError struct {
	Entity string
	ID     any
	Err    error
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("tabula: row was updated or deleted by another transaction (or unsaved-value mapping was incorrect): [%s#%v]", e.Entity, e.ID)
}

// Unwrap returns the underlying error.
func (e *StaleStateError) Unwrap() error { return e.Err }

// Is reports whether the target matches ErrStaleState.
func (e *StaleStateError) Is(err error) bool {
	return err == ErrStaleState
}

// NewStaleStateError returns a new StaleStateError.
func NewStaleStateError(entity string, id any, err error) *StaleStateError {
	return &StaleStateError{Entity: entity, ID: id, Err: err}
}

// IsStaleState returns true if the error is a StaleStateError.
func IsStaleState(err error) bool {
	return err != nil && errors.Is(err, ErrStaleState)
}

// IsConcurrencyConflict reports whether err is a concurrency conflict as
// opposed to a lower-level data access failure. Conflicts can be resolved
// by reloading and retrying at a higher level.
func IsConcurrencyConflict(err error) bool {
	return IsStaleState(err)
}

// DataAccessError wraps a failure reported by the database driver.
type DataAccessError struct {
	Op    string // Operation (e.g., "insert", "update", "query")
	Table string
	SQL   string
	Err   error
}

func (e *DataAccessError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("tabula: could not execute %s on %s [%s]: %v", e.Op, e.Table, e.SQL, e.Err)
	}
	return fmt.Sprintf("tabula: could not execute %s [%s]: %v", e.Op, e.SQL, e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

// NewDataAccessError returns a new DataAccessError.
func NewDataAccessError(op, table, sql string, err error) *DataAccessError {
	return &DataAccessError{Op: op, Table: table, SQL: sql, Err: err}
}

// IsDataAccessError returns true if the error is a DataAccessError.
func IsDataAccessError(err error) bool {
	if err == nil {
		return false
	}
	var e *DataAccessError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	Kind string
	msg  string
	wrap error
}

func (e ConstraintError) Error() string {
	return fmt.Sprintf("tabula: %s constraint failed: %s", e.Kind, e.msg)
}

func (e ConstraintError) Unwrap() error { return e.wrap }

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(kind, msg string, wrap error) error {
	return ConstraintError{Kind: kind, msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// MappingError reports invalid entity mapping metadata.
type MappingError struct {
	Entity  string
	Table   string
	Message string
}

func (e *MappingError) Error() string {
	var b strings.Builder
	b.WriteString("tabula: invalid mapping")
	if e.Entity != "" {
		b.WriteString(" of entity ")
		b.WriteString(e.Entity)
	}
	if e.Table != "" {
		b.WriteString(" table ")
		b.WriteString(e.Table)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// NewMappingError returns a new MappingError.
func NewMappingError(entity, table, format string, args ...any) *MappingError {
	return &MappingError{Entity: entity, Table: table, Message: fmt.Sprintf(format, args...)}
}

// IsMappingError returns true if the error is a MappingError.
func IsMappingError(err error) bool {
	if err == nil {
		return false
	}
	var e *MappingError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("tabula: rollback failed: %v", e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "tabula: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("tabula: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Entity string // Entity type being queried
	Op     string // Operation (e.g., "load", "list")
	Err    error  // Underlying error
}

func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("tabula: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("tabula: querying %s: %v", e.Entity, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// MutationError wraps a mutation error with additional context.
type MutationError struct {
	Entity string // Entity type being mutated
	Op     string // Operation (e.g., "insert", "update", "delete")
	Err    error  // Underlying error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("tabula: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// NewMutationError returns a new MutationError.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}
