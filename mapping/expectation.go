package mapping

import (
	"fmt"

	"github.com/syssam/tabula"
)

// MutationType is the kind of a table mutation.
type MutationType int

// Mutation types.
const (
	Insert MutationType = iota
	Update
	Delete
)

// String returns the mutation type name.
func (t MutationType) String() string {
	switch t {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	default:
		return fmt.Sprintf("MutationType(%d)", int(t))
	}
}

type expectationKind int

const (
	expectNone expectationKind = iota
	expectRowCount
	expectOutParameter
)

// Expectation is the row-count contract of a statement.
type Expectation struct {
	kind expectationKind
	rows int64
}

// ExpectNone performs no verification.
func ExpectNone() Expectation { return Expectation{kind: expectNone} }

// ExpectRowCount expects exactly n affected rows.
func ExpectRowCount(n int64) Expectation { return Expectation{kind: expectRowCount, rows: n} }

// ExpectOutParameter expects a callable statement to report exactly one
// affected row. Callable statements are never batched.
func ExpectOutParameter() Expectation { return Expectation{kind: expectOutParameter, rows: 1} }

// IsNone reports whether the expectation verifies nothing.
func (e Expectation) IsNone() bool { return e.kind == expectNone }

// ExpectedRowCount returns the expected number of affected rows,
// or -1 when nothing is verified.
func (e Expectation) ExpectedRowCount() int64 {
	if e.kind == expectNone {
		return -1
	}
	return e.rows
}

// CanBeBatched reports whether statements with this expectation may be
// deferred into a batch.
func (e Expectation) CanBeBatched() bool { return e.kind != expectOutParameter }

// VerifyOutcome compares the affected row count with the expectation.
// batchPosition is the position of the statement in its batch, or -1.
func (e Expectation) VerifyOutcome(rowCount int64, batchPosition int, table, sql string) error {
	if e.kind == expectNone || rowCount == e.rows {
		return nil
	}
	return tabula.NewRowCountMismatchError(table, sql, e.rows, rowCount, batchPosition)
}

// String returns a description of the expectation.
func (e Expectation) String() string {
	switch e.kind {
	case expectRowCount:
		return fmt.Sprintf("RowCount(%d)", e.rows)
	case expectOutParameter:
		return "OutParameter"
	default:
		return "None"
	}
}

// MutationDetails describes how one table is mutated for one mutation type.
type MutationDetails struct {
	typ         MutationType
	expectation Expectation
	customSQL   string
	callable    bool
}

// NewMutationDetails returns mutation details.
func NewMutationDetails(typ MutationType, expectation Expectation, customSQL string, callable bool) MutationDetails {
	return MutationDetails{typ: typ, expectation: expectation, customSQL: customSQL, callable: callable}
}

// Type returns the mutation type.
func (d MutationDetails) Type() MutationType { return d.typ }

// Expectation returns the row-count contract.
func (d MutationDetails) Expectation() Expectation { return d.expectation }

// CustomSQL returns the SQL overriding the generated statement, if any.
func (d MutationDetails) CustomSQL() string { return d.customSQL }

// IsCallable reports whether the statement is a stored procedure call.
func (d MutationDetails) IsCallable() bool { return d.callable }
