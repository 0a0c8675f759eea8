package mutation

import (
	"context"

	"github.com/syssam/tabula/mapping"
)

// Operation is the unit of work of a mutation group against one table.
type Operation interface {
	Table() *mapping.TableMapping
	Type() mapping.MutationType
}

// StatementOperation is an operation executed as a single SQL statement.
type StatementOperation struct {
	table         *mapping.TableMapping
	typ           mapping.MutationType
	sql           string
	params        []*ColumnParameter
	expectation   mapping.Expectation
	callable      bool
	generatedKeys []string
	returning     bool
}

// Table implements Operation.
func (o *StatementOperation) Table() *mapping.TableMapping { return o.table }

// Type implements Operation.
func (o *StatementOperation) Type() mapping.MutationType { return o.typ }

// SQL returns the statement text in the dialect's placeholder syntax.
func (o *StatementOperation) SQL() string { return o.sql }

// Parameters returns the parameter descriptors in placeholder order.
func (o *StatementOperation) Parameters() []*ColumnParameter { return o.params }

// Expectation returns the row-count contract.
func (o *StatementOperation) Expectation() mapping.Expectation { return o.expectation }

// IsCallable reports whether the statement calls a stored procedure.
func (o *StatementOperation) IsCallable() bool { return o.callable }

// GeneratedKeys returns the columns generated by an insert.
func (o *StatementOperation) GeneratedKeys() []string { return o.generatedKeys }

// UsesReturning reports whether generated keys are read from a RETURNING
// clause rather than from the driver's last insert id.
func (o *StatementOperation) UsesReturning() bool { return o.returning }

// IsBatchable reports whether the statement may be deferred into a batch.
func (o *StatementOperation) IsBatchable() bool {
	return !o.callable && len(o.generatedKeys) == 0 && o.expectation.CanBeBatched()
}

// Verify checks the affected row count against the expectation.
func (o *StatementOperation) Verify(rowCount int64, batchPosition int) error {
	return o.expectation.VerifyOutcome(rowCount, batchPosition, o.table.Name(), o.sql)
}

// StatementExecutor runs statement operations for self-executing operations.
type StatementExecutor interface {
	// ExecuteStatement executes op with values from bindings and returns
	// the affected row count. It does not verify the expectation.
	ExecuteStatement(ctx context.Context, op *StatementOperation, bindings *ValueBindings) (int64, error)
}

// SelfExecutingOperation performs its own mutation logic.
type SelfExecutingOperation interface {
	Operation
	PerformMutation(ctx context.Context, bindings *ValueBindings, analysis ValuesAnalysis, exec StatementExecutor) error
}

// OptionalTableUpdate updates an optional table whose row may be absent.
// A table turning all-null deletes its row; a previously all-null table is
// inserted; otherwise the row is updated, falling back to an insert when
// no row matched.
type OptionalTableUpdate struct {
	table  *mapping.TableMapping
	insert *StatementOperation
	update *StatementOperation
	delete *StatementOperation
}

// Table implements Operation.
func (o *OptionalTableUpdate) Table() *mapping.TableMapping { return o.table }

// Type implements Operation.
func (o *OptionalTableUpdate) Type() mapping.MutationType { return mapping.Update }

// Statements returns the insert, update and delete statements.
func (o *OptionalTableUpdate) Statements() (insert, update, delete *StatementOperation) {
	return o.insert, o.update, o.delete
}

// PerformMutation implements SelfExecutingOperation.
func (o *OptionalTableUpdate) PerformMutation(ctx context.Context, bindings *ValueBindings, analysis ValuesAnalysis, exec StatementExecutor) error {
	name := o.table.Name()
	hasValues := bindings.HasNonNullValues(name)
	hadValues := true
	if ua, ok := analysis.(*UpdateValuesAnalysis); ok {
		hadValues = ua.HadValues(name)
	}
	switch {
	case !hasValues && !hadValues:
		return nil
	case !hasValues:
		return o.run(ctx, o.delete, bindings, exec)
	case !hadValues:
		return o.run(ctx, o.insert, bindings, exec)
	}
	rows, err := exec.ExecuteStatement(ctx, o.update, bindings)
	if err != nil {
		return err
	}
	if rows == 0 {
		return o.run(ctx, o.insert, bindings, exec)
	}
	return o.update.Verify(rows, -1)
}

func (o *OptionalTableUpdate) run(ctx context.Context, op *StatementOperation, bindings *ValueBindings, exec StatementExecutor) error {
	rows, err := exec.ExecuteStatement(ctx, op, bindings)
	if err != nil {
		return err
	}
	return op.Verify(rows, -1)
}
