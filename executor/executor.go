package executor

import (
	"context"

	"github.com/syssam/tabula/mapping"
	"github.com/syssam/tabula/mutation"
)

// MutationExecutor executes one mutation group. Values are bound through
// ValueBindings before Execute; Release must be called afterwards,
// whether Execute succeeded or not.
type MutationExecutor interface {
	ValueBindings() *mutation.ValueBindings
	Execute(ctx context.Context, analysis mutation.ValuesAnalysis, inclusion mutation.TableInclusionChecker) (*Result, error)
	Release() error
}

// Result reports the outcome of a mutation execution.
type Result struct {
	// GeneratedID is the identifier generated by the database, if any.
	GeneratedID any
	// Executed lists the tables written, in execution order.
	Executed []string
	// Skipped lists the tables the inclusion checker excluded.
	Skipped []string
	// Batched reports whether the statement was deferred to a batch.
	Batched bool
}

type executorBase struct {
	svc      *Service
	group    *mutation.Group
	bindings *mutation.ValueBindings
	stmts    *statements
}

// ValueBindings returns the bindings the executor resolves parameters from.
func (e *executorBase) ValueBindings() *mutation.ValueBindings { return e.bindings }

// Release closes the prepared statements held by the executor.
func (e *executorBase) Release() error { return e.stmts.release() }

// ExecuteStatement implements mutation.StatementExecutor.
func (e *executorBase) ExecuteStatement(ctx context.Context, op *mutation.StatementOperation, bindings *mutation.ValueBindings) (int64, error) {
	args, err := bindings.Resolve(op.Parameters())
	if err != nil {
		return 0, err
	}
	rows, _, err := e.svc.execute(ctx, e.stmts, op, args)
	return rows, err
}

func (e *executorBase) included(t *mapping.TableMapping, inclusion mutation.TableInclusionChecker, res *Result) bool {
	if inclusion == nil || inclusion(t) {
		return true
	}
	res.Skipped = append(res.Skipped, t.Name())
	e.svc.metrics.skip(t, e.group.Type())
	return false
}

// perform executes one operation. Statements generating a key bind it to
// the key columns of the tables that follow.
func (e *executorBase) perform(ctx context.Context, op mutation.Operation, analysis mutation.ValuesAnalysis, res *Result) error {
	switch op := op.(type) {
	case mutation.SelfExecutingOperation:
		if err := op.PerformMutation(ctx, e.bindings, analysis, e); err != nil {
			return e.fail(err)
		}
	case *mutation.StatementOperation:
		args, err := e.bindings.Resolve(op.Parameters())
		if err != nil {
			return err
		}
		rows, id, err := e.svc.execute(ctx, e.stmts, op, args)
		if err != nil {
			return err
		}
		if err := op.Verify(rows, -1); err != nil {
			e.svc.metrics.mismatch(op)
			return e.fail(err)
		}
		if len(op.GeneratedKeys()) > 0 && id != nil {
			res.GeneratedID = id
			e.bindings.BindIdentifier(id, mutation.UsageSet)
		}
	}
	res.Executed = append(res.Executed, op.Table().Name())
	return nil
}

func (e *executorBase) fail(err error) error {
	id, _ := e.bindings.Identifier()
	return staleState(e.group.Entity().Name(), id, err)
}

// flushPending executes statements deferred by earlier executors, so
// immediate statements never overtake them.
func (e *executorBase) flushPending(ctx context.Context) error {
	return e.svc.batch.ExecuteBatch(ctx)
}

// singleNonBatched executes a single statement immediately.
type singleNonBatched struct {
	executorBase
	op *mutation.StatementOperation
}

func (e *singleNonBatched) Execute(ctx context.Context, analysis mutation.ValuesAnalysis, inclusion mutation.TableInclusionChecker) (*Result, error) {
	res := &Result{}
	if !e.included(e.op.Table(), inclusion, res) {
		return res, nil
	}
	if err := e.flushPending(ctx); err != nil {
		return nil, err
	}
	if err := e.perform(ctx, e.op, analysis, res); err != nil {
		return nil, err
	}
	return res, nil
}

// singleBatched adds a single statement to the current batch.
type singleBatched struct {
	executorBase
	op  *mutation.StatementOperation
	key BatchKey
}

func (e *singleBatched) Execute(ctx context.Context, _ mutation.ValuesAnalysis, inclusion mutation.TableInclusionChecker) (*Result, error) {
	res := &Result{Batched: true}
	if !e.included(e.op.Table(), inclusion, res) {
		return res, nil
	}
	args, err := e.bindings.Resolve(e.op.Parameters())
	if err != nil {
		return nil, err
	}
	id, _ := e.bindings.Identifier()
	if err := e.svc.batch.Batch(ctx, e.key, e.op, args, e.group.Entity().Name(), id); err != nil {
		return nil, err
	}
	res.Executed = append(res.Executed, e.op.Table().Name())
	return res, nil
}

// singleSelfExecuting runs a single self-executing operation.
type singleSelfExecuting struct {
	executorBase
	op mutation.SelfExecutingOperation
}

func (e *singleSelfExecuting) Execute(ctx context.Context, analysis mutation.ValuesAnalysis, inclusion mutation.TableInclusionChecker) (*Result, error) {
	res := &Result{}
	if !e.included(e.op.Table(), inclusion, res) {
		return res, nil
	}
	if err := e.flushPending(ctx); err != nil {
		return nil, err
	}
	if err := e.perform(ctx, e.op, analysis, res); err != nil {
		return nil, err
	}
	return res, nil
}

// standard executes the operations of a multi-table group sequentially.
// The first failure aborts the remaining operations; statements already
// executed are left to the surrounding transaction.
type standard struct {
	executorBase
}

func (e *standard) Execute(ctx context.Context, analysis mutation.ValuesAnalysis, inclusion mutation.TableInclusionChecker) (*Result, error) {
	if err := e.flushPending(ctx); err != nil {
		return nil, err
	}
	res := &Result{}
	for _, op := range e.group.Operations() {
		if !e.included(op.Table(), inclusion, res) {
			continue
		}
		if err := e.perform(ctx, op, analysis, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}
