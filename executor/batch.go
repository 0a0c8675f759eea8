package executor

import (
	"context"
	"errors"

	"github.com/syssam/tabula/mutation"
)

// BatchKey identifies statements that may share a batch, such as the
// inserts of one entity.
type BatchKey string

// NoBatch disables batching for an executor.
const NoBatch BatchKey = ""

type batchedStatement struct {
	op     *mutation.StatementOperation
	args   []any
	entity string
	id     any
}

// BatchCoordinator collects batchable statements. The pending batch
// executes when a statement with another key arrives, when it reaches the
// batch size, or on ExecuteBatch.
type BatchCoordinator struct {
	svc     *Service
	key     BatchKey
	pending []batchedStatement
}

// Key returns the key of the pending batch.
func (c *BatchCoordinator) Key() BatchKey { return c.key }

// Pending returns the number of statements waiting for execution.
func (c *BatchCoordinator) Pending() int { return len(c.pending) }

// Batch adds a statement to the batch of key.
func (c *BatchCoordinator) Batch(ctx context.Context, key BatchKey, op *mutation.StatementOperation, args []any, entity string, id any) error {
	if len(c.pending) > 0 && c.key != key {
		if err := c.ExecuteBatch(ctx); err != nil {
			return err
		}
	}
	c.key = key
	c.pending = append(c.pending, batchedStatement{op: op, args: args, entity: entity, id: id})
	if len(c.pending) >= c.svc.batchSize {
		return c.ExecuteBatch(ctx)
	}
	return nil
}

// ExecuteBatch executes the pending statements in order and verifies the
// row count of each against its batch position. The first failure
// discards the rest of the batch.
func (c *BatchCoordinator) ExecuteBatch(ctx context.Context) (rerr error) {
	if len(c.pending) == 0 {
		return nil
	}
	pending, key := c.pending, c.key
	c.pending, c.key = nil, NoBatch
	stmts := &statements{conn: c.svc.conn}
	defer func() { rerr = errors.Join(rerr, stmts.release()) }()
	c.svc.logger.DebugContext(ctx, "executing batch", "key", string(key), "statements", len(pending))
	c.svc.metrics.batch(len(pending))
	for i, st := range pending {
		rows, _, err := c.svc.execute(ctx, stmts, st.op, st.args)
		if err != nil {
			return err
		}
		if err := st.op.Verify(rows, i); err != nil {
			c.svc.metrics.mismatch(st.op)
			return staleState(st.entity, st.id, err)
		}
	}
	return nil
}

// AbortBatch discards the pending statements.
func (c *BatchCoordinator) AbortBatch() {
	if len(c.pending) > 0 {
		c.svc.logger.Debug("aborting batch", "key", string(c.key), "statements", len(c.pending))
	}
	c.pending, c.key = nil, NoBatch
}
