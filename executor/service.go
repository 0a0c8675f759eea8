package executor

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/dialect/sql/sqlerr"
	"github.com/syssam/tabula/mutation"
)

// Conn is the database handle mutations run on: a driver or an open
// transaction. Handles that can prepare statements are given prepared
// statements; others execute plain statements.
type Conn interface {
	dialect.ExecQuerier
}

// Preparer is implemented by connections supporting prepared statements.
// Executions of the returned statements pass through the hooks of the
// connection, so wrapping drivers still see them.
type Preparer interface {
	Prepare(ctx context.Context, query string) (*sql.Stmt, error)
}

// Service creates mutation executors bound to one connection. A service
// belongs to a single unit of work and is not safe for concurrent use.
type Service struct {
	conn      Conn
	batch     *BatchCoordinator
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithBatchSize sets the number of statements collected before a batch
// executes. Sizes below 2 disable batching.
func WithBatchSize(n int) Option {
	return func(s *Service) { s.batchSize = n }
}

// WithStatementTimeout bounds the execution time of each statement.
func WithStatementTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records execution metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a service executing on conn.
func NewService(conn Conn, opts ...Option) *Service {
	s := &Service{conn: conn, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.batch = &BatchCoordinator{svc: s}
	return s
}

// Conn returns the current connection.
func (s *Service) Conn() Conn { return s.conn }

// SetConn switches the connection, for example when a transaction begins.
// Pending batches must be executed or aborted before.
func (s *Service) SetConn(conn Conn) { s.conn = conn }

// Batch returns the batch coordinator.
func (s *Service) Batch() *BatchCoordinator { return s.batch }

// CreateExecutor returns the executor for a mutation group. Single
// batchable statements with a batch key are deferred to the batch
// coordinator; a NoBatch key executes them immediately.
func (s *Service) CreateExecutor(group *mutation.Group, key BatchKey) MutationExecutor {
	base := executorBase{
		svc:      s,
		group:    group,
		bindings: mutation.NewValueBindings(group.Entity()),
		stmts:    &statements{conn: s.conn},
	}
	if op, ok := group.SingleOperation(); ok {
		switch op := op.(type) {
		case mutation.SelfExecutingOperation:
			return &singleSelfExecuting{executorBase: base, op: op}
		case *mutation.StatementOperation:
			if key != NoBatch && s.batchSize > 1 && op.IsBatchable() {
				return &singleBatched{executorBase: base, op: op, key: key}
			}
			return &singleNonBatched{executorBase: base, op: op}
		}
	}
	return &standard{executorBase: base}
}

// execute runs one statement with resolved arguments. It returns the
// affected row count and the generated key, if the statement generates one.
func (s *Service) execute(ctx context.Context, stmts *statements, op *mutation.StatementOperation, args []any) (rows int64, id any, err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.logger.DebugContext(ctx, "executing mutation statement",
		"table", op.Table().Name(), "type", op.Type().String(), "sql", op.SQL(), "args", len(args))
	defer func() {
		s.metrics.statement(op, err)
		if err != nil {
			err = s.wrap(op, err)
		}
	}()
	stmt, err := stmts.prepare(ctx, op.SQL())
	if err != nil {
		return 0, nil, err
	}
	if op.UsesReturning() {
		return s.queryGenerated(ctx, stmts.conn, stmt, op, args)
	}
	var res stdsql.Result
	if stmt != nil {
		res, err = stmt.ExecContext(ctx, args...)
	} else {
		err = stmts.conn.Exec(ctx, op.SQL(), args, &res)
	}
	if err != nil {
		return 0, nil, err
	}
	if rows, err = res.RowsAffected(); err != nil {
		return 0, nil, err
	}
	if len(op.GeneratedKeys()) > 0 {
		last, err := res.LastInsertId()
		if err != nil {
			return 0, nil, fmt.Errorf("reading generated key: %w", err)
		}
		id = last
	}
	return rows, id, nil
}

func (s *Service) queryGenerated(ctx context.Context, conn Conn, stmt *sql.Stmt, op *mutation.StatementOperation, args []any) (int64, any, error) {
	var rows sql.ColumnScanner
	if stmt != nil {
		r, err := stmt.QueryContext(ctx, args...)
		if err != nil {
			return 0, nil, err
		}
		rows = r
	} else {
		var r sql.Rows
		if err := conn.Query(ctx, op.SQL(), args, &r); err != nil {
			return 0, nil, err
		}
		rows = r
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, nil, rows.Err()
	}
	var id any
	if err := rows.Scan(&id); err != nil {
		return 0, nil, err
	}
	if types := op.Table().KeyMapping().Identifier().SQLTypes(); len(types) == 1 {
		v, err := types[0].Normalize(id)
		if err != nil {
			return 0, nil, err
		}
		id = v
	}
	return 1, id, nil
}

// wrap turns driver failures into typed errors. Expectation violations
// and already wrapped errors pass through.
func (s *Service) wrap(op *mutation.StatementOperation, err error) error {
	if tabula.IsDataAccessError(err) || tabula.IsRowCountMismatch(err) {
		return err
	}
	dae := tabula.NewDataAccessError(strings.ToLower(op.Type().String()), op.Table().Name(), op.SQL(), err)
	if kind := sqlerr.Classify(err); kind != sqlerr.KindUnknown {
		return tabula.NewConstraintError(kind.String(), err.Error(), dae)
	}
	return dae
}

// staleState reports a zero-row expectation violation as a concurrency
// conflict of the entity.
func staleState(entity string, id any, err error) error {
	var mismatch *tabula.RowCountMismatchError
	if errors.As(err, &mismatch) && mismatch.Actual == 0 {
		return tabula.NewStaleStateError(entity, id, err)
	}
	return err
}

// statements holds the prepared statements of one executor or batch.
type statements struct {
	conn     Conn
	prepared map[string]*sql.Stmt
}

// prepare returns the prepared statement for query, or nil when the
// connection cannot prepare statements.
func (s *statements) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	p, ok := s.conn.(Preparer)
	if !ok {
		return nil, nil
	}
	if stmt, ok := s.prepared[query]; ok {
		return stmt, nil
	}
	stmt, err := p.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	if s.prepared == nil {
		s.prepared = make(map[string]*sql.Stmt)
	}
	s.prepared[query] = stmt
	return stmt, nil
}

// release closes all prepared statements.
func (s *statements) release() error {
	var errs []error
	for q, stmt := range s.prepared {
		if err := stmt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing statement %q: %w", q, err))
		}
		delete(s.prepared, q)
	}
	return errors.Join(errs...)
}
