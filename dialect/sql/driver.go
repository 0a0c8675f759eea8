package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/syssam/tabula/dialect"
)

// Driver is a dialect.Driver over a database/sql handle.
type Driver struct {
	Conn
	dialect string
}

// NewDriver returns a Driver of the given dialect over c.
func NewDriver(dialect string, c Conn) *Driver {
	return &Driver{dialect: dialect, Conn: c}
}

// Open opens a database whose database/sql driver is named after the
// dialect.
func Open(dialect, source string) (*Driver, error) {
	return OpenDriver(dialect, dialect, source)
}

// OpenDriver opens a database with the named database/sql driver, for
// example "pgx" for the postgres dialect.
func OpenDriver(driverName, dialect, source string) (*Driver, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return OpenDB(dialect, db), nil
}

// OpenDB returns a Driver over an opened database.
func OpenDB(dialect string, db *sql.DB) *Driver {
	return NewDriver(dialect, Conn{db, dialect})
}

// DB returns the underlying database.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Dialect returns the dialect name.
func (d Driver) Dialect() string {
	return dialectName(d.dialect)
}

// dialectName maps a driver name, possibly of a wrapping driver, onto a
// dialect name.
func dialectName(name string) string {
	for _, d := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(name, d) {
			return d
		}
	}
	if name == "pgx" {
		return dialect.Postgres
	}
	return name
}

// Tx starts a transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{Conn: Conn{tx, d.dialect}, Tx: tx}, nil
}

// Close closes the database.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx is a transaction. Its Conn executes and prepares statements within it.
type Tx struct {
	Conn
	driver.Tx
}

// ExecQuerier is implemented by *sql.DB and *sql.Tx.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Preparer is implemented by the handles that prepare statements:
// *sql.DB, *sql.Tx and *sql.Conn.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Conn implements dialect.ExecQuerier over an ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Dialect returns the dialect of the connection.
func (c Conn) Dialect() string {
	return dialectName(c.dialect)
}

// Prepare prepares a statement on the underlying handle. The caller
// closes the statement.
func (c Conn) Prepare(ctx context.Context, query string) (*Stmt, error) {
	p, ok := c.ExecQuerier.(Preparer)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: %T does not support prepared statements", c.ExecQuerier)
	}
	stmt, err := p.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: prepare: %w", err)
	}
	return &Stmt{Stmt: stmt, query: query}, nil
}

// StmtHook runs around every execution of a prepared statement. It must
// call run exactly once and return its error.
type StmtHook func(ctx context.Context, query string, args []any, isQuery bool, run func() error) error

// Stmt is a prepared statement. Executions pass through the hooks of the
// drivers that prepared it, innermost first.
type Stmt struct {
	*sql.Stmt
	query string
	hooks []StmtHook
}

// Query returns the SQL the statement was prepared from.
func (s *Stmt) Query() string { return s.query }

// Hook adds h around the executions of s and returns s.
func (s *Stmt) Hook(h StmtHook) *Stmt {
	s.hooks = append(s.hooks, h)
	return s
}

func (s *Stmt) run(ctx context.Context, args []any, isQuery bool, fn func() error) error {
	for _, h := range s.hooks {
		next := fn
		fn = func() error { return h(ctx, s.query, args, isQuery, next) }
	}
	return fn()
}

// ExecContext executes the statement.
func (s *Stmt) ExecContext(ctx context.Context, args ...any) (res sql.Result, err error) {
	err = s.run(ctx, args, false, func() error {
		res, err = s.Stmt.ExecContext(ctx, args...)
		return err
	})
	return res, err
}

// QueryContext executes the statement and returns its rows.
func (s *Stmt) QueryContext(ctx context.Context, args ...any) (rows *sql.Rows, err error) {
	err = s.run(ctx, args, true, func() error {
		rows, err = s.Stmt.QueryContext(ctx, args...)
		return err
	})
	return rows, err
}

// Exec executes a statement. args must be a []any; v is nil or a
// *Result receiving the outcome.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	switch v := v.(type) {
	case nil:
		if _, err := c.ExecContext(ctx, query, argv...); err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
		}
	case *Result:
		res, err := c.ExecContext(ctx, query, argv...)
		if err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
		}
		*v = res
	default:
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	return nil
}

// Query executes a query. args must be a []any and v a *Rows, which the
// caller closes.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	rows, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*vr = Rows{rows}
	return nil
}

var _ dialect.Driver = (*Driver)(nil)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
)

// ColumnScanner is the part of *sql.Rows rows are read through.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}
