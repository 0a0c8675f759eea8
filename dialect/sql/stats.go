package sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/tabula/dialect"
)

// Statement verbs counted by QueryStats. Anything else is "other".
var verbs = [...]string{"select", "insert", "update", "delete", "other"}

func verbOf(query string) int {
	query = strings.TrimLeft(query, " \t\n(")
	for i, v := range verbs[:len(verbs)-1] {
		if len(query) >= len(v) && strings.EqualFold(query[:len(v)], v) {
			return i
		}
	}
	return len(verbs) - 1
}

// QueryStats counts the statements sent through a StatsDriver. It is a
// prometheus.Collector.
type QueryStats struct {
	queries  atomic.Int64
	execs    atomic.Int64
	byVerb   [len(verbs)]atomic.Int64
	duration atomic.Int64
	slow     atomic.Int64
	errors   atomic.Int64
}

func (s *QueryStats) add(query string, isQuery bool, d time.Duration, slow bool, err error) {
	if isQuery {
		s.queries.Add(1)
	} else {
		s.execs.Add(1)
	}
	s.byVerb[verbOf(query)].Add(1)
	s.duration.Add(int64(d))
	if slow {
		s.slow.Add(1)
	}
	if err != nil {
		s.errors.Add(1)
	}
}

// Stats returns a snapshot of the counters.
func (s *QueryStats) Stats() StatsSnapshot {
	snap := StatsSnapshot{
		TotalQueries:  s.queries.Load(),
		TotalExecs:    s.execs.Load(),
		TotalDuration: time.Duration(s.duration.Load()),
		SlowQueries:   s.slow.Load(),
		Errors:        s.errors.Load(),
		ByVerb:        make(map[string]int64, len(verbs)),
	}
	for i, v := range verbs {
		if n := s.byVerb[i].Load(); n > 0 {
			snap.ByVerb[v] = n
		}
	}
	return snap
}

// Reset zeroes the counters.
func (s *QueryStats) Reset() {
	for _, c := range []*atomic.Int64{&s.queries, &s.execs, &s.duration, &s.slow, &s.errors} {
		c.Store(0)
	}
	for i := range s.byVerb {
		s.byVerb[i].Store(0)
	}
}

var (
	statementsDesc = prometheus.NewDesc(
		"tabula_sql_statements_total",
		"Statements sent to the database, by verb.",
		[]string{"verb"}, nil,
	)
	durationDesc = prometheus.NewDesc(
		"tabula_sql_statement_seconds_total",
		"Time spent executing statements.",
		nil, nil,
	)
	slowDesc = prometheus.NewDesc(
		"tabula_sql_slow_statements_total",
		"Statements slower than the slow threshold.",
		nil, nil,
	)
	errorsDesc = prometheus.NewDesc(
		"tabula_sql_statement_errors_total",
		"Statements that returned an error.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (s *QueryStats) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{statementsDesc, durationDesc, slowDesc, errorsDesc} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (s *QueryStats) Collect(ch chan<- prometheus.Metric) {
	for i, v := range verbs {
		ch <- prometheus.MustNewConstMetric(statementsDesc, prometheus.CounterValue, float64(s.byVerb[i].Load()), v)
	}
	ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.CounterValue, time.Duration(s.duration.Load()).Seconds())
	ch <- prometheus.MustNewConstMetric(slowDesc, prometheus.CounterValue, float64(s.slow.Load()))
	ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(s.errors.Load()))
}

// StatsSnapshot is a point-in-time copy of QueryStats.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
	// ByVerb holds the non-zero per-verb counts.
	ByVerb map[string]int64
}

// AvgQueryDuration returns the mean statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	if n := s.TotalQueries + s.TotalExecs; n > 0 {
		return s.TotalDuration / time.Duration(n)
	}
	return 0
}

func (s StatsSnapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "queries=%d execs=%d", s.TotalQueries, s.TotalExecs)
	for _, v := range verbs {
		if n := s.ByVerb[v]; n > 0 {
			fmt.Fprintf(&b, " %s=%d", v, n)
		}
	}
	fmt.Fprintf(&b, " avg=%s slow=%d errors=%d", s.AvgQueryDuration(), s.SlowQueries, s.Errors)
	return b.String()
}

// SlowQueryHook is called for every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsDriver is a Driver that counts and times its statements.
type StatsDriver struct {
	*Driver
	stats     *QueryStats
	threshold atomic.Int64
	hook      SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement is slow.
// The default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.threshold.Store(int64(d)) }
}

// WithSlowQueryHook sets the hook called for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) { s.hook = hook }
}

// WithSlowQueryLog logs slow statements at warn level.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	if logger == nil {
		logger = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, d time.Duration) {
		logger.WarnContext(ctx, "slow statement", "duration", d, "query", query, "args", len(args))
	})
}

// NewStatsDriver wraps drv. Register QueryStats with a prometheus
// registry to export the counters.
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, stats: &QueryStats{}}
	s.threshold.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the driver counters.
func (d *StatsDriver) QueryStats() *QueryStats { return d.stats }

// SlowThreshold returns the slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration { return time.Duration(d.threshold.Load()) }

// SetSlowThreshold changes the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) { d.threshold.Store(int64(threshold)) }

func (d *StatsDriver) observe(ctx context.Context, query string, args any, isQuery bool, run func() error) error {
	start := time.Now()
	err := run()
	took := time.Since(start)
	slow := took > d.SlowThreshold()
	d.stats.add(query, isQuery, took, slow, err)
	if slow && d.hook != nil {
		argv, _ := args.([]any)
		d.hook(ctx, query, argv, took)
	}
	return err
}

// Query implements dialect.ExecQuerier.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.observe(ctx, query, args, true, func() error { return d.Driver.Query(ctx, query, args, v) })
}

// Exec implements dialect.ExecQuerier.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.observe(ctx, query, args, false, func() error { return d.Driver.Exec(ctx, query, args, v) })
}

// Prepare prepares a statement whose executions are counted.
func (d *StatsDriver) Prepare(ctx context.Context, query string) (*Stmt, error) {
	stmt, err := d.Driver.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.Hook(d.stmtHook), nil
}

func (d *StatsDriver) stmtHook(ctx context.Context, query string, args []any, isQuery bool, run func() error) error {
	return d.observe(ctx, query, args, isQuery, run)
}

// Tx starts a transaction whose statements are counted too.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Tx: tx, driver: d}, nil
}

// StatsTx is a transaction of a StatsDriver.
type StatsTx struct {
	dialect.Tx
	driver *StatsDriver
}

// Query implements dialect.ExecQuerier.
func (tx *StatsTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.driver.observe(ctx, query, args, true, func() error { return tx.Tx.Query(ctx, query, args, v) })
}

// Exec implements dialect.ExecQuerier.
func (tx *StatsTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.driver.observe(ctx, query, args, false, func() error { return tx.Tx.Exec(ctx, query, args, v) })
}

// Prepare prepares a statement in the transaction. Its executions are
// counted.
func (tx *StatsTx) Prepare(ctx context.Context, query string) (*Stmt, error) {
	stmt, err := prepare(ctx, tx.Tx, query)
	if err != nil {
		return nil, err
	}
	return stmt.Hook(tx.driver.stmtHook), nil
}

// DebugDriver is a Driver that logs every statement at debug level.
type DebugDriver struct {
	*Driver
	logger *slog.Logger
}

// NewDebugDriver wraps drv. A nil logger means slog.Default.
func NewDebugDriver(drv *Driver, logger *slog.Logger) *DebugDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugDriver{Driver: drv, logger: logger}
}

// Query implements dialect.ExecQuerier.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "query", "sql", query, "args", args)
	return d.Driver.Query(ctx, query, args, v)
}

// Exec implements dialect.ExecQuerier.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "exec", "sql", query, "args", args)
	return d.Driver.Exec(ctx, query, args, v)
}

// Prepare prepares a statement whose executions are logged.
func (d *DebugDriver) Prepare(ctx context.Context, query string) (*Stmt, error) {
	d.logger.DebugContext(ctx, "prepare", "sql", query)
	stmt, err := d.Driver.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.Hook(logStmt(d.logger, "stmt")), nil
}

// logStmt logs the executions of a prepared statement.
func logStmt(logger *slog.Logger, prefix string) StmtHook {
	return func(ctx context.Context, query string, args []any, isQuery bool, run func() error) error {
		msg := prefix + " exec"
		if isQuery {
			msg = prefix + " query"
		}
		logger.DebugContext(ctx, msg, "sql", query, "args", args)
		return run()
	}
}

// Tx starts a logged transaction.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.logger.DebugContext(ctx, "begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugTx{Tx: tx, logger: d.logger}, nil
}

// DebugTx is a transaction of a DebugDriver.
type DebugTx struct {
	dialect.Tx
	logger *slog.Logger
}

// Query implements dialect.ExecQuerier.
func (tx *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "tx query", "sql", query, "args", args)
	return tx.Tx.Query(ctx, query, args, v)
}

// Exec implements dialect.ExecQuerier.
func (tx *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "tx exec", "sql", query, "args", args)
	return tx.Tx.Exec(ctx, query, args, v)
}

// Prepare prepares a statement in the transaction.
func (tx *DebugTx) Prepare(ctx context.Context, query string) (*Stmt, error) {
	tx.logger.DebugContext(ctx, "tx prepare", "sql", query)
	stmt, err := prepare(ctx, tx.Tx, query)
	if err != nil {
		return nil, err
	}
	return stmt.Hook(logStmt(tx.logger, "tx stmt")), nil
}

func (tx *DebugTx) Commit() error {
	tx.logger.Debug("commit transaction")
	return tx.Tx.Commit()
}

func (tx *DebugTx) Rollback() error {
	tx.logger.Debug("rollback transaction")
	return tx.Tx.Rollback()
}

// prepare prepares query on a wrapped transaction that can prepare.
func prepare(ctx context.Context, tx dialect.Tx, query string) (*Stmt, error) {
	p, ok := tx.(interface {
		Prepare(context.Context, string) (*Stmt, error)
	})
	if !ok {
		return nil, fmt.Errorf("dialect/sql: %T does not support prepared statements", tx)
	}
	return p.Prepare(ctx, query)
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*StatsTx)(nil)
	_ dialect.Tx     = (*DebugTx)(nil)
)
