// Package session implements the unit of work: sessions track the
// instances they load or persist, write their changes at flush through
// the entity persisters and read queries through the query cache.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/syssam/tabula/cache"
	"github.com/syssam/tabula/cache/region/memory"
	"github.com/syssam/tabula/cache/region/redis"
	"github.com/syssam/tabula/config"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/executor"
	"github.com/syssam/tabula/mapping"
	"github.com/syssam/tabula/persister"
)

// Factory owns what sessions share: the driver, the entity persisters,
// the query cache and the clock. It is safe for concurrent use.
type Factory struct {
	drv        dialect.Driver
	translator *sql.Translator
	byType     map[reflect.Type]*persister.EntityPersister
	byName     map[string]*persister.EntityPersister
	results    *cache.QueryResultsCache
	timestamps *cache.TimestampsCache
	clock      *cache.Clock
	batchSize  int
	timeout    time.Duration
	dynamic    bool
	lobsLast   bool
	logger     *slog.Logger
	metrics    *executor.Metrics
	registry   *prometheus.Registry
	closers    []func() error
}

// Option configures a Factory.
type Option func(*Factory)

// WithBatchSize sets the number of statements batched together.
func WithBatchSize(n int) Option {
	return func(f *Factory) { f.batchSize = n }
}

// WithStatementTimeout bounds each mutation statement.
func WithStatementTimeout(d time.Duration) Option {
	return func(f *Factory) { f.timeout = d }
}

// WithDynamicUpdate writes only the columns of changed attributes.
func WithDynamicUpdate(b bool) Option {
	return func(f *Factory) { f.dynamic = b }
}

// WithLobsLast orders large object columns last.
func WithLobsLast(b bool) Option {
	return func(f *Factory) { f.lobsLast = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithQueryCache enables the query cache. Its timestamps cache receives
// the invalidations of every session.
func WithQueryCache(c *cache.QueryResultsCache) Option {
	return func(f *Factory) { f.results = c }
}

// WithExecutorMetrics records mutation metrics.
func WithExecutorMetrics(m *executor.Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// NewFactory builds the persisters of entities over drv.
func NewFactory(drv dialect.Driver, entities []*mapping.Entity, opts ...Option) (*Factory, error) {
	f := &Factory{
		drv:        drv,
		translator: sql.NewTranslator(drv.Dialect()),
		byType:     make(map[reflect.Type]*persister.EntityPersister),
		byName:     make(map[string]*persister.EntityPersister),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.results != nil {
		f.timestamps = f.results.Timestamps()
		f.clock = f.timestamps.Clock()
	} else {
		f.clock = cache.NewClock(0)
	}
	for _, e := range entities {
		if _, ok := f.byName[e.Name()]; ok {
			return nil, fmt.Errorf("session: entity %s registered twice", e.Name())
		}
		p, err := persister.New(e, f.translator,
			persister.WithDynamicUpdate(f.dynamic),
			persister.WithLobsLast(f.lobsLast),
			persister.WithLogger(f.logger),
		)
		if err != nil {
			return nil, err
		}
		f.byName[e.Name()] = p
		f.byType[reflect.TypeOf(e.Accessor().Instantiate())] = p
	}
	return f, nil
}

// Open builds a factory from configuration: it opens the database,
// collects statement statistics or logs statements in debug mode and,
// when enabled, sets up the query cache on the configured region.
func Open(cfg config.Config, entities ...*mapping.Entity) (_ *Factory, rerr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Log.Logger(os.Stderr)
	drv, err := sql.OpenDriver(cfg.DriverName(), cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("session: opening database: %w", err)
	}
	closers := []func() error{drv.Close}
	defer func() {
		if rerr != nil {
			rerr = errors.Join(rerr, closeAll(closers))
		}
	}()
	reg := prometheus.NewRegistry()
	var conn dialect.Driver
	if cfg.Debug {
		conn = sql.NewDebugDriver(drv, logger)
	} else {
		statsOpts := []sql.StatsOption{sql.WithSlowQueryLog(logger)}
		if cfg.SlowQueryThreshold > 0 {
			statsOpts = append(statsOpts, sql.WithSlowThreshold(cfg.SlowQueryThreshold))
		}
		stats := sql.NewStatsDriver(drv, statsOpts...)
		if err := reg.Register(stats.QueryStats()); err != nil {
			return nil, err
		}
		conn = stats
	}
	opts := []Option{
		WithBatchSize(cfg.BatchSize),
		WithStatementTimeout(cfg.StatementTimeout),
		WithDynamicUpdate(cfg.DynamicUpdate),
		WithLobsLast(cfg.LobsLast),
		WithLogger(logger),
		WithExecutorMetrics(executor.NewMetrics(reg)),
	}
	if cfg.Cache.QueryCache {
		results, closer, err := newQueryCache(cfg.Cache, logger, cache.NewMetrics(reg))
		if err != nil {
			return nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		opts = append(opts, WithQueryCache(results))
	}
	f, err := NewFactory(conn, entities, opts...)
	if err != nil {
		return nil, err
	}
	f.registry = reg
	f.closers = closers
	return f, nil
}

func newQueryCache(cfg config.CacheConfig, logger *slog.Logger, m *cache.Metrics) (*cache.QueryResultsCache, func() error, error) {
	var (
		results    cache.QueryResultsRegion
		timestamps cache.TimestampsRegion
		closer     func() error
	)
	switch cfg.Region {
	case config.RegionRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		results = redis.NewResultsRegion("query-results", client, redis.WithPrefix(cfg.Prefix), redis.WithTTL(cfg.TTL))
		timestamps = redis.NewTimestampsRegion("timestamps", client, redis.WithPrefix(cfg.Prefix))
		closer = client.Close
	default:
		r, err := memory.NewResultsRegion("query-results", cfg.Size)
		if err != nil {
			return nil, nil, err
		}
		results = r
		timestamps = memory.NewTimestampsRegion("timestamps")
	}
	opts := []cache.Option{cache.WithLogger(logger), cache.WithMetrics(m)}
	ts := cache.NewTimestampsCache(timestamps, cache.NewClock(cfg.LockTimeout), opts...)
	return cache.NewQueryResultsCache(results, ts, opts...), closer, nil
}

// Driver returns the database driver.
func (f *Factory) Driver() dialect.Driver { return f.drv }

// Translator returns the SQL translator of the driver dialect.
func (f *Factory) Translator() *sql.Translator { return f.translator }

// QueryCache returns the query cache, or nil if disabled.
func (f *Factory) QueryCache() *cache.QueryResultsCache { return f.results }

// Registry returns the metrics registry of a factory built by Open.
func (f *Factory) Registry() *prometheus.Registry { return f.registry }

// Persister returns the persister of the named entity.
func (f *Factory) Persister(entity string) (*persister.EntityPersister, bool) {
	p, ok := f.byName[entity]
	return p, ok
}

func (f *Factory) persisterOf(v any) (*persister.EntityPersister, error) {
	p, ok := f.byType[reflect.TypeOf(v)]
	if !ok {
		return nil, fmt.Errorf("session: %T is not a mapped entity", v)
	}
	return p, nil
}

// Close releases the resources opened by Open.
func (f *Factory) Close() error {
	return closeAll(f.closers)
}

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	return errors.Join(errs...)
}
