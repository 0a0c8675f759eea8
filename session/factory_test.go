package session_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula/cache/region/memory"
	"github.com/syssam/tabula/cache/region/redis"
	"github.com/syssam/tabula/config"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/internal/demo"
	"github.com/syssam/tabula/mapping"
	"github.com/syssam/tabula/session"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "factory.db") + "?_pragma=busy_timeout(5000)"
	cfg.Log.Level = "error"
	return cfg
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	entities, err := demo.Entities()
	require.NoError(t, err)

	t.Run("Memory", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Cache.QueryCache = true
		f, err := session.Open(cfg, entities...)
		require.NoError(t, err)
		defer f.Close()
		assert.IsType(t, &sql.StatsDriver{}, f.Driver())
		assert.IsType(t, &memory.ResultsRegion{}, f.QueryCache().Region())
		assert.Equal(t, dialect.SQLite, f.Translator().Dialect())
		p, ok := f.Persister("Order")
		require.True(t, ok)
		assert.Equal(t, "Order", p.Entity().Name())

		require.NoError(t, demo.CreateSchema(ctx, f.Driver(), cfg.Dialect))
		s := f.OpenSession()
		require.NoError(t, s.Persist(ctx, &demo.Product{ID: "p1", Name: "pen", Price: 1}))
		require.NoError(t, s.Close(ctx))
		families, err := f.Registry().Gather()
		require.NoError(t, err)
		names := make(map[string]bool)
		for _, fam := range families {
			names[fam.GetName()] = true
		}
		assert.True(t, names["tabula_sql_statements_total"])
		assert.True(t, names["tabula_query_cache_hits_total"])
	})

	t.Run("Redis", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Cache.QueryCache = true
		cfg.Cache.Region = config.RegionRedis
		f, err := session.Open(cfg, entities...)
		require.NoError(t, err, "the client connects lazily")
		assert.IsType(t, &redis.ResultsRegion{}, f.QueryCache().Region())
		assert.NoError(t, f.Close())
	})

	t.Run("Debug", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Debug = true
		f, err := session.Open(cfg, entities...)
		require.NoError(t, err)
		defer f.Close()
		assert.IsType(t, &sql.DebugDriver{}, f.Driver())
		assert.Nil(t, f.QueryCache())
	})

	t.Run("Invalid", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.DSN = ""
		_, err := session.Open(cfg, entities...)
		assert.Error(t, err)
	})
}

func TestNewFactoryDuplicateEntity(t *testing.T) {
	drv, err := sql.Open(dialect.SQLite, "file:"+filepath.Join(t.TempDir(), "dup.db"))
	require.NoError(t, err)
	defer drv.Close()
	order := mapping.MustBuild(demo.OrderDef())
	_, err = session.NewFactory(drv, []*mapping.Entity{order, order})
	assert.Error(t, err)
}

func TestWrappingDriversSeeMutations(t *testing.T) {
	ctx := context.Background()
	entities, err := demo.Entities()
	require.NoError(t, err)
	open := func(t *testing.T) *sql.Driver {
		drv, err := sql.Open(dialect.SQLite, "file:"+filepath.Join(t.TempDir(), "wrap.db")+"?_pragma=busy_timeout(5000)")
		require.NoError(t, err)
		t.Cleanup(func() { drv.Close() })
		require.NoError(t, demo.CreateSchema(ctx, drv, dialect.SQLite))
		return drv
	}

	t.Run("Stats", func(t *testing.T) {
		stats := sql.NewStatsDriver(open(t))
		f, err := session.NewFactory(stats, entities)
		require.NoError(t, err)
		s := f.OpenSession()
		defer s.Close(ctx)

		p := &demo.Product{ID: "p1", Name: "pen", Price: 1}
		require.NoError(t, s.Persist(ctx, p))
		require.NoError(t, s.Flush(ctx))
		assert.EqualValues(t, 1, stats.QueryStats().Stats().ByVerb["insert"])

		require.NoError(t, s.Begin(ctx))
		p.Price = 2
		require.NoError(t, s.Commit(ctx))
		snap := stats.QueryStats().Stats()
		assert.EqualValues(t, 1, snap.ByVerb["update"], "statements prepared in a transaction are counted")
		assert.EqualValues(t, 2, snap.TotalExecs)
	})

	t.Run("Debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		f, err := session.NewFactory(sql.NewDebugDriver(open(t), logger), entities)
		require.NoError(t, err)
		s := f.OpenSession()
		defer s.Close(ctx)

		require.NoError(t, s.Persist(ctx, &demo.Product{ID: "p1", Name: "pen", Price: 1}))
		require.NoError(t, s.Flush(ctx))
		assert.Contains(t, buf.String(), `msg="stmt exec" sql="INSERT INTO \"products\"`)
	})
}
