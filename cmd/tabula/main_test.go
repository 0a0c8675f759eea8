package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula/config"
	"github.com/syssam/tabula/dialect"
)

func TestPrintStatements(t *testing.T) {
	cfg := config.Defaults()
	cfg.Dialect = dialect.Postgres
	var buf bytes.Buffer
	require.NoError(t, printStatements(&buf, cfg))
	out := buf.String()
	assert.Contains(t, out, "-- Order (order_ext, orders)")
	assert.Contains(t, out, `INSERT INTO "orders" ("customer", "ship_street", "ship_city", "placed_at") VALUES ($1, $2, $3, $4) RETURNING "id";`)
	assert.Contains(t, out, "-- optional order_ext")
	assert.Contains(t, out, `DELETE FROM "products" WHERE "id" = $1 AND "version" = $2;`)
}

func TestSmoke(t *testing.T) {
	cfg := config.Defaults()
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "smoke.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	cfg.Cache.QueryCache = true
	cfg.Log.Level = "error"
	var buf bytes.Buffer
	require.NoError(t, smoke(context.Background(), &buf, cfg, 3, 4))
	out := buf.String()
	assert.Contains(t, out, "3 sessions x 4 rounds")
	assert.Contains(t, out, "tabula_query_cache_puts_total")
	assert.Contains(t, out, "tabula_mutation_statements_total{table=order_ext,type=INSERT}")
}
