package executor

import (
	"context"
	stdsql "database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/mapping"
	"github.com/syssam/tabula/mutation"
)

type order struct{}

func orderEntity(t *testing.T, extOptional bool) *mapping.Entity {
	t.Helper()
	e, err := mapping.Build(mapping.EntityDef{
		Name: "Order",
		Tables: []mapping.TableDef{
			{Name: "orders"},
			{Name: "order_ext", KeyColumns: []string{"order_id"}, Optional: extOptional},
		},
		Identifier: mapping.IdentifierDef{Generation: mapping.Identity},
		Attributes: []mapping.AttributeDef{
			{Name: "customer", Columns: []mapping.ColumnDef{{Type: mapping.TypeVarchar}}},
			{Name: "giftNote", Table: "order_ext", Columns: []mapping.ColumnDef{{Type: mapping.TypeVarchar, Nullable: true}}},
		},
		Accessor: mapping.AccessorFuncs[order]{},
	})
	require.NoError(t, err)
	return e
}

func productEntity(t *testing.T) *mapping.Entity {
	t.Helper()
	e, err := mapping.Build(mapping.EntityDef{
		Name:       "Product",
		Identifier: mapping.IdentifierDef{Types: []mapping.SQLType{mapping.TypeVarchar}},
		Attributes: []mapping.AttributeDef{
			{Name: "name", Columns: []mapping.ColumnDef{{Type: mapping.TypeVarchar}}},
		},
		Accessor: mapping.AccessorFuncs[order]{},
	})
	require.NoError(t, err)
	return e
}

func newMock(t *testing.T, name string) (*sql.Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return sql.OpenDB(name, db), mock
}

func group(t *testing.T, e *mapping.Entity, name string, typ mapping.MutationType, dirty []int) *mutation.Group {
	t.Helper()
	b := mutation.NewBuilder(e, sql.NewTranslator(name))
	var (
		g   *mutation.Group
		err error
	)
	switch typ {
	case mapping.Insert:
		g, err = b.InsertGroup()
	case mapping.Update:
		g, err = b.UpdateGroup(dirty)
	default:
		g, err = b.DeleteGroup()
	}
	require.NoError(t, err)
	return g
}

func TestInsertGeneratedKey(t *testing.T) {
	note := "gift"
	t.Run("Returning", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLite)
		e := orderEntity(t, true)
		mock.ExpectPrepare(`INSERT INTO "orders" ("customer") VALUES (?) RETURNING "id"`).
			WillBeClosed().
			ExpectQuery().WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
		mock.ExpectPrepare(`INSERT INTO "order_ext" ("order_id", "gift_note") VALUES (?, ?)`).
			WillBeClosed().
			ExpectExec().WithArgs(int64(42), "gift").
			WillReturnResult(sqlmock.NewResult(0, 1))

		state := []any{"acme", &note}
		exec := NewService(drv).CreateExecutor(group(t, e, dialect.SQLite, mapping.Insert, nil), NoBatch)
		require.IsType(t, &standard{}, exec)
		exec.ValueBindings().BindState(state, mutation.UsageSet)
		res, err := exec.Execute(context.Background(), nil, mutation.InsertInclusion(mutation.NewInsertValuesAnalysis(e, state)))
		require.NoError(t, err)
		require.NoError(t, exec.Release())
		assert.Equal(t, int64(42), res.GeneratedID)
		assert.Equal(t, []string{"orders", "order_ext"}, res.Executed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LastInsertId", func(t *testing.T) {
		drv, mock := newMock(t, dialect.MySQL)
		e := orderEntity(t, true)
		mock.ExpectPrepare("INSERT INTO `orders` (`customer`) VALUES (?)").
			WillBeClosed().
			ExpectExec().WithArgs("acme").
			WillReturnResult(sqlmock.NewResult(7, 1))

		state := []any{"acme", nil}
		exec := NewService(drv).CreateExecutor(group(t, e, dialect.MySQL, mapping.Insert, nil), NoBatch)
		exec.ValueBindings().BindState(state, mutation.UsageSet)
		res, err := exec.Execute(context.Background(), nil, mutation.InsertInclusion(mutation.NewInsertValuesAnalysis(e, state)))
		require.NoError(t, err)
		require.NoError(t, exec.Release())
		assert.Equal(t, int64(7), res.GeneratedID)
		assert.Equal(t, []string{"orders"}, res.Executed)
		assert.Equal(t, []string{"order_ext"}, res.Skipped, "all-null optional table is not written")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateOnlyChangedTable(t *testing.T) {
	drv, mock := newMock(t, dialect.SQLite)
	e := orderEntity(t, false)
	mock.ExpectPrepare(`UPDATE "order_ext" SET "gift_note" = ? WHERE "order_id" = ?`).
		WillBeClosed().
		ExpectExec().WithArgs("new", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	prev, next := []any{"acme", "old"}, []any{"acme", "new"}
	exec := NewService(drv).CreateExecutor(group(t, e, dialect.SQLite, mapping.Update, nil), NoBatch)
	b := exec.ValueBindings()
	b.BindState(next, mutation.UsageSet)
	b.BindIdentifier(int64(5), mutation.UsageRestrict)
	analysis := mutation.NewUpdateValuesAnalysis(e, prev, next, nil)
	res, err := exec.Execute(context.Background(), analysis, mutation.UpdateInclusion(analysis))
	require.NoError(t, err)
	require.NoError(t, exec.Release())
	assert.Equal(t, []string{"order_ext"}, res.Executed)
	assert.Equal(t, []string{"orders"}, res.Skipped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStaleStateAbortsGroup(t *testing.T) {
	drv, mock := newMock(t, dialect.SQLite)
	e := orderEntity(t, false)
	mock.ExpectPrepare(`UPDATE "orders" SET "customer" = ? WHERE "id" = ?`).
		WillBeClosed().
		ExpectExec().WithArgs("globex", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reg := prometheus.NewPedanticRegistry()
	exec := NewService(drv, WithMetrics(NewMetrics(reg))).CreateExecutor(group(t, e, dialect.SQLite, mapping.Update, nil), NoBatch)
	b := exec.ValueBindings()
	b.BindState([]any{"globex", "new"}, mutation.UsageSet)
	b.BindIdentifier(int64(5), mutation.UsageRestrict)
	_, err := exec.Execute(context.Background(), nil, mutation.IncludeAll)
	require.Error(t, err)
	require.NoError(t, exec.Release())

	assert.True(t, tabula.IsStaleState(err))
	assert.True(t, tabula.IsConcurrencyConflict(err))
	assert.True(t, tabula.IsRowCountMismatch(err))
	var stale *tabula.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "Order", stale.Entity)
	assert.Equal(t, int64(5), stale.ID)
	// order_ext was never prepared nor executed.
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, counterValue(t, reg, "tabula_mutation_row_count_mismatches_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "tabula_mutation_statements_total"))
}

func TestStatementTimeoutAbortsGroup(t *testing.T) {
	drv, mock := newMock(t, dialect.SQLite)
	e := orderEntity(t, false)
	mock.ExpectPrepare(`UPDATE "orders" SET "customer" = ? WHERE "id" = ?`).
		ExpectExec().WithArgs("globex", int64(5)).
		WillDelayFor(time.Second).
		WillReturnResult(sqlmock.NewResult(0, 1))

	exec := NewService(drv, WithStatementTimeout(20*time.Millisecond)).
		CreateExecutor(group(t, e, dialect.SQLite, mapping.Update, nil), NoBatch)
	require.IsType(t, &standard{}, exec)
	b := exec.ValueBindings()
	b.BindState([]any{"globex", "new"}, mutation.UsageSet)
	b.BindIdentifier(int64(5), mutation.UsageRestrict)
	start := time.Now()
	res, err := exec.Execute(context.Background(), nil, mutation.IncludeAll)
	_ = exec.Release()
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, tabula.IsDataAccessError(err))
	assert.False(t, tabula.IsConcurrencyConflict(err))
	var dae *tabula.DataAccessError
	require.ErrorAs(t, err, &dae)
	assert.Equal(t, "orders", dae.Table)
	assert.Equal(t, "update", dae.Op)
	// order_ext was never prepared nor executed.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverErrors(t *testing.T) {
	drv, mock := newMock(t, dialect.SQLite)
	e := productEntity(t)
	mock.ExpectPrepare(`INSERT INTO "products" ("id", "name") VALUES (?, ?)`).
		WillBeClosed().
		ExpectExec().WithArgs("p1", "desk").
		WillReturnError(errors.New("UNIQUE constraint failed: products.id"))

	exec := NewService(drv).CreateExecutor(group(t, e, dialect.SQLite, mapping.Insert, nil), NoBatch)
	require.IsType(t, &singleNonBatched{}, exec)
	exec.ValueBindings().BindIdentifier("p1", mutation.UsageSet)
	exec.ValueBindings().BindState([]any{"desk"}, mutation.UsageSet)
	_, err := exec.Execute(context.Background(), nil, nil)
	require.Error(t, err)
	require.NoError(t, exec.Release())

	assert.True(t, tabula.IsConstraintError(err))
	assert.True(t, tabula.IsDataAccessError(err))
	assert.False(t, tabula.IsConcurrencyConflict(err))
	var dae *tabula.DataAccessError
	require.ErrorAs(t, err, &dae)
	assert.Equal(t, "products", dae.Table)
	assert.Equal(t, "insert", dae.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatching(t *testing.T) {
	const insert = `INSERT INTO "products" ("id", "name") VALUES (?, ?)`
	e := productEntity(t)
	g := group(t, e, dialect.SQLite, mapping.Insert, nil)
	ctx := context.Background()

	add := func(t *testing.T, svc *Service, id string) {
		exec := svc.CreateExecutor(g, "Product#INSERT")
		require.IsType(t, &singleBatched{}, exec)
		exec.ValueBindings().BindIdentifier(id, mutation.UsageSet)
		exec.ValueBindings().BindState([]any{"item " + id}, mutation.UsageSet)
		res, err := exec.Execute(ctx, nil, nil)
		require.NoError(t, err)
		assert.True(t, res.Batched)
		require.NoError(t, exec.Release())
	}

	t.Run("FlushOnSize", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLite)
		svc := NewService(drv, WithBatchSize(2))
		prep := mock.ExpectPrepare(insert).WillBeClosed()
		prep.ExpectExec().WithArgs("a", "item a").WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WithArgs("b", "item b").WillReturnResult(sqlmock.NewResult(0, 1))
		add(t, svc, "a")
		assert.Equal(t, 1, svc.Batch().Pending())
		add(t, svc, "b")
		assert.Equal(t, 0, svc.Batch().Pending())
		add(t, svc, "c")
		assert.Equal(t, 1, svc.Batch().Pending())
		require.NoError(t, mock.ExpectationsWereMet())

		svc.Batch().AbortBatch()
		assert.Equal(t, 0, svc.Batch().Pending())
		require.NoError(t, svc.Batch().ExecuteBatch(ctx))
	})

	t.Run("BatchPosition", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLite)
		svc := NewService(drv, WithBatchSize(10))
		prep := mock.ExpectPrepare(insert).WillBeClosed()
		prep.ExpectExec().WithArgs("a", "item a").WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WithArgs("b", "item b").WillReturnResult(sqlmock.NewResult(0, 0))
		add(t, svc, "a")
		add(t, svc, "b")
		add(t, svc, "c")
		err := svc.Batch().ExecuteBatch(ctx)
		require.Error(t, err)
		var mismatch *tabula.RowCountMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 1, mismatch.BatchPosition)
		var stale *tabula.StaleStateError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, "b", stale.ID)
		assert.Equal(t, 0, svc.Batch().Pending(), "a failed batch is discarded")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ImmediateStatementFlushesBatch", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLite)
		svc := NewService(drv, WithBatchSize(10))
		mock.ExpectPrepare(insert).WillBeClosed().
			ExpectExec().WithArgs("a", "item a").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectPrepare(`DELETE FROM "products" WHERE "id" = ?`).WillBeClosed().
			ExpectExec().WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 1))
		add(t, svc, "a")
		exec := svc.CreateExecutor(group(t, e, dialect.SQLite, mapping.Delete, nil), NoBatch)
		exec.ValueBindings().BindIdentifier("a", mutation.UsageRestrict)
		_, err := exec.Execute(ctx, nil, mutation.DeleteInclusion())
		require.NoError(t, err)
		require.NoError(t, exec.Release())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSelfExecutingOptionalTable(t *testing.T) {
	drv, mock := newMock(t, dialect.Postgres)
	e := orderEntity(t, true)
	mock.ExpectPrepare(`INSERT INTO "order_ext" ("order_id", "gift_note") VALUES ($1, $2)`).
		WillBeClosed().
		ExpectExec().WithArgs(int64(3), "note").
		WillReturnResult(sqlmock.NewResult(0, 1))

	prev, next := []any{"acme", nil}, []any{"acme", "note"}
	exec := NewService(drv).CreateExecutor(group(t, e, dialect.Postgres, mapping.Update, []int{1}), NoBatch)
	require.IsType(t, &singleSelfExecuting{}, exec)
	b := exec.ValueBindings()
	b.BindState(next, mutation.UsageSet)
	b.BindIdentifier(int64(3), mutation.UsageSet)
	b.BindIdentifier(int64(3), mutation.UsageRestrict)
	analysis := mutation.NewUpdateValuesAnalysis(e, prev, next, nil)
	res, err := exec.Execute(context.Background(), analysis, mutation.UpdateInclusion(analysis))
	require.NoError(t, err)
	require.NoError(t, exec.Release())
	assert.Equal(t, []string{"order_ext"}, res.Executed)
	require.NoError(t, mock.ExpectationsWereMet())
}

// execConn is a connection without prepared statement support.
type execConn struct {
	queries []string
	rows    int64
}

func (c *execConn) Exec(_ context.Context, query string, _, v any) error {
	c.queries = append(c.queries, query)
	if r, ok := v.(*stdsql.Result); ok {
		*r = driver.RowsAffected(c.rows)
	}
	return nil
}

func (c *execConn) Query(context.Context, string, any, any) error {
	return errors.New("unexpected query")
}

func TestUnpreparedConn(t *testing.T) {
	e := productEntity(t)
	conn := &execConn{rows: 1}
	exec := NewService(conn).CreateExecutor(group(t, e, dialect.MySQL, mapping.Delete, nil), NoBatch)
	exec.ValueBindings().BindIdentifier("p1", mutation.UsageRestrict)
	_, err := exec.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, exec.Release())
	assert.Equal(t, []string{"DELETE FROM `products` WHERE `id` = ?"}, conn.queries)

	exec = NewService(&execConn{}).CreateExecutor(group(t, e, dialect.MySQL, mapping.Delete, nil), NoBatch)
	exec.ValueBindings().BindIdentifier("p1", mutation.UsageRestrict)
	_, err = exec.Execute(context.Background(), nil, nil)
	assert.True(t, tabula.IsStaleState(err))

	exec = NewService(conn).CreateExecutor(group(t, e, dialect.MySQL, mapping.Delete, nil), NoBatch)
	_, err = exec.Execute(context.Background(), nil, nil)
	require.Error(t, err, "unbound parameters fail before execution")
	assert.Len(t, conn.queries, 1)
}

func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
