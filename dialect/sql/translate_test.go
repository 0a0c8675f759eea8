package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula/dialect"
)

func TestTranslateSelect(t *testing.T) {
	orders := Table("orders").As("t0")
	ext := Table("order_ext").As("t1")
	stmt := &SelectStatement{
		Selections: []*Selection{
			{Expr: orders.C("id")},
			{Expr: orders.C("customer")},
			{Expr: ext.C("gift_note")},
		},
		From: From(orders).Join(LeftJoin, ext, EQ(ext.C("order_id"), orders.C("id"))),
		Where: And(
			EQ(orders.C("customer"), Param("acme")),
			NotNull(ext.C("gift_note")),
		),
		OrderBy: []*SortSpecification{{Expr: orders.C("id"), Desc: true}},
		Limit:   10,
		Offset:  5,
	}

	tests := []struct {
		dialect string
		want    string
	}{
		{
			dialect.Postgres,
			`SELECT "t0"."id", "t0"."customer", "t1"."gift_note" FROM "orders" AS "t0" LEFT JOIN "order_ext" AS "t1" ON "t1"."order_id" = "t0"."id" WHERE "t0"."customer" = $1 AND "t1"."gift_note" IS NOT NULL ORDER BY "t0"."id" DESC LIMIT 10 OFFSET 5`,
		},
		{
			dialect.MySQL,
			"SELECT `t0`.`id`, `t0`.`customer`, `t1`.`gift_note` FROM `orders` AS `t0` LEFT JOIN `order_ext` AS `t1` ON `t1`.`order_id` = `t0`.`id` WHERE `t0`.`customer` = ? AND `t1`.`gift_note` IS NOT NULL ORDER BY `t0`.`id` DESC LIMIT 10 OFFSET 5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			query, args, err := NewTranslator(tt.dialect).Translate(stmt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, query)
			assert.Equal(t, []any{"acme"}, args)
		})
	}
	assert.Equal(t, []string{"order_ext", "orders"}, stmt.AffectedTableNames())
}

func TestTranslateOffsetWithoutLimit(t *testing.T) {
	stmt := &SelectStatement{
		Selections: []*Selection{{Expr: Column("", "id")}},
		From:       From(Table("products")),
		Offset:     20,
		ForUpdate:  true,
	}
	tests := map[string]string{
		dialect.Postgres: `SELECT "id" FROM "products" OFFSET 20 FOR UPDATE`,
		dialect.MySQL:    "SELECT `id` FROM `products` LIMIT 18446744073709551615 OFFSET 20 FOR UPDATE",
		dialect.SQLite:   `SELECT "id" FROM "products" LIMIT -1 OFFSET 20`,
	}
	for d, want := range tests {
		t.Run(d, func(t *testing.T) {
			query, _, err := NewTranslator(d).Translate(stmt)
			require.NoError(t, err)
			assert.Equal(t, want, query)
		})
	}
}

func TestTranslateInsert(t *testing.T) {
	tbl := MutatingTable("orders")
	stmt := &InsertStatement{
		Table:     tbl,
		Columns:   []*ColumnReference{tbl.C("customer"), tbl.C("code")},
		Values:    []Node{Param("acme"), Expr("upper(?)", Param("x1"))},
		Returning: []*ColumnReference{tbl.C("id")},
	}
	query, args, err := NewTranslator(dialect.Postgres).Translate(stmt)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "orders" ("customer", "code") VALUES ($1, upper($2)) RETURNING "id"`, query)
	assert.Equal(t, []any{"acme", "x1"}, args)

	_, _, err = NewTranslator(dialect.MySQL).Translate(stmt)
	require.Error(t, err, "mysql has no RETURNING")

	t.Run("DefaultValues", func(t *testing.T) {
		empty := &InsertStatement{Table: MutatingTable("audit")}
		query, _, err := NewTranslator(dialect.SQLite).Translate(empty)
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "audit" DEFAULT VALUES`, query)
		query, _, err = NewTranslator(dialect.MySQL).Translate(empty)
		require.NoError(t, err)
		assert.Equal(t, "INSERT INTO `audit` () VALUES ()", query)
	})

	t.Run("Mismatch", func(t *testing.T) {
		bad := &InsertStatement{Table: tbl, Columns: []*ColumnReference{tbl.C("a")}}
		_, _, err := NewTranslator(dialect.SQLite).Translate(bad)
		require.Error(t, err)
	})
}

func TestTranslateUpdateDelete(t *testing.T) {
	tbl := MutatingTable("products")
	update := &UpdateStatement{
		Table: tbl,
		Assignments: []*Assignment{
			{Column: tbl.C("price"), Value: Param(10)},
			{Column: tbl.C("version"), Value: Param(2)},
		},
		Where: And(EQ(tbl.C("id"), Param(7)), EQ(tbl.C("version"), Param(1))),
	}
	query, args, err := NewTranslator(dialect.Postgres).Translate(update)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "products" SET "price" = $1, "version" = $2 WHERE "id" = $3 AND "version" = $4`, query)
	assert.Equal(t, []any{10, 2, 7, 1}, args)
	assert.Equal(t, []string{"products"}, update.AffectedTableNames())

	del := &DeleteStatement{Table: tbl, Where: EQ(tbl.C("id"), Param(7))}
	query, args, err = NewTranslator(dialect.SQLite).Translate(del)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "products" WHERE "id" = ?`, query)
	assert.Equal(t, []any{7}, args)

	_, _, err = NewTranslator(dialect.SQLite).Translate(&UpdateStatement{Table: tbl})
	require.Error(t, err)
}

func TestPredicates(t *testing.T) {
	c := Column("", "status")
	tests := []struct {
		name string
		pred Predicate
		want string
	}{
		{"in", In(c, Param("a"), Param("b")), `"status" IN (?, ?)`},
		{"empty in", In(c), "1 = 0"},
		{"not in empty", &InList{Expr: c, Negated: true}, "1 = 1"},
		{"nested", And(IsNull(c), Or(EQ(c, Param(1)), EQ(c, Param(2)))), `"status" IS NULL AND ("status" = ? OR "status" = ?)`},
		{"empty and", And(), "1 = 1"},
		{"func", Compare(&Func{Name: "lower", Args: []Node{c}}, OpLike, Param("x%")), `lower("status") LIKE ?`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Dialect(dialect.SQLite)
			tt.pred.render(b)
			require.NoError(t, b.Err())
			query, _ := b.Query()
			assert.Equal(t, tt.want, query)
		})
	}
}

func TestRewritePlaceholders(t *testing.T) {
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2 AND c = '?'",
		RewritePlaceholders(dialect.Postgres, "UPDATE t SET a = ? WHERE b = ? AND c = '?'"))
	assert.Equal(t, "UPDATE t SET a = ?", RewritePlaceholders(dialect.MySQL, "UPDATE t SET a = ?"))
	assert.Equal(t, 2, CountPlaceholders("f(?, '?', ?)"))
	assert.Equal(t, `"we""ird"`, Dialect(dialect.SQLite).quote(`we"ird`))
}

func TestFragmentSlotMismatch(t *testing.T) {
	b := Dialect(dialect.SQLite)
	Expr("upper(?)").render(b)
	require.Error(t, b.Err())
}
