// Package sql provides the database/sql driver of tabula and the
// dialect-neutral SQL tree together with its translator.
//
// # Statement Trees
//
// Statements are built from nodes rather than strings:
//
//   - NamedTable: read-path table reference; can be aliased and joined
//   - MutatingTableReference: the single table of an INSERT, UPDATE or DELETE
//   - ColumnReference, Parameter, Fragment, Func: expressions
//   - Comparison, Junction, Nullness, InList: predicates
//   - SelectStatement, InsertStatement, UpdateStatement, DeleteStatement
//
// DML statements accept only a MutatingTableReference, so write paths
// can never join.
//
//	orders := sql.Table("orders").As("t0")
//	stmt := &sql.SelectStatement{
//	    Selections: []*sql.Selection{{Expr: orders.C("id")}},
//	    From:       sql.From(orders),
//	    Where:      sql.EQ(orders.C("customer"), sql.Param("acme")),
//	}
//	query, args, err := sql.NewTranslator(dialect.Postgres).Translate(stmt)
//	// SELECT "t0"."id" FROM "orders" AS "t0" WHERE "t0"."customer" = $1
//
// # Dialects
//
// The translator quotes identifiers and numbers placeholders per dialect
// (PostgreSQL "$n", MySQL and SQLite "?"), renders RETURNING where the
// dialect has it, and adapts LIMIT/OFFSET.
//
// # Query Spaces
//
// Every statement reports AffectedTableNames, the exact set of tables it
// reads or writes. Query caching uses it as the invalidation unit.
//
// # Drivers
//
// Driver and Tx adapt database/sql to dialect.Driver and prepare
// statements for the executors. StatsDriver counts statements per verb
// and reports slow ones; its QueryStats is a Prometheus collector.
// DebugDriver logs every statement.
package sql
