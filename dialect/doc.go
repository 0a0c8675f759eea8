// Package dialect declares the contracts tabula runs statements through
// and the names of the databases it renders SQL for.
//
// A Driver executes statements and starts transactions; a Tx executes
// statements until it is committed or rolled back. Both take their
// arguments as []any and write results into the value passed as v, a
// *sql.Rows for Query and nil or a *sql.Result for Exec.
//
// Postgres, MySQL and SQLite are the supported dialects. The database/sql
// implementation lives in dialect/sql; dialect/sql/sqlerr tells which
// constraint a driver error violated.
package dialect
