// Package tabula maps entities spread over one or more tables onto
// per-table mutation statements, executes them over database/sql and
// caches query results with per-table invalidation timestamps.
//
// The root package holds the errors shared by the other packages:
//
//	mapping   entity and table mapping model
//	mutation  mutation groups, operations and value bindings
//	executor  executors and statement batching
//	persister per-entity insert, update, delete and load
//	query     queries and their translation to SQL
//	cache     query results and timestamps caches
//	session   the unit of work
package tabula
