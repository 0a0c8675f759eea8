// Package query lowers entity queries to SQL select statements and
// decodes their rows into entity state.
package query

import (
	"fmt"

	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/mapping"
)

// Query is a selection of instances of one entity. Restrictions and
// orderings name attributes; the identifier is addressed by its name.
type Query struct {
	entity       *mapping.Entity
	restrictions []restriction
	orders       []ordering
	limit        int
	offset       int
	cacheable    bool
	err          error
}

type restriction struct {
	attr  string
	op    sql.Operator
	value any
}

type ordering struct {
	attr string
	desc bool
}

// From starts a query over instances of e.
func From(e *mapping.Entity) *Query {
	return &Query{entity: e}
}

// Entity returns the queried entity.
func (q *Query) Entity() *mapping.Entity { return q.entity }

// Where adds a restriction. Restrictions are conjoined. A nil value
// compared with OpEQ or OpNEQ tests for NULL.
func (q *Query) Where(attr string, op sql.Operator, value any) *Query {
	q.restrictions = append(q.restrictions, restriction{attr: attr, op: op, value: value})
	return q
}

// WhereID restricts the query to the instance with the given identifier.
func (q *Query) WhereID(id any) *Query {
	return q.Where(q.entity.Identifier().Name(), sql.OpEQ, id)
}

// OrderBy orders results by attr, ascending.
func (q *Query) OrderBy(attr string) *Query {
	q.orders = append(q.orders, ordering{attr: attr})
	return q
}

// OrderByDesc orders results by attr, descending.
func (q *Query) OrderByDesc(attr string) *Query {
	q.orders = append(q.orders, ordering{attr: attr, desc: true})
	return q
}

// Limit bounds the number of rows returned.
func (q *Query) Limit(n int) *Query {
	if n < 0 {
		q.err = fmt.Errorf("query: negative limit %d", n)
	}
	q.limit = n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	if n < 0 {
		q.err = fmt.Errorf("query: negative offset %d", n)
	}
	q.offset = n
	return q
}

// Cacheable marks the query results as eligible for the query cache.
func (q *Query) Cacheable(b bool) *Query {
	q.cacheable = b
	return q
}

// IsCacheable reports whether results may be cached.
func (q *Query) IsCacheable() bool { return q.cacheable }

// Window returns the offset and limit of the query.
func (q *Query) Window() (first, max int) { return q.offset, q.limit }
