package query

import (
	"fmt"
	"strconv"

	"github.com/syssam/tabula/cache"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/mapping"
)

// Select is a translated query.
type Select struct {
	SQL  string
	Args []any
	// Shape labels the selected columns as table.column, in order.
	Shape []string
	// Spaces are the tables read by the statement.
	Spaces    []string
	Statement *sql.SelectStatement

	entity *mapping.Entity
	first  int
	max    int
}

// Key returns the query cache key of the statement for tenant.
func (s *Select) Key(tenant string) cache.QueryKey {
	return cache.QueryKey{
		SQL:      s.SQL,
		Params:   s.Args,
		FirstRow: s.first,
		MaxRows:  s.max,
		Tenant:   tenant,
		Shape:    s.Shape,
	}
}

// Entity returns the entity the rows decode into.
func (s *Select) Entity() *mapping.Entity { return s.entity }

// lowering holds the table aliases of one translation.
type lowering struct {
	entity  *mapping.Entity
	aliases map[string]*sql.NamedTable
}

func (l *lowering) table(t *mapping.TableMapping) *sql.NamedTable {
	return l.aliases[t.Name()]
}

// Translate lowers q to a select statement. The identifier table is the
// root of the from clause; every other table is joined on its key
// columns, optional tables with a left join.
func Translate(tr *sql.Translator, q *Query) (*Select, error) {
	if q.err != nil {
		return nil, q.err
	}
	e := q.entity
	l := &lowering{entity: e, aliases: make(map[string]*sql.NamedTable, len(e.Tables()))}
	root := e.IdentifierTable()
	rootRef := sql.Table(root.Name()).As("t0")
	l.aliases[root.Name()] = rootRef
	from := sql.From(rootRef)
	rootKeys := root.KeyMapping().Columns()
	for i, t := range e.Tables()[1:] {
		ref := sql.Table(t.Name()).As("t" + strconv.Itoa(i+1))
		l.aliases[t.Name()] = ref
		keys := t.KeyMapping().Columns()
		on := make([]sql.Predicate, len(keys))
		for j, k := range keys {
			on[j] = sql.EQ(ref.C(k.Column), rootRef.C(rootKeys[j].Column))
		}
		kind := sql.InnerJoin
		if t.IsOptional() {
			kind = sql.LeftJoin
		}
		from.Join(kind, ref, conjoin(on))
	}

	stmt := &sql.SelectStatement{From: from, Limit: q.limit, Offset: q.offset}
	var shape []string
	for _, k := range rootKeys {
		stmt.Selections = append(stmt.Selections, &sql.Selection{Expr: rootRef.C(k.Column)})
		shape = append(shape, root.Name()+"."+k.Column)
	}
	for _, a := range e.Attributes() {
		ref := l.table(a.Table())
		for _, c := range a.Columns() {
			stmt.Selections = append(stmt.Selections, &sql.Selection{Expr: ref.C(c.Name)})
			shape = append(shape, c.Table+"."+c.Name)
		}
	}

	var where []sql.Predicate
	for _, r := range q.restrictions {
		p, err := l.restrict(r)
		if err != nil {
			return nil, err
		}
		where = append(where, p)
	}
	if len(where) > 0 {
		stmt.Where = conjoin(where)
	}
	for _, o := range q.orders {
		cols, err := l.columns(o.attr)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			stmt.OrderBy = append(stmt.OrderBy, &sql.SortSpecification{Expr: c, Desc: o.desc})
		}
	}

	query, args, err := tr.Translate(stmt)
	if err != nil {
		return nil, fmt.Errorf("query: translate %s: %w", e.Name(), err)
	}
	return &Select{
		SQL:       query,
		Args:      args,
		Shape:     shape,
		Spaces:    stmt.AffectedTableNames(),
		Statement: stmt,
		entity:    e,
		first:     q.offset,
		max:       q.limit,
	}, nil
}

// Load returns the statement loading the instance of e with identifier id.
func Load(tr *sql.Translator, e *mapping.Entity, id any) (*Select, error) {
	return Translate(tr, From(e).WhereID(id))
}

// columns resolves an attribute or the identifier to column references.
func (l *lowering) columns(name string) ([]*sql.ColumnReference, error) {
	if name == l.entity.Identifier().Name() {
		root := l.entity.IdentifierTable()
		ref := l.table(root)
		keys := root.KeyMapping().Columns()
		cols := make([]*sql.ColumnReference, len(keys))
		for i, k := range keys {
			cols[i] = ref.C(k.Column)
		}
		return cols, nil
	}
	a, ok := l.entity.Attribute(name)
	if !ok {
		return nil, fmt.Errorf("query: entity %s has no attribute %q", l.entity.Name(), name)
	}
	ref := l.table(a.Table())
	cols := make([]*sql.ColumnReference, len(a.Columns()))
	for i, c := range a.Columns() {
		cols[i] = ref.C(c.Name)
	}
	return cols, nil
}

// values decomposes a restriction value into column values.
func (l *lowering) values(name string, v any) []any {
	if name == l.entity.Identifier().Name() {
		return l.entity.Identifier().Disassemble(v)
	}
	a, _ := l.entity.Attribute(name)
	return a.Disassemble(v)
}

// restrict lowers a restriction. Multi-column values support equality
// only: equality is the conjunction of column equalities and inequality
// its negation.
func (l *lowering) restrict(r restriction) (sql.Predicate, error) {
	cols, err := l.columns(r.attr)
	if err != nil {
		return nil, err
	}
	if mapping.IsNull(r.value) {
		preds := make([]sql.Predicate, len(cols))
		for i, c := range cols {
			switch r.op {
			case sql.OpEQ:
				preds[i] = sql.IsNull(c)
			case sql.OpNEQ:
				preds[i] = sql.NotNull(c)
			default:
				return nil, fmt.Errorf("query: operator %s cannot compare %s with NULL", r.op, r.attr)
			}
		}
		if r.op == sql.OpNEQ {
			return disjoin(preds), nil
		}
		return conjoin(preds), nil
	}
	vals := l.values(r.attr, r.value)
	if len(vals) != len(cols) {
		return nil, fmt.Errorf("query: %s has %d columns, value has %d", r.attr, len(cols), len(vals))
	}
	if len(cols) == 1 {
		return sql.Compare(cols[0], r.op, sql.Param(vals[0])), nil
	}
	preds := make([]sql.Predicate, len(cols))
	for i, c := range cols {
		switch r.op {
		case sql.OpEQ, sql.OpNEQ:
			preds[i] = sql.Compare(c, r.op, sql.Param(vals[i]))
		default:
			return nil, fmt.Errorf("query: operator %s is not supported on multi-column %s", r.op, r.attr)
		}
	}
	if r.op == sql.OpNEQ {
		return disjoin(preds), nil
	}
	return conjoin(preds), nil
}

func conjoin(preds []sql.Predicate) sql.Predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	return sql.And(preds...)
}

func disjoin(preds []sql.Predicate) sql.Predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	return sql.Or(preds...)
}
