package sql

import (
	"slices"
	"strings"
)

// NamedTable is a table reference of the read path. It can be aliased
// and joined.
type NamedTable struct {
	schema string
	name   string
	alias  string
}

// Table returns a table reference for the given name.
func Table(name string) *NamedTable {
	return &NamedTable{name: name}
}

// Schema sets the schema qualifier of the table.
func (t *NamedTable) Schema(name string) *NamedTable {
	t.schema = name
	return t
}

// As sets the alias of the table.
func (t *NamedTable) As(alias string) *NamedTable {
	t.alias = alias
	return t
}

// Name returns the table name.
func (t *NamedTable) Name() string { return t.name }

// Alias returns the table alias, if any.
func (t *NamedTable) Alias() string { return t.alias }

// C returns a column of the table, qualified by its alias or name.
func (t *NamedTable) C(column string) *ColumnReference {
	q := t.alias
	if q == "" {
		q = t.name
	}
	return &ColumnReference{Qualifier: q, Column: column}
}

func (t *NamedTable) qualifiedName() string {
	if t.schema != "" {
		return t.schema + "." + t.name
	}
	return t.name
}

func (t *NamedTable) render(b *Builder) {
	b.Ident(t.qualifiedName())
	if t.alias != "" {
		b.WriteString(" AS ").Ident(t.alias)
	}
}

// MutatingTableReference is the table reference of DML statements. It
// exposes exactly one table and cannot take part in joins.
type MutatingTableReference struct {
	name string
}

// MutatingTable returns the reference of the table a statement mutates.
func MutatingTable(name string) *MutatingTableReference {
	return &MutatingTableReference{name: name}
}

// Name returns the table name.
func (m *MutatingTableReference) Name() string { return m.name }

// C returns an unqualified column of the table.
func (m *MutatingTableReference) C(column string) *ColumnReference {
	return &ColumnReference{Column: column}
}

func (m *MutatingTableReference) render(b *Builder) { b.Ident(m.name) }

// JoinKind is the kind of a table join.
type JoinKind int

// Join kinds.
const (
	InnerJoin JoinKind = iota
	LeftJoin
)

// Join joins a table to the root of a from clause.
type Join struct {
	Kind  JoinKind
	Table *NamedTable
	On    Predicate
}

func (j *Join) render(b *Builder) {
	if j.Kind == LeftJoin {
		b.WriteString(" LEFT JOIN ")
	} else {
		b.WriteString(" JOIN ")
	}
	j.Table.render(b)
	if j.On == nil {
		b.AddError(errorf("join of table %q without a condition", j.Table.Name()))
		return
	}
	b.WriteString(" ON ")
	j.On.render(b)
}

// FromClause is a root table with its joins.
type FromClause struct {
	Root  *NamedTable
	Joins []*Join
}

// From returns a from clause rooted at t.
func From(t *NamedTable) *FromClause {
	return &FromClause{Root: t}
}

// Join adds a join to the clause.
func (f *FromClause) Join(kind JoinKind, t *NamedTable, on Predicate) *FromClause {
	f.Joins = append(f.Joins, &Join{Kind: kind, Table: t, On: on})
	return f
}

func (f *FromClause) render(b *Builder) {
	f.Root.render(b)
	for _, j := range f.Joins {
		j.render(b)
	}
}

// ColumnReference references a column, optionally qualified.
type ColumnReference struct {
	Qualifier string
	Column    string
}

// Column returns a column reference.
func Column(qualifier, column string) *ColumnReference {
	return &ColumnReference{Qualifier: qualifier, Column: column}
}

func (c *ColumnReference) render(b *Builder) {
	if c.Qualifier != "" {
		b.Ident(c.Qualifier).WriteString(".")
	}
	b.Ident(c.Column)
}

// Parameter is a bound statement parameter. Its value is emitted into the
// argument list as is, so it may also be a descriptor resolved at
// execution time.
type Parameter struct {
	Value any
}

// Param returns a parameter node for v.
func Param(v any) *Parameter {
	return &Parameter{Value: v}
}

func (p *Parameter) render(b *Builder) { b.Arg(p.Value) }

// Fragment is a raw SQL fragment. Each '?' in SQL is replaced by the
// corresponding node of Args.
type Fragment struct {
	SQL  string
	Args []Node
}

// Expr returns a fragment with '?' slots filled by args, like "upper(?)".
func Expr(sql string, args ...Node) *Fragment {
	return &Fragment{SQL: sql, Args: args}
}

// Raw returns a fragment without slots.
func Raw(sql string) *Fragment {
	return &Fragment{SQL: sql}
}

func (f *Fragment) render(b *Builder) {
	if n := CountPlaceholders(f.SQL); n != len(f.Args) {
		b.AddError(errorf("fragment %q has %d slots but %d arguments", f.SQL, n, len(f.Args)))
		return
	}
	var (
		next   int
		quoted bool
	)
	for i := 0; i < len(f.SQL); i++ {
		c := f.SQL[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.sb.WriteByte(c)
		case c == '?' && !quoted:
			f.Args[next].render(b)
			next++
		default:
			b.sb.WriteByte(c)
		}
	}
}

// Func is a function call expression.
type Func struct {
	Name string
	Args []Node
}

func (f *Func) render(b *Builder) {
	b.WriteString(f.Name).WriteString("(")
	b.Join(", ", f.Args...)
	b.WriteString(")")
}

// Predicate is a boolean expression.
type Predicate interface {
	Node
	predicate()
}

// Operator is a comparison operator.
type Operator string

// Comparison operators.
const (
	OpEQ   Operator = "="
	OpNEQ  Operator = "<>"
	OpLT   Operator = "<"
	OpLTE  Operator = "<="
	OpGT   Operator = ">"
	OpGTE  Operator = ">="
	OpLike Operator = "LIKE"
)

// Comparison compares two expressions.
type Comparison struct {
	Left  Node
	Op    Operator
	Right Node
}

func (*Comparison) predicate() {}

func (c *Comparison) render(b *Builder) {
	c.Left.render(b)
	b.WriteString(" " + string(c.Op) + " ")
	c.Right.render(b)
}

// Compare returns a comparison predicate.
func Compare(left Node, op Operator, right Node) *Comparison {
	return &Comparison{Left: left, Op: op, Right: right}
}

// EQ returns a "left = right" predicate.
func EQ(left, right Node) *Comparison { return Compare(left, OpEQ, right) }

// JunctionKind is the kind of a junction.
type JunctionKind int

// Junction kinds.
const (
	Conjunction JunctionKind = iota
	Disjunction
)

// Junction combines predicates with AND or OR.
type Junction struct {
	Kind       JunctionKind
	Predicates []Predicate
}

func (*Junction) predicate() {}

func (j *Junction) render(b *Builder) {
	if len(j.Predicates) == 0 {
		if j.Kind == Conjunction {
			b.WriteString("1 = 1")
		} else {
			b.WriteString("1 = 0")
		}
		return
	}
	sep := " AND "
	if j.Kind == Disjunction {
		sep = " OR "
	}
	for i, p := range j.Predicates {
		if i > 0 {
			b.WriteString(sep)
		}
		if inner, ok := p.(*Junction); ok && len(inner.Predicates) > 1 {
			b.WriteString("(")
			p.render(b)
			b.WriteString(")")
			continue
		}
		p.render(b)
	}
}

// And returns the conjunction of the given predicates.
func And(preds ...Predicate) *Junction {
	return &Junction{Kind: Conjunction, Predicates: preds}
}

// Or returns the disjunction of the given predicates.
func Or(preds ...Predicate) *Junction {
	return &Junction{Kind: Disjunction, Predicates: preds}
}

// Nullness tests an expression for NULL.
type Nullness struct {
	Expr    Node
	Negated bool
}

func (*Nullness) predicate() {}

func (n *Nullness) render(b *Builder) {
	n.Expr.render(b)
	if n.Negated {
		b.WriteString(" IS NOT NULL")
	} else {
		b.WriteString(" IS NULL")
	}
}

// IsNull returns an "expr IS NULL" predicate.
func IsNull(expr Node) *Nullness { return &Nullness{Expr: expr} }

// NotNull returns an "expr IS NOT NULL" predicate.
func NotNull(expr Node) *Nullness { return &Nullness{Expr: expr, Negated: true} }

// InList tests an expression against a list of values.
type InList struct {
	Expr    Node
	Values  []Node
	Negated bool
}

func (*InList) predicate() {}

func (in *InList) render(b *Builder) {
	if len(in.Values) == 0 {
		if in.Negated {
			b.WriteString("1 = 1")
		} else {
			b.WriteString("1 = 0")
		}
		return
	}
	in.Expr.render(b)
	if in.Negated {
		b.WriteString(" NOT")
	}
	b.WriteString(" IN (")
	b.Join(", ", in.Values...)
	b.WriteString(")")
}

// In returns an "expr IN (values...)" predicate.
func In(expr Node, values ...Node) *InList {
	return &InList{Expr: expr, Values: values}
}

// Assignment is a "column = value" pair of an UPDATE statement.
type Assignment struct {
	Column *ColumnReference
	Value  Node
}

func (a *Assignment) render(b *Builder) {
	b.Ident(a.Column.Column).WriteString(" = ")
	a.Value.render(b)
}

// Selection is an item of a select list.
type Selection struct {
	Expr  Node
	Alias string
}

func (s *Selection) render(b *Builder) {
	s.Expr.render(b)
	if s.Alias != "" {
		b.WriteString(" AS ").Ident(s.Alias)
	}
}

// SortSpecification is an item of an ORDER BY clause.
type SortSpecification struct {
	Expr Node
	Desc bool
}

func (s *SortSpecification) render(b *Builder) {
	s.Expr.render(b)
	if s.Desc {
		b.WriteString(" DESC")
	}
}

// Statement is a complete SQL statement.
type Statement interface {
	Node
	// AffectedTableNames returns the sorted names of the tables the
	// statement reads or writes.
	AffectedTableNames() []string
}

// SelectStatement is a SELECT query.
type SelectStatement struct {
	Distinct   bool
	Selections []*Selection
	From       *FromClause
	Where      Predicate
	OrderBy    []*SortSpecification
	Limit      int
	Offset     int
	ForUpdate  bool
}

// AffectedTableNames implements Statement.
func (s *SelectStatement) AffectedTableNames() []string {
	if s.From == nil {
		return nil
	}
	names := []string{s.From.Root.Name()}
	for _, j := range s.From.Joins {
		names = append(names, j.Table.Name())
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func (s *SelectStatement) render(b *Builder) {
	if len(s.Selections) == 0 {
		b.AddError(errorf("select without selections"))
		return
	}
	if s.From == nil {
		b.AddError(errorf("select without a from clause"))
		return
	}
	b.WriteString("SELECT ")
	if s.Distinct {
		b.WriteString("DISTINCT ")
	}
	for i, sel := range s.Selections {
		if i > 0 {
			b.WriteString(", ")
		}
		sel.render(b)
	}
	b.WriteString(" FROM ")
	s.From.render(b)
	if s.Where != nil {
		b.WriteString(" WHERE ")
		s.Where.render(b)
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			o.render(b)
		}
	}
	renderLimit(b, s.Limit, s.Offset)
	if s.ForUpdate && b.dialect != sqliteDialect {
		b.WriteString(" FOR UPDATE")
	}
}

// InsertStatement is an INSERT of a single row.
type InsertStatement struct {
	Table     *MutatingTableReference
	Columns   []*ColumnReference
	Values    []Node
	Returning []*ColumnReference
}

// AffectedTableNames implements Statement.
func (s *InsertStatement) AffectedTableNames() []string { return []string{s.Table.Name()} }

func (s *InsertStatement) render(b *Builder) {
	if len(s.Columns) != len(s.Values) {
		b.AddError(errorf("insert into %q has %d columns but %d values", s.Table.Name(), len(s.Columns), len(s.Values)))
		return
	}
	b.WriteString("INSERT INTO ")
	s.Table.render(b)
	switch {
	case len(s.Columns) == 0 && b.dialect == mysqlDialect:
		b.WriteString(" () VALUES ()")
	case len(s.Columns) == 0:
		b.WriteString(" DEFAULT VALUES")
	default:
		b.WriteString(" (")
		for i, c := range s.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Ident(c.Column)
		}
		b.WriteString(") VALUES (")
		b.Join(", ", s.Values...)
		b.WriteString(")")
	}
	renderReturning(b, s.Returning)
}

// UpdateStatement is an UPDATE of a single table.
type UpdateStatement struct {
	Table       *MutatingTableReference
	Assignments []*Assignment
	Where       Predicate
}

// AffectedTableNames implements Statement.
func (s *UpdateStatement) AffectedTableNames() []string { return []string{s.Table.Name()} }

func (s *UpdateStatement) render(b *Builder) {
	if len(s.Assignments) == 0 {
		b.AddError(errorf("update of %q without assignments", s.Table.Name()))
		return
	}
	b.WriteString("UPDATE ")
	s.Table.render(b)
	b.WriteString(" SET ")
	for i, a := range s.Assignments {
		if i > 0 {
			b.WriteString(", ")
		}
		a.render(b)
	}
	if s.Where != nil {
		b.WriteString(" WHERE ")
		s.Where.render(b)
	}
}

// DeleteStatement is a DELETE from a single table.
type DeleteStatement struct {
	Table *MutatingTableReference
	Where Predicate
}

// AffectedTableNames implements Statement.
func (s *DeleteStatement) AffectedTableNames() []string { return []string{s.Table.Name()} }

func (s *DeleteStatement) render(b *Builder) {
	b.WriteString("DELETE FROM ")
	s.Table.render(b)
	if s.Where != nil {
		b.WriteString(" WHERE ")
		s.Where.render(b)
	}
}

func renderReturning(b *Builder, cols []*ColumnReference) {
	if len(cols) == 0 {
		return
	}
	if b.dialect == mysqlDialect {
		b.AddError(errorf("dialect %q does not support RETURNING", b.dialect))
		return
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = b.quote(c.Column)
	}
	b.WriteString(" RETURNING " + strings.Join(names, ", "))
}
