package mutation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/mapping"
)

// ParameterUsage tells whether a parameter writes a value or restricts rows.
type ParameterUsage int

const (
	// UsageSet binds a value written by the statement.
	UsageSet ParameterUsage = iota
	// UsageRestrict binds a value of the WHERE clause.
	UsageRestrict
)

// String returns the usage name.
func (u ParameterUsage) String() string {
	if u == UsageRestrict {
		return "RESTRICT"
	}
	return "SET"
}

// ColumnParameter describes a statement parameter. Statements carry these
// descriptors in place of values; ValueBindings resolves them per execution.
type ColumnParameter struct {
	Table  string
	Column string
	Usage  ParameterUsage
	Type   mapping.SQLType
}

// String returns a description of the parameter.
func (p *ColumnParameter) String() string {
	return p.Table + "." + p.Column + "(" + p.Usage.String() + ")"
}

// ColumnValueBinding pairs a column with the expression writing its value
// in one table operation.
type ColumnValueBinding struct {
	Table           string
	Column          string
	WriteExpression string
	Lob             bool
	Parameter       *ColumnParameter
}

func newBinding(table, column, writeExpr string, typ mapping.SQLType, usage ParameterUsage) *ColumnValueBinding {
	return &ColumnValueBinding{
		Table:           table,
		Column:          column,
		WriteExpression: writeExpr,
		Lob:             typ.IsLob(),
		Parameter:       &ColumnParameter{Table: table, Column: column, Usage: usage, Type: typ},
	}
}

// expr returns the value expression of the binding. A write expression
// without a '?' slot does not consume the parameter.
func (b *ColumnValueBinding) expr() sql.Node {
	switch {
	case b.WriteExpression == "":
		return sql.Param(b.Parameter)
	case strings.Contains(b.WriteExpression, "?"):
		return sql.Expr(b.WriteExpression, sql.Param(b.Parameter))
	default:
		return sql.Raw(b.WriteExpression)
	}
}

// TableBindings groups the column bindings of one table operation.
type TableBindings struct {
	Table           *mapping.TableMapping
	Keys            []*ColumnValueBinding
	Values          []*ColumnValueBinding
	OptimisticLocks []*ColumnValueBinding
}

// sortLobsLast moves LOB value bindings after all others, keeping order.
func (t *TableBindings) sortLobsLast() {
	slices.SortStableFunc(t.Values, func(a, b *ColumnValueBinding) int {
		switch {
		case a.Lob == b.Lob:
			return 0
		case a.Lob:
			return 1
		default:
			return -1
		}
	})
}

type bindingKey struct {
	table  string
	column string
	usage  ParameterUsage
}

// ValueBindings holds the values of one mutation execution, keyed by
// table, column and usage.
type ValueBindings struct {
	entity *mapping.Entity
	values map[bindingKey]any
	id     any
	hasID  bool
}

// NewValueBindings returns empty bindings for an entity.
func NewValueBindings(entity *mapping.Entity) *ValueBindings {
	return &ValueBindings{entity: entity, values: make(map[bindingKey]any)}
}

// BindValue binds a column value.
func (b *ValueBindings) BindValue(value any, table, column string, usage ParameterUsage) {
	b.values[bindingKey{table, column, usage}] = value
}

// BindIdentifier binds the key columns of the given tables, or of all
// tables when none is given.
func (b *ValueBindings) BindIdentifier(id any, usage ParameterUsage, tables ...string) {
	b.id, b.hasID = id, true
	for _, t := range b.entity.Tables() {
		if len(tables) > 0 && !slices.Contains(tables, t.Name()) {
			continue
		}
		values := t.KeyMapping().Values(id)
		for i, k := range t.KeyMapping().Columns() {
			b.BindValue(values[i], t.Name(), k.Column, usage)
		}
	}
}

// BindAttribute binds the columns of an attribute.
func (b *ValueBindings) BindAttribute(index int, value any, usage ParameterUsage) {
	a := b.entity.Attributes()[index]
	values := a.Disassemble(value)
	for i, c := range a.Columns() {
		b.BindValue(values[i], c.Table, c.Name, usage)
	}
}

// BindState binds every attribute of the state.
func (b *ValueBindings) BindState(state []any, usage ParameterUsage) {
	for i := range b.entity.Attributes() {
		b.BindAttribute(i, state[i], usage)
	}
}

// Identifier returns the bound identifier.
func (b *ValueBindings) Identifier() (any, bool) { return b.id, b.hasID }

// Value returns a bound value.
func (b *ValueBindings) Value(table, column string, usage ParameterUsage) (any, bool) {
	v, ok := b.values[bindingKey{table, column, usage}]
	return v, ok
}

// Resolve returns the argument list of a statement.
func (b *ValueBindings) Resolve(params []*ColumnParameter) ([]any, error) {
	args := make([]any, len(params))
	for i, p := range params {
		v, ok := b.values[bindingKey{p.Table, p.Column, p.Usage}]
		if !ok {
			return nil, fmt.Errorf("mutation: no value bound for parameter %d (%s)", i+1, p)
		}
		args[i] = v
	}
	return args, nil
}

// HasNonNullValues reports whether any attribute column of the table is
// bound to a non-null value.
func (b *ValueBindings) HasNonNullValues(table string) bool {
	t, ok := b.entity.Table(table)
	if !ok {
		return false
	}
	for _, c := range t.Columns() {
		if v, ok := b.values[bindingKey{table, c.Name, UsageSet}]; ok && !mapping.IsNull(v) {
			return true
		}
	}
	return false
}

// Reset removes all values.
func (b *ValueBindings) Reset() {
	clear(b.values)
	b.id, b.hasID = nil, false
}
