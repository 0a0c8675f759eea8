package mutation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/mapping"
)

// Builder builds the mutation groups of an entity.
type Builder struct {
	entity     *mapping.Entity
	translator *sql.Translator
	lobsLast   bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLobsLast sorts LOB columns after all other columns, as some drivers
// require.
func WithLobsLast(enabled bool) BuilderOption {
	return func(b *Builder) { b.lobsLast = enabled }
}

// NewBuilder returns a builder rendering statements with the translator.
func NewBuilder(entity *mapping.Entity, translator *sql.Translator, opts ...BuilderOption) *Builder {
	b := &Builder{entity: entity, translator: translator}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Entity returns the entity of the builder.
func (b *Builder) Entity() *mapping.Entity { return b.entity }

// InsertGroup builds the static insert group. Inverse tables are left out.
func (b *Builder) InsertGroup() (*Group, error) {
	var ops []Operation
	for _, t := range b.entity.Tables() {
		if t.IsInverse() {
			continue
		}
		op, err := b.insertOperation(t)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return NewGroup(mapping.Insert, b.entity, ops...), nil
}

// UpdateGroup builds an update group. A nil dirty slice builds the static
// group updating every updatable column; otherwise only the columns of
// the dirty attributes are written. The version column is always written.
func (b *Builder) UpdateGroup(dirty []int) (*Group, error) {
	var only map[int]bool
	if dirty != nil {
		only = make(map[int]bool, len(dirty))
		for _, i := range dirty {
			only[i] = true
		}
	}
	var ops []Operation
	for _, t := range b.entity.Tables() {
		if t.IsInverse() {
			continue
		}
		update, err := b.updateOperation(t, only)
		if err != nil {
			return nil, err
		}
		if update == nil {
			continue
		}
		if !t.IsOptional() {
			ops = append(ops, update)
			continue
		}
		insert, err := b.insertOperation(t)
		if err != nil {
			return nil, err
		}
		del, err := b.deleteOperation(t)
		if err != nil {
			return nil, err
		}
		ops = append(ops, &OptionalTableUpdate{table: t, insert: insert, update: update, delete: del})
	}
	return NewGroup(mapping.Update, b.entity, ops...), nil
}

// DeleteGroup builds the delete group in reverse table order. Inverse
// tables and tables deleted by cascade are left out.
func (b *Builder) DeleteGroup() (*Group, error) {
	var ops []Operation
	tables := b.entity.Tables()
	for i := len(tables) - 1; i >= 0; i-- {
		t := tables[i]
		if t.IsInverse() || t.IsCascadeDeleteEnabled() {
			continue
		}
		op, err := b.deleteOperation(t)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return NewGroup(mapping.Delete, b.entity, ops...), nil
}

// InsertBindings returns the column bindings of a table insert.
func (b *Builder) InsertBindings(t *mapping.TableMapping) *TableBindings {
	tb := &TableBindings{Table: t}
	if !b.generatesKey(t) {
		for _, k := range t.KeyMapping().Columns() {
			if k.Insertable() {
				tb.Keys = append(tb.Keys, newBinding(t.Name(), k.Column, k.WriteExpression, k.Type, UsageSet))
			}
		}
	}
	for _, c := range t.Columns() {
		if c.Insertable {
			tb.Values = append(tb.Values, newBinding(t.Name(), c.Name, c.WriteExpression, c.Type, UsageSet))
		}
	}
	if b.lobsLast {
		tb.sortLobsLast()
	}
	return tb
}

// UpdateBindings returns the column bindings of a table update limited to
// the given attributes, or of all updatable columns when only is nil.
func (b *Builder) UpdateBindings(t *mapping.TableMapping, only map[int]bool) *TableBindings {
	tb := &TableBindings{Table: t}
	version, versioned := b.entity.Version()
	for _, c := range t.Columns() {
		if !c.Updatable {
			continue
		}
		isVersion := versioned && c.Attribute == version.Index()
		if only != nil && !only[c.Attribute] && !isVersion {
			continue
		}
		tb.Values = append(tb.Values, newBinding(t.Name(), c.Name, c.WriteExpression, c.Type, UsageSet))
	}
	if b.lobsLast {
		tb.sortLobsLast()
	}
	tb.Keys = b.keyRestrictions(t)
	tb.OptimisticLocks = b.lockRestrictions(t)
	return tb
}

func (b *Builder) keyRestrictions(t *mapping.TableMapping) []*ColumnValueBinding {
	var keys []*ColumnValueBinding
	for _, k := range t.KeyMapping().Columns() {
		keys = append(keys, newBinding(t.Name(), k.Column, "", k.Type, UsageRestrict))
	}
	return keys
}

func (b *Builder) lockRestrictions(t *mapping.TableMapping) []*ColumnValueBinding {
	version, ok := b.entity.Version()
	if !ok || !t.IsIdentifierTable() {
		return nil
	}
	c := version.Columns()[0]
	return []*ColumnValueBinding{newBinding(t.Name(), c.Name, "", c.Type, UsageRestrict)}
}

func (b *Builder) generatesKey(t *mapping.TableMapping) bool {
	return t.IsIdentifierTable() && b.entity.Identifier().IsGenerated()
}

func (b *Builder) insertOperation(t *mapping.TableMapping) (*StatementOperation, error) {
	tb := b.InsertBindings(t)
	tbl := sql.MutatingTable(t.Name())
	stmt := &sql.InsertStatement{Table: tbl}
	for _, vb := range slices.Concat(tb.Keys, tb.Values) {
		stmt.Columns = append(stmt.Columns, tbl.C(vb.Column))
		stmt.Values = append(stmt.Values, vb.expr())
	}
	var (
		generated []string
		returning bool
	)
	if b.generatesKey(t) {
		generated = b.entity.Identifier().Columns()
		switch custom := t.InsertDetails().CustomSQL(); {
		case custom == "" && b.translator.SupportsReturning():
			returning = true
			for _, c := range generated {
				stmt.Returning = append(stmt.Returning, tbl.C(c))
			}
		case custom != "" && hasReturning(custom):
			returning = true
		case custom != "" && b.translator.Dialect() == dialect.Postgres:
			// Postgres drivers do not report LastInsertId.
			return nil, tabula.NewMappingError(b.entity.Name(), t.Name(),
				"custom insert of a generated identifier must end with RETURNING on %s", dialect.Postgres)
		}
	}
	return b.statement(t, stmt, t.InsertDetails(), generated, returning)
}

var returningClause = regexp.MustCompile(`(?is)\bRETURNING\s+[^;]+;?\s*$`)

// hasReturning reports whether a custom insert returns the generated key
// itself.
func hasReturning(query string) bool { return returningClause.MatchString(query) }

// updateOperation returns nil when the table has no column to write.
func (b *Builder) updateOperation(t *mapping.TableMapping, only map[int]bool) (*StatementOperation, error) {
	tb := b.UpdateBindings(t, only)
	if len(tb.Values) == 0 {
		return nil, nil
	}
	tbl := sql.MutatingTable(t.Name())
	stmt := &sql.UpdateStatement{Table: tbl, Where: b.restrict(tbl, tb)}
	for _, vb := range tb.Values {
		stmt.Assignments = append(stmt.Assignments, &sql.Assignment{Column: tbl.C(vb.Column), Value: vb.expr()})
	}
	return b.statement(t, stmt, t.UpdateDetails(), nil, false)
}

func (b *Builder) deleteOperation(t *mapping.TableMapping) (*StatementOperation, error) {
	tb := &TableBindings{Table: t, Keys: b.keyRestrictions(t), OptimisticLocks: b.lockRestrictions(t)}
	tbl := sql.MutatingTable(t.Name())
	stmt := &sql.DeleteStatement{Table: tbl, Where: b.restrict(tbl, tb)}
	return b.statement(t, stmt, t.DeleteDetails(), nil, false)
}

func (b *Builder) restrict(tbl *sql.MutatingTableReference, tb *TableBindings) sql.Predicate {
	var preds []sql.Predicate
	for _, vb := range slices.Concat(tb.Keys, tb.OptimisticLocks) {
		preds = append(preds, sql.EQ(tbl.C(vb.Column), sql.Param(vb.Parameter)))
	}
	return sql.And(preds...)
}

func (b *Builder) statement(t *mapping.TableMapping, stmt sql.Statement, details mapping.MutationDetails, generated []string, returning bool) (*StatementOperation, error) {
	query, args, err := b.translator.Translate(stmt)
	if err != nil {
		return nil, fmt.Errorf("mutation: %s %s: %w", details.Type(), t.Name(), err)
	}
	params := make([]*ColumnParameter, len(args))
	for i, arg := range args {
		p, ok := arg.(*ColumnParameter)
		if !ok {
			return nil, fmt.Errorf("mutation: %s %s: unexpected parameter %T", details.Type(), t.Name(), arg)
		}
		params[i] = p
	}
	op := &StatementOperation{
		table:         t,
		typ:           details.Type(),
		sql:           query,
		params:        params,
		expectation:   details.Expectation(),
		callable:      details.IsCallable(),
		generatedKeys: generated,
		returning:     returning,
	}
	custom := details.CustomSQL()
	switch {
	case custom != "":
		if n := sql.CountPlaceholders(custom); n != len(params) {
			return nil, fmt.Errorf("mutation: custom %s of %s has %d parameters, expected %d", details.Type(), t.Name(), n, len(params))
		}
		if details.IsCallable() {
			custom = callStatement(custom)
		}
		op.sql = b.translator.Rewrite(custom)
	case details.IsCallable():
		return nil, fmt.Errorf("mutation: callable %s of %s requires custom SQL", details.Type(), t.Name())
	}
	return op, nil
}

// callStatement prefixes a procedure invocation with CALL unless the
// statement already is a call.
func callStatement(s string) string {
	l := strings.ToLower(s)
	if strings.HasPrefix(l, "call ") || strings.HasPrefix(l, "{") || strings.HasPrefix(l, "exec") {
		return s
	}
	return "CALL " + s
}
