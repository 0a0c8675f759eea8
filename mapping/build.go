package mapping

import (
	"errors"
	"slices"
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/syssam/tabula"
)

// EntityDef declares an entity mapping. It is turned into an immutable
// Entity once at boot by Build.
type EntityDef struct {
	// Name of the entity. Table names default to its plural snake case form.
	Name string
	// Tables in relative position order. The first is the identifier table.
	// A single default table is used when empty.
	Tables     []TableDef
	Identifier IdentifierDef
	Attributes []AttributeDef
	Accessor   Accessor
	// QuerySpaces overrides the query spaces, which default to the table names.
	QuerySpaces []string
}

// TableDef declares a table of an entity.
type TableDef struct {
	Name string
	// KeyColumns of a secondary table, in identifier order. They default to
	// the identifier columns.
	KeyColumns    []string
	Optional      bool
	Inverse       bool
	CascadeDelete bool
	Insert        SQLDef
	Update        SQLDef
	Delete        SQLDef
}

// SQLDef overrides the statement generated for a table mutation.
type SQLDef struct {
	SQL      string
	Callable bool
	// Expectation defaults to one affected row, or to an out parameter
	// for callable statements.
	Expectation *Expectation
}

// IdentifierDef declares the identifier.
type IdentifierDef struct {
	Name       string
	Columns    []string
	Types      []SQLType
	Generation Generation
	// Disassemble and Assemble convert composite identifiers.
	Disassemble func(any) []any
	Assemble    func([]any) any
}

// AttributeDef declares an attribute.
type AttributeDef struct {
	Name string
	Kind PartKind
	// Table storing the attribute. Defaults to the identifier table.
	Table   string
	Columns []ColumnDef
	// Disassemble and Assemble convert embedded values.
	Disassemble func(any) []any
	Assemble    func([]any) any
}

// ColumnDef declares an attribute column.
type ColumnDef struct {
	// Name defaults to the snake case attribute name.
	Name            string
	Type            SQLType
	Nullable        bool
	NoInsert        bool
	NoUpdate        bool
	WriteExpression string
}

// TableName returns the default table name of an entity.
func TableName(entity string) string {
	return inflect.Underscore(inflect.Pluralize(entity))
}

// ColumnName returns the default column name of an attribute.
func ColumnName(attribute string) string {
	return inflect.Underscore(attribute)
}

// Build validates the definition and builds the entity mapping.
func Build(def EntityDef) (*Entity, error) {
	b := &builder{def: def}
	e := b.build()
	if err := tabula.NewAggregateError(b.errs...); err != nil {
		return nil, err
	}
	return e, nil
}

// MustBuild is like Build but panics on error.
func MustBuild(def EntityDef) *Entity {
	e, err := Build(def)
	if err != nil {
		panic(err)
	}
	return e
}

type builder struct {
	def  EntityDef
	errs []error
}

func (b *builder) errorf(table, format string, args ...any) {
	b.errs = append(b.errs, tabula.NewMappingError(b.def.Name, table, format, args...))
}

func (b *builder) build() *Entity {
	def := b.def
	if def.Name == "" {
		b.errorf("", "missing entity name")
		return nil
	}
	if def.Accessor == nil {
		b.errorf("", "missing accessor")
	}
	tables := def.Tables
	if len(tables) == 0 {
		tables = []TableDef{{Name: TableName(def.Name)}}
	}
	id := b.identifier(tables[0].Name)
	e := &Entity{name: def.Name, identifier: id, accessor: def.Accessor}
	seen := make(map[string]bool, len(tables))
	for i, td := range tables {
		if td.Name == "" {
			b.errorf("", "table at position %d has no name", i)
			continue
		}
		if seen[td.Name] {
			b.errorf(td.Name, "duplicate table")
			continue
		}
		seen[td.Name] = true
		e.tables = append(e.tables, b.table(td, i, id))
	}
	if len(e.tables) == 0 || b.errs != nil {
		return nil
	}
	b.attributes(e)
	e.querySpaces = def.QuerySpaces
	if len(e.querySpaces) == 0 {
		for _, t := range e.tables {
			e.querySpaces = append(e.querySpaces, t.name)
		}
		slices.Sort(e.querySpaces)
	}
	return e
}

func (b *builder) identifier(table string) *Identifier {
	def := b.def.Identifier
	id := &Identifier{
		name:        def.Name,
		columns:     def.Columns,
		types:       def.Types,
		generation:  def.Generation,
		disassemble: def.Disassemble,
		assemble:    def.Assemble,
	}
	if id.name == "" {
		id.name = "id"
	}
	if len(id.columns) == 0 {
		id.columns = []string{ColumnName(id.name)}
	}
	if len(id.types) == 0 {
		id.types = make([]SQLType, len(id.columns))
		for i := range id.types {
			id.types[i] = TypeBigInt
		}
	}
	switch {
	case len(id.types) != len(id.columns):
		b.errorf(table, "identifier has %d columns but %d types", len(id.columns), len(id.types))
	case len(id.columns) > 1 && (id.disassemble == nil || id.assemble == nil):
		b.errorf(table, "composite identifier %q requires Disassemble and Assemble", id.name)
	case len(id.columns) > 1 && id.generation == Identity:
		b.errorf(table, "identity generation requires a single identifier column")
	}
	return id
}

func (b *builder) table(def TableDef, position int, id *Identifier) *TableMapping {
	t := &TableMapping{
		name:            def.Name,
		position:        position,
		optional:        def.Optional,
		inverse:         def.Inverse,
		identifierTable: position == 0,
		cascadeDelete:   def.CascadeDelete,
	}
	if t.identifierTable && (def.Optional || def.Inverse || def.CascadeDelete) {
		b.errorf(def.Name, "the identifier table cannot be optional, inverse or cascade-deleted")
	}
	names := def.KeyColumns
	if len(names) == 0 || t.identifierTable {
		names = id.columns
	}
	keys := make([]KeyColumn, len(names))
	for i, n := range names {
		keys[i] = KeyColumn{Table: def.Name, Column: n}
		if i < len(id.types) {
			keys[i].Type = id.types[i]
		}
	}
	km, err := NewKeyMapping(keys, id)
	if err != nil {
		var me *tabula.MappingError
		if errors.As(err, &me) {
			me.Entity = b.def.Name
		}
		b.errs = append(b.errs, err)
	}
	t.keyMapping = km
	t.insertDetails = b.details(Insert, def.Insert, ExpectRowCount(1))
	t.updateDetails = b.details(Update, def.Update, ExpectRowCount(1))
	deleteExpectation := ExpectRowCount(1)
	if def.Optional {
		deleteExpectation = ExpectNone()
	}
	t.deleteDetails = b.details(Delete, def.Delete, deleteExpectation)
	return t
}

func (b *builder) details(typ MutationType, def SQLDef, fallback Expectation) MutationDetails {
	expectation := fallback
	switch {
	case def.Expectation != nil:
		expectation = *def.Expectation
	case def.Callable:
		expectation = ExpectOutParameter()
	}
	return NewMutationDetails(typ, expectation, strings.TrimSpace(def.SQL), def.Callable)
}

func (b *builder) attributes(e *Entity) {
	names := make(map[string]bool, len(b.def.Attributes))
	for i, def := range b.def.Attributes {
		if def.Name == "" {
			b.errorf("", "attribute at index %d has no name", i)
			continue
		}
		if names[def.Name] || def.Name == e.identifier.name {
			b.errorf("", "duplicate attribute %q", def.Name)
			continue
		}
		names[def.Name] = true
		table := e.IdentifierTable()
		if def.Table != "" {
			t, ok := e.Table(def.Table)
			if !ok {
				b.errorf(def.Table, "attribute %q references an unknown table", def.Name)
				continue
			}
			table = t
		}
		a := &Attribute{
			index:       i,
			name:        def.Name,
			kind:        def.Kind,
			table:       table,
			disassemble: def.Disassemble,
			assemble:    def.Assemble,
		}
		cols := def.Columns
		if len(cols) == 0 {
			cols = []ColumnDef{{}}
		}
		switch def.Kind {
		case PartEmbedded:
			if def.Disassemble == nil || def.Assemble == nil {
				b.errorf(table.name, "embedded attribute %q requires Disassemble and Assemble", def.Name)
			}
		case PartVersion:
			if e.version != nil {
				b.errorf(table.name, "multiple version attributes")
			}
			if !table.identifierTable {
				b.errorf(table.name, "version attribute %q must be stored in the identifier table", def.Name)
			}
			e.version = a
			fallthrough
		default:
			if len(cols) != 1 {
				b.errorf(table.name, "attribute %q must map to exactly one column", def.Name)
			}
		}
		for _, cd := range cols {
			name := cd.Name
			if name == "" {
				name = ColumnName(def.Name)
			}
			c := &ColumnMapping{
				Table:           table.name,
				Name:            name,
				Type:            cd.Type,
				Insertable:      !cd.NoInsert,
				Updatable:       !cd.NoUpdate,
				Nullable:        cd.Nullable,
				WriteExpression: cd.WriteExpression,
				Attribute:       i,
			}
			if def.Kind == PartVersion {
				c.Nullable = false
				c.Updatable = true
			}
			for _, k := range table.keyMapping.Columns() {
				if k.Column == name {
					b.errorf(table.name, "attribute %q maps to key column %q", def.Name, name)
				}
			}
			a.columns = append(a.columns, c)
			table.columns = append(table.columns, c)
		}
		table.attributes = append(table.attributes, i)
		e.attributes = append(e.attributes, a)
	}
	for _, t := range e.tables {
		if t.optional && !t.HasColumns() {
			b.errorf(t.name, "optional table without attribute columns")
		}
	}
}
