package mapping

import "fmt"

// PartKind is the kind of a mapped attribute.
type PartKind int

// Attribute kinds.
const (
	PartBasic PartKind = iota
	PartEmbedded
	PartVersion
)

// String returns the kind name.
func (k PartKind) String() string {
	switch k {
	case PartBasic:
		return "basic"
	case PartEmbedded:
		return "embedded"
	case PartVersion:
		return "version"
	default:
		return fmt.Sprintf("PartKind(%d)", int(k))
	}
}

// Attribute is a mapped entity attribute. Basic and version attributes
// map to one column; embedded attributes map to one column per component.
type Attribute struct {
	index       int
	name        string
	kind        PartKind
	table       *TableMapping
	columns     []*ColumnMapping
	disassemble func(any) []any
	assemble    func([]any) any
}

// Index returns the attribute position in entity state.
func (a *Attribute) Index() int { return a.index }

// Name returns the attribute name.
func (a *Attribute) Name() string { return a.name }

// Kind returns the attribute kind.
func (a *Attribute) Kind() PartKind { return a.kind }

// Table returns the table storing the attribute.
func (a *Attribute) Table() *TableMapping { return a.table }

// Columns returns the attribute columns.
func (a *Attribute) Columns() []*ColumnMapping { return a.columns }

// Disassemble decomposes an attribute value into its column values.
// A null embedded value yields a null per column.
func (a *Attribute) Disassemble(v any) []any {
	if a.kind != PartEmbedded {
		return []any{v}
	}
	if IsNull(v) {
		return make([]any, len(a.columns))
	}
	return a.disassemble(v)
}

// Assemble builds an attribute value from its column values. An embedded
// value whose columns are all null is null.
func (a *Attribute) Assemble(values []any) any {
	if a.kind != PartEmbedded {
		return values[0]
	}
	for _, v := range values {
		if v != nil {
			return a.assemble(values)
		}
	}
	return nil
}

// Accessor gives the mapping layer access to instances of an entity.
// State is indexed by attribute position.
type Accessor interface {
	Instantiate() any
	ID(entity any) any
	SetID(entity, id any)
	State(entity any) []any
	SetState(entity any, state []any)
}

// AccessorFuncs adapts typed functions to an Accessor.
type AccessorFuncs[T any] struct {
	New      func() *T
	GetID    func(*T) any
	PutID    func(*T, any)
	GetState func(*T) []any
	PutState func(*T, []any)
}

// Instantiate implements Accessor.
func (f AccessorFuncs[T]) Instantiate() any {
	if f.New != nil {
		return f.New()
	}
	return new(T)
}

// ID implements Accessor.
func (f AccessorFuncs[T]) ID(e any) any { return f.GetID(e.(*T)) }

// SetID implements Accessor.
func (f AccessorFuncs[T]) SetID(e, id any) { f.PutID(e.(*T), id) }

// State implements Accessor.
func (f AccessorFuncs[T]) State(e any) []any { return f.GetState(e.(*T)) }

// SetState implements Accessor.
func (f AccessorFuncs[T]) SetState(e any, state []any) { f.PutState(e.(*T), state) }

// Entity is the immutable mapping of an entity onto its tables.
type Entity struct {
	name        string
	tables      []*TableMapping
	identifier  *Identifier
	attributes  []*Attribute
	version     *Attribute
	accessor    Accessor
	querySpaces []string
}

// Name returns the entity name.
func (e *Entity) Name() string { return e.name }

// Tables returns the tables ordered by relative position.
func (e *Entity) Tables() []*TableMapping { return e.tables }

// Table returns the table with the given name.
func (e *Entity) Table(name string) (*TableMapping, bool) {
	for _, t := range e.tables {
		if t.name == name {
			return t, true
		}
	}
	return nil, false
}

// IdentifierTable returns the table holding the identifier.
func (e *Entity) IdentifierTable() *TableMapping { return e.tables[0] }

// Identifier returns the identifier part.
func (e *Entity) Identifier() *Identifier { return e.identifier }

// Attributes returns the attributes in state order.
func (e *Entity) Attributes() []*Attribute { return e.attributes }

// Attribute returns the attribute with the given name.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	for _, a := range e.attributes {
		if a.name == name {
			return a, true
		}
	}
	return nil, false
}

// Version returns the version attribute of versioned entities.
func (e *Entity) Version() (*Attribute, bool) { return e.version, e.version != nil }

// IsVersioned reports whether the entity uses optimistic locking.
func (e *Entity) IsVersioned() bool { return e.version != nil }

// Accessor returns the instance accessor.
func (e *Entity) Accessor() Accessor { return e.accessor }

// QuerySpaces returns the tables queries over the entity depend on.
func (e *Entity) QuerySpaces() []string { return e.querySpaces }

// String returns the entity name.
func (e *Entity) String() string { return e.name }
