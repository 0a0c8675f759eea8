package mapping

import (
	"fmt"
	"slices"

	"github.com/syssam/tabula"
)

// Generation is the identifier generation strategy.
type Generation int

const (
	// Assigned identifiers are provided by the application before insert.
	Assigned Generation = iota
	// Identity identifiers are generated by the database on insert.
	Identity
)

// Identifier is the identifier model part of an entity.
type Identifier struct {
	name        string
	columns     []string
	types       []SQLType
	generation  Generation
	disassemble func(any) []any
	assemble    func([]any) any
}

// Name returns the identifier attribute name.
func (id *Identifier) Name() string { return id.name }

// Columns returns the identifier columns of the identifier table.
func (id *Identifier) Columns() []string { return id.columns }

// SQLTypes returns the types of the identifier values.
func (id *Identifier) SQLTypes() []SQLType { return id.types }

// SQLTypeCount returns the number of values the identifier decomposes into.
func (id *Identifier) SQLTypeCount() int { return len(id.types) }

// Generation returns the generation strategy.
func (id *Identifier) Generation() Generation { return id.generation }

// IsGenerated reports whether the database generates the identifier.
func (id *Identifier) IsGenerated() bool { return id.generation == Identity }

// Disassemble decomposes an identifier value into its column values.
func (id *Identifier) Disassemble(v any) []any {
	if id.disassemble != nil {
		return id.disassemble(v)
	}
	return []any{v}
}

// Assemble builds an identifier value from its column values.
func (id *Identifier) Assemble(values []any) any {
	if id.assemble != nil {
		return id.assemble(values)
	}
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// KeyColumn is a column of a table key. Key columns are never nullable
// and never updatable; they are insertable unless formula-derived.
type KeyColumn struct {
	Table           string
	Column          string
	WriteExpression string
	Formula         bool
	Type            SQLType
}

// Insertable reports whether the column is written by inserts.
func (c KeyColumn) Insertable() bool { return !c.Formula }

// Updatable always returns false.
func (KeyColumn) Updatable() bool { return false }

// Nullable always returns false.
func (KeyColumn) Nullable() bool { return false }

// KeyMapping pairs the key columns of a table positionally with the
// values of the identifier.
type KeyMapping struct {
	columns    []KeyColumn
	identifier *Identifier
}

// NewKeyMapping returns a key mapping, verifying that there is one key
// column per identifier value.
func NewKeyMapping(columns []KeyColumn, identifier *Identifier) (*KeyMapping, error) {
	if identifier == nil {
		return nil, fmt.Errorf("mapping: key mapping without identifier")
	}
	if len(columns) != identifier.SQLTypeCount() {
		table := ""
		if len(columns) > 0 {
			table = columns[0].Table
		}
		return nil, tabula.NewMappingError("", table, "%d key columns for an identifier of %d values", len(columns), identifier.SQLTypeCount())
	}
	return &KeyMapping{columns: columns, identifier: identifier}, nil
}

// Columns returns the key columns in identifier order.
func (k *KeyMapping) Columns() []KeyColumn { return k.columns }

// Identifier returns the identifier part.
func (k *KeyMapping) Identifier() *Identifier { return k.identifier }

// Values returns the key column values for an identifier.
func (k *KeyMapping) Values(id any) []any { return k.identifier.Disassemble(id) }

// ColumnMapping is an attribute column.
type ColumnMapping struct {
	Table           string
	Name            string
	Type            SQLType
	Insertable      bool
	Updatable       bool
	Nullable        bool
	WriteExpression string
	// Attribute is the index of the owning attribute.
	Attribute int
}

// IsLob reports whether the column holds a large object.
func (c *ColumnMapping) IsLob() bool { return c.Type.IsLob() }

// TableMapping describes how one physical table of an entity is mutated.
// Table mappings are identified by table name.
type TableMapping struct {
	name            string
	position        int
	keyMapping      *KeyMapping
	optional        bool
	inverse         bool
	identifierTable bool
	cascadeDelete   bool
	insertDetails   MutationDetails
	updateDetails   MutationDetails
	deleteDetails   MutationDetails
	columns         []*ColumnMapping
	attributes      []int
}

// Name returns the table name.
func (t *TableMapping) Name() string { return t.name }

// RelativePosition returns the execution order of the table within its entity.
func (t *TableMapping) RelativePosition() int { return t.position }

// KeyMapping returns the key of the table.
func (t *TableMapping) KeyMapping() *KeyMapping { return t.keyMapping }

// IsOptional reports whether a row may be absent when its values are all null.
func (t *TableMapping) IsOptional() bool { return t.optional }

// IsInverse reports whether the table is maintained by another owner.
func (t *TableMapping) IsInverse() bool { return t.inverse }

// IsIdentifierTable reports whether the table holds the identifier.
func (t *TableMapping) IsIdentifierTable() bool { return t.identifierTable }

// IsCascadeDeleteEnabled reports whether the database deletes the rows of
// this table through a cascading foreign key.
func (t *TableMapping) IsCascadeDeleteEnabled() bool { return t.cascadeDelete }

// InsertDetails returns the insert details.
func (t *TableMapping) InsertDetails() MutationDetails { return t.insertDetails }

// UpdateDetails returns the update details.
func (t *TableMapping) UpdateDetails() MutationDetails { return t.updateDetails }

// DeleteDetails returns the delete details.
func (t *TableMapping) DeleteDetails() MutationDetails { return t.deleteDetails }

// Details returns the details for the mutation type.
func (t *TableMapping) Details(typ MutationType) MutationDetails {
	switch typ {
	case Insert:
		return t.insertDetails
	case Update:
		return t.updateDetails
	default:
		return t.deleteDetails
	}
}

// Columns returns the attribute columns stored in the table.
func (t *TableMapping) Columns() []*ColumnMapping { return t.columns }

// HasColumns reports whether any attribute is stored in the table.
func (t *TableMapping) HasColumns() bool { return len(t.columns) > 0 }

// ContainsAttributeColumns reports whether the attribute is stored in the table.
func (t *TableMapping) ContainsAttributeColumns(attribute int) bool {
	_, ok := slices.BinarySearch(t.attributes, attribute)
	return ok
}

// AttributeIndexes returns the sorted indexes of the attributes stored in the table.
func (t *TableMapping) AttributeIndexes() []int { return t.attributes }

// Equal reports whether both mappings describe the same table.
func (t *TableMapping) Equal(o *TableMapping) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.name == o.name
}

// String returns the table name.
func (t *TableMapping) String() string { return t.name }
