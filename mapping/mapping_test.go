package mapping

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula"
)

type address struct{ Street, City string }

type order struct {
	ID       int64
	Customer string
	Ship     *address
	GiftNote *string
}

func orderAccessor() Accessor {
	return AccessorFuncs[order]{
		GetID: func(o *order) any { return o.ID },
		PutID: func(o *order, id any) { o.ID = id.(int64) },
		GetState: func(o *order) []any {
			return []any{o.Customer, o.Ship, o.GiftNote}
		},
		PutState: func(o *order, s []any) {
			o.Customer, _ = s[0].(string)
			o.Ship, _ = s[1].(*address)
			o.GiftNote, _ = s[2].(*string)
		},
	}
}

func orderDef() EntityDef {
	return EntityDef{
		Name: "Order",
		Tables: []TableDef{
			{Name: "orders"},
			{Name: "order_ext", KeyColumns: []string{"order_id"}, Optional: true},
		},
		Identifier: IdentifierDef{Generation: Identity},
		Attributes: []AttributeDef{
			{Name: "customer", Columns: []ColumnDef{{Type: TypeVarchar}}},
			{
				Name: "ship",
				Kind: PartEmbedded,
				Columns: []ColumnDef{
					{Name: "ship_street", Type: TypeVarchar, Nullable: true},
					{Name: "ship_city", Type: TypeVarchar, Nullable: true},
				},
				Disassemble: func(v any) []any {
					a := v.(*address)
					return []any{a.Street, a.City}
				},
				Assemble: func(v []any) any {
					a := &address{}
					a.Street, _ = v[0].(string)
					a.City, _ = v[1].(string)
					return a
				},
			},
			{Name: "giftNote", Table: "order_ext", Columns: []ColumnDef{{Type: TypeClob, Nullable: true}}},
		},
		Accessor: orderAccessor(),
	}
}

func TestBuild(t *testing.T) {
	e, err := Build(orderDef())
	require.NoError(t, err)

	require.Len(t, e.Tables(), 2)
	orders, ext := e.Tables()[0], e.Tables()[1]
	assert.Equal(t, "orders", orders.Name())
	assert.True(t, orders.IsIdentifierTable())
	assert.Equal(t, 0, orders.RelativePosition())
	assert.Equal(t, 1, ext.RelativePosition())
	assert.True(t, ext.IsOptional())
	assert.False(t, ext.IsIdentifierTable())

	assert.Equal(t, []string{"id"}, e.Identifier().Columns())
	assert.True(t, e.Identifier().IsGenerated())
	assert.Equal(t, "order_id", ext.KeyMapping().Columns()[0].Column)
	assert.Equal(t, []any{int64(7)}, ext.KeyMapping().Values(int64(7)))

	assert.True(t, orders.ContainsAttributeColumns(0))
	assert.True(t, orders.ContainsAttributeColumns(1))
	assert.False(t, orders.ContainsAttributeColumns(2))
	assert.True(t, ext.ContainsAttributeColumns(2))
	assert.Equal(t, []int{2}, ext.AttributeIndexes())
	assert.True(t, ext.HasColumns())

	gift, ok := e.Attribute("giftNote")
	require.True(t, ok)
	assert.Equal(t, "gift_note", gift.Columns()[0].Name)
	assert.True(t, gift.Columns()[0].IsLob())

	assert.Equal(t, []string{"order_ext", "orders"}, e.QuerySpaces())
	assert.False(t, e.IsVersioned())

	assert.Equal(t, ExpectRowCount(1), orders.UpdateDetails().Expectation())
	assert.True(t, ext.DeleteDetails().Expectation().IsNone())
	assert.Equal(t, Delete, ext.Details(Delete).Type())
}

func TestBuildDefaults(t *testing.T) {
	e, err := Build(EntityDef{
		Name:       "OrderLine",
		Attributes: []AttributeDef{{Name: "unitPrice"}, {Name: "version", Kind: PartVersion}},
		Accessor:   orderAccessor(),
	})
	require.NoError(t, err)
	assert.Equal(t, "order_lines", e.IdentifierTable().Name())
	assert.Equal(t, "unit_price", e.Attributes()[0].Columns()[0].Name)
	v, ok := e.Version()
	require.True(t, ok)
	assert.Equal(t, 1, v.Index())
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*EntityDef)
		want   string
	}{
		{
			name:   "unknown table",
			modify: func(d *EntityDef) { d.Attributes[2].Table = "missing" },
			want:   "unknown table",
		},
		{
			name:   "key column count",
			modify: func(d *EntityDef) { d.Tables[1].KeyColumns = []string{"a", "b"} },
			want:   "2 key columns for an identifier of 1 values",
		},
		{
			name:   "optional identifier table",
			modify: func(d *EntityDef) { d.Tables[0].Optional = true },
			want:   "identifier table cannot be optional",
		},
		{
			name:   "duplicate table",
			modify: func(d *EntityDef) { d.Tables[1].Name = "orders" },
			want:   "duplicate table",
		},
		{
			name:   "duplicate attribute",
			modify: func(d *EntityDef) { d.Attributes[2].Name = "customer" },
			want:   "duplicate attribute",
		},
		{
			name: "version outside identifier table",
			modify: func(d *EntityDef) {
				d.Attributes = append(d.Attributes, AttributeDef{Name: "version", Kind: PartVersion, Table: "order_ext"})
			},
			want: "must be stored in the identifier table",
		},
		{
			name:   "missing accessor",
			modify: func(d *EntityDef) { d.Accessor = nil },
			want:   "missing accessor",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := orderDef()
			tt.modify(&def)
			_, err := Build(def)
			require.Error(t, err)
			assert.True(t, tabula.IsMappingError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewKeyMapping(t *testing.T) {
	id := &Identifier{name: "id", columns: []string{"id"}, types: []SQLType{TypeBigInt}}
	_, err := NewKeyMapping([]KeyColumn{{Table: "t", Column: "a"}, {Table: "t", Column: "b"}}, id)
	require.Error(t, err)
	assert.True(t, tabula.IsMappingError(err))

	km, err := NewKeyMapping([]KeyColumn{{Table: "t", Column: "id", Formula: true}}, id)
	require.NoError(t, err)
	k := km.Columns()[0]
	assert.False(t, k.Insertable())
	assert.False(t, k.Updatable())
	assert.False(t, k.Nullable())
}

func TestExpectation(t *testing.T) {
	require.NoError(t, ExpectRowCount(1).VerifyOutcome(1, -1, "orders", "UPDATE orders"))
	require.NoError(t, ExpectNone().VerifyOutcome(0, -1, "orders", "UPDATE orders"))

	err := ExpectRowCount(1).VerifyOutcome(0, 3, "orders", "UPDATE orders")
	require.Error(t, err)
	assert.True(t, tabula.IsRowCountMismatch(err))
	var mismatch *tabula.RowCountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(1), mismatch.Expected)
	assert.Equal(t, int64(0), mismatch.Actual)
	assert.Equal(t, 3, mismatch.BatchPosition)

	require.Error(t, ExpectRowCount(1).VerifyOutcome(2, -1, "orders", "UPDATE orders"), "more rows than expected is a mismatch too")
	assert.False(t, ExpectOutParameter().CanBeBatched())
	assert.True(t, ExpectRowCount(1).CanBeBatched())
	assert.Equal(t, int64(-1), ExpectNone().ExpectedRowCount())
}

func TestEmbeddedAttribute(t *testing.T) {
	e := MustBuild(orderDef())
	ship, ok := e.Attribute("ship")
	require.True(t, ok)
	assert.Equal(t, []any{nil, nil}, ship.Disassemble((*address)(nil)))
	assert.Equal(t, []any{"Main St", "Springfield"}, ship.Disassemble(&address{"Main St", "Springfield"}))
	assert.Nil(t, ship.Assemble([]any{nil, nil}))
	assert.Equal(t, &address{"Main St", ""}, ship.Assemble([]any{"Main St", nil}))
}

func TestAccessorFuncs(t *testing.T) {
	acc := orderAccessor()
	o := acc.Instantiate().(*order)
	acc.SetID(o, int64(3))
	acc.SetState(o, []any{"acme", nil, nil})
	assert.Equal(t, int64(3), acc.ID(o))
	assert.Equal(t, "acme", o.Customer)
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		typ  SQLType
		in   any
		want any
	}{
		{TypeBigInt, int32(4), int64(4)},
		{TypeBigInt, []byte("12"), int64(12)},
		{TypeVarchar, []byte("abc"), "abc"},
		{TypeBoolean, int64(1), true},
		{TypeDecimal, []byte("1.5"), 1.5},
		{TypeTimestamp, "2024-05-01 10:00:00", ts},
		{TypeBlob, "x", []byte("x")},
		{TypeVarchar, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			got, err := tt.typ.Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := TypeBoolean.Normalize(3.5)
	require.Error(t, err)
}

func TestIsNull(t *testing.T) {
	var s *string
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(s))
	assert.True(t, IsNull(sql.NullString{}))
	assert.False(t, IsNull(sql.NullString{String: "x", Valid: true}))
	assert.False(t, IsNull(""))
	assert.False(t, IsNull(0))
}
