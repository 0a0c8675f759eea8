// Package demo holds the sample model used by the command line tool and
// the end-to-end tests: orders spread over a main and an optional
// secondary table, and versioned products.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/mapping"
)

// Address is the shipping address embedded in orders.
type Address struct {
	Street string
	City   string
}

// Order is stored in orders, with the gift note in order_ext. The
// order_ext row exists only while the order has a gift note.
type Order struct {
	ID       int64
	Customer string
	Ship     *Address
	PlacedAt time.Time
	GiftNote *string
}

// Product is a versioned single-table entity with a client-assigned id.
type Product struct {
	ID      string
	Name    string
	Price   float64
	Version int64
}

// OrderDef returns the mapping definition of Order.
func OrderDef() mapping.EntityDef {
	return mapping.EntityDef{
		Name: "Order",
		Tables: []mapping.TableDef{
			{Name: "orders"},
			{Name: "order_ext", KeyColumns: []string{"order_id"}, Optional: true},
		},
		Identifier: mapping.IdentifierDef{Generation: mapping.Identity},
		Attributes: []mapping.AttributeDef{
			{Name: "customer", Columns: []mapping.ColumnDef{{Type: mapping.TypeVarchar}}},
			{
				Name: "ship",
				Kind: mapping.PartEmbedded,
				Columns: []mapping.ColumnDef{
					{Name: "ship_street", Type: mapping.TypeVarchar, Nullable: true},
					{Name: "ship_city", Type: mapping.TypeVarchar, Nullable: true},
				},
				Disassemble: func(v any) []any {
					a := v.(*Address)
					return []any{a.Street, a.City}
				},
				Assemble: func(v []any) any {
					a := &Address{}
					a.Street, _ = v[0].(string)
					a.City, _ = v[1].(string)
					return a
				},
			},
			{Name: "placedAt", Columns: []mapping.ColumnDef{{Type: mapping.TypeTimestamp}}},
			{Name: "giftNote", Table: "order_ext", Columns: []mapping.ColumnDef{{Type: mapping.TypeVarchar, Nullable: true}}},
		},
		Accessor: mapping.AccessorFuncs[Order]{
			GetID: func(o *Order) any { return o.ID },
			PutID: func(o *Order, id any) { o.ID, _ = id.(int64) },
			GetState: func(o *Order) []any {
				var ship, note any
				if o.Ship != nil {
					ship = o.Ship
				}
				if o.GiftNote != nil {
					note = *o.GiftNote
				}
				return []any{o.Customer, ship, o.PlacedAt, note}
			},
			PutState: func(o *Order, s []any) {
				o.Customer, _ = s[0].(string)
				o.Ship, _ = s[1].(*Address)
				o.PlacedAt, _ = s[2].(time.Time)
				o.GiftNote = nil
				if note, ok := s[3].(string); ok {
					o.GiftNote = &note
				}
			},
		},
	}
}

// ProductDef returns the mapping definition of Product.
func ProductDef() mapping.EntityDef {
	return mapping.EntityDef{
		Name:       "Product",
		Identifier: mapping.IdentifierDef{Types: []mapping.SQLType{mapping.TypeVarchar}},
		Attributes: []mapping.AttributeDef{
			{Name: "name", Columns: []mapping.ColumnDef{{Type: mapping.TypeVarchar}}},
			{Name: "price", Columns: []mapping.ColumnDef{{Type: mapping.TypeDecimal}}},
			{Name: "version", Kind: mapping.PartVersion, Columns: []mapping.ColumnDef{{Type: mapping.TypeBigInt}}},
		},
		Accessor: mapping.AccessorFuncs[Product]{
			GetID: func(p *Product) any { return p.ID },
			PutID: func(p *Product, id any) { p.ID, _ = id.(string) },
			GetState: func(p *Product) []any {
				return []any{p.Name, p.Price, p.Version}
			},
			PutState: func(p *Product, s []any) {
				p.Name, _ = s[0].(string)
				p.Price, _ = s[1].(float64)
				p.Version, _ = s[2].(int64)
			},
		},
	}
}

// Entities builds the demo entities.
func Entities() ([]*mapping.Entity, error) {
	order, err := mapping.Build(OrderDef())
	if err != nil {
		return nil, err
	}
	product, err := mapping.Build(ProductDef())
	if err != nil {
		return nil, err
	}
	return []*mapping.Entity{order, product}, nil
}

var schemas = map[string][]string{
	dialect.SQLite: {
		`CREATE TABLE IF NOT EXISTS orders (id INTEGER PRIMARY KEY AUTOINCREMENT, customer TEXT NOT NULL, ship_street TEXT, ship_city TEXT, placed_at DATETIME NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS order_ext (order_id INTEGER PRIMARY KEY REFERENCES orders (id), gift_note TEXT)`,
		`CREATE TABLE IF NOT EXISTS products (id TEXT PRIMARY KEY, name TEXT NOT NULL, price REAL NOT NULL, version INTEGER NOT NULL)`,
	},
	dialect.Postgres: {
		`CREATE TABLE IF NOT EXISTS orders (id BIGSERIAL PRIMARY KEY, customer VARCHAR(255) NOT NULL, ship_street VARCHAR(255), ship_city VARCHAR(255), placed_at TIMESTAMPTZ NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS order_ext (order_id BIGINT PRIMARY KEY REFERENCES orders (id), gift_note TEXT)`,
		`CREATE TABLE IF NOT EXISTS products (id VARCHAR(36) PRIMARY KEY, name VARCHAR(255) NOT NULL, price DOUBLE PRECISION NOT NULL, version BIGINT NOT NULL)`,
	},
	dialect.MySQL: {
		"CREATE TABLE IF NOT EXISTS `orders` (`id` BIGINT AUTO_INCREMENT PRIMARY KEY, `customer` VARCHAR(255) NOT NULL, `ship_street` VARCHAR(255), `ship_city` VARCHAR(255), `placed_at` DATETIME(6) NOT NULL)",
		"CREATE TABLE IF NOT EXISTS `order_ext` (`order_id` BIGINT PRIMARY KEY, `gift_note` TEXT, FOREIGN KEY (`order_id`) REFERENCES `orders` (`id`))",
		"CREATE TABLE IF NOT EXISTS `products` (`id` VARCHAR(36) PRIMARY KEY, `name` VARCHAR(255) NOT NULL, `price` DOUBLE NOT NULL, `version` BIGINT NOT NULL)",
	},
}

// Schema returns the DDL statements of the demo tables.
func Schema(name string) ([]string, error) {
	stmts, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("demo: no schema for dialect %q", name)
	}
	return stmts, nil
}

// CreateSchema creates the demo tables if they don't exist.
func CreateSchema(ctx context.Context, conn dialect.ExecQuerier, name string) error {
	stmts, err := Schema(name)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := conn.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("demo: creating schema: %w", err)
		}
	}
	return nil
}
