package mutation

import "github.com/syssam/tabula/mapping"

// Group is the set of table operations realizing one entity mutation.
// Operations are ordered by relative table position, descending for
// deletes.
type Group struct {
	typ    mapping.MutationType
	entity *mapping.Entity
	ops    []Operation
}

// NewGroup returns a group of the given operations.
func NewGroup(typ mapping.MutationType, entity *mapping.Entity, ops ...Operation) *Group {
	return &Group{typ: typ, entity: entity, ops: ops}
}

// Type returns the mutation type.
func (g *Group) Type() mapping.MutationType { return g.typ }

// Entity returns the mutated entity.
func (g *Group) Entity() *mapping.Entity { return g.entity }

// Operations returns the operations in execution order.
func (g *Group) Operations() []Operation { return g.ops }

// NumberOfOperations returns the number of operations.
func (g *Group) NumberOfOperations() int { return len(g.ops) }

// SingleOperation returns the only operation of single-table groups.
func (g *Group) SingleOperation() (Operation, bool) {
	if len(g.ops) != 1 {
		return nil, false
	}
	return g.ops[0], true
}

// Operation returns the operation against the given table.
func (g *Group) Operation(table string) (Operation, bool) {
	for _, op := range g.ops {
		if op.Table().Name() == table {
			return op, true
		}
	}
	return nil, false
}
