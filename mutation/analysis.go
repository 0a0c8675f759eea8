package mutation

import (
	"reflect"

	"github.com/syssam/tabula/mapping"
)

// ValuesAnalysis describes the state a mutation writes.
type ValuesAnalysis interface {
	// HasValues reports whether the table has at least one non-null
	// attribute value in the written state.
	HasValues(table string) bool
}

// InsertValuesAnalysis records which tables have values on insert.
type InsertValuesAnalysis struct {
	nonNull map[string]bool
}

// NewInsertValuesAnalysis analyzes the state of an inserted entity.
func NewInsertValuesAnalysis(entity *mapping.Entity, state []any) *InsertValuesAnalysis {
	return &InsertValuesAnalysis{nonNull: nonNullTables(entity, state)}
}

// HasValues implements ValuesAnalysis.
func (a *InsertValuesAnalysis) HasValues(table string) bool { return a.nonNull[table] }

// UpdateValuesAnalysis records the tables an update changes and the
// nullness of each table before and after.
type UpdateValuesAnalysis struct {
	entity    *mapping.Entity
	dirty     []int
	changed   map[string]bool
	before    map[string]bool
	after     map[string]bool
	versioned bool
}

// NewUpdateValuesAnalysis analyzes an update from prev to next state.
// A nil dirty slice is computed by comparing both states.
func NewUpdateValuesAnalysis(entity *mapping.Entity, prev, next []any, dirty []int) *UpdateValuesAnalysis {
	if dirty == nil {
		dirty = DirtyAttributes(prev, next)
	}
	a := &UpdateValuesAnalysis{
		entity:    entity,
		dirty:     dirty,
		changed:   make(map[string]bool),
		before:    nonNullTables(entity, prev),
		after:     nonNullTables(entity, next),
		versioned: entity.IsVersioned(),
	}
	attrs := entity.Attributes()
	for _, i := range dirty {
		if v, ok := entity.Version(); ok && v.Index() == i {
			continue
		}
		a.changed[attrs[i].Table().Name()] = true
	}
	return a
}

// HasValues implements ValuesAnalysis.
func (a *UpdateValuesAnalysis) HasValues(table string) bool { return a.after[table] }

// HadValues reports whether the table had a non-null value before the update.
func (a *UpdateValuesAnalysis) HadValues(table string) bool { return a.before[table] }

// TableChanged reports whether a dirty attribute is stored in the table.
func (a *UpdateValuesAnalysis) TableChanged(table string) bool { return a.changed[table] }

// DirtyAttributes returns the indexes of the changed attributes.
func (a *UpdateValuesAnalysis) DirtyAttributes() []int { return a.dirty }

// IsVersioned reports whether the update bumps a version.
func (a *UpdateValuesAnalysis) IsVersioned() bool { return a.versioned }

// HasChanges reports whether any table changed.
func (a *UpdateValuesAnalysis) HasChanges() bool { return len(a.changed) > 0 }

// DirtyAttributes returns the indexes at which next differs from prev.
func DirtyAttributes(prev, next []any) []int {
	dirty := []int{}
	for i := range next {
		if i >= len(prev) || !reflect.DeepEqual(prev[i], next[i]) {
			dirty = append(dirty, i)
		}
	}
	return dirty
}

func nonNullTables(entity *mapping.Entity, state []any) map[string]bool {
	m := make(map[string]bool)
	if state == nil {
		return m
	}
	for _, a := range entity.Attributes() {
		if a.Kind() == mapping.PartVersion {
			continue
		}
		for _, v := range a.Disassemble(state[a.Index()]) {
			if !mapping.IsNull(v) {
				m[a.Table().Name()] = true
				break
			}
		}
	}
	return m
}

// TableInclusionChecker decides whether a table takes part in a mutation.
type TableInclusionChecker func(table *mapping.TableMapping) bool

// InsertInclusion skips inverse tables and optional tables whose values
// are all null.
func InsertInclusion(a ValuesAnalysis) TableInclusionChecker {
	return func(t *mapping.TableMapping) bool {
		if t.IsInverse() {
			return false
		}
		return !t.IsOptional() || a.HasValues(t.Name())
	}
}

// UpdateInclusion includes the tables storing a changed attribute, and the
// identifier table of versioned entities. Inverse tables never take part.
func UpdateInclusion(a *UpdateValuesAnalysis) TableInclusionChecker {
	return func(t *mapping.TableMapping) bool {
		if t.IsInverse() {
			return false
		}
		if t.IsIdentifierTable() && a.IsVersioned() {
			return true
		}
		if !a.TableChanged(t.Name()) {
			return false
		}
		return !t.IsOptional() || a.HadValues(t.Name()) || a.HasValues(t.Name())
	}
}

// DeleteInclusion skips inverse tables and tables deleted by a cascading
// foreign key.
func DeleteInclusion() TableInclusionChecker {
	return func(t *mapping.TableMapping) bool {
		return !t.IsInverse() && !t.IsCascadeDeleteEnabled()
	}
}

// IncludeAll includes every table.
func IncludeAll(*mapping.TableMapping) bool { return true }
