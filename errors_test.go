package tabula_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		assert.Equal(t, "tabula: Order not found (id=7)", tabula.NewNotFoundError("Order", 7).Error())
		assert.Equal(t, "tabula: Order not found", tabula.NewNotFoundError("Order", nil).Error())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := tabula.NewNotFoundError("Product", "p1")
		assert.True(t, errors.Is(err, tabula.ErrNotFound))
		assert.True(t, tabula.IsNotFound(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, tabula.IsNotFound(tabula.ErrNotFound))
		assert.False(t, tabula.IsNotFound(errors.New("other error")))
		assert.False(t, tabula.IsNotFound(nil))
		assert.Equal(t, "Product", err.Label())
		assert.Equal(t, "p1", err.ID())
	})
}

func TestRowCountMismatchError(t *testing.T) {
	t.Run("Single", func(t *testing.T) {
		err := tabula.NewRowCountMismatchError("orders", `UPDATE "orders" SET "customer" = ? WHERE "id" = ?`, 1, 2, -1)
		assert.Equal(t, `tabula: unexpected row count for orders; actual row count: 2; expected: 1; statement: UPDATE "orders" SET "customer" = ? WHERE "id" = ?`, err.Error())
		assert.True(t, tabula.IsRowCountMismatch(err))
		assert.False(t, tabula.IsStaleState(err))
	})

	t.Run("Batched", func(t *testing.T) {
		err := tabula.NewRowCountMismatchError("products", "DELETE", 1, 3, 4)
		assert.Contains(t, err.Error(), "from update [4]")
		assert.True(t, tabula.IsRowCountMismatch(fmt.Errorf("flush: %w", err)))
	})
}

func TestStaleStateError(t *testing.T) {
	cause := tabula.NewRowCountMismatchError("products", "UPDATE", 1, 0, -1)
	err := tabula.NewStaleStateError("Product", "p1", cause)
	assert.Contains(t, err.Error(), "[Product#p1]")
	assert.True(t, tabula.IsStaleState(err))
	assert.True(t, tabula.IsConcurrencyConflict(fmt.Errorf("flush: %w", err)))
	assert.True(t, tabula.IsRowCountMismatch(err), "cause stays reachable")
	assert.False(t, tabula.IsConcurrencyConflict(cause))
	assert.False(t, tabula.IsConcurrencyConflict(nil))
}

func TestDataAccessError(t *testing.T) {
	cause := errors.New("connection reset")
	err := tabula.NewDataAccessError("insert", "orders", "INSERT", cause)
	assert.Equal(t, "tabula: could not execute insert on orders [INSERT]: connection reset", err.Error())
	assert.Equal(t, "tabula: could not execute query [SELECT 1]: connection reset",
		tabula.NewDataAccessError("query", "", "SELECT 1", cause).Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, tabula.IsDataAccessError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, tabula.IsDataAccessError(cause))
	assert.False(t, tabula.IsDataAccessError(nil))
}

func TestConstraintError(t *testing.T) {
	cause := errors.New("duplicate key")
	err := tabula.NewConstraintError("unique", "products_pkey", cause)
	assert.Equal(t, "tabula: unique constraint failed: products_pkey", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, tabula.IsConstraintError(tabula.NewDataAccessError("insert", "products", "INSERT", err)))
	assert.False(t, tabula.IsConstraintError(cause))
	assert.False(t, tabula.IsConstraintError(nil))
}

func TestMappingError(t *testing.T) {
	tests := []struct {
		name string
		err  *tabula.MappingError
		want string
	}{
		{"Entity", tabula.NewMappingError("Order", "", "no tables"), "tabula: invalid mapping of entity Order: no tables"},
		{"Table", tabula.NewMappingError("Order", "order_ext", "%d key columns", 2), "tabula: invalid mapping of entity Order table order_ext: 2 key columns"},
		{"Bare", tabula.NewMappingError("", "", "empty"), "tabula: invalid mapping: empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.True(t, tabula.IsMappingError(tt.err))
		})
	}
	assert.False(t, tabula.IsMappingError(nil))
}

func TestRollbackError(t *testing.T) {
	cause := errors.New("commit failed")
	err := &tabula.RollbackError{Err: cause}
	assert.Equal(t, "tabula: rollback failed: commit failed", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestAggregateError(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		assert.NoError(t, tabula.NewAggregateError())
		assert.NoError(t, tabula.NewAggregateError(nil, nil))
	})

	t.Run("Single", func(t *testing.T) {
		cause := errors.New("only")
		assert.Same(t, cause, tabula.NewAggregateError(nil, cause))
	})

	t.Run("Multiple", func(t *testing.T) {
		stale := tabula.NewStaleStateError("Product", "p1", nil)
		err := tabula.NewAggregateError(errors.New("first"), stale)
		var agg *tabula.AggregateError
		require.ErrorAs(t, err, &agg)
		assert.Len(t, agg.Errors, 2)
		assert.Contains(t, err.Error(), "tabula: multiple errors:")
		assert.Contains(t, err.Error(), "[1] first")
		assert.True(t, tabula.IsStaleState(err))
	})
}

func TestQueryAndMutationErrors(t *testing.T) {
	cause := tabula.NewNotFoundError("Order", 1)
	qerr := tabula.NewQueryError("Order", "load", cause)
	assert.Equal(t, "tabula: querying Order (load): tabula: Order not found (id=1)", qerr.Error())
	assert.Equal(t, "tabula: querying Order: boom", tabula.NewQueryError("Order", "", errors.New("boom")).Error())
	assert.True(t, tabula.IsNotFound(qerr))

	merr := tabula.NewMutationError("Order", "insert", errors.New("boom"))
	assert.Equal(t, "tabula: insert Order: boom", merr.Error())
	assert.True(t, tabula.IsMutationError(fmt.Errorf("flush: %w", merr)))
	assert.False(t, tabula.IsMutationError(nil))
}

func TestSentinelErrors(t *testing.T) {
	for _, err := range []error{
		tabula.ErrNotFound,
		tabula.ErrStaleState,
		tabula.ErrRowCountMismatch,
		tabula.ErrTxStarted,
		tabula.ErrSessionClosed,
	} {
		assert.Contains(t, err.Error(), "tabula: ")
	}
}
