// ABOUTME: Tests for gateway settings persistence

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_BudgetUnsetIsNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.MonthlyUnitBudget(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettings_SetBudget(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetMonthlyUnitBudget(ctx, 1000))
	require.NoError(t, store.SetMonthlyUnitBudget(ctx, 2500))

	units, err := store.MonthlyUnitBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), units)
}

func TestSettings_SeedDoesNotOverwrite(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedMonthlyUnitBudget(ctx, 1000))
	units, err := store.MonthlyUnitBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), units)

	require.NoError(t, store.SetMonthlyUnitBudget(ctx, 5000))
	require.NoError(t, store.SeedMonthlyUnitBudget(ctx, 1000))

	units, err = store.MonthlyUnitBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), units)
}
