package logback_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaidrun/plaid/internal/bus"
	"github.com/plaidrun/plaid/internal/logback"
)

func TestAdmit_DefaultsToLimitedZero(t *testing.T) {
	got := logback.Admit(nil)
	assert.Equal(t, bus.LimitedBudget(0), got)
	assert.False(t, got.CanEmit())
}

func TestAdmit_UsesDeclaredBudget(t *testing.T) {
	declared := bus.UnlimitedBudget()
	got := logback.Admit(&declared)
	assert.Equal(t, declared, got)
}

func TestDecrement_BudgetMonotonicity(t *testing.T) {
	// Rooted at Limited(2): the maximum emit depth is exactly 2 (spec.md §8).
	budget := bus.LimitedBudget(2)

	budget, ok := logback.Decrement(budget)
	require.True(t, ok)
	assert.Equal(t, int32(1), budget.Remaining)

	budget, ok = logback.Decrement(budget)
	require.True(t, ok)
	assert.Equal(t, int32(0), budget.Remaining)

	_, ok = logback.Decrement(budget)
	assert.False(t, ok, "a third emit at depth 2 must be rejected")
}

func TestDecrement_UnlimitedNeverExhausts(t *testing.T) {
	budget := bus.UnlimitedBudget()
	for i := 0; i < 100; i++ {
		var ok bool
		budget, ok = logback.Decrement(budget)
		require.True(t, ok)
		assert.True(t, budget.Unlimited)
	}
}
