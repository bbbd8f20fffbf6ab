package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeVerdict(t *testing.T) {
	assert.Equal(t, VerdictLikelyRegistered, OutcomePresent.Verdict())
	assert.Equal(t, VerdictLikelyAvailable, OutcomeAbsent.Verdict())
	assert.Equal(t, VerdictUnknown, OutcomeError.Verdict())
}

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict("likely_available")
	require.NoError(t, err)
	assert.Equal(t, VerdictLikelyAvailable, v)

	_, err = ParseVerdict("maybe")
	assert.Error(t, err)
}

func TestVerdictPositive(t *testing.T) {
	assert.True(t, VerdictLikelyAvailable.Positive())
	assert.False(t, VerdictUnknown.Positive())
	assert.False(t, VerdictLikelyRegistered.Positive())
}

func TestShardCursorIsZero(t *testing.T) {
	assert.True(t, ShardCursor{}.IsZero())
	assert.False(t, ShardCursor{ShardID: "train00"}.IsZero())
	assert.False(t, ShardCursor{ShardComplete: true}.IsZero())
}

func TestStopReasonBudgetHit(t *testing.T) {
	assert.True(t, StopBudgetItems.BudgetHit())
	assert.True(t, StopBudgetRuntime.BudgetHit())
	assert.False(t, StopShardComplete.BudgetHit())
	assert.False(t, StopExhausted.BudgetHit())
}
