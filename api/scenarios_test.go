/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state through the engine:
	- Accounts and codes are created
	- Referrals sit in the expected statuses
	- Balances match the rewards paid

These tests double as integration tests of the referral lifecycle.
*/
package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/referral-engine/referral"
	"github.com/warp/referral-engine/store/sqlite"
	"go.uber.org/zap"
)

func setupTestHandler(t *testing.T) *Handler {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewHandler(referral.NewEngine(store), store, zap.NewNop(), "")
}

func countByStatus(t *testing.T, h *Handler, status referral.Status) int {
	refs, err := h.Engine.ListReferrals(context.Background(), referral.ReferralFilter{Status: status})
	require.NoError(t, err)
	return len(refs)
}

func TestScenario_Starter(t *testing.T) {
	// GIVEN: The starter scenario
	// WHEN: Loading it
	// THEN: John's code resolves and Jane's referral is pending

	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "starter"))

	john, err := h.Store.GetAccountByCode(ctx, "JOHN1234")
	require.NoError(t, err)
	require.NotNil(t, john)
	assert.Equal(t, demoJohnID, john.ID)

	assert.Equal(t, 1, countByStatus(t, h, referral.StatusPending))
	assert.Equal(t, "starter", h.currentScenario)
}

func TestScenario_Payouts(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "payouts"))

	assert.Equal(t, 2, countByStatus(t, h, referral.StatusRewarded))
	assert.Equal(t, 1, countByStatus(t, h, referral.StatusPending))
	assert.Equal(t, 1, countByStatus(t, h, referral.StatusCancelled))

	stats, err := h.Engine.Stats(ctx, demoJohnID)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), stats.AvailableCredits)
	assert.Equal(t, int64(7500), stats.TotalEarned)

	maria, err := h.Engine.Stats(ctx, demoMariaID)
	require.NoError(t, err)
	assert.Zero(t, maria.AvailableCredits)
}

func TestScenario_MonthlyCap(t *testing.T) {
	// GIVEN: John at the monthly client-to-client limit
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "monthly-cap"))

	// WHEN: Another homeowner tries his code
	result, err := h.Engine.Validate(ctx, "JOHN1234", referral.Homeowner)
	require.NoError(t, err)

	// THEN: The limit is reported, but cleaners can still use it
	assert.False(t, result.Valid)
	assert.Equal(t, referral.CodeMonthlyLimitReached, result.ErrorCode)

	result, err = h.Engine.Validate(ctx, "JOHN1234", referral.Cleaner)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestScenario_ReloadResets(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.LoadScenarioByID(ctx, "payouts"))
	require.NoError(t, h.LoadScenarioByID(ctx, "starter"))

	assert.Zero(t, countByStatus(t, h, referral.StatusRewarded))
	stats, err := h.Engine.Stats(ctx, demoJohnID)
	require.NoError(t, err)
	assert.Zero(t, stats.AvailableCredits)
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			h := setupTestHandler(t)
			assert.NoError(t, h.LoadScenarioByID(context.Background(), s.ID))
		})
	}
}

func TestScenario_Unknown(t *testing.T) {
	h := setupTestHandler(t)
	assert.Error(t, h.LoadScenarioByID(context.Background(), "year-end-rollover"))
}
