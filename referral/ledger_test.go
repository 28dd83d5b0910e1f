package referral_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/referral-engine/referral"
	"github.com/warp/referral-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// signup validates code for referred and creates the referral, the way the
// registration flow does.
func signup(t *testing.T, engine *referral.Engine, code string, referred referral.Account) *referral.Referral {
	ctx := context.Background()
	result, err := engine.Validate(ctx, code, referred.AccountType)
	require.NoError(t, err)
	require.True(t, result.Valid, "validation failed: %s", result.ErrorCode)

	r, err := engine.CreateReferral(ctx, code, referred, result.ProgramType, *result.Rewards)
	require.NoError(t, err)
	return r
}

func credits(t *testing.T, store *sqlite.Store, accountID int64) int64 {
	a, err := store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a.ReferralCredits
}

// =============================================================================
// CREATION
// =============================================================================

func TestCreateReferral_SnapshotsRewards(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	jane := seedAccount(t, store, homeowner("Jane", ""))

	r := signup(t, engine, "JOHN1234", jane)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, john.ID, r.ReferrerID)
	assert.Equal(t, jane.ID, r.ReferredID)
	assert.Equal(t, referral.StatusPending, r.Status)
	assert.Equal(t, 0, r.CleaningsCompleted)
	assert.Equal(t, int64(2500), r.ReferrerRewardAmount)
	assert.True(t, testNow.Equal(r.CreatedAt))

	// Later config edits do not touch the existing referral.
	cfg := referral.DefaultProgramConfig()
	s := cfg.Programs[referral.ClientToClient]
	s.ReferrerReward = 9900
	cfg.Programs[referral.ClientToClient] = s
	require.NoError(t, store.SaveProgramConfig(ctx, cfg))

	got, err := engine.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), got.ReferrerRewardAmount)
}

func TestCreateReferral_AlreadyReferred(t *testing.T) {
	// GIVEN: Jane signed up with John's code
	// WHEN: A second referral is created for Jane with Mary's code
	// THEN: ErrAlreadyReferred and Jane keeps her original referral

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, store, homeowner("John", "JOHN1234"))
	seedAccount(t, store, homeowner("Mary", "MARY1234"))
	jane := seedAccount(t, store, homeowner("Jane", ""))

	first := signup(t, engine, "JOHN1234", jane)

	rewards := referral.Rewards{ReferrerReward: 2500, ReferredReward: 2500, CleaningsRequired: 1, RewardType: referral.RewardCredit}
	_, err := engine.CreateReferral(ctx, "MARY1234", jane, referral.ClientToClient, rewards)
	assert.ErrorIs(t, err, referral.ErrAlreadyReferred)
	assert.True(t, referral.IsInvariantError(err))

	got, err := store.GetReferralByReferred(ctx, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestCreateReferral_InvalidCode(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	jane := seedAccount(t, store, homeowner("Jane", ""))
	rewards := referral.Rewards{CleaningsRequired: 1, RewardType: referral.RewardCredit}

	_, err := engine.CreateReferral(ctx, "NOPE1234", jane, referral.ClientToClient, rewards)
	assert.ErrorIs(t, err, referral.ErrInvalidCode)

	// Referring yourself is treated the same way.
	_, err = engine.CreateReferral(ctx, "JOHN1234", john, referral.ClientToClient, rewards)
	assert.ErrorIs(t, err, referral.ErrInvalidCode)
}

// =============================================================================
// QUALIFICATION
// =============================================================================

func TestProcessCompletion_QualifiesAtThreshold(t *testing.T) {
	// GIVEN: Homeowner John refers cleaner Carl (3 cleanings required, $50 to John)
	// WHEN: Carl completes three cleanings
	// THEN: Pending after 1 and 2, rewarded after 3; John +$50, Carl +$0

	obs := &recordingObserver{}
	engine, store := newTestEngine(t, referral.WithObserver(obs))
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	carl := seedAccount(t, store, cleaner("Carl", ""))

	r := signup(t, engine, "JOHN1234", carl)
	require.Equal(t, referral.ClientToCleaner, r.ProgramType)

	for i := 1; i <= 2; i++ {
		got, err := engine.ProcessCompletion(ctx, int64(100+i), carl.ID)
		require.NoError(t, err)
		assert.Equal(t, referral.StatusPending, got.Status)
		assert.Equal(t, i, got.CleaningsCompleted)
		assert.Nil(t, got.QualifiedAt)
	}
	assert.Equal(t, int64(0), credits(t, store, john.ID))

	got, err := engine.ProcessCompletion(ctx, 103, carl.ID)
	require.NoError(t, err)
	assert.Equal(t, referral.StatusRewarded, got.Status)
	assert.Equal(t, 3, got.CleaningsCompleted)
	assert.NotNil(t, got.QualifiedAt)
	assert.True(t, got.ReferrerRewardApplied)
	assert.True(t, got.ReferredRewardApplied)

	assert.Equal(t, int64(5000), credits(t, store, john.ID))
	assert.Equal(t, int64(0), credits(t, store, carl.ID))
	assert.Equal(t, 1, obs.qualified)
	assert.Equal(t, int64(5000), obs.credited)

	// Further completions change nothing.
	got, err = engine.ProcessCompletion(ctx, 104, carl.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int64(5000), credits(t, store, john.ID))

	stored, err := engine.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CleaningsCompleted)
}

func TestProcessCompletion_SameAppointmentCountsOnce(t *testing.T) {
	// GIVEN: Carl needs three cleanings to qualify
	// WHEN: The scheduler reports his first appointment three times
	// THEN: Only one cleaning is counted and nobody is paid

	engine, store := newTestEngine(t)
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	carl := seedAccount(t, store, cleaner("Carl", ""))
	r := signup(t, engine, "JOHN1234", carl)

	got, err := engine.ProcessCompletion(ctx, 101, carl.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	for i := 0; i < 2; i++ {
		got, err = engine.ProcessCompletion(ctx, 101, carl.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	stored, err := engine.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CleaningsCompleted)
	assert.Equal(t, referral.StatusPending, stored.Status)
	assert.Equal(t, int64(0), credits(t, store, john.ID))

	got, err = engine.ProcessCompletion(ctx, 102, carl.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CleaningsCompleted)
}

func TestProcessCompletion_PaysBothSides(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	jane := seedAccount(t, store, homeowner("Jane", ""))
	signup(t, engine, "JOHN1234", jane)

	got, err := engine.ProcessCompletion(ctx, 1, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, referral.StatusRewarded, got.Status)

	assert.Equal(t, int64(2500), credits(t, store, john.ID))
	assert.Equal(t, int64(2500), credits(t, store, jane.ID))

	entries, err := engine.CreditHistory(ctx, john.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, referral.CreditReferralReward, entries[0].Kind)
	assert.Equal(t, got.ID, entries[0].ReferenceID)
}

func TestProcessCompletion_NoReferral(t *testing.T) {
	engine, store := newTestEngine(t)
	loner := seedAccount(t, store, homeowner("Solo", ""))

	got, err := engine.ProcessCompletion(context.Background(), 1, loner.ID)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// REWARDS
// =============================================================================

func TestApplyRewards_Idempotent(t *testing.T) {
	// GIVEN: A qualified referral
	// WHEN: Rewards are applied twice
	// THEN: Each balance moves exactly once

	engine, store := newTestEngine(t)
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	jane := seedAccount(t, store, homeowner("Jane", ""))
	r := signup(t, engine, "JOHN1234", jane)

	require.NoError(t, engine.ApplyRewards(ctx, r))
	assert.Equal(t, referral.StatusRewarded, r.Status)

	stale, err := store.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	require.NoError(t, engine.ApplyRewards(ctx, stale))

	assert.Equal(t, int64(2500), credits(t, store, john.ID))
	assert.Equal(t, int64(2500), credits(t, store, jane.ID))
}

func TestApplyRewards_StaleCopyUsesStoredRow(t *testing.T) {
	// A copy read before the payout still has both flags false. The stored
	// row is what gets paid, so nothing is credited twice.
	engine, store := newTestEngine(t)
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	jane := seedAccount(t, store, homeowner("Jane", ""))
	r := signup(t, engine, "JOHN1234", jane)

	stale := *r
	require.NoError(t, engine.ApplyRewards(ctx, r))
	require.NoError(t, engine.ApplyRewards(ctx, &stale))

	assert.Equal(t, int64(2500), credits(t, store, john.ID))
	assert.Equal(t, int64(2500), credits(t, store, jane.ID))
	assert.True(t, stale.ReferrerRewardApplied)
	assert.True(t, stale.ReferredRewardApplied)
	assert.Equal(t, referral.StatusRewarded, stale.Status)
}

func TestApplyRewards_CancelledReferralIsNotPaid(t *testing.T) {
	// GIVEN: A copy of a client_to_cleaner referral taken at signup
	// WHEN: Progress is made, the owner cancels it, and the copy is rewarded
	// THEN: The call is refused and the stored row and balances are untouched

	engine, store := newTestEngine(t)
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	carl := seedAccount(t, store, cleaner("Carl", ""))
	r := signup(t, engine, "JOHN1234", carl)
	copyAtSignup := *r

	_, err := engine.ProcessCompletion(ctx, 101, carl.ID)
	require.NoError(t, err)
	_, err = engine.UpdateStatus(ctx, r.ID, referral.StatusCancelled)
	require.NoError(t, err)

	err = engine.ApplyRewards(ctx, &copyAtSignup)
	var transition *referral.TransitionError
	require.ErrorAs(t, err, &transition)
	assert.ErrorIs(t, err, referral.ErrInvalidTransition)
	assert.Equal(t, referral.StatusCancelled, transition.From)

	stored, err := engine.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, referral.StatusCancelled, stored.Status)
	assert.Equal(t, 1, stored.CleaningsCompleted)
	assert.False(t, stored.ReferrerRewardApplied)
	assert.Equal(t, int64(0), credits(t, store, john.ID))
}

func TestApplyRewards_UnknownReferral(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.ApplyRewards(context.Background(), &referral.Referral{ID: "missing"})
	assert.ErrorIs(t, err, referral.ErrReferralNotFound)
}

func TestApplyRewards_DiscountPaysNoCredits(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	cfg := referral.DefaultProgramConfig()
	s := cfg.Programs[referral.CleanerToClient]
	s.Enabled = true
	cfg.Programs[referral.CleanerToClient] = s
	require.NoError(t, store.SaveProgramConfig(ctx, cfg))

	maria := seedAccount(t, store, cleaner("Maria", "MARI0001"))
	jane := seedAccount(t, store, homeowner("Jane", ""))
	r := signup(t, engine, "MARI0001", jane)
	assert.Equal(t, referral.RewardDiscount, r.RewardType)

	got, err := engine.ProcessCompletion(ctx, 1, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, referral.StatusRewarded, got.Status)
	assert.Equal(t, int64(0), credits(t, store, maria.ID))
	assert.Equal(t, int64(0), credits(t, store, jane.ID))
}

// =============================================================================
// ADMINISTRATIVE STATUS CHANGES
// =============================================================================

func TestUpdateStatus(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	jane := seedAccount(t, store, homeowner("Jane", ""))
	carl := seedAccount(t, store, cleaner("Carl", ""))

	t.Run("invalid status", func(t *testing.T) {
		_, err := engine.UpdateStatus(ctx, "anything", referral.Status("bogus"))
		assert.ErrorIs(t, err, referral.ErrInvalidStatus)
	})

	t.Run("unknown referral", func(t *testing.T) {
		_, err := engine.UpdateStatus(ctx, "missing", referral.StatusCancelled)
		assert.ErrorIs(t, err, referral.ErrReferralNotFound)
	})

	t.Run("rewarded pays outstanding rewards", func(t *testing.T) {
		r := signup(t, engine, "JOHN1234", jane)
		got, err := engine.UpdateStatus(ctx, r.ID, referral.StatusRewarded)
		require.NoError(t, err)
		assert.Equal(t, referral.StatusRewarded, got.Status)
		assert.NotNil(t, got.QualifiedAt)
		assert.Equal(t, int64(2500), credits(t, store, john.ID))
		assert.Equal(t, int64(2500), credits(t, store, jane.ID))

		_, err = engine.UpdateStatus(ctx, r.ID, referral.StatusPending)
		var transErr *referral.TransitionError
		require.ErrorAs(t, err, &transErr)
		assert.Equal(t, referral.StatusRewarded, transErr.From)
		assert.ErrorIs(t, err, referral.ErrInvalidTransition)
	})

	t.Run("cancelled is terminal", func(t *testing.T) {
		r := signup(t, engine, "JOHN1234", carl)
		got, err := engine.UpdateStatus(ctx, r.ID, referral.StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, referral.StatusCancelled, got.Status)

		_, err = engine.UpdateStatus(ctx, r.ID, referral.StatusQualified)
		assert.ErrorIs(t, err, referral.ErrInvalidTransition)

		// Cancelled referrals stop counting completions.
		done, err := engine.ProcessCompletion(ctx, 1, carl.ID)
		require.NoError(t, err)
		assert.Nil(t, done)

		// Same status is a no-op.
		got, err = engine.UpdateStatus(ctx, r.ID, referral.StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, referral.StatusCancelled, got.Status)
	})
}

func TestListReferrals_RejectsUnknownStatus(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.ListReferrals(context.Background(), referral.ReferralFilter{Status: "bogus"})
	assert.ErrorIs(t, err, referral.ErrInvalidStatus)
}
