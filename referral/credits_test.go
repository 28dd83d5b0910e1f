package referral_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/referral-engine/referral"
	"github.com/warp/referral-engine/store/sqlite"
)

func seedAppointment(t *testing.T, store *sqlite.Store, accountID, priceCents int64) referral.Appointment {
	a := referral.Appointment{AccountID: accountID, PriceCents: priceCents}
	require.NoError(t, store.SaveAppointment(context.Background(), &a))
	return a
}

func appointment(t *testing.T, store *sqlite.Store, id int64) *referral.Appointment {
	a, err := store.GetAppointment(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

// =============================================================================
// SPENDING
// =============================================================================

func TestSpendCredits_Bounds(t *testing.T) {
	tests := []struct {
		name          string
		balance       int64
		price         int64
		requested     int64
		wantApplied   int64
		wantRemaining int64
		wantPrice     int64
	}{
		{"limited by balance", 5000, 12000, math.MaxInt64, 5000, 0, 7000},
		{"limited by price", 5000, 3000, math.MaxInt64, 3000, 2000, 0},
		{"limited by request", 5000, 12000, 1000, 1000, 4000, 11000},
		{"exact", 2500, 2500, 2500, 2500, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			engine, store := newTestEngine(t, referral.WithObserver(obs))
			ctx := context.Background()
			acct := seedAccount(t, store, referral.Account{FirstName: "John", ReferralCredits: tt.balance})
			appt := seedAppointment(t, store, acct.ID, tt.price)

			result, err := engine.SpendCredits(ctx, acct.ID, appt.ID, tt.requested)
			require.NoError(t, err)

			require.True(t, result.Success, result.Error)
			assert.Equal(t, tt.wantApplied, result.AmountApplied)
			assert.Equal(t, tt.wantRemaining, result.RemainingCredits)
			assert.Equal(t, tt.wantPrice, result.NewPrice)

			assert.Equal(t, tt.wantRemaining, credits(t, store, acct.ID))
			stored := appointment(t, store, appt.ID)
			assert.Equal(t, tt.wantPrice, stored.PriceCents)
			assert.Equal(t, tt.wantApplied, stored.CreditsAppliedCents)
			assert.Equal(t, tt.wantApplied, obs.spent)

			entries, err := engine.CreditHistory(ctx, acct.ID)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, -tt.wantApplied, entries[0].DeltaCents)
			assert.Equal(t, referral.CreditRedemption, entries[0].Kind)
		})
	}
}

func TestSpendCredits_Rejections(t *testing.T) {
	// GIVEN: Various accounts and appointments
	// WHEN: A spend cannot apply anything
	// THEN: Success is false with a reason, and nothing changes

	engine, store := newTestEngine(t)
	ctx := context.Background()

	broke := seedAccount(t, store, referral.Account{FirstName: "Broke"})
	rich := seedAccount(t, store, referral.Account{FirstName: "Rich", ReferralCredits: 5000})
	brokeAppt := seedAppointment(t, store, broke.ID, 10000)
	richAppt := seedAppointment(t, store, rich.ID, 10000)
	freeAppt := seedAppointment(t, store, rich.ID, 0)

	tests := []struct {
		name          string
		accountID     int64
		appointmentID int64
		requested     int64
		wantError     string
	}{
		{"no balance", broke.ID, brokeAppt.ID, math.MaxInt64, "No credits available"},
		{"zero request", rich.ID, richAppt.ID, 0, "No credits available"},
		{"negative request", rich.ID, richAppt.ID, -500, "No credits available"},
		{"free appointment", rich.ID, freeAppt.ID, math.MaxInt64, "No credits available"},
		{"someone else's appointment", rich.ID, brokeAppt.ID, math.MaxInt64, "Appointment not found"},
		{"unknown appointment", rich.ID, 9999, math.MaxInt64, "Appointment not found"},
		{"unknown account", 9999, richAppt.ID, math.MaxInt64, "Account not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.SpendCredits(ctx, tt.accountID, tt.appointmentID, tt.requested)
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, tt.wantError, result.Error)
			assert.Zero(t, result.AmountApplied)
		})
	}

	assert.Equal(t, int64(5000), credits(t, store, rich.ID))
	assert.Equal(t, int64(10000), appointment(t, store, richAppt.ID).PriceCents)
	assert.Equal(t, int64(10000), appointment(t, store, brokeAppt.ID).PriceCents)
}

func TestSpendCredits_EarnedRewardsCanBeSpent(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, store, homeowner("John", "JOHN1234"))
	jane := seedAccount(t, store, homeowner("Jane", ""))
	signup(t, engine, "JOHN1234", jane)

	_, err := engine.ProcessCompletion(ctx, 1, jane.ID)
	require.NoError(t, err)

	appt := seedAppointment(t, store, jane.ID, 15000)
	result, err := engine.SpendCredits(ctx, jane.ID, appt.ID, math.MaxInt64)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(2500), result.AmountApplied)
	assert.Equal(t, int64(12500), result.NewPrice)
}

// =============================================================================
// STATS
// =============================================================================

func TestStats(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	john := seedAccount(t, store, homeowner("John", "JOHN1234"))
	jane := seedAccount(t, store, homeowner("Jane", ""))
	carl := seedAccount(t, store, cleaner("Carl", ""))
	dave := seedAccount(t, store, homeowner("Dave", ""))

	signup(t, engine, "JOHN1234", jane)
	signup(t, engine, "JOHN1234", carl)
	cancelled := signup(t, engine, "JOHN1234", dave)

	_, err := engine.ProcessCompletion(ctx, 1, jane.ID)
	require.NoError(t, err)
	_, err = engine.ProcessCompletion(ctx, 2, carl.ID)
	require.NoError(t, err)
	_, err = engine.UpdateStatus(ctx, cancelled.ID, referral.StatusCancelled)
	require.NoError(t, err)

	stats, err := engine.Stats(ctx, john.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)

	assert.Equal(t, "JOHN1234", stats.ReferralCode)
	assert.Equal(t, 3, stats.TotalReferrals)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Qualified)
	assert.Equal(t, 1, stats.Rewarded)
	assert.Equal(t, int64(2500), stats.TotalEarned)
	assert.Equal(t, int64(2500), stats.AvailableCredits)
}

func TestStats_UnknownAccount(t *testing.T) {
	engine, _ := newTestEngine(t)

	stats, err := engine.Stats(context.Background(), 404)
	assert.NoError(t, err)
	assert.Nil(t, stats)
}
