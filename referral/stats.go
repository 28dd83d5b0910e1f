package referral

import (
	"context"
	"fmt"
)

// Stats is a read-only rollup of an account's referral activity.
type Stats struct {
	ReferralCode     string `json:"referral_code"`
	AvailableCredits int64  `json:"available_credits"`
	TotalReferrals   int    `json:"total_referrals"`
	Pending          int    `json:"pending"`
	Qualified        int    `json:"qualified"`
	Rewarded         int    `json:"rewarded"`
	TotalEarned      int64  `json:"total_earned"`
}

// Stats summarizes the referrals the account made. Returns nil for an
// unknown account.
func (e *Engine) Stats(ctx context.Context, accountID int64) (*Stats, error) {
	account, err := e.Store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, nil
	}

	referrals, err := e.Store.ListReferrals(ctx, ReferralFilter{ReferrerID: accountID})
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}

	stats := &Stats{
		ReferralCode:     account.ReferralCode,
		AvailableCredits: account.ReferralCredits,
		TotalReferrals:   len(referrals),
	}
	for _, r := range referrals {
		switch r.Status {
		case StatusPending:
			stats.Pending++
		case StatusQualified:
			stats.Qualified++
		case StatusRewarded:
			stats.Rewarded++
		}
		if r.ReferrerRewardApplied && r.RewardType != RewardDiscount {
			stats.TotalEarned += r.ReferrerRewardAmount
		}
	}
	return stats, nil
}
