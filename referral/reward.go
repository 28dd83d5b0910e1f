package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	sideReferrer = "referrer"
	sideReferred = "referred"
)

// ApplyRewards pays any outstanding rewards of the referral and persists it,
// all in one transaction. Only r.ID is trusted: the stored row is reloaded
// inside the transaction, rewarded, saved, and copied back into r.
//
// Expired and cancelled referrals are never paid; they return a
// *TransitionError. A missing row returns ErrReferralNotFound.
func (e *Engine) ApplyRewards(ctx context.Context, r *Referral) error {
	var updated *Referral
	err := e.Store.WithTx(ctx, func(s Store) error {
		current, err := s.GetReferral(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("lookup referral: %w", err)
		}
		if current == nil {
			return ErrReferralNotFound
		}
		if current.Status == StatusExpired || current.Status == StatusCancelled {
			return &TransitionError{ReferralID: current.ID, From: current.Status, To: StatusRewarded}
		}
		if current.Status == StatusRewarded && current.ReferrerRewardApplied && current.ReferredRewardApplied {
			updated = current
			return nil
		}

		now := e.Now()
		if current.QualifiedAt == nil {
			current.QualifiedAt = &now
		}
		if err := e.applyRewards(ctx, s, current); err != nil {
			return err
		}
		current.UpdatedAt = now
		if err := s.UpdateReferral(ctx, current); err != nil {
			return fmt.Errorf("update referral: %w", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return err
	}
	*r = *updated
	return nil
}

// applyRewards is the in-transaction form of ApplyRewards. It mutates r and
// leaves persisting it to the caller.
//
// Each side is paid at most once: the applied flag guards the common path
// and the ledger idempotency key guards against a concurrent writer that
// paid the same side first. Zero amounts and discount programs mark the side
// settled without touching a balance. The referral always ends rewarded.
func (e *Engine) applyRewards(ctx context.Context, s Store, r *Referral) error {
	now := e.Now()

	if !r.ReferrerRewardApplied {
		if err := e.creditSide(ctx, s, r, sideReferrer, r.ReferrerID, r.ReferrerRewardAmount); err != nil {
			return err
		}
		r.ReferrerRewardApplied = true
		r.ReferrerRewardAppliedAt = &now
	}
	if !r.ReferredRewardApplied {
		if err := e.creditSide(ctx, s, r, sideReferred, r.ReferredID, r.ReferredRewardAmount); err != nil {
			return err
		}
		r.ReferredRewardApplied = true
		r.ReferredRewardAppliedAt = &now
	}

	r.Status = StatusRewarded
	return nil
}

func (e *Engine) creditSide(ctx context.Context, s Store, r *Referral, side string, accountID, amount int64) error {
	if amount <= 0 || r.RewardType == RewardDiscount {
		return nil
	}
	err := s.AppendCredit(ctx, CreditEntry{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		DeltaCents:     amount,
		Kind:           CreditReferralReward,
		ReferenceID:    r.ID,
		IdempotencyKey: rewardKey(r.ID, side),
		CreatedAt:      e.Now(),
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		e.Logger.Warn("reward already credited",
			zap.String("referral_id", r.ID),
			zap.String("side", side))
		return nil
	}
	if err != nil {
		return fmt.Errorf("credit %s reward: %w", side, err)
	}
	e.Observer.RewardCredited(side, amount)
	e.Logger.Info("reward credited",
		zap.String("referral_id", r.ID),
		zap.String("side", side),
		zap.Int64("account_id", accountID),
		zap.Int64("amount_cents", amount))
	return nil
}

func rewardKey(referralID, side string) string {
	return "referral:" + referralID + ":" + side
}
