/*
ledger.go - Referral creation and progress tracking

PURPOSE:
  Creates referral records at signup, counts completed billable
  appointments for the referred account, and applies administrative
  status changes.

INVARIANTS:
  - One referral per referred account (unique referred_id in the store)
  - CleaningsCompleted only grows, and qualification happens the moment it
    reaches CleaningsRequired
  - An appointment counts toward a referral once, however often the
    scheduler reports it
  - Status only moves forward (see Status.CanTransition)
  - Rewards are a snapshot taken at creation; later config edits never
    change an existing referral

ATOMICITY:
  CreateReferral, ProcessCompletion and UpdateStatus each run inside one
  store transaction. Qualification and reward payout commit together.

MONTHLY CAP:
  Validate checks the cap before signup. CreateReferral checks it again
  inside the insert transaction, so two concurrent signups cannot both
  slip under the limit.

SEE ALSO:
  - reward.go:   applyRewards, called on qualification
  - resolver.go: Validate, called before CreateReferral
*/
package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateReferral records that referred signed up with code.
// The referrer is resolved again from the code so the call is safe on its own.
func (e *Engine) CreateReferral(ctx context.Context, code string, referred Account, programType ProgramType, rewards Rewards) (*Referral, error) {
	code = NormalizeCode(code)
	if !programType.Valid() {
		return nil, fmt.Errorf("create referral: unknown program type %q", programType)
	}

	var created *Referral
	err := e.Store.WithTx(ctx, func(s Store) error {
		referrer, err := s.GetAccountByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("lookup referral code: %w", err)
		}
		if referrer == nil || referrer.ID == referred.ID {
			return ErrInvalidCode
		}

		existing, err := s.GetReferralByReferred(ctx, referred.ID)
		if err != nil {
			return fmt.Errorf("lookup existing referral: %w", err)
		}
		if existing != nil {
			return ErrAlreadyReferred
		}

		now := e.Now()
		if err := e.checkMonthlyCap(ctx, s, referrer.ID, programType); err != nil {
			return err
		}

		r := &Referral{
			ID:                   uuid.NewString(),
			ReferrerID:           referrer.ID,
			ReferredID:           referred.ID,
			ReferralCode:         code,
			ProgramType:          programType,
			Status:               StatusPending,
			CleaningsRequired:    rewards.CleaningsRequired,
			CleaningsCompleted:   0,
			ReferrerRewardAmount: rewards.ReferrerReward,
			ReferredRewardAmount: rewards.ReferredReward,
			RewardType:           rewards.RewardType,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.CreateReferral(ctx, r); err != nil {
			if errors.Is(err, ErrAlreadyReferred) {
				return err
			}
			return fmt.Errorf("insert referral: %w", err)
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Observer.ReferralCreated(programType)
	e.Logger.Info("referral created",
		zap.String("referral_id", created.ID),
		zap.Int64("referrer_id", created.ReferrerID),
		zap.Int64("referred_id", created.ReferredID),
		zap.String("program_type", string(programType)))
	return created, nil
}

func (e *Engine) checkMonthlyCap(ctx context.Context, s Store, referrerID int64, programType ProgramType) error {
	cfg, err := s.CurrentProgramConfig(ctx)
	if err != nil {
		return fmt.Errorf("load program config: %w", err)
	}
	limit := cfg.Settings(programType).MaxPerMonth
	if limit <= 0 {
		return nil
	}
	count, err := s.CountReferralsSince(ctx, referrerID, programType, monthStart(e.Now()))
	if err != nil {
		return fmt.Errorf("count monthly referrals: %w", err)
	}
	if count >= limit {
		return ErrMonthlyLimitReached
	}
	return nil
}

// ProcessCompletion counts one completed appointment toward the referred
// account's pending referral. It returns nil when no pending referral exists
// or the appointment was already counted.
// Reaching the threshold qualifies the referral and pays its rewards in the
// same transaction.
func (e *Engine) ProcessCompletion(ctx context.Context, appointmentID, referredID int64) (*Referral, error) {
	var updated *Referral
	var qualified, duplicate bool
	err := e.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetReferralByReferred(ctx, referredID)
		if err != nil {
			return fmt.Errorf("lookup referral: %w", err)
		}
		if r == nil || r.Status != StatusPending {
			return nil
		}

		now := e.Now()
		if err := s.RecordCompletion(ctx, r.ID, appointmentID, now); err != nil {
			if errors.Is(err, ErrCompletionRecorded) {
				duplicate = true
				return nil
			}
			return fmt.Errorf("record completion: %w", err)
		}
		r.CleaningsCompleted++
		r.UpdatedAt = now
		if r.CleaningsCompleted >= r.CleaningsRequired {
			r.Status = StatusQualified
			r.QualifiedAt = &now
			qualified = true
			if err := e.applyRewards(ctx, s, r); err != nil {
				return err
			}
		}
		if err := s.UpdateReferral(ctx, r); err != nil {
			return fmt.Errorf("update referral: %w", err)
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		e.Logger.Info("completion already counted",
			zap.Int64("appointment_id", appointmentID),
			zap.Int64("referred_id", referredID))
		return nil, nil
	}
	if updated == nil {
		return nil, nil
	}

	e.Logger.Debug("completion counted",
		zap.String("referral_id", updated.ID),
		zap.Int64("appointment_id", appointmentID),
		zap.Int("completed", updated.CleaningsCompleted),
		zap.Int("required", updated.CleaningsRequired))
	if qualified {
		e.Observer.ReferralQualified(updated.ProgramType)
		e.Logger.Info("referral qualified",
			zap.String("referral_id", updated.ID),
			zap.String("status", string(updated.Status)))
	}
	return updated, nil
}

// UpdateStatus applies an administrative status change. Moving into
// rewarded pays any outstanding rewards first.
func (e *Engine) UpdateStatus(ctx context.Context, referralID string, status Status) (*Referral, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	var updated *Referral
	err := e.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetReferral(ctx, referralID)
		if err != nil {
			return fmt.Errorf("lookup referral: %w", err)
		}
		if r == nil {
			return ErrReferralNotFound
		}
		if r.Status == status {
			updated = r
			return nil
		}
		if !r.Status.CanTransition(status) {
			return &TransitionError{ReferralID: r.ID, From: r.Status, To: status}
		}

		now := e.Now()
		if status == StatusQualified && r.QualifiedAt == nil {
			r.QualifiedAt = &now
		}
		if status == StatusRewarded {
			if r.QualifiedAt == nil {
				r.QualifiedAt = &now
			}
			if err := e.applyRewards(ctx, s, r); err != nil {
				return err
			}
		}
		r.Status = status
		r.UpdatedAt = now
		if err := s.UpdateReferral(ctx, r); err != nil {
			return fmt.Errorf("update referral: %w", err)
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Info("referral status updated",
		zap.String("referral_id", updated.ID),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// GetReferral returns a referral by id.
func (e *Engine) GetReferral(ctx context.Context, id string) (*Referral, error) {
	r, err := e.Store.GetReferral(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrReferralNotFound
	}
	return r, nil
}

// ListReferrals returns referrals matching filter, newest first.
func (e *Engine) ListReferrals(ctx context.Context, filter ReferralFilter) ([]Referral, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	return e.Store.ListReferrals(ctx, filter)
}
