package referral

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SpendResult is the outcome of SpendCredits. A false Success carries the
// reason in Error and means nothing was written.
type SpendResult struct {
	Success          bool   `json:"success"`
	AmountApplied    int64  `json:"amount_applied"`
	RemainingCredits int64  `json:"remaining_credits"`
	NewPrice         int64  `json:"new_price"`
	Error            string `json:"error,omitempty"`
}

// errSpendRejected aborts the spend transaction for an ordinary business
// refusal, which SpendCredits reports as an unsuccessful SpendResult.
type errSpendRejected struct{ reason string }

func (e errSpendRejected) Error() string { return e.reason }

// SpendCredits applies up to requestedCents of the account's credits to an
// appointment's price. The applied amount is
// min(available credits, appointment price, requestedCents). The balance
// deduction and the repricing commit together or not at all.
func (e *Engine) SpendCredits(ctx context.Context, accountID, appointmentID, requestedCents int64) (*SpendResult, error) {
	var result *SpendResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		account, err := s.GetAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if account == nil {
			return errSpendRejected{"Account not found"}
		}
		appt, err := s.GetAppointment(ctx, appointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt == nil || appt.AccountID != accountID {
			return errSpendRejected{"Appointment not found"}
		}

		applied := min(account.ReferralCredits, appt.PriceCents, requestedCents)
		if applied <= 0 {
			return errSpendRejected{"No credits available"}
		}

		err = s.AppendCredit(ctx, CreditEntry{
			ID:             uuid.NewString(),
			AccountID:      accountID,
			DeltaCents:     -applied,
			Kind:           CreditRedemption,
			ReferenceID:    strconv.FormatInt(appointmentID, 10),
			IdempotencyKey: "redemption:" + uuid.NewString(),
			CreatedAt:      e.Now(),
		})
		if err != nil {
			return fmt.Errorf("deduct credits: %w", err)
		}

		newPrice := appt.PriceCents - applied
		if err := s.UpdateAppointmentPrice(ctx, appointmentID, newPrice, appt.CreditsAppliedCents+applied); err != nil {
			return fmt.Errorf("update appointment price: %w", err)
		}

		result = &SpendResult{
			Success:          true,
			AmountApplied:    applied,
			RemainingCredits: account.ReferralCredits - applied,
			NewPrice:         newPrice,
		}
		return nil
	})
	var rejected errSpendRejected
	if errors.As(err, &rejected) {
		return &SpendResult{Success: false, Error: rejected.reason}, nil
	}
	if err != nil {
		e.Logger.Error("credit spend failed",
			zap.Int64("account_id", accountID),
			zap.Int64("appointment_id", appointmentID),
			zap.Error(err))
		return nil, err
	}

	e.Observer.CreditsSpent(result.AmountApplied)
	e.Logger.Info("credits applied",
		zap.Int64("account_id", accountID),
		zap.Int64("appointment_id", appointmentID),
		zap.Int64("amount_cents", result.AmountApplied),
		zap.Int64("remaining_cents", result.RemainingCredits))
	return result, nil
}

// CreditHistory lists the account's credit ledger entries, newest first.
func (e *Engine) CreditHistory(ctx context.Context, accountID int64) ([]CreditEntry, error) {
	return e.Store.ListCredits(ctx, accountID)
}
