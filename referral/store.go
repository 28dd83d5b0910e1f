/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  The engine owns no state between calls. Accounts, program configuration,
  referrals, appointments and the credit ledger all live behind these
  interfaces, owned by the surrounding application.

NOT-FOUND CONVENTION:
  Single-row lookups return (nil, nil) when the row does not exist.

UNIQUENESS (enforced by the store, not by read-then-write):
  - accounts.referral_code          → ErrCodeTaken
  - referrals.referred_id           → ErrAlreadyReferred
  - credit_entries.idempotency_key  → ErrDuplicateIdempotencyKey
  - referral_completions (referral, appointment) → ErrCompletionRecorded

TRANSACTIONS:
  TxStore.WithTx runs fn against a Store bound to one database transaction.
  Returning an error from fn rolls back every write made through that Store.
  Inside fn, only the Store passed to fn may be used.

IMPLEMENTATIONS:
  - store/sqlite: SQLite implementation
*/
package referral

import (
	"context"
	"time"
)

// AccountStore reads accounts and updates their referral fields.
type AccountStore interface {
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountByCode(ctx context.Context, code string) (*Account, error)

	// AssignReferralCode sets the account's code. Returns ErrCodeTaken when
	// another account already holds it.
	AssignReferralCode(ctx context.Context, accountID int64, code string) error
}

// ConfigStore reads and replaces the program configuration.
type ConfigStore interface {
	// CurrentProgramConfig returns the latest snapshot, or nil if none was
	// ever saved. Callers check Active.
	CurrentProgramConfig(ctx context.Context) (*ProgramConfig, error)
	SaveProgramConfig(ctx context.Context, cfg *ProgramConfig) error
}

// ReferralStore persists referrals.
type ReferralStore interface {
	// CreateReferral inserts a referral. Returns ErrAlreadyReferred when the
	// referred account already has one.
	CreateReferral(ctx context.Context, r *Referral) error
	GetReferral(ctx context.Context, id string) (*Referral, error)
	GetReferralByReferred(ctx context.Context, referredID int64) (*Referral, error)
	UpdateReferral(ctx context.Context, r *Referral) error
	ListReferrals(ctx context.Context, filter ReferralFilter) ([]Referral, error)

	// CountReferralsSince counts the referrer's referrals of one program type
	// created at or after since.
	CountReferralsSince(ctx context.Context, referrerID int64, programType ProgramType, since time.Time) (int, error)

	// RecordCompletion notes that an appointment counted toward a referral.
	// Returns ErrCompletionRecorded if it was already counted.
	RecordCompletion(ctx context.Context, referralID string, appointmentID int64, at time.Time) error
}

// AppointmentStore reads and reprices appointments.
type AppointmentStore interface {
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	UpdateAppointmentPrice(ctx context.Context, id int64, priceCents, creditsAppliedCents int64) error
}

// CreditStore is the append-only credit ledger.
type CreditStore interface {
	// AppendCredit records entry and moves the account balance by DeltaCents.
	// Returns ErrDuplicateIdempotencyKey if the key exists and
	// ErrInsufficientCredits if the balance would go negative.
	AppendCredit(ctx context.Context, entry CreditEntry) error
	ListCredits(ctx context.Context, accountID int64) ([]CreditEntry, error)
}

// Store aggregates every repository the engine uses.
type Store interface {
	AccountStore
	ConfigStore
	ReferralStore
	AppointmentStore
	CreditStore
}

// TxStore adds transactional execution to Store.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
