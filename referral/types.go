/*
Package referral implements the referral program engine.

PURPOSE:
  Issues unique referral codes, validates codes against the multi-program
  reward matrix, tracks each referral from signup to payout, and moves
  referral credits in and out of account balances.

KEY CONCEPTS IN THIS FILE (types.go):
  - AccountType: Homeowner or Cleaner, resolved once at the account boundary
  - ProgramType: One of the four referrer/referred combinations
  - Status:      Referral lifecycle state
  - Referral:    The central entity, with a reward snapshot taken at signup

LIFECYCLE:
  pending ──► qualified ──► rewarded
     │            │
     └────────────┴──► expired / cancelled   (administrative action only)

  rewarded, expired and cancelled are terminal. A status never reverts.

MONEY:
  All amounts are integer cents. Dollars only appear at the display edge
  (see FormatCents).

SEE ALSO:
  - engine.go:   Engine construction and dependencies
  - resolver.go: Program matrix and code validation
  - ledger.go:   Referral creation and progress tracking
  - store.go:    Persistence interfaces
*/
package referral

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT TYPE
// =============================================================================

// AccountType is the kind of account on either side of a referral.
type AccountType string

const (
	Homeowner AccountType = "homeowner"
	Cleaner   AccountType = "cleaner"
)

// ParseAccountType resolves a stored or user-supplied account type.
// An empty value means homeowner.
func ParseAccountType(s string) (AccountType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "homeowner", "client":
		return Homeowner, nil
	case "cleaner":
		return Cleaner, nil
	default:
		return "", fmt.Errorf("unknown account type %q", s)
	}
}

// =============================================================================
// PROGRAMS
// =============================================================================

// ProgramType identifies one cell of the referrer × referred matrix.
type ProgramType string

const (
	ClientToClient   ProgramType = "client_to_client"
	ClientToCleaner  ProgramType = "client_to_cleaner"
	CleanerToCleaner ProgramType = "cleaner_to_cleaner"
	CleanerToClient  ProgramType = "cleaner_to_client"
)

// ProgramTypes lists every program in display order.
var ProgramTypes = []ProgramType{ClientToClient, ClientToCleaner, CleanerToCleaner, CleanerToClient}

func (p ProgramType) Valid() bool {
	switch p {
	case ClientToClient, ClientToCleaner, CleanerToCleaner, CleanerToClient:
		return true
	}
	return false
}

// Label is the human-readable program name used in messages.
func (p ProgramType) Label() string {
	switch p {
	case ClientToClient:
		return "Client to Client"
	case ClientToCleaner:
		return "Client to Cleaner"
	case CleanerToCleaner:
		return "Cleaner to Cleaner"
	case CleanerToClient:
		return "Cleaner to Client"
	}
	return string(p)
}

// RewardType describes how a qualified referral pays out.
type RewardType string

const (
	RewardCredit   RewardType = "credit"
	RewardBonus    RewardType = "bonus"
	RewardDiscount RewardType = "discount"
)

func (r RewardType) Valid() bool {
	return r == RewardCredit || r == RewardBonus || r == RewardDiscount
}

// ProgramSettings is the configuration of a single program type.
type ProgramSettings struct {
	Enabled           bool       `json:"enabled"`
	ReferrerReward    int64      `json:"referrer_reward"`
	ReferredReward    int64      `json:"referred_reward"`
	CleaningsRequired int        `json:"cleanings_required"`
	RewardType        RewardType `json:"reward_type"`
	MaxPerMonth       int        `json:"max_per_month,omitempty"` // 0 = unlimited
	DiscountPercent   int        `json:"discount_percent,omitempty"`
	MinReferrals      int        `json:"min_referrals,omitempty"`
}

// Validate checks the settings an administrator is allowed to save.
func (s ProgramSettings) Validate() error {
	if s.ReferrerReward < 0 || s.ReferredReward < 0 {
		return fmt.Errorf("rewards must not be negative")
	}
	if s.CleaningsRequired < 1 {
		return fmt.Errorf("cleanings_required must be at least 1")
	}
	if !s.RewardType.Valid() {
		return fmt.Errorf("invalid reward_type %q", s.RewardType)
	}
	if s.MaxPerMonth < 0 {
		return fmt.Errorf("max_per_month must not be negative")
	}
	if s.DiscountPercent < 0 || s.DiscountPercent > 100 {
		return fmt.Errorf("discount_percent must be between 0 and 100")
	}
	return nil
}

// ProgramConfig is a read-only snapshot of every program's settings.
type ProgramConfig struct {
	ID        int64
	Active    bool
	Programs  map[ProgramType]ProgramSettings
	UpdatedAt time.Time
}

// Settings returns the settings of one program. Missing programs are disabled.
func (c *ProgramConfig) Settings(p ProgramType) ProgramSettings {
	if c == nil || c.Programs == nil {
		return ProgramSettings{}
	}
	return c.Programs[p]
}

// Validate checks every configured program.
func (c *ProgramConfig) Validate() error {
	for p, s := range c.Programs {
		if !p.Valid() {
			return fmt.Errorf("unknown program type %q", p)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DefaultProgramConfig is the configuration installed on a fresh store.
func DefaultProgramConfig() *ProgramConfig {
	return &ProgramConfig{
		Active: true,
		Programs: map[ProgramType]ProgramSettings{
			ClientToClient: {
				Enabled: true, ReferrerReward: 2500, ReferredReward: 2500,
				CleaningsRequired: 1, RewardType: RewardCredit, MaxPerMonth: 10,
			},
			ClientToCleaner: {
				Enabled: true, ReferrerReward: 5000,
				CleaningsRequired: 3, RewardType: RewardCredit,
			},
			CleanerToCleaner: {
				Enabled: true, ReferrerReward: 5000,
				CleaningsRequired: 5, RewardType: RewardBonus,
			},
			CleanerToClient: {
				Enabled: false, CleaningsRequired: 1, RewardType: RewardDiscount,
				DiscountPercent: 10, MinReferrals: 3,
			},
		},
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// Account is the slice of an external account the engine reads and writes.
type Account struct {
	ID              int64
	FirstName       string
	AccountType     AccountType
	ReferralCode    string // empty when none assigned
	ReferralCredits int64
	AccountFrozen   bool
}

// =============================================================================
// REFERRALS
// =============================================================================

// Status is the lifecycle state of a referral.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQualified Status = "qualified"
	StatusRewarded  Status = "rewarded"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusQualified, StatusRewarded, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusRewarded || s == StatusExpired || s == StatusCancelled
}

// CanTransition reports whether moving from s to next keeps the lifecycle monotonic.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	switch next {
	case StatusPending:
		return false
	case StatusQualified:
		return s == StatusPending
	default:
		return true
	}
}

// Rewards is the reward parameter set resolved for a program.
// It is copied onto the referral at creation time.
type Rewards struct {
	ReferrerReward    int64      `json:"referrer_reward"`
	ReferredReward    int64      `json:"referred_reward"`
	CleaningsRequired int        `json:"cleanings_required"`
	RewardType        RewardType `json:"reward_type"`
	DiscountPercent   int        `json:"discount_percent,omitempty"`
	MinReferrals      int        `json:"min_referrals,omitempty"`
}

// Referral links a referrer to the single account they referred.
type Referral struct {
	ID                      string
	ReferrerID              int64
	ReferredID              int64
	ReferralCode            string
	ProgramType             ProgramType
	Status                  Status
	CleaningsRequired       int
	CleaningsCompleted      int
	ReferrerRewardAmount    int64
	ReferredRewardAmount    int64
	RewardType              RewardType
	ReferrerRewardApplied   bool
	ReferredRewardApplied   bool
	ReferrerRewardAppliedAt *time.Time
	ReferredRewardAppliedAt *time.Time
	QualifiedAt             *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// ReferralFilter narrows a referral listing. Zero fields are ignored.
type ReferralFilter struct {
	Status      Status
	ProgramType ProgramType
	ReferrerID  int64
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// =============================================================================
// CREDITS
// =============================================================================

// Appointment is the priced transaction credits can be spent against.
type Appointment struct {
	ID                  int64
	AccountID           int64
	PriceCents          int64
	CreditsAppliedCents int64
}

// CreditKind classifies a credit ledger entry.
type CreditKind string

const (
	CreditReferralReward CreditKind = "referral_reward"
	CreditRedemption     CreditKind = "redemption"
)

// CreditEntry is one append-only change to an account's credit balance.
type CreditEntry struct {
	ID             string
	AccountID      int64
	DeltaCents     int64
	Kind           CreditKind
	ReferenceID    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// FormatCents renders cents as a dollar amount with two decimals.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// formatDollars renders cents without a trailing ".00" for whole amounts.
func formatDollars(cents int64) string {
	d := decimal.New(cents, -2)
	if d.IsInteger() {
		return "$" + d.String()
	}
	return "$" + d.StringFixed(2)
}
