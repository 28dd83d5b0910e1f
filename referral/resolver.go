/*
resolver.go - Referral code validation and the program matrix

PURPOSE:
  Decides whether a code can be used by a new account, which of the four
  programs applies, and what that program pays. Validate is a pure decision
  over stored state: it writes nothing.

PROGRAM MATRIX:
                        referred homeowner    referred cleaner
  referrer homeowner    client_to_client      client_to_cleaner
  referrer cleaner      cleaner_to_client     cleaner_to_cleaner

GUARDS (first failure wins):
  1. empty code                      NO_CODE
  2. not ^[A-Z0-9]{4,12}$            INVALID_FORMAT
  3. no account holds the code       CODE_NOT_FOUND
  4. referrer account frozen         ACCOUNT_FROZEN
  5. no active configuration         PROGRAM_INACTIVE
  6. pair missing from the matrix    INVALID_COMBINATION
  7. program disabled                PROGRAM_TYPE_DISABLED
  8. referrer at monthly cap         MONTHLY_LIMIT_REACHED
*/
package referral

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4,12}$`)

type programKey struct {
	referrer AccountType
	referred AccountType
}

var programMatrix = map[programKey]ProgramType{
	{Homeowner, Homeowner}: ClientToClient,
	{Homeowner, Cleaner}:   ClientToCleaner,
	{Cleaner, Cleaner}:     CleanerToCleaner,
	{Cleaner, Homeowner}:   CleanerToClient,
}

// ResolveProgram looks up the program for a referrer/referred pair.
func ResolveProgram(referrer, referred AccountType) (ProgramType, bool) {
	p, ok := programMatrix[programKey{referrer, referred}]
	return p, ok
}

// NormalizeCode uppercases and trims a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ReferrerInfo is the public identity of a referrer.
type ReferrerInfo struct {
	ID          int64       `json:"id"`
	FirstName   string      `json:"first_name"`
	AccountType AccountType `json:"account_type"`
}

// ValidationResult is the outcome of Validate. When Valid is false,
// ErrorCode says why and the other fields are empty.
type ValidationResult struct {
	Valid       bool          `json:"valid"`
	Referrer    *ReferrerInfo `json:"referrer,omitempty"`
	ProgramType ProgramType   `json:"program_type,omitempty"`
	Rewards     *Rewards      `json:"rewards,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorCode   ErrorCode     `json:"error_code,omitempty"`
}

func invalid(code ErrorCode, msg string) *ValidationResult {
	return &ValidationResult{Valid: false, Error: msg, ErrorCode: code}
}

// Validate checks whether code can be used by an account of referredType.
// The returned error is non-nil only when the store fails.
func (e *Engine) Validate(ctx context.Context, code string, referredType AccountType) (*ValidationResult, error) {
	result, err := e.validate(ctx, code, referredType)
	if err != nil {
		return nil, err
	}
	e.Observer.CodeValidated(result.ErrorCode)
	return result, nil
}

func (e *Engine) validate(ctx context.Context, code string, referredType AccountType) (*ValidationResult, error) {
	if strings.TrimSpace(code) == "" {
		return invalid(CodeNoCode, "Referral code is required"), nil
	}
	code = NormalizeCode(code)
	if !codePattern.MatchString(code) {
		return invalid(CodeInvalidFormat, "Invalid referral code format"), nil
	}

	referrer, err := e.Store.GetAccountByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lookup referral code: %w", err)
	}
	if referrer == nil {
		return invalid(CodeNotFound, "Referral code not found"), nil
	}
	if referrer.AccountFrozen {
		return invalid(CodeAccountFrozen, "This referral code is no longer active"), nil
	}

	cfg, err := e.Store.CurrentProgramConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load program config: %w", err)
	}
	if cfg == nil || !cfg.Active {
		return invalid(CodeProgramInactive, "Referral program is not currently active"), nil
	}

	programType, ok := ResolveProgram(referrer.AccountType, referredType)
	if !ok {
		return invalid(CodeInvalidCombination, "Invalid referral combination"), nil
	}

	settings := cfg.Settings(programType)
	if !settings.Enabled {
		return invalid(CodeProgramTypeDisabled,
			fmt.Sprintf("%s referrals are not currently available", programType.Label())), nil
	}

	if settings.MaxPerMonth > 0 {
		count, err := e.Store.CountReferralsSince(ctx, referrer.ID, programType, monthStart(e.Now()))
		if err != nil {
			return nil, fmt.Errorf("count monthly referrals: %w", err)
		}
		if count >= settings.MaxPerMonth {
			return invalid(CodeMonthlyLimitReached, "This referrer has reached their monthly referral limit"), nil
		}
	}

	return &ValidationResult{
		Valid: true,
		Referrer: &ReferrerInfo{
			ID:          referrer.ID,
			FirstName:   referrer.FirstName,
			AccountType: referrer.AccountType,
		},
		ProgramType: programType,
		Rewards:     rewardsFor(programType, settings),
	}, nil
}

// rewardsFor builds the reward snapshot for a program. The cleaner-to-client
// program pays a discount instead of cash.
func rewardsFor(programType ProgramType, s ProgramSettings) *Rewards {
	if programType == CleanerToClient {
		return &Rewards{
			CleaningsRequired: s.CleaningsRequired,
			RewardType:        RewardDiscount,
			DiscountPercent:   s.DiscountPercent,
			MinReferrals:      s.MinReferrals,
		}
	}
	return &Rewards{
		ReferrerReward:    s.ReferrerReward,
		ReferredReward:    s.ReferredReward,
		CleaningsRequired: s.CleaningsRequired,
		RewardType:        s.RewardType,
	}
}

// =============================================================================
// PUBLIC PROGRAM LISTING
// =============================================================================

// ProgramSummary describes one enabled program for public display.
type ProgramSummary struct {
	ProgramType       ProgramType `json:"program_type"`
	Name              string      `json:"name"`
	Description       string      `json:"description"`
	ReferrerReward    string      `json:"referrer_reward"`
	ReferredReward    string      `json:"referred_reward"`
	CleaningsRequired int         `json:"cleanings_required"`
	RewardType        RewardType  `json:"reward_type"`
}

// CurrentPrograms lists the enabled programs of the active configuration.
// An inactive or missing configuration yields an empty list.
func (e *Engine) CurrentPrograms(ctx context.Context) ([]ProgramSummary, error) {
	cfg, err := e.Store.CurrentProgramConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load program config: %w", err)
	}
	programs := []ProgramSummary{}
	if cfg == nil || !cfg.Active {
		return programs, nil
	}
	for _, p := range ProgramTypes {
		s := cfg.Settings(p)
		if !s.Enabled {
			continue
		}
		programs = append(programs, ProgramSummary{
			ProgramType:       p,
			Name:              p.Label(),
			Description:       Describe(p, s),
			ReferrerReward:    FormatCents(s.ReferrerReward),
			ReferredReward:    FormatCents(s.ReferredReward),
			CleaningsRequired: s.CleaningsRequired,
			RewardType:        s.RewardType,
		})
	}
	return programs, nil
}

// Describe renders a program's reward as a short phrase, e.g. "Give $25, Get $25".
func Describe(p ProgramType, s ProgramSettings) string {
	if p == CleanerToClient || s.RewardType == RewardDiscount {
		if s.MinReferrals > 0 {
			return fmt.Sprintf("%d%% off after %d referrals", s.DiscountPercent, s.MinReferrals)
		}
		return fmt.Sprintf("%d%% off", s.DiscountPercent)
	}
	switch {
	case s.ReferrerReward > 0 && s.ReferredReward > 0:
		return fmt.Sprintf("Give %s, Get %s", formatDollars(s.ReferredReward), formatDollars(s.ReferrerReward))
	case s.ReferrerReward > 0 && s.RewardType == RewardBonus:
		return fmt.Sprintf("Earn a %s bonus for each referral", formatDollars(s.ReferrerReward))
	case s.ReferrerReward > 0:
		return fmt.Sprintf("Earn %s for each referral", formatDollars(s.ReferrerReward))
	case s.ReferredReward > 0:
		return fmt.Sprintf("Give %s", formatDollars(s.ReferredReward))
	}
	return "Thanks for spreading the word"
}
