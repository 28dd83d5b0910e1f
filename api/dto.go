/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the referral domain model from the external API contract. Field names
  are camelCase to match the existing web client.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are integer cents. Fields ending in Display carry the same
  amount as a two-decimal dollar string ("25.00").

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/referral-engine/referral"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ReferrerDTO is the public identity of a referrer.
type ReferrerDTO struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"firstName"`
	AccountType string `json:"accountType"`
}

// RewardsDTO is the reward snapshot offered by a program.
type RewardsDTO struct {
	ReferrerReward        int64  `json:"referrerReward"`
	ReferredReward        int64  `json:"referredReward"`
	ReferrerRewardDisplay string `json:"referrerRewardDisplay"`
	ReferredRewardDisplay string `json:"referredRewardDisplay"`
	CleaningsRequired     int    `json:"cleaningsRequired"`
	RewardType            string `json:"rewardType"`
	DiscountPercent       int    `json:"discountPercent,omitempty"`
	MinReferrals          int    `json:"minReferrals,omitempty"`
}

// ValidationResponse is returned by GET /validate/{code}.
type ValidationResponse struct {
	Valid       bool         `json:"valid"`
	Referrer    *ReferrerDTO `json:"referrer,omitempty"`
	ProgramType string       `json:"programType,omitempty"`
	Rewards     *RewardsDTO  `json:"rewards,omitempty"`
	Error       string       `json:"error,omitempty"`
	ErrorCode   string       `json:"errorCode,omitempty"`
}

// =============================================================================
// PROGRAMS AND CONFIGURATION
// =============================================================================

// ProgramDTO describes an enabled program on GET /current.
type ProgramDTO struct {
	ProgramType       string `json:"programType"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	ReferrerReward    string `json:"referrerReward"`
	ReferredReward    string `json:"referredReward"`
	CleaningsRequired int    `json:"cleaningsRequired"`
	RewardType        string `json:"rewardType"`
}

// ProgramSettingsDTO is one program's editable settings.
type ProgramSettingsDTO struct {
	Enabled           bool   `json:"enabled"`
	ReferrerReward    int64  `json:"referrerReward"`
	ReferredReward    int64  `json:"referredReward"`
	CleaningsRequired int    `json:"cleaningsRequired"`
	RewardType        string `json:"rewardType"`
	MaxPerMonth       int    `json:"maxPerMonth"`
	DiscountPercent   int    `json:"discountPercent"`
	MinReferrals      int    `json:"minReferrals"`
}

// ConfigDTO is a program configuration version.
type ConfigDTO struct {
	ID        int64                         `json:"id"`
	Active    bool                          `json:"active"`
	Programs  map[string]ProgramSettingsDTO `json:"programs"`
	UpdatedAt string                        `json:"updatedAt"`
}

// UpdateConfigRequest replaces the program configuration.
type UpdateConfigRequest struct {
	Active   bool                          `json:"active"`
	Programs map[string]ProgramSettingsDTO `json:"programs"`
}

// =============================================================================
// REFERRALS
// =============================================================================

// ReferralDTO represents a referral in API responses.
type ReferralDTO struct {
	ID                    string  `json:"id"`
	ReferrerID            int64   `json:"referrerId"`
	ReferredID            int64   `json:"referredId"`
	ReferralCode          string  `json:"referralCode"`
	ProgramType           string  `json:"programType"`
	Status                string  `json:"status"`
	CleaningsRequired     int     `json:"cleaningsRequired"`
	CleaningsCompleted    int     `json:"cleaningsCompleted"`
	ReferrerReward        int64   `json:"referrerReward"`
	ReferredReward        int64   `json:"referredReward"`
	ReferrerRewardDisplay string  `json:"referrerRewardDisplay"`
	ReferredRewardDisplay string  `json:"referredRewardDisplay"`
	RewardType            string  `json:"rewardType"`
	ReferrerRewardApplied bool    `json:"referrerRewardApplied"`
	ReferredRewardApplied bool    `json:"referredRewardApplied"`
	QualifiedAt           *string `json:"qualifiedAt"`
	CreatedAt             string  `json:"createdAt"`
	UpdatedAt             string  `json:"updatedAt"`
}

// ReferralListResponse wraps a page of referrals.
type ReferralListResponse struct {
	Referrals []ReferralDTO `json:"referrals"`
	Count     int           `json:"count"`
}

// StatsDTO summarizes an account's referral activity.
type StatsDTO struct {
	ReferralCode            string `json:"referralCode"`
	AvailableCredits        int64  `json:"availableCredits"`
	AvailableCreditsDisplay string `json:"availableCreditsDisplay"`
	TotalReferrals          int    `json:"totalReferrals"`
	Pending                 int    `json:"pending"`
	Qualified               int    `json:"qualified"`
	Rewarded                int    `json:"rewarded"`
	TotalEarned             int64  `json:"totalEarned"`
	TotalEarnedDisplay      string `json:"totalEarnedDisplay"`
}

// MyReferralsResponse is returned by GET /my-referrals.
type MyReferralsResponse struct {
	Stats     StatsDTO      `json:"stats"`
	Referrals []ReferralDTO `json:"referrals"`
}

// MyCodeResponse is returned by GET /my-code.
type MyCodeResponse struct {
	Code     string `json:"code"`
	ShareURL string `json:"shareUrl"`
}

// UpdateStatusRequest changes a referral's status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// CompletionRequest reports a completed billable appointment.
type CompletionRequest struct {
	AppointmentID int64 `json:"appointmentId"`
	AccountID     int64 `json:"accountId"`
}

// CompletionResponse carries the referral touched by a completion, if any.
type CompletionResponse struct {
	Counted  bool         `json:"counted"`
	Referral *ReferralDTO `json:"referral,omitempty"`
}

// =============================================================================
// CREDITS
// =============================================================================

// CreditEntryDTO is one credit ledger entry.
type CreditEntryDTO struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amountDisplay"`
	Kind          string `json:"kind"`
	ReferenceID   string `json:"referenceId,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

// CreditsResponse is returned by GET /my-credits.
type CreditsResponse struct {
	Balance        int64            `json:"balance"`
	BalanceDisplay string           `json:"balanceDisplay"`
	Transactions   []CreditEntryDTO `json:"transactions"`
}

// ApplyCreditsRequest spends credits on an appointment. A missing amount
// applies as much as possible.
type ApplyCreditsRequest struct {
	AppointmentID int64  `json:"appointmentId"`
	Amount        *int64 `json:"amount"`
}

// ApplyCreditsResponse is the outcome of POST /apply-credits.
type ApplyCreditsResponse struct {
	Success          bool   `json:"success"`
	AmountApplied    int64  `json:"amountApplied"`
	RemainingCredits int64  `json:"remainingCredits"`
	NewPrice         int64  `json:"newPrice"`
	NewPriceDisplay  string `json:"newPriceDisplay"`
	Error            string `json:"error,omitempty"`
}

// ShareRequest asks for a share message.
type ShareRequest struct {
	Channel string `json:"channel"` // link, email or sms
}

// ShareResponse is a ready-to-send referral message.
type ShareResponse struct {
	Code     string `json:"code"`
	ShareURL string `json:"shareUrl"`
	Channel  string `json:"channel"`
	Subject  string `json:"subject,omitempty"`
	Message  string `json:"message"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toValidationResponse(res *referral.ValidationResult) ValidationResponse {
	dto := ValidationResponse{
		Valid:       res.Valid,
		ProgramType: string(res.ProgramType),
		Error:       res.Error,
		ErrorCode:   string(res.ErrorCode),
	}
	if res.Referrer != nil {
		dto.Referrer = &ReferrerDTO{
			ID:          res.Referrer.ID,
			FirstName:   res.Referrer.FirstName,
			AccountType: string(res.Referrer.AccountType),
		}
	}
	if res.Rewards != nil {
		dto.Rewards = &RewardsDTO{
			ReferrerReward:        res.Rewards.ReferrerReward,
			ReferredReward:        res.Rewards.ReferredReward,
			ReferrerRewardDisplay: referral.FormatCents(res.Rewards.ReferrerReward),
			ReferredRewardDisplay: referral.FormatCents(res.Rewards.ReferredReward),
			CleaningsRequired:     res.Rewards.CleaningsRequired,
			RewardType:            string(res.Rewards.RewardType),
			DiscountPercent:       res.Rewards.DiscountPercent,
			MinReferrals:          res.Rewards.MinReferrals,
		}
	}
	return dto
}

func toProgramDTO(p referral.ProgramSummary) ProgramDTO {
	return ProgramDTO{
		ProgramType:       string(p.ProgramType),
		Name:              p.Name,
		Description:       p.Description,
		ReferrerReward:    p.ReferrerReward,
		ReferredReward:    p.ReferredReward,
		CleaningsRequired: p.CleaningsRequired,
		RewardType:        string(p.RewardType),
	}
}

func toConfigDTO(cfg *referral.ProgramConfig) ConfigDTO {
	dto := ConfigDTO{
		ID:        cfg.ID,
		Active:    cfg.Active,
		Programs:  make(map[string]ProgramSettingsDTO, len(cfg.Programs)),
		UpdatedAt: cfg.UpdatedAt.Format(time.RFC3339),
	}
	for p, s := range cfg.Programs {
		dto.Programs[string(p)] = ProgramSettingsDTO{
			Enabled:           s.Enabled,
			ReferrerReward:    s.ReferrerReward,
			ReferredReward:    s.ReferredReward,
			CleaningsRequired: s.CleaningsRequired,
			RewardType:        string(s.RewardType),
			MaxPerMonth:       s.MaxPerMonth,
			DiscountPercent:   s.DiscountPercent,
			MinReferrals:      s.MinReferrals,
		}
	}
	return dto
}

func fromUpdateConfigRequest(req UpdateConfigRequest) *referral.ProgramConfig {
	cfg := &referral.ProgramConfig{
		Active:   req.Active,
		Programs: make(map[referral.ProgramType]referral.ProgramSettings, len(req.Programs)),
	}
	for p, s := range req.Programs {
		cfg.Programs[referral.ProgramType(p)] = referral.ProgramSettings{
			Enabled:           s.Enabled,
			ReferrerReward:    s.ReferrerReward,
			ReferredReward:    s.ReferredReward,
			CleaningsRequired: s.CleaningsRequired,
			RewardType:        referral.RewardType(s.RewardType),
			MaxPerMonth:       s.MaxPerMonth,
			DiscountPercent:   s.DiscountPercent,
			MinReferrals:      s.MinReferrals,
		}
	}
	return cfg
}

func toReferralDTO(r referral.Referral) ReferralDTO {
	dto := ReferralDTO{
		ID:                    r.ID,
		ReferrerID:            r.ReferrerID,
		ReferredID:            r.ReferredID,
		ReferralCode:          r.ReferralCode,
		ProgramType:           string(r.ProgramType),
		Status:                string(r.Status),
		CleaningsRequired:     r.CleaningsRequired,
		CleaningsCompleted:    r.CleaningsCompleted,
		ReferrerReward:        r.ReferrerRewardAmount,
		ReferredReward:        r.ReferredRewardAmount,
		ReferrerRewardDisplay: referral.FormatCents(r.ReferrerRewardAmount),
		ReferredRewardDisplay: referral.FormatCents(r.ReferredRewardAmount),
		RewardType:            string(r.RewardType),
		ReferrerRewardApplied: r.ReferrerRewardApplied,
		ReferredRewardApplied: r.ReferredRewardApplied,
		CreatedAt:             r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             r.UpdatedAt.Format(time.RFC3339),
	}
	if r.QualifiedAt != nil {
		s := r.QualifiedAt.Format(time.RFC3339)
		dto.QualifiedAt = &s
	}
	return dto
}

func toReferralDTOs(referrals []referral.Referral) []ReferralDTO {
	dtos := make([]ReferralDTO, len(referrals))
	for i, r := range referrals {
		dtos[i] = toReferralDTO(r)
	}
	return dtos
}

func toStatsDTO(s *referral.Stats) StatsDTO {
	return StatsDTO{
		ReferralCode:            s.ReferralCode,
		AvailableCredits:        s.AvailableCredits,
		AvailableCreditsDisplay: referral.FormatCents(s.AvailableCredits),
		TotalReferrals:          s.TotalReferrals,
		Pending:                 s.Pending,
		Qualified:               s.Qualified,
		Rewarded:                s.Rewarded,
		TotalEarned:             s.TotalEarned,
		TotalEarnedDisplay:      referral.FormatCents(s.TotalEarned),
	}
}

func toCreditEntryDTO(e referral.CreditEntry) CreditEntryDTO {
	return CreditEntryDTO{
		ID:            e.ID,
		Amount:        e.DeltaCents,
		AmountDisplay: referral.FormatCents(e.DeltaCents),
		Kind:          string(e.Kind),
		ReferenceID:   e.ReferenceID,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}
