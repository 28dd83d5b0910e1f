/*
errors.go - Error types for the referral engine

PURPOSE:
  All error types in one place. Two propagation styles coexist:

  1. Validation results: Validate never fails for business conditions.
     It returns a ValidationResult carrying one of the ErrorCode values.
  2. Invariant errors: CreateReferral and UpdateStatus return the sentinel
     errors below for integrity violations that normal use should not hit.

  Store failures are always returned as plain wrapped errors.

USAGE:
  if errors.Is(err, referral.ErrAlreadyReferred) { ... }

SEE ALSO:
  - resolver.go: Produces ValidationResult codes
  - api/handlers.go: Maps errors to HTTP status codes
*/
package referral

import (
	"errors"
	"fmt"
)

// =============================================================================
// VALIDATION CODES - Returned inside ValidationResult, never as errors
// =============================================================================

// ErrorCode is a machine-readable reason a referral code was rejected.
type ErrorCode string

const (
	CodeNoCode              ErrorCode = "NO_CODE"
	CodeInvalidFormat       ErrorCode = "INVALID_FORMAT"
	CodeNotFound            ErrorCode = "CODE_NOT_FOUND"
	CodeAccountFrozen       ErrorCode = "ACCOUNT_FROZEN"
	CodeProgramInactive     ErrorCode = "PROGRAM_INACTIVE"
	CodeInvalidCombination  ErrorCode = "INVALID_COMBINATION"
	CodeProgramTypeDisabled ErrorCode = "PROGRAM_TYPE_DISABLED"
	CodeMonthlyLimitReached ErrorCode = "MONTHLY_LIMIT_REACHED"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidCode is returned when CreateReferral cannot resolve the referrer.
	ErrInvalidCode = errors.New("INVALID_CODE")

	// ErrAlreadyReferred is returned when the referred account already has a referral.
	ErrAlreadyReferred = errors.New("ALREADY_REFERRED")

	// ErrReferralNotFound is returned when a referral id does not exist.
	ErrReferralNotFound = errors.New("REFERRAL_NOT_FOUND")

	// ErrInvalidStatus is returned for a status outside the five defined states.
	ErrInvalidStatus = errors.New("INVALID_STATUS")

	// ErrInvalidTransition is returned when a status change would move backwards
	// or out of a terminal state.
	ErrInvalidTransition = errors.New("INVALID_TRANSITION")

	// ErrMonthlyLimitReached is returned by CreateReferral when the cap was
	// reached between validation and insert.
	ErrMonthlyLimitReached = errors.New("MONTHLY_LIMIT_REACHED")

	// ErrAccountNotFound is returned when an account id does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCodeTaken is returned by the store when a referral code is already assigned.
	ErrCodeTaken = errors.New("referral code already taken")

	// ErrDuplicateIdempotencyKey is returned by the store when a credit entry
	// with the same key was already recorded.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrCompletionRecorded is returned by the store when an appointment was
	// already counted toward a referral.
	ErrCompletionRecorded = errors.New("completion already recorded")

	// ErrInsufficientCredits is returned by the store when a debit would make
	// a balance negative.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError describes a rejected status change.
type TransitionError struct {
	ReferralID string
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("referral %s: cannot move from %s to %s", e.ReferralID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsInvariantError reports whether err is one of the integrity errors the
// ledger raises. Callers should let these surface as server errors.
func IsInvariantError(err error) bool {
	return errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrAlreadyReferred) ||
		errors.Is(err, ErrReferralNotFound) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidTransition)
}
