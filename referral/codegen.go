package referral

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codePrefixLen   = 4
	codeSuffixLen   = 4
	maxCodeLen      = 12
	maxCodeAttempts = 10
)

// GenerateCode assigns a fresh referral code to the account and returns it.
//
// Candidates are NAME + 4 random characters. Each candidate is claimed with a
// unique assignment in the store; a conflict means another account owns it
// and a new suffix is drawn. After maxCodeAttempts conflicts the code falls
// back to a code derived from the account id (see assignFallbackCode).
func (e *Engine) GenerateCode(ctx context.Context, accountID int64) (string, error) {
	account, err := e.Store.GetAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("load account %d: %w", accountID, err)
	}
	if account == nil {
		return "", ErrAccountNotFound
	}

	prefix := codePrefix(account.FirstName)
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		suffix, err := randomSuffix(e.Random, codeSuffixLen)
		if err != nil {
			return "", fmt.Errorf("draw code suffix: %w", err)
		}
		code := prefix + suffix

		err = e.Store.AssignReferralCode(ctx, accountID, code)
		if err == nil {
			e.Observer.CodeGenerated(attempt, false)
			return code, nil
		}
		if !errors.Is(err, ErrCodeTaken) {
			return "", fmt.Errorf("assign referral code: %w", err)
		}
		e.Logger.Debug("referral code collision",
			zap.Int64("account_id", accountID),
			zap.String("code", code),
			zap.Int("attempt", attempt))
	}

	return e.assignFallbackCode(ctx, accountID)
}

// assignFallbackCode claims an id-derived code. The id part is unique to the
// account, but a hand-assigned code may still hold the same string, so the
// hex tail is redrawn on conflict.
func (e *Engine) assignFallbackCode(ctx context.Context, accountID int64) (string, error) {
	base, err := fallbackBase(accountID)
	if err != nil {
		return "", err
	}
	attempts := maxCodeAttempts
	if len(base) == maxCodeLen {
		// No room for a tail, so there is nothing to redraw.
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		code, err := fallbackCode(e.Random, accountID)
		if err != nil {
			return "", fmt.Errorf("draw fallback code: %w", err)
		}
		err = e.Store.AssignReferralCode(ctx, accountID, code)
		if err == nil {
			e.Observer.CodeGenerated(maxCodeAttempts+attempt, true)
			e.Logger.Warn("referral code fell back to id-derived code",
				zap.Int64("account_id", accountID),
				zap.String("code", code))
			return code, nil
		}
		if !errors.Is(err, ErrCodeTaken) {
			return "", fmt.Errorf("assign fallback referral code: %w", err)
		}
		e.Logger.Debug("fallback referral code collision",
			zap.Int64("account_id", accountID),
			zap.String("code", code),
			zap.Int("attempt", attempt))
	}
	return "", fmt.Errorf("assign fallback referral code for account %d: %w", accountID, ErrCodeTaken)
}

// EnsureCode returns the account's existing code, generating one if needed.
func (e *Engine) EnsureCode(ctx context.Context, accountID int64) (string, error) {
	account, err := e.Store.GetAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("load account %d: %w", accountID, err)
	}
	if account == nil {
		return "", ErrAccountNotFound
	}
	if account.ReferralCode != "" {
		return account.ReferralCode, nil
	}
	return e.GenerateCode(ctx, accountID)
}

// codePrefix takes the first four code-safe characters of the name,
// padded with X. Names without any usable character become USER.
func codePrefix(firstName string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(firstName) {
		if b.Len() == codePrefixLen {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "USER"
	}
	return b.String() + strings.Repeat("X", codePrefixLen-b.Len())
}

// randomSuffix draws n characters from codeAlphabet without modulo bias.
func randomSuffix(r io.Reader, n int) (string, error) {
	const limit = 256 - 256%len(codeAlphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, 1)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		if int(buf[0]) >= limit {
			continue
		}
		out = append(out, codeAlphabet[int(buf[0])%len(codeAlphabet)])
	}
	return string(out), nil
}

// fallbackBase is the id-derived part of a fallback code: REF<id> when it
// leaves room for a tail, otherwise R<id in base 36>, otherwise the bare
// base-36 id. The id is never shortened.
func fallbackBase(accountID int64) (string, error) {
	if accountID <= 0 {
		return "", fmt.Errorf("fallback code: invalid account id %d", accountID)
	}
	b36 := strings.ToUpper(strconv.FormatInt(accountID, 36))
	for _, base := range []string{"REF" + strconv.FormatInt(accountID, 10), "R" + b36} {
		if len(base) < maxCodeLen {
			return base, nil
		}
	}
	if len(b36) <= maxCodeLen {
		return b36, nil
	}
	return "", fmt.Errorf("fallback code: account id %d does not fit in %d characters", accountID, maxCodeLen)
}

// fallbackCode appends up to four random hex digits to fallbackBase, as many
// as fit in maxCodeLen.
func fallbackCode(r io.Reader, accountID int64) (string, error) {
	base, err := fallbackBase(accountID)
	if err != nil {
		return "", err
	}
	n := min(4, maxCodeLen-len(base))
	if n == 0 {
		return base, nil
	}
	buf := make([]byte, (n+1)/2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return base + fmt.Sprintf("%X", buf)[:n], nil
}
