package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Marriott12/armis-sub005/internal/rate"
)

// Login verifies the credentials and, when the account has MFA enabled,
// the one-time code, then issues an access/refresh token pair bound to a
// new session.
//
// The returned errors are deliberately coarse: unknown usernames and
// wrong passwords both yield [ErrInvalidCredentials], and the precise
// cause is recorded only in the security event log. An empty mfaCode on
// an MFA-enabled account yields [ErrMFARequired]; the caller resubmits
// the same credentials together with a code.
func (e *Engine) Login(ctx context.Context, username, passwd, mfaCode string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if username == "" || passwd == "" {
		return nil, ErrInvalidCredentials
	}
	ip := ClientIPFromContext(ctx)

	if err := e.limiter.CheckLogin(ctx, username, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.recordEvent(ctx, auditEventLoginRateLimited, false, "", username, "", ip, "login failure budget exhausted")
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	account, err := e.creds.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			// Burn a hash verification so unknown usernames take as long
			// as wrong passwords.
			_, _ = e.hasher.Verify(passwd, e.dummyHash)
			if rlErr := e.recordLoginFailure(ctx, username, ip); rlErr != nil {
				return nil, rlErr
			}
			e.recordEvent(ctx, auditEventLoginFailure, false, "", username, "", ip, "unknown username")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ok, err := e.hasher.Verify(passwd, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		if rlErr := e.recordLoginFailure(ctx, username, ip); rlErr != nil {
			return nil, rlErr
		}
		e.recordEvent(ctx, auditEventLoginFailure, false, account.ID, username, "", ip, "wrong password")
		return nil, ErrInvalidCredentials
	}

	if account.Status != AccountActive {
		e.recordEvent(ctx, auditEventLoginFailure, false, account.ID, username, "", ip, "account disabled")
		return nil, ErrAccountDisabled
	}

	enrollment, err := e.mfa.GetEnrollment(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if enrollment != nil && enrollment.Enabled {
		if mfaCode == "" {
			e.recordEvent(ctx, auditEventMFARequired, false, account.ID, username, "", ip, "code required")
			return nil, ErrMFARequired
		}
		if err := e.verifySecondFactor(ctx, account, enrollment, mfaCode, ip); err != nil {
			return nil, err
		}
	}

	e.maybeUpgradeHash(ctx, account, passwd)

	result, err := e.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}

	if err := e.limiter.ResetLogin(ctx, username, ip); err != nil {
		log.Printf("auth: login counter reset failed for %s: %v", username, err)
	}
	e.recordEvent(ctx, auditEventLoginSuccess, true, account.ID, username, result.SessionID, ip, "")

	return result, nil
}

// verifySecondFactor accepts either a TOTP code or a backup code. Input
// of exactly the configured digit length goes down the TOTP path;
// anything else is treated as a backup code.
func (e *Engine) verifySecondFactor(ctx context.Context, account Account, enrollment *MFAEnrollment, code string, ip string) error {
	if looksLikeTOTP(code, e.config.TOTP.Digits) {
		ok, step, err := e.totp.VerifyCode(enrollment.Secret, code, time.Now())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if ok {
			if step <= enrollment.LastStep {
				e.recordEvent(ctx, auditEventMFAFailure, false, account.ID, account.Username, "", ip, "totp replay")
				return ErrMFAReplayed
			}
			advanced, err := e.mfa.UpdateLastStep(ctx, account.ID, step)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			if !advanced {
				// A concurrent request consumed the step after our
				// enrollment read; the store's guard is the arbiter.
				e.recordEvent(ctx, auditEventMFAFailure, false, account.ID, account.Username, "", ip, "totp replay")
				return ErrMFAReplayed
			}
			e.recordEvent(ctx, auditEventMFASuccess, true, account.ID, account.Username, "", ip, "totp")
			return nil
		}
		if rlErr := e.recordLoginFailure(ctx, account.Username, ip); rlErr != nil {
			return rlErr
		}
		e.recordEvent(ctx, auditEventMFAFailure, false, account.ID, account.Username, "", ip, "totp mismatch")
		return ErrInvalidMFACode
	}

	canonical := canonicalizeBackupCode(code)
	if canonical == "" {
		if rlErr := e.recordLoginFailure(ctx, account.Username, ip); rlErr != nil {
			return rlErr
		}
		e.recordEvent(ctx, auditEventMFAFailure, false, account.ID, account.Username, "", ip, "malformed code")
		return ErrInvalidMFACode
	}

	consumed, err := e.mfa.ConsumeBackupCode(ctx, account.ID, backupCodeHash(account.ID, canonical))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !consumed {
		if rlErr := e.recordLoginFailure(ctx, account.Username, ip); rlErr != nil {
			return rlErr
		}
		e.recordEvent(ctx, auditEventMFAFailure, false, account.ID, account.Username, "", ip, "backup code mismatch")
		return ErrInvalidMFACode
	}

	e.recordEvent(ctx, auditEventBackupCodeUsed, true, account.ID, account.Username, "", ip, "")
	return nil
}

// issueSession creates the refresh-token row, the opaque client token,
// the signed access token and the session's CSRF token. The refresh
// token ID doubles as the session ID.
func (e *Engine) issueSession(ctx context.Context, account Account) (*LoginResult, error) {
	tokenID, err := newTokenID()
	if err != nil {
		return nil, err
	}
	secret, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := RefreshTokenRecord{
		TokenID:    tokenID,
		AccountID:  account.ID,
		SecretHash: hashRefreshSecret(secret),
		IssuedAt:   now,
		ExpiresAt:  now.Add(e.config.JWT.RefreshTTL),
	}
	if err := e.tokens.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	opaque, err := encodeRefreshToken(tokenID, secret)
	if err != nil {
		return nil, err
	}

	access, err := e.signAccessToken(account, tokenID)
	if err != nil {
		return nil, err
	}

	csrfToken, err := e.csrf.Issue(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: opaque,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.config.JWT.AccessTTL.Seconds()),
		CSRFToken:    csrfToken,
		SessionID:    tokenID,
	}, nil
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, account Account, passwd string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.hasher.Hash(passwd)
	if err != nil {
		return
	}
	// Best effort: a failed upgrade leaves the old hash working.
	if err := e.creds.UpdatePasswordHash(ctx, account.ID, newHash); err != nil {
		log.Printf("auth: password hash upgrade failed for account %s: %v", account.ID, err)
	}
}

// recordLoginFailure advances the shared failure counters. A Redis
// outage fails the attempt rather than letting it bypass the limit.
func (e *Engine) recordLoginFailure(ctx context.Context, username, ip string) error {
	err := e.limiter.RecordLoginFailure(ctx, username, ip)
	if err == nil || errors.Is(err, rate.ErrRateLimited) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func looksLikeTOTP(code string, digits int) bool {
	return len(code) == digits && isNumericString(code)
}

// RetryAfter reports how long the username must wait once rate limited.
// Zero means no active limit.
func (e *Engine) RetryAfter(ctx context.Context, username string) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	d, err := e.limiter.RetryAfterLogin(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return d, nil
}
