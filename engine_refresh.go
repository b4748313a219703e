package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/Marriott12/armis-sub005/csrf"
	"github.com/Marriott12/armis-sub005/internal/rate"
	"github.com/Marriott12/armis-sub005/jwt"
)

// Refresh rotates the presented refresh token and issues a new token
// pair. The old token is revoked in the same transaction that records
// the replacement, so a token can be rotated exactly once; presenting it
// again returns [ErrRevokedToken] and revokes every live token of the
// account, forcing a fresh login.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ip := ClientIPFromContext(ctx)

	tokenID, secret, err := decodeRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	if err := e.limiter.Allow(ctx, "refresh:"+tokenID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	newID, err := newTokenID()
	if err != nil {
		return nil, err
	}
	newSecret, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	replacement := RefreshTokenRecord{
		TokenID:    newID,
		SecretHash: hashRefreshSecret(newSecret),
		IssuedAt:   now,
		ExpiresAt:  now.Add(e.config.JWT.RefreshTTL),
	}

	accountID, err := e.tokens.Rotate(ctx, tokenID, hashRefreshSecret(secret), replacement)
	if err != nil {
		switch {
		case errors.Is(err, ErrRevokedToken):
			// Replay of an already-rotated token: assume the token leaked
			// and revoke the whole family.
			if accountID != "" {
				if revokeErr := e.tokens.RevokeAll(ctx, accountID); revokeErr != nil {
					log.Printf("auth: family revocation failed for account %s: %v", accountID, revokeErr)
				}
			}
			e.recordEvent(ctx, auditEventTokenReplay, false, accountID, "", tokenID, ip, "rotated token replayed")
			return nil, ErrRevokedToken
		case errors.Is(err, ErrExpiredToken), errors.Is(err, ErrInvalidToken):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	account, err := e.creds.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account.Status != AccountActive {
		if revokeErr := e.tokens.RevokeAll(ctx, accountID); revokeErr != nil {
			log.Printf("auth: revocation failed for disabled account %s: %v", accountID, revokeErr)
		}
		return nil, ErrAccountDisabled
	}

	opaque, err := encodeRefreshToken(newID, newSecret)
	if err != nil {
		return nil, err
	}
	access, err := e.signAccessToken(account, newID)
	if err != nil {
		return nil, err
	}

	csrfToken, err := e.csrf.Issue(ctx, newID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.csrf.Clear(ctx, tokenID); err != nil {
		log.Printf("auth: csrf cleanup failed for session %s: %v", tokenID, err)
	}

	e.recordEvent(ctx, auditEventTokenRefreshed, true, accountID, account.Username, newID, ip, "")

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: opaque,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.config.JWT.AccessTTL.Seconds()),
		CSRFToken:    csrfToken,
		SessionID:    newID,
	}, nil
}

// Logout revokes every live refresh token of the account and clears the
// session's CSRF token. Outstanding access tokens stay valid until they
// expire; their TTL bounds the exposure.
func (e *Engine) Logout(ctx context.Context, accountID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ip := ClientIPFromContext(ctx)

	if err := e.tokens.RevokeAll(ctx, accountID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if sessionID != "" {
		if err := e.csrf.Clear(ctx, sessionID); err != nil {
			log.Printf("auth: csrf cleanup failed for session %s: %v", sessionID, err)
		}
	}

	e.recordEvent(ctx, auditEventTokensRevoked, true, accountID, "", sessionID, ip, "logout")
	return nil
}

// ValidateAccess verifies an access token and returns the identity it
// carries. Expiry maps to [ErrExpiredToken]; every other parse failure
// maps to [ErrInvalidToken].
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwt.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	return &Identity{
		AccountID: claims.UID,
		Role:      claims.Role,
		Rank:      claims.Rank,
		Unit:      claims.Unit,
		Corps:     claims.Corp,
		SessionID: claims.SID,
	}, nil
}

// ValidateCSRF checks a state-changing request's CSRF token against the
// session's stored one.
func (e *Engine) ValidateCSRF(ctx context.Context, sessionID, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.csrf.Validate(ctx, sessionID, token); err != nil {
		if errors.Is(err, csrf.ErrMismatch) {
			return ErrCSRFMismatch
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) signAccessToken(account Account, sessionID string) (string, error) {
	return e.jwt.CreateAccess(jwt.AccessClaims{
		UID:  account.ID,
		SID:  sessionID,
		Role: account.Role,
		Rank: account.Rank,
		Unit: account.Unit,
		Corp: account.Corps,
	})
}
