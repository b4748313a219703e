package postgres

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"time"

	auth "github.com/Marriott12/armis-sub005"
)

// TokenStore persists refresh tokens. It implements [auth.TokenStore].
type TokenStore struct {
	db *sql.DB
}

func (s *TokenStore) Insert(ctx context.Context, record auth.RefreshTokenRecord) error {
	err := withRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO refresh_tokens (token_id, account_id, secret_hash, issued_at, expires_at, revoked)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			record.TokenID, record.AccountID, record.SecretHash[:],
			record.IssuedAt, record.ExpiresAt, record.Revoked)
		return execErr
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// Rotate revokes the presented token and inserts its replacement in one
// transaction. The row lock makes rotation exactly-once: of two
// concurrent calls with the same token one commits, the other finds the
// row revoked.
//
// The replacement's AccountID is taken from the rotated row. On
// [auth.ErrRevokedToken] and [auth.ErrExpiredToken] the owning account
// ID is still returned so the caller can act on the family.
func (s *TokenStore) Rotate(ctx context.Context, tokenID string, presentedHash [32]byte, replacement auth.RefreshTokenRecord) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		accountID  string
		secretHash []byte
		expiresAt  time.Time
		revoked    bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT account_id, secret_hash, expires_at, revoked
		   FROM refresh_tokens WHERE token_id = $1 FOR UPDATE`, tokenID).
		Scan(&accountID, &secretHash, &expiresAt, &revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", auth.ErrInvalidToken
		}
		return "", storeErr(err)
	}

	if subtle.ConstantTimeCompare(secretHash, presentedHash[:]) != 1 {
		return "", auth.ErrInvalidToken
	}
	if revoked {
		return accountID, auth.ErrRevokedToken
	}
	if time.Now().After(expiresAt) {
		return accountID, auth.ErrExpiredToken
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE token_id = $1`, tokenID); err != nil {
		return "", storeErr(err)
	}

	replacement.AccountID = accountID
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_id, account_id, secret_hash, issued_at, expires_at, revoked)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		replacement.TokenID, replacement.AccountID, replacement.SecretHash[:],
		replacement.IssuedAt, replacement.ExpiresAt, replacement.Revoked); err != nil {
		return "", storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return "", storeErr(err)
	}
	return accountID, nil
}

// RevokeAll revokes every live token of the account.
func (s *TokenStore) RevokeAll(ctx context.Context, accountID string) error {
	err := withRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = true
			  WHERE account_id = $1 AND revoked = false`, accountID)
		return execErr
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// PurgeExpired deletes rows past expiry plus a retention margin, meant
// for a periodic maintenance job.
func (s *TokenStore) PurgeExpired(ctx context.Context, retain time.Duration) (int64, error) {
	var deleted int64
	err := withRetry(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`DELETE FROM refresh_tokens WHERE expires_at < $1`,
			time.Now().Add(-retain))
		if execErr != nil {
			return execErr
		}
		deleted, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, storeErr(err)
	}
	return deleted, nil
}
