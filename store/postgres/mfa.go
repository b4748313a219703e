package postgres

import (
	"context"
	"database/sql"
	"errors"

	auth "github.com/Marriott12/armis-sub005"
)

// MFAStore persists TOTP enrollments and backup codes. It implements
// [auth.MFAStore].
type MFAStore struct {
	db *sql.DB
}

// GetEnrollment returns the account's enrollment, or nil, nil when the
// account never enrolled.
func (s *MFAStore) GetEnrollment(ctx context.Context, accountID string) (*auth.MFAEnrollment, error) {
	var enrollment auth.MFAEnrollment
	err := withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT account_id, secret, enabled, last_step, created_at
			   FROM mfa_enrollments WHERE account_id = $1`, accountID).
			Scan(&enrollment.AccountID, &enrollment.Secret, &enrollment.Enabled,
				&enrollment.LastStep, &enrollment.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return &enrollment, nil
}

// SaveEnrollment inserts or replaces the account's enrollment. A re-run
// of setup before confirmation lands here with a fresh secret.
func (s *MFAStore) SaveEnrollment(ctx context.Context, enrollment auth.MFAEnrollment) error {
	err := withRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO mfa_enrollments (account_id, secret, enabled, last_step, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (account_id) DO UPDATE
			    SET secret = EXCLUDED.secret,
			        enabled = EXCLUDED.enabled,
			        last_step = EXCLUDED.last_step,
			        created_at = EXCLUDED.created_at`,
			enrollment.AccountID, enrollment.Secret, enrollment.Enabled,
			enrollment.LastStep, enrollment.CreatedAt)
		return execErr
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *MFAStore) SetEnabled(ctx context.Context, accountID string, enabled bool) error {
	var affected int64
	err := withRetry(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE mfa_enrollments SET enabled = $2 WHERE account_id = $1`,
			accountID, enabled)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return auth.ErrMFANotEnrolled
	}
	return nil
}

// UpdateLastStep advances the replay guard and reports whether it did.
// The guard only moves forward, and the conditional update makes it the
// arbiter between concurrent requests presenting the same step: exactly
// one sees the row flip.
func (s *MFAStore) UpdateLastStep(ctx context.Context, accountID string, step int64) (bool, error) {
	var affected int64
	err := withRetry(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE mfa_enrollments SET last_step = $2
			  WHERE account_id = $1 AND last_step < $2`,
			accountID, step)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, storeErr(err)
	}
	return affected == 1, nil
}

// ReplaceBackupCodes swaps the whole batch in one transaction. Passing
// an empty slice invalidates every outstanding code.
func (s *MFAStore) ReplaceBackupCodes(ctx context.Context, accountID string, codes []auth.BackupCodeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM mfa_backup_codes WHERE account_id = $1`, accountID); err != nil {
		return storeErr(err)
	}
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mfa_backup_codes (account_id, code_hash, used, created_at)
			 VALUES ($1, $2, $3, $4)`,
			accountID, code.Hash[:], code.Used, code.CreatedAt); err != nil {
			return storeErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	return nil
}

// ConsumeBackupCode marks a matching unused code as used. The
// conditional update makes consumption atomic: of two concurrent calls
// with the same code exactly one sees a row flip.
func (s *MFAStore) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	var affected int64
	err := withRetry(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE mfa_backup_codes SET used = true
			  WHERE account_id = $1 AND code_hash = $2 AND used = false`,
			accountID, hash[:])
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, storeErr(err)
	}
	return affected == 1, nil
}
