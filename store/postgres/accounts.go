package postgres

import (
	"context"
	"database/sql"
	"errors"

	auth "github.com/Marriott12/armis-sub005"
)

// AccountStore reads personnel accounts. It implements
// [auth.CredentialStore].
type AccountStore struct {
	db *sql.DB
}

const accountColumns = `id, username, password_hash, role, status, rank, unit, corps`

// GetByUsername looks an account up by username. Unknown usernames map
// to [auth.ErrInvalidCredentials] so the engine's anti-enumeration path
// needs no extra translation.
func (s *AccountStore) GetByUsername(ctx context.Context, username string) (auth.Account, error) {
	return s.getWhere(ctx, `username = $1`, username)
}

// GetByID looks an account up by primary key.
func (s *AccountStore) GetByID(ctx context.Context, accountID string) (auth.Account, error) {
	return s.getWhere(ctx, `id = $1`, accountID)
}

func (s *AccountStore) getWhere(ctx context.Context, clause string, arg any) (auth.Account, error) {
	var account auth.Account
	err := withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE `+clause, arg)
		scanned, scanErr := scanAccount(row)
		if scanErr != nil {
			return scanErr
		}
		account = scanned
		return nil
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return auth.Account{}, err
		}
		return auth.Account{}, storeErr(err)
	}
	return account, nil
}

// UpdatePasswordHash replaces the stored hash, used for cost upgrades
// on login.
func (s *AccountStore) UpdatePasswordHash(ctx context.Context, accountID, newHash string) error {
	var affected int64
	err := withRetry(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE accounts SET password_hash = $2 WHERE id = $1`, accountID, newHash)
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
		return auth.ErrInvalidCredentials
	}
	return nil
}

func scanAccount(row *sql.Row) (auth.Account, error) {
	var (
		account auth.Account
		status  int16
	)
	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.PasswordHash,
		&account.Role,
		&status,
		&account.Rank,
		&account.Unit,
		&account.Corps,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Account{}, auth.ErrInvalidCredentials
		}
		return auth.Account{}, err
	}
	account.Status = auth.AccountStatus(status)
	return account, nil
}
