// Package postgres implements the engine's durable stores on top of
// PostgreSQL via database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	auth "github.com/Marriott12/armis-sub005"
)

// Store wraps one database handle and hands out the typed store views
// the engine consumes.
type Store struct {
	db *sql.DB
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, storeErr(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, storeErr(err)
	}

	return &Store{db: db}, nil
}

// New wraps an existing handle, used by tests and callers that manage
// the pool themselves.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Accounts returns the [auth.CredentialStore] view.
func (s *Store) Accounts() *AccountStore {
	return &AccountStore{db: s.db}
}

// MFA returns the [auth.MFAStore] view.
func (s *Store) MFA() *MFAStore {
	return &MFAStore{db: s.db}
}

// Tokens returns the [auth.TokenStore] view.
func (s *Store) Tokens() *TokenStore {
	return &TokenStore{db: s.db}
}

// Events returns the [auth.EventStore] view.
func (s *Store) Events() *EventStore {
	return &EventStore{db: s.db}
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", auth.ErrStoreUnavailable, err)
}

const maxRetries = 2

// withRetry re-runs fn a bounded number of times on transient
// connection failures. A retry never turns an error into a success; it
// only gives the pool a chance to replace a dead connection.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || attempt == maxRetries || !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
