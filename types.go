package auth

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/Marriott12/armis-sub005/internal/audit"
)

// AccountStatus is the lifecycle state of a personnel account.
type AccountStatus uint8

const (
	// AccountActive allows login.
	AccountActive AccountStatus = iota
	// AccountDisabled blocks login; the record is kept.
	AccountDisabled
)

// Account is the credential-store view of a personnel record. The display
// attributes (rank, unit, corps) are opaque to this subsystem and only
// carried into issued access tokens for downstream authorization.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	Status       AccountStatus
	Rank         string
	Unit         string
	Corps        string
}

// CredentialStore looks up accounts in the personnel database. It is the
// only read path into the relational store this subsystem takes, and the
// password-hash update is the only write (cost upgrades on login).
//
// Implementations return [ErrInvalidCredentials] for unknown usernames and
// wrap transient failures in [ErrStoreUnavailable].
type CredentialStore interface {
	GetByUsername(ctx context.Context, username string) (Account, error)
	GetByID(ctx context.Context, accountID string) (Account, error)
	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error
}

// MFAEnrollment is the stored TOTP state for one account. Secret is the
// raw shared secret; LastStep is the most recently accepted time step and
// guards against code replay within the skew window.
type MFAEnrollment struct {
	AccountID string
	Secret    []byte
	Enabled   bool
	LastStep  int64
	CreatedAt time.Time
}

// BackupCodeRecord stores the salted SHA-256 hash of a single backup
// code. The plaintext is returned once at mint time and never persisted.
type BackupCodeRecord struct {
	Hash      [32]byte
	Used      bool
	CreatedAt time.Time
}

// MFAStore persists MFA enrollments and backup codes.
//
// ConsumeBackupCode must be atomic: it marks the matching unused code as
// used and reports whether it did, such that two concurrent calls with
// the same code cannot both return true. UpdateLastStep is the same
// shape for the replay guard: it advances last_step only forward and
// reports whether it did, so of two concurrent requests presenting the
// same code exactly one sees true. GetEnrollment returns nil, nil when
// the account has no enrollment.
type MFAStore interface {
	GetEnrollment(ctx context.Context, accountID string) (*MFAEnrollment, error)
	SaveEnrollment(ctx context.Context, enrollment MFAEnrollment) error
	SetEnabled(ctx context.Context, accountID string, enabled bool) error
	UpdateLastStep(ctx context.Context, accountID string, step int64) (bool, error)
	ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
}

// RefreshTokenRecord is one persisted refresh token. TokenID is the
// public lookup key embedded in the opaque value; SecretHash is the
// SHA-256 of the random secret, so a database leak does not yield usable
// tokens.
type RefreshTokenRecord struct {
	TokenID    string
	AccountID  string
	SecretHash [32]byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
}

// TokenStore persists refresh tokens.
//
// Rotate is the core of replay detection and must be atomic: it looks up
// the presented token, verifies the secret hash, marks it revoked and
// inserts the replacement in a single transaction. It returns the account
// ID of the rotated token, or [ErrInvalidToken], [ErrExpiredToken] or
// [ErrRevokedToken].
type TokenStore interface {
	Insert(ctx context.Context, record RefreshTokenRecord) error
	Rotate(ctx context.Context, tokenID string, presentedHash [32]byte, replacement RefreshTokenRecord) (accountID string, err error)
	RevokeAll(ctx context.Context, accountID string) error
}

// SecurityEvent is one append-only entry in the authentication audit
// trail. Reason holds the precise internal cause; callers only ever see
// the generic sentinel errors.
type SecurityEvent struct {
	ID         string
	EventType  string
	AccountID  string
	Username   string
	ClientIP   string
	Success    bool
	Reason     string
	OccurredAt time.Time
}

// EventStore is the durable, append-only security event log. There is no
// update or delete path; retention is an external concern.
type EventStore interface {
	Append(ctx context.Context, event SecurityEvent) error
	ListByAccount(ctx context.Context, accountID string, after time.Time, limit int) ([]SecurityEvent, error)
}

// LoginResult is returned by [Engine.Login] and [Engine.Refresh].
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64 // seconds
	CSRFToken    string
	SessionID    string
}

// MFASetup is returned by [Engine.SetupMFA]. BackupCodes carries the
// plaintext codes exactly once; only their hashes are stored.
type MFASetup struct {
	Secret          string
	ProvisioningURI string
	QRPNG           []byte
	BackupCodes     []string
}

// Identity is the verified content of an access token, as returned by
// [Engine.ValidateAccess].
type Identity struct {
	AccountID string
	Role      string
	Rank      string
	Unit      string
	Corps     string
	SessionID string
}

// AuditEvent is the in-flight audit record handed to sinks.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events on a channel, for tests and custom
// pipelines.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
