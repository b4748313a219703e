package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for unknown usernames and wrong
	// passwords alike. The security event log records which one it was;
	// the caller never learns, to prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned when the credentials verified but the
	// account status forbids login.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrMFARequired is a soft rejection: credentials verified, the account
	// has MFA enabled, and no code was supplied. The caller is expected to
	// resubmit with a code.
	ErrMFARequired = errors.New("mfa code required")
	// ErrInvalidMFACode is returned when neither the TOTP code nor a backup
	// code matched.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrMFAReplayed is returned when a TOTP code from an already-accepted
	// time step is presented again.
	ErrMFAReplayed = errors.New("mfa code already used")
	// ErrMFAAlreadyEnabled is returned by SetupMFA when the account has an
	// enabled enrollment.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotEnrolled is returned when an MFA operation requires an
	// enrollment that does not exist.
	ErrMFANotEnrolled = errors.New("mfa not enrolled")
	// ErrRateLimited is returned when a client identity exceeded its
	// attempt budget for the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidToken is returned for malformed or unknown refresh tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for refresh tokens past their expiry.
	ErrExpiredToken = errors.New("expired token")
	// ErrRevokedToken is returned for refresh tokens that were revoked,
	// including tokens replayed after rotation.
	ErrRevokedToken = errors.New("revoked token")
	// ErrCSRFMismatch is returned when a state-changing request carries a
	// missing or stale CSRF token.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
	// ErrStoreUnavailable wraps transient backend failures. It is retried a
	// bounded number of times at the adapter boundary and never interpreted
	// as success.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned when the engine is used before New
	// completed, or with a nil receiver.
	ErrEngineNotReady = errors.New("engine not initialized")
)
