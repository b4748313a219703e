package auth

import "time"

// Config is the engine configuration tree. It is read once by [New] and
// treated as immutable afterwards; signing keys in particular are shared
// process-wide and never mutated at runtime.
type Config struct {
	JWT       JWTConfig
	TOTP      TOTPConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	CSRF      CSRFConfig
	Audit     AuditConfig
}

// JWTConfig controls access-token signing and the refresh-token lifetime.
//
// VerifyKeys carries public keys by key ID so that tokens signed before a
// key rotation stay verifiable during the grace period; KeyID names the
// key used for new signatures.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	KeyID         string
	VerifyKeys    map[string][]byte
	Leeway        time.Duration
}

// TOTPConfig controls the one-time-password engine and backup codes.
type TOTPConfig struct {
	Issuer          string
	Digits          int
	Period          int
	Algorithm       string // "SHA1" (default), "SHA256", "SHA512"
	Skew            int    // accepted steps either side of now
	BackupCodeCount int
	QRSize          int // PNG edge in pixels, 0 disables QR rendering
}

// PasswordConfig carries the argon2id parameters. UpgradeOnLogin rehashes
// a verified password when the stored hash uses weaker parameters.
type PasswordConfig struct {
	Memory         uint32 // KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// RateLimitConfig tunes the shared Redis counters. Login failures are
// budgeted per username and per username+IP pair; the general ceiling
// applies to refresh and MFA traffic.
type RateLimitConfig struct {
	MaxLoginFailures int
	LoginWindow      time.Duration
	MaxRequests      int
	RequestWindow    time.Duration
	EnableIPThrottle bool
}

// CSRFConfig controls per-session CSRF tokens. TTL bounds how long an
// issued token stays valid without reissue.
type CSRFConfig struct {
	TTL time.Duration
}

// AuditConfig controls the async dispatch of security events to the
// configured sink. The durable event store is written regardless.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

func (c *Config) applyDefaults() {
	if c.JWT.AccessTTL <= 0 {
		c.JWT.AccessTTL = time.Hour
	}
	if c.JWT.RefreshTTL <= 0 {
		c.JWT.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.JWT.SigningMethod == "" {
		c.JWT.SigningMethod = "ed25519"
	}
	if c.TOTP.Digits == 0 {
		c.TOTP.Digits = 6
	}
	if c.TOTP.Period == 0 {
		c.TOTP.Period = 30
	}
	if c.TOTP.Skew == 0 {
		c.TOTP.Skew = 1
	}
	if c.TOTP.BackupCodeCount == 0 {
		c.TOTP.BackupCodeCount = 10
	}
	if c.TOTP.Issuer == "" {
		c.TOTP.Issuer = "ARMIS"
	}
	if c.Password.Memory == 0 {
		c.Password.Memory = 64 * 1024
	}
	if c.Password.Time == 0 {
		c.Password.Time = 2
	}
	if c.Password.Parallelism == 0 {
		c.Password.Parallelism = 2
	}
	if c.Password.SaltLength == 0 {
		c.Password.SaltLength = 16
	}
	if c.Password.KeyLength == 0 {
		c.Password.KeyLength = 32
	}
	if c.RateLimit.MaxLoginFailures == 0 {
		c.RateLimit.MaxLoginFailures = 10
	}
	if c.RateLimit.LoginWindow <= 0 {
		c.RateLimit.LoginWindow = time.Hour
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 100
	}
	if c.RateLimit.RequestWindow <= 0 {
		c.RateLimit.RequestWindow = time.Hour
	}
	if c.CSRF.TTL <= 0 {
		c.CSRF.TTL = 12 * time.Hour
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = 256
	}
}
