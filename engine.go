package auth

import (
	"encoding/base64"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/Marriott12/armis-sub005/csrf"
	"github.com/Marriott12/armis-sub005/internal/rate"
	"github.com/Marriott12/armis-sub005/jwt"
	"github.com/Marriott12/armis-sub005/password"
)

// Dependencies carries the backends the engine runs on. The four stores
// are usually the postgres implementations; Redis backs the shared rate
// counters and CSRF tokens.
type Dependencies struct {
	Credentials CredentialStore
	MFA         MFAStore
	Tokens      TokenStore
	Events      EventStore
	Redis       redis.UniversalClient
	AuditSink   AuditSink
}

// Engine is the authentication orchestrator. All fields are set by [New]
// and immutable afterwards; every method is safe for concurrent use.
type Engine struct {
	config Config

	creds  CredentialStore
	mfa    MFAStore
	tokens TokenStore
	events EventStore

	limiter *rate.Limiter
	csrf    *csrf.Guard
	jwt     *jwt.Manager
	hasher  *password.Argon2
	totp    *totpManager
	audit   *auditDispatcher

	// dummyHash is verified against when the username is unknown, so the
	// rejection takes as long as a real password check.
	dummyHash string
}

// New validates the configuration and dependencies and builds an engine.
func New(cfg Config, deps Dependencies) (*Engine, error) {
	cfg.applyDefaults()

	if deps.Credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if deps.MFA == nil {
		return nil, errors.New("mfa store is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("token store is required")
	}
	if deps.Events == nil {
		return nil, errors.New("event store is required")
	}
	if deps.Redis == nil {
		return nil, errors.New("redis client is required")
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	limiter := rate.New(deps.Redis, rate.Config{
		EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
		MaxLoginFailures: cfg.RateLimit.MaxLoginFailures,
		LoginWindow:      cfg.RateLimit.LoginWindow,
		MaxRequests:      cfg.RateLimit.MaxRequests,
		RequestWindow:    cfg.RateLimit.RequestWindow,
	})

	dummySecret, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(base64.RawStdEncoding.EncodeToString(dummySecret))
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:    cfg,
		creds:     deps.Credentials,
		mfa:       deps.MFA,
		tokens:    deps.Tokens,
		events:    deps.Events,
		limiter:   limiter,
		csrf:      csrf.New(deps.Redis, cfg.CSRF.TTL),
		jwt:       jwtManager,
		hasher:    hasher,
		totp:      newTOTPManager(cfg.TOTP),
		audit:     newAuditDispatcher(cfg.Audit, deps.AuditSink),
		dummyHash: dummyHash,
	}, nil
}

// Close drains the audit dispatcher. The stores and the Redis client are
// owned by the caller and stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events the dispatcher discarded
// because its buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
