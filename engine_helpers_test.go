package auth

import (
	"context"
	"crypto/subtle"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Marriott12/armis-sub005/password"
)

type memCreds struct {
	mu       sync.Mutex
	accounts map[string]Account // by ID
}

func newMemCreds() *memCreds {
	return &memCreds{accounts: make(map[string]Account)}
}

func (m *memCreds) put(account Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
}

func (m *memCreds) GetByUsername(_ context.Context, username string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Username == username {
			return account, nil
		}
	}
	return Account{}, ErrInvalidCredentials
}

func (m *memCreds) GetByID(_ context.Context, accountID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[accountID]; ok {
		return account, nil
	}
	return Account{}, ErrInvalidCredentials
}

func (m *memCreds) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return ErrInvalidCredentials
	}
	account.PasswordHash = newHash
	m.accounts[accountID] = account
	return nil
}

type memMFA struct {
	mu          sync.Mutex
	enrollments map[string]MFAEnrollment
	codes       map[string][]BackupCodeRecord
}

func newMemMFA() *memMFA {
	return &memMFA{
		enrollments: make(map[string]MFAEnrollment),
		codes:       make(map[string][]BackupCodeRecord),
	}
}

func (m *memMFA) GetEnrollment(_ context.Context, accountID string) (*MFAEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enrollment, ok := m.enrollments[accountID]
	if !ok {
		return nil, nil
	}
	copied := enrollment
	return &copied, nil
}

func (m *memMFA) SaveEnrollment(_ context.Context, enrollment MFAEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[enrollment.AccountID] = enrollment
	return nil
}

func (m *memMFA) SetEnabled(_ context.Context, accountID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	enrollment, ok := m.enrollments[accountID]
	if !ok {
		return ErrMFANotEnrolled
	}
	enrollment.Enabled = enabled
	m.enrollments[accountID] = enrollment
	return nil
}

func (m *memMFA) UpdateLastStep(_ context.Context, accountID string, step int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enrollment, ok := m.enrollments[accountID]
	if !ok {
		return false, ErrMFANotEnrolled
	}
	if step <= enrollment.LastStep {
		return false, nil
	}
	enrollment.LastStep = step
	m.enrollments[accountID] = enrollment
	return true, nil
}

func (m *memMFA) ReplaceBackupCodes(_ context.Context, accountID string, codes []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[accountID] = append([]BackupCodeRecord(nil), codes...)
	return nil
}

func (m *memMFA) ConsumeBackupCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.codes[accountID]
	for i := range codes {
		if codes[i].Used {
			continue
		}
		if subtle.ConstantTimeCompare(codes[i].Hash[:], hash[:]) == 1 {
			codes[i].Used = true
			return true, nil
		}
	}
	return false, nil
}

type memTokens struct {
	mu      sync.Mutex
	records map[string]RefreshTokenRecord
}

func newMemTokens() *memTokens {
	return &memTokens{records: make(map[string]RefreshTokenRecord)}
}

func (m *memTokens) Insert(_ context.Context, record RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.TokenID] = record
	return nil
}

func (m *memTokens) Rotate(_ context.Context, tokenID string, presentedHash [32]byte, replacement RefreshTokenRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[tokenID]
	if !ok {
		return "", ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(record.SecretHash[:], presentedHash[:]) != 1 {
		return "", ErrInvalidToken
	}
	if record.Revoked {
		return record.AccountID, ErrRevokedToken
	}
	if time.Now().After(record.ExpiresAt) {
		return record.AccountID, ErrExpiredToken
	}

	record.Revoked = true
	m.records[tokenID] = record

	replacement.AccountID = record.AccountID
	m.records[replacement.TokenID] = replacement
	return record.AccountID, nil
}

func (m *memTokens) RevokeAll(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, record := range m.records {
		if record.AccountID == accountID {
			record.Revoked = true
			m.records[id] = record
		}
	}
	return nil
}

func (m *memTokens) live(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, record := range m.records {
		if record.AccountID == accountID && !record.Revoked {
			n++
		}
	}
	return n
}

type memEvents struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func (m *memEvents) Append(_ context.Context, event SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memEvents) ListByAccount(_ context.Context, accountID string, after time.Time, limit int) ([]SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SecurityEvent
	for _, event := range m.events {
		if event.AccountID != accountID || !event.OccurredAt.After(after) {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memEvents) byType(eventType string) []SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SecurityEvent
	for _, event := range m.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

type testFixture struct {
	engine *Engine
	creds  *memCreds
	mfa    *memMFA
	tokens *memTokens
	events *memEvents
	redis  *miniredis.Miniredis
	hasher *password.Argon2
	sink   *ChannelSink
}

func testConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
			PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
			Issuer:        "armis-test",
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         8 * 1024,
			Time:           1,
			Parallelism:    1,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: false,
		},
		RateLimit: RateLimitConfig{
			MaxLoginFailures: 3,
			LoginWindow:      time.Hour,
			MaxRequests:      100,
			RequestWindow:    time.Hour,
			EnableIPThrottle: true,
		},
	}
}

func newTestFixture(t *testing.T, cfg Config) *testFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &testFixture{
		creds:  newMemCreds(),
		mfa:    newMemMFA(),
		tokens: newMemTokens(),
		events: &memEvents{},
		redis:  mr,
		sink:   NewChannelSink(64),
	}

	engine, err := New(cfg, Dependencies{
		Credentials: f.creds,
		MFA:         f.mfa,
		Tokens:      f.tokens,
		Events:      f.events,
		Redis:       client,
		AuditSink:   f.sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(engine.Close)

	f.engine = engine
	f.hasher = engine.hasher
	return f
}

// addAccount stores an active account with the given password and
// returns it.
func (f *testFixture) addAccount(t *testing.T, id, username, passwd string) Account {
	t.Helper()
	hash, err := f.hasher.Hash(passwd)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	account := Account{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
		Role:         "clerk",
		Status:       AccountActive,
		Rank:         "Sgt",
		Unit:         "HQ Coy",
		Corps:        "Signals",
	}
	f.creds.put(account)
	return account
}

// enableTOTP enrolls and enables MFA directly through the stores,
// returning the shared secret.
func (f *testFixture) enableTOTP(t *testing.T, accountID string) []byte {
	t.Helper()
	secret, _, err := f.engine.totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	err = f.mfa.SaveEnrollment(context.Background(), MFAEnrollment{
		AccountID: accountID,
		Secret:    secret,
		Enabled:   true,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveEnrollment: %v", err)
	}
	return secret
}

func (f *testFixture) currentTOTP(t *testing.T, secret []byte) string {
	t.Helper()
	return f.totpAt(t, secret, 0)
}

// totpAt returns the code for the current step plus offset.
func (f *testFixture) totpAt(t *testing.T, secret []byte, offset int64) string {
	t.Helper()
	step := time.Now().Unix()/int64(f.engine.config.TOTP.Period) + offset
	code, err := hotpCode(secret, step, f.engine.config.TOTP.Digits, f.engine.config.TOTP.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	return code
}
