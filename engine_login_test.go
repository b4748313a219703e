package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginSuccessWithoutMFA(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")

	ctx := WithClientIP(context.Background(), "10.0.0.5")
	result, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("empty token pair")
	}
	if result.TokenType != "Bearer" {
		t.Errorf("token type %q, want Bearer", result.TokenType)
	}
	if result.CSRFToken == "" {
		t.Error("no CSRF token issued")
	}
	if result.ExpiresIn != 3600 {
		t.Errorf("expires_in %d, want 3600", result.ExpiresIn)
	}

	identity, err := f.engine.ValidateAccess(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if identity.AccountID != "acct-1" {
		t.Errorf("identity account %s, want acct-1", identity.AccountID)
	}
	if identity.Rank != "Sgt" || identity.Unit != "HQ Coy" || identity.Corps != "Signals" {
		t.Errorf("display attributes not carried: %+v", identity)
	}
	if identity.SessionID != result.SessionID {
		t.Error("session ID mismatch between token and result")
	}

	if got := len(f.events.byType(auditEventLoginSuccess)); got != 1 {
		t.Errorf("%d login_success events, want 1", got)
	}
}

func TestLoginWrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	ctx := context.Background()

	_, wrongPass := f.engine.Login(ctx, "cpl.banda", "wrong password", "")
	_, unknown := f.engine.Login(ctx, "no.such.user", "whatever password", "")

	if !errors.Is(wrongPass, ErrInvalidCredentials) {
		t.Errorf("wrong password: %v, want ErrInvalidCredentials", wrongPass)
	}
	if !errors.Is(unknown, ErrInvalidCredentials) {
		t.Errorf("unknown user: %v, want ErrInvalidCredentials", unknown)
	}
	// The precise reason only lives in the event log.
	failures := f.events.byType(auditEventLoginFailure)
	if len(failures) != 2 {
		t.Fatalf("%d login_failure events, want 2", len(failures))
	}
	if failures[0].Reason == failures[1].Reason {
		t.Error("event log should distinguish wrong password from unknown username")
	}
}

func TestLoginSingleCharacterPasswordDifferenceFails(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")

	_, err := f.engine.Login(context.Background(), "cpl.banda", "correct horse batterz", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newTestFixture(t, testConfig())
	account := f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	account.Status = AccountDisabled
	f.creds.put(account)

	_, err := f.engine.Login(context.Background(), "cpl.banda", "correct horse battery", "")
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("got %v, want ErrAccountDisabled", err)
	}
}

func TestLoginRateLimitTripsAndResets(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	ctx := WithClientIP(context.Background(), "10.0.0.5")

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Login(ctx, "cpl.banda", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v, want ErrInvalidCredentials", i, err)
		}
	}

	// Budget exhausted: even the correct password is rejected before the
	// credential check runs.
	if _, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
	if got := len(f.events.byType(auditEventLoginRateLimited)); got == 0 {
		t.Error("no login_rate_limited event recorded")
	}

	retryAfter, err := f.engine.RetryAfter(ctx, "cpl.banda")
	if err != nil {
		t.Fatalf("RetryAfter: %v", err)
	}
	if retryAfter <= 0 {
		t.Errorf("retry-after %v, want positive", retryAfter)
	}

	// After the window expires the counter starts fresh.
	f.redis.FastForward(time.Hour + time.Second)
	if _, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", ""); err != nil {
		t.Fatalf("post-window login: %v", err)
	}
}

func TestLoginResetClearsFailureCounter(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	ctx := WithClientIP(context.Background(), "10.0.0.5")

	for i := 0; i < 2; i++ {
		_, _ = f.engine.Login(ctx, "cpl.banda", "wrong", "")
	}
	if _, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Counter was reset, so the full budget is available again.
	for i := 0; i < 3; i++ {
		if _, err := f.engine.Login(ctx, "cpl.banda", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d after reset: %v, want ErrInvalidCredentials", i, err)
		}
	}
}

func TestLoginMFARequiredWithoutCode(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	f.enableTOTP(t, "acct-1")

	result, err := f.engine.Login(context.Background(), "cpl.banda", "correct horse battery", "")
	if !errors.Is(err, ErrMFARequired) {
		t.Fatalf("got %v, want ErrMFARequired", err)
	}
	if result != nil {
		t.Fatal("tokens issued despite missing MFA code")
	}
}

func TestLoginWithTOTPCode(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	secret := f.enableTOTP(t, "acct-1")

	code := f.currentTOTP(t, secret)
	result, err := f.engine.Login(context.Background(), "cpl.banda", "correct horse battery", code)
	if err != nil {
		t.Fatalf("Login with TOTP: %v", err)
	}
	if result.AccessToken == "" {
		t.Fatal("no access token issued")
	}
}

func TestLoginTOTPReplayRejected(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	secret := f.enableTOTP(t, "acct-1")
	ctx := context.Background()

	code := f.currentTOTP(t, secret)
	if _, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", code); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", code); !errors.Is(err, ErrMFAReplayed) {
		t.Fatalf("replayed code: %v, want ErrMFAReplayed", err)
	}
}

func TestLoginWrongTOTPCode(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	f.enableTOTP(t, "acct-1")

	_, err := f.engine.Login(context.Background(), "cpl.banda", "correct horse battery", "000000")
	if !errors.Is(err, ErrInvalidMFACode) {
		// One-in-a-million flake if 000000 happens to be the valid code.
		t.Fatalf("got %v, want ErrInvalidMFACode", err)
	}
}

func TestLoginWithBackupCodeSingleUse(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	f.enableTOTP(t, "acct-1")
	ctx := context.Background()

	display, records, err := mintBackupCodes("acct-1", 10, time.Now())
	if err != nil {
		t.Fatalf("mintBackupCodes: %v", err)
	}
	if err := f.mfa.ReplaceBackupCodes(ctx, "acct-1", records); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}

	if _, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", display[0]); err != nil {
		t.Fatalf("backup code login: %v", err)
	}
	if got := len(f.events.byType(auditEventBackupCodeUsed)); got != 1 {
		t.Errorf("%d backup_code_used events, want 1", got)
	}

	if _, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", display[0]); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("reused backup code: %v, want ErrInvalidMFACode", err)
	}

	// The other nine still work.
	if _, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", display[1]); err != nil {
		t.Fatalf("second backup code login: %v", err)
	}
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	cfg := testConfig()
	cfg.Password.UpgradeOnLogin = true
	cfg.Password.Time = 2
	f := newTestFixture(t, cfg)

	// Stored hash uses a weaker time cost than the engine's config.
	weak := testConfig()
	weakFixture := newTestFixture(t, weak)
	oldHash, err := weakFixture.hasher.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	f.creds.put(Account{
		ID: "acct-1", Username: "cpl.banda", PasswordHash: oldHash, Status: AccountActive,
	})

	if _, err := f.engine.Login(context.Background(), "cpl.banda", "correct horse battery", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}

	account, err := f.creds.GetByID(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if account.PasswordHash == oldHash {
		t.Error("hash was not upgraded on login")
	}
	ok, err := f.hasher.Verify("correct horse battery", account.PasswordHash)
	if err != nil || !ok {
		t.Errorf("upgraded hash does not verify: ok=%v err=%v", ok, err)
	}
}

func TestAuditTrailIsForwardOnly(t *testing.T) {
	f := newTestFixture(t, testConfig())
	f.addAccount(t, "acct-1", "cpl.banda", "correct horse battery")
	ctx := context.Background()

	_, _ = f.engine.Login(ctx, "cpl.banda", "wrong", "")
	if _, err := f.engine.Login(ctx, "cpl.banda", "correct horse battery", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}

	first, err := f.engine.AuditTrail(ctx, "acct-1", time.Time{}, 1)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("%d events in first page, want 1", len(first))
	}

	rest, err := f.engine.AuditTrail(ctx, "acct-1", first[0].OccurredAt, 100)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	for _, event := range rest {
		if !event.OccurredAt.After(first[0].OccurredAt) {
			t.Error("resumed page contains events at or before the cursor")
		}
		if event.ID == first[0].ID {
			t.Error("resumed page repeats the cursor event")
		}
	}
}
