package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func hsManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     ttl,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "armis-test",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateAndParseAccess(t *testing.T) {
	m := hsManager(t, time.Hour)

	token, err := m.CreateAccess(AccessClaims{
		UID:  "acct-1",
		SID:  "sess-1",
		Role: "clerk",
		Rank: "Sgt",
		Unit: "HQ Coy",
		Corp: "Signals",
	})
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.UID != "acct-1" || claims.SID != "sess-1" {
		t.Errorf("identity claims lost: %+v", claims)
	}
	if claims.Role != "clerk" || claims.Rank != "Sgt" || claims.Unit != "HQ Coy" || claims.Corp != "Signals" {
		t.Errorf("attribute claims lost: %+v", claims)
	}
	if claims.Issuer != "armis-test" {
		t.Errorf("issuer %q", claims.Issuer)
	}
}

func TestParseAccessRejectsExpired(t *testing.T) {
	m := hsManager(t, time.Millisecond)

	token, err := m.CreateAccess(AccessClaims{UID: "acct-1", SID: "sess-1"})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestParseAccessRejectsWrongKey(t *testing.T) {
	m := hsManager(t, time.Hour)
	token, err := m.CreateAccess(AccessClaims{UID: "acct-1", SID: "sess-1"})
	if err != nil {
		t.Fatal(err)
	}

	other, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:        "armis-test",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.ParseAccess(token); err == nil {
		t.Fatal("token verified under the wrong key")
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "armis-test",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := m.CreateAccess(AccessClaims{UID: "acct-1", SID: "sess-1"})
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.UID != "acct-1" {
		t.Errorf("uid %q", claims.UID)
	}
}

// Tokens signed under an old key stay verifiable while its kid remains
// in the verify set.
func TestKeyRotationGracePeriod(t *testing.T) {
	oldPub, oldPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	newPub, newPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	signerOld, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    oldPriv,
		PublicKey:     oldPub,
		KeyID:         "2026-01",
		VerifyKeys:    map[string][]byte{"2026-01": oldPub},
	})
	if err != nil {
		t.Fatal(err)
	}
	oldToken, err := signerOld.CreateAccess(AccessClaims{UID: "acct-1", SID: "sess-1"})
	if err != nil {
		t.Fatal(err)
	}

	// Rotated: signs with the new key, still verifies both kids.
	rotated, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    newPriv,
		KeyID:         "2026-07",
		VerifyKeys: map[string][]byte{
			"2026-01": oldPub,
			"2026-07": newPub,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := rotated.ParseAccess(oldToken); err != nil {
		t.Errorf("old-key token rejected during grace period: %v", err)
	}

	newToken, err := rotated.CreateAccess(AccessClaims{UID: "acct-1", SID: "sess-2"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rotated.ParseAccess(newToken); err != nil {
		t.Errorf("new-key token rejected: %v", err)
	}

	// Grace period over: the old kid is dropped and its tokens die.
	final, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    newPriv,
		KeyID:         "2026-07",
		VerifyKeys:    map[string][]byte{"2026-07": newPub},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := final.ParseAccess(oldToken); err == nil {
		t.Error("old-key token accepted after grace period")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")}); err == nil {
		t.Error("zero TTL accepted")
	}
	if _, err := NewManager(Config{AccessTTL: time.Hour, SigningMethod: MethodHS256}); err == nil {
		t.Error("hs256 without key accepted")
	}
	if _, err := NewManager(Config{AccessTTL: time.Hour, SigningMethod: "rs256", PrivateKey: []byte("k")}); err == nil {
		t.Error("unsupported method accepted")
	}
	if _, err := NewManager(Config{AccessTTL: time.Hour, SigningMethod: MethodEd25519}); err == nil {
		t.Error("ed25519 without any verify key accepted")
	}
}
