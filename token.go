package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Opaque refresh token layout: base64url(tokenID[16] || secret[32]).
// The ID is the database lookup key; only the SHA-256 of the secret is
// stored, so a leaked token table cannot be replayed.
const (
	refreshTokenIDBytes     = 16
	refreshTokenSecretBytes = 32
)

func newTokenID() (string, error) {
	buf := make([]byte, refreshTokenIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func newRefreshSecret() ([]byte, error) {
	buf := make([]byte, refreshTokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func hashRefreshSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// encodeRefreshToken packs the hex token ID and raw secret into the
// opaque value handed to clients.
func encodeRefreshToken(tokenID string, secret []byte) (string, error) {
	id, err := hex.DecodeString(tokenID)
	if err != nil || len(id) != refreshTokenIDBytes {
		return "", ErrInvalidToken
	}

	raw := make([]byte, 0, refreshTokenIDBytes+refreshTokenSecretBytes)
	raw = append(raw, id...)
	raw = append(raw, secret...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeRefreshToken splits an opaque value back into its token ID and
// secret. Malformed input yields ErrInvalidToken without touching the
// store.
func decodeRefreshToken(token string) (tokenID string, secret []byte, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", nil, ErrInvalidToken
	}
	if len(raw) != refreshTokenIDBytes+refreshTokenSecretBytes {
		return "", nil, ErrInvalidToken
	}
	return hex.EncodeToString(raw[:refreshTokenIDBytes]), raw[refreshTokenIDBytes:], nil
}
