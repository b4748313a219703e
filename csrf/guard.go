// Package csrf issues and validates per-session CSRF tokens stored in
// Redis, shared across service instances.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenBytes = 32

var (
	// ErrMismatch is returned when the presented token is absent, stale
	// or does not match the session's stored token.
	ErrMismatch = errors.New("csrf token mismatch")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Guard binds one CSRF token to each session ID.
type Guard struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// New creates a [Guard]. The TTL bounds how long an issued token stays
// valid without reissue.
func New(redisClient redis.UniversalClient, ttl time.Duration) *Guard {
	return &Guard{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Issue mints a fresh token for the session, replacing any previous one.
func (g *Guard) Issue(ctx context.Context, sessionID string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	if err := g.redis.Set(ctx, key(sessionID), token, g.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return token, nil
}

// Validate checks the presented token against the session's stored one
// in constant time. A missing stored token is a mismatch, not an error.
func (g *Guard) Validate(ctx context.Context, sessionID, presented string) error {
	if presented == "" {
		return ErrMismatch
	}

	stored, err := g.redis.Get(ctx, key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMismatch
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return ErrMismatch
	}

	return nil
}

// Clear removes the session's token, used on logout.
func (g *Guard) Clear(ctx context.Context, sessionID string) error {
	if err := g.redis.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func key(sessionID string) string {
	return "csrf:" + sessionID
}
