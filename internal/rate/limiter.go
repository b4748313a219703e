// Package rate enforces shared rate limits on Redis counters so that
// every service instance sees the same attempt budget.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle bool
	MaxLoginFailures int
	LoginWindow      time.Duration
	MaxRequests      int
	RequestWindow    time.Duration
}

// Limiter enforces per-username and per-username+IP login budgets plus a
// general request ceiling, using fixed-window Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin reports whether the username (and, when IP throttling is
// on, the username+IP pair) is still within the failure budget. It reads
// only; failed attempts are recorded by [Limiter.RecordLoginFailure].
func (l *Limiter) CheckLogin(ctx context.Context, username, ip string) error {
	if err := l.checkCounter(ctx, loginUserKey(username), l.config.MaxLoginFailures); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginPairKey(username, ip), l.config.MaxLoginFailures); err != nil {
			return err
		}
	}

	return nil
}

// RecordLoginFailure increments the failure counters for the username
// and the username+IP pair. Returns ErrRateLimited once the budget is
// exhausted.
func (l *Limiter) RecordLoginFailure(ctx context.Context, username, ip string) error {
	count, err := l.incrementWithTTL(ctx, loginUserKey(username), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginFailures) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginPairKey(username, ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginFailures) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the failure counters after a fully successful login.
func (l *Limiter) ResetLogin(ctx context.Context, username, ip string) error {
	keys := []string{loginUserKey(username)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginPairKey(username, ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Allow enforces the general request ceiling for the given identity,
// used on refresh and MFA endpoints. Unlike login failures the counter
// advances on every call.
func (l *Limiter) Allow(ctx context.Context, identity string) error {
	if l.config.MaxRequests <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, requestKey(identity), l.config.RequestWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRequests) {
		return ErrRateLimited
	}

	return nil
}

// RetryAfterLogin returns how long until the username's failure window
// expires. Zero means no active limit.
func (l *Limiter) RetryAfterLogin(ctx context.Context, username string) (time.Duration, error) {
	ttl, err := l.redis.TTL(ctx, loginUserKey(username)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// LoginFailures returns the current failure counter for a username.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) LoginFailures(ctx context.Context, username string) (int, error) {
	count, err := l.redis.Get(ctx, loginUserKey(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, max int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(max) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func loginUserKey(username string) string {
	return "rl:login:u:" + username
}

func loginPairKey(username, ip string) string {
	return "rl:login:p:" + username + ":" + ip
}

func requestKey(identity string) string {
	return "rl:req:" + identity
}
