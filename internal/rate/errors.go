package rate

import "errors"

var (
	// ErrRateLimited is returned when a counter exceeds its budget for
	// the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures. Callers must
	// treat it as a hard failure, never as an allow.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
