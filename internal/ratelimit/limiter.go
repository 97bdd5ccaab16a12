// Package ratelimit implements the failed-attempt counter used to throttle
// admin logins. Counters live in Redis so every app instance shares them,
// and every increment is a single atomic script call; the limiter never
// reads a count and writes it back.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for the per-IP login counters and the per-user two-factor
// code counters.
const (
	loginKeyPrefix     = "admin-login:"
	challengeKeyPrefix = "admin-2fa:"
)

// hitScript increments the counter and starts the decay window on the first
// hit only, so repeated failures cannot keep extending the lockout.
var hitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// LoginKey returns the limiter key for admin login attempts from ip.
func LoginKey(ip string) string {
	return loginKeyPrefix + strings.TrimSpace(ip)
}

// ChallengeKey returns the limiter key for two-factor code attempts by
// userID. It is keyed on the account, not the client, so changing IP or
// headers does not buy more guesses.
func ChallengeKey(userID string) string {
	return challengeKeyPrefix + strings.TrimSpace(userID)
}

// Limiter is a fixed-window attempt counter backed by Redis.
type Limiter struct {
	client *redis.Client
	prefix string
}

// NewLimiter creates a limiter. The optional prefix separates counters of
// different deployments sharing one Redis.
func NewLimiter(client *redis.Client, prefix string) *Limiter {
	return &Limiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Hit records one attempt against key and returns the new count. The window
// starts at the first hit and lasts decay.
func (l *Limiter) Hit(ctx context.Context, key string, decay time.Duration) (int64, error) {
	if decay <= 0 {
		decay = time.Minute
	}
	res, err := hitScript.Run(ctx, l.client, []string{l.key(key)}, decay.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", key, err)
	}
	return res, nil
}

// Attempts returns the number of attempts recorded in the current window.
func (l *Limiter) Attempts(ctx context.Context, key string) (int64, error) {
	n, err := l.client.Get(ctx, l.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}
	return n, nil
}

// TooManyAttempts reports whether key has already used up maxAttempts in
// the current window. Callers check this before doing any work, so the
// attempt after the last allowed one is rejected up front.
func (l *Limiter) TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error) {
	n, err := l.Attempts(ctx, key)
	if err != nil {
		return false, err
	}
	return n >= int64(maxAttempts), nil
}

// AvailableIn returns how long until the window for key resets. Zero when
// there is no active window.
func (l *Limiter) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, l.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading ttl of %s: %w", key, err)
	}
	// PTTL returns -2 for a missing key and -1 for a key without expiry.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Clear resets the counter for key.
func (l *Limiter) Clear(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("clearing %s: %w", key, err)
	}
	return nil
}

func (l *Limiter) key(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}

// RetryAfterSeconds rounds d up to whole seconds, never returning less than 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
