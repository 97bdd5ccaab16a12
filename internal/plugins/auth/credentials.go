package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/ratelimit"
)

// msgInvalidCredentials is shown for both unknown emails and wrong
// passwords.
const msgInvalidCredentials = "These credentials do not match our records."

// AttemptLimiter counts failed attempts per key. *ratelimit.Limiter
// implements it.
type AttemptLimiter interface {
	Hit(ctx context.Context, key string, decay time.Duration) (int64, error)
	TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error)
	AvailableIn(ctx context.Context, key string) (time.Duration, error)
	Clear(ctx context.Context, key string) error
}

// CredentialValidator checks an email and password.
type CredentialValidator interface {
	// Validate returns the user whose credentials match. The throttle is
	// checked before anything else, so a blocked client learns nothing
	// about the credentials it sent.
	Validate(ctx context.Context, in CredentialInput) (*User, error)
}

// ThrottleConfig bounds failed login attempts per client IP.
type ThrottleConfig struct {
	MaxAttempts int
	Decay       time.Duration
}

type credentialValidator struct {
	users    UserRepository
	limiter  AttemptLimiter
	security audit.SecurityLogger
	throttle ThrottleConfig
}

// NewCredentialValidator creates a credential validator.
func NewCredentialValidator(users UserRepository, limiter AttemptLimiter, security audit.SecurityLogger, throttle ThrottleConfig) CredentialValidator {
	if throttle.MaxAttempts < 1 {
		throttle.MaxAttempts = 5
	}
	if throttle.Decay <= 0 {
		throttle.Decay = time.Minute
	}
	return &credentialValidator{users: users, limiter: limiter, security: security, throttle: throttle}
}

func (v *credentialValidator) Validate(ctx context.Context, in CredentialInput) (*User, error) {
	key := ratelimit.LoginKey(in.IP)

	blocked, err := v.limiter.TooManyAttempts(ctx, key, v.throttle.MaxAttempts)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking login throttle: %w", err))
	}
	if blocked {
		wait, err := v.limiter.AvailableIn(ctx, key)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("reading login throttle: %w", err))
		}
		retryAfter := ratelimit.RetryAfterSeconds(wait)
		audit.Record(ctx, v.security, &audit.SecurityEvent{
			EventType: audit.EventLoginThrottled,
			IPAddress: in.IP,
			UserAgent: in.UserAgent,
			Details:   map[string]any{"email": in.Email, "retry_after": retryAfter},
		})
		return nil, apperror.NewThrottled("email", retryAfter)
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	user, err := v.users.FindByEmail(ctx, email)
	if err != nil {
		if !apperror.IsNotFound(err) {
			return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
		}
		verifyPassword(in.Password, dummyHash)
		return nil, v.fail(ctx, key, "", in, "unknown_email")
	}

	if !verifyPassword(in.Password, user.PasswordHash) {
		return nil, v.fail(ctx, key, user.ID, in, "invalid_password")
	}

	if err := v.limiter.Clear(ctx, key); err != nil {
		slog.Warn("failed to clear login throttle",
			slog.String("ip", in.IP),
			slog.Any("error", err),
		)
	}

	if needsRehash(user.PasswordHash) {
		v.upgradeHash(ctx, user, in.Password)
	}
	return user, nil
}

// fail counts the attempt and records it. The returned error never says
// which of email or password was wrong.
func (v *credentialValidator) fail(ctx context.Context, key, userID string, in CredentialInput, reason string) error {
	if _, err := v.limiter.Hit(ctx, key, v.throttle.Decay); err != nil {
		return apperror.NewInternal(fmt.Errorf("counting failed login: %w", err))
	}
	audit.Record(ctx, v.security, &audit.SecurityEvent{
		EventType: audit.EventLoginFailed,
		UserID:    userID,
		IPAddress: in.IP,
		UserAgent: in.UserAgent,
		Details:   map[string]any{"email": in.Email, "reason": reason},
	})
	return apperror.NewFieldValidation("email", msgInvalidCredentials)
}

// upgradeHash replaces a legacy bcrypt hash with argon2id. Failure leaves
// the old hash in place.
func (v *credentialValidator) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := hashPassword(password)
	if err == nil {
		err = v.users.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		slog.Warn("failed to upgrade password hash",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return
	}
	user.PasswordHash = hash
}
