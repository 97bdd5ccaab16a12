package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/plugins/sessions"
)

// Login methods recorded on login.success events.
const (
	MethodPassword      = "password"
	MethodTrustedDevice = "trusted_device"
	MethodTwoFactor     = "two_factor"
)

// SessionPolicy supplies per-role login policy. settings.SettingsService
// implements it.
type SessionPolicy interface {
	SessionCap(ctx context.Context, role string) int
	RequireTwoFactorFor(ctx context.Context, role string) bool
}

// DeviceDetector registers the device a login came from.
// *devices.Detector implements it.
type DeviceDetector interface {
	Detect(ctx context.Context, userID, ip, userAgent string) (bool, error)
}

// CompleteInput describes a login that passed every check.
type CompleteInput struct {
	Session  *sessions.Session
	User     *User
	Remember bool
	// TwoFactor is true when the second factor was satisfied, either by a
	// code or by a trusted device.
	TwoFactor bool
	Method    string
	Client
}

// StepError is a failure of one best-effort completion step.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

// Completion reports what the best-effort steps of a login did.
type Completion struct {
	TerminatedSessions int
	NewDevice          bool
	Failures           []StepError
}

// LoginCompleter finishes a login. Only establishing the session can fail
// the login; every later step reports its failure in the Completion.
type LoginCompleter interface {
	Complete(ctx context.Context, in CompleteInput) (*Completion, error)
}

type loginCompleter struct {
	lifecycle *sessions.Lifecycle
	users     UserRepository
	policy    SessionPolicy
	detector  DeviceDetector
	security  audit.SecurityLogger
	now       func() time.Time
}

// NewLoginCompleter creates the shared login completion service.
func NewLoginCompleter(lifecycle *sessions.Lifecycle, users UserRepository, policy SessionPolicy, detector DeviceDetector, security audit.SecurityLogger) LoginCompleter {
	return &loginCompleter{
		lifecycle: lifecycle,
		users:     users,
		policy:    policy,
		detector:  detector,
		security:  security,
		now:       time.Now,
	}
}

func (lc *loginCompleter) Complete(ctx context.Context, in CompleteInput) (*Completion, error) {
	s, user := in.Session, in.User
	done := &Completion{}

	// 1. Authenticate under a fresh session ID. The caller rotates the
	// CSRF token since it owns the cookie.
	if err := lc.lifecycle.Establish(ctx, s, user.ID, string(user.Role), in.Remember); err != nil {
		return nil, fmt.Errorf("establishing session: %w", err)
	}
	s.MarkDirty()

	// 2. Session metadata for anomaly detection.
	if err := lc.lifecycle.RecordMetadata(ctx, s, in.IP, in.UserAgent); err != nil {
		done.fail("session_metadata", err)
	}

	// 3. Per-role concurrent session cap.
	limit := lc.policy.SessionCap(ctx, string(user.Role))
	n, err := lc.lifecycle.TerminatePreviousSessions(ctx, user.ID, s.ID, limit)
	if err != nil {
		done.fail("session_cap", err)
	}
	done.TerminatedSessions = n
	if n > 0 {
		audit.Record(ctx, lc.security, &audit.SecurityEvent{
			EventType: audit.EventSessionTerminated,
			UserID:    user.ID,
			IPAddress: in.IP,
			UserAgent: in.UserAgent,
			Details:   map[string]any{"reason": "session_cap", "count": n, "cap": limit},
		})
	}

	// 4. Last login.
	now := lc.now().UTC()
	if err := lc.users.UpdateLastLogin(ctx, user.ID, in.IP, now); err != nil {
		done.fail("last_login", err)
	} else {
		user.LastLoginAt = &now
		user.LastLoginIP = in.IP
	}

	// 5. Audit.
	audit.Record(ctx, lc.security, &audit.SecurityEvent{
		EventType: audit.EventLoginSuccess,
		UserID:    user.ID,
		IPAddress: in.IP,
		UserAgent: in.UserAgent,
		Details: map[string]any{
			"two_factor": in.TwoFactor,
			"method":     in.Method,
			"remember":   in.Remember,
		},
	})

	// 6. New device detection.
	isNew, err := lc.detector.Detect(ctx, user.ID, in.IP, in.UserAgent)
	if err != nil {
		done.fail("device_detection", err)
	}
	done.NewDevice = isNew

	for _, f := range done.Failures {
		slog.Error("login completion step failed",
			slog.String("step", f.Step),
			slog.String("user_id", user.ID),
			slog.Any("error", f.Err),
		)
	}
	return done, nil
}

func (c *Completion) fail(step string, err error) {
	c.Failures = append(c.Failures, StepError{Step: step, Err: err})
}
