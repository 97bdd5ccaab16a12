package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/fingerprint"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/plugins/devices"
	"github.com/keyxmakerx/folio/internal/plugins/sessions"
	"github.com/keyxmakerx/folio/internal/plugins/twofactor"
	"github.com/keyxmakerx/folio/internal/ratelimit"
)

// Paths are the post-login destinations.
type Paths struct {
	Dashboard        string
	SecuritySettings string
	Challenge        string
}

// LoginService runs the admin login flow on the request's session.
type LoginService interface {
	// Attempt checks credentials and either completes the login, suspends
	// it behind a two-factor challenge, or completes it with mandatory
	// two-factor enrollment.
	Attempt(ctx context.Context, s *sessions.Session, in LoginInput) (*LoginResult, error)

	// VerifyChallenge finishes a login suspended by Attempt.
	VerifyChallenge(ctx context.Context, s *sessions.Session, in ChallengeInput) (*LoginResult, error)

	// Status describes the session for the admin front end. Returns 401 if
	// the session does not belong to a user allowed in the admin area.
	Status(ctx context.Context, s *sessions.Session) (*Status, error)

	// Extend moves the session to a new ID and restarts its lifetime.
	Extend(ctx context.Context, s *sessions.Session, client Client) (time.Time, error)

	// Logout destroys the session.
	Logout(ctx context.Context, s *sessions.Session, client Client) error
}

type loginService struct {
	credentials CredentialValidator
	users       UserRepository
	trusted     devices.TrustedDeviceService
	challenges  *twofactor.Manager
	sealer      *twofactor.Sealer
	completer   LoginCompleter
	lifecycle   *sessions.Lifecycle
	policy      SessionPolicy
	security    audit.SecurityLogger
	paths       Paths
	limiter     AttemptLimiter
	throttle    ThrottleConfig
	steps       StepGuard
	now         func() time.Time
}

// LoginDeps groups the collaborators of the login service.
type LoginDeps struct {
	Credentials CredentialValidator
	Users       UserRepository
	Trusted     devices.TrustedDeviceService
	Challenges  *twofactor.Manager
	Sealer      *twofactor.Sealer
	Completer   LoginCompleter
	Lifecycle   *sessions.Lifecycle
	Policy      SessionPolicy
	Security    audit.SecurityLogger
	Paths       Paths

	// Limiter and ChallengeThrottle bound wrong codes per user across
	// every challenge that user is issued.
	Limiter           AttemptLimiter
	ChallengeThrottle ThrottleConfig

	// Steps refuses a TOTP code whose time step was already used.
	Steps StepGuard
}

// StepGuard records the last TOTP step a user signed in with.
// *twofactor.StepGuard implements it.
type StepGuard interface {
	Accept(ctx context.Context, userID string, step int64) (bool, error)
}

// NewLoginService creates the login flow service.
func NewLoginService(d LoginDeps) LoginService {
	if d.ChallengeThrottle.MaxAttempts < 1 {
		d.ChallengeThrottle.MaxAttempts = 5
	}
	if d.ChallengeThrottle.Decay <= 0 {
		d.ChallengeThrottle.Decay = 15 * time.Minute
	}
	return &loginService{
		credentials: d.Credentials,
		users:       d.Users,
		trusted:     d.Trusted,
		challenges:  d.Challenges,
		sealer:      d.Sealer,
		completer:   d.Completer,
		lifecycle:   d.Lifecycle,
		policy:      d.Policy,
		security:    d.Security,
		paths:       d.Paths,
		limiter:     d.Limiter,
		throttle:    d.ChallengeThrottle,
		steps:       d.Steps,
		now:         time.Now,
	}
}

func (l *loginService) Attempt(ctx context.Context, s *sessions.Session, in LoginInput) (*LoginResult, error) {
	user, err := l.credentials.Validate(ctx, CredentialInput{
		Email:    in.Email,
		Password: in.Password,
		Client:   in.Client,
	})
	if err != nil {
		return nil, err
	}

	if err := l.authorize(ctx, s, user, in.Client); err != nil {
		return nil, err
	}

	mustEnroll := l.policy.RequireTwoFactorFor(ctx, string(user.Role))

	if user.HasConfirmedTwoFactor() {
		result := &LoginResult{User: user}
		if in.TrustToken != "" {
			ok, rejected := l.checkTrustedDevice(ctx, user, in.TrustToken, in.Client)
			result.ClearTrustCookie = rejected
			if ok {
				return l.complete(ctx, s, result, in.Remember, in.Client, MethodTrustedDevice, true)
			}
		}
		return l.challenge(ctx, s, result, user, in.Remember, in.Client)
	}

	result := &LoginResult{User: user}
	if mustEnroll {
		return l.completeWithSetup(ctx, s, result, in.Remember, in.Client)
	}
	return l.complete(ctx, s, result, in.Remember, in.Client, MethodPassword, false)
}

// authorize rejects users who may not enter the admin area. Any
// authenticated or pending state on the session is discarded.
func (l *loginService) authorize(ctx context.Context, s *sessions.Session, user *User, client Client) error {
	var msg, reason string
	switch {
	case user.IsBanned(l.now()):
		msg, reason = "Your account has been suspended.", "banned"
		if user.BanReason != "" {
			msg = "Your account has been suspended: " + user.BanReason
		}
	case !user.Role.Can(CapAccessAdmin):
		msg, reason = "You do not have permission to access the admin area.", "role"
	default:
		return nil
	}

	audit.Record(ctx, l.security, &audit.SecurityEvent{
		EventType: audit.EventLoginUnauthorized,
		UserID:    user.ID,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		Details:   map[string]any{"reason": reason, "role": string(user.Role)},
	})
	l.discard(ctx, s)
	return apperror.NewFieldValidation("email", msg)
}

// discard drops pending login state and logs out an authenticated session.
func (l *loginService) discard(ctx context.Context, s *sessions.Session) {
	s.ClearPendingChallenge()
	if !s.IsAuthenticated() {
		return
	}
	if err := l.lifecycle.Terminate(ctx, s); err != nil {
		slog.Warn("failed to terminate session",
			slog.String("user_id", s.UserID),
			slog.Any("error", err),
		)
	}
}

// checkTrustedDevice reports whether the token grants a bypass, and whether
// the browser's cookie should be cleared because the token was rejected.
// No failure here blocks the login; it only means a challenge is issued.
func (l *loginService) checkTrustedDevice(ctx context.Context, user *User, token string, client Client) (ok, rejected bool) {
	device, err := l.trusted.Lookup(ctx, user.ID, token)
	switch {
	case errors.Is(err, devices.ErrMalformedToken):
		audit.Record(ctx, l.security, &audit.SecurityEvent{
			EventType: audit.EventDeviceTokenInvalid,
			UserID:    user.ID,
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
			Details:   map[string]any{"reason": "malformed"},
		})
		return false, true
	case err != nil:
		slog.Warn("trusted device lookup failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return false, false
	case device == nil:
		return false, true
	}

	match, err := l.trusted.ValidateFingerprint(ctx, device, fingerprint.Basic(client.IP, client.UserAgent), client.IP, client.UserAgent)
	if err != nil {
		slog.Warn("trusted device fingerprint check failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
	if !match {
		return false, true
	}

	if err := l.trusted.Touch(ctx, device); err != nil {
		slog.Warn("failed to touch trusted device",
			slog.String("device_id", device.ID),
			slog.Any("error", err),
		)
	}
	return true, false
}

// challenge suspends the login until a second factor is provided. The
// session ID is kept so the CSRF token the challenge form renders with
// stays valid.
func (l *loginService) challenge(ctx context.Context, s *sessions.Session, result *LoginResult, user *User, remember bool, client Client) (*LoginResult, error) {
	ch, err := l.challenges.Issue(user.PasswordHash)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	s.SetPendingChallenge(sessions.PendingChallenge{
		UserID:      user.ID,
		Remember:    remember,
		Nonce:       ch.Nonce,
		Signature:   ch.Signature,
		AttemptTime: ch.IssuedAt,
	})

	audit.Record(ctx, l.security, &audit.SecurityEvent{
		EventType: audit.EventTwoFactorChallenged,
		UserID:    user.ID,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})

	result.Outcome = OutcomeChallengeIssued
	result.Redirect = l.paths.Challenge
	return result, nil
}

func (l *loginService) complete(ctx context.Context, s *sessions.Session, result *LoginResult, remember bool, client Client, method string, twoFactor bool) (*LoginResult, error) {
	if _, err := l.completer.Complete(ctx, CompleteInput{
		Session:   s,
		User:      result.User,
		Remember:  remember,
		TwoFactor: twoFactor,
		Method:    method,
		Client:    client,
	}); err != nil {
		return nil, apperror.NewInternal(err)
	}

	result.Outcome = OutcomeAuthenticated
	result.Redirect = s.PullIntendedURL(l.paths.Dashboard)
	return result, nil
}

// completeWithSetup logs the user in but confines them to the security
// settings until they enroll an authenticator.
func (l *loginService) completeWithSetup(ctx context.Context, s *sessions.Session, result *LoginResult, remember bool, client Client) (*LoginResult, error) {
	if _, err := l.complete(ctx, s, result, remember, client, MethodPassword, false); err != nil {
		return nil, err
	}
	s.RequireTwoFactorSetup(result.User.ID, l.now())
	result.Outcome = OutcomeSetupRequired
	result.Redirect = l.paths.SecuritySettings
	return result, nil
}

func (l *loginService) VerifyChallenge(ctx context.Context, s *sessions.Session, in ChallengeInput) (*LoginResult, error) {
	pending, ok := s.PendingChallenge()
	if !ok {
		return nil, apperror.NewUnauthorized("Your login has expired. Please sign in again.")
	}
	if l.challenges.IsStale(pending.AttemptTime) {
		s.ClearPendingChallenge()
		return nil, apperror.NewUnauthorized("Your login has expired. Please sign in again.")
	}

	user, err := l.users.FindByID(ctx, pending.UserID)
	if err != nil {
		s.ClearPendingChallenge()
		if apperror.IsNotFound(err) {
			return nil, apperror.NewUnauthorized("Your login has expired. Please sign in again.")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	// The signature covers the password hash at issue time; a password
	// change since then invalidates the challenge.
	if !l.challenges.VerifySignature(pending.Nonce, pending.Signature, user.PasswordHash) {
		s.ClearPendingChallenge()
		audit.Record(ctx, l.security, &audit.SecurityEvent{
			EventType: audit.EventTwoFactorFailed,
			UserID:    user.ID,
			IPAddress: in.IP,
			UserAgent: in.UserAgent,
			Details:   map[string]any{"reason": "signature_mismatch"},
		})
		return nil, apperror.NewUnauthorized("Your login has expired. Please sign in again.")
	}

	if err := l.authorize(ctx, s, user, in.Client); err != nil {
		return nil, err
	}

	key := ratelimit.ChallengeKey(user.ID)
	if err := l.checkCodeThrottle(ctx, s, key, user, in); err != nil {
		return nil, err
	}

	reason, err := l.checkSecondFactor(ctx, user, in)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, l.rejectSecondFactor(ctx, s, key, user, in, reason)
	}
	if err := l.limiter.Clear(ctx, key); err != nil {
		slog.Warn("failed to clear two-factor throttle",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	result := &LoginResult{User: user}
	if _, err := l.complete(ctx, s, result, pending.Remember, in.Client, MethodTwoFactor, true); err != nil {
		return nil, err
	}

	if in.RememberDevice {
		raw, expires, err := l.trusted.Trust(ctx, user.ID, fingerprint.Basic(in.IP, in.UserAgent), in.IP, in.UserAgent)
		if err != nil {
			slog.Warn("failed to trust device",
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
		} else {
			result.TrustToken = raw
			result.TrustExpires = expires
		}
	}
	return result, nil
}

// checkCodeThrottle refuses the challenge outright once the user has used
// up their wrong codes for the window. The challenge is abandoned so the
// next try has to pass the password check again.
func (l *loginService) checkCodeThrottle(ctx context.Context, s *sessions.Session, key string, user *User, in ChallengeInput) error {
	blocked, err := l.limiter.TooManyAttempts(ctx, key, l.throttle.MaxAttempts)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("checking two-factor throttle: %w", err))
	}
	if !blocked {
		return nil
	}
	return l.throttleChallenge(ctx, s, key, user, in)
}

func (l *loginService) throttleChallenge(ctx context.Context, s *sessions.Session, key string, user *User, in ChallengeInput) error {
	s.ClearPendingChallenge()

	wait, err := l.limiter.AvailableIn(ctx, key)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("reading two-factor throttle: %w", err))
	}
	retryAfter := ratelimit.RetryAfterSeconds(wait)
	audit.Record(ctx, l.security, &audit.SecurityEvent{
		EventType: audit.EventTwoFactorThrottled,
		UserID:    user.ID,
		IPAddress: in.IP,
		UserAgent: in.UserAgent,
		Details:   map[string]any{"retry_after": retryAfter},
	})
	return apperror.NewThrottled(codeField(in), retryAfter)
}

// rejectSecondFactor counts a wrong code against the user. The attempt
// that reaches the limit abandons the challenge.
func (l *loginService) rejectSecondFactor(ctx context.Context, s *sessions.Session, key string, user *User, in ChallengeInput, reason string) error {
	n, err := l.limiter.Hit(ctx, key, l.throttle.Decay)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("counting failed two-factor code: %w", err))
	}
	audit.Record(ctx, l.security, &audit.SecurityEvent{
		EventType: audit.EventTwoFactorFailed,
		UserID:    user.ID,
		IPAddress: in.IP,
		UserAgent: in.UserAgent,
		Details:   map[string]any{"reason": reason, "attempts": n},
	})
	if n >= int64(l.throttle.MaxAttempts) {
		return l.throttleChallenge(ctx, s, key, user, in)
	}

	field := codeField(in)
	if field == "recovery_code" {
		return apperror.NewFieldValidation(field, "The provided two factor recovery code was invalid.")
	}
	return apperror.NewFieldValidation(field, "The provided two factor authentication code was invalid.")
}

func codeField(in ChallengeInput) string {
	if in.RecoveryCode != "" {
		return "recovery_code"
	}
	return "code"
}

// checkSecondFactor validates a TOTP code or consumes a recovery code. It
// returns a non-empty reason when the code is wrong; err is reserved for
// failures to check it at all.
func (l *loginService) checkSecondFactor(ctx context.Context, user *User, in ChallengeInput) (string, error) {
	if in.RecoveryCode != "" {
		codes, err := l.sealer.OpenCodes(user.TwoFactorRecoveryCodes)
		if err != nil {
			return "", apperror.NewInternal(fmt.Errorf("opening recovery codes: %w", err))
		}
		remaining, ok := twofactor.ConsumeRecoveryCode(codes, in.RecoveryCode)
		if !ok {
			return "invalid_recovery_code", nil
		}
		sealed, err := l.sealer.SealCodes(remaining)
		if err != nil {
			return "", apperror.NewInternal(err)
		}
		if err := l.users.UpdateRecoveryCodes(ctx, user.ID, sealed); err != nil {
			return "", apperror.NewInternal(err)
		}
		return "", nil
	}

	secret, err := l.sealer.Open(user.TwoFactorSecret)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("opening two-factor secret: %w", err))
	}
	step, ok := twofactor.MatchStep(secret, in.Code, l.now())
	if !ok {
		return "invalid_code", nil
	}
	fresh, err := l.steps.Accept(ctx, user.ID, step)
	if err != nil {
		return "", apperror.NewInternal(err)
	}
	if !fresh {
		return "code_reused", nil
	}
	return "", nil
}

func (l *loginService) Status(ctx context.Context, s *sessions.Session) (*Status, error) {
	if !s.IsAuthenticated() {
		return nil, apperror.NewUnauthorized("unauthenticated")
	}
	user, err := l.users.FindByID(ctx, s.UserID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewUnauthorized("unauthenticated")
		}
		return nil, apperror.NewInternal(err)
	}
	if !user.Role.Can(CapAccessAdmin) || user.IsBanned(l.now()) {
		return nil, apperror.NewUnauthorized("unauthorized")
	}

	return &Status{
		Authenticated: true,
		User: &StatusUser{
			ID:          user.ID,
			Name:        user.Name,
			Email:       user.Email,
			Role:        user.Role,
			LastLoginAt: user.LastLoginAt,
			IsVerified:  user.IsVerified(),
		},
		Session: &StatusSession{
			ExpiresAt:    s.ExpiresAt,
			LastActivity: s.LastActivity,
		},
	}, nil
}

func (l *loginService) Extend(ctx context.Context, s *sessions.Session, client Client) (time.Time, error) {
	if !s.IsAuthenticated() {
		return time.Time{}, apperror.NewUnauthorized("unauthenticated")
	}
	expires, err := l.lifecycle.Extend(ctx, s)
	if err != nil {
		return time.Time{}, apperror.NewInternal(err)
	}
	s.MarkDirty()

	audit.Record(ctx, l.security, &audit.SecurityEvent{
		EventType: audit.EventSessionExtended,
		UserID:    s.UserID,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		Details:   map[string]any{"expires_at": expires},
	})
	return expires, nil
}

func (l *loginService) Logout(ctx context.Context, s *sessions.Session, client Client) error {
	userID := s.UserID
	if err := l.lifecycle.Terminate(ctx, s); err != nil {
		return apperror.NewInternal(err)
	}
	if userID != "" {
		audit.Record(ctx, l.security, &audit.SecurityEvent{
			EventType: audit.EventLogout,
			UserID:    userID,
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
		})
	}
	return nil
}
