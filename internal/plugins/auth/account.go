package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/plugins/devices"
	"github.com/keyxmakerx/folio/internal/plugins/sessions"
	"github.com/keyxmakerx/folio/internal/plugins/twofactor"
)

// AccountService manages a signed-in user's own security settings.
type AccountService interface {
	// ChangePassword verifies the current password, rejects reuse of the
	// current or a remembered password, and records the old hash in the
	// history. Trusted devices and the user's other sessions are revoked.
	ChangePassword(ctx context.Context, in ChangePasswordInput) error

	// EnableTwoFactor starts enrollment by generating an unconfirmed secret.
	EnableTwoFactor(ctx context.Context, userID string) (*twofactor.Enrollment, error)

	// ConfirmTwoFactor finishes enrollment with a code from the
	// authenticator and returns fresh recovery codes. The session's
	// mandatory setup flag is cleared.
	ConfirmTwoFactor(ctx context.Context, s *sessions.Session, code string, client Client) ([]string, error)

	// DisableTwoFactor removes two-factor after checking the password.
	// Roles that require two-factor cannot disable it.
	DisableTwoFactor(ctx context.Context, userID, password string, client Client) error

	// RegenerateRecoveryCodes replaces the user's recovery codes.
	RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error)

	// EnsureAdmin creates an admin account if no user has the email.
	EnsureAdmin(ctx context.Context, name, email, password string) error
}

// AccountConfig holds account policy settings.
type AccountConfig struct {
	// Issuer is the name authenticator apps show for the account.
	Issuer string
	// PasswordHistory is how many previous hashes are kept.
	PasswordHistory int
}

type accountService struct {
	users     UserRepository
	sealer    *twofactor.Sealer
	trusted   devices.TrustedDeviceService
	lifecycle *sessions.Lifecycle
	policy    SessionPolicy
	security  audit.SecurityLogger
	cfg       AccountConfig
	now       func() time.Time
}

// NewAccountService creates the account security service.
func NewAccountService(users UserRepository, sealer *twofactor.Sealer, trusted devices.TrustedDeviceService, lifecycle *sessions.Lifecycle, policy SessionPolicy, security audit.SecurityLogger, cfg AccountConfig) AccountService {
	if cfg.Issuer == "" {
		cfg.Issuer = "Folio"
	}
	return &accountService{
		users:     users,
		sealer:    sealer,
		trusted:   trusted,
		lifecycle: lifecycle,
		policy:    policy,
		security:  security,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (a *accountService) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	user, err := a.users.FindByID(ctx, in.UserID)
	if err != nil {
		return err
	}

	if !verifyPassword(in.CurrentPassword, user.PasswordHash) {
		return apperror.NewFieldValidation("current_password", "The provided password does not match your current password.")
	}
	if msg := validateNewPassword(in.NewPassword, in.Confirmation); msg != "" {
		return apperror.NewFieldValidation("password", msg)
	}
	if verifyPassword(in.NewPassword, user.PasswordHash) {
		return apperror.NewFieldValidation("password", "The new password must be different from your current password.")
	}

	history, err := a.users.ListPasswordHistory(ctx, user.ID)
	if err != nil {
		return apperror.NewInternal(err)
	}
	for _, h := range history {
		if verifyPassword(in.NewPassword, h.Hash) {
			return apperror.NewFieldValidation("password",
				fmt.Sprintf("You cannot reuse one of your last %d passwords.", a.cfg.PasswordHistory))
		}
	}

	hash, err := hashPassword(in.NewPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}
	if err := a.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return apperror.NewInternal(err)
	}
	if err := a.recordHistory(ctx, user.ID, user.PasswordHash, history); err != nil {
		slog.Warn("failed to update password history",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	if n, err := a.trusted.RevokeAll(ctx, user.ID); err != nil {
		slog.Warn("failed to revoke trusted devices after password change",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	} else if n > 0 {
		slog.Info("revoked trusted devices after password change",
			slog.String("user_id", user.ID),
			slog.Int64("count", n),
		)
	}
	if in.CurrentSessionID != "" {
		if _, err := a.lifecycle.TerminatePreviousSessions(ctx, user.ID, in.CurrentSessionID, 1); err != nil {
			slog.Warn("failed to terminate other sessions after password change",
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
		}
	}

	audit.Record(ctx, a.security, &audit.SecurityEvent{
		EventType: audit.EventPasswordChanged,
		UserID:    user.ID,
		IPAddress: in.IP,
		UserAgent: in.UserAgent,
	})
	return nil
}

// recordHistory appends the replaced hash and prunes the history to the
// configured size. history is the list read before the change, newest first.
func (a *accountService) recordHistory(ctx context.Context, userID, previousHash string, history []PasswordHistoryEntry) error {
	keep := a.cfg.PasswordHistory
	if keep <= 0 {
		return nil
	}

	entry := &PasswordHistoryEntry{UserID: userID, Hash: previousHash, CreatedAt: a.now().UTC()}
	if err := a.users.AddPasswordHistory(ctx, entry); err != nil {
		return err
	}

	all := append([]PasswordHistoryEntry{*entry}, history...)
	if len(all) <= keep {
		return nil
	}
	stale := make([]int64, 0, len(all)-keep)
	for _, e := range all[keep:] {
		stale = append(stale, e.ID)
	}
	return a.users.DeletePasswordHistory(ctx, userID, stale)
}

func (a *accountService) EnableTwoFactor(ctx context.Context, userID string) (*twofactor.Enrollment, error) {
	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.HasConfirmedTwoFactor() {
		return nil, apperror.NewConflict("two-factor authentication is already enabled")
	}

	enrollment, err := twofactor.GenerateSecret(a.cfg.Issuer, user.Email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating two-factor secret: %w", err))
	}
	sealed, err := a.sealer.Seal(enrollment.Secret)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if err := a.users.SetTwoFactorSecret(ctx, user.ID, sealed); err != nil {
		return nil, apperror.NewInternal(err)
	}
	return enrollment, nil
}

func (a *accountService) ConfirmTwoFactor(ctx context.Context, s *sessions.Session, code string, client Client) ([]string, error) {
	user, err := a.users.FindByID(ctx, s.UserID)
	if err != nil {
		return nil, err
	}
	if user.HasConfirmedTwoFactor() {
		return nil, apperror.NewConflict("two-factor authentication is already enabled")
	}
	if user.TwoFactorSecret == "" {
		return nil, apperror.NewBadRequest("two-factor setup has not been started")
	}

	secret, err := a.sealer.Open(user.TwoFactorSecret)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("opening two-factor secret: %w", err))
	}
	if !twofactor.ValidateCode(secret, code, a.now()) {
		return nil, apperror.NewFieldValidation("code", "The provided two factor authentication code was invalid.")
	}

	codes, sealed, err := a.newRecoveryCodes()
	if err != nil {
		return nil, err
	}
	if err := a.users.ConfirmTwoFactor(ctx, user.ID, sealed, a.now().UTC()); err != nil {
		return nil, apperror.NewInternal(err)
	}

	s.ClearTwoFactorSetup()

	audit.Record(ctx, a.security, &audit.SecurityEvent{
		EventType: audit.EventTwoFactorEnabled,
		UserID:    user.ID,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})
	return codes, nil
}

func (a *accountService) DisableTwoFactor(ctx context.Context, userID, password string, client Client) error {
	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !verifyPassword(password, user.PasswordHash) {
		return apperror.NewFieldValidation("password", "The provided password was incorrect.")
	}
	if a.policy.RequireTwoFactorFor(ctx, string(user.Role)) {
		return apperror.NewForbidden("two-factor authentication is required for your role")
	}

	if err := a.users.ClearTwoFactor(ctx, user.ID); err != nil {
		return apperror.NewInternal(err)
	}
	if _, err := a.trusted.RevokeAll(ctx, user.ID); err != nil {
		slog.Warn("failed to revoke trusted devices after disabling two-factor",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	audit.Record(ctx, a.security, &audit.SecurityEvent{
		EventType: audit.EventTwoFactorDisabled,
		UserID:    user.ID,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
	})
	return nil
}

func (a *accountService) RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasConfirmedTwoFactor() {
		return nil, apperror.NewBadRequest("two-factor authentication is not enabled")
	}

	codes, sealed, err := a.newRecoveryCodes()
	if err != nil {
		return nil, err
	}
	if err := a.users.UpdateRecoveryCodes(ctx, user.ID, sealed); err != nil {
		return nil, apperror.NewInternal(err)
	}
	return codes, nil
}

func (a *accountService) newRecoveryCodes() ([]string, string, error) {
	codes, err := twofactor.GenerateRecoveryCodes(twofactor.RecoveryCodeCount)
	if err != nil {
		return nil, "", apperror.NewInternal(err)
	}
	sealed, err := a.sealer.SealCodes(codes)
	if err != nil {
		return nil, "", apperror.NewInternal(err)
	}
	return codes, sealed, nil
}

func (a *accountService) EnsureAdmin(ctx context.Context, name, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}

	_, err := a.users.FindByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !apperror.IsNotFound(err) {
		return err
	}

	if msg := validateNewPassword(password, password); msg != "" {
		return fmt.Errorf("bootstrap admin password: %s", msg)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	now := a.now().UTC()
	user := &User{
		ID:              uuid.New().String(),
		Name:            strings.TrimSpace(name),
		Email:           email,
		PasswordHash:    hash,
		Role:            RoleAdmin,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
	}
	if user.Name == "" {
		user.Name = "Administrator"
	}
	if err := a.users.Create(ctx, user); err != nil {
		return err
	}

	slog.Info("bootstrap admin created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return nil
}
