package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/keyxmakerx/folio/internal/apperror"
)

// maxSessionCap bounds the configurable per-role session cap.
const maxSessionCap = 50

// SettingsService exposes typed site settings.
type SettingsService interface {
	// GetSecuritySettings returns the current security settings with
	// defaults filled in for missing rows.
	GetSecuritySettings(ctx context.Context) (*SecuritySettings, error)

	// UpdateSecuritySettings validates and persists security settings.
	UpdateSecuritySettings(ctx context.Context, s *SecuritySettings) error

	// SessionCap returns the maximum number of concurrent sessions for a
	// role. Never less than 1. Read failures fall back to the default.
	SessionCap(ctx context.Context, role string) int

	// RequireTwoFactorFor reports whether a role must have two-factor
	// authentication set up before reaching the admin area. Always true
	// for admins.
	RequireTwoFactorFor(ctx context.Context, role string) bool
}

type settingsService struct {
	repo     SettingsRepository
	defaults Defaults
}

// NewSettingsService creates a settings service.
func NewSettingsService(repo SettingsRepository, defaults Defaults) SettingsService {
	if defaults.SessionCapDefault < 1 {
		defaults.SessionCapDefault = 1
	}
	return &settingsService{repo: repo, defaults: defaults}
}

func (s *settingsService) GetSecuritySettings(ctx context.Context) (*SecuritySettings, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	out := &SecuritySettings{
		RequireTwoFactorForEditors: parseBool(all[KeyRequireTwoFactorEditors], false),
		SessionCaps:                make(map[string]int, len(cappedRoles)),
	}
	for _, role := range cappedRoles {
		out.SessionCaps[role] = parseCap(all[SessionCapKey(role)], s.defaults.capFor(role))
	}
	return out, nil
}

func (s *settingsService) UpdateSecuritySettings(ctx context.Context, in *SecuritySettings) error {
	if in == nil {
		return apperror.NewBadRequest("settings are required")
	}

	values := map[string]string{
		KeyRequireTwoFactorEditors: strconv.FormatBool(in.RequireTwoFactorForEditors),
	}
	for role, limit := range in.SessionCaps {
		if !isCappedRole(role) {
			return apperror.NewFieldValidation("sessionCaps", fmt.Sprintf("session cap cannot be set for role %q", role))
		}
		if limit < 1 || limit > maxSessionCap {
			return apperror.NewFieldValidation("sessionCaps",
				fmt.Sprintf("session cap for %s must be between 1 and %d", role, maxSessionCap))
		}
		values[SessionCapKey(role)] = strconv.Itoa(limit)
	}

	return s.repo.SetMany(ctx, values)
}

func (s *settingsService) SessionCap(ctx context.Context, role string) int {
	fallback := s.defaults.capFor(role)
	if fallback < 1 {
		fallback = 1
	}
	if !isCappedRole(role) {
		return fallback
	}

	raw, err := s.repo.Get(ctx, SessionCapKey(role))
	if err != nil {
		if !apperror.IsNotFound(err) {
			slog.Warn("reading session cap failed, using default",
				slog.String("role", role),
				slog.Any("error", err),
			)
		}
		return fallback
	}
	return parseCap(raw, fallback)
}

func (s *settingsService) RequireTwoFactorFor(ctx context.Context, role string) bool {
	switch role {
	case "admin":
		return true
	case "editor":
		raw, err := s.repo.Get(ctx, KeyRequireTwoFactorEditors)
		if err != nil {
			if !apperror.IsNotFound(err) {
				slog.Warn("reading editor 2fa setting failed",
					slog.Any("error", err),
				)
			}
			return false
		}
		return parseBool(raw, false)
	default:
		return false
	}
}

func isCappedRole(role string) bool {
	for _, r := range cappedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// parseCap parses a positive session cap, returning fallback on failure.
func parseCap(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

// parseBool parses a boolean setting, returning fallback on failure.
func parseBool(s string, fallback bool) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}
