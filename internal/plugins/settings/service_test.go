package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/keyxmakerx/folio/internal/apperror"
)

// --- Mock Repository ---

type mockSettingsRepo struct {
	values    map[string]string
	getErr    error
	setManyFn func(ctx context.Context, values map[string]string) error
}

func (m *mockSettingsRepo) Get(_ context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", apperror.NewNotFound("missing")
	}
	return v, nil
}

func (m *mockSettingsRepo) GetAll(_ context.Context) (map[string]string, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *mockSettingsRepo) SetMany(ctx context.Context, values map[string]string) error {
	if m.setManyFn != nil {
		return m.setManyFn(ctx, values)
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

var testDefaults = Defaults{SessionCapAdmin: 3, SessionCapEditor: 2, SessionCapDefault: 1}

func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status code %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

func TestSessionCap_Defaults(t *testing.T) {
	svc := NewSettingsService(&mockSettingsRepo{}, testDefaults)
	ctx := context.Background()

	tests := map[string]int{"admin": 3, "editor": 2, "author": 1, "subscriber": 1}
	for role, want := range tests {
		if got := svc.SessionCap(ctx, role); got != want {
			t.Errorf("%s: expected %d, got %d", role, want, got)
		}
	}
}

func TestSessionCap_Override(t *testing.T) {
	repo := &mockSettingsRepo{values: map[string]string{SessionCapKey("admin"): "5"}}
	svc := NewSettingsService(repo, testDefaults)

	if got := svc.SessionCap(context.Background(), "admin"); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}

func TestSessionCap_InvalidOrFailingFallsBack(t *testing.T) {
	repo := &mockSettingsRepo{values: map[string]string{SessionCapKey("editor"): "0"}}
	svc := NewSettingsService(repo, testDefaults)
	if got := svc.SessionCap(context.Background(), "editor"); got != 2 {
		t.Errorf("expected fallback 2 for zero cap, got %d", got)
	}

	svc = NewSettingsService(&mockSettingsRepo{getErr: errors.New("db down")}, testDefaults)
	if got := svc.SessionCap(context.Background(), "admin"); got != 3 {
		t.Errorf("expected fallback 3 on error, got %d", got)
	}
}

func TestRequireTwoFactorFor(t *testing.T) {
	ctx := context.Background()

	off := NewSettingsService(&mockSettingsRepo{values: map[string]string{
		KeyRequireTwoFactorEditors: "false",
	}}, testDefaults)
	on := NewSettingsService(&mockSettingsRepo{values: map[string]string{
		KeyRequireTwoFactorEditors: "true",
	}}, testDefaults)

	if !off.RequireTwoFactorFor(ctx, "admin") {
		t.Error("admins must always require 2FA")
	}
	if off.RequireTwoFactorFor(ctx, "editor") {
		t.Error("expected editors exempt when setting is off")
	}
	if !on.RequireTwoFactorFor(ctx, "editor") {
		t.Error("expected editors required when setting is on")
	}
	if on.RequireTwoFactorFor(ctx, "author") {
		t.Error("expected authors never required")
	}
}

func TestGetSecuritySettings_FillsDefaults(t *testing.T) {
	repo := &mockSettingsRepo{values: map[string]string{
		KeyRequireTwoFactorEditors: "true",
		SessionCapKey("editor"):    "4",
	}}
	s, err := NewSettingsService(repo, testDefaults).GetSecuritySettings(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.RequireTwoFactorForEditors {
		t.Error("expected editors flag on")
	}
	if s.SessionCaps["admin"] != 3 || s.SessionCaps["editor"] != 4 {
		t.Errorf("unexpected caps: %v", s.SessionCaps)
	}
}

func TestUpdateSecuritySettings_Validation(t *testing.T) {
	svc := NewSettingsService(&mockSettingsRepo{}, testDefaults)
	ctx := context.Background()

	err := svc.UpdateSecuritySettings(ctx, &SecuritySettings{SessionCaps: map[string]int{"admin": 0}})
	assertAppError(t, err, 422)

	err = svc.UpdateSecuritySettings(ctx, &SecuritySettings{SessionCaps: map[string]int{"subscriber": 2}})
	assertAppError(t, err, 422)

	err = svc.UpdateSecuritySettings(ctx, nil)
	assertAppError(t, err, 400)
}

func TestUpdateSecuritySettings_Persists(t *testing.T) {
	repo := &mockSettingsRepo{}
	svc := NewSettingsService(repo, testDefaults)

	err := svc.UpdateSecuritySettings(context.Background(), &SecuritySettings{
		RequireTwoFactorForEditors: true,
		SessionCaps:                map[string]int{"editor": 6},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.values[KeyRequireTwoFactorEditors] != "true" || repo.values[SessionCapKey("editor")] != "6" {
		t.Errorf("unexpected stored values: %v", repo.values)
	}
}
