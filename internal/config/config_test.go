package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Security.LoginMaxAttempts != 5 {
		t.Errorf("expected 5 login attempts, got %d", cfg.Security.LoginMaxAttempts)
	}
	if cfg.Security.LoginDecay != time.Minute {
		t.Errorf("expected 1m decay, got %v", cfg.Security.LoginDecay)
	}
	if cfg.Security.PasswordHistory != 5 {
		t.Errorf("expected password history of 5, got %d", cfg.Security.PasswordHistory)
	}
	if cfg.Auth.SecretKey == "" {
		t.Error("expected dev secret to be filled in")
	}
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SECRET_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing SECRET_KEY in production")
	}

	t.Setenv("SECRET_KEY", "too-short")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short SECRET_KEY in production")
	}

	t.Setenv("SECRET_KEY", strings.Repeat("k", 40))
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error with valid secret: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "3")
	t.Setenv("TWO_FACTOR_CHALLENGE_TTL", "2m")
	t.Setenv("SESSION_CAP_ADMIN", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Security.LoginMaxAttempts != 3 {
		t.Errorf("expected 3, got %d", cfg.Security.LoginMaxAttempts)
	}
	if cfg.Security.ChallengeTTL != 2*time.Minute {
		t.Errorf("expected 2m, got %v", cfg.Security.ChallengeTTL)
	}
	if cfg.Security.SessionCapAdmin != 7 {
		t.Errorf("expected 7, got %d", cfg.Security.SessionCapAdmin)
	}
}

func TestLoad_RejectsZeroAttempts(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for LOGIN_MAX_ATTEMPTS=0")
	}
}

func TestLoad_TwoFactorThrottleDefaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Security.ChallengeMaxAttempts != 5 {
		t.Errorf("expected 5 code attempts, got %d", cfg.Security.ChallengeMaxAttempts)
	}
	if cfg.Security.ChallengeDecay != 15*time.Minute {
		t.Errorf("expected 15m decay, got %v", cfg.Security.ChallengeDecay)
	}
}

func TestLoad_SecuritySettingsPath(t *testing.T) {
	t.Setenv("ENV", "development")

	t.Setenv("SECURITY_SETTINGS_PATH", "/admin/account/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Security.SecuritySettingsPath != "/admin/account" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Security.SecuritySettingsPath)
	}

	for _, bad := range []string{"admin/security", "/admin"} {
		t.Setenv("SECURITY_SETTINGS_PATH", bad)
		if _, err := Load(); err == nil {
			t.Errorf("expected error for SECURITY_SETTINGS_PATH=%q", bad)
		}
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", User: "folio", Password: "p@ss:word", Name: "folio"}
	dsn := d.DSN()
	if !strings.Contains(dsn, "tcp(db:3306)") {
		t.Errorf("expected default port to be appended, got %s", dsn)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("expected parseTime=true, got %s", dsn)
	}

	d.dsnOverride = "user:pw@tcp(other:3307)/x"
	if d.DSN() != "user:pw@tcp(other:3307)/x" {
		t.Errorf("expected override DSN, got %s", d.DSN())
	}
}

func TestLoad_SecureCookieDefaultsByEnv(t *testing.T) {
	t.Setenv("ENV", "development")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.SecureCookie {
		t.Error("development should not require secure cookies by default")
	}

	t.Setenv("SECURE_COOKIES", "true")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Auth.SecureCookie {
		t.Error("SECURE_COOKIES=true should be honored")
	}
}

func TestLoad_RejectsUnknownSMTPEncryption(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("SMTP_ENCRYPTION", "tls13")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown SMTP_ENCRYPTION")
	}
}
