// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links and redirects.
	BaseURL string

	// AppName is shown as the TOTP issuer in authenticator apps.
	AppName string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// MigrationsPath is the directory holding the SQL migration files.
	MigrationsPath string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication-related settings.
	Auth AuthConfig

	// Security holds login throttling, 2FA, and session cap settings.
	Security SecurityConfig

	// SMTP holds outbound mail settings for security notifications.
	SMTP SMTPConfig

	// Bootstrap holds the first admin account created on startup.
	Bootstrap BootstrapConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MariaDB username (default: "folio").
	User string

	// Password is the MariaDB password (default: "folio").
	Password string

	// Name is the database name (default: "folio").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// Host/User/Password/Name fields using the driver's Config.FormatDSN()
// to safely handle special characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows users to set DB_HOST=mydb (gets :3306) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SecretKey keys the two-factor challenge HMAC and seals TOTP secrets
	// at rest. Must be 32+ characters in production.
	SecretKey string

	// SessionTTL is how long an admin session lives without "remember me".
	SessionTTL time.Duration

	// RememberTTL is the session lifetime when "remember me" is checked.
	RememberTTL time.Duration

	// SecureCookie sets the Secure attribute on session and device cookies.
	// Defaults to true outside development.
	SecureCookie bool
}

// SecurityConfig holds the login hardening knobs. Session caps here are
// defaults; the site_settings table may override them at runtime.
type SecurityConfig struct {
	// LoginMaxAttempts is the number of failed logins allowed per IP
	// within LoginDecay before further attempts are throttled.
	LoginMaxAttempts int

	// LoginDecay is the window after which the failed-login counter resets.
	LoginDecay time.Duration

	// ChallengeTTL is how long a pending two-factor challenge stays valid.
	ChallengeTTL time.Duration

	// ChallengeMaxAttempts is the number of wrong two-factor codes allowed
	// per user within ChallengeDecay. Reaching it abandons the challenge.
	ChallengeMaxAttempts int

	// ChallengeDecay is the window after which the code counter resets.
	ChallengeDecay time.Duration

	// TrustedDeviceTTL is how long a "trust this device" token bypasses 2FA.
	TrustedDeviceTTL time.Duration

	// SessionCapAdmin, SessionCapEditor and SessionCapDefault bound the
	// number of concurrently active sessions per user, by role.
	SessionCapAdmin   int
	SessionCapEditor  int
	SessionCapDefault int

	// PasswordHistory is the number of previous password hashes retained
	// per user to block reuse.
	PasswordHistory int

	// DashboardPath is where a fully authenticated user lands.
	DashboardPath string

	// SecuritySettingsPath is where users with mandatory 2FA setup are sent.
	// The security settings routes are mounted under it.
	SecuritySettingsPath string

	// ChallengePath is the two-factor challenge page.
	ChallengePath string
}

// SMTPConfig holds outbound mail settings. Mail is disabled when Host is
// empty.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string

	// Encryption is "starttls", "ssl" or "none".
	Encryption string
}

// BootstrapConfig describes an admin account created at startup if no
// user has the email yet. Ignored when Email or Password is empty.
type BootstrapConfig struct {
	Name     string
	Email    string
	Password string
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		AppName:        getEnv("APP_NAME", "Folio"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "folio"),
			Password:        getEnv("DB_PASSWORD", "folio"),
			Name:            getEnv("DB_NAME", "folio"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SecretKey:   getEnv("SECRET_KEY", ""),
			SessionTTL:  getEnvDuration("SESSION_TTL", 2*time.Hour),
			RememberTTL: getEnvDuration("REMEMBER_TTL", 720*time.Hour),
		},

		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", ""),
			Port:        getEnvInt("SMTP_PORT", 587),
			Username:    getEnv("SMTP_USERNAME", ""),
			Password:    getEnv("SMTP_PASSWORD", ""),
			FromAddress: getEnv("SMTP_FROM_ADDRESS", ""),
			FromName:    getEnv("SMTP_FROM_NAME", "Folio"),
			Encryption:  strings.ToLower(getEnv("SMTP_ENCRYPTION", "starttls")),
		},

		Bootstrap: BootstrapConfig{
			Name:     getEnv("ADMIN_NAME", "Administrator"),
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},

		Security: SecurityConfig{
			LoginMaxAttempts:     getEnvInt("LOGIN_MAX_ATTEMPTS", 5),
			LoginDecay:           getEnvDuration("LOGIN_DECAY", time.Minute),
			ChallengeTTL:         getEnvDuration("TWO_FACTOR_CHALLENGE_TTL", 10*time.Minute),
			ChallengeMaxAttempts: getEnvInt("TWO_FACTOR_MAX_ATTEMPTS", 5),
			ChallengeDecay:       getEnvDuration("TWO_FACTOR_DECAY", 15*time.Minute),
			TrustedDeviceTTL:     getEnvDuration("TRUSTED_DEVICE_TTL", 720*time.Hour),
			SessionCapAdmin:      getEnvInt("SESSION_CAP_ADMIN", 3),
			SessionCapEditor:     getEnvInt("SESSION_CAP_EDITOR", 2),
			SessionCapDefault:    getEnvInt("SESSION_CAP_DEFAULT", 1),
			PasswordHistory:      getEnvInt("PASSWORD_HISTORY", 5),
			DashboardPath:        getEnv("DASHBOARD_PATH", "/admin"),
			SecuritySettingsPath: getEnv("SECURITY_SETTINGS_PATH", "/admin/security"),
			ChallengePath:        getEnv("TWO_FACTOR_CHALLENGE_PATH", "/admin/two-factor-challenge"),
		},
	}

	// Validate required fields in production. Case-insensitive check catches
	// common variants like "Production", "prod", etc.
	envLower := strings.ToLower(cfg.Env)
	if envLower == "production" || envLower == "prod" {
		if cfg.Auth.SecretKey == "" {
			return nil, fmt.Errorf("SECRET_KEY is required in production")
		}
		if len(cfg.Auth.SecretKey) < 32 {
			return nil, fmt.Errorf("SECRET_KEY must be at least 32 characters in production")
		}
	}

	cfg.Auth.SecureCookie = getEnvBool("SECURE_COOKIES", !cfg.IsDevelopment())

	switch cfg.SMTP.Encryption {
	case "starttls", "ssl", "none":
	default:
		return nil, fmt.Errorf("SMTP_ENCRYPTION must be starttls, ssl or none")
	}

	if cfg.Security.LoginMaxAttempts < 1 {
		return nil, fmt.Errorf("LOGIN_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Security.ChallengeMaxAttempts < 1 {
		return nil, fmt.Errorf("TWO_FACTOR_MAX_ATTEMPTS must be at least 1")
	}
	cfg.Security.SecuritySettingsPath = strings.TrimRight(cfg.Security.SecuritySettingsPath, "/")
	if !strings.HasPrefix(cfg.Security.SecuritySettingsPath, "/") {
		return nil, fmt.Errorf("SECURITY_SETTINGS_PATH must be an absolute path")
	}
	if cfg.Security.SecuritySettingsPath == cfg.Security.DashboardPath {
		return nil, fmt.Errorf("SECURITY_SETTINGS_PATH must differ from DASHBOARD_PATH")
	}
	if cfg.Security.PasswordHistory < 0 {
		return nil, fmt.Errorf("PASSWORD_HISTORY must not be negative")
	}

	// Provide a dev-only default secret so local dev works without .env.
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = "dev-secret-key-do-not-use-in-production!!"
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", "false", ...) or returns
// the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "720h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
