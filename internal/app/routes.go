package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/folio/internal/middleware"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/plugins/auth"
	"github.com/keyxmakerx/folio/internal/plugins/devices"
	"github.com/keyxmakerx/folio/internal/plugins/sessions"
	"github.com/keyxmakerx/folio/internal/plugins/settings"
	"github.com/keyxmakerx/folio/internal/plugins/smtp"
	"github.com/keyxmakerx/folio/internal/plugins/twofactor"
	"github.com/keyxmakerx/folio/internal/ratelimit"
	"github.com/keyxmakerx/folio/internal/templates/pages"
)

// maintenanceInterval is how often expired trusted devices are swept.
const maintenanceInterval = time.Hour

// RegisterRoutes wires every plugin and sets up all application routes.
//
// This is the single place where all routes are aggregated. Plugins only
// expose RegisterRoutes functions; the guards that protect them are
// applied here so plugins never import each other's middleware.
func (a *App) RegisterRoutes() error {
	e := a.Echo
	cfg := a.Config

	// --- Shared services ---
	security := audit.NewSecurityLogger(audit.NewSecurityEventRepository(a.DB))

	settingsSvc := settings.NewSettingsService(settings.NewSettingsRepository(a.DB), settings.Defaults{
		SessionCapAdmin:   cfg.Security.SessionCapAdmin,
		SessionCapEditor:  cfg.Security.SessionCapEditor,
		SessionCapDefault: cfg.Security.SessionCapDefault,
	})

	store := sessions.NewStore(a.Redis, sessions.Config{
		IdleTTL:      cfg.Auth.SessionTTL,
		RememberTTL:  cfg.Auth.RememberTTL,
		SecureCookie: cfg.Auth.SecureCookie,
	})
	lifecycle := sessions.NewLifecycle(store)

	users := auth.NewUserRepository(a.DB)
	trusted := devices.NewTrustedDeviceService(devices.NewTrustedDeviceRepository(a.DB), security, cfg.Security.TrustedDeviceTTL)

	// New-device notices go out by mail when SMTP is configured and to
	// the log otherwise.
	a.mail = smtp.NewSMTPService(smtp.Settings{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		FromAddress: cfg.SMTP.FromAddress,
		FromName:    cfg.SMTP.FromName,
		Encryption:  cfg.SMTP.Encryption,
	})
	var notifier devices.Notifier = devices.LogNotifier{}
	if a.mail.IsConfigured() {
		notifier = smtp.NewDeviceNotifier(a.mail, func(ctx context.Context, userID string) (string, string, error) {
			u, err := users.FindByID(ctx, userID)
			if err != nil {
				return "", "", err
			}
			return u.Name, u.Email, nil
		}, cfg.AppName, cfg.BaseURL, cfg.Security.SecuritySettingsPath)
	}
	detector := devices.NewDetector(devices.NewKnownDeviceRepository(a.DB), notifier, security)

	sealer, err := twofactor.NewSealer(cfg.Auth.SecretKey)
	if err != nil {
		return fmt.Errorf("creating secret sealer: %w", err)
	}
	challenges := twofactor.NewManager(cfg.Auth.SecretKey, cfg.Security.ChallengeTTL)

	limiter := ratelimit.NewLimiter(a.Redis, "folio")
	credentials := auth.NewCredentialValidator(users, limiter, security, auth.ThrottleConfig{
		MaxAttempts: cfg.Security.LoginMaxAttempts,
		Decay:       cfg.Security.LoginDecay,
	})
	completer := auth.NewLoginCompleter(lifecycle, users, settingsSvc, detector, security)

	paths := auth.Paths{
		Dashboard:        cfg.Security.DashboardPath,
		SecuritySettings: cfg.Security.SecuritySettingsPath,
		Challenge:        cfg.Security.ChallengePath,
	}
	loginSvc := auth.NewLoginService(auth.LoginDeps{
		Credentials: credentials,
		Users:       users,
		Trusted:     trusted,
		Challenges:  challenges,
		Sealer:      sealer,
		Completer:   completer,
		Lifecycle:   lifecycle,
		Policy:      settingsSvc,
		Security:    security,
		Paths:       paths,

		Limiter: limiter,
		ChallengeThrottle: auth.ThrottleConfig{
			MaxAttempts: cfg.Security.ChallengeMaxAttempts,
			Decay:       cfg.Security.ChallengeDecay,
		},
		Steps: twofactor.NewStepGuard(a.Redis),
	})
	a.accounts = auth.NewAccountService(users, sealer, trusted, lifecycle, settingsSvc, security, auth.AccountConfig{
		Issuer:          cfg.AppName,
		PasswordHistory: cfg.Security.PasswordHistory,
	})
	a.trusted = trusted

	// --- Public Routes (no auth required) ---

	// Health check endpoint for container health monitoring.
	e.GET("/healthz", a.healthz)

	// --- Admin Routes ---
	// Every /admin request carries a session; the layout injector runs
	// after it so pages see the authenticated identity.
	admin := e.Group("/admin", sessions.Middleware(store), a.layoutInjector)

	requireAuth := auth.RequireAuth(lifecycle, security)
	requireAdmin := auth.RequireCapability(auth.CapAccessAdmin)

	authHandler := auth.NewHandler(loginSvc, a.accounts, store, paths, cfg.Auth.SecureCookie)
	auth.RegisterRoutes(admin, authHandler, requireAuth)

	// Dashboard. Users with a pending mandatory enrollment are confined to
	// the security settings until they finish it.
	admin.GET("", func(c echo.Context) error {
		return middleware.Render(c, http.StatusOK, pages.AdminApp("dashboard", false))
	}, requireAuth, requireAdmin, auth.RequireTwoFactorSetup(cfg.Security.SecuritySettingsPath))

	// Security settings: the user's own password, 2FA, sessions and devices.
	// Mounted at the configured path so the mandatory-setup redirect always
	// lands on the enrollment routes.
	sec := e.Group(cfg.Security.SecuritySettingsPath, sessions.Middleware(store), a.layoutInjector, requireAuth, requireAdmin)
	sec.GET("", func(c echo.Context) error {
		s := sessions.FromContext(c)
		setup := s.TwoFactorSetupMandatory && s.TwoFactorSetupUserID == s.UserID
		return middleware.Render(c, http.StatusOK, pages.AdminApp("security", setup))
	})
	auth.RegisterSecurityRoutes(sec, authHandler)
	sessions.RegisterRoutes(sec, sessions.NewHandler(store, security))
	devices.RegisterRoutes(sec, devices.NewHandler(trusted, detector, security))

	// Site-wide security administration: audit log and security settings.
	manage := sec.Group("", auth.RequireCapability(auth.CapManageSecurity))
	audit.RegisterRoutes(manage, audit.NewHandler(security))
	settings.RegisterRoutes(manage, settings.NewHandler(settingsSvc))

	return nil
}

// healthz reports whether MariaDB and Redis are reachable.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok", "redis": "ok"}
	code := http.StatusOK

	if err := a.DB.PingContext(ctx); err != nil {
		slog.Warn("health check: database unreachable", slog.Any("error", err))
		status["database"] = "unreachable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		slog.Warn("health check: redis unreachable", slog.Any("error", err))
		status["redis"] = "unreachable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// CheckMail verifies the SMTP connection when mail is configured. A
// failure is logged and does not stop the server; notices are best-effort.
func (a *App) CheckMail(ctx context.Context) {
	if a.mail == nil || !a.mail.IsConfigured() {
		slog.Info("SMTP not configured, new-device notices go to the log")
		return
	}
	if err := a.mail.TestConnection(ctx); err != nil {
		slog.Warn("SMTP connection check failed", slog.Any("error", err))
		return
	}
	slog.Info("SMTP connection verified")
}

// RunMaintenance sweeps expired trusted devices every hour until ctx is
// cancelled.
func (a *App) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purgeExpiredDevices(ctx)
		}
	}
}
