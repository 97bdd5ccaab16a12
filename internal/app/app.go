// Package app is the application bootstrap and dependency injection root.
// It creates and holds all shared infrastructure (DB pool, Redis client,
// Echo instance) and wires together the admin authentication plugins.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/config"
	"github.com/keyxmakerx/folio/internal/middleware"
	"github.com/keyxmakerx/folio/internal/plugins/auth"
	"github.com/keyxmakerx/folio/internal/plugins/devices"
	"github.com/keyxmakerx/folio/internal/plugins/sessions"
	"github.com/keyxmakerx/folio/internal/plugins/smtp"
	"github.com/keyxmakerx/folio/internal/templates/layouts"
	"github.com/keyxmakerx/folio/internal/templates/pages"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis is the Redis client shared for sessions and login throttling.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Services wired by RegisterRoutes that startup tasks need.
	accounts auth.AccountService
	trusted  devices.TrustedDeviceService
	mail     smtp.SMTPService
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) *App {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Configure trusted reverse proxy IPs so c.RealIP() returns the actual
	// client IP instead of the proxy's IP. Login throttling, device
	// fingerprints and the security log all key on it.
	middleware.TrustedProxies(e, []string{
		"127.0.0.0/8",    // Localhost
		"10.0.0.0/8",     // Docker default bridge
		"172.16.0.0/12",  // Docker bridge (alternate range)
		"192.168.0.0/16", // Common LAN
		"fd00::/8",       // IPv6 private
	})

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Echo:   e,
	}

	// Register global middleware in order of execution.
	app.setupMiddleware()

	// Register the custom error handler that maps AppErrors to HTTP responses.
	e.HTTPErrorHandler = app.errorHandler

	// Serve static files (admin SPA bundle, CSS, fonts).
	e.Static("/static", "static")

	return app
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first, innermost (CSRF) runs last.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders())

	// CORS -- the admin SPA is served from BaseURL; credentials are allowed
	// so the session cookie rides along.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))

	// CSRF -- double-submit cookie pattern on all state-changing requests.
	a.Echo.Use(middleware.CSRF())
}

// layoutInjector copies request data the pages need from the Echo context
// into the request's Go context. Runs after the session middleware.
func (a *App) layoutInjector(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ctx = layouts.SetAppName(ctx, a.Config.AppName)
		ctx = layouts.SetActivePath(ctx, c.Request().URL.Path)
		ctx = layouts.SetCSRFToken(ctx, middleware.GetCSRFToken(c))

		if s := sessions.FromContext(c); s.IsAuthenticated() {
			ctx = layouts.SetIsAuthenticated(ctx, true)
			ctx = layouts.SetUserID(ctx, s.UserID)
			ctx = layouts.SetRole(ctx, s.Role)
		}

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to appropriate HTTP responses.
//
// JSON clients get {"message": ..., "errors": {...}}, the same error bag
// shape the login form uses. Browsers get an error page, except for 401
// which redirects to the login page.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "An unexpected error occurred"
	var fields map[string][]string

	// Check if it's our domain error type.
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
		fields = appErr.Fields

		if appErr.RetryAfter > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfter))
		}

		// Log internal errors with the underlying cause.
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	} else {
		// Check for Echo's built-in HTTP errors (e.g., 404 from router).
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			} else {
				message = defaultErrorMessage(code)
			}
		} else {
			// Truly unexpected error -- log it.
			slog.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
			)
		}
	}

	if middleware.WantsJSON(c) {
		body := map[string]any{"message": message}
		if len(fields) > 0 {
			body["errors"] = fields
		}
		if err := c.JSON(code, body); err != nil {
			slog.Error("writing error response", slog.Any("error", err))
		}
		return
	}

	// Regular browser 401 -- redirect to login page.
	if code == http.StatusUnauthorized {
		_ = c.Redirect(http.StatusFound, auth.LoginPath)
		return
	}

	if err := middleware.Render(c, code, pages.ErrorPage(code, message)); err != nil {
		slog.Error("rendering error page", slog.Any("error", err))
	}
}

// defaultErrorMessage returns a user-friendly message for common HTTP status codes
// when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to log in to access this page."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist or has been moved."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusUnprocessableEntity:
		return "The submitted data could not be processed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	default:
		return "An unexpected error occurred."
	}
}

// Bootstrap runs the startup tasks that need the wired services: the
// optional first admin account and a sweep of expired trusted devices.
// Must be called after RegisterRoutes.
func (a *App) Bootstrap(ctx context.Context) error {
	b := a.Config.Bootstrap
	if err := a.accounts.EnsureAdmin(ctx, b.Name, b.Email, b.Password); err != nil {
		return fmt.Errorf("creating bootstrap admin: %w", err)
	}
	a.purgeExpiredDevices(ctx)
	return nil
}

// purgeExpiredDevices deletes expired trusted device records. Failure is
// logged; expired records are never honored anyway.
func (a *App) purgeExpiredDevices(ctx context.Context) {
	n, err := a.trusted.PurgeExpired(ctx)
	if err != nil {
		slog.Warn("failed to purge expired trusted devices", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Info("purged expired trusted devices", slog.Int64("count", n))
	}
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting Folio server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
