package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/middleware"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/plugins/sessions"
)

// LoginPath is the admin sign-in page.
const LoginPath = "/admin/login"

// RequireAuth returns middleware that admits only authenticated sessions.
// Each request is compared with the session's recorded metadata: a changed
// User-Agent ends the session, a changed IP is only noted. Browsers are
// redirected to the login page; JSON clients get a 401.
func RequireAuth(lifecycle *sessions.Lifecycle, security audit.SecurityLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s := sessions.FromContext(c)
			if s == nil {
				return apperror.NewMissingContext()
			}
			if !s.IsAuthenticated() {
				return handleUnauthenticated(c, s)
			}

			ctx := c.Request().Context()
			ip, ua := c.RealIP(), c.Request().UserAgent()
			anomaly, err := lifecycle.CheckAnomaly(ctx, s, ip, ua)
			if err != nil {
				slog.Warn("session anomaly check failed",
					slog.String("user_id", s.UserID),
					slog.Any("error", err),
				)
			}
			if anomaly.Suspicious() {
				audit.Record(ctx, security, &audit.SecurityEvent{
					EventType: audit.EventSessionAnomaly,
					UserID:    s.UserID,
					IPAddress: ip,
					UserAgent: ua,
					Details:   map[string]any{"user_agent_changed": true, "ip_changed": anomaly.IPChanged},
				})
				userID := s.UserID
				if err := lifecycle.Terminate(ctx, s); err != nil {
					return apperror.NewInternal(err)
				}
				lifecycle.Store().ClearCookie(c)
				slog.Warn("session terminated after user agent change", slog.String("user_id", userID))

				fresh, err := lifecycle.Store().New()
				if err != nil {
					return apperror.NewInternal(err)
				}
				sessions.Replace(c, fresh)
				return handleUnauthenticated(c, fresh)
			}
			if anomaly.IPChanged {
				slog.Debug("session ip changed",
					slog.String("user_id", s.UserID),
					slog.String("ip", ip),
				)
			}

			return next(c)
		}
	}
}

// handleUnauthenticated returns 401 for JSON clients. Browsers are sent to
// the login page, remembering where they were going.
func handleUnauthenticated(c echo.Context, s *sessions.Session) error {
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusUnauthorized, map[string]any{
			"authenticated": false,
			"message":       "Unauthenticated.",
		})
	}
	if c.Request().Method == http.MethodGet {
		s.IntendedURL = c.Request().URL.RequestURI()
		s.MarkDirty()
	}
	return c.Redirect(http.StatusFound, LoginPath)
}

// RequireCapability returns middleware that admits only sessions whose role
// grants capability. Must run after RequireAuth.
func RequireCapability(capability Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s := sessions.FromContext(c)
			if !s.IsAuthenticated() {
				return apperror.NewUnauthorized("authentication required")
			}
			if !Role(s.Role).Can(capability) {
				return apperror.NewForbidden("you do not have permission to perform this action")
			}
			return next(c)
		}
	}
}

// RequireTwoFactorSetup returns middleware that keeps a user with a pending
// mandatory enrollment on the security settings pages under allowedPrefix.
func RequireTwoFactorSetup(allowedPrefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s := sessions.FromContext(c)
			if s == nil || !s.TwoFactorSetupMandatory || s.TwoFactorSetupUserID != s.UserID {
				return next(c)
			}

			path := c.Request().URL.Path
			if path == allowedPrefix || strings.HasPrefix(path, allowedPrefix+"/") || path == LogoutPath {
				return next(c)
			}

			if middleware.WantsJSON(c) {
				return c.JSON(http.StatusForbidden, map[string]any{
					"message":                   "Two-factor authentication must be enabled before continuing.",
					"two_factor_setup_required": true,
					"redirect":                  allowedPrefix,
				})
			}
			return c.Redirect(http.StatusFound, allowedPrefix)
		}
	}
}

func clientFrom(c echo.Context) Client {
	return Client{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}
