package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/folio/internal/middleware"
)

// RegisterRoutes mounts the sign-in flow on the /admin group. These routes
// are public; requireAuth guards only the ones that need a session.
//
// The Redis limiters do the real counting: failed credentials per IP, and
// wrong two-factor codes per account inside the login service. The
// in-process buckets here only keep a single client from hammering the
// endpoints.
func RegisterRoutes(admin *echo.Group, h *Handler, requireAuth echo.MiddlewareFunc) {
	admin.GET("/login", h.LoginForm)
	admin.POST("/login", h.Login, middleware.RateLimit(middleware.RateLimitConfig{
		Requests: 20,
		Window:   time.Minute,
	}))
	admin.GET("/login/status", h.Status)
	admin.POST("/login/extend", h.Extend, requireAuth)

	admin.GET("/two-factor-challenge", h.ChallengeForm)
	admin.POST("/two-factor-challenge", h.Challenge, middleware.RateLimit(middleware.RateLimitConfig{
		Requests: 5,
		Window:   time.Minute,
		Key:      middleware.ByFingerprint,
	}))

	admin.POST("/logout", h.Logout)
}

// RegisterSecurityRoutes mounts the user's own security settings on the
// authenticated security group.
func RegisterSecurityRoutes(g *echo.Group, h *Handler) {
	g.POST("/password", h.ChangePassword)
	g.POST("/two-factor", h.EnableTwoFactor)
	g.POST("/two-factor/confirm", h.ConfirmTwoFactor)
	g.DELETE("/two-factor", h.DisableTwoFactor)
	g.POST("/two-factor/recovery-codes", h.RegenerateRecoveryCodes)
}
