package devices

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/plugins/sessions"
)

// Handler serves the device screens of the security settings.
type Handler struct {
	trusted  TrustedDeviceService
	detector *Detector
	security audit.SecurityLogger
}

// NewHandler creates a devices handler.
func NewHandler(trusted TrustedDeviceService, detector *Detector, security audit.SecurityLogger) *Handler {
	return &Handler{trusted: trusted, detector: detector, security: security}
}

// List returns the user's trusted and known devices
// (GET /admin/security/devices).
func (h *Handler) List(c echo.Context) error {
	s := sessions.FromContext(c)
	if !s.IsAuthenticated() {
		return apperror.NewUnauthorized("authentication required")
	}
	ctx := c.Request().Context()

	trusted, err := h.trusted.List(ctx, s.UserID)
	if err != nil {
		return err
	}
	known, err := h.detector.List(ctx, s.UserID)
	if err != nil {
		return apperror.NewInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"trusted": trusted,
		"known":   known,
	})
}

// Revoke removes trust from one device (DELETE /admin/security/devices/:id).
func (h *Handler) Revoke(c echo.Context) error {
	s := sessions.FromContext(c)
	if !s.IsAuthenticated() {
		return apperror.NewUnauthorized("authentication required")
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	if err := h.trusted.Revoke(ctx, s.UserID, id); err != nil {
		return err
	}

	audit.Record(ctx, h.security, &audit.SecurityEvent{
		EventType: audit.EventDeviceRevoked,
		UserID:    s.UserID,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Details:   map[string]any{"device_id": id},
	})
	return c.NoContent(http.StatusNoContent)
}

// RevokeAll removes trust from every device (DELETE /admin/security/devices).
// The browser's own trust cookie is cleared as well.
func (h *Handler) RevokeAll(c echo.Context) error {
	s := sessions.FromContext(c)
	if !s.IsAuthenticated() {
		return apperror.NewUnauthorized("authentication required")
	}

	ctx := c.Request().Context()
	n, err := h.trusted.RevokeAll(ctx, s.UserID)
	if err != nil {
		return err
	}

	audit.Record(ctx, h.security, &audit.SecurityEvent{
		EventType: audit.EventDeviceRevoked,
		UserID:    s.UserID,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Details:   map[string]any{"all": true, "count": n},
	})

	ClearTrustCookie(c)
	return c.JSON(http.StatusOK, map[string]any{"revoked": n})
}
