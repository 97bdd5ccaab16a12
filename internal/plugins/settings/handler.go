package settings

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/folio/internal/apperror"
)

// Handler serves the security settings API. Routes are guarded by the
// caller with the manage-security capability.
type Handler struct {
	service SettingsService
}

// NewHandler creates a new settings handler.
func NewHandler(service SettingsService) *Handler {
	return &Handler{service: service}
}

// GetSecurity returns the current security settings (GET /admin/security/settings).
func (h *Handler) GetSecurity(c echo.Context) error {
	s, err := h.service.GetSecuritySettings(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

// UpdateSecurity replaces the security settings (PUT /admin/security/settings).
func (h *Handler) UpdateSecurity(c echo.Context) error {
	var req SecuritySettings
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	ctx := c.Request().Context()
	if err := h.service.UpdateSecuritySettings(ctx, &req); err != nil {
		return err
	}

	s, err := h.service.GetSecuritySettings(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}
