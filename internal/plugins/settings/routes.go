package settings

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the settings API on the guarded security group.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.GET("/settings", h.GetSecurity)
	g.PUT("/settings", h.UpdateSecurity)
}
