package devices

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts device management on the authenticated security group.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.GET("/devices", h.List)
	g.DELETE("/devices", h.RevokeAll)
	g.DELETE("/devices/:id", h.Revoke)
}
