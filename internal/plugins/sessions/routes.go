package sessions

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts session management on the authenticated security group.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.GET("/sessions", h.List)
	g.DELETE("/sessions/:id", h.Terminate)
}
