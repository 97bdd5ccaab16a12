package audit

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the event dashboard on g, which the caller has
// already guarded with authentication and the manage-security capability.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.GET("/events", h.ListEvents)
	g.GET("/events/stats", h.Stats)
}
