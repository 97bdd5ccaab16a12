package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler serves the security event dashboard API.
type Handler struct {
	service SecurityLogger
}

// NewHandler creates a new audit handler.
func NewHandler(service SecurityLogger) *Handler {
	return &Handler{service: service}
}

// ListEvents returns a page of security events
// (GET /admin/security/events?type=&user=&ip=&page=).
func (h *Handler) ListEvents(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))

	result, err := h.service.ListEvents(c.Request().Context(), Filter{
		EventType: c.QueryParam("type"),
		UserID:    c.QueryParam("user"),
		IPAddress: c.QueryParam("ip"),
	}, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Stats returns dashboard aggregates (GET /admin/security/events/stats).
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.service.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
