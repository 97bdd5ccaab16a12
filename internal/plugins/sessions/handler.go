package sessions

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
)

// Handler serves the "active sessions" screen of the security settings.
// Routes require an authenticated session.
type Handler struct {
	store    *Store
	security audit.SecurityLogger
}

// NewHandler creates a session management handler.
func NewHandler(store *Store, security audit.SecurityLogger) *Handler {
	return &Handler{store: store, security: security}
}

// List returns the current user's active sessions (GET /admin/security/sessions).
func (h *Handler) List(c echo.Context) error {
	s := FromContext(c)
	if !s.IsAuthenticated() {
		return apperror.NewUnauthorized("authentication required")
	}

	infos, err := h.store.ListForUser(c.Request().Context(), s.UserID, s.ID)
	if err != nil {
		return apperror.NewInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": infos})
}

// Terminate ends one of the user's other sessions
// (DELETE /admin/security/sessions/:id). The current session is ended
// through logout instead.
func (h *Handler) Terminate(c echo.Context) error {
	s := FromContext(c)
	if !s.IsAuthenticated() {
		return apperror.NewUnauthorized("authentication required")
	}

	handle := c.Param("id")
	if handle == Handle(s.ID) {
		return apperror.NewBadRequest("use logout to end the current session")
	}

	ctx := c.Request().Context()
	if _, err := h.store.DestroyByHandle(ctx, s.UserID, handle); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperror.NewNotFound("session not found")
		}
		return apperror.NewInternal(err)
	}

	audit.Record(ctx, h.security, &audit.SecurityEvent{
		EventType: audit.EventSessionTerminated,
		UserID:    s.UserID,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Details:   map[string]any{"reason": "user_terminated", "session": handle},
	})
	return c.NoContent(http.StatusNoContent)
}
