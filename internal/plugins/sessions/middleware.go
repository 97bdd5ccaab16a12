package sessions

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/labstack/echo/v4"
)

const contextKeySession = "session"

// Middleware loads the session named by the cookie, or starts a guest
// session, and attaches it to the Echo context. A session left dirty by the
// handler is saved just before the response headers are written.
func Middleware(store *Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			var sess *Session
			if cookie, err := c.Cookie(CookieName); err == nil && cookie.Value != "" {
				loaded, loadErr := store.Load(ctx, cookie.Value)
				switch {
				case loadErr == nil:
					sess = loaded
				case errors.Is(loadErr, ErrNotFound):
					// Stale cookie; a fresh guest session replaces it below.
				default:
					return apperror.NewInternal(loadErr)
				}
			}
			if sess == nil {
				fresh, err := store.New()
				if err != nil {
					return apperror.NewInternal(err)
				}
				sess = fresh
			}
			c.Set(contextKeySession, sess)

			c.Response().Before(func() {
				s := FromContext(c)
				if s == nil || !s.dirty || s.destroyed {
					return
				}
				if err := store.Save(c.Request().Context(), s); err != nil {
					slog.Error("saving session failed", slog.Any("error", err))
					return
				}
				store.WriteCookie(c, s)
			})

			return next(c)
		}
	}
}

// FromContext returns the request's session, or nil if the session
// middleware did not run.
func FromContext(c echo.Context) *Session {
	s, ok := c.Get(contextKeySession).(*Session)
	if !ok {
		return nil
	}
	return s
}

// Replace swaps the request's session, e.g. after logout.
func Replace(c echo.Context, s *Session) {
	c.Set(contextKeySession, s)
}

// Persist saves the session now and writes its cookie. Handlers call this
// when a failed save must fail the request instead of being logged.
func (st *Store) Persist(c echo.Context, s *Session) error {
	if err := st.Save(c.Request().Context(), s); err != nil {
		return err
	}
	st.WriteCookie(c, s)
	return nil
}

// WriteCookie sets the session cookie. Remembered sessions get a persistent
// cookie; everything else is a browser-session cookie.
func (st *Store) WriteCookie(c echo.Context, s *Session) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   st.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if s.Remember {
		cookie.Expires = s.ExpiresAt
	}
	c.SetCookie(cookie)
}

// ClearCookie expires the session cookie in the browser.
func (st *Store) ClearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   st.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
