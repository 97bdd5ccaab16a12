package devices

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// trustCookiePath scopes the token to the admin area, where login lives.
const trustCookiePath = "/admin"

// SetTrustCookie stores the raw device token in an HTTP-only cookie that
// expires together with the device record.
func SetTrustCookie(c echo.Context, raw string, expires time.Time, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     TrustCookieName,
		Value:    raw,
		Path:     trustCookiePath,
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearTrustCookie removes the device token from the browser.
func ClearTrustCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     TrustCookieName,
		Value:    "",
		Path:     trustCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// TrustToken returns the raw token from the request cookie, or "".
func TrustToken(c echo.Context) string {
	cookie, err := c.Cookie(TrustCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
