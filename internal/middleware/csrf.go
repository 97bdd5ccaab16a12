package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/labstack/echo/v4"
)

// csrfTokenLength is the number of random bytes in a CSRF token (32 bytes = 64 hex chars).
const csrfTokenLength = 32

// CSRFCookieName is the cookie holding the double-submit token.
const CSRFCookieName = "folio_csrf"

// csrfHeaderName is the header the admin front end sends the token in.
const csrfHeaderName = "X-CSRF-Token"

// csrfFormField is the hidden form field for server-rendered forms.
const csrfFormField = "csrf_token"

const csrfContextKey = "csrf_token"

// CSRF returns middleware that implements the double-submit cookie pattern
// on every state-changing request (POST, PUT, PATCH, DELETE).
//
//  1. If no CSRF cookie exists, a token is generated and set.
//  2. Mutating requests must echo the cookie value in the X-CSRF-Token
//     header (XHR from the admin SPA) or the csrf_token form field.
//  3. A mismatch is rejected with 403.
//
// The cookie is readable from JavaScript on purpose; the SPA copies it into
// the header.
func CSRF() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			cookieToken := ""
			if cookie, err := req.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
				cookieToken = cookie.Value
				c.Set(csrfContextKey, cookieToken)
			} else {
				token, genErr := setCSRFCookie(c)
				if genErr != nil {
					return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate CSRF token")
				}
				cookieToken = token
			}

			if isSafeMethod(req.Method) {
				return next(c)
			}

			submitted := req.Header.Get(csrfHeaderName)
			if submitted == "" {
				submitted = req.FormValue(csrfFormField)
			}
			if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(cookieToken)) != 1 {
				return echo.NewHTTPError(http.StatusForbidden, "invalid or missing CSRF token")
			}

			return next(c)
		}
	}
}

// RotateCSRFToken replaces the CSRF token with a fresh one. Called whenever
// the session identifier changes (login, logout) so a token captured before
// authentication is useless afterwards.
func RotateCSRFToken(c echo.Context) error {
	_, err := setCSRFCookie(c)
	return err
}

func setCSRFCookie(c echo.Context) (string, error) {
	token, err := generateCSRFToken()
	if err != nil {
		return "", err
	}
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
	c.Set(csrfContextKey, token)
	return token, nil
}

// isSafeMethod returns true for HTTP methods that should not change state.
func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}

// generateCSRFToken generates a cryptographically random hex-encoded token.
func generateCSRFToken() (string, error) {
	b := make([]byte, csrfTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetCSRFToken returns the CSRF token for the current request, for
// server-rendered forms.
func GetCSRFToken(c echo.Context) string {
	if token, ok := c.Get(csrfContextKey).(string); ok {
		return token
	}
	return ""
}
