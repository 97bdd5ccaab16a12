package middleware

import (
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
)

// WantsJSON reports whether the client expects a JSON response: XHR from
// the admin SPA, an explicit Accept header, or a JSON request body.
func WantsJSON(c echo.Context) bool {
	req := c.Request()
	if req.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	if strings.Contains(req.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) {
		return true
	}
	return strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}

// Render writes a templ component to the response with the given status code.
func Render(c echo.Context, statusCode int, component templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(statusCode)
	return component.Render(c.Request().Context(), c.Response().Writer)
}
