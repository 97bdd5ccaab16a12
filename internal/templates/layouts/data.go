// Package layouts passes request-scoped data from handlers and middleware to
// page components. Only simple types are stored so this package never
// imports a plugin.
//
// Data flow: Middleware → Echo Context → layout injector → Go Context → page
package layouts

import "context"

// ctxKey is a private type for context keys to prevent collisions.
type ctxKey string

const (
	keyIsAuthenticated ctxKey = "layout_is_authenticated"
	keyUserID          ctxKey = "layout_user_id"
	keyRole            ctxKey = "layout_role"
	keyCSRFToken       ctxKey = "layout_csrf_token"
	keyActivePath      ctxKey = "layout_active_path"
	keyAppName         ctxKey = "layout_app_name"
)

// SetIsAuthenticated stores whether the request has a logged-in session.
func SetIsAuthenticated(ctx context.Context, authed bool) context.Context {
	return context.WithValue(ctx, keyIsAuthenticated, authed)
}

// SetUserID stores the logged-in user's ID.
func SetUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyUserID, id)
}

// SetRole stores the logged-in user's role.
func SetRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, keyRole, role)
}

// SetCSRFToken stores the token forms must echo back.
func SetCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, keyCSRFToken, token)
}

// SetActivePath stores the request path for navigation highlighting.
func SetActivePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, keyActivePath, path)
}

// SetAppName stores the site name shown in page titles.
func SetAppName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyAppName, name)
}

// IsAuthenticated reports whether the request has a logged-in session.
func IsAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(keyIsAuthenticated).(bool)
	return v
}

// GetUserID returns the logged-in user's ID, or "".
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(keyUserID).(string)
	return v
}

// GetRole returns the logged-in user's role, or "".
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(keyRole).(string)
	return v
}

// GetCSRFToken returns the CSRF token for forms.
func GetCSRFToken(ctx context.Context) string {
	v, _ := ctx.Value(keyCSRFToken).(string)
	return v
}

// GetActivePath returns the request path.
func GetActivePath(ctx context.Context) string {
	v, _ := ctx.Value(keyActivePath).(string)
	return v
}

// GetAppName returns the site name, defaulting to "Folio".
func GetAppName(ctx context.Context) string {
	if v, _ := ctx.Value(keyAppName).(string); v != "" {
		return v
	}
	return "Folio"
}
