// Package settings manages runtime site settings stored in the site_settings
// key-value table. The security settings (mandatory two-factor for editors,
// per-role concurrent session caps) are read on every admin login and can
// be changed by administrators without a restart. Missing or unparseable
// rows fall back to the process configuration.
package settings

import "time"

// SiteSetting is a single row of the site_settings table.
type SiteSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Setting keys used in the site_settings table.
const (
	KeyRequireTwoFactorEditors = "security.require_2fa_editors"
	keySessionCapPrefix        = "security.session_cap."
)

// SessionCapKey returns the setting key holding the session cap for role.
func SessionCapKey(role string) string {
	return keySessionCapPrefix + role
}

// Roles whose session cap is configurable. Every other role uses the
// default cap.
var cappedRoles = []string{"admin", "editor"}

// SecuritySettings is the typed view of the security-related settings.
type SecuritySettings struct {
	RequireTwoFactorForEditors bool `json:"requireTwoFactorForEditors"`
	// SessionCaps maps a role name to its maximum concurrent sessions.
	SessionCaps map[string]int `json:"sessionCaps"`
}

// Defaults are the values used when a setting row is missing. They come
// from SecurityConfig.
type Defaults struct {
	SessionCapAdmin   int
	SessionCapEditor  int
	SessionCapDefault int
}

func (d Defaults) capFor(role string) int {
	switch role {
	case "admin":
		return d.SessionCapAdmin
	case "editor":
		return d.SessionCapEditor
	default:
		return d.SessionCapDefault
	}
}
