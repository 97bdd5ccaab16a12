// Package audit records security events: logins, two-factor challenges,
// device trust decisions and session terminations. Events are persisted to
// the security_events table and mirrored to the structured log so they
// survive even when the database write fails.
//
// Writing an event is best-effort from the caller's point of view. A login
// must never fail because its audit row could not be written.
package audit

import "time"

// Event types follow the "resource.verb" pattern so the security dashboard
// can filter and group them.
const (
	EventLoginSuccess        = "login.success"
	EventLoginFailed         = "login.failed"
	EventLoginThrottled      = "login.throttled"
	EventLoginUnauthorized   = "login.unauthorized"
	EventTwoFactorChallenged = "login.2fa_challenged"
	EventTwoFactorFailed     = "login.2fa_failed"
	EventTwoFactorThrottled  = "login.2fa_throttled"

	EventFingerprintMismatch = "device.fingerprint_mismatch"
	EventDeviceTokenInvalid  = "device.token_invalid"
	EventDeviceTrusted       = "device.trusted"
	EventDeviceRevoked       = "device.revoked"
	EventDeviceNew           = "device.new"

	EventSessionTerminated = "session.terminated"
	EventSessionAnomaly    = "session.anomaly"
	EventSessionExtended   = "session.extended"

	EventPasswordChanged   = "password.changed"
	EventTwoFactorEnabled  = "2fa.enabled"
	EventTwoFactorDisabled = "2fa.disabled"
	EventLogout            = "logout"
)

// eventTypes is the set accepted by Log and by the list filter.
var eventTypes = map[string]string{
	EventLoginSuccess:        "Login Success",
	EventLoginFailed:         "Login Failed",
	EventLoginThrottled:      "Login Throttled",
	EventLoginUnauthorized:   "Unauthorized Login",
	EventTwoFactorChallenged: "Two-Factor Challenge Issued",
	EventTwoFactorFailed:     "Two-Factor Code Rejected",
	EventTwoFactorThrottled:  "Two-Factor Throttled",
	EventFingerprintMismatch: "Device Fingerprint Mismatch",
	EventDeviceTokenInvalid:  "Invalid Device Token",
	EventDeviceRevoked:       "Device Trust Revoked",
	EventDeviceTrusted:       "Device Trusted",
	EventDeviceNew:           "New Device",
	EventSessionTerminated:   "Session Terminated",
	EventSessionAnomaly:      "Session Anomaly",
	EventSessionExtended:     "Session Extended",
	EventPasswordChanged:     "Password Changed",
	EventTwoFactorEnabled:    "Two-Factor Enabled",
	EventTwoFactorDisabled:   "Two-Factor Disabled",
	EventLogout:              "Logout",
}

// KnownEventType reports whether t is one of the event constants.
func KnownEventType(t string) bool {
	_, ok := eventTypes[t]
	return ok
}

// EventTypeLabel returns a human-readable label for an event type.
func EventTypeLabel(t string) string {
	if label, ok := eventTypes[t]; ok {
		return label
	}
	return t
}

// SecurityEvent is a single recorded security event. UserID is empty for
// events with no resolved account, such as a failed login for an unknown
// email.
type SecurityEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"eventType"`
	UserID    string         `json:"userId,omitempty"`
	IPAddress string         `json:"ipAddress"`
	UserAgent string         `json:"userAgent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`

	// UserName is joined from users for display. Not stored.
	UserName string `json:"userName,omitempty"`
}

// Filter narrows an event listing. Zero values match everything.
type Filter struct {
	EventType string
	UserID    string
	IPAddress string
}

// SecurityStats holds 24-hour aggregates for the security dashboard.
type SecurityStats struct {
	TotalEvents         int `json:"totalEvents"`
	FailedLogins24h     int `json:"failedLogins24h"`
	SuccessfulLogins24h int `json:"successfulLogins24h"`
	Throttled24h        int `json:"throttled24h"`
	Mismatches24h       int `json:"fingerprintMismatches24h"`
	UniqueIPs24h        int `json:"uniqueIps24h"`
}

// EventPage is one page of a filtered event listing.
type EventPage struct {
	Events  []SecurityEvent `json:"events"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"perPage"`
}
