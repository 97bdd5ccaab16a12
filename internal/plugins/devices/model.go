// Package devices remembers the browsers a user signs in from. It holds two
// kinds of records:
//
//   - Trusted devices let a browser skip the two-factor step. The browser
//     keeps a random token in an HTTP-only cookie; only its SHA-256 digest
//     is stored, together with the fingerprint of the browser that earned
//     the trust. A token presented from a different fingerprint is treated
//     as stolen and the record is deleted.
//   - Known devices are every fingerprint a user has logged in from. A login
//     from an unseen fingerprint is recorded and, if the user had logged in
//     before, reported through a Notifier.
package devices

import "time"

// TrustCookieName is the cookie carrying the raw trusted-device token.
const TrustCookieName = "trusted_device_token"

// TrustedDevice is a browser allowed to bypass the two-factor challenge.
type TrustedDevice struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	TokenHash   string     `json:"-"`
	Fingerprint string     `json:"-"`
	UserAgent   string     `json:"userAgent"`
	IPAddress   string     `json:"ipAddress"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Expired reports whether the trust window has closed.
func (d *TrustedDevice) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// KnownDevice is a fingerprint a user has successfully logged in from.
type KnownDevice struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"-"`
	Fingerprint string    `json:"-"`
	UserAgent   string    `json:"userAgent"`
	IPAddress   string    `json:"ipAddress"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// NewDeviceNotice describes a login from an unrecognized device.
type NewDeviceNotice struct {
	UserID    string
	IPAddress string
	UserAgent string
	SeenAt    time.Time
}
