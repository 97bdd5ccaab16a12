// Package twofactor implements the second step of an admin login: the
// signed challenge that bridges password verification and code entry, TOTP
// codes, single-use recovery codes, and the sealing of TOTP secrets at rest.
//
// A login attempt moves through these states:
//
//	credentials_verified -> challenge_issued -> verified
//	                                         -> abandoned
//
// A challenge is abandoned when a new login overwrites it, when the session
// expires, or when it outlives the challenge TTL.
package twofactor

import "time"

// State is the position of a login attempt in the two-factor flow.
type State string

const (
	StateCredentialsVerified State = "credentials_verified"
	StateChallengeIssued     State = "challenge_issued"
	StateVerified            State = "verified"
	StateAbandoned           State = "abandoned"
)

// Challenge is the nonce and signature stored in the pending login state.
// The signature binds the nonce to the user's password hash at issue time.
type Challenge struct {
	Nonce     string
	Signature string
	IssuedAt  time.Time
}

// Enrollment is returned when a user starts setting up an authenticator.
type Enrollment struct {
	// Secret is the base32 TOTP secret, shown for manual entry.
	Secret string `json:"secret"`
	// URL is the otpauth:// URI encoded in the setup QR code.
	URL string `json:"otpauthUrl"`
}
