// Package auth authenticates admin-area users. It owns the user accounts,
// password hashing and history, the credential check with per-IP
// throttling, and the login flow that decides between completing a login,
// suspending it behind a two-factor challenge, or forcing two-factor
// enrollment.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// Role is a user's position in the editorial hierarchy.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleEditor     Role = "editor"
	RoleAuthor     Role = "author"
	RoleSubscriber Role = "subscriber"
)

// Capability is a permission checked against a Role.
type Capability string

const (
	// CapAccessAdmin allows signing in to the admin area.
	CapAccessAdmin Capability = "access_admin"
	// CapManageSecurity allows viewing the security log and changing
	// security settings.
	CapManageSecurity Capability = "manage_security"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin:  {CapAccessAdmin, CapManageSecurity},
	RoleEditor: {CapAccessAdmin},
}

// Can reports whether the role grants capability.
func (r Role) Can(capability Capability) bool {
	for _, c := range roleCapabilities[r] {
		if c == capability {
			return true
		}
	}
	return false
}

// User is an account that can sign in. Two-factor material is stored
// sealed; see twofactor.Sealer.
type User struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	Email                  string     `json:"email"`
	PasswordHash           string     `json:"-"`
	Role                   Role       `json:"role"`
	TwoFactorSecret        string     `json:"-"`
	TwoFactorRecoveryCodes string     `json:"-"`
	TwoFactorConfirmedAt   *time.Time `json:"-"`
	EmailVerifiedAt        *time.Time `json:"-"`
	BannedAt               *time.Time `json:"-"`
	BanExpiresAt           *time.Time `json:"-"`
	BanReason              string     `json:"-"`
	LastLoginAt            *time.Time `json:"last_login_at"`
	LastLoginIP            string     `json:"-"`
	CreatedAt              time.Time  `json:"created_at"`
}

// HasConfirmedTwoFactor reports whether the user finished enrolling an
// authenticator. A secret without confirmation does not count.
func (u *User) HasConfirmedTwoFactor() bool {
	return u.TwoFactorSecret != "" && u.TwoFactorConfirmedAt != nil
}

// IsBanned reports whether a ban is in effect at now. A ban without an
// expiry is permanent.
func (u *User) IsBanned(now time.Time) bool {
	if u.BannedAt == nil {
		return false
	}
	return u.BanExpiresAt == nil || now.Before(*u.BanExpiresAt)
}

// IsVerified reports whether the user confirmed their email address.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// PasswordHistoryEntry is a hash the user had before a password change.
type PasswordHistoryEntry struct {
	ID        int64
	UserID    string
	Hash      string
	CreatedAt time.Time
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest holds the data submitted by the admin login form.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Remember bool   `json:"remember" form:"remember"`
}

// ChallengeRequest holds the data submitted by the two-factor challenge
// form. Exactly one of Code and RecoveryCode is expected.
type ChallengeRequest struct {
	Code           string `json:"code" form:"code"`
	RecoveryCode   string `json:"recovery_code" form:"recovery_code"`
	RememberDevice bool   `json:"remember_device" form:"remember_device"`
}

// PasswordChangeRequest holds the data submitted by the change password form.
type PasswordChangeRequest struct {
	CurrentPassword      string `json:"current_password" form:"current_password"`
	Password             string `json:"password" form:"password"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation"`
}

// TwoFactorConfirmRequest holds the code entered to finish enrollment.
type TwoFactorConfirmRequest struct {
	Code string `json:"code" form:"code"`
}

// TwoFactorDisableRequest holds the password confirming 2FA removal.
type TwoFactorDisableRequest struct {
	Password string `json:"password" form:"password"`
}

// --- Service Input DTOs (passed from handler to service) ---

// Client identifies the browser making a request.
type Client struct {
	IP        string
	UserAgent string
}

// CredentialInput is the input to the credential check.
type CredentialInput struct {
	Email    string
	Password string
	Client
}

// LoginInput is the validated input for a login attempt.
type LoginInput struct {
	Email    string
	Password string
	Remember bool
	// TrustToken is the raw trusted_device_token cookie, if any.
	TrustToken string
	Client
}

// ChallengeInput is the validated input for the two-factor step.
type ChallengeInput struct {
	Code           string
	RecoveryCode   string
	RememberDevice bool
	Client
}

// ChangePasswordInput is the validated input for a password change.
type ChangePasswordInput struct {
	UserID           string
	CurrentSessionID string
	CurrentPassword  string
	NewPassword      string
	Confirmation     string
	Client
}

// Outcome is how a login attempt ended.
type Outcome int

const (
	// OutcomeAuthenticated means the session is fully logged in.
	OutcomeAuthenticated Outcome = iota + 1
	// OutcomeChallengeIssued means the login is suspended until a
	// two-factor code is entered. The session is not authenticated.
	OutcomeChallengeIssued
	// OutcomeSetupRequired means the session is logged in but confined to
	// the security settings until two-factor enrollment is confirmed.
	OutcomeSetupRequired
)

// LoginResult tells the handler where to send the browser next.
type LoginResult struct {
	Outcome  Outcome
	Redirect string
	User     *User

	// ClearTrustCookie is set when the presented device token was rejected.
	ClearTrustCookie bool

	// TrustToken and TrustExpires are set when the device was just trusted.
	TrustToken   string
	TrustExpires time.Time
}

// Status is the body of GET /admin/login/status.
type Status struct {
	Authenticated bool           `json:"authenticated"`
	User          *StatusUser    `json:"user,omitempty"`
	Session       *StatusSession `json:"session,omitempty"`
}

// StatusUser is the user part of the login status.
type StatusUser struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	LastLoginAt *time.Time `json:"last_login_at"`
	IsVerified  bool       `json:"is_verified"`
}

// StatusSession is the session part of the login status.
type StatusSession struct {
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}
