// Package sessions stores server-side HTTP sessions in Redis and manages
// their lifecycle across authentication boundaries: identifier regeneration,
// per-session metadata used for anomaly detection, and the per-user index
// that enforces a cap on concurrently active sessions.
//
// A session is a typed struct serialized as JSON under session:<id> with a
// TTL equal to its remaining lifetime. The pending two-factor login state
// lives in the same struct, so it disappears with the session and is
// overwritten by the next login attempt.
package sessions

import "time"

// CookieName is the cookie carrying the session identifier.
const CookieName = "folio_session"

// Session is the server-side state attached to a browser. The JSON names of
// the login fields are shared with the admin front end and must not change.
type Session struct {
	ID string `json:"-"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`

	// Authenticated identity. Empty UserID means guest.
	UserID          string     `json:"user_id,omitempty"`
	Role            string     `json:"role,omitempty"`
	AuthenticatedAt *time.Time `json:"authenticated_at,omitempty"`
	Remember        bool       `json:"remember,omitempty"`

	// IntendedURL is where to send the user after login completes.
	IntendedURL string `json:"url.intended,omitempty"`

	// Pending two-factor login.
	TwoFactorRequired  bool   `json:"2fa_required,omitempty"`
	LoginID            string `json:"login.id,omitempty"`
	LoginRemember      bool   `json:"login.remember,omitempty"`
	ChallengeNonce     string `json:"login.challenge_nonce,omitempty"`
	ChallengeSignature string `json:"login.challenge_signature,omitempty"`
	LoginAttemptTime   int64  `json:"login.attempt_time,omitempty"`

	// Mandatory two-factor enrollment.
	TwoFactorSetupMandatory bool   `json:"2fa_setup_mandatory,omitempty"`
	TwoFactorSetupUserID    string `json:"2fa_setup_user_id,omitempty"`
	TwoFactorSetupTimestamp int64  `json:"2fa_setup_timestamp,omitempty"`

	dirty     bool
	destroyed bool
}

// PendingChallenge is the typed view of the pending login fields.
type PendingChallenge struct {
	UserID      string
	Remember    bool
	Nonce       string
	Signature   string
	AttemptTime time.Time
}

// IsAuthenticated reports whether the session belongs to a logged-in user.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != "" && s.AuthenticatedAt != nil
}

// MarkDirty flags the session for persistence at the end of the request.
func (s *Session) MarkDirty() { s.dirty = true }

// Dirty reports whether the session has unsaved changes.
func (s *Session) Dirty() bool { return s.dirty }

// SetPendingChallenge records a suspended login awaiting a second factor.
// Any earlier pending challenge is overwritten, which abandons it.
func (s *Session) SetPendingChallenge(p PendingChallenge) {
	s.TwoFactorRequired = true
	s.LoginID = p.UserID
	s.LoginRemember = p.Remember
	s.ChallengeNonce = p.Nonce
	s.ChallengeSignature = p.Signature
	s.LoginAttemptTime = p.AttemptTime.Unix()
	s.dirty = true
}

// PendingChallenge returns the pending login, or false if none is stored.
func (s *Session) PendingChallenge() (PendingChallenge, bool) {
	if s == nil || !s.TwoFactorRequired || s.LoginID == "" || s.ChallengeNonce == "" {
		return PendingChallenge{}, false
	}
	return PendingChallenge{
		UserID:      s.LoginID,
		Remember:    s.LoginRemember,
		Nonce:       s.ChallengeNonce,
		Signature:   s.ChallengeSignature,
		AttemptTime: time.Unix(s.LoginAttemptTime, 0).UTC(),
	}, true
}

// ClearPendingChallenge removes the pending login fields.
func (s *Session) ClearPendingChallenge() {
	s.TwoFactorRequired = false
	s.LoginID = ""
	s.LoginRemember = false
	s.ChallengeNonce = ""
	s.ChallengeSignature = ""
	s.LoginAttemptTime = 0
	s.dirty = true
}

// RequireTwoFactorSetup flags the session so the user is kept on the
// security settings pages until enrollment is confirmed.
func (s *Session) RequireTwoFactorSetup(userID string, now time.Time) {
	s.TwoFactorSetupMandatory = true
	s.TwoFactorSetupUserID = userID
	s.TwoFactorSetupTimestamp = now.Unix()
	s.dirty = true
}

// ClearTwoFactorSetup removes the mandatory enrollment flag.
func (s *Session) ClearTwoFactorSetup() {
	s.TwoFactorSetupMandatory = false
	s.TwoFactorSetupUserID = ""
	s.TwoFactorSetupTimestamp = 0
	s.dirty = true
}

// PullIntendedURL returns and clears the intended URL, or fallback if none.
func (s *Session) PullIntendedURL(fallback string) string {
	u := s.IntendedURL
	if u == "" {
		return fallback
	}
	s.IntendedURL = ""
	s.dirty = true
	return u
}

// Metadata is recorded when a login completes and is used to detect a
// session being replayed from a different browser.
type Metadata struct {
	UserID        string    `json:"user_id"`
	IP            string    `json:"ip"`
	UserAgentHash string    `json:"ua_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// Anomaly describes how a request differs from the session's metadata.
type Anomaly struct {
	UserAgentChanged bool
	IPChanged        bool
}

// Suspicious reports whether the anomaly warrants terminating the session.
// An IP change alone is common on mobile networks and is only noted.
func (a Anomaly) Suspicious() bool { return a.UserAgentChanged }

// Info summarizes an active session for the session management screen.
type Info struct {
	ID           string    `json:"id"`
	Current      bool      `json:"current"`
	IP           string    `json:"ip"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}
