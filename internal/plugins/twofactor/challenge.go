package twofactor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// nonceBytes is the number of random bytes in a challenge nonce.
const nonceBytes = 32

// Manager issues and verifies two-factor login challenges.
type Manager struct {
	key    []byte
	ttl    time.Duration
	random io.Reader
	now    func() time.Time
}

// NewManager creates a challenge manager. The HMAC key is derived from the
// application secret with a "|2fa" suffix so it is never shared with other
// uses of the secret. Challenges older than ttl are stale.
func NewManager(appSecret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{
		key:    []byte(appSecret + "|2fa"),
		ttl:    ttl,
		random: rand.Reader,
		now:    time.Now,
	}
}

// TTL returns how long an issued challenge stays valid.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue generates a fresh nonce and signs it together with passwordHash.
// A failure of the random source fails the challenge; there is no weaker
// fallback.
func (m *Manager) Issue(passwordHash string) (Challenge, error) {
	b := make([]byte, nonceBytes)
	if _, err := io.ReadFull(m.random, b); err != nil {
		return Challenge{}, fmt.Errorf("generating challenge nonce: %w", err)
	}
	nonce := hex.EncodeToString(b)
	return Challenge{
		Nonce:     nonce,
		Signature: m.Sign(nonce, passwordHash),
		IssuedAt:  m.now().UTC(),
	}, nil
}

// Sign returns hex(HMAC-SHA256(nonce + "|" + passwordHash)).
func (m *Manager) Sign(nonce, passwordHash string) string {
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(nonce + "|" + passwordHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature over the user's current password
// hash and compares it in constant time. A password change between issue
// and verification makes this return false.
func (m *Manager) VerifySignature(nonce, signature, currentPasswordHash string) bool {
	if nonce == "" || signature == "" {
		return false
	}
	expected := m.Sign(nonce, currentPasswordHash)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// IsStale reports whether a challenge issued at issuedAt has outlived the TTL.
func (m *Manager) IsStale(issuedAt time.Time) bool {
	if issuedAt.IsZero() {
		return true
	}
	return m.now().Sub(issuedAt) > m.ttl
}
