package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/keyxmakerx/folio/internal/fingerprint"
)

// Lifecycle moves sessions across authentication boundaries. Every method
// that changes the session identifier leaves CSRF token rotation to the
// HTTP layer, which owns the cookie.
type Lifecycle struct {
	store *Store
	now   func() time.Time
}

// NewLifecycle creates a lifecycle manager over store.
func NewLifecycle(store *Store) *Lifecycle {
	return &Lifecycle{store: store, now: time.Now}
}

// Store returns the underlying session store.
func (l *Lifecycle) Store() *Store { return l.store }

// Establish authenticates s as userID under a new identifier. Any pending
// login or enrollment state from a previous user is dropped.
func (l *Lifecycle) Establish(ctx context.Context, s *Session, userID, role string, remember bool) error {
	if s.IsAuthenticated() && s.UserID != userID {
		if err := l.store.destroyID(ctx, s.UserID, s.ID); err != nil {
			return err
		}
		s.TwoFactorSetupMandatory = false
		s.TwoFactorSetupUserID = ""
		s.TwoFactorSetupTimestamp = 0
	}

	now := l.now().UTC()
	s.ClearPendingChallenge()
	s.UserID = userID
	s.Role = role
	s.AuthenticatedAt = &now
	s.Remember = remember

	if err := l.store.Regenerate(ctx, s); err != nil {
		return fmt.Errorf("regenerating session: %w", err)
	}
	if err := l.store.Index(ctx, s); err != nil {
		return err
	}
	return nil
}

// RecordMetadata stores the initial IP and User-Agent hash of an
// authenticated session.
func (l *Lifecycle) RecordMetadata(ctx context.Context, s *Session, ip, userAgent string) error {
	meta := &Metadata{
		UserID:        s.UserID,
		IP:            ip,
		UserAgentHash: fingerprint.HashUserAgent(userAgent),
		CreatedAt:     l.now().UTC(),
	}
	return l.store.SaveMetadata(ctx, s.ID, meta, l.store.Lifetime(s))
}

// TerminatePreviousSessions destroys the user's oldest sessions until at
// most maxSessions remain including currentID. Returns how many were
// terminated.
func (l *Lifecycle) TerminatePreviousSessions(ctx context.Context, userID, currentID string, maxSessions int) (int, error) {
	if maxSessions < 1 {
		maxSessions = 1
	}

	ids, err := l.store.activeIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	others := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != currentID {
			others = append(others, id)
		}
	}

	excess := len(others) + 1 - maxSessions
	if excess <= 0 {
		return 0, nil
	}

	terminated := 0
	for _, id := range others[:excess] {
		if err := l.store.destroyID(ctx, userID, id); err != nil {
			return terminated, err
		}
		terminated++
	}
	return terminated, nil
}

// Extend moves an authenticated session to a new identifier and restarts
// its lifetime. Returns the new expiry.
func (l *Lifecycle) Extend(ctx context.Context, s *Session) (time.Time, error) {
	if err := l.store.Regenerate(ctx, s); err != nil {
		return time.Time{}, err
	}
	return s.ExpiresAt, nil
}

// Terminate destroys s.
func (l *Lifecycle) Terminate(ctx context.Context, s *Session) error {
	return l.store.Destroy(ctx, s)
}

// CheckAnomaly compares the current request with the session's recorded
// metadata. Sessions without metadata report no anomaly.
func (l *Lifecycle) CheckAnomaly(ctx context.Context, s *Session, ip, userAgent string) (Anomaly, error) {
	meta, err := l.store.LoadMetadata(ctx, s.ID)
	if err != nil || meta == nil {
		return Anomaly{}, err
	}
	return Anomaly{
		UserAgentChanged: meta.UserAgentHash != fingerprint.HashUserAgent(userAgent),
		IPChanged:        meta.IP != ip,
	}, nil
}
