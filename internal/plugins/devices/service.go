package devices

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/sanitize"
)

// tokenBytes is the number of random bytes in a raw device token.
const tokenBytes = 32

// ErrMalformedToken is returned by Lookup when the cookie value cannot be a
// token this server issued.
var ErrMalformedToken = errors.New("malformed trusted device token")

// TrustedDeviceService manages browsers that may skip the two-factor step.
type TrustedDeviceService interface {
	// Lookup hashes rawToken and returns the user's unexpired device with
	// that hash, or nil if none matches. A token that fails the format
	// check returns ErrMalformedToken without touching the database.
	Lookup(ctx context.Context, userID, rawToken string) (*TrustedDevice, error)

	// ValidateFingerprint compares the device's stored fingerprint with the
	// current request's in constant time. On mismatch the device is deleted
	// and a device.fingerprint_mismatch event is recorded.
	ValidateFingerprint(ctx context.Context, d *TrustedDevice, expected, ip, userAgent string) (bool, error)

	// Touch records that the device was just used.
	Touch(ctx context.Context, d *TrustedDevice) error

	// Trust creates a device record and returns the raw token to place in
	// the cookie along with its expiry.
	Trust(ctx context.Context, userID, fingerprint, ip, userAgent string) (string, time.Time, error)

	// Revoke deletes one of the user's devices.
	Revoke(ctx context.Context, userID, deviceID string) error

	// RevokeAll deletes every device of the user and returns the count.
	RevokeAll(ctx context.Context, userID string) (int64, error)

	// List returns the user's unexpired devices.
	List(ctx context.Context, userID string) ([]TrustedDevice, error)

	// PurgeExpired deletes every expired device record.
	PurgeExpired(ctx context.Context) (int64, error)
}

type trustedDeviceService struct {
	repo     TrustedDeviceRepository
	security audit.SecurityLogger
	ttl      time.Duration
	now      func() time.Time
}

// NewTrustedDeviceService creates a trusted device service. Devices stay
// trusted for ttl after they are created.
func NewTrustedDeviceService(repo TrustedDeviceRepository, security audit.SecurityLogger, ttl time.Duration) TrustedDeviceService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &trustedDeviceService{repo: repo, security: security, ttl: ttl, now: time.Now}
}

// HashToken returns the hex SHA-256 digest stored in place of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// validToken reports whether raw has the shape of an issued token.
func validToken(raw string) bool {
	if len(raw) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

func (s *trustedDeviceService) Lookup(ctx context.Context, userID, rawToken string) (*TrustedDevice, error) {
	if !validToken(rawToken) {
		return nil, ErrMalformedToken
	}
	d, err := s.repo.FindByTokenHash(ctx, userID, HashToken(rawToken), s.now().UTC())
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	return d, nil
}

func (s *trustedDeviceService) ValidateFingerprint(ctx context.Context, d *TrustedDevice, expected, ip, userAgent string) (bool, error) {
	if subtle.ConstantTimeCompare([]byte(d.Fingerprint), []byte(expected)) == 1 {
		return true, nil
	}

	audit.Record(ctx, s.security, &audit.SecurityEvent{
		EventType: audit.EventFingerprintMismatch,
		UserID:    d.UserID,
		IPAddress: ip,
		UserAgent: userAgent,
		Details: map[string]any{
			"device_id":       d.ID,
			"original_ip":     d.IPAddress,
			"original_agent":  d.UserAgent,
			"device_age_days": int(s.now().Sub(d.CreatedAt).Hours() / 24),
		},
	})

	if err := s.repo.Delete(ctx, d.ID); err != nil {
		return false, apperror.NewInternal(err)
	}
	return false, nil
}

func (s *trustedDeviceService) Touch(ctx context.Context, d *TrustedDevice) error {
	now := s.now().UTC()
	if err := s.repo.Touch(ctx, d.ID, now); err != nil {
		return apperror.NewInternal(err)
	}
	d.LastUsedAt = &now
	return nil
}

func (s *trustedDeviceService) Trust(ctx context.Context, userID, fingerprint, ip, userAgent string) (string, time.Time, error) {
	raw, err := generateToken()
	if err != nil {
		return "", time.Time{}, apperror.NewInternal(fmt.Errorf("generating device token: %w", err))
	}

	now := s.now().UTC()
	d := &TrustedDevice{
		ID:          uuid.New().String(),
		UserID:      userID,
		TokenHash:   HashToken(raw),
		Fingerprint: fingerprint,
		UserAgent:   sanitize.UserAgent(userAgent),
		IPAddress:   ip,
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return "", time.Time{}, apperror.NewInternal(err)
	}

	audit.Record(ctx, s.security, &audit.SecurityEvent{
		EventType: audit.EventDeviceTrusted,
		UserID:    userID,
		IPAddress: ip,
		UserAgent: userAgent,
		Details:   map[string]any{"device_id": d.ID, "expires_at": d.ExpiresAt},
	})
	return raw, d.ExpiresAt, nil
}

func (s *trustedDeviceService) Revoke(ctx context.Context, userID, deviceID string) error {
	if _, err := uuid.Parse(deviceID); err != nil {
		return apperror.NewNotFound("device not found")
	}
	deleted, err := s.repo.DeleteForUser(ctx, userID, deviceID)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if !deleted {
		return apperror.NewNotFound("device not found")
	}
	return nil
}

func (s *trustedDeviceService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, apperror.NewInternal(err)
	}
	return n, nil
}

func (s *trustedDeviceService) List(ctx context.Context, userID string) ([]TrustedDevice, error) {
	list, err := s.repo.ListForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	return list, nil
}

func (s *trustedDeviceService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, apperror.NewInternal(err)
	}
	return n, nil
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
