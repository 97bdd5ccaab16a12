package devices

import (
	"context"
	"log/slog"
	"time"

	"github.com/keyxmakerx/folio/internal/database"
	"github.com/keyxmakerx/folio/internal/fingerprint"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/sanitize"
)

// Notifier tells a user about a login from a device they have not used
// before. Delivery (mail, push) is up to the implementation.
type Notifier interface {
	NotifyNewDevice(ctx context.Context, notice NewDeviceNotice) error
}

// LogNotifier writes new-device notices to the structured log. It is the
// default until an outbound mail channel exists.
type LogNotifier struct{}

// NotifyNewDevice implements Notifier.
func (LogNotifier) NotifyNewDevice(ctx context.Context, n NewDeviceNotice) error {
	slog.InfoContext(ctx, "login from new device",
		slog.String("user_id", n.UserID),
		slog.String("ip", n.IPAddress),
		slog.String("user_agent", n.UserAgent),
	)
	return nil
}

// Detector registers the devices a user logs in from.
type Detector struct {
	repo     KnownDeviceRepository
	notifier Notifier
	security audit.SecurityLogger
	now      func() time.Time
}

// NewDetector creates a device detector. A nil notifier falls back to
// LogNotifier.
func NewDetector(repo KnownDeviceRepository, notifier Notifier, security audit.SecurityLogger) *Detector {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Detector{repo: repo, notifier: notifier, security: security, now: time.Now}
}

// Detect records the device identified by ip and userAgent for userID.
// Returns true when the device had not been seen before. The user is
// notified only if they had logged in from some other device earlier; a
// first-ever login is not news.
func (d *Detector) Detect(ctx context.Context, userID, ip, userAgent string) (bool, error) {
	fp := fingerprint.Basic(ip, userAgent)
	now := d.now().UTC()

	known, err := d.repo.Find(ctx, userID, fp)
	if err != nil {
		return false, err
	}
	if known != nil {
		return false, d.repo.MarkSeen(ctx, known.ID, ip, now)
	}

	previous, err := d.repo.CountForUser(ctx, userID)
	if err != nil {
		return false, err
	}

	ua := sanitize.UserAgent(userAgent)
	err = d.repo.Insert(ctx, &KnownDevice{
		UserID:      userID,
		Fingerprint: fp,
		UserAgent:   ua,
		IPAddress:   ip,
		FirstSeenAt: now,
		LastSeenAt:  now,
	})
	if database.IsDuplicateEntry(err) {
		// A concurrent login from the same browser registered it first.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	audit.Record(ctx, d.security, &audit.SecurityEvent{
		EventType: audit.EventDeviceNew,
		UserID:    userID,
		IPAddress: ip,
		UserAgent: userAgent,
		Details:   map[string]any{"known_devices": previous},
	})

	if previous > 0 {
		if err := d.notifier.NotifyNewDevice(ctx, NewDeviceNotice{
			UserID:    userID,
			IPAddress: ip,
			UserAgent: ua,
			SeenAt:    now,
		}); err != nil {
			return true, err
		}
	}
	return true, nil
}

// List returns the devices the user has logged in from.
func (d *Detector) List(ctx context.Context, userID string) ([]KnownDevice, error) {
	return d.repo.ListForUser(ctx, userID)
}
