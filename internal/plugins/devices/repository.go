package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TrustedDeviceRepository defines data access for trusted devices.
type TrustedDeviceRepository interface {
	// FindByTokenHash returns the unexpired device for userID with the given
	// token hash, or nil if there is none.
	FindByTokenHash(ctx context.Context, userID, tokenHash string, now time.Time) (*TrustedDevice, error)

	Create(ctx context.Context, d *TrustedDevice) error

	// Delete removes a device by ID. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteForUser removes one device owned by userID and reports whether
	// a row was deleted.
	DeleteForUser(ctx context.Context, userID, id string) (bool, error)

	// DeleteAllForUser removes every device of userID and returns the count.
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	Touch(ctx context.Context, id string, at time.Time) error

	// ListForUser returns the user's unexpired devices, newest first.
	ListForUser(ctx context.Context, userID string, now time.Time) ([]TrustedDevice, error)

	// DeleteExpired removes every expired device and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type trustedDeviceRepository struct {
	db *sql.DB
}

// NewTrustedDeviceRepository creates a trusted device repository.
func NewTrustedDeviceRepository(db *sql.DB) TrustedDeviceRepository {
	return &trustedDeviceRepository{db: db}
}

const trustedDeviceColumns = `id, user_id, token_hash, fingerprint, user_agent, ip_address,
	expires_at, last_used_at, created_at`

func scanTrustedDevice(row interface{ Scan(...any) error }) (*TrustedDevice, error) {
	var d TrustedDevice
	var lastUsed sql.NullTime
	if err := row.Scan(
		&d.ID, &d.UserID, &d.TokenHash, &d.Fingerprint, &d.UserAgent, &d.IPAddress,
		&d.ExpiresAt, &lastUsed, &d.CreatedAt,
	); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		d.LastUsedAt = &lastUsed.Time
	}
	return &d, nil
}

func (r *trustedDeviceRepository) FindByTokenHash(ctx context.Context, userID, tokenHash string, now time.Time) (*TrustedDevice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+trustedDeviceColumns+` FROM trusted_devices
		 WHERE user_id = ? AND token_hash = ? AND expires_at > ?`,
		userID, tokenHash, now,
	)
	d, err := scanTrustedDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying trusted device: %w", err)
	}
	return d, nil
}

func (r *trustedDeviceRepository) Create(ctx context.Context, d *TrustedDevice) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trusted_devices (id, user_id, token_hash, fingerprint, user_agent, ip_address, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.TokenHash, d.Fingerprint, d.UserAgent, d.IPAddress, d.ExpiresAt, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting trusted device: %w", err)
	}
	return nil
}

func (r *trustedDeviceRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM trusted_devices WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting trusted device: %w", err)
	}
	return nil
}

func (r *trustedDeviceRepository) DeleteForUser(ctx context.Context, userID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("deleting trusted device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking deleted rows: %w", err)
	}
	return n > 0, nil
}

func (r *trustedDeviceRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trusted_devices WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting trusted devices: %w", err)
	}
	return res.RowsAffected()
}

func (r *trustedDeviceRepository) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE trusted_devices SET last_used_at = ? WHERE id = ?`, at, id); err != nil {
		return fmt.Errorf("touching trusted device: %w", err)
	}
	return nil
}

func (r *trustedDeviceRepository) ListForUser(ctx context.Context, userID string, now time.Time) ([]TrustedDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+trustedDeviceColumns+` FROM trusted_devices
		 WHERE user_id = ? AND expires_at > ?
		 ORDER BY created_at DESC`,
		userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("listing trusted devices: %w", err)
	}
	defer rows.Close()

	var out []TrustedDevice
	for rows.Next() {
		d, err := scanTrustedDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trusted device: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *trustedDeviceRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trusted_devices WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("purging expired trusted devices: %w", err)
	}
	return res.RowsAffected()
}

// KnownDeviceRepository defines data access for the user_devices table.
type KnownDeviceRepository interface {
	// Find returns the known device for userID and fingerprint, or nil.
	Find(ctx context.Context, userID, fingerprint string) (*KnownDevice, error)

	// CountForUser returns how many devices the user has logged in from.
	CountForUser(ctx context.Context, userID string) (int, error)

	// Insert records a new device. Returns an error satisfying
	// database.IsDuplicateEntry if a concurrent login inserted it first.
	Insert(ctx context.Context, d *KnownDevice) error

	// MarkSeen updates the last-seen time and address of a known device.
	MarkSeen(ctx context.Context, id int64, ip string, at time.Time) error

	ListForUser(ctx context.Context, userID string) ([]KnownDevice, error)
}

type knownDeviceRepository struct {
	db *sql.DB
}

// NewKnownDeviceRepository creates a known device repository.
func NewKnownDeviceRepository(db *sql.DB) KnownDeviceRepository {
	return &knownDeviceRepository{db: db}
}

func (r *knownDeviceRepository) Find(ctx context.Context, userID, fingerprint string) (*KnownDevice, error) {
	var d KnownDevice
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, fingerprint, user_agent, ip_address, first_seen_at, last_seen_at
		 FROM user_devices WHERE user_id = ? AND fingerprint = ?`,
		userID, fingerprint,
	).Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.UserAgent, &d.IPAddress, &d.FirstSeenAt, &d.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying known device: %w", err)
	}
	return &d, nil
}

func (r *knownDeviceRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_devices WHERE user_id = ?`, userID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting known devices: %w", err)
	}
	return n, nil
}

func (r *knownDeviceRepository) Insert(ctx context.Context, d *KnownDevice) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO user_devices (user_id, fingerprint, user_agent, ip_address, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.UserID, d.Fingerprint, d.UserAgent, d.IPAddress, d.FirstSeenAt, d.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("inserting known device: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		d.ID = id
	}
	return nil
}

func (r *knownDeviceRepository) MarkSeen(ctx context.Context, id int64, ip string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE user_devices SET last_seen_at = ?, ip_address = ? WHERE id = ?`, at, ip, id); err != nil {
		return fmt.Errorf("updating known device: %w", err)
	}
	return nil
}

func (r *knownDeviceRepository) ListForUser(ctx context.Context, userID string) ([]KnownDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, fingerprint, user_agent, ip_address, first_seen_at, last_seen_at
		 FROM user_devices WHERE user_id = ? ORDER BY last_seen_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing known devices: %w", err)
	}
	defer rows.Close()

	var out []KnownDevice
	for rows.Next() {
		var d KnownDevice
		if err := rows.Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.UserAgent, &d.IPAddress, &d.FirstSeenAt, &d.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scanning known device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
