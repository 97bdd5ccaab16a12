package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keyxmakerx/folio/internal/apperror"
)

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, id, ip string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// Password history, newest first.
	ListPasswordHistory(ctx context.Context, userID string) ([]PasswordHistoryEntry, error)
	AddPasswordHistory(ctx context.Context, entry *PasswordHistoryEntry) error
	DeletePasswordHistory(ctx context.Context, userID string, ids []int64) error

	// Two-factor enrollment. Values are already sealed.
	SetTwoFactorSecret(ctx context.Context, id, sealedSecret string) error
	ConfirmTwoFactor(ctx context.Context, id, sealedCodes string, at time.Time) error
	UpdateRecoveryCodes(ctx context.Context, id, sealedCodes string) error
	ClearTwoFactor(ctx context.Context, id string) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, name, email, password_hash, role,
	two_factor_secret, two_factor_recovery_codes, two_factor_confirmed_at,
	email_verified_at, banned_at, ban_expires_at, ban_reason,
	last_login_at, last_login_ip, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u                   User
		secret, codes       sql.NullString
		banReason, lastIP   sql.NullString
		confirmed, verified sql.NullTime
		banned, banExpires  sql.NullTime
		lastLogin           sql.NullTime
	)
	if err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
		&secret, &codes, &confirmed,
		&verified, &banned, &banExpires, &banReason,
		&lastLogin, &lastIP, &u.CreatedAt,
	); err != nil {
		return nil, err
	}
	u.TwoFactorSecret = secret.String
	u.TwoFactorRecoveryCodes = codes.String
	u.BanReason = banReason.String
	u.LastLoginIP = lastIP.String
	u.TwoFactorConfirmedAt = nullTimePtr(confirmed)
	u.EmailVerifiedAt = nullTimePtr(verified)
	u.BannedAt = nullTimePtr(banned)
	u.BanExpiresAt = nullTimePtr(banExpires)
	u.LastLoginAt = nullTimePtr(lastLogin)
	return &u, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new user row into the users table.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, name, email, password_hash, role, email_verified_at, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.EmailVerifiedAt,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// FindByID retrieves a user by their UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return user, nil
}

// FindByEmail retrieves a user by their email address.
// Returns apperror.NotFound if no user exists with this email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return user, nil
}

// UpdateLastLogin records when and from where the user last signed in.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id, ip string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, last_login_ip = ? WHERE id = ?`, at, ip, id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// UpdatePassword replaces the user's password hash.
func (r *userRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return nil
}

// ListPasswordHistory returns the user's previous password hashes, newest first.
func (r *userRepository) ListPasswordHistory(ctx context.Context, userID string) ([]PasswordHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, password_hash, created_at FROM password_histories
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing password history: %w", err)
	}
	defer rows.Close()

	var out []PasswordHistoryEntry
	for rows.Next() {
		var e PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Hash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning password history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddPasswordHistory appends a previous password hash.
func (r *userRepository) AddPasswordHistory(ctx context.Context, entry *PasswordHistoryEntry) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO password_histories (user_id, password_hash, created_at) VALUES (?, ?, ?)`,
		entry.UserID, entry.Hash, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting password history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// DeletePasswordHistory removes the given history rows of one user.
func (r *userRepository) DeletePasswordHistory(ctx context.Context, userID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM password_histories WHERE user_id = ? AND id IN (?` + repeatPlaceholders(len(ids)-1) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("pruning password history: %w", err)
	}
	return nil
}

func repeatPlaceholders(n int) string {
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		out = append(out, ", ?"...)
	}
	return string(out)
}

// SetTwoFactorSecret stores a new, unconfirmed secret. Any earlier
// confirmation and recovery codes are dropped.
func (r *userRepository) SetTwoFactorSecret(ctx context.Context, id, sealedSecret string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET two_factor_secret = ?, two_factor_recovery_codes = NULL,
		        two_factor_confirmed_at = NULL
		 WHERE id = ?`, nullString(sealedSecret), id)
	if err != nil {
		return fmt.Errorf("setting two-factor secret: %w", err)
	}
	return nil
}

// ConfirmTwoFactor marks the secret confirmed and stores the recovery codes.
func (r *userRepository) ConfirmTwoFactor(ctx context.Context, id, sealedCodes string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET two_factor_confirmed_at = ?, two_factor_recovery_codes = ? WHERE id = ?`,
		at, nullString(sealedCodes), id)
	if err != nil {
		return fmt.Errorf("confirming two-factor: %w", err)
	}
	return nil
}

// UpdateRecoveryCodes replaces the sealed recovery codes.
func (r *userRepository) UpdateRecoveryCodes(ctx context.Context, id, sealedCodes string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET two_factor_recovery_codes = ? WHERE id = ?`, nullString(sealedCodes), id)
	if err != nil {
		return fmt.Errorf("updating recovery codes: %w", err)
	}
	return nil
}

// ClearTwoFactor removes all two-factor material from the user.
func (r *userRepository) ClearTwoFactor(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET two_factor_secret = NULL, two_factor_recovery_codes = NULL,
		        two_factor_confirmed_at = NULL
		 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clearing two-factor: %w", err)
	}
	return nil
}
