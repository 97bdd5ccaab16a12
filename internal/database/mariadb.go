// Package database provides connection setup for MariaDB and Redis.
// Both connections are created once at startup and shared by the auth,
// device, audit and settings plugins. This package owns the connection
// lifecycle (open, configure pool, ping, close) and schema migrations.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/folio/internal/config"
)

// mariadbMaxRetries bounds how long startup waits for the database.
const mariadbMaxRetries = 10

// NewMariaDB opens the MariaDB pool described by cfg and blocks until the
// server answers a ping, retrying with exponential backoff. The database
// container often starts slower than the app during compose cold-starts.
func NewMariaDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitForPing(db, mariadbMaxRetries, time.Second); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// waitForPing pings db until it succeeds or the attempts run out. The
// backoff doubles after each failure and is capped at 30 seconds.
func waitForPing(db *sql.DB, attempts int, backoff time.Duration) error {
	var pingErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = db.PingContext(ctx)
		cancel()

		if pingErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		slog.Warn("mariadb not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", attempts),
			slog.Duration("backoff", backoff),
			slog.Any("error", pingErr),
		)
		time.Sleep(backoff)
		backoff = min(backoff*2, 30*time.Second)
	}
	return fmt.Errorf("pinging mariadb after %d attempts: %w", attempts, pingErr)
}

// erDupEntry is the MariaDB error number for a unique key violation.
const erDupEntry = 1062

// IsDuplicateEntry reports whether err is a unique key violation.
func IsDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == erDupEntry
}
