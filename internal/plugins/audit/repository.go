package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SecurityEventRepository defines the data access contract for security
// events. All SQL lives in the concrete implementation.
type SecurityEventRepository interface {
	// Insert stores a new event and sets its ID.
	Insert(ctx context.Context, event *SecurityEvent) error

	// List returns matching events, most recent first, and the total count
	// of matching rows for pagination.
	List(ctx context.Context, f Filter, limit, offset int) ([]SecurityEvent, int, error)

	// Stats returns dashboard aggregates.
	Stats(ctx context.Context) (*SecurityStats, error)

	// CountRecentByIP counts events of eventType from ip within the window.
	CountRecentByIP(ctx context.Context, ip, eventType string, window time.Duration) (int, error)
}

type securityEventRepository struct {
	db *sql.DB
}

// NewSecurityEventRepository creates a repository backed by the given pool.
func NewSecurityEventRepository(db *sql.DB) SecurityEventRepository {
	return &securityEventRepository{db: db}
}

// Insert writes the event. Details are stored as JSON; an empty user ID is
// stored as NULL so the foreign key accepts events for unknown accounts.
func (r *securityEventRepository) Insert(ctx context.Context, event *SecurityEvent) error {
	var detailsJSON []byte
	if len(event.Details) > 0 {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling event details: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var userID any
	if event.UserID != "" {
		userID = event.UserID
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO security_events (event_type, user_id, ip_address, user_agent, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventType, userID, event.IPAddress, event.UserAgent, detailsJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// whereClause renders the filter as a WHERE clause against alias se.
func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.EventType != "" {
		conds = append(conds, "se.event_type = ?")
		args = append(args, f.EventType)
	}
	if f.UserID != "" {
		conds = append(conds, "se.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.IPAddress != "" {
		conds = append(conds, "se.ip_address = ?")
		args = append(args, f.IPAddress)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns a page of events joined with the user's display name.
func (r *securityEventRepository) List(ctx context.Context, f Filter, limit, offset int) ([]SecurityEvent, int, error) {
	where, args := whereClause(f)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events se`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting security events: %w", err)
	}

	query := `SELECT se.id, se.event_type, COALESCE(se.user_id, ''), se.ip_address,
	                 COALESCE(se.user_agent, ''), se.details, se.created_at,
	                 COALESCE(u.name, '')
	          FROM security_events se
	          LEFT JOIN users u ON u.id = se.user_id` + where +
		` ORDER BY se.created_at DESC, se.id DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	var events []SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		var details sql.NullString
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.UserID, &e.IPAddress,
			&e.UserAgent, &details, &e.CreatedAt, &e.UserName,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning security event: %w", err)
		}
		if details.Valid && details.String != "" {
			if jsonErr := json.Unmarshal([]byte(details.String), &e.Details); jsonErr != nil {
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating security events: %w", err)
	}

	return events, total, nil
}

// Stats computes the dashboard aggregates in a single pass over the last
// day plus one total count.
func (r *securityEventRepository) Stats(ctx context.Context) (*SecurityStats, error) {
	stats := &SecurityStats{}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("counting security events: %w", err)
	}

	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(event_type = ?), 0),
		        COALESCE(SUM(event_type = ?), 0),
		        COALESCE(SUM(event_type = ?), 0),
		        COALESCE(SUM(event_type = ?), 0),
		        COUNT(DISTINCT NULLIF(ip_address, ''))
		 FROM security_events
		 WHERE created_at >= ?`,
		EventLoginFailed, EventLoginSuccess, EventLoginThrottled, EventFingerprintMismatch,
		time.Now().UTC().Add(-24*time.Hour),
	).Scan(
		&stats.FailedLogins24h, &stats.SuccessfulLogins24h,
		&stats.Throttled24h, &stats.Mismatches24h, &stats.UniqueIPs24h,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating security events: %w", err)
	}

	return stats, nil
}

// CountRecentByIP counts events of one type from an IP inside a window.
func (r *securityEventRepository) CountRecentByIP(ctx context.Context, ip, eventType string, window time.Duration) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events
		 WHERE ip_address = ? AND event_type = ? AND created_at >= ?`,
		ip, eventType, time.Now().UTC().Add(-window),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting recent events by ip: %w", err)
	}
	return count, nil
}
