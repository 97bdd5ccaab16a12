package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/sanitize"
)

// perPage is the number of events per page on the security dashboard.
const perPage = 50

// maxIPLength matches the ip_address column width.
const maxIPLength = 45

// SecurityLogger records and queries security events.
type SecurityLogger interface {
	// Log validates, sanitizes and persists an event. The event is always
	// mirrored to slog first, so a database failure loses only the row.
	Log(ctx context.Context, event *SecurityEvent) error

	// ListEvents returns a page of events matching the filter. Pages are
	// 1-indexed; out-of-range pages are clamped to 1.
	ListEvents(ctx context.Context, f Filter, page int) (*EventPage, error)

	// Stats returns dashboard aggregates.
	Stats(ctx context.Context) (*SecurityStats, error)

	// RecentCount counts events of eventType from ip within window.
	RecentCount(ctx context.Context, ip, eventType string, window time.Duration) (int, error)
}

type securityLogger struct {
	repo SecurityEventRepository
	now  func() time.Time
}

// NewSecurityLogger creates a security event logger.
func NewSecurityLogger(repo SecurityEventRepository) SecurityLogger {
	return &securityLogger{repo: repo, now: time.Now}
}

func (s *securityLogger) Log(ctx context.Context, event *SecurityEvent) error {
	if event == nil || event.EventType == "" {
		return apperror.NewBadRequest("event type is required")
	}
	if !KnownEventType(event.EventType) {
		return apperror.NewBadRequest(fmt.Sprintf("unknown event type %q", event.EventType))
	}

	event.UserAgent = sanitize.UserAgent(event.UserAgent)
	event.IPAddress = sanitize.PlainText(event.IPAddress, maxIPLength)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	slog.LogAttrs(ctx, slog.LevelInfo, "security event",
		slog.String("event_type", event.EventType),
		slog.String("user_id", event.UserID),
		slog.String("ip", event.IPAddress),
		slog.Any("details", event.Details),
	)

	if err := s.repo.Insert(ctx, event); err != nil {
		return apperror.NewInternal(fmt.Errorf("writing security event %s: %w", event.EventType, err))
	}
	return nil
}

func (s *securityLogger) ListEvents(ctx context.Context, f Filter, page int) (*EventPage, error) {
	if page < 1 {
		page = 1
	}
	if f.EventType != "" && !KnownEventType(f.EventType) {
		return nil, apperror.NewBadRequest("unknown event type filter")
	}

	events, total, err := s.repo.List(ctx, f, perPage, (page-1)*perPage)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing security events: %w", err))
	}
	if events == nil {
		events = []SecurityEvent{}
	}

	return &EventPage{Events: events, Total: total, Page: page, PerPage: perPage}, nil
}

func (s *securityLogger) Stats(ctx context.Context) (*SecurityStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("getting security stats: %w", err))
	}
	return stats, nil
}

func (s *securityLogger) RecentCount(ctx context.Context, ip, eventType string, window time.Duration) (int, error) {
	n, err := s.repo.CountRecentByIP(ctx, ip, eventType, window)
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("counting recent events: %w", err))
	}
	return n, nil
}

// Record writes an event and logs, rather than returns, any failure. Use it
// from flows where the audit trail must not block the user.
func Record(ctx context.Context, l SecurityLogger, event *SecurityEvent) {
	if l == nil {
		return
	}
	if err := l.Log(ctx, event); err != nil {
		slog.Warn("failed to record security event",
			slog.String("event_type", event.EventType),
			slog.Any("error", err),
		)
	}
}
