package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/keyxmakerx/folio/internal/apperror"
)

// --- Mock Repository ---

type mockEventRepo struct {
	insertFn func(ctx context.Context, event *SecurityEvent) error
	listFn   func(ctx context.Context, f Filter, limit, offset int) ([]SecurityEvent, int, error)
	inserted []*SecurityEvent
}

func (m *mockEventRepo) Insert(ctx context.Context, event *SecurityEvent) error {
	m.inserted = append(m.inserted, event)
	if m.insertFn != nil {
		return m.insertFn(ctx, event)
	}
	return nil
}

func (m *mockEventRepo) List(ctx context.Context, f Filter, limit, offset int) ([]SecurityEvent, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, f, limit, offset)
	}
	return nil, 0, nil
}

func (m *mockEventRepo) Stats(ctx context.Context) (*SecurityStats, error) {
	return &SecurityStats{}, nil
}

func (m *mockEventRepo) CountRecentByIP(ctx context.Context, ip, eventType string, window time.Duration) (int, error) {
	return 0, nil
}

func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status code %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

func TestLog_SanitizesAndStamps(t *testing.T) {
	repo := &mockEventRepo{}
	svc := NewSecurityLogger(repo).(*securityLogger)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	err := svc.Log(context.Background(), &SecurityEvent{
		EventType: EventLoginFailed,
		IPAddress: "10.0.0.5",
		UserAgent: `<script>x</script>Mozilla/5.0`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(repo.inserted))
	}
	got := repo.inserted[0]
	if strings.Contains(got.UserAgent, "<") {
		t.Errorf("expected sanitized user agent, got %q", got.UserAgent)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Errorf("expected created at %v, got %v", fixed, got.CreatedAt)
	}
}

func TestLog_RejectsUnknownType(t *testing.T) {
	svc := NewSecurityLogger(&mockEventRepo{})
	err := svc.Log(context.Background(), &SecurityEvent{EventType: "made.up"})
	assertAppError(t, err, 400)
}

func TestLog_RepoFailureIsInternal(t *testing.T) {
	repo := &mockEventRepo{insertFn: func(context.Context, *SecurityEvent) error {
		return errors.New("db down")
	}}
	err := NewSecurityLogger(repo).Log(context.Background(), &SecurityEvent{EventType: EventLogout})
	assertAppError(t, err, 500)
}

func TestRecord_SwallowsFailure(t *testing.T) {
	repo := &mockEventRepo{insertFn: func(context.Context, *SecurityEvent) error {
		return errors.New("db down")
	}}
	// Must not panic or return anything.
	Record(context.Background(), NewSecurityLogger(repo), &SecurityEvent{EventType: EventLogout})
	Record(context.Background(), nil, &SecurityEvent{EventType: EventLogout})

	if len(repo.inserted) != 1 {
		t.Errorf("expected one insert attempt, got %d", len(repo.inserted))
	}
}

func TestListEvents_Pagination(t *testing.T) {
	var gotLimit, gotOffset int
	repo := &mockEventRepo{listFn: func(_ context.Context, _ Filter, limit, offset int) ([]SecurityEvent, int, error) {
		gotLimit, gotOffset = limit, offset
		return nil, 120, nil
	}}
	svc := NewSecurityLogger(repo)

	page, err := svc.ListEvents(context.Background(), Filter{}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLimit != perPage || gotOffset != 2*perPage {
		t.Errorf("expected limit %d offset %d, got %d %d", perPage, 2*perPage, gotLimit, gotOffset)
	}
	if page.Events == nil || page.Total != 120 || page.Page != 3 {
		t.Errorf("unexpected page: %+v", page)
	}

	page, _ = svc.ListEvents(context.Background(), Filter{}, -4)
	if page.Page != 1 || gotOffset != 0 {
		t.Errorf("expected page clamped to 1, got %d (offset %d)", page.Page, gotOffset)
	}
}

func TestListEvents_RejectsUnknownFilter(t *testing.T) {
	_, err := NewSecurityLogger(&mockEventRepo{}).ListEvents(context.Background(), Filter{EventType: "nope"}, 1)
	assertAppError(t, err, 400)
}

func TestWhereClause(t *testing.T) {
	where, args := whereClause(Filter{EventType: EventLoginFailed, IPAddress: "1.2.3.4"})
	if where != " WHERE se.event_type = ? AND se.ip_address = ?" {
		t.Errorf("unexpected clause %q", where)
	}
	if len(args) != 2 {
		t.Errorf("expected 2 args, got %d", len(args))
	}

	if where, args := whereClause(Filter{}); where != "" || args != nil {
		t.Errorf("expected empty clause, got %q %v", where, args)
	}
}

func TestEventTypeLabel(t *testing.T) {
	if EventTypeLabel(EventFingerprintMismatch) != "Device Fingerprint Mismatch" {
		t.Error("unexpected label")
	}
	if EventTypeLabel("custom") != "custom" {
		t.Error("expected unknown type to fall back to itself")
	}
}
