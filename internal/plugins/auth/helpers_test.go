package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/plugins/audit"
	"github.com/keyxmakerx/folio/internal/plugins/devices"
	"github.com/keyxmakerx/folio/internal/plugins/sessions"
	"github.com/keyxmakerx/folio/internal/plugins/twofactor"
	"github.com/keyxmakerx/folio/internal/ratelimit"
)

// --- In-memory user repository ---

// memUsers implements UserRepository over maps. Lookups return copies so
// services see the same isolation a database gives them.
type memUsers struct {
	byID    map[string]*User
	history map[string][]PasswordHistoryEntry // newest first
	nextID  int64

	findByEmailCalls   int
	updateLastLoginErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*User{}, history: map[string][]PasswordHistoryEntry{}}
}

func (m *memUsers) Create(ctx context.Context, user *User) error {
	cp := *user
	m.byID[user.ID] = &cp
	return nil
}

func (m *memUsers) FindByID(ctx context.Context, id string) (*User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, apperror.NewNotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.findByEmailCalls++
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *memUsers) UpdateLastLogin(ctx context.Context, id, ip string, at time.Time) error {
	if m.updateLastLoginErr != nil {
		return m.updateLastLoginErr
	}
	u := m.byID[id]
	u.LastLoginAt = &at
	u.LastLoginIP = ip
	return nil
}

func (m *memUsers) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	m.byID[id].PasswordHash = passwordHash
	return nil
}

func (m *memUsers) ListPasswordHistory(ctx context.Context, userID string) ([]PasswordHistoryEntry, error) {
	return append([]PasswordHistoryEntry(nil), m.history[userID]...), nil
}

func (m *memUsers) AddPasswordHistory(ctx context.Context, entry *PasswordHistoryEntry) error {
	m.nextID++
	entry.ID = m.nextID
	m.history[entry.UserID] = append([]PasswordHistoryEntry{*entry}, m.history[entry.UserID]...)
	return nil
}

func (m *memUsers) DeletePasswordHistory(ctx context.Context, userID string, ids []int64) error {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []PasswordHistoryEntry
	for _, e := range m.history[userID] {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	m.history[userID] = kept
	return nil
}

func (m *memUsers) SetTwoFactorSecret(ctx context.Context, id, sealedSecret string) error {
	m.byID[id].TwoFactorSecret = sealedSecret
	return nil
}

func (m *memUsers) ConfirmTwoFactor(ctx context.Context, id, sealedCodes string, at time.Time) error {
	u := m.byID[id]
	u.TwoFactorRecoveryCodes = sealedCodes
	u.TwoFactorConfirmedAt = &at
	return nil
}

func (m *memUsers) UpdateRecoveryCodes(ctx context.Context, id, sealedCodes string) error {
	m.byID[id].TwoFactorRecoveryCodes = sealedCodes
	return nil
}

func (m *memUsers) ClearTwoFactor(ctx context.Context, id string) error {
	u := m.byID[id]
	u.TwoFactorSecret = ""
	u.TwoFactorRecoveryCodes = ""
	u.TwoFactorConfirmedAt = nil
	return nil
}

// --- Mock trusted device service ---

type mockTrusted struct {
	lookupFn   func(ctx context.Context, userID, rawToken string) (*devices.TrustedDevice, error)
	validateFn func(ctx context.Context, d *devices.TrustedDevice, expected, ip, userAgent string) (bool, error)

	touched    int
	trusted    []string
	revokedAll int
}

func (m *mockTrusted) Lookup(ctx context.Context, userID, rawToken string) (*devices.TrustedDevice, error) {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, userID, rawToken)
	}
	return nil, nil
}

func (m *mockTrusted) ValidateFingerprint(ctx context.Context, d *devices.TrustedDevice, expected, ip, userAgent string) (bool, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, d, expected, ip, userAgent)
	}
	return d.Fingerprint == expected, nil
}

func (m *mockTrusted) Touch(ctx context.Context, d *devices.TrustedDevice) error {
	m.touched++
	return nil
}

func (m *mockTrusted) Trust(ctx context.Context, userID, fp, ip, userAgent string) (string, time.Time, error) {
	m.trusted = append(m.trusted, userID)
	return "raw-device-token", time.Now().Add(30 * 24 * time.Hour), nil
}

func (m *mockTrusted) Revoke(ctx context.Context, userID, deviceID string) error { return nil }

func (m *mockTrusted) RevokeAll(ctx context.Context, userID string) (int64, error) {
	m.revokedAll++
	return 0, nil
}

func (m *mockTrusted) List(ctx context.Context, userID string) ([]devices.TrustedDevice, error) {
	return nil, nil
}

func (m *mockTrusted) PurgeExpired(ctx context.Context) (int64, error) { return 0, nil }

// --- Mock detector and policy ---

type mockDetector struct {
	calls int
	err   error
}

func (m *mockDetector) Detect(ctx context.Context, userID, ip, userAgent string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return m.calls > 1, nil
}

type stubPolicy struct {
	caps    map[string]int
	require map[string]bool
}

func (p stubPolicy) SessionCap(ctx context.Context, role string) int {
	if n, ok := p.caps[role]; ok {
		return n
	}
	return 1
}

func (p stubPolicy) RequireTwoFactorFor(ctx context.Context, role string) bool {
	return p.require[role]
}

// --- Recording security logger ---

type recordingLogger struct {
	events []*audit.SecurityEvent
}

func (r *recordingLogger) Log(ctx context.Context, e *audit.SecurityEvent) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingLogger) ListEvents(ctx context.Context, f audit.Filter, page int) (*audit.EventPage, error) {
	return &audit.EventPage{}, nil
}

func (r *recordingLogger) Stats(ctx context.Context) (*audit.SecurityStats, error) {
	return &audit.SecurityStats{}, nil
}

func (r *recordingLogger) RecentCount(ctx context.Context, ip, eventType string, window time.Duration) (int, error) {
	return 0, nil
}

func (r *recordingLogger) has(eventType string) bool {
	for _, e := range r.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

func (r *recordingLogger) last(eventType string) *audit.SecurityEvent {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].EventType == eventType {
			return r.events[i]
		}
	}
	return nil
}

// --- Helpers ---

func assertAppError(t *testing.T, err error, expectedCode int) *apperror.AppError {
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
	return appErr
}

const (
	testPassword  = "correct-horse-battery"
	testAppSecret = "test-app-secret"
	testIP        = "10.0.0.5"
	testUserAgent = "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"
)

var testPaths = Paths{
	Dashboard:        "/admin",
	SecuritySettings: "/admin/security",
	Challenge:        "/admin/two-factor-challenge",
}

var testClient = Client{IP: testIP, UserAgent: testUserAgent}

// fixture wires the login and account services over in-memory and
// miniredis-backed collaborators.
type fixture struct {
	mr        *miniredis.Miniredis
	users     *memUsers
	trusted   *mockTrusted
	detector  *mockDetector
	security  *recordingLogger
	policy    stubPolicy
	lifecycle *sessions.Lifecycle
	sealer    *twofactor.Sealer
	manager   *twofactor.Manager

	completer LoginCompleter
	login     *loginService
	accounts  *accountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sealer, err := twofactor.NewSealer(testAppSecret)
	if err != nil {
		t.Fatalf("creating sealer: %v", err)
	}

	f := &fixture{
		mr:        mr,
		users:     newMemUsers(),
		trusted:   &mockTrusted{},
		detector:  &mockDetector{},
		security:  &recordingLogger{},
		policy:    stubPolicy{caps: map[string]int{"admin": 1, "editor": 2}, require: map[string]bool{"admin": true}},
		lifecycle: sessions.NewLifecycle(sessions.NewStore(rdb, sessions.Config{IdleTTL: 2 * time.Hour, RememberTTL: 720 * time.Hour})),
		sealer:    sealer,
		manager:   twofactor.NewManager(testAppSecret, 10*time.Minute),
	}

	limiter := ratelimit.NewLimiter(rdb, "")
	f.completer = NewLoginCompleter(f.lifecycle, f.users, f.policy, f.detector, f.security)
	f.login = NewLoginService(LoginDeps{
		Credentials: NewCredentialValidator(f.users, limiter, f.security, ThrottleConfig{MaxAttempts: 5, Decay: time.Minute}),
		Users:       f.users,
		Trusted:     f.trusted,
		Challenges:  f.manager,
		Sealer:      f.sealer,
		Completer:   f.completer,
		Lifecycle:   f.lifecycle,
		Policy:      f.policy,
		Security:    f.security,
		Paths:       testPaths,

		Limiter:           limiter,
		ChallengeThrottle: ThrottleConfig{MaxAttempts: 5, Decay: 15 * time.Minute},
		Steps:             twofactor.NewStepGuard(rdb),
	}).(*loginService)
	f.accounts = NewAccountService(f.users, f.sealer, f.trusted, f.lifecycle, f.policy, f.security,
		AccountConfig{Issuer: "Folio", PasswordHistory: 5}).(*accountService)
	return f
}

// addUser stores a user with testPassword. When withTwoFactor is set, the
// user gets a confirmed authenticator and returns its plaintext secret and
// recovery codes.
func (f *fixture) addUser(t *testing.T, id string, role Role, withTwoFactor bool) (secret string, codes []string) {
	t.Helper()
	hash, err := hashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	u := &User{
		ID:           id,
		Name:         "User " + id,
		Email:        id + "@example.com",
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}

	if withTwoFactor {
		enr, err := twofactor.GenerateSecret("Folio", u.Email)
		if err != nil {
			t.Fatalf("generating secret: %v", err)
		}
		codes, err = twofactor.GenerateRecoveryCodes(twofactor.RecoveryCodeCount)
		if err != nil {
			t.Fatalf("generating recovery codes: %v", err)
		}
		if u.TwoFactorSecret, err = f.sealer.Seal(enr.Secret); err != nil {
			t.Fatalf("sealing secret: %v", err)
		}
		if u.TwoFactorRecoveryCodes, err = f.sealer.SealCodes(codes); err != nil {
			t.Fatalf("sealing codes: %v", err)
		}
		confirmed := time.Now().UTC()
		u.TwoFactorConfirmedAt = &confirmed
		secret = enr.Secret
	}

	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return secret, codes
}

func (f *fixture) newSession(t *testing.T) *sessions.Session {
	t.Helper()
	s, err := f.lifecycle.Store().New()
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	return s
}

func loginInput(id, password string) LoginInput {
	return LoginInput{Email: id + "@example.com", Password: password, Client: testClient}
}
