package sessions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLifecycle(t *testing.T) (*Lifecycle, *miniredis.Miniredis, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := NewStore(rdb, Config{IdleTTL: 2 * time.Hour, RememberTTL: 720 * time.Hour})
	store.now = clk.now
	lc := NewLifecycle(store)
	lc.now = clk.now
	return lc, mr, clk
}

func TestStore_SaveLoadUsesSessionKeyNames(t *testing.T) {
	lc, mr, clk := newTestLifecycle(t)
	st := lc.Store()
	ctx := context.Background()

	s, err := st.New()
	require.NoError(t, err)
	s.IntendedURL = "/admin/posts"
	s.SetPendingChallenge(PendingChallenge{
		UserID:      "u-1",
		Remember:    true,
		Nonce:       "n",
		Signature:   "sig",
		AttemptTime: clk.now(),
	})
	require.NoError(t, st.Save(ctx, s))
	require.False(t, s.Dirty())

	raw, err := mr.Get(sessionKey(s.ID))
	require.NoError(t, err)
	for _, key := range []string{
		`"url.intended"`, `"2fa_required"`, `"login.id"`, `"login.remember"`,
		`"login.challenge_nonce"`, `"login.challenge_signature"`, `"login.attempt_time"`,
	} {
		require.True(t, strings.Contains(raw, key), "missing %s in %s", key, raw)
	}
	require.Equal(t, 2*time.Hour, mr.TTL(sessionKey(s.ID)))

	loaded, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	p, ok := loaded.PendingChallenge()
	require.True(t, ok)
	require.Equal(t, "u-1", p.UserID)
	require.True(t, p.Remember)
	require.Equal(t, clk.now().Unix(), p.AttemptTime.Unix())
	require.False(t, loaded.IsAuthenticated())
}

func TestStore_LoadRejectsMalformedAndExpired(t *testing.T) {
	lc, _, clk := newTestLifecycle(t)
	st := lc.Store()
	ctx := context.Background()

	_, err := st.Load(ctx, "../../etc/passwd")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = st.Load(ctx, strings.Repeat("a", 64))
	require.ErrorIs(t, err, ErrNotFound)

	s, err := st.New()
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, s))
	clk.advance(3 * time.Hour)
	_, err = st.Load(ctx, s.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycle_EstablishRegeneratesAndIndexes(t *testing.T) {
	lc, mr, _ := newTestLifecycle(t)
	st := lc.Store()
	ctx := context.Background()

	s, err := st.New()
	require.NoError(t, err)
	s.SetPendingChallenge(PendingChallenge{UserID: "u-1", Nonce: "n", Signature: "s"})
	require.NoError(t, st.Save(ctx, s))
	guestID := s.ID

	require.NoError(t, lc.Establish(ctx, s, "u-1", "admin", false))

	require.NotEqual(t, guestID, s.ID)
	require.False(t, mr.Exists(sessionKey(guestID)))
	require.True(t, mr.Exists(sessionKey(s.ID)))
	require.True(t, s.IsAuthenticated())
	_, pending := s.PendingChallenge()
	require.False(t, pending)

	members, err := mr.ZMembers(indexKey("u-1"))
	require.NoError(t, err)
	require.Equal(t, []string{s.ID}, members)
}

func TestLifecycle_RememberUsesLongTTL(t *testing.T) {
	lc, mr, _ := newTestLifecycle(t)
	ctx := context.Background()

	s, err := lc.Store().New()
	require.NoError(t, err)
	require.NoError(t, lc.Establish(ctx, s, "u-1", "editor", true))
	require.Equal(t, 720*time.Hour, mr.TTL(sessionKey(s.ID)))
}

func establishN(t *testing.T, lc *Lifecycle, clk *clock, userID string, n int) []*Session {
	t.Helper()
	var out []*Session
	for i := 0; i < n; i++ {
		s, err := lc.Store().New()
		require.NoError(t, err)
		require.NoError(t, lc.Establish(context.Background(), s, userID, "admin", false))
		out = append(out, s)
		clk.advance(time.Minute)
	}
	return out
}

func TestLifecycle_TerminatePreviousSessionsKeepsNewest(t *testing.T) {
	lc, mr, clk := newTestLifecycle(t)
	ctx := context.Background()

	sessions := establishN(t, lc, clk, "u-1", 5)
	current := sessions[4]

	n, err := lc.TerminatePreviousSessions(ctx, "u-1", current.ID, 3)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.False(t, mr.Exists(sessionKey(sessions[0].ID)))
	require.False(t, mr.Exists(sessionKey(sessions[1].ID)))
	for _, s := range sessions[2:] {
		require.True(t, mr.Exists(sessionKey(s.ID)))
	}

	n, err = lc.TerminatePreviousSessions(ctx, "u-1", current.ID, 3)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLifecycle_TerminatePreviousSessionsCapOne(t *testing.T) {
	lc, _, clk := newTestLifecycle(t)
	ctx := context.Background()

	sessions := establishN(t, lc, clk, "u-2", 3)
	n, err := lc.TerminatePreviousSessions(ctx, "u-2", sessions[2].ID, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	infos, err := lc.Store().ListForUser(ctx, "u-2", sessions[2].ID)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.True(t, infos[0].Current)
}

func TestLifecycle_IndexPrunesExpiredEntries(t *testing.T) {
	lc, mr, clk := newTestLifecycle(t)
	ctx := context.Background()

	sessions := establishN(t, lc, clk, "u-3", 2)
	mr.Del(sessionKey(sessions[0].ID))

	n, err := lc.TerminatePreviousSessions(ctx, "u-3", sessions[1].ID, 1)
	require.NoError(t, err)
	require.Zero(t, n)

	members, err := mr.ZMembers(indexKey("u-3"))
	require.NoError(t, err)
	require.Equal(t, []string{sessions[1].ID}, members)
}

func TestLifecycle_ExtendMovesMetadata(t *testing.T) {
	lc, mr, _ := newTestLifecycle(t)
	ctx := context.Background()

	s, err := lc.Store().New()
	require.NoError(t, err)
	require.NoError(t, lc.Establish(ctx, s, "u-1", "admin", false))
	require.NoError(t, lc.RecordMetadata(ctx, s, "10.0.0.5", "ua"))
	oldID := s.ID

	expires, err := lc.Extend(ctx, s)
	require.NoError(t, err)
	require.NotEqual(t, oldID, s.ID)
	require.Equal(t, s.ExpiresAt, expires)
	require.False(t, mr.Exists(metaKey(oldID)))

	meta, err := lc.Store().LoadMetadata(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Equal(t, "10.0.0.5", meta.IP)
}

func TestLifecycle_CheckAnomaly(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)
	ctx := context.Background()

	s, err := lc.Store().New()
	require.NoError(t, err)
	require.NoError(t, lc.Establish(ctx, s, "u-1", "admin", false))

	a, err := lc.CheckAnomaly(ctx, s, "10.0.0.5", "ua")
	require.NoError(t, err)
	require.False(t, a.Suspicious(), "no metadata means no anomaly")

	require.NoError(t, lc.RecordMetadata(ctx, s, "10.0.0.5", "ua"))

	a, err = lc.CheckAnomaly(ctx, s, "10.0.0.9", "ua")
	require.NoError(t, err)
	require.True(t, a.IPChanged)
	require.False(t, a.Suspicious())

	a, err = lc.CheckAnomaly(ctx, s, "10.0.0.5", "other-ua")
	require.NoError(t, err)
	require.True(t, a.Suspicious())
}

func TestLifecycle_EstablishAsDifferentUserDropsOldIndex(t *testing.T) {
	lc, mr, _ := newTestLifecycle(t)
	ctx := context.Background()

	s, err := lc.Store().New()
	require.NoError(t, err)
	require.NoError(t, lc.Establish(ctx, s, "u-1", "admin", false))
	s.RequireTwoFactorSetup("u-1", time.Now())
	require.NoError(t, lc.Establish(ctx, s, "u-2", "editor", false))

	require.False(t, s.TwoFactorSetupMandatory)
	members, _ := mr.ZMembers(indexKey("u-1"))
	require.Empty(t, members)
}

func TestMiddleware_PersistsDirtyGuestSession(t *testing.T) {
	lc, mr, _ := newTestLifecycle(t)
	st := lc.Store()
	e := echo.New()

	h := Middleware(st)(func(c echo.Context) error {
		s := FromContext(c)
		s.IntendedURL = "/admin/posts"
		s.MarkDirty()
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/posts", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))

	var id string
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			id = c.Value
			require.True(t, c.HttpOnly)
		}
	}
	require.NotEmpty(t, id)
	require.True(t, mr.Exists(sessionKey(id)))
}

func TestMiddleware_CleanGuestSessionIsNotStored(t *testing.T) {
	lc, mr, _ := newTestLifecycle(t)
	e := echo.New()

	h := Middleware(lc.Store())(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	require.Empty(t, rec.Result().Cookies())
	require.Empty(t, mr.Keys())
}

func TestMiddleware_LoadsExistingSession(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)
	st := lc.Store()
	ctx := context.Background()

	s, err := st.New()
	require.NoError(t, err)
	require.NoError(t, lc.Establish(ctx, s, "u-1", "admin", false))

	e := echo.New()
	var seen *Session
	h := Middleware(st)(func(c echo.Context) error {
		seen = FromContext(c)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: s.ID})
	require.NoError(t, h(e.NewContext(req, httptest.NewRecorder())))
	require.NotNil(t, seen)
	require.Equal(t, "u-1", seen.UserID)
}

func TestHandle_IsStableAndShort(t *testing.T) {
	id := strings.Repeat("ab", 32)
	require.Equal(t, Handle(id), Handle(id))
	require.Len(t, Handle(id), 16)
	require.NotEqual(t, id, Handle(id))
}

func TestStore_RegenerateFailureKeepsOldID(t *testing.T) {
	lc, mr, _ := newTestLifecycle(t)
	st := lc.Store()
	ctx := context.Background()

	s, err := st.New()
	require.NoError(t, err)
	s.UserID = "u-1"
	require.NoError(t, st.Save(ctx, s))
	oldID := s.ID
	require.NoError(t, mr.Set(metaKey(oldID), "{not json"))

	require.Error(t, st.Regenerate(ctx, s))
	require.Equal(t, oldID, s.ID)

	var sessionKeys []string
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, sessionKeyPrefix) {
			sessionKeys = append(sessionKeys, k)
		}
	}
	require.Equal(t, []string{sessionKey(oldID)}, sessionKeys)
}
