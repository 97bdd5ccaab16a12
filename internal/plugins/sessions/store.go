package sessions

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	metaKeyPrefix    = "session_meta:"
	userIndexPrefix  = "user_sessions:"

	// sessionIDBytes is the number of random bytes in a session ID (64 hex chars).
	sessionIDBytes = 32
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Config controls session lifetimes and cookie attributes.
type Config struct {
	// IdleTTL is the sliding lifetime of a normal session.
	IdleTTL time.Duration
	// RememberTTL is the sliding lifetime of a "remember me" session.
	RememberTTL time.Duration
	// SecureCookie sets the Secure attribute on the session cookie.
	SecureCookie bool
}

// Store persists sessions, their metadata and the per-user session index
// in Redis.
type Store struct {
	rdb *redis.Client
	cfg Config
	now func() time.Time
}

// NewStore creates a session store.
func NewStore(rdb *redis.Client, cfg Config) *Store {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Hour
	}
	if cfg.RememberTTL < cfg.IdleTTL {
		cfg.RememberTTL = cfg.IdleTTL
	}
	return &Store{rdb: rdb, cfg: cfg, now: time.Now}
}

func sessionKey(id string) string   { return sessionKeyPrefix + id }
func metaKey(id string) string      { return metaKeyPrefix + id }
func indexKey(userID string) string { return userIndexPrefix + userID }

// New returns an unsaved guest session with a fresh identifier.
func (st *Store) New() (*Session, error) {
	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	now := st.now().UTC()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(st.cfg.IdleTTL),
	}, nil
}

// Load fetches a session by ID. Malformed, missing and expired sessions all
// return ErrNotFound.
func (st *Store) Load(ctx context.Context, id string) (*Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	data, err := st.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	s.ID = id

	if !s.ExpiresAt.IsZero() && !st.now().Before(s.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Lifetime returns the sliding lifetime that applies to s.
func (st *Store) Lifetime(s *Session) time.Duration {
	if s.Remember {
		return st.cfg.RememberTTL
	}
	return st.cfg.IdleTTL
}

// Save refreshes the session's activity timestamps and writes it with a TTL
// equal to its lifetime. Metadata and the user index are kept alive for at
// least as long.
func (st *Store) Save(ctx context.Context, s *Session) error {
	now := st.now().UTC()
	ttl := st.Lifetime(s)
	s.LastActivity = now
	s.ExpiresAt = now.Add(ttl)

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	pipe := st.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, ttl)
	if s.IsAuthenticated() {
		pipe.Expire(ctx, metaKey(s.ID), ttl)
		pipe.Expire(ctx, indexKey(s.UserID), st.cfg.RememberTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}

	s.dirty = false
	return nil
}

// Destroy deletes the session, its metadata and its index entry.
func (st *Store) Destroy(ctx context.Context, s *Session) error {
	if err := st.destroyID(ctx, s.UserID, s.ID); err != nil {
		return err
	}
	s.destroyed = true
	s.dirty = false
	return nil
}

func (st *Store) destroyID(ctx context.Context, userID, id string) error {
	pipe := st.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(id), metaKey(id))
	if userID != "" {
		pipe.ZRem(ctx, indexKey(userID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}

// Regenerate moves the session to a fresh identifier, preserving its data
// and metadata. The old identifier stops working immediately.
func (st *Store) Regenerate(ctx context.Context, s *Session) error {
	newID, err := generateID()
	if err != nil {
		return fmt.Errorf("generating session id: %w", err)
	}
	oldID := s.ID

	// Read everything that moves before writing anything, so a failure
	// leaves the session on its old ID.
	meta, err := st.LoadMetadata(ctx, oldID)
	if err != nil {
		return err
	}

	s.ID = newID
	if err := st.Save(ctx, s); err != nil {
		s.ID = oldID
		return err
	}

	pipe := st.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(oldID), metaKey(oldID))
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encoding session metadata: %w", err)
		}
		pipe.Set(ctx, metaKey(newID), data, st.Lifetime(s))
	}
	if s.UserID != "" {
		pipe.ZRem(ctx, indexKey(s.UserID), oldID)
		if s.AuthenticatedAt != nil {
			pipe.ZAdd(ctx, indexKey(s.UserID), redis.Z{
				Score:  float64(s.AuthenticatedAt.UnixNano()),
				Member: newID,
			})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retiring old session id: %w", err)
	}
	return nil
}

// Index adds an authenticated session to its user's index, scored by
// authentication time so the oldest sessions sort first.
func (st *Store) Index(ctx context.Context, s *Session) error {
	if !s.IsAuthenticated() {
		return nil
	}
	pipe := st.rdb.TxPipeline()
	pipe.ZAdd(ctx, indexKey(s.UserID), redis.Z{
		Score:  float64(s.AuthenticatedAt.UnixNano()),
		Member: s.ID,
	})
	pipe.Expire(ctx, indexKey(s.UserID), st.cfg.RememberTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indexing session: %w", err)
	}
	return nil
}

// activeIDs returns the user's live session IDs, oldest first. Index entries
// whose session has expired are pruned.
func (st *Store) activeIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := st.rdb.ZRange(ctx, indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := st.rdb.Pipeline()
	checks := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		checks[i] = pipe.Exists(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("checking indexed sessions: %w", err)
	}

	live := make([]string, 0, len(ids))
	var dead []any
	for i, id := range ids {
		if checks[i].Val() == 1 {
			live = append(live, id)
		} else {
			dead = append(dead, id)
		}
	}
	if len(dead) > 0 {
		if err := st.rdb.ZRem(ctx, indexKey(userID), dead...).Err(); err != nil {
			return nil, fmt.Errorf("pruning session index: %w", err)
		}
	}
	return live, nil
}

// ListForUser returns the user's active sessions, oldest first.
func (st *Store) ListForUser(ctx context.Context, userID, currentID string) ([]Info, error) {
	ids, err := st.activeIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		s, err := st.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		info := Info{
			ID:           Handle(id),
			Current:      id == currentID,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			ExpiresAt:    s.ExpiresAt,
		}
		if meta, err := st.LoadMetadata(ctx, id); err == nil && meta != nil {
			info.IP = meta.IP
		}
		out = append(out, info)
	}
	return out, nil
}

// DestroyByHandle terminates one of the user's sessions identified by its
// public handle. Returns ErrNotFound if no such session belongs to the user.
func (st *Store) DestroyByHandle(ctx context.Context, userID, handle string) (string, error) {
	ids, err := st.activeIDs(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if Handle(id) == handle {
			return id, st.destroyID(ctx, userID, id)
		}
	}
	return "", ErrNotFound
}

// SaveMetadata stores metadata for a session with the given TTL.
func (st *Store) SaveMetadata(ctx context.Context, id string, meta *Metadata, ttl time.Duration) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding session metadata: %w", err)
	}
	if err := st.rdb.Set(ctx, metaKey(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("writing session metadata: %w", err)
	}
	return nil
}

// LoadMetadata returns the metadata for a session, or nil if none exists.
func (st *Store) LoadMetadata(ctx context.Context, id string) (*Metadata, error) {
	data, err := st.rdb.Get(ctx, metaKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding session metadata: %w", err)
	}
	return &meta, nil
}

// Handle returns the public identifier of a session. The raw ID is a bearer
// credential and never leaves the cookie.
func Handle(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

func generateID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validID(id string) bool {
	if len(id) != sessionIDBytes*2 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
