package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/coursegate/internal/util"
	"github.com/jmcleod/coursegate/storage"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
)

const (
	sessionIDBytes         = 32
	sessionBucket          = "sessions"
	sessionRecordType      = "SESSION"
	sessionCleanupInterval = 5 * time.Minute
)

// Session binds an issued token to a user. Revoked is the only field that
// changes after creation.
type Session struct {
	ID        string    `json:"-"`
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// SessionStore persists sessions. Get returns ErrSessionNotFound for
// unknown or expired sessions; revoked sessions are returned with
// Revoked set.
type SessionStore interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeUser(ctx context.Context, userID string) (int, error)
}

func newSession(userID string, now time.Time, ttl time.Duration) (Session, error) {
	id, err := util.RandomToken(sessionIDBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generating session id: %w", err)
	}
	return Session{
		ID:        id,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// MemorySessionStore keeps sessions in process memory. StartCleanup
// drops expired sessions in the background until Close.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore(now func() time.Time) *MemorySessionStore {
	if now == nil {
		now = time.Now
	}
	return &MemorySessionStore{
		sessions: make(map[string]Session),
		now:      now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// StartCleanup sweeps expired sessions every interval. Calls after the
// first have no effect.
func (s *MemorySessionStore) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = sessionCleanupInterval
	}
	s.startOnce.Do(func() {
		go s.cleanupLoop(interval)
	})
}

// Close stops the cleanup loop. It is safe to call more than once and
// without StartCleanup.
func (s *MemorySessionStore) Close() {
	s.startOnce.Do(func() { close(s.done) })
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

func (s *MemorySessionStore) cleanupLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

func (s *MemorySessionStore) Create(ctx context.Context, userID string, ttl time.Duration) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	sess, err := newSession(userID, s.now(), ttl)
	if err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || s.now().After(sess.ExpiresAt) {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemorySessionStore) Revoke(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Revoked = true
	s.sessions[id] = sess
	return nil
}

func (s *MemorySessionStore) RevokeUser(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.UserID == userID && !sess.Revoked {
			sess.Revoked = true
			s.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

// Sweep drops expired sessions.
func (s *MemorySessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// RepositorySessionStore persists sessions in a storage.Repository.
// Records are keyed by the SHA-256 of the session id, so the raw id that
// authenticates a token is never written to disk. Expired sessions are
// removed by a background loop until Close.
type RepositorySessionStore struct {
	repo     storage.Repository
	now      func() time.Time
	logger   *slog.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

var _ SessionStore = (*RepositorySessionStore)(nil)

func NewRepositorySessionStore(repo storage.Repository, logger *slog.Logger) *RepositorySessionStore {
	return newRepositorySessionStore(repo, logger, time.Now, sessionCleanupInterval)
}

func newRepositorySessionStore(repo storage.Repository, logger *slog.Logger, now func() time.Time, interval time.Duration) *RepositorySessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RepositorySessionStore{
		repo:   repo,
		now:    now,
		logger: logger.With("component", "sessions"),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.cleanupLoop(interval)
	return s
}

// Close stops the cleanup loop.
func (s *RepositorySessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
}

func (s *RepositorySessionStore) Create(ctx context.Context, userID string, ttl time.Duration) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	sess, err := newSession(userID, s.now(), ttl)
	if err != nil {
		return Session{}, err
	}
	if err := storage.PutJSON(s.repo, sessionBucket, sessionRecordType, util.LookupID(sess.ID), sess); err != nil {
		return Session{}, fmt.Errorf("storing session: %w", err)
	}
	return sess, nil
}

func (s *RepositorySessionStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if id == "" {
		return Session{}, ErrSessionNotFound
	}
	var sess Session
	err := storage.GetJSON(s.repo, sessionBucket, sessionRecordType, util.LookupID(id), &sess)
	if storage.IsNotFound(err) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}
	if s.now().After(sess.ExpiresAt) {
		return Session{}, ErrSessionNotFound
	}
	sess.ID = id
	return sess, nil
}

func (s *RepositorySessionStore) Revoke(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := util.LookupID(id)
	return s.repo.Batch(sessionBucket, func(tx storage.BatchTx) error {
		data, err := tx.Get(sessionRecordType, key)
		if storage.IsNotFound(err) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return revokeRecord(tx, key, data)
	})
}

func (s *RepositorySessionStore) RevokeUser(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	keys, err := s.repo.List(sessionBucket, sessionRecordType)
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}
	n := 0
	err = s.repo.Batch(sessionBucket, func(tx storage.BatchTx) error {
		for _, key := range keys {
			data, err := tx.Get(sessionRecordType, key)
			if storage.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			var sess Session
			if err := json.Unmarshal(data, &sess); err != nil || sess.UserID != userID || sess.Revoked {
				continue
			}
			if err := revokeRecord(tx, key, data); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}
	return n, nil
}

func revokeRecord(tx storage.BatchTx, key string, data []byte) error {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("decoding session: %w", err)
	}
	sess.Revoked = true
	updated, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return tx.Put(sessionRecordType, key, updated)
}

func (s *RepositorySessionStore) cleanupLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n, err := s.sweepExpired(); err != nil {
				s.logger.Warn("session cleanup failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("removed expired sessions", "count", n)
			}
		}
	}
}

func (s *RepositorySessionStore) sweepExpired() (int, error) {
	now := s.now()
	var stale []string
	err := s.repo.Scan(sessionBucket, sessionRecordType, "", func(key string, data []byte) error {
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil || now.After(sess.ExpiresAt) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err = s.repo.Batch(sessionBucket, func(tx storage.BatchTx) error {
		for _, key := range stale {
			if err := tx.Delete(sessionRecordType, key); err != nil && !storage.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}
