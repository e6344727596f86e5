package security

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jmcleod/coursegate/internal/util"
)

const (
	// CSRFHeader carries the token on state-changing requests.
	CSRFHeader = "X-CSRF-Token"
	// SessionHeader carries the CSRF session id.
	SessionHeader = "X-Session-ID"
	// SessionCookie is the cookie fallback for the CSRF session id.
	SessionCookie = "coursegate_sid"

	DefaultCSRFTTL = 24 * time.Hour
	csrfTokenBytes = 32
)

var ErrMissingSession = errors.New("csrf: session id required")

type csrfEntry struct {
	token     string
	expiresAt time.Time
}

// CSRFStore holds one active token per session. Issuing a token replaces
// the previous one.
type CSRFStore struct {
	mu      sync.Mutex
	entries map[string]csrfEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewCSRFStore(ttl time.Duration, now func() time.Time) *CSRFStore {
	if ttl <= 0 {
		ttl = DefaultCSRFTTL
	}
	if now == nil {
		now = time.Now
	}
	return &CSRFStore{
		entries: make(map[string]csrfEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Issue creates a new token for sessionID, overwriting any previous one.
func (s *CSRFStore) Issue(sessionID string) (string, time.Time, error) {
	if sessionID == "" {
		return "", time.Time{}, ErrMissingSession
	}
	token, err := util.RandomToken(csrfTokenBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating csrf token: %w", err)
	}
	expiresAt := s.now().Add(s.ttl)

	s.mu.Lock()
	s.entries[sessionID] = csrfEntry{token: token, expiresAt: expiresAt}
	s.mu.Unlock()
	return token, expiresAt, nil
}

// Validate reports whether token is the current, unexpired token for
// sessionID.
func (s *CSRFStore) Validate(sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	s.mu.Unlock()
	if !ok || s.now().After(e.expiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(e.token), []byte(token)) == 1
}

// Sweep removes expired entries.
func (s *CSRFStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *CSRFStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CSRFSessionID returns the CSRF session id from the request header,
// falling back to the session cookie.
func CSRFSessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// stateChanging reports whether method can mutate server state.
func stateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}
