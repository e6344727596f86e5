package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFStore_Validate(t *testing.T) {
	clock := newFakeClock()
	s := NewCSRFStore(0, clock.Now)

	token, expiresAt, err := s.Issue("s1")
	require.NoError(t, err)
	assert.Len(t, token, 43)
	assert.Equal(t, clock.Now().Add(DefaultCSRFTTL), expiresAt)

	other, _, err := s.Issue("s2")
	require.NoError(t, err)

	assert.True(t, s.Validate("s1", token))
	assert.True(t, s.Validate("s1", token), "validation does not consume the token")

	assert.False(t, s.Validate("s1", ""), "no token")
	assert.False(t, s.Validate("", token), "no session")
	assert.False(t, s.Validate("s1", token+"x"), "wrong token")
	assert.False(t, s.Validate("s1", other), "token of another session")
	assert.False(t, s.Validate("s3", token), "unknown session")

	clock.Advance(DefaultCSRFTTL + time.Second)
	assert.False(t, s.Validate("s1", token), "expired")
}

func TestCSRFStore_ReissueInvalidatesPrevious(t *testing.T) {
	s := NewCSRFStore(time.Hour, nil)
	first, _, err := s.Issue("s1")
	require.NoError(t, err)
	second, _, err := s.Issue("s1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.False(t, s.Validate("s1", first))
	assert.True(t, s.Validate("s1", second))
	assert.Equal(t, 1, s.Len())
}

func TestCSRFStore_IssueRequiresSession(t *testing.T) {
	s := NewCSRFStore(time.Hour, nil)
	_, _, err := s.Issue("")
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestCSRFStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	s := NewCSRFStore(time.Minute, clock.Now)
	_, _, _ = s.Issue("old")
	clock.Advance(30 * time.Second)
	_, _, _ = s.Issue("new")

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, s.Sweep(clock.Now()))
	assert.Equal(t, 1, s.Len())
}

func TestCSRFSessionID(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Empty(t, CSRFSessionID(r))

	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", CSRFSessionID(r))

	r.Header.Set(SessionHeader, "from-header")
	assert.Equal(t, "from-header", CSRFSessionID(r))
}

func TestStateChanging(t *testing.T) {
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		assert.False(t, stateChanging(m), m)
	}
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		assert.True(t, stateChanging(m), m)
	}
}
