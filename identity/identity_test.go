package identity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/coursegate/storage/memory"
)

func newTestStore(t *testing.T) *RepositoryStore {
	t.Helper()
	return NewRepositoryStore(memory.NewRepository(), WithBcryptCost(bcrypt.MinCost))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("superuser")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("courses:delete")
	require.NoError(t, err)
	assert.Equal(t, Permission{Resource: "courses", Action: "delete"}, p)
	assert.Equal(t, "courses:delete", p.String())

	for _, bad := range []string{"", "courses", ":delete", "courses:", "a:b:c"} {
		_, err := ParsePermission(bad)
		assert.ErrorIs(t, err, ErrInvalidPermission, "input %q", bad)
	}
}

func TestCreateAndFindUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u, err := s.CreateUser(ctx, "Student@Example.com", "correct horse", RoleStudent)
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.True(t, u.Active)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, RoleStudent, got.Role)

	byEmail, err := s.FindUserByEmail(ctx, "student@example.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.FindUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateUser_Rejects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateUser(ctx, "a@example.com", "pw", RoleStudent)
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, "A@example.com", "pw", RoleStudent)
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = s.CreateUser(ctx, "b@example.com", "pw", Role("root"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = s.CreateUser(ctx, "not-an-email", "pw", RoleStudent)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u, err := s.CreateUser(ctx, "user@example.com", "s3cret-pass", RoleInstructor)
	require.NoError(t, err)

	got, err := s.Authenticate(ctx, "user@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Authenticate(ctx, "user@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "ghost@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u, err := s.CreateUser(ctx, "user@example.com", "pw", RoleStudent)
	require.NoError(t, err)

	updated, err := s.SetActive(ctx, u.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Active)

	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = s.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSetActive_ConcurrentWritesKeepLatest(t *testing.T) {
	ctx := context.Background()
	var tick atomic.Int64
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }
	s := NewRepositoryStore(memory.NewRepository(), WithBcryptCost(bcrypt.MinCost), WithClock(clock))
	u, err := s.CreateUser(ctx, "user@example.com", "pw", RoleStudent)
	require.NoError(t, err)

	const writers = 32
	results := make([]*User, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := s.SetActive(ctx, u.ID, i%2 == 0)
			assert.NoError(t, err)
			results[i] = updated
		}()
	}
	wg.Wait()

	latest := results[0]
	for _, r := range results[1:] {
		if r.UpdatedAt.After(latest.UpdatedAt) {
			latest = r
		}
	}
	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(latest.UpdatedAt), "stored record is the last write")
	assert.Equal(t, latest.Active, got.Active)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.PasswordHash, got.PasswordHash)
}

func TestGrants(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, err := s.CreateUser(ctx, "a@example.com", "pw", RoleStudent)
	require.NoError(t, err)
	b, err := s.CreateUser(ctx, "b@example.com", "pw", RoleStudent)
	require.NoError(t, err)

	del := Permission{Resource: "courses", Action: "delete"}
	read := Permission{Resource: "courses", Action: "read"}
	require.NoError(t, s.SetGrant(ctx, a.ID, Grant{Permission: del, Effect: EffectGrant}))
	require.NoError(t, s.SetGrant(ctx, a.ID, Grant{Permission: read, Effect: EffectRevoke}))
	require.NoError(t, s.SetGrant(ctx, b.ID, Grant{Permission: del, Effect: EffectGrant}))

	grants, err := s.UserPermissions(ctx, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Grant{
		{Permission: del, Effect: EffectGrant},
		{Permission: read, Effect: EffectRevoke},
	}, grants)

	// Replacing an override keeps a single entry.
	require.NoError(t, s.SetGrant(ctx, a.ID, Grant{Permission: del, Effect: EffectRevoke}))
	grants, err = s.UserPermissions(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 2)

	require.NoError(t, s.ClearGrant(ctx, a.ID, del))
	require.NoError(t, s.ClearGrant(ctx, a.ID, del), "clearing twice is a no-op")
	grants, err = s.UserPermissions(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []Grant{{Permission: read, Effect: EffectRevoke}}, grants)

	none, err := s.UserPermissions(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	err = s.SetGrant(ctx, "nobody", Grant{Permission: del, Effect: EffectGrant})
	assert.ErrorIs(t, err, ErrUserNotFound)
	err = s.SetGrant(ctx, a.ID, Grant{Permission: del, Effect: "maybe"})
	assert.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.FindUserByID(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.UserPermissions(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
