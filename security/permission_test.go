package security

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/coursegate/identity"
)

type stubPermissionStore struct {
	grants map[string][]identity.Grant
	err    error
}

func (s stubPermissionStore) UserPermissions(_ context.Context, userID string) ([]identity.Grant, error) {
	return s.grants[userID], s.err
}

func grant(perm string, effect identity.Effect) identity.Grant {
	p, err := identity.ParsePermission(perm)
	if err != nil {
		panic(err)
	}
	return identity.Grant{Permission: p, Effect: effect}
}

func TestPermissionResolver_Resolve(t *testing.T) {
	store := stubPermissionStore{grants: map[string][]identity.Grant{
		"s2": {grant("courses:delete", identity.EffectGrant)},
		"i1": {grant("quizzes:grade", identity.EffectRevoke)},
	}}
	r := NewPermissionResolver(store)
	ctx := context.Background()

	plain, err := r.Resolve(ctx, &identity.User{ID: "s1", Role: identity.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, []string{"courses:read", "profile:read", "profile:update", "quizzes:attempt", "quizzes:read"}, plain.Sorted())

	granted, err := r.Resolve(ctx, &identity.User{ID: "s2", Role: identity.RoleStudent})
	require.NoError(t, err)
	assert.True(t, granted.Has("courses:delete"))

	revoked, err := r.Resolve(ctx, &identity.User{ID: "i1", Role: identity.RoleInstructor})
	require.NoError(t, err)
	assert.False(t, revoked.Has("quizzes:grade"))
	assert.True(t, revoked.Has("students:read"))
}

func TestPermissionResolver_StoreError(t *testing.T) {
	r := NewPermissionResolver(stubPermissionStore{err: errors.New("db down")})
	_, err := r.Resolve(context.Background(), &identity.User{ID: "u", Role: identity.RoleStudent})
	assert.Error(t, err)
}

func TestHasPermission_Scenario(t *testing.T) {
	r := NewPermissionResolver(stubPermissionStore{grants: map[string][]identity.Grant{
		"granted": {grant("courses:delete", identity.EffectGrant)},
	}})
	ctx := context.Background()
	principal := func(id string, role identity.Role) *Principal {
		perms, err := r.Resolve(ctx, &identity.User{ID: id, Role: role})
		require.NoError(t, err)
		return &Principal{UserID: id, Role: role, Permissions: perms}
	}

	assert.False(t, HasPermission(principal("plain", identity.RoleStudent), "courses", "delete"))
	assert.True(t, HasPermission(principal("granted", identity.RoleStudent), "courses", "delete"))
	assert.True(t, HasPermission(&Principal{UserID: "root", Role: identity.RoleAdmin}, "courses", "delete"))
	assert.False(t, HasPermission(nil, "courses", "read"))
}

func TestRolePermissions_InstructorExtendsStudent(t *testing.T) {
	instructor := NewPermissionSet(RolePermissions(identity.RoleInstructor)...)
	for _, p := range RolePermissions(identity.RoleStudent) {
		assert.True(t, instructor.Has(p), p)
	}
	assert.Nil(t, RolePermissions("guest"))
}
