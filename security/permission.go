package security

import (
	"context"
	"fmt"
	"slices"

	"github.com/jmcleod/coursegate/identity"
)

// PermissionSet is a set of "resource:action" strings.
type PermissionSet map[string]struct{}

func NewPermissionSet(perms ...string) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

// Sorted returns the permissions in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

var studentPermissions = []string{
	"courses:read",
	"quizzes:read",
	"quizzes:attempt",
	"profile:read",
	"profile:update",
}

var instructorPermissions = append(slices.Clone(studentPermissions),
	"courses:create",
	"courses:update",
	"quizzes:create",
	"quizzes:update",
	"quizzes:grade",
	"students:read",
)

// adminPermissions is informational; admins bypass permission checks.
var adminPermissions = append(slices.Clone(instructorPermissions),
	"courses:delete",
	"quizzes:delete",
	"users:read",
	"users:update",
	"permissions:manage",
	"sessions:revoke",
	"attempts:read",
)

// RolePermissions returns the default permissions of role.
func RolePermissions(role identity.Role) []string {
	switch role {
	case identity.RoleStudent:
		return slices.Clone(studentPermissions)
	case identity.RoleInstructor:
		return slices.Clone(instructorPermissions)
	case identity.RoleAdmin:
		return slices.Clone(adminPermissions)
	}
	return nil
}

// PermissionResolver computes effective permissions: role defaults plus
// per-user grants, minus per-user revocations.
type PermissionResolver struct {
	store identity.PermissionStore
}

func NewPermissionResolver(store identity.PermissionStore) *PermissionResolver {
	return &PermissionResolver{store: store}
}

func (r *PermissionResolver) Resolve(ctx context.Context, user *identity.User) (PermissionSet, error) {
	set := NewPermissionSet(RolePermissions(user.Role)...)
	if r.store == nil {
		return set, nil
	}
	grants, err := r.store.UserPermissions(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("loading permissions for %s: %w", user.ID, err)
	}
	for _, g := range grants {
		if g.Effect == identity.EffectGrant {
			set[g.String()] = struct{}{}
		}
	}
	for _, g := range grants {
		if g.Effect == identity.EffectRevoke {
			delete(set, g.String())
		}
	}
	return set, nil
}

// HasPermission reports whether p may perform action on resource. Admins
// are always allowed.
func HasPermission(p *Principal, resource, action string) bool {
	if p == nil {
		return false
	}
	if p.Role == identity.RoleAdmin {
		return true
	}
	return p.Permissions.Has(resource + ":" + action)
}
