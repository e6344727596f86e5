// Package identity holds user accounts, roles and per-user permission
// overrides. It backs the Identity Store and Permission Store consumed by the
// security pipeline.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidPermission  = errors.New("invalid permission")
)

// Role is one of a fixed set of platform roles.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	// RoleAdmin is the highest-privilege role.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole converts s to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidRole)
	}
	return r, nil
}

// User is an account as seen by the security pipeline.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Permission is a capability on a resource, written "resource:action".
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// ParsePermission parses "resource:action".
func ParsePermission(s string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return Permission{}, fmt.Errorf("%q: %w", s, ErrInvalidPermission)
	}
	return Permission{Resource: resource, Action: action}, nil
}

// Effect says whether a per-user override adds or removes a permission.
type Effect string

const (
	EffectGrant  Effect = "grant"
	EffectRevoke Effect = "revoke"
)

// Grant is a per-user permission override.
type Grant struct {
	Permission
	Effect Effect `json:"effect"`
}

// Store looks up users by ID.
type Store interface {
	// FindUserByID returns ErrUserNotFound when no such user exists.
	FindUserByID(ctx context.Context, id string) (*User, error)
}

// PermissionStore returns the per-user overrides for a user.
type PermissionStore interface {
	UserPermissions(ctx context.Context, userID string) ([]Grant, error)
}
