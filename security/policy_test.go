package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	pub := DefaultPolicy("csrf-token", ClassPublic)
	assert.Equal(t, Checks{RateLimit: true}, pub.Checks)

	auth := DefaultPolicy("login", ClassAuth)
	assert.Equal(t, Checks{RateLimit: true, BruteForce: true}, auth.Checks)
	assert.Equal(t, 5, auth.BruteForceMax)
	assert.Equal(t, 15*time.Minute, auth.BruteForceWindow)
	assert.Equal(t, "email", auth.IdentityField)

	prot := DefaultPolicy("me", ClassProtected)
	assert.Equal(t, Checks{RateLimit: true, CSRF: true, Token: true, Permission: true}, prot.Checks)

	unknown := DefaultPolicy("x", RouteClass("weird"))
	assert.Equal(t, ClassProtected, unknown.Class)
}

func TestPolicy_Apply(t *testing.T) {
	base := DefaultPolicy("login", ClassAuth)
	off := false
	limit := 3
	window := 30 * time.Second

	got := base.Apply(Override{BruteForceCheck: &off, RateLimit: &limit, RateWindow: &window})
	assert.False(t, got.Checks.BruteForce)
	assert.True(t, got.Checks.RateLimit, "untouched toggle keeps its value")
	assert.Equal(t, 3, got.RateLimit)
	assert.Equal(t, 30*time.Second, got.RateWindow)
	assert.Equal(t, base.BruteForceMax, got.BruteForceMax)

	assert.True(t, base.Checks.BruteForce, "Apply does not modify the receiver")
	assert.Equal(t, base, base.Apply(Override{}))
}

func TestPolicy_WithPermission(t *testing.T) {
	p := DefaultPolicy("deactivate", ClassProtected).WithPermission("users", "update")
	assert.Equal(t, "users", p.Resource)
	assert.Equal(t, "update", p.Action)
	assert.True(t, p.Checks.Permission)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy("me", ClassProtected).Validate())

	zero := 0
	bad := DefaultPolicy("login", ClassAuth).Apply(Override{RateLimit: &zero, BruteForceMax: &zero})
	err := bad.Validate()
	assert.ErrorContains(t, err, "rate limit")
	assert.ErrorContains(t, err, "brute-force")

	assert.ErrorContains(t, Policy{}.Validate(), "route name")
}
