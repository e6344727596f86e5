package security

import (
	"context"
	"time"
)

type principalKey struct{}
type securityContextKey struct{}

// SecurityContext describes the caller of one request. It is built once
// by the pipeline and never modified.
type SecurityContext struct {
	Route     string
	Origin    string
	Agent     string
	RequestID string
	Timestamp time.Time
	// Secure is true when the request arrived over TLS, directly or via a
	// trusted proxy.
	Secure bool
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated principal, if the route
// validated a token.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

func WithSecurityContext(ctx context.Context, sc SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

func SecurityContextFrom(ctx context.Context) (SecurityContext, bool) {
	sc, ok := ctx.Value(securityContextKey{}).(SecurityContext)
	return sc, ok
}
