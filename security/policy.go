package security

import (
	"errors"
	"fmt"
	"time"
)

// RouteClass selects the default checks for a route.
type RouteClass string

const (
	ClassPublic    RouteClass = "public"
	ClassAuth      RouteClass = "auth"
	ClassProtected RouteClass = "protected"
)

// Checks toggles the five pipeline checks.
type Checks struct {
	RateLimit  bool
	CSRF       bool
	Token      bool
	BruteForce bool
	Permission bool
}

// Policy configures the pipeline for one route.
type Policy struct {
	// Route names the route in rate-limit keys and config overrides.
	Route  string
	Class  RouteClass
	Checks Checks

	RateLimit  int
	RateWindow time.Duration

	BruteForceMax    int
	BruteForceWindow time.Duration

	// Resource and Action name the permission required when
	// Checks.Permission is set.
	Resource string
	Action   string

	// IdentityField is the JSON body field holding the login identity on
	// auth routes.
	IdentityField string
}

// DefaultPolicy returns the defaults for class. Unknown classes get the
// protected defaults.
func DefaultPolicy(route string, class RouteClass) Policy {
	p := Policy{
		Route:            route,
		Class:            class,
		RateLimit:        100,
		RateWindow:       time.Minute,
		BruteForceMax:    DefaultBruteForceMax,
		BruteForceWindow: DefaultBruteForceWindow,
		IdentityField:    "email",
	}
	switch class {
	case ClassPublic:
		p.Checks = Checks{RateLimit: true}
	case ClassAuth:
		p.Checks = Checks{RateLimit: true, BruteForce: true}
		p.RateLimit = 20
	default:
		p.Class = ClassProtected
		p.Checks = Checks{RateLimit: true, CSRF: true, Token: true, Permission: true}
	}
	return p
}

// WithPermission returns a copy of p requiring resource:action.
func (p Policy) WithPermission(resource, action string) Policy {
	p.Resource = resource
	p.Action = action
	p.Checks.Permission = true
	return p
}

// Override holds optional replacements for Policy fields. Nil fields keep
// the policy's value.
type Override struct {
	RateLimitCheck  *bool
	CSRFCheck       *bool
	TokenCheck      *bool
	BruteForceCheck *bool
	PermissionCheck *bool

	RateLimit        *int
	RateWindow       *time.Duration
	BruteForceMax    *int
	BruteForceWindow *time.Duration
}

// Apply returns p with the non-nil fields of o applied.
func (p Policy) Apply(o Override) Policy {
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setBool(&p.Checks.RateLimit, o.RateLimitCheck)
	setBool(&p.Checks.CSRF, o.CSRFCheck)
	setBool(&p.Checks.Token, o.TokenCheck)
	setBool(&p.Checks.BruteForce, o.BruteForceCheck)
	setBool(&p.Checks.Permission, o.PermissionCheck)
	if o.RateLimit != nil {
		p.RateLimit = *o.RateLimit
	}
	if o.RateWindow != nil {
		p.RateWindow = *o.RateWindow
	}
	if o.BruteForceMax != nil {
		p.BruteForceMax = *o.BruteForceMax
	}
	if o.BruteForceWindow != nil {
		p.BruteForceWindow = *o.BruteForceWindow
	}
	return p
}

// Validate reports configuration that the pipeline cannot enforce.
func (p Policy) Validate() error {
	var errs []error
	if p.Route == "" {
		errs = append(errs, errors.New("route name is required"))
	}
	if p.Checks.RateLimit && (p.RateLimit <= 0 || p.RateWindow <= 0) {
		errs = append(errs, fmt.Errorf("%s: rate limit and window must be positive", p.Route))
	}
	if p.Checks.BruteForce && (p.BruteForceMax <= 0 || p.BruteForceWindow <= 0) {
		errs = append(errs, fmt.Errorf("%s: brute-force max and window must be positive", p.Route))
	}
	if p.Checks.Permission && p.Resource != "" && p.Action == "" {
		errs = append(errs, fmt.Errorf("%s: permission action is required", p.Route))
	}
	return errors.Join(errs...)
}
