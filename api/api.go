package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/coursegate/activity"
	"github.com/jmcleod/coursegate/attemptlog"
	"github.com/jmcleod/coursegate/identity"
	"github.com/jmcleod/coursegate/security"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	users    *identity.RepositoryStore
	perms    *security.PermissionResolver
	tokens   *security.TokenService
	pipeline *security.Pipeline
	csrf     *security.CSRFStore
	attempts *attemptlog.RepositoryLog
	activity *activity.RepositorySink
	metrics  *security.Metrics
	audit    *auditLogger
	alerts   *alertCollector
	now      func() time.Time
}

// Deps are the collaborators the handlers need. Activity and Metrics may
// be nil.
type Deps struct {
	Users    *identity.RepositoryStore
	Perms    *security.PermissionResolver
	Tokens   *security.TokenService
	Pipeline *security.Pipeline
	Store    *security.Store
	Attempts *attemptlog.RepositoryLog
	Activity *activity.RepositorySink
	Metrics  *security.Metrics
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithAlerts raises fn when threshold login failures land inside window.
func WithAlerts(fn AlertFunc, threshold int, window time.Duration) Option {
	return func(a *API) {
		a.alerts = newAlertCollector(fn, threshold, window)
	}
}

// New creates a new API instance.
func New(deps Deps, opts ...Option) *API {
	a := &API{
		users:    deps.Users,
		perms:    deps.Perms,
		tokens:   deps.Tokens,
		pipeline: deps.Pipeline,
		attempts: deps.Attempts,
		activity: deps.Activity,
		metrics:  deps.Metrics,
		now:      time.Now,
	}
	if deps.Store != nil {
		a.csrf = deps.Store.CSRF
		a.now = deps.Store.Now
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	a.audit.alerts = a.alerts
	return a
}

// Policies used by Router. Route names are the keys accepted under
// security.routes in the config file.
var (
	policyCSRFToken  = security.DefaultPolicy("csrf.token", security.ClassPublic)
	policyRegister   = registerPolicy()
	policyLogin      = security.DefaultPolicy("auth.login", security.ClassAuth)
	policyAdminLogin = security.DefaultPolicy("auth.admin_login", security.ClassAuth)
	policyLogout     = security.DefaultPolicy("auth.logout", security.ClassProtected)
	policyMe         = security.DefaultPolicy("me", security.ClassProtected)
	policyMyActivity = security.DefaultPolicy("me.activity", security.ClassProtected)

	policyDeactivate   = security.DefaultPolicy("admin.users.deactivate", security.ClassProtected).WithPermission("users", "update")
	policyActivate     = security.DefaultPolicy("admin.users.activate", security.ClassProtected).WithPermission("users", "update")
	policyPermissions  = security.DefaultPolicy("admin.users.permissions", security.ClassProtected).WithPermission("permissions", "manage")
	policyUserActivity = security.DefaultPolicy("admin.users.activity", security.ClassProtected).WithPermission("users", "read")
	policyRevokeSess   = security.DefaultPolicy("admin.sessions.revoke", security.ClassProtected).WithPermission("sessions", "revoke")
	policyAttempts     = security.DefaultPolicy("admin.attempts", security.ClassProtected).WithPermission("attempts", "read")
)

// Policies returns the base policy of every route keyed by route name.
func Policies() map[string]security.Policy {
	out := make(map[string]security.Policy)
	for _, p := range []security.Policy{
		policyCSRFToken, policyRegister, policyLogin, policyAdminLogin, policyLogout,
		policyMe, policyMyActivity, policyDeactivate, policyActivate, policyPermissions,
		policyUserActivity, policyRevokeSess, policyAttempts,
	} {
		out[p.Route] = p
	}
	return out
}

func registerPolicy() security.Policy {
	p := security.DefaultPolicy("auth.register", security.ClassAuth)
	p.RateLimit = 10
	return p
}

// protect wraps h in the pipeline for pol. A zero-value API (used when
// only walking routes) has no pipeline and serves h directly.
func (a *API) protect(pol security.Policy, h http.HandlerFunc) http.Handler {
	if a.pipeline == nil {
		return h
	}
	return a.pipeline.Protect(pol)(h)
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Method(http.MethodGet, "/csrf-token", a.protect(policyCSRFToken, a.CSRFToken))

	r.Method(http.MethodPost, "/auth/register", a.protect(policyRegister, a.Register))
	r.Method(http.MethodPost, "/auth/login", a.protect(policyLogin, a.Login))
	r.Method(http.MethodPost, "/auth/admin/login", a.protect(policyAdminLogin, a.AdminLogin))
	r.Method(http.MethodPost, "/auth/logout", a.protect(policyLogout, a.Logout))

	r.Method(http.MethodGet, "/me", a.protect(policyMe, a.Me))
	r.Method(http.MethodGet, "/me/activity", a.protect(policyMyActivity, a.MyActivity))

	r.Route("/admin", func(r chi.Router) {
		r.Method(http.MethodPost, "/users/{userID}/deactivate", a.protect(policyDeactivate, a.DeactivateUser))
		r.Method(http.MethodPost, "/users/{userID}/activate", a.protect(policyActivate, a.ActivateUser))
		r.Method(http.MethodPut, "/users/{userID}/permissions", a.protect(policyPermissions, a.UpdatePermissions))
		r.Method(http.MethodGet, "/users/{userID}/activity", a.protect(policyUserActivity, a.UserActivity))
		r.Method(http.MethodDelete, "/sessions/{sessionID}", a.protect(policyRevokeSess, a.RevokeSession))
		r.Method(http.MethodGet, "/attempts", a.protect(policyAttempts, a.ListAttempts))
	})

	return r
}
