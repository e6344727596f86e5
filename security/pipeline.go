package security

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/coursegate/activity"
	"github.com/jmcleod/coursegate/internal/uuid"
)

const maxIdentityBody = 64 << 10

// ActivityRecorder accepts activity entries without blocking.
type ActivityRecorder interface {
	Submit(e activity.Entry) bool
}

// PipelineConfig wires a Pipeline's collaborators. Store is required;
// the rest may be nil, in which case the checks that need them are
// treated as internal failures (Tokens) or skipped (BruteForce, Activity).
type PipelineConfig struct {
	Store          *Store
	Tokens         *TokenService
	BruteForce     *BruteForceGuard
	Activity       ActivityRecorder
	Metrics        *Metrics
	Logger         *slog.Logger
	TrustedProxies []netip.Prefix
}

// Pipeline runs the per-request checks in a fixed order: rate limit,
// CSRF, token, brute force, permission. The first failure ends the
// request.
type Pipeline struct {
	store          *Store
	tokens         *TokenService
	bruteForce     *BruteForceGuard
	activity       ActivityRecorder
	metrics        *Metrics
	logger         *slog.Logger
	trustedProxies []netip.Prefix

	overrides atomic.Pointer[map[string]Override]
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:          cfg.Store,
		tokens:         cfg.Tokens,
		bruteForce:     cfg.BruteForce,
		activity:       cfg.Activity,
		metrics:        cfg.Metrics,
		logger:         logger.With("component", "pipeline"),
		trustedProxies: cfg.TrustedProxies,
	}
}

// SetOverrides replaces the per-route overrides. Requests already in
// flight keep the policy they started with.
func (p *Pipeline) SetOverrides(overrides map[string]Override) {
	cp := maps.Clone(overrides)
	p.overrides.Store(&cp)
}

// Effective returns base with any override for base.Route applied.
func (p *Pipeline) Effective(base Policy) Policy {
	m := p.overrides.Load()
	if m == nil {
		return base
	}
	if o, ok := (*m)[base.Route]; ok {
		return base.Apply(o)
	}
	return base
}

// Protect returns middleware enforcing policy. Overrides are resolved per
// request so reloaded configuration applies without rebuilding routes.
func (p *Pipeline) Protect(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			pol := p.Effective(policy)
			sc := SecurityContext{
				Route:     pol.Route,
				Origin:    ClientOrigin(r, p.trustedProxies),
				Agent:     r.UserAgent(),
				RequestID: requestID(r),
				Timestamp: p.store.Now(),
				Secure:    RequestIsSecure(r, p.trustedProxies),
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set("X-Request-ID", sc.RequestID)
			SetSecurityHeaders(ww, sc.Secure)
			if pol.Checks.CSRF {
				ww.Header().Set("X-CSRF-Required", "true")
			}

			var principal *Principal
			outcome := "allowed"
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					outcome = KindInternal.Code()
					p.logger.Error("panic while serving request",
						"route", pol.Route, "request_id", sc.RequestID, "panic", rec)
					if ww.Status() == 0 {
						WriteError(ww, newError(KindInternal, nil))
					}
				}
				p.record(r, sc, principal, ww.Status(), outcome, started)
			}()

			var err error
			principal, err = p.evaluate(ww, r, pol, sc)
			p.metrics.observeLatency(pol.Route, time.Since(started))
			if err != nil {
				outcome = KindOf(err).Code()
				p.logDenied(pol, sc, err)
				WriteError(ww, err)
				return
			}

			ctx := WithSecurityContext(r.Context(), sc)
			if principal != nil {
				ctx = WithPrincipal(ctx, principal)
			}
			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}

func (p *Pipeline) evaluate(w http.ResponseWriter, r *http.Request, pol Policy, sc SecurityContext) (*Principal, error) {
	ctx := r.Context()
	bearer := BearerToken(r)

	if pol.Checks.RateLimit {
		client := sc.Origin
		if p.tokens != nil {
			if sub, ok := p.tokens.Subject(bearer); ok {
				client = sub
			}
		}
		d := p.store.RateLimits.Check(pol.Route+":"+client, pol.RateLimit, pol.RateWindow)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if !d.Allowed {
			p.metrics.decision(pol.Route, "rate_limit", "deny")
			return nil, &Error{Kind: KindRateLimitExceeded, RetryAfter: d.RetryAfter}
		}
		p.metrics.decision(pol.Route, "rate_limit", "allow")
	}

	if pol.Checks.CSRF && stateChanging(r.Method) {
		if !p.store.CSRF.Validate(CSRFSessionID(r), r.Header.Get(CSRFHeader)) {
			p.metrics.decision(pol.Route, "csrf", "deny")
			return nil, newError(KindCSRFInvalid, nil)
		}
		p.metrics.decision(pol.Route, "csrf", "allow")
	}

	var principal *Principal
	if pol.Checks.Token {
		if p.tokens == nil {
			return nil, newError(KindInternal, errNoTokenService)
		}
		pr, err := p.tokens.Validate(ctx, bearer)
		if err != nil {
			p.metrics.decision(pol.Route, "token", "deny")
			return nil, err
		}
		p.metrics.decision(pol.Route, "token", "allow")
		principal = pr
	}

	if pol.Checks.BruteForce && p.bruteForce != nil {
		hint := ""
		if principal != nil {
			hint = principal.Email
		} else {
			hint = identityHint(r, pol.IdentityField)
		}
		v := p.bruteForce.Check(ctx, hint, sc.Origin, pol.BruteForceMax, pol.BruteForceWindow)
		if !v.Allowed {
			p.metrics.decision(pol.Route, "brute_force", "deny")
			return nil, &Error{Kind: KindBruteForceLocked, RetryAfter: v.RetryAfter}
		}
		p.metrics.decision(pol.Route, "brute_force", "allow")
	}

	if pol.Checks.Permission && pol.Resource != "" {
		if principal == nil {
			p.metrics.decision(pol.Route, "permission", "deny")
			return nil, newError(KindAuthRequired, nil)
		}
		if !HasPermission(principal, pol.Resource, pol.Action) {
			p.metrics.decision(pol.Route, "permission", "deny")
			return nil, newError(KindPermissionDenied, nil)
		}
		p.metrics.decision(pol.Route, "permission", "allow")
	}
	return principal, nil
}

func (p *Pipeline) logDenied(pol Policy, sc SecurityContext, err error) {
	kind := KindOf(err)
	attrs := []any{
		"route", pol.Route,
		"code", kind.Code(),
		"origin", sc.Origin,
		"request_id", sc.RequestID,
	}
	switch kind {
	case KindBruteForceLocked:
		p.logger.Warn("authentication locked out", attrs...)
	case KindInternal:
		p.logger.Error("pipeline failure", append(attrs, "error", err)...)
	case KindAuthRequired:
		if se, ok := err.(*Error); ok && se.Err != nil {
			p.logger.Warn("authentication unavailable", append(attrs, "error", se.Err)...)
			return
		}
		p.logger.Debug("request denied", attrs...)
	default:
		p.logger.Debug("request denied", attrs...)
	}
}

func (p *Pipeline) record(r *http.Request, sc SecurityContext, principal *Principal, status int, outcome string, started time.Time) {
	if p.activity == nil {
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	e := activity.Entry{
		Route:      sc.Route,
		Method:     r.Method,
		Path:       r.URL.Path,
		Origin:     sc.Origin,
		Agent:      sc.Agent,
		RequestID:  sc.RequestID,
		StatusCode: status,
		Outcome:    outcome,
		DurationMs: time.Since(started).Milliseconds(),
		At:         sc.Timestamp,
	}
	if principal != nil {
		e.UserID = principal.UserID
	}
	p.activity.Submit(e)
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.New()
}

// identityHint reads field from a JSON request body and restores the body
// for the handler.
func identityHint(r *http.Request, field string) string {
	if r.Body == nil || r.Body == http.NoBody || field == "" {
		return ""
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxIdentityBody))
	r.Body = readCloser{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil {
		return ""
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(head, &doc); err != nil {
		return ""
	}
	var hint string
	if err := json.Unmarshal(doc[field], &hint); err != nil {
		return ""
	}
	return hint
}

type readCloser struct {
	io.Reader
	io.Closer
}
