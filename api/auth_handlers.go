package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/coursegate/attemptlog"
	"github.com/jmcleod/coursegate/identity"
	"github.com/jmcleod/coursegate/security"
)

const (
	minPasswordLen = 10
	maxPasswordLen = 72 // bcrypt ignores anything longer
)

// Attempt failure reasons stored in the attempt log.
const (
	reasonInvalidCredentials = "invalid_credentials"
	reasonDeactivated        = "account_deactivated"
	reasonNotAdmin           = "not_admin"
)

// Register handles POST /auth/register. New accounts are always students.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RegisterRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLen || len(req.Password) > maxPasswordLen {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST",
			fmt.Sprintf("password must be %d-%d characters", minPasswordLen, maxPasswordLen))
		return
	}

	user, err := a.users.CreateUser(r.Context(), req.Email, req.Password, identity.RoleStudent)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditRegister, r, user.ID)
	writeJSON(w, http.StatusCreated, userView(user))
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	a.login(w, r, false)
}

// AdminLogin handles POST /auth/admin/login. Only admins may sign in here;
// anyone else is refused as if the credentials were wrong.
func (a *API) AdminLogin(w http.ResponseWriter, r *http.Request) {
	a.login(w, r, true)
}

func (a *API) login(w http.ResponseWriter, r *http.Request, adminOnly bool) {
	req, ok := decodeJSON[LoginRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "email and password are required")
		return
	}

	user, err := a.users.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		a.loginFailed(w, r, req.Email, reasonInvalidCredentials)
		return
	case err != nil:
		writeInternalError(w, "authenticating user", err)
		return
	}
	if adminOnly && user.Role != identity.RoleAdmin {
		a.loginFailed(w, r, req.Email, reasonNotAdmin)
		return
	}
	if !user.Active {
		a.recordAttempt(r, req.Email, false, reasonDeactivated)
		a.metrics.LoginAttempt("failure")
		a.audit.logFailure(AuditLoginFailure, r, reasonDeactivated, slog.String("user_id", user.ID))
		security.WriteError(w, &security.Error{Kind: security.KindAccountDeactivated})
		return
	}

	issued, err := a.tokens.Issue(r.Context(), user)
	if err != nil {
		writeInternalError(w, "issuing token", err)
		return
	}
	a.recordAttempt(r, req.Email, true, "")
	a.metrics.LoginAttempt("success")
	a.audit.logEvent(AuditLoginSuccess, r, user.ID, slog.Bool("admin", adminOnly))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     issued.Token,
		TokenType: "Bearer",
		ExpiresAt: issued.ExpiresAt,
		User:      userView(user),
	})
}

func (a *API) loginFailed(w http.ResponseWriter, r *http.Request, email, reason string) {
	a.recordAttempt(r, email, false, reason)
	a.metrics.LoginAttempt("failure")
	a.audit.logFailure(AuditLoginFailure, r, reason)
	writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
}

// recordAttempt appends to the attempt log. A write failure is logged and
// does not change the response.
func (a *API) recordAttempt(r *http.Request, email string, success bool, reason string) {
	attempt := attemptlog.Attempt{
		Identity: email,
		Agent:    r.UserAgent(),
		Success:  success,
		Reason:   reason,
	}
	if sc, ok := security.SecurityContextFrom(r.Context()); ok {
		attempt.Origin = sc.Origin
		attempt.Route = sc.Route
		attempt.CreatedAt = sc.Timestamp
	}
	if err := a.attempts.Append(r.Context(), attempt); err != nil {
		a.audit.logger.Error("appending login attempt failed", "error", err)
	}
}

// Logout handles POST /auth/logout by revoking the caller's session.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := security.PrincipalFrom(r.Context())
	if !ok {
		security.WriteError(w, &security.Error{Kind: security.KindAuthRequired})
		return
	}
	if err := a.tokens.Revoke(r.Context(), p.SessionID); err != nil && !errors.Is(err, security.ErrSessionNotFound) {
		writeInternalError(w, "revoking session", err)
		return
	}
	clearSessionCookie(w, r)
	a.audit.logEvent(AuditLogout, r, p.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := security.PrincipalFrom(r.Context())
	if !ok {
		security.WriteError(w, &security.Error{Kind: security.KindAuthRequired})
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		UserID:      p.UserID,
		Email:       p.Email,
		Role:        p.Role,
		Permissions: p.Permissions.Sorted(),
		SessionID:   p.SessionID,
	})
}

// MyActivity handles GET /me/activity.
func (a *API) MyActivity(w http.ResponseWriter, r *http.Request) {
	p, ok := security.PrincipalFrom(r.Context())
	if !ok {
		security.WriteError(w, &security.Error{Kind: security.KindAuthRequired})
		return
	}
	a.writeActivity(w, r, p.UserID)
}
