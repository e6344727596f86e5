package api

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/coursegate/attemptlog"
	"github.com/jmcleod/coursegate/identity"
	"github.com/jmcleod/coursegate/security"
)

// DeactivateUser handles POST /admin/users/{userID}/deactivate. Every
// session of the user is revoked so outstanding tokens stop working
// immediately.
func (a *API) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	user, err := a.users.SetActive(r.Context(), userID, false)
	if err != nil {
		mapError(w, err)
		return
	}
	revoked, err := a.tokens.RevokeUser(r.Context(), userID)
	if err != nil {
		writeInternalError(w, "revoking user sessions", err)
		return
	}
	a.audit.logEvent(AuditUserDeactivated, r, userID,
		slog.String("actor", actorID(r)), slog.Int("revoked_sessions", revoked))
	writeJSON(w, http.StatusOK, UserStatusResponse{User: userView(user), RevokedSessions: revoked})
}

// ActivateUser handles POST /admin/users/{userID}/activate.
func (a *API) ActivateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	user, err := a.users.SetActive(r.Context(), userID, true)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditUserActivated, r, userID, slog.String("actor", actorID(r)))
	writeJSON(w, http.StatusOK, UserStatusResponse{User: userView(user)})
}

// UpdatePermissions handles PUT /admin/users/{userID}/permissions. Clears
// run first, then grants, then revokes; the response lists the user's
// effective permissions afterwards.
func (a *API) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	req, ok := decodeJSON[UpdatePermissionsRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	type change struct {
		perm   identity.Permission
		effect identity.Effect // empty means clear
	}
	var changes []change
	for _, group := range []struct {
		perms  []string
		effect identity.Effect
	}{{req.Clear, ""}, {req.Grant, identity.EffectGrant}, {req.Revoke, identity.EffectRevoke}} {
		for _, s := range group.perms {
			p, err := identity.ParsePermission(s)
			if err != nil {
				mapError(w, err)
				return
			}
			changes = append(changes, change{perm: p, effect: group.effect})
		}
	}

	user, err := a.users.FindUserByID(r.Context(), userID)
	if err != nil {
		mapError(w, err)
		return
	}
	for _, c := range changes {
		if c.effect == "" {
			err = a.users.ClearGrant(r.Context(), userID, c.perm)
		} else {
			err = a.users.SetGrant(r.Context(), userID, identity.Grant{Permission: c.perm, Effect: c.effect})
		}
		if err != nil {
			mapError(w, err)
			return
		}
	}

	perms, err := a.perms.Resolve(r.Context(), user)
	if err != nil {
		writeInternalError(w, "resolving permissions", err)
		return
	}
	a.audit.logEvent(AuditPermissionChange, r, userID,
		slog.String("actor", actorID(r)),
		slog.String("grant", strings.Join(req.Grant, ",")),
		slog.String("revoke", strings.Join(req.Revoke, ",")),
		slog.String("clear", strings.Join(req.Clear, ",")))
	writeJSON(w, http.StatusOK, PermissionsResponse{UserID: userID, Permissions: perms.Sorted()})
}

// RevokeSession handles DELETE /admin/sessions/{sessionID}.
func (a *API) RevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := a.tokens.Revoke(r.Context(), sessionID); err != nil {
		if errors.Is(err, security.ErrSessionNotFound) {
			mapError(w, err)
			return
		}
		writeInternalError(w, "revoking session", err)
		return
	}
	a.audit.log(AuditSessionRevoked, r, slog.String("actor", actorID(r)))
	w.WriteHeader(http.StatusNoContent)
}

// ListAttempts handles GET /admin/attempts. Supported query parameters are
// identity, origin, failed=true, limit and offset.
func (a *API) ListAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	attempts, err := a.attempts.Recent(r.Context(), attemptlog.Filter{
		Identity:   q.Get("identity"),
		Origin:     q.Get("origin"),
		FailedOnly: q.Get("failed") == "true",
	}, 0)
	if err != nil {
		writeInternalError(w, "listing attempts", err)
		return
	}
	page, meta := paginate(r, attempts)
	writeJSON(w, http.StatusOK, ListAttemptsResponse{Attempts: page, PaginationMeta: meta})
}

// UserActivity handles GET /admin/users/{userID}/activity.
func (a *API) UserActivity(w http.ResponseWriter, r *http.Request) {
	a.writeActivity(w, r, chi.URLParam(r, "userID"))
}

func (a *API) writeActivity(w http.ResponseWriter, r *http.Request, userID string) {
	if a.activity == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "activity is not persisted on this server")
		return
	}
	entries, err := a.activity.List(r.Context(), userID)
	if err != nil {
		writeInternalError(w, "listing activity", err)
		return
	}
	slices.Reverse(entries)
	page, meta := paginate(r, entries)
	writeJSON(w, http.StatusOK, ListActivityResponse{Entries: page, PaginationMeta: meta})
}

func actorID(r *http.Request) string {
	if p, ok := security.PrincipalFrom(r.Context()); ok {
		return p.UserID
	}
	return ""
}
