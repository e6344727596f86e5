package api

import (
	"net/http"
	"time"

	"github.com/jmcleod/coursegate/internal/util"
	"github.com/jmcleod/coursegate/security"
)

const csrfSessionBytes = 32

// CSRFToken handles GET /csrf-token. It reuses the caller's CSRF session
// when one is presented and starts a new one otherwise. Issuing replaces
// any earlier token for the session.
func (a *API) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sid := security.CSRFSessionID(r)
	if sid == "" {
		var err error
		sid, err = util.RandomToken(csrfSessionBytes)
		if err != nil {
			writeInternalError(w, "failed to create csrf session", err)
			return
		}
	}
	token, expiresAt, err := a.csrf.Issue(sid)
	if err != nil {
		writeInternalError(w, "failed to issue csrf token", err)
		return
	}
	writeSessionCookie(w, r, sid, expiresAt)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, CSRFTokenResponse{Token: token, SessionID: sid, ExpiresAt: expiresAt})
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, sid string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     security.SessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  expiresAt,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     security.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// requestSecure reads the pipeline's TLS verdict, which already accounts
// for trusted proxies. Without one only a direct TLS connection counts.
func requestSecure(r *http.Request) bool {
	if sc, ok := security.SecurityContextFrom(r.Context()); ok {
		return sc.Secure
	}
	return r.TLS != nil
}
