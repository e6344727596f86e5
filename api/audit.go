package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/coursegate/security"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditRegister         AuditEvent = "register"
	AuditLogout           AuditEvent = "logout"
	AuditUserDeactivated  AuditEvent = "user_deactivated"
	AuditUserActivated    AuditEvent = "user_activated"
	AuditPermissionChange AuditEvent = "permission_changed"
	AuditSessionRevoked   AuditEvent = "session_revoked"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger *slog.Logger
	alerts *alertCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes one audit entry. Origin and request id come from the
// pipeline's security context when the route is protected.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if sc, ok := security.SecurityContextFrom(r.Context()); ok {
		base = append(base,
			slog.String("origin", sc.Origin),
			slog.String("route", sc.Route),
			slog.String("request_id", sc.RequestID))
	} else {
		base = append(base, slog.String("remote_addr", r.RemoteAddr))
	}
	base = append(base, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", base...)
	if event == AuditLoginFailure {
		al.alerts.recordLoginFailure()
	}
}

// logEvent is a convenience for events about a user.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, userID string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{slog.String("user_id", userID)}, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed authentication attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{slog.String("reason", reason)}, extra...)
	al.log(event, r, attrs...)
}
