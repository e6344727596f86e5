package security

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// Kind classifies a pipeline failure. Each kind has one HTTP status and
// one stable code.
type Kind int

const (
	KindInternal Kind = iota
	KindRateLimitExceeded
	KindCSRFInvalid
	KindAuthRequired
	KindTokenInvalid
	KindTokenExpired
	KindUserNotFound
	KindAccountDeactivated
	KindBruteForceLocked
	KindPermissionDenied
)

type kindInfo struct {
	code    string
	status  int
	message string
}

var kinds = map[Kind]kindInfo{
	KindInternal:           {"INTERNAL_ERROR", http.StatusInternalServerError, "internal error"},
	KindRateLimitExceeded:  {"RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests, "too many requests; try again later"},
	KindCSRFInvalid:        {"CSRF_INVALID", http.StatusForbidden, "missing or invalid CSRF token"},
	KindAuthRequired:       {"AUTH_REQUIRED", http.StatusUnauthorized, "authentication required"},
	KindTokenInvalid:       {"TOKEN_INVALID", http.StatusUnauthorized, "invalid token"},
	KindTokenExpired:       {"TOKEN_EXPIRED", http.StatusUnauthorized, "token expired"},
	KindUserNotFound:       {"USER_NOT_FOUND", http.StatusUnauthorized, "user not found"},
	KindAccountDeactivated: {"ACCOUNT_DEACTIVATED", http.StatusUnauthorized, "account deactivated"},
	KindBruteForceLocked:   {"BRUTE_FORCE_LOCKED", http.StatusTooManyRequests, "too many failed attempts; try again later"},
	KindPermissionDenied:   {"PERMISSION_DENIED", http.StatusForbidden, "permission denied"},
}

func (k Kind) info() kindInfo {
	if info, ok := kinds[k]; ok {
		return info
	}
	return kinds[KindInternal]
}

// Code is the stable machine-readable code for k.
func (k Kind) Code() string { return k.info().code }

// Status is the HTTP status for k.
func (k Kind) Status() int { return k.info().status }

func (k Kind) String() string { return k.Code() }

// Error is a terminal pipeline failure. Err holds the underlying cause for
// logs and is never sent to clients.
type Error struct {
	Kind       Kind
	RetryAfter int
	Err        error
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.Code() + ": " + e.Err.Error()
	}
	return e.Kind.Code()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// WriteError renders err as the JSON error envelope. Non-*Error values
// render as INTERNAL_ERROR.
func WriteError(w http.ResponseWriter, err error) {
	var se *Error
	if !errors.As(err, &se) {
		se = newError(KindInternal, err)
	}
	info := se.Kind.info()
	if se.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(se.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(info.status)
	json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{
		Code:              info.code,
		Message:           info.message,
		RetryAfterSeconds: se.RetryAfter,
	}})
}

var errNoTokenService = errors.New("token validation enabled without a token service")
