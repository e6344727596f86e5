package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/coursegate/identity"
	"github.com/jmcleod/coursegate/security"
	"github.com/jmcleod/coursegate/storage"
)

const maxRequestBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders the same envelope the pipeline uses so clients see
// one error shape.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, security.ErrorBody{Error: security.ErrorDetail{Code: code, Message: msg}})
}

func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, security.KindInternal.Code(), "internal error")
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrUserNotFound), storage.IsNotFound(err):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, security.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
	case errors.Is(err, identity.ErrEmailTaken):
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
	case errors.Is(err, identity.ErrInvalidPermission), errors.Is(err, identity.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		writeInternalError(w, "request failed", err)
	}
}

// decodeJSON reads a JSON body of at most limit bytes into a T. It writes
// a 400 and returns false on failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return v, false
	}
	return v, true
}
