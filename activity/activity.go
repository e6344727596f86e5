// Package activity records per-request user activity off the request path.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/coursegate/internal/uuid"
	"github.com/jmcleod/coursegate/storage"
)

// Entry is one recorded request.
type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Route      string    `json:"route"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Origin     string    `json:"origin"`
	Agent      string    `json:"agent,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	StatusCode int       `json:"status_code"`
	// Outcome is "allowed" or the error code that short-circuited the request.
	Outcome    string    `json:"outcome"`
	DurationMs int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// Sink persists activity entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

const (
	activityBucket     = "activity"
	activityRecordType = "ENTRY"
)

// RepositorySink stores entries in a storage.Repository keyed by
// time-ordered IDs.
type RepositorySink struct {
	repo storage.Repository
}

// NewRepositorySink creates a Sink backed by repo.
func NewRepositorySink(repo storage.Repository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewOrdered()
	}
	if err := storage.PutJSON(s.repo, activityBucket, activityRecordType, e.ID, e); err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// List returns entries for userID (all users when empty), oldest first.
func (s *RepositorySink) List(ctx context.Context, userID string) ([]Entry, error) {
	var out []Entry
	err := s.repo.Scan(activityBucket, activityRecordType, "", func(_ string, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil
		}
		if userID == "" || e.UserID == userID {
			out = append(out, e)
		}
		return nil
	})
	if err != nil && !storage.IsNotFound(err) {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return out, nil
}

// LogSink writes entries to a slog.Logger. Used when no durable store is
// configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "activity")}
}

func (s *LogSink) Record(ctx context.Context, e Entry) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "request",
		slog.String("route", e.Route),
		slog.String("method", e.Method),
		slog.String("path", e.Path),
		slog.String("user_id", e.UserID),
		slog.String("origin", e.Origin),
		slog.Int("status", e.StatusCode),
		slog.String("outcome", e.Outcome),
		slog.Int64("duration_ms", e.DurationMs),
		slog.String("request_id", e.RequestID),
	)
	return nil
}
