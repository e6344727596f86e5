// Package attemptlog is the durable, append-only log of authentication
// attempts. The brute-force guard reads it; the login flow writes it.
package attemptlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmcleod/coursegate/internal/util"
	"github.com/jmcleod/coursegate/internal/uuid"
	"github.com/jmcleod/coursegate/storage"
)

const (
	attemptBucket     = "attempts"
	attemptRecordType = "ATTEMPT"
	// keyTimeWidth zero-pads UnixNano so keys sort chronologically.
	keyTimeWidth = 20
)

// Attempt is one authentication attempt, successful or not.
type Attempt struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Origin    string    `json:"origin"`
	Agent     string    `json:"agent,omitempty"`
	Route     string    `json:"route,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is the attempt log collaborator.
type Log interface {
	Append(ctx context.Context, attempt Attempt) error
	// CountFailed counts failed attempts at or after since whose identity
	// OR origin matches. An empty identity or origin matches nothing.
	CountFailed(ctx context.Context, identity, origin string, since time.Time) (int, error)
	// FailedSince is CountFailed plus the time of the oldest counted
	// failure, which bounds how long the count can stay at its value.
	FailedSince(ctx context.Context, identity, origin string, since time.Time) (Failures, error)
}

// Failures summarises the failed attempts inside a window.
type Failures struct {
	Count int
	// Oldest is the earliest counted failure; zero when Count is 0.
	Oldest time.Time
}

// Filter narrows Recent.
type Filter struct {
	Identity string
	Origin   string
	Since    time.Time
	// FailedOnly drops successful attempts.
	FailedOnly bool
}

// RepositoryLog implements Log on top of a storage.Repository. Record IDs
// begin with the attempt's timestamp so range scans start at the window edge.
type RepositoryLog struct {
	repo storage.Repository
	now  func() time.Time
}

var _ Log = (*RepositoryLog)(nil)

// NewRepositoryLog creates a Log that persists to repo.
func NewRepositoryLog(repo storage.Repository) *RepositoryLog {
	return &RepositoryLog{repo: repo, now: time.Now}
}

func timeKey(t time.Time) string {
	return fmt.Sprintf("%0*d", keyTimeWidth, t.UnixNano())
}

// Append stores a new attempt. Identity is normalised before storage and a
// missing timestamp defaults to now.
func (l *RepositoryLog) Append(ctx context.Context, a Attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Identity = util.NormalizeIdentity(a.Identity)
	a.ID = timeKey(a.CreatedAt) + "-" + uuid.New()
	if err := storage.PutJSON(l.repo, attemptBucket, attemptRecordType, a.ID, a); err != nil {
		return fmt.Errorf("appending attempt: %w", err)
	}
	return nil
}

func matches(a Attempt, identity, origin string) bool {
	if identity != "" && a.Identity == identity {
		return true
	}
	return origin != "" && a.Origin == origin
}

// CountFailed implements Log.
func (l *RepositoryLog) CountFailed(ctx context.Context, identity, origin string, since time.Time) (int, error) {
	f, err := l.FailedSince(ctx, identity, origin, since)
	return f.Count, err
}

// FailedSince implements Log. Records are scanned in time order, so the
// first match is the oldest.
func (l *RepositoryLog) FailedSince(ctx context.Context, identity, origin string, since time.Time) (Failures, error) {
	identity = util.NormalizeIdentity(identity)
	var f Failures
	err := l.scanSince(ctx, since, func(a Attempt) error {
		if a.Success || !matches(a, identity, origin) {
			return nil
		}
		if f.Count == 0 || a.CreatedAt.Before(f.Oldest) {
			f.Oldest = a.CreatedAt
		}
		f.Count++
		return nil
	})
	if err != nil {
		return Failures{}, err
	}
	return f, nil
}

// Recent returns attempts matching f, newest first, capped at limit
// (limit <= 0 means no cap).
func (l *RepositoryLog) Recent(ctx context.Context, f Filter, limit int) ([]Attempt, error) {
	identity := util.NormalizeIdentity(f.Identity)
	var out []Attempt
	err := l.scanSince(ctx, f.Since, func(a Attempt) error {
		if f.FailedOnly && a.Success {
			return nil
		}
		if (identity != "" || f.Origin != "") && !matches(a, identity, f.Origin) {
			return nil
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune deletes attempts older than before and returns how many were removed.
func (l *RepositoryLog) Prune(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := timeKey(before)
	var stale []string
	err := l.repo.Scan(attemptBucket, attemptRecordType, "", func(id string, _ []byte) error {
		if id >= cutoff {
			return storage.ErrStopScan
		}
		stale = append(stale, id)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning attempts: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err = l.repo.Batch(attemptBucket, func(tx storage.BatchTx) error {
		for _, id := range stale {
			if err := tx.Delete(attemptRecordType, id); err != nil && !storage.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning attempts: %w", err)
	}
	return len(stale), nil
}

func (l *RepositoryLog) scanSince(ctx context.Context, since time.Time, fn func(Attempt) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := ""
	if !since.IsZero() {
		from = timeKey(since)
	}
	err := l.repo.Scan(attemptBucket, attemptRecordType, from, func(id string, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var a Attempt
		if err := json.Unmarshal(data, &a); err != nil {
			// Skip corrupt records; the rest of the window still counts.
			return nil
		}
		if a.ID == "" {
			a.ID = id
		}
		return fn(a)
	})
	if err != nil {
		return fmt.Errorf("reading attempt log: %w", err)
	}
	return nil
}
