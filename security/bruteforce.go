package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmcleod/coursegate/attemptlog"
	"github.com/jmcleod/coursegate/internal/util"
)

const (
	DefaultBruteForceMax    = 5
	DefaultBruteForceWindow = 15 * time.Minute
)

// Verdict is the outcome of a brute-force check.
type Verdict struct {
	Allowed    bool
	RetryAfter int
	// Cached is true when the verdict came from the lockout cache instead
	// of the attempt log.
	Cached bool
}

// BruteForceGuard denies authentication attempts once the failures for an
// identity or an origin reach the limit inside the window. Denied pairs
// are tripped in an in-memory counter so repeat checks skip the log.
type BruteForceGuard struct {
	log     attemptlog.Log
	lockout *WindowCounter
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

func NewBruteForceGuard(log attemptlog.Log, lockout *WindowCounter, logger *slog.Logger, now func() time.Time) *BruteForceGuard {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &BruteForceGuard{
		log:     log,
		lockout: lockout,
		logger:  logger.With("component", "bruteforce"),
		now:     now,
		timeout: DefaultLookupTimeout,
	}
}

func lockoutKey(identity, origin string) string {
	return identity + "\x00" + origin
}

// Check reports whether another attempt for identityHint from origin may
// proceed. When the attempt log cannot be read the attempt is allowed.
func (g *BruteForceGuard) Check(ctx context.Context, identityHint, origin string, maxAttempts int, window time.Duration) Verdict {
	if maxAttempts <= 0 {
		maxAttempts = DefaultBruteForceMax
	}
	if window <= 0 {
		window = DefaultBruteForceWindow
	}
	identityHint = util.NormalizeIdentity(identityHint)
	retryAfter := retryAfterSeconds(window)
	key := lockoutKey(identityHint, origin)

	if g.lockout != nil {
		if count, _, ok := g.lockout.Peek(key); ok && count >= maxAttempts {
			return Verdict{Allowed: false, RetryAfter: retryAfter, Cached: true}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	now := g.now()
	failures, err := g.log.FailedSince(ctx, identityHint, origin, now.Add(-window))
	if err != nil {
		g.logger.Warn("attempt log unavailable; allowing attempt",
			"origin", origin, "error", err)
		return Verdict{Allowed: true}
	}
	if failures.Count < maxAttempts {
		return Verdict{Allowed: true}
	}
	// The cached lockout ends when the oldest counted failure leaves the
	// window; the log is consulted again after that.
	if ttl := failures.Oldest.Add(window).Sub(now); g.lockout != nil && ttl > 0 {
		g.lockout.Trip(key, failures.Count, ttl)
	}
	return Verdict{Allowed: false, RetryAfter: retryAfter}
}
