package security

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultSweepInterval = 60 * time.Second

// Store owns the process-wide in-memory state of the pipeline: the
// rate-limit counters, the brute-force lockout cache and the CSRF tokens.
// Sessions live elsewhere and are not swept here.
type Store struct {
	RateLimits *WindowCounter
	BruteForce *WindowCounter
	CSRF       *CSRFStore

	now func() time.Time
}

// NewStore creates a Store whose components share now. A nil now means
// time.Now.
func NewStore(csrfTTL time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		RateLimits: NewWindowCounter(WithClock(now)),
		BruteForce: NewWindowCounter(WithClock(now)),
		CSRF:       NewCSRFStore(csrfTTL, now),
		now:        now,
	}
}

// Now reads the store's clock.
func (s *Store) Now() time.Time { return s.now() }

// SweepResult counts entries removed by one sweep.
type SweepResult struct {
	RateLimits int
	BruteForce int
	CSRF       int
}

func (r SweepResult) Total() int { return r.RateLimits + r.BruteForce + r.CSRF }

// Sweep removes entries that expired before now.
func (s *Store) Sweep(now time.Time) SweepResult {
	return SweepResult{
		RateLimits: s.RateLimits.Sweep(now),
		BruteForce: s.BruteForce.Sweep(now),
		CSRF:       s.CSRF.Sweep(now),
	}
}

// Sweeper runs Store.Sweep on an interval until stopped.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(SweepResult)

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSweeper creates a Sweeper. onSweep, if set, is called after each pass.
func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger, onSweep func(SweepResult)) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		onSweep:  onSweep,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. It ends when ctx is canceled or Stop is
// called. Calling Start more than once has no effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.loop(ctx)
	})
}

// Stop ends the loop and waits for it to exit. It is safe to call more
// than once, and before Start.
func (s *Sweeper) Stop() {
	s.startOnce.Do(func() { close(s.done) })
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() SweepResult {
	res := s.store.Sweep(s.store.Now())
	if res.Total() > 0 {
		s.logger.Debug("swept expired entries",
			"rate_limits", res.RateLimits,
			"brute_force", res.BruteForce,
			"csrf", res.CSRF)
	}
	if s.onSweep != nil {
		s.onSweep(res)
	}
	return res
}
