package security

import (
	"hash/fnv"
	"sync"
	"time"
)

const windowShards = 32

// Decision is the outcome of a WindowCounter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until ResetAt, set only when denied.
	RetryAfter int
}

// WindowCounter is a fixed-window counter keyed by arbitrary strings.
// Entries are spread over independently locked shards so unrelated keys
// do not contend. A burst of up to twice the limit across a window
// boundary is possible and accepted.
type WindowCounter struct {
	shards [windowShards]windowShard
	now    func() time.Time
}

type windowShard struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// WindowOption configures a WindowCounter.
type WindowOption func(*WindowCounter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) WindowOption {
	return func(c *WindowCounter) {
		if now != nil {
			c.now = now
		}
	}
}

func NewWindowCounter(opts ...WindowOption) *WindowCounter {
	c := &WindowCounter{now: time.Now}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]*windowEntry)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *WindowCounter) shard(key string) *windowShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.shards[h.Sum32()%windowShards]
}

// Check counts one hit against key. The increment happens before the
// limit comparison, so a denied call still consumes the window.
func (c *WindowCounter) Check(key string, limit int, window time.Duration) Decision {
	now := c.now()
	s := c.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &windowEntry{}
		s.entries[key] = e
	}
	if e.resetAt.IsZero() || now.After(e.resetAt) {
		e.count = 0
		e.resetAt = now.Add(window)
	}
	e.count++

	d := Decision{
		Allowed:   e.count <= limit,
		Limit:     limit,
		Remaining: max(limit-e.count, 0),
		ResetAt:   e.resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = retryAfterSeconds(e.resetAt.Sub(now))
	}
	return d
}

// Peek returns the live count and reset time for key without counting a
// hit. ok is false when the key is absent or its window has passed.
func (c *WindowCounter) Peek(key string) (count int, resetAt time.Time, ok bool) {
	now := c.now()
	s := c.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.entries[key]
	if !found || now.After(e.resetAt) {
		return 0, time.Time{}, false
	}
	return e.count, e.resetAt, true
}

// Trip sets key to count with a fresh window starting now.
func (c *WindowCounter) Trip(key string, count int, window time.Duration) {
	now := c.now()
	s := c.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &windowEntry{}
		s.entries[key] = e
	}
	e.count = count
	e.resetAt = now.Add(window)
}

// Sweep deletes entries whose window ended before now and returns how
// many were removed.
func (c *WindowCounter) Sweep(now time.Time) int {
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			if now.After(e.resetAt) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (c *WindowCounter) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
