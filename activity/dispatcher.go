package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultQueueSize     = 1024
	defaultRecordTimeout = 5 * time.Second
)

// Dispatcher hands entries to a Sink on a background worker. Submit never
// blocks: when the queue is full the entry is dropped and counted.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	queue   chan Entry
	timeout time.Duration

	onDrop    func()
	onFailure func()
	warn      rate.Sometimes

	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	stopOnce sync.Once
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Entry, n)
		}
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecordTimeout bounds each Sink.Record call.
func WithRecordTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithHooks registers callbacks for dropped entries and sink failures.
// Either may be nil.
func WithHooks(onDrop, onFailure func()) DispatcherOption {
	return func(d *Dispatcher) {
		d.onDrop = onDrop
		d.onFailure = onFailure
	}
}

// NewDispatcher starts a dispatcher worker writing to sink.
func NewDispatcher(sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		logger:  slog.Default(),
		queue:   make(chan Entry, defaultQueueSize),
		timeout: defaultRecordTimeout,
		// At most one failure warning per 10s; the rest only hit the counter.
		warn: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "activity")
	go d.run()
	return d
}

// Submit enqueues e. It returns false if the entry was dropped.
func (d *Dispatcher) Submit(e Entry) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped()
		return false
	}
	select {
	case d.queue <- e:
		return true
	default:
		d.dropped()
		return false
	}
}

func (d *Dispatcher) dropped() {
	if d.onDrop != nil {
		d.onDrop()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.record(e)
	}
}

func (d *Dispatcher) record(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.Record(ctx, e); err != nil {
		if d.onFailure != nil {
			d.onFailure()
		}
		d.warn.Do(func() {
			d.logger.Warn("failed to record activity", "error", err, "route", e.Route)
		})
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx
// to end. It is safe to call more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
