package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const AlertLoginFailureSpike AlertType = "login_failure_spike"

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow    = 5 * time.Minute
	defaultLoginFailureThreshold = 50
)

// alertCollector keeps a sliding window of login failures across all
// identities and origins.
type alertCollector struct {
	mu        sync.Mutex
	failures  []time.Time
	window    time.Duration
	threshold int
	alertFn   AlertFunc
	now       func() time.Time
}

func newAlertCollector(fn AlertFunc, threshold int, window time.Duration) *alertCollector {
	if threshold <= 0 {
		threshold = defaultLoginFailureThreshold
	}
	if window <= 0 {
		window = defaultLoginFailureWindow
	}
	return &alertCollector{
		window:    window,
		threshold: threshold,
		alertFn:   fn,
		now:       time.Now,
	}
}

func (c *alertCollector) recordLoginFailure() {
	if c == nil || c.alertFn == nil {
		return
	}
	c.mu.Lock()
	now := c.now()
	c.failures = append(c.failures, now)
	c.failures = trimWindow(c.failures, now, c.window)

	var ev *AlertEvent
	if len(c.failures) >= c.threshold {
		ev = &AlertEvent{
			Type:      AlertLoginFailureSpike,
			Message:   "login failure rate exceeds threshold",
			Count:     len(c.failures),
			Threshold: c.threshold,
			Timestamp: now,
		}
		// One alert per spike.
		c.failures = c.failures[:0]
	}
	c.mu.Unlock()

	if ev != nil {
		c.alertFn(*ev)
	}
}

// trimWindow drops entries older than now-window from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
