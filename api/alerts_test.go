package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertCollectorFiresOncePerSpike(t *testing.T) {
	var events []AlertEvent
	c := newAlertCollector(func(e AlertEvent) { events = append(events, e) }, 3, time.Minute)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.recordLoginFailure()
	c.recordLoginFailure()
	assert.Empty(t, events)

	c.recordLoginFailure()
	require.Len(t, events, 1)
	assert.Equal(t, AlertLoginFailureSpike, events[0].Type)
	assert.Equal(t, 3, events[0].Count)
	assert.Equal(t, 3, events[0].Threshold)

	c.recordLoginFailure()
	assert.Len(t, events, 1)
}

func TestAlertCollectorForgetsOldFailures(t *testing.T) {
	var fired int
	c := newAlertCollector(func(AlertEvent) { fired++ }, 2, time.Minute)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.recordLoginFailure()
	now = now.Add(2 * time.Minute)
	c.recordLoginFailure()
	assert.Zero(t, fired)

	c.recordLoginFailure()
	assert.Equal(t, 1, fired)
}

func TestNilAlertCollectorIsSafe(t *testing.T) {
	var c *alertCollector
	assert.NotPanics(t, c.recordLoginFailure)
	assert.NotPanics(t, newAlertCollector(nil, 0, 0).recordLoginFailure)
}

func TestTrimWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(30 * time.Second), base.Add(90 * time.Second)}
	got := trimWindow(times, base.Add(2*time.Minute), time.Minute)
	assert.Equal(t, times[1:], got)
}
