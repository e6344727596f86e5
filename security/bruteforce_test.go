package security

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/coursegate/attemptlog"
	"github.com/jmcleod/coursegate/storage/memory"
)

type bruteForceFixture struct {
	clock *fakeClock
	log   *attemptlog.RepositoryLog
	guard *BruteForceGuard
}

func newBruteForceFixture() *bruteForceFixture {
	clock := newFakeClock()
	log := attemptlog.NewRepositoryLog(memory.NewRepository())
	guard := NewBruteForceGuard(log, NewWindowCounter(WithClock(clock.Now)), discardLogger, clock.Now)
	return &bruteForceFixture{clock: clock, log: log, guard: guard}
}

func (f *bruteForceFixture) fail(t *testing.T, identity, origin string) {
	t.Helper()
	require.NoError(t, f.log.Append(context.Background(), attemptlog.Attempt{
		Identity:  identity,
		Origin:    origin,
		CreatedAt: f.clock.Now(),
	}))
}

func (f *bruteForceFixture) check(identity, origin string) Verdict {
	return f.guard.Check(context.Background(), identity, origin, DefaultBruteForceMax, DefaultBruteForceWindow)
}

func TestBruteForceGuard_Scenario(t *testing.T) {
	f := newBruteForceFixture()
	for range 4 {
		f.fail(t, "user@example.com", "1.2.3.4")
		f.clock.Advance(time.Minute)
	}
	assert.True(t, f.check("user@example.com", "1.2.3.4").Allowed, "four failures are under the limit")

	f.fail(t, "user@example.com", "1.2.3.4")
	v := f.check("user@example.com", "1.2.3.4")
	assert.False(t, v.Allowed)
	assert.Equal(t, 900, v.RetryAfter)

	other := f.check("someone-else@example.com", "1.2.3.4")
	assert.False(t, other.Allowed, "same origin, different identity")
	assert.Equal(t, 900, other.RetryAfter)
}

func TestBruteForceGuard_IdentityAcrossOrigins(t *testing.T) {
	f := newBruteForceFixture()
	for i := range 5 {
		f.fail(t, "victim@example.com", "10.0.0."+string(rune('1'+i)))
	}
	assert.False(t, f.check("Victim@Example.com", "192.0.2.1").Allowed)
	assert.True(t, f.check("bystander@example.com", "192.0.2.1").Allowed)
}

func TestBruteForceGuard_WindowExpires(t *testing.T) {
	f := newBruteForceFixture()
	for range 5 {
		f.fail(t, "a@example.com", "o")
	}
	require.False(t, f.check("a@example.com", "o").Allowed)

	f.clock.Advance(DefaultBruteForceWindow + time.Second)
	assert.True(t, f.check("a@example.com", "o").Allowed)
}

func TestBruteForceGuard_LockoutEndsWithRollingWindow(t *testing.T) {
	f := newBruteForceFixture()
	for range 5 {
		f.fail(t, "a@example.com", "o")
	}

	f.clock.Advance(14 * time.Minute)
	v := f.check("a@example.com", "o")
	require.False(t, v.Allowed, "failures from 14m ago are still inside the window")
	assert.False(t, v.Cached)
	assert.True(t, f.check("a@example.com", "o").Cached)

	f.clock.Advance(2 * time.Minute)
	v = f.check("a@example.com", "o")
	assert.True(t, v.Allowed, "every failure has left the 15m window")
	assert.False(t, v.Cached)
}

func TestBruteForceGuard_LockoutCache(t *testing.T) {
	f := newBruteForceFixture()
	for range 5 {
		f.fail(t, "a@example.com", "o")
	}
	first := f.check("a@example.com", "o")
	require.False(t, first.Allowed)
	assert.False(t, first.Cached)

	second := f.check("a@example.com", "o")
	assert.False(t, second.Allowed)
	assert.True(t, second.Cached)
}

type brokenLog struct{}

func (brokenLog) Append(context.Context, attemptlog.Attempt) error { return errors.New("down") }
func (brokenLog) CountFailed(context.Context, string, string, time.Time) (int, error) {
	return 0, errors.New("attempt store unreachable")
}
func (brokenLog) FailedSince(context.Context, string, string, time.Time) (attemptlog.Failures, error) {
	return attemptlog.Failures{}, errors.New("attempt store unreachable")
}

func TestBruteForceGuard_FailsOpen(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	g := NewBruteForceGuard(brokenLog{}, NewWindowCounter(), logger, nil)

	v := g.Check(context.Background(), "a@example.com", "o", 5, time.Minute)
	assert.True(t, v.Allowed)
	assert.Contains(t, buf.String(), "attempt log unavailable")
	assert.Contains(t, buf.String(), "component=bruteforce")
}
