package activity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/coursegate/storage/memory"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	block   chan struct{}
	err     error
}

func (s *recordingSink) Record(_ context.Context, e Entry) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink)
	for i := range 10 {
		require.True(t, d.Submit(Entry{Route: "r", StatusCode: 200 + i}))
	}
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, 10, sink.len())
	for i, e := range sink.entries {
		assert.Equal(t, 200+i, e.StatusCode)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	var drops atomic.Int32
	d := NewDispatcher(sink, WithQueueSize(1), WithHooks(func() { drops.Add(1) }, nil))

	// The worker takes the first entry and blocks in the sink; the second
	// fills the queue; everything after that is dropped.
	require.True(t, d.Submit(Entry{Route: "a"}))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, d.Submit(Entry{Route: "b"}))

	start := time.Now()
	assert.False(t, d.Submit(Entry{Route: "c"}))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Submit must not block")
	assert.Equal(t, int32(1), drops.Load())

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 2, sink.len())
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := NewDispatcher(&recordingSink{})
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, d.Submit(Entry{}))
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink)
	d.Submit(Entry{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	close(sink.block)
}

func TestDispatcher_FailuresAreCountedAndThrottled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	var failures atomic.Int32
	sink := &recordingSink{err: errors.New("disk full")}
	d := NewDispatcher(sink, WithLogger(logger), WithHooks(nil, func() { failures.Add(1) }))
	for range 5 {
		d.Submit(Entry{Route: "r"})
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, int32(5), failures.Load())
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("failed to record activity")))
}

func TestRepositorySink(t *testing.T) {
	sink := NewRepositorySink(memory.NewRepository())
	ctx := context.Background()
	require.NoError(t, sink.Record(ctx, Entry{UserID: "u1", Route: "me"}))
	require.NoError(t, sink.Record(ctx, Entry{UserID: "u2", Route: "me"}))
	require.NoError(t, sink.Record(ctx, Entry{UserID: "u1", Route: "logout"}))

	mine, err := sink.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "me", mine[0].Route)
	assert.Equal(t, "logout", mine[1].Route)
	assert.NotEmpty(t, mine[0].ID)

	all, err := sink.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, sink.Record(context.Background(), Entry{Route: "me", UserID: "u1", StatusCode: 200}))
	assert.Contains(t, buf.String(), `"component":"activity"`)
	assert.Contains(t, buf.String(), `"user_id":"u1"`)
}
