package changefeed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedResult struct {
	raw RawChange
	err error
}

type fakeFeed struct {
	results chan feedResult
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{results: make(chan feedResult, 16)}
}

func (f *fakeFeed) emit(raw RawChange) {
	f.results <- feedResult{raw: raw}
}

func (f *fakeFeed) fail(err error) {
	f.results <- feedResult{err: err}
}

func (f *fakeFeed) Next(ctx context.Context) (RawChange, error) {
	select {
	case r := <-f.results:
		return r.raw, r.err
	case <-ctx.Done():
		return RawChange{}, ctx.Err()
	}
}

func (f *fakeFeed) Close(ctx context.Context) error { return nil }

type fakeSource struct {
	mu    sync.Mutex
	opens []Registration
	feeds chan Feed
}

func newFakeSource(capacity int) *fakeSource {
	return &fakeSource{feeds: make(chan Feed, capacity)}
}

func (s *fakeSource) Open(ctx context.Context, reg Registration) (Feed, error) {
	s.mu.Lock()
	s.opens = append(s.opens, reg)
	s.mu.Unlock()

	select {
	case f := <-s.feeds:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opens)
}

type captureSink struct {
	mu     sync.Mutex
	events []*Event
}

func (s *captureSink) Publish(evt *Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *captureSink) snapshot() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestRegistry_DuplicateWatchIsNoOp(t *testing.T) {
	source := newFakeSource(2)
	source.feeds <- newFakeFeed()
	source.feeds <- newFakeFeed()

	r := NewRegistry(source, nil, Config{Backoff: 10 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Close()

	r.Watch(Registration{Collection: "payments"})
	r.Watch(Registration{Collection: "payments"})

	waitFor(t, time.Second, func() bool { return source.openCount() >= 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, source.openCount())
	assert.Equal(t, []string{"payments"}, r.Watching())
}

func TestRegistry_EventsReachSinkAndHandlersInOrder(t *testing.T) {
	feed := newFakeFeed()
	source := newFakeSource(1)
	source.feeds <- feed

	sink := &captureSink{}
	r := NewRegistry(source, sink, Config{}, testLogger())

	var mu sync.Mutex
	var handled []string
	r.OnChange("payments", func(ctx context.Context, evt *Event) {
		mu.Lock()
		handled = append(handled, evt.DocumentID)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Close()

	r.Watch(Registration{Collection: "payments"})

	for _, id := range []string{"p1", "p2", "p3"} {
		feed.emit(RawChange{OperationType: "insert", DocumentKey: id})
	}
	// Unsupported kinds are dropped before the queue.
	feed.emit(RawChange{OperationType: "invalidate", DocumentKey: "p4"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	})

	mu.Lock()
	assert.Equal(t, []string{"p1", "p2", "p3"}, handled)
	mu.Unlock()

	events := sink.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "p1", events[0].DocumentID)
	assert.Equal(t, "p3", events[2].DocumentID)
}

func TestRegistry_RestartsAfterFeedError(t *testing.T) {
	first := newFakeFeed()
	second := newFakeFeed()
	source := newFakeSource(2)
	source.feeds <- first
	source.feeds <- second

	sink := &captureSink{}
	r := NewRegistry(source, sink, Config{Backoff: 20 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Close()

	r.Watch(Registration{Collection: "payments"})

	first.emit(RawChange{OperationType: "insert", DocumentKey: "p1"})
	first.fail(errors.New("connection reset"))

	// A new watch is established after the backoff, and only one.
	waitFor(t, time.Second, func() bool { return source.openCount() == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, source.openCount())
	assert.Equal(t, []string{"payments"}, r.Watching())

	second.emit(RawChange{OperationType: "insert", DocumentKey: "p2"})
	waitFor(t, time.Second, func() bool { return len(sink.snapshot()) == 2 })
}

func TestRegistry_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	feed := newFakeFeed()
	source := newFakeSource(1)
	source.feeds <- feed

	r := NewRegistry(source, nil, Config{}, testLogger())

	var mu sync.Mutex
	var survived []string
	r.OnChange("payments", func(ctx context.Context, evt *Event) {
		panic("boom")
	})
	r.OnChange("payments", func(ctx context.Context, evt *Event) {
		mu.Lock()
		survived = append(survived, evt.DocumentID)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Close()

	r.Watch(Registration{Collection: "payments"})

	feed.emit(RawChange{OperationType: "insert", DocumentKey: "p1"})
	feed.emit(RawChange{OperationType: "insert", DocumentKey: "p2"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(survived) == 2
	})
}

func TestRegistry_CloseStopsWatchesWithoutRestart(t *testing.T) {
	feed := newFakeFeed()
	source := newFakeSource(1)
	source.feeds <- feed

	r := NewRegistry(source, nil, Config{Backoff: 10 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	r.Watch(Registration{Collection: "payments"})
	waitFor(t, time.Second, func() bool { return source.openCount() == 1 })

	r.Close()
	assert.Empty(t, r.Watching())

	// No restart is attempted once closed.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, source.openCount())

	r.Watch(Registration{Collection: "invoices"})
	assert.Empty(t, r.Watching())
}

func TestRegistry_BootstrapCollections(t *testing.T) {
	source := newFakeSource(2)
	source.feeds <- newFakeFeed()
	source.feeds <- newFakeFeed()

	r := NewRegistry(source, nil, Config{Collections: []string{"payments", "invoices"}}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Close()

	waitFor(t, time.Second, func() bool { return source.openCount() == 2 })
	assert.Equal(t, []string{"invoices", "payments"}, r.Watching())
}
