package changefeed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry is the single source of truth for which collections are currently
// watched. It owns one watch loop per collection, prevents duplicate
// subscriptions, and holds the change-handler registrations.
//
// Watch and OnChange together form the runtime registration API consumed by
// other modules.
type Registry struct {
	source Source
	sink   Sink
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	active   map[string]struct{}
	handlers map[string][]Handler
	runCtx   context.Context
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// NewRegistry creates a Registry. Call Start before Watch.
func NewRegistry(source Source, sink Sink, cfg Config, logger *slog.Logger) *Registry {
	cfg.ApplyDefaults()
	return &Registry{
		source:   source,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.With("component", "changefeed"),
		active:   make(map[string]struct{}),
		handlers: make(map[string][]Handler),
	}
}

// Start begins watching the bootstrap collection list. The registry runs
// until ctx is cancelled or Close is called.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.runCtx != nil {
		r.mu.Unlock()
		return
	}
	r.runCtx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	for _, name := range r.cfg.Collections {
		r.Watch(Registration{Collection: name})
	}
}

// Watch is an idempotent request to begin watching a collection. A collection
// that is already watched is a safe no-op. Watches live for the process
// lifetime; there is no unregister.
func (r *Registry) Watch(reg Registration) {
	if reg.Collection == "" {
		r.logger.Warn("ignoring watch request with empty collection name")
		return
	}
	if reg.FullDocumentMode == "" {
		reg.FullDocumentMode = FullDocumentUpdateLookup
	}

	r.mu.Lock()
	ctx := r.runCtx
	if ctx == nil || ctx.Err() != nil {
		r.mu.Unlock()
		r.logger.Warn("watch requested on stopped registry", "collection", reg.Collection)
		return
	}
	if _, ok := r.active[reg.Collection]; ok {
		r.mu.Unlock()
		r.logger.Warn("collection already watched", "collection", reg.Collection)
		return
	}
	r.active[reg.Collection] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.runWatch(ctx, reg)
}

// OnChange registers a handler invoked for every normalized event of a
// collection. Multiple handlers per collection are supported and run in
// registration order.
func (r *Registry) OnChange(collection string, h Handler) {
	r.mu.Lock()
	r.handlers[collection] = append(r.handlers[collection], h)
	r.mu.Unlock()
}

// Watching returns the sorted list of currently watched collections.
func (r *Registry) Watching() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for name := range r.active {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close stops every active watch and waits for the loops to exit. No
// restarts are attempted after Close.
func (r *Registry) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// runWatch is the per-collection loop: read, normalize, enqueue. A bounded
// queue feeds a dispatch goroutine so a slow handler delays only its own
// collection's queue, not the feed read itself, while per-collection order
// is preserved.
func (r *Registry) runWatch(ctx context.Context, reg Registration) {
	defer r.wg.Done()

	feed, err := r.source.Open(ctx, reg)
	if err != nil {
		if ctx.Err() != nil {
			r.clearActive(reg.Collection)
			return
		}
		r.logger.Error("failed to open change feed", "collection", reg.Collection, "error", err)
		r.scheduleRestart(ctx, reg)
		return
	}
	r.logger.Info("watching collection", "collection", reg.Collection)

	queue := make(chan *Event, r.cfg.QueueSize)
	var dispatchDone sync.WaitGroup
	dispatchDone.Add(1)
	go func() {
		defer dispatchDone.Done()
		r.dispatch(ctx, queue)
	}()

	defer func() {
		feed.Close(context.Background())
		close(queue)
		dispatchDone.Wait()
	}()

	for {
		raw, err := feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("watch stopped", "collection", reg.Collection)
				r.clearActive(reg.Collection)
				return
			}
			r.logger.Error("change feed error", "collection", reg.Collection, "error", err)
			r.scheduleRestart(ctx, reg)
			return
		}

		evt := Normalize(reg.Collection, raw)
		if evt == nil {
			r.logger.Debug("dropping unsupported operation",
				"collection", reg.Collection, "operation", raw.OperationType)
			continue
		}

		select {
		case queue <- evt:
		case <-ctx.Done():
			r.clearActive(reg.Collection)
			return
		}
	}
}

// dispatch delivers queued events to the fanout sink and to every registered
// handler. Neither consumer blocks the other beyond its own execution time;
// order within the collection is the queue order.
func (r *Registry) dispatch(ctx context.Context, queue <-chan *Event) {
	for evt := range queue {
		if r.sink != nil {
			r.sink.Publish(evt)
		}
		for _, h := range r.handlersFor(evt.Collection) {
			r.invoke(ctx, h, evt)
		}
	}
}

// invoke shields the dispatch loop from handler panics; a broken handler
// must never stop the feed from delivering subsequent events.
func (r *Registry) invoke(ctx context.Context, h Handler, evt *Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("change handler panicked",
				"collection", evt.Collection, "documentId", evt.DocumentID, "panic", rec)
		}
	}()
	h(ctx, evt)
}

func (r *Registry) handlersFor(collection string) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[collection]
	if len(hs) == 0 {
		return nil
	}
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

// scheduleRestart removes the collection from the active set and requests the
// same registration again after the fixed backoff. Stream errors are retried
// indefinitely; there is no retry budget.
func (r *Registry) scheduleRestart(ctx context.Context, reg Registration) {
	r.clearActive(reg.Collection)
	r.logger.Info("scheduling watch restart",
		"collection", reg.Collection, "backoff", r.cfg.Backoff)

	go func() {
		select {
		case <-time.After(r.cfg.Backoff):
			r.Watch(reg)
		case <-ctx.Done():
		}
	}()
}

func (r *Registry) clearActive(name string) {
	r.mu.Lock()
	delete(r.active, name)
	r.mu.Unlock()
}
