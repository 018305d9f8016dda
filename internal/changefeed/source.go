package changefeed

import (
	"context"
	"errors"
	"time"
)

// ErrFeedClosed is returned by Feed.Next when the underlying stream ended
// without a transport error.
var ErrFeedClosed = errors.New("change feed closed")

// FullDocumentMode controls post-image retrieval for update notifications.
type FullDocumentMode string

const (
	FullDocumentNone         FullDocumentMode = "none"
	FullDocumentUpdateLookup FullDocumentMode = "updateLookup"
)

// Registration configures one collection watch.
type Registration struct {
	// Collection is the unique key; registering the same collection twice is
	// a no-op with a warning.
	Collection string

	// Pipeline is an optional pre-filter applied at the source before
	// normalization, expressed as aggregation-style stages.
	Pipeline []map[string]interface{}

	// FullDocumentMode defaults to FullDocumentUpdateLookup.
	FullDocumentMode FullDocumentMode
}

// Feed is one open subscription to a collection's mutation stream.
type Feed interface {
	// Next blocks until the next raw notification, a transport error, or
	// context cancellation.
	Next(ctx context.Context) (RawChange, error)

	// Close releases the underlying stream.
	Close(ctx context.Context) error
}

// Source opens mutation feeds for named collections.
type Source interface {
	Open(ctx context.Context, reg Registration) (Feed, error)
}

// Handler receives every normalized event for the collection it was
// registered against. Handlers run on the watcher's dispatch goroutine;
// events for one collection arrive in feed order.
type Handler func(ctx context.Context, evt *Event)

// Sink receives every normalized event for subscriber broadcast.
type Sink interface {
	Publish(evt *Event)
}

// Config controls watcher behavior.
type Config struct {
	// Collections is the bootstrap watch list started with the registry.
	Collections []string `yaml:"collections"`

	// Backoff is the fixed delay before re-establishing a watch after a
	// transport error.
	Backoff time.Duration `yaml:"backoff"`

	// QueueSize bounds the per-collection dispatch buffer that decouples
	// feed reads from handler execution.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns default watcher configuration.
func DefaultConfig() Config {
	return Config{
		Backoff:   5 * time.Second,
		QueueSize: 256,
	}
}

// ApplyDefaults fills in missing values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}
