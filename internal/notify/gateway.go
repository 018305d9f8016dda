// Package notify dispatches outbound notification requests over NATS
// JetStream. The gateway only hands messages to the broker; delivery to
// the recipient is owned by a downstream mailer consuming the stream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"ledgerpulse/internal/reaction"
)

// JetStream is the subset of jetstream.JetStream the gateway uses,
// narrowed to allow mocking in tests.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Config holds notification gateway settings.
type Config struct {
	URL           string   `yaml:"url"`
	Stream        string   `yaml:"stream"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Recipients    []string `yaml:"recipients"`
}

func DefaultConfig() Config {
	return Config{
		Stream:        "NOTIFY",
		SubjectPrefix: "notify",
	}
}

func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Stream == "" {
		c.Stream = def.Stream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = def.SubjectPrefix
	}
}

// Gateway publishes notification requests to a JetStream stream.
type Gateway struct {
	js     JetStream
	cfg    Config
	logger *slog.Logger
}

// NewGateway ensures the notification stream exists and returns a
// gateway publishing into it.
func NewGateway(js JetStream, cfg Config, logger *slog.Logger) (*Gateway, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	cfg.ApplyDefaults()

	_, err := js.CreateOrUpdateStream(context.Background(), jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return &Gateway{js: js, cfg: cfg, logger: logger.With("component", "notify")}, nil
}

// Send publishes the message request to the email subject. The broker
// acknowledging the publish is the success condition here.
func (g *Gateway) Send(ctx context.Context, msg reaction.NotificationMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	subject := g.cfg.SubjectPrefix + ".email"
	if _, err := g.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	g.logger.Debug("notification queued", "to", msg.To, "subject", msg.Subject)
	return nil
}

var _ reaction.NotificationGateway = (*Gateway)(nil)

// Connect dials the NATS server and wraps the connection in a JetStream
// context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}
