package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/schema"

	"ledgerpulse/internal/changefeed"
)

// Config controls the streaming endpoint.
type Config struct {
	Addr       string `yaml:"addr"`
	EnableAuth bool   `yaml:"enable_auth"`
	JWTSecret  string `yaml:"jwt_secret"`
}

// DefaultConfig returns default realtime configuration.
func DefaultConfig() Config {
	return Config{Addr: ":8090"}
}

// ApplyDefaults fills in missing values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8090"
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.EnableAuth && c.JWTSecret == "" {
		return fmt.Errorf("realtime: enable_auth requires jwt_secret")
	}
	return nil
}

// Server exposes the subscriber protocol over WebSocket and SSE.
type Server struct {
	hub    *Hub
	cfg    Config
	auth   *Authenticator
	logger *slog.Logger
}

func NewServer(cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		hub:    NewHub(logger),
		cfg:    cfg,
		logger: logger.With("component", "realtime"),
	}
	if cfg.EnableAuth {
		s.auth = NewAuthenticator(cfg.JWTSecret)
	}
	return s
}

// Hub returns the fanout hub, for wiring as the changefeed sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	ServeWs(s.hub, s.logger, w, r)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.auth == nil {
		return true
	}
	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "authorization required", http.StatusUnauthorized)
		return false
	}
	if err := s.auth.Validate(token); err != nil {
		s.logger.Warn("rejected streaming connection", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return false
	}
	return true
}

type sseRequest struct {
	Collection string `schema:"collection"`
	Token      string `schema:"token"`
}

// HandleSSE handles Server-Sent Events requests. The initial subscription is
// taken from the query string; SSE clients cannot send further protocol
// messages.
func (s *Server) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	var req sseRequest
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&req, r.URL.Query()); err != nil {
		s.logger.Warn("invalid sse query parameters", "error", err)
		http.Error(w, "invalid query parameters", http.StatusBadRequest)
		return
	}
	if req.Collection == "" {
		http.Error(w, "collection is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Create a client without a websocket connection.
	client := newClient(s.hub, nil, s.logger)
	client.subscriptions[req.Collection] = subscription{}

	if !s.hub.Register(client) {
		return
	}
	s.hub.Subscribe(client, req.Collection)
	s.logger.Info("sse connection established", "client", client.id, "collection", req.Collection)

	defer func() {
		s.hub.Unregister(client)
		s.logger.Info("sse connection closed", "client", client.id)
	}()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case message, ok := <-client.send:
			if !ok {
				return
			}
			data, err := json.Marshal(message)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var _ changefeed.Sink = (*Hub)(nil)
