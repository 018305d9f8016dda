package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ledgerpulse/internal/changefeed"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Send pings to peer with this period. Must be less than pongWait.
var pingPeriod = (pongWait * 9) / 10

// Heartbeat interval for SSE clients.
var sseHeartbeatInterval = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     safeCheckOrigin,
}

// safeCheckOrigin validates WebSocket connection origins. It allows empty
// origins (non-browser clients), the exact request host, and same-host
// connections across different ports for development setups.
func safeCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	originHost := strings.Split(u.Host, ":")[0]
	requestHost := strings.Split(r.Host, ":")[0]

	return strings.EqualFold(originHost, requestHost)
}

// Client is a middleman between one subscriber connection and the hub.
type Client struct {
	id     string
	hub    *Hub
	logger *slog.Logger

	// The websocket connection. Nil for SSE clients.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan BaseMessage

	// Per-collection subscriptions held by this connection.
	mu            sync.Mutex
	subscriptions map[string]subscription
}

type subscription struct {
	filter cel.Program
}

func newClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:            uuid.NewString(),
		hub:           hub,
		conn:          conn,
		logger:        logger,
		send:          make(chan BaseMessage, 256),
		subscriptions: make(map[string]subscription),
	}
}

// wants reports whether this client's subscription filter accepts the event.
// Room membership already guarantees the collection matches.
func (c *Client) wants(evt *changefeed.Event) bool {
	c.mu.Lock()
	sub, ok := c.subscriptions[evt.Collection]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if sub.filter == nil {
		return true
	}

	doc := evt.FullDocument
	if doc == nil {
		doc = map[string]interface{}{}
	}
	out, _, err := sub.filter.Eval(map[string]interface{}{"doc": doc})
	if err != nil {
		c.logger.Debug("subscription filter evaluation failed",
			"client", c.id, "collection", evt.Collection, "error", err)
		return false
	}
	accepted, ok := out.Value().(bool)
	return ok && accepted
}

// readPump pumps messages from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	c.logger.Info("websocket connection established", "client", c.id)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket connection closed", "client", c.id, "error", err)
			} else {
				c.logger.Info("websocket connection closed", "client", c.id)
			}
			break
		}

		var msg BaseMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("unmarshalling message", "client", c.id, "error", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg BaseMessage) {
	switch msg.Type {
	case TypeSubscribe:
		var payload SubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warn("unmarshalling subscribe payload", "client", c.id, "error", err)
			c.sendError(msg.ID, "bad_request", "invalid subscribe payload")
			return
		}
		if payload.Collection == "" {
			c.sendError(msg.ID, "bad_request", "collection is required")
			return
		}

		prg, err := compileFiltersToCEL(payload.Filters)
		if err != nil {
			c.logger.Warn("failed to compile subscription filters", "client", c.id, "error", err)
			c.sendError(msg.ID, "bad_filter", "invalid filter expression: "+err.Error())
			return
		}

		c.mu.Lock()
		c.subscriptions[payload.Collection] = subscription{filter: prg}
		c.mu.Unlock()
		c.hub.Subscribe(c, payload.Collection)
		c.logger.Info("subscribed", "client", c.id, "collection", payload.Collection)

		c.send <- BaseMessage{ID: msg.ID, Type: TypeSubscribeAck}

	case TypeUnsubscribe:
		var payload UnsubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warn("unmarshalling unsubscribe payload", "client", c.id, "error", err)
			return
		}

		c.mu.Lock()
		delete(c.subscriptions, payload.Collection)
		c.mu.Unlock()
		c.hub.Unsubscribe(c, payload.Collection)
		c.logger.Info("unsubscribed", "client", c.id, "collection", payload.Collection)

		c.send <- BaseMessage{ID: msg.ID, Type: TypeUnsubscribeAck}

	default:
		c.sendError(msg.ID, "bad_request", "unknown message type: "+msg.Type)
	}
}

func (c *Client) sendError(id, code, message string) {
	c.send <- BaseMessage{ID: id, Type: TypeError, Payload: mustMarshal(ErrorPayload{Code: code, Message: message})}
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(hub, conn, logger)
	if !client.hub.Register(client) {
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
