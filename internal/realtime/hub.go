package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ledgerpulse/internal/changefeed"
)

// Hub maintains the set of active clients and routes each change event only
// to the room matching its source collection.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Room membership: room name -> set of member clients.
	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	broadcast chan *changefeed.Event

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	logger *slog.Logger

	runCtx   context.Context
	runCtxMu sync.RWMutex
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *changefeed.Event),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("component", "realtime"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	h.setRunCtx(ctx)

	for {
		select {
		case <-ctx.Done():
			h.shutdownClients()
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.removeFromAllRooms(client)
				close(client.send)
			}
		case evt := <-h.broadcast:
			h.deliver(evt)
		}
	}
}

// Publish hands an event to the hub for room delivery. It implements
// changefeed.Sink and never blocks past hub shutdown.
func (h *Hub) Publish(evt *changefeed.Event) {
	select {
	case <-h.Done():
		return
	default:
	}

	select {
	case h.broadcast <- evt:
	case <-h.Done():
	}
}

// deliver sends the event to every member of the matching room. A room with
// zero members is a legal no-op; the event is simply not observed.
func (h *Hub) deliver(evt *changefeed.Event) {
	room := RoomName(evt.Collection)

	h.roomsMu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.roomsMu.RUnlock()

	msg := BaseMessage{Type: TypeChange, Payload: mustMarshal(evt)}

	delivered := 0
	for _, c := range members {
		if !c.wants(evt) {
			continue
		}
		select {
		case c.send <- msg:
			delivered++
		default:
			// Give a slow consumer a short grace window, then drop.
			select {
			case c.send <- msg:
				delivered++
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	h.logger.Debug("published change event",
		"room", room, "documentId", evt.DocumentID, "members", len(members), "delivered", delivered)
}

// Subscribe adds the client to the room for a collection.
func (h *Hub) Subscribe(c *Client, collection string) {
	room := RoomName(collection)
	h.roomsMu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	h.roomsMu.Unlock()
}

// Unsubscribe removes the client from the room for a collection.
func (h *Hub) Unsubscribe(c *Client, collection string) {
	room := RoomName(collection)
	h.roomsMu.Lock()
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.roomsMu.Unlock()
}

// RoomSize returns the current member count of a collection's room.
func (h *Hub) RoomSize(collection string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[RoomName(collection)])
}

func (h *Hub) removeFromAllRooms(c *Client) {
	h.roomsMu.Lock()
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.roomsMu.Unlock()
}

func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.Done():
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.Done():
	}
}

func (h *Hub) setRunCtx(ctx context.Context) {
	h.runCtxMu.Lock()
	h.runCtx = ctx
	h.runCtxMu.Unlock()
}

func (h *Hub) Done() <-chan struct{} {
	h.runCtxMu.RLock()
	defer h.runCtxMu.RUnlock()
	if h.runCtx == nil {
		return nil
	}
	return h.runCtx.Done()
}

func (h *Hub) shutdownClients() {
	h.roomsMu.Lock()
	h.rooms = make(map[string]map[*Client]bool)
	h.roomsMu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
