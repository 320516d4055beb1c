// Package chat relays chat messages between WebSocket clients. Every
// "send message" event is re-emitted to all connected clients as a
// "receive message" event; nothing is stored.
package chat

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ghostzpy/truco-server/internal/metrics"
)

const (
	EventSend    = "send message"
	EventReceive = "receive message"
)

// Envelope is the JSON frame exchanged with clients.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub owns the set of connected clients. All membership changes and
// broadcasts run on the goroutine executing Run.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	size       atomic.Int64
	logger     *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes hub events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.size.Store(int64(len(h.clients)))
			metrics.ChatClients(len(h.clients))
			h.logger.Debugw("chat client connected", "client_id", c.id, "clients", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debugw("chat client disconnected", "client_id", c.id, "clients", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warnw("chat client too slow, disconnecting", "client_id", c.id)
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.size.Store(int64(len(h.clients)))
	metrics.ChatClients(len(h.clients))
}

// Len returns the number of connected clients.
func (h *Hub) Len() int { return int(h.size.Load()) }

// Broadcast queues data for delivery to every client as a receive event.
func (h *Hub) Broadcast(data json.RawMessage) error {
	frame, err := json.Marshal(Envelope{Event: EventReceive, Data: data})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- frame:
	case <-h.done:
	}
	return nil
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
