package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	// broadcastBuffer is how many messages may wait for the Run loop.
	broadcastBuffer = 256

	// DefaultBacklog is how many recent JSON messages a new client receives.
	DefaultBacklog = 50
)

// Hub maintains the set of active clients and broadcasts messages to them.
// Only the Run goroutine touches the client set.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	backlogSize int
	backlog     []Message

	count   atomic.Int64
	sent    atomic.Int64
	dropped atomic.Int64
	slow    atomic.Int64
	running atomic.Bool
	once    sync.Once
}

// Stats reports hub counters.
type Stats struct {
	Clients         int64 `json:"clients"`
	Broadcast       int64 `json:"broadcast"`
	DroppedMessages int64 `json:"dropped_messages"`
	SlowClients     int64 `json:"slow_clients"`
}

// New creates a hub. backlog is how many recent JSON messages are replayed
// to a client when it connects; zero disables replay.
func New(name string, backlog int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if backlog < 0 {
		backlog = 0
	}
	return &Hub{
		name:        name,
		logger:      logger.With("component", "hub", "hub", name),
		clients:     make(map[*Client]struct{}),
		broadcast:   make(chan Message, broadcastBuffer),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		backlogSize: backlog,
	}
}

// Run owns the client set until ctx is cancelled. Every client's send
// channel is closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.once.Do(func() { close(h.done) })
		for client := range h.clients {
			h.remove(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			for _, msg := range h.backlog {
				select {
				case client.send <- msg:
				default:
				}
			}
			h.logger.Debug("client connected", "client_id", client.ID, "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.logger.Debug("client disconnected", "client_id", client.ID, "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			h.remember(msg)
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					h.remove(client)
					h.slow.Add(1)
					h.logger.Warn("dropped slow client", "client_id", client.ID, "clients", len(h.clients))
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.count.Store(int64(len(h.clients)))
}

func (h *Hub) remember(msg Message) {
	if h.backlogSize == 0 {
		return
	}
	h.backlog = append(h.backlog, msg)
	if len(h.backlog) > h.backlogSize {
		h.backlog = h.backlog[len(h.backlog)-h.backlogSize:]
	}
}

// enqueue hands msg to Run without blocking. The message is dropped if the
// queue is full.
func (h *Hub) enqueue(msg Message) {
	select {
	case h.broadcast <- msg:
		h.sent.Add(1)
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// Publish broadcasts an Event. Encoding failures are logged.
func (h *Hub) Publish(eventType string, data any) {
	msg, err := NewEvent(eventType, data).encode()
	if err != nil {
		h.logger.Warn("event not encodable", "type", eventType, "error", err)
		return
	}
	h.enqueue(msg)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:         h.count.Load(),
		Broadcast:       h.sent.Load(),
		DroppedMessages: h.dropped.Load(),
		SlowClients:     h.slow.Load(),
	}
}

// join hands a client to the Run loop. It reports false once the hub has
// stopped.
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
