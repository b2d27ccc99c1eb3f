package sse

import (
	"path/filepath"
	"sync"

	"github.com/kbukum/iceflow/logger"
)

// Frame is one SSE event.
type Frame struct {
	Event string
	Data  []byte
}

// clientBuffer is the number of frames queued per client before frames
// are dropped.
const clientBuffer = 256

// Client is one connected stream.
type Client struct {
	id     string
	frames chan Frame
}

// NewClient returns a Client with id.
func NewClient(id string) *Client {
	return &Client{id: id, frames: make(chan Frame, clientBuffer)}
}

func (c *Client) ID() string { return c.id }

// Frames is closed when the client is unregistered or the hub stops.
func (c *Client) Frames() <-chan Frame { return c.frames }

// Send queues f. It reports false and drops f when the client is behind.
func (c *Client) Send(f Frame) bool {
	select {
	case c.frames <- f:
		return true
	default:
		logger.Get("sse").Warn("client behind, dropping frame", logger.Fields("client_id", c.id, "event", f.Event))
		return false
	}
}

// Hub tracks clients and fans frames out to them. All client set changes
// and deliveries happen on the Run goroutine.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}
	stopped    bool
	mu         sync.RWMutex
	log        *logger.Logger
}

type message struct {
	pattern string
	frame   Frame
}

// NewHub returns a Hub. Call Run before registering clients.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, clientBuffer),
		done:       make(chan struct{}),
		log:        logger.Get("sse"),
	}
}

// Run serves the hub until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client registered", logger.Fields("client_id", c.id, "clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.frames)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client unregistered", logger.Fields("client_id", c.id, "clients", n))

		case m := <-h.broadcast:
			h.deliver(m)
		}
	}
}

// Stop closes every client and ends Run. It is idempotent.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
}

// Done is closed by Stop.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.frames)
		delete(h.clients, id)
	}
}

// Register adds c. It returns false when the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c and closes its frames.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues f for every client whose id matches pattern. It does
// not block once the hub is stopped.
func (h *Hub) Broadcast(pattern string, f Frame) {
	select {
	case h.broadcast <- message{pattern: pattern, frame: f}:
	case <-h.done:
	}
}

func (h *Hub) deliver(m message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		ok, err := filepath.Match(m.pattern, id)
		if err != nil {
			h.log.Error("bad client pattern", logger.Fields("pattern", m.pattern, logger.FieldError, err.Error()))
			return
		}
		if ok {
			c.Send(m.frame)
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var _ Broadcaster = (*Hub)(nil)
