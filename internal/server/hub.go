package server

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/packets"
)

const outboxSize = 256

// client is one protocol connection. Everything it is sent goes through
// a single writer so replies and broadcasts never interleave.
type client struct {
	id     uuid.UUID
	conn   net.Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	// eof is closed when the peer stops sending; the writer then flushes
	// what is queued and closes the conn.
	eof     chan struct{}
	eofOnce sync.Once
	log    *slog.Logger
	remote string
}

func newClient(conn net.Conn, log *slog.Logger) *client {
	id := uuid.New()
	remote := conn.RemoteAddr().String()
	return &client{
		id:     id,
		conn:   conn,
		out:    make(chan []byte, outboxSize),
		done:   make(chan struct{}),
		eof:    make(chan struct{}),
		log:    log.With("conn", id.String(), "remote", remote),
		remote: remote,
	}
}

// send queues msgs as one write. It reports false once the client is
// closed or too far behind to keep.
func (c *client) send(msgs ...packets.Message) bool {
	if len(msgs) == 0 {
		return true
	}
	var buf []byte
	for _, m := range msgs {
		buf = append(buf, m.Pack()...)
	}
	select {
	case <-c.done:
		return false
	case <-c.eof:
		return false
	default:
	}
	select {
	case c.out <- buf:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("dropping slow client", "queued", len(c.out))
		c.close()
		return false
	}
}

func (c *client) writeLoop(timeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case <-c.eof:
			for {
				select {
				case buf := <-c.out:
					if !c.write(buf, timeout) {
						return
					}
				default:
					c.close()
					return
				}
			}
		case buf := <-c.out:
			if !c.write(buf, timeout) {
				return
			}
		}
	}
}

func (c *client) write(buf []byte, timeout time.Duration) bool {
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := c.conn.Write(buf); err != nil {
		c.log.Warn("write failed", "err", err)
		c.close()
		return false
	}
	return true
}

// finish marks the end of input. Queued replies are still written.
func (c *client) finish() {
	c.eofOnce.Do(func() { close(c.eof) })
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub tracks connected clients for broadcasts.
type Hub struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]*client)}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends msgs to every client as one unit and returns how many
// accepted them.
func (h *Hub) Broadcast(msgs []packets.Message) int {
	sent := 0
	for _, c := range h.snapshot() {
		if c.send(msgs...) {
			sent++
		}
	}
	return sent
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		c.close()
	}
}
