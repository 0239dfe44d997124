package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrTooManyConnections is returned by AddClient when the limit is reached.
var ErrTooManyConnections = errors.New("too many connections")

const (
	sendQueueSize = 64
	writeWait     = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
	once sync.Once
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster tracks connected clients and fans frames out to them through
// per-client write pumps.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	maxConnections int
	log            zerolog.Logger
}

// NewBroadcaster creates a broadcaster. maxConns <= 0 means unlimited.
func NewBroadcaster(maxConns int, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:        make(map[*client]bool),
		maxConnections: maxConns,
		log:            log.With().Str("component", "broadcaster").Logger(),
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConnections > 0 && len(b.clients) >= b.maxConnections {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := &client{conn: conn, b: b, send: make(chan []byte, sendQueueSize)}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Send queues msg for one client. A full queue drops the client.
func (b *Broadcaster) Send(c *client, msg []byte) bool {
	b.mu.RLock()
	_, ok := b.clients[c]
	if ok {
		select {
		case c.send <- msg:
		default:
			ok = false
		}
	}
	b.mu.RUnlock()

	if !ok {
		b.log.Warn().Msg("client too slow, disconnecting")
		b.RemoveClient(c)
	}
	return ok
}

// Broadcast encodes one frame and queues it for every client.
func (b *Broadcaster) Broadcast(event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		b.log.Error().Err(err).Str("event", event).Msg("broadcast marshal error")
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.Send(c, data)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop disconnects every client.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}
