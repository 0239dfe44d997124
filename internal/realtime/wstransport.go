package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSTransport is a Transport over a gorilla/websocket connection.
type WSTransport struct {
	cfg    Config
	events Lifecycle
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	writeMu   sync.Mutex // serialises all conn writes (frames, pings, close)
	conn      *websocket.Conn
	closed    bool
	stopPing  context.CancelFunc
	closeOnce sync.Once
}

// NewWSTransportFactory returns a factory producing WSTransports for cfg.
func NewWSTransportFactory(cfg Config, log zerolog.Logger) TransportFactory {
	cfg = cfg.withDefaults()
	return func(events Lifecycle) Transport {
		return NewWSTransport(cfg, events, log)
	}
}

// NewWSTransport creates an unopened transport.
func NewWSTransport(cfg Config, events Lifecycle, log zerolog.Logger) *WSTransport {
	cfg = cfg.withDefaults()
	return &WSTransport{
		cfg:    cfg,
		events: events,
		log:    log.With().Str("component", "transport").Logger(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Open dials the endpoint, reports OnOpened and starts the read and ping loops.
func (t *WSTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &ConnectError{Endpoint: t.cfg.Endpoint, Err: ErrConnectionClosed}
	}
	if t.conn != nil {
		t.mu.Unlock()
		return &ConnectError{Endpoint: t.cfg.Endpoint, Err: errors.New("transport already open")}
	}
	t.mu.Unlock()

	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.Endpoint, header)
	if err != nil {
		cerr := &ConnectError{Endpoint: t.cfg.Endpoint, Err: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
		}
		return cerr
	}

	t.mu.Lock()
	if t.closed {
		// Close raced with the dial.
		t.mu.Unlock()
		conn.Close()
		return &ConnectError{Endpoint: t.cfg.Endpoint, Err: ErrConnectionClosed}
	}
	t.conn = conn
	pingCtx, cancel := context.WithCancel(context.Background())
	t.stopPing = cancel
	t.mu.Unlock()

	if t.cfg.PingInterval > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))
		})
		conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))
	}

	t.log.Debug().Str("endpoint", t.cfg.Endpoint).Msg("connection opened")
	t.events.OnOpened(t)

	go t.readLoop(conn)
	if t.cfg.PingInterval > 0 {
		go t.pingLoop(pingCtx, conn)
	}
	return nil
}

// Send marshals f and writes it as one text message.
func (t *WSTransport) Send(f Frame) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()
	if conn == nil || closed {
		return &SendError{Event: f.Event, Err: ErrNotConnected}
	}

	data, err := json.Marshal(f)
	if err != nil {
		return &SendError{Event: f.Event, Err: fmt.Errorf("marshal frame: %w", err)}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &SendError{Event: f.Event, Err: err}
	}
	return nil
}

// Close sends a normal closure and closes the socket. The read loop then
// reports OnClosed.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	if t.stopPing != nil {
		t.stopPing()
	}
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	var reason error
	defer func() {
		t.mu.Lock()
		t.closed = true
		if t.stopPing != nil {
			t.stopPing()
		}
		t.mu.Unlock()
		conn.Close()
		t.closeOnce.Do(func() {
			t.log.Debug().Err(reason).Msg("connection closed")
			t.events.OnClosed(t, reason)
		})
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason = err
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.events.OnError(t, fmt.Errorf("decode frame: %w", err))
			continue
		}
		t.events.OnFrame(t, f)
	}
}

// pingLoop sends periodic pings until ctx is cancelled or a write fails.
func (t *WSTransport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				t.events.OnError(t, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}
