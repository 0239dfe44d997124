package realtime

import (
	"fmt"
	"net/url"
	"time"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultInitialBackoff       = 1 * time.Second
	defaultMaxBackoff           = 30 * time.Second
	defaultAckTimeout           = 10 * time.Second
	defaultHandshakeTimeout     = 10 * time.Second
	defaultWriteTimeout         = 10 * time.Second
	defaultPingInterval         = 30 * time.Second
	defaultPongTimeout          = 60 * time.Second
)

// Config is fixed at construction and never reloaded.
type Config struct {
	// Endpoint is the WebSocket URL, e.g. "ws://127.0.0.1:8080/ws".
	Endpoint string
	Token    string

	// MaxReconnectAttempts bounds one background reconnect cycle. Zero
	// disables background reconnection.
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration

	// AckTimeout bounds how long Emit waits for an acknowledgement.
	// Zero means wait until the caller's context is done.
	AckTimeout time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // <= 0 disables client pings
	PongTimeout      time.Duration

	StreamEvent string
}

// DefaultConfig returns a Config for endpoint with every other field set to
// its default.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:             endpoint,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		InitialBackoff:       defaultInitialBackoff,
		MaxBackoff:           defaultMaxBackoff,
		AckTimeout:           defaultAckTimeout,
		HandshakeTimeout:     defaultHandshakeTimeout,
		WriteTimeout:         defaultWriteTimeout,
		PingInterval:         defaultPingInterval,
		PongTimeout:          defaultPongTimeout,
		StreamEvent:          DefaultStreamEvent,
	}
}

// Validate checks the endpoint and the retry bounds.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("realtime config: endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("realtime config: endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("realtime config: endpoint scheme %q, want ws or wss", u.Scheme)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("realtime config: max reconnect attempts must not be negative")
	}
	if c.MaxBackoff > 0 && c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("realtime config: max backoff %v below initial backoff %v", c.MaxBackoff, c.InitialBackoff)
	}
	return nil
}

// withDefaults fills zero durations. MaxReconnectAttempts and AckTimeout keep
// their zero meaning.
func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.StreamEvent == "" {
		c.StreamEvent = DefaultStreamEvent
	}
	return c
}

func (c Config) reconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    c.MaxReconnectAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
	}
}
