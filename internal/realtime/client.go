package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Client owns one logical connection and multiplexes subscriptions, emits
// and chat streams over it. Construct one with New; there is no global
// instance.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	router  *Router
	acks    *ackTable
	sup     *Supervisor
	streams *StreamReassembler

	factory TransportFactory
	onError func(*HandlerError)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used by the client and its components.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithTransportFactory replaces the WebSocket transport.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Client) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithHandlerErrorHook is called for every subscriber failure.
func WithHandlerErrorHook(fn func(*HandlerError)) Option {
	return func(c *Client) {
		c.onError = fn
	}
}

// New creates a disconnected client. No network activity happens until
// Connect, Emit or the first subscription.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:  cfg.withDefaults(),
		log:  zerolog.Nop(),
		acks: newAckTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.factory == nil {
		c.factory = NewWSTransportFactory(c.cfg, c.log)
	}

	c.router = NewRouter(c.log, c.onError)
	c.streams = NewStreamReassembler(c.router, c.cfg.StreamEvent)
	c.sup = NewSupervisor(c.factory, c.cfg.reconnectPolicy(), SupervisorHooks{
		Frame: c.handleFrame,
		Lost: func(err error) {
			if n := c.acks.failAll(err); n > 0 {
				c.log.Warn().Err(err).Int("requests", n).Msg("failed pending requests")
			}
		},
	}, c.log)
	return c
}

// Connect blocks until the connection is live or the attempt fails with a
// *ConnectError. A failed first attempt still schedules background retries.
func (c *Client) Connect(ctx context.Context) error {
	return c.sup.Connect(ctx)
}

// Subscribe registers h for event and returns its unsubscribe function. If
// the client is idle, a connection is started in the background; its failure
// is logged and the subscription is kept.
//
// Subscribing the same comparable handler twice under one event keeps a
// single registration. Func values, including HandlerFunc, are not
// comparable: each call adds a registration and the handler is invoked once
// per registration.
func (c *Client) Subscribe(event string, h Handler) (unsubscribe func()) {
	unsubscribe = c.router.Subscribe(event, h)
	c.autoConnect()
	return unsubscribe
}

// SubscribeToStream delivers chunks of the chat stream for sessionID. See
// StreamReassembler.Subscribe.
func (c *Client) SubscribeToStream(sessionID string, onChunk func(content string), onComplete func()) (unsubscribe func()) {
	unsubscribe = c.streams.Subscribe(sessionID, onChunk, onComplete)
	c.autoConnect()
	return unsubscribe
}

func (c *Client) autoConnect() {
	if c.sup.State() != StateIdle {
		return
	}
	go func() {
		if err := c.sup.Connect(context.Background()); err != nil {
			c.log.Warn().Err(err).Msg("background connect failed")
		}
	}()
}

// Emit sends event with payload and waits for the server's acknowledgement,
// returning its payload. Failures are reported as *EmitError.
//
// Acks are read by the same goroutine that runs handlers, so a handler must
// not call Emit synchronously: the call would wait out AckTimeout, or forever
// when the timeout is disabled. Emit from a separate goroutine instead.
func (c *Client) Emit(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, &EmitError{Event: event, Kind: EmitSendFailed, Err: err}
	}

	if err := c.sup.Connect(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, &EmitError{Event: event, Kind: EmitCanceled, Err: err}
		}
		return nil, &EmitError{Event: event, Kind: EmitConnectFailed, Err: err}
	}

	req := c.acks.add(event, body)
	defer c.acks.remove(req.id)

	if err := c.sup.Send(Frame{Event: event, Payload: body, ID: req.id}); err != nil {
		return nil, &EmitError{Event: event, Kind: EmitSendFailed, Err: err}
	}

	var timeout <-chan time.Time
	if c.cfg.AckTimeout > 0 {
		timer := time.NewTimer(c.cfg.AckTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-req.result:
		if res.err != nil {
			return nil, &EmitError{Event: event, Kind: EmitConnectionLost, Err: res.err}
		}
		return res.payload, nil
	case <-timeout:
		return nil, &EmitError{Event: event, Kind: EmitTimeout, Err: ErrAckTimeout}
	case <-ctx.Done():
		return nil, &EmitError{Event: event, Kind: EmitCanceled, Err: ctx.Err()}
	}
}

func (c *Client) handleFrame(f Frame) {
	if f.IsAck() {
		if !c.acks.resolve(f.AckID, f.Payload) {
			c.log.Debug().Str("ack_id", f.AckID).Msg("ack for unknown request")
		}
		return
	}
	if f.Event == "" {
		c.log.Debug().Msg("dropping frame without event name")
		return
	}
	if n := c.router.Dispatch(f.Event, f.Payload); n == 0 {
		c.log.Trace().Str("event", f.Event).Msg("no subscribers")
	}
}

// Disconnect closes the connection and fails pending emits. Subscriptions are
// kept and served again after the next Connect.
func (c *Client) Disconnect() {
	c.sup.Disconnect()
}

// Close disconnects and drops every subscription.
func (c *Client) Close() {
	c.sup.Disconnect()
	c.router.DisconnectAll()
}

// State returns the connection state.
func (c *Client) State() State {
	return c.sup.State()
}

// WatchState calls fn on every connection state transition.
func (c *Client) WatchState(fn func(State)) (cancel func()) {
	return c.sup.WatchState(fn)
}

// StreamEvent returns the event name chat streams are delivered on.
func (c *Client) StreamEvent() string {
	return c.streams.Event()
}
