package realtime

import "context"

// Transport owns one physical connection. A Transport is opened at most once;
// reconnecting means building a new one.
type Transport interface {
	// Open performs the handshake. It returns a *ConnectError on failure.
	Open(ctx context.Context) error
	// Send writes one frame. It returns a *SendError when the frame could
	// not be written, wrapping ErrNotConnected if the transport is not open.
	Send(f Frame) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Lifecycle receives transport notifications. Only the Supervisor implements
// it; application code never sees these events directly.
type Lifecycle interface {
	// OnOpened is called once, before Open returns and before any frame.
	OnOpened(t Transport)
	// OnFrame is called from the transport's read goroutine, in order.
	OnFrame(t Transport, f Frame)
	// OnClosed is called exactly once after an opened transport goes away.
	OnClosed(t Transport, reason error)
	// OnError reports a non-fatal problem, such as an undecodable frame.
	OnError(t Transport, err error)
}

// TransportFactory builds a fresh, unopened Transport bound to events.
type TransportFactory func(events Lifecycle) Transport
