package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrAckTimeout is returned when no acknowledgement arrives in time.
	ErrAckTimeout = errors.New("realtime: acknowledgement timed out")
	// ErrDisconnected fails pending requests on an explicit Disconnect.
	ErrDisconnected = errors.New("realtime: disconnected")
	// ErrConnectionClosed is returned when a connection closed before it
	// could be used.
	ErrConnectionClosed = errors.New("realtime: connection closed")
)

// ConnectError reports a failed handshake.
type ConnectError struct {
	Endpoint   string
	StatusCode int // HTTP status of the rejected upgrade, if any
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connect %s: %v (status %d)", e.Endpoint, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a frame that could not be written.
type SendError struct {
	Event string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %q: %v", e.Event, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// EmitErrorKind classifies why an Emit failed.
type EmitErrorKind int

const (
	EmitConnectFailed EmitErrorKind = iota + 1
	EmitSendFailed
	EmitTimeout
	EmitConnectionLost
	EmitCanceled
)

func (k EmitErrorKind) String() string {
	switch k {
	case EmitConnectFailed:
		return "connect failed"
	case EmitSendFailed:
		return "send failed"
	case EmitTimeout:
		return "timeout"
	case EmitConnectionLost:
		return "connection lost"
	case EmitCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// EmitError reports a failed request/acknowledgement exchange.
type EmitError struct {
	Event string
	Kind  EmitErrorKind
	Err   error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("emit %q: %s: %v", e.Event, e.Kind, e.Err)
}

func (e *EmitError) Unwrap() error { return e.Err }

// HandlerError wraps a failure raised by a subscriber. It is logged at the
// dispatch boundary and never propagated to other subscribers.
type HandlerError struct {
	Event string
	Err   error
	Panic any // recovered value when the handler panicked
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler for %q panicked: %v", e.Event, e.Panic)
	}
	return fmt.Sprintf("handler for %q: %v", e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ReconnectError is reported when the reconnect cycle gives up.
type ReconnectError struct {
	Attempts int
	Err      error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("reconnect gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ReconnectError) Unwrap() error { return e.Err }
