package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

var errRefused = errors.New("connection refused")

// fakeNetwork hands out fakeTransports and controls how their Open behaves.
type fakeNetwork struct {
	mu     sync.Mutex
	opens  int
	fail   bool
	block  chan struct{}
	live   *fakeTransport
	onSend func(t *fakeTransport, f Frame)
}

func (n *fakeNetwork) factory(events Lifecycle) Transport {
	return &fakeTransport{net: n, events: events}
}

func (n *fakeNetwork) setFail(fail bool) {
	n.mu.Lock()
	n.fail = fail
	n.mu.Unlock()
}

func (n *fakeNetwork) openCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opens
}

func (n *fakeNetwork) current() *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.live
}

// autoAck answers every frame carrying an id with the given ack payload.
func (n *fakeNetwork) autoAck(payload string) {
	n.mu.Lock()
	n.onSend = func(t *fakeTransport, f Frame) {
		if f.ID != "" {
			t.events.OnFrame(t, Frame{AckID: f.ID, Payload: json.RawMessage(payload)})
		}
	}
	n.mu.Unlock()
}

type fakeTransport struct {
	net    *fakeNetwork
	events Lifecycle

	mu     sync.Mutex
	open   bool
	closed bool
	sent   []Frame
}

func (t *fakeTransport) Open(ctx context.Context) error {
	t.net.mu.Lock()
	t.net.opens++
	fail := t.net.fail
	block := t.net.block
	t.net.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &ConnectError{Endpoint: "fake", Err: ctx.Err()}
		}
	}
	if fail {
		return &ConnectError{Endpoint: "fake", Err: errRefused}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &ConnectError{Endpoint: "fake", Err: ErrConnectionClosed}
	}
	t.open = true
	t.mu.Unlock()

	t.net.mu.Lock()
	t.net.live = t
	t.net.mu.Unlock()
	t.events.OnOpened(t)
	return nil
}

func (t *fakeTransport) Send(f Frame) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return &SendError{Event: f.Event, Err: ErrNotConnected}
	}
	t.sent = append(t.sent, f)
	t.mu.Unlock()

	t.net.mu.Lock()
	onSend := t.net.onSend
	t.net.mu.Unlock()
	if onSend != nil {
		onSend(t, f)
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	wasOpen := t.open
	t.open = false
	t.closed = true
	t.mu.Unlock()
	if wasOpen {
		t.events.OnClosed(t, ErrConnectionClosed)
	}
	return nil
}

// drop simulates the server going away.
func (t *fakeTransport) drop() {
	t.mu.Lock()
	wasOpen := t.open
	t.open = false
	t.mu.Unlock()
	if wasOpen {
		t.events.OnClosed(t, errors.New("connection reset by peer"))
	}
}

func (t *fakeTransport) deliver(event string, payload string) {
	t.events.OnFrame(t, Frame{Event: event, Payload: json.RawMessage(payload)})
}

func (t *fakeTransport) sentFrames() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Frame(nil), t.sent...)
}

func testConfig() Config {
	cfg := DefaultConfig("ws://fake.invalid/ws")
	cfg.MaxReconnectAttempts = 3
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.AckTimeout = time.Second
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// stateRecorder collects state transitions in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) seen(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
