package app

import (
	"context"
	"encoding/json"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/agent-racer/realtime/internal/realtime"
)

// Conn is the part of *realtime.Client the TUI drives.
type Conn interface {
	Connect(ctx context.Context) error
	Subscribe(event string, h realtime.Handler) (unsubscribe func())
	SubscribeToStream(sessionID string, onChunk func(content string), onComplete func()) (unsubscribe func())
	Emit(ctx context.Context, event string, payload any) (json.RawMessage, error)
	WatchState(fn func(realtime.State)) (cancel func())
	State() realtime.State
	Close()
}

// Messages forwarded from connection callbacks.
type (
	StateMsg struct{ State realtime.State }

	MetricsMsg struct {
		CPU float64 `json:"cpu"`
		Mem float64 `json:"mem"`
	}

	ChunkMsg struct {
		SessionID string
		Content   string
	}

	StreamDoneMsg struct{ SessionID string }
)

// bridgeMsg wraps every message that came through the bridge so Update
// knows to re-arm the listener.
type bridgeMsg struct{ msg tea.Msg }

// bridge forwards callbacks, which run on connection goroutines, into the
// Bubble Tea event loop. Sends block until the UI reads them or the bridge
// is closed.
type bridge struct {
	ch   chan tea.Msg
	done chan struct{}
	once sync.Once
}

func newBridge() *bridge {
	return &bridge{
		ch:   make(chan tea.Msg, 256),
		done: make(chan struct{}),
	}
}

func (b *bridge) send(msg tea.Msg) {
	select {
	case b.ch <- msg:
	case <-b.done:
	}
}

// listen waits for the next forwarded message.
func (b *bridge) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.ch:
			return bridgeMsg{msg: msg}
		case <-b.done:
			return nil
		}
	}
}

func (b *bridge) close() {
	b.once.Do(func() { close(b.done) })
}
