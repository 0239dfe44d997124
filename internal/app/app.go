package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-racer/realtime/internal/realtime"
	"github.com/agent-racer/realtime/internal/theme"
	"github.com/agent-racer/realtime/internal/views/eventlog"
	"github.com/agent-racer/realtime/internal/views/status"
)

const (
	EventChat    = "chat_message"
	EventMetrics = "metrics"
)

type role int

const (
	roleUser role = iota
	roleAssistant
)

type message struct {
	role      role
	sessionID string
	content   string
	rendered  string
	streaming bool
	err       error
}

type chatPayload struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

type chatAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type (
	ackMsg struct {
		sessionID string
		err       error
	}
	connectedMsg struct{ err error }
)

// session is the state shared by every copy of Model.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	bridge  *bridge
	unsubs  []func()
	streams map[string]func()
}

// Model is the root Bubble Tea model.
type Model struct {
	conn           Conn
	s              *session
	conversationID string

	keys   KeyMap
	width  int
	height int

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	statusBar status.Model
	eventLog  eventlog.Model
	showLog   bool

	messages []message
	turns    int
	pending  int // replies still streaming
}

// New creates the root model and subscribes to connection events.
func New(conn Conn, conversationID, endpoint string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:     ctx,
		cancel:  cancel,
		bridge:  newBridge(),
		streams: make(map[string]func()),
	}

	ti := textinput.New()
	ti.Placeholder = "Type a message... (enter to send, ctrl+c to quit)"
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorAssistant)

	m := Model{
		conn:           conn,
		s:              s,
		conversationID: conversationID,
		keys:           DefaultKeyMap(),
		input:          ti,
		viewport:       viewport.New(80, 20),
		spinner:        sp,
		statusBar:      status.New(endpoint),
		eventLog:       eventlog.New(),
	}

	b := s.bridge
	s.unsubs = append(s.unsubs,
		conn.WatchState(func(st realtime.State) { b.send(StateMsg{State: st}) }),
		conn.Subscribe(EventMetrics, realtime.HandlerFunc(func(p json.RawMessage) error {
			var mm MetricsMsg
			if err := json.Unmarshal(p, &mm); err != nil {
				return fmt.Errorf("decode metrics: %w", err)
			}
			b.send(mm)
			return nil
		})),
	)
	m.statusBar.State = conn.State().String()
	return m
}

// Init starts the connection and the bridge listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.s.bridge.listen(),
		m.connect(),
	)
}

func (m Model) connect() tea.Cmd {
	conn, ctx := m.conn, m.s.ctx
	return func() tea.Msg {
		return connectedMsg{err: conn.Connect(ctx)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case bridgeMsg:
		var cmd tea.Cmd
		m, cmd = m.handleBridge(msg.msg)
		return m, tea.Batch(cmd, m.s.bridge.listen())

	case ackMsg:
		if msg.err != nil {
			m.eventLog.Addf(eventlog.KindError, "%s: %v", msg.sessionID, msg.err)
			m.finishTurn(msg.sessionID, msg.err)
			m.refresh()
		} else {
			m.eventLog.Addf(eventlog.KindEmit, "%s acknowledged", msg.sessionID)
		}
		return m, nil

	case connectedMsg:
		if msg.err != nil {
			m.eventLog.Addf(eventlog.KindError, "connect: %v (retrying in background)", msg.err)
		}
		return m, nil

	case spinner.TickMsg:
		if m.pending == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.EventLog):
		m.showLog = !m.showLog
		return m, nil
	}

	if m.showLog {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.showLog = false
		case key.Matches(msg, m.keys.LogErrs):
			m.eventLog.ToggleErrors()
		case key.Matches(msg, m.keys.Up):
			m.eventLog.Scroll(1)
		case key.Matches(msg, m.keys.Down):
			m.eventLog.Scroll(-1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		return m.send(text)

	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send opens a stream for the next turn, then emits the message.
func (m Model) send(text string) (tea.Model, tea.Cmd) {
	m.turns++
	m.statusBar.Turns = m.turns
	sessionID := fmt.Sprintf("%s-%d", m.conversationID, m.turns)

	m.messages = append(m.messages,
		message{role: roleUser, content: text},
		message{role: roleAssistant, sessionID: sessionID, streaming: true},
	)

	b := m.s.bridge
	m.s.streams[sessionID] = m.conn.SubscribeToStream(sessionID,
		func(chunk string) { b.send(ChunkMsg{SessionID: sessionID, Content: chunk}) },
		func() { b.send(StreamDoneMsg{SessionID: sessionID}) },
	)
	m.eventLog.Addf(eventlog.KindEmit, "%s %s (%d chars)", EventChat, sessionID, len(text))

	m.pending++
	cmds := []tea.Cmd{m.emit(sessionID, text)}
	if m.pending == 1 {
		cmds = append(cmds, m.spinner.Tick)
	}
	m.refresh()
	return m, tea.Batch(cmds...)
}

func (m Model) emit(sessionID, text string) tea.Cmd {
	conn, ctx := m.conn, m.s.ctx
	return func() tea.Msg {
		raw, err := conn.Emit(ctx, EventChat, chatPayload{SessionID: sessionID, Content: text})
		if err != nil {
			return ackMsg{sessionID: sessionID, err: err}
		}
		var ack chatAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			return ackMsg{sessionID: sessionID, err: fmt.Errorf("decode ack: %w", err)}
		}
		if !ack.OK {
			reason := ack.Error
			if reason == "" {
				reason = "rejected by server"
			}
			return ackMsg{sessionID: sessionID, err: errors.New(reason)}
		}
		return ackMsg{sessionID: sessionID}
	}
}

func (m Model) handleBridge(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.statusBar.State = msg.State.String()
		m.eventLog.Addf(eventlog.KindConn, "state %s", msg.State)

	case MetricsMsg:
		m.statusBar.SetMetrics(msg.CPU, msg.Mem)

	case ChunkMsg:
		if i := m.find(msg.SessionID); i >= 0 && m.messages[i].streaming {
			m.messages[i].content += msg.Content
			m.refresh()
		}

	case StreamDoneMsg:
		m.eventLog.Addf(eventlog.KindStream, "%s complete", msg.SessionID)
		m.finishTurn(msg.SessionID, nil)
		m.refresh()
	}
	return m, nil
}

func (m *Model) find(sessionID string) int {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].sessionID == sessionID {
			return i
		}
	}
	return -1
}

// finishTurn ends a streaming reply, rendering it unless it failed.
func (m *Model) finishTurn(sessionID string, err error) {
	i := m.find(sessionID)
	if i < 0 || !m.messages[i].streaming {
		return
	}
	msg := &m.messages[i]
	msg.streaming = false
	msg.err = err
	if err == nil {
		msg.rendered = m.render(msg.content)
	}
	m.pending--

	if unsub, ok := m.s.streams[sessionID]; ok {
		unsub()
		delete(m.s.streams, sessionID)
	}
}

func (m *Model) render(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.statusBar.Width = width - 2

	const chrome = 3 + 3 + 1 // status bar, input box, help line
	m.viewport.Width = width - 4
	m.viewport.Height = height - chrome
	if m.viewport.Height < 3 {
		m.viewport.Height = 3
	}
	m.input.Width = width - 8

	wrap := width - 8
	if wrap < 20 {
		wrap = 20
	}
	if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(wrap)); err == nil {
		m.renderer = r
		for i := range m.messages {
			if msg := &m.messages[i]; msg.role == roleAssistant && !msg.streaming && msg.err == nil {
				msg.rendered = m.render(msg.content)
			}
		}
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	if len(m.messages) == 0 {
		return theme.StyleDimmed.Render("  No messages yet. Say something!")
	}

	parts := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		if msg.role == roleUser {
			parts = append(parts, theme.StyleUser.Render("you")+"\n"+msg.content)
			continue
		}

		header := theme.StyleAssistant.Render("assistant")
		body := msg.content
		switch {
		case msg.streaming:
			header += " " + m.spinner.View()
		case msg.err != nil:
			body += "\n" + theme.StyleError.Render("error: "+msg.err.Error())
		case msg.rendered != "":
			body = msg.rendered
		}
		parts = append(parts, header+"\n"+body)
	}
	return strings.Join(parts, "\n\n")
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	body := m.viewport.View()
	if m.showLog {
		body = m.eventLog.View(m.width, m.height-4)
	}

	sections := []string{
		m.statusBar.View(),
		body,
		theme.StyleBorder.Width(m.width - 2).Render(m.input.View()),
		theme.StyleDimmed.Render("  enter:send  ↑/↓:scroll  ctrl+d:event log  ctrl+c:quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// Shutdown releases subscriptions and closes the connection.
func (m Model) Shutdown() {
	m.s.cancel()
	for _, unsub := range m.s.unsubs {
		unsub()
	}
	for id, unsub := range m.s.streams {
		unsub()
		delete(m.s.streams, id)
	}
	m.s.bridge.close()
	m.conn.Close()
}
