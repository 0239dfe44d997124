// Package eventlog renders the connection event log overlay.
package eventlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/agent-racer/realtime/internal/theme"
)

// capacity bounds the ring; older entries are overwritten.
const capacity = 200

// Kind tags an entry with where it came from.
type Kind string

const (
	KindConn   Kind = "conn"
	KindEmit   Kind = "emit"
	KindStream Kind = "strm"
	KindError  Kind = "err"
)

func (k Kind) color() lipgloss.Color {
	switch k {
	case KindConn:
		return theme.ColorConnecting
	case KindEmit:
		return theme.ColorAssistant
	case KindStream:
		return theme.ColorUser
	case KindError:
		return theme.ColorDanger
	}
	return theme.ColorDimmed
}

// Entry is one logged event.
type Entry struct {
	At      time.Time
	Kind    Kind
	Message string
}

// Model is a fixed-size ring of entries plus the overlay's scroll position.
type Model struct {
	ring       [capacity]Entry
	head       int // next write slot
	size       int
	errors     int
	back       int // lines scrolled back from the newest entry
	errorsOnly bool
	now        func() time.Time
}

// New returns an empty log.
func New() Model {
	return Model{now: time.Now}
}

// Add records an entry and jumps back to the newest one.
func (m *Model) Add(kind Kind, message string) {
	if m.size == capacity && m.ring[m.head].Kind == KindError {
		m.errors--
	}
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.ring[m.head] = Entry{At: now(), Kind: kind, Message: message}
	m.head = (m.head + 1) % capacity
	if m.size < capacity {
		m.size++
	}
	if kind == KindError {
		m.errors++
	}
	m.back = 0
}

// Addf formats the message like fmt.Sprintf.
func (m *Model) Addf(kind Kind, format string, args ...any) {
	m.Add(kind, fmt.Sprintf(format, args...))
}

// Len is the number of entries held.
func (m Model) Len() int { return m.size }

// Errors is the number of held entries of KindError.
func (m Model) Errors() int { return m.errors }

// Last returns the newest entry.
func (m Model) Last() (Entry, bool) {
	if m.size == 0 {
		return Entry{}, false
	}
	return m.ring[(m.head-1+capacity)%capacity], true
}

// Entries returns the visible entries, oldest first.
func (m Model) Entries() []Entry {
	out := make([]Entry, 0, m.size)
	start := (m.head - m.size + capacity) % capacity
	for i := 0; i < m.size; i++ {
		e := m.ring[(start+i)%capacity]
		if m.errorsOnly && e.Kind != KindError {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ToggleErrors switches between all entries and errors only.
func (m *Model) ToggleErrors() {
	m.errorsOnly = !m.errorsOnly
	m.back = 0
}

// Scroll moves the view by delta lines; positive goes back in time.
func (m *Model) Scroll(delta int) {
	m.back += delta
	if limit := len(m.Entries()) - 1; m.back > limit {
		m.back = limit
	}
	if m.back < 0 {
		m.back = 0
	}
}

// View renders the overlay panel at the given size.
func (m Model) View(width, height int) string {
	inner := width - 4
	if inner < 24 {
		inner = 24
	}
	rows := height - 6
	if rows < 3 {
		rows = 3
	}

	filter := "all"
	if m.errorsOnly {
		filter = "errors"
	}
	title := theme.StyleHeader.Render(" EVENT LOG ")
	footer := theme.StyleDimmed.Render(fmt.Sprintf(
		"↑/↓:scroll  e:%s  esc:close  %d entries, %d errors", filter, m.size, m.errors))

	entries := m.Entries()
	var body string
	if len(entries) == 0 {
		body = theme.StyleDimmed.Render("  Nothing logged yet.")
	} else {
		end := len(entries) - m.back
		start := max(end-rows, 0)

		lines := make([]string, 0, end-start)
		for _, e := range entries[start:end] {
			lines = append(lines, m.line(e, inner))
		}
		if m.back > 0 {
			lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("  ... %d newer", m.back)))
		}
		body = strings.Join(lines, "\n")
	}

	return lipgloss.NewStyle().
		Width(inner).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", footer))
}

// line renders one entry, truncating the message to fit width.
func (m Model) line(e Entry, width int) string {
	stamp := theme.StyleDimmed.Render(e.At.Format("15:04:05"))
	tag := lipgloss.NewStyle().Foreground(e.Kind.color()).Width(5).Render(string(e.Kind))

	msg := e.Message
	if room := width - 15; room > 3 && len(msg) > room {
		msg = msg[:room-3] + "..."
	}
	return stamp + " " + tag + msg
}
