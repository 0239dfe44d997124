package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/agent-racer/realtime/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	State      string
	Endpoint   string
	CPU        float64
	Mem        float64
	HasMetrics bool
	Turns      int
	Width      int
}

// New creates a status bar model.
func New(endpoint string) Model {
	return Model{State: "idle", Endpoint: endpoint}
}

// SetMetrics records the latest host metrics sample.
func (m *Model) SetMetrics(cpu, mem float64) {
	m.CPU = cpu
	m.Mem = mem
	m.HasMetrics = true
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	connStr := lipgloss.NewStyle().Foreground(theme.StateColor(m.State)).
		Render(theme.StateGlyph(m.State) + " " + m.State)

	metricsStr := theme.StyleDimmed.Render("cpu --  mem --")
	if m.HasMetrics {
		cpu := lipgloss.NewStyle().Foreground(theme.LoadColor(m.CPU)).Render(fmt.Sprintf("cpu %.1f%%", m.CPU))
		mem := lipgloss.NewStyle().Foreground(theme.LoadColor(m.Mem)).Render(fmt.Sprintf("mem %.1f%%", m.Mem))
		metricsStr = cpu + "  " + mem
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + metricsStr + sep + fmt.Sprintf("%d turns", m.Turns)
	if m.Endpoint != "" {
		content += sep + theme.StyleDimmed.Render(m.Endpoint)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
