// Package theme provides the Lip Gloss color palette and reusable styles
// for the chat TUI. It is a leaf package with no internal imports to avoid
// import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Connection state colors.
var (
	ColorConnected    = lipgloss.Color("#22c55e")
	ColorConnecting   = lipgloss.Color("#3b82f6")
	ColorReconnecting = lipgloss.Color("#d97706")
	ColorFailed       = lipgloss.Color("#dc2626")
	ColorIdle         = lipgloss.Color("#6b7280")
)

// Chat role colors.
var (
	ColorUser      = lipgloss.Color("#a855f7")
	ColorAssistant = lipgloss.Color("#06b6d4")
)

// Load thresholds for the metrics readout.
var (
	ColorLoadLow  = lipgloss.Color("#22c55e") // <50%
	ColorLoadMid  = lipgloss.Color("#d97706") // 50-80%
	ColorLoadHigh = lipgloss.Color("#dc2626") // >80%
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
	ColorDanger = lipgloss.Color("#dc2626")
)

// StateColor returns the color for a connection state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "connected":
		return ColorConnected
	case "connecting":
		return ColorConnecting
	case "reconnecting", "closing":
		return ColorReconnecting
	case "failed":
		return ColorFailed
	default:
		return ColorIdle
	}
}

// StateGlyph returns a glyph for a connection state name.
func StateGlyph(state string) string {
	switch state {
	case "connected":
		return "●"
	case "connecting", "reconnecting":
		return "◌"
	case "failed":
		return "✗"
	default:
		return "○"
	}
}

// LoadColor returns the color for a utilisation percentage (0-100).
func LoadColor(pct float64) lipgloss.Color {
	switch {
	case pct > 80:
		return ColorLoadHigh
	case pct > 50:
		return ColorLoadMid
	default:
		return ColorLoadLow
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
		Foreground(ColorDanger)

	StyleUser = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorUser)

	StyleAssistant = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAssistant)
)
