package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary    = lipgloss.Color("#22d3ee") // Cyan accent
	Secondary  = lipgloss.Color("#7C3AED") // Violet
	Success    = lipgloss.Color("#10B981") // Emerald
	Warning    = lipgloss.Color("#F59E0B") // Amber
	Error      = lipgloss.Color("#EF4444") // Red
	Muted      = lipgloss.Color("#6B7280") // Gray
	Foreground = lipgloss.Color("#F9FAFB") // Light gray
	Background = lipgloss.Color("#111827") // Dark gray
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			MarginBottom(1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	StatusStyle = lipgloss.NewStyle().
			Foreground(Foreground).
			Background(Primary).
			Padding(0, 1).
			Bold(true)
)

// Tile styles. A speaking participant gets the accent border.
var (
	TileStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Muted).
			Padding(0, 1).
			Width(26)

	SpeakingTileStyle = TileStyle.
				BorderForeground(Success)

	ScreenStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(Secondary).
			Padding(0, 1)

	RoomBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(Success).
			Padding(1, 2)
)

// Table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				Align(lipgloss.Center)

	tableCellStyle = lipgloss.NewStyle().Padding(0, 1)

	TableRowStyle = tableCellStyle.Foreground(lipgloss.Color("255"))

	TableRowAltStyle = tableCellStyle.Foreground(lipgloss.Color("245"))
)

// Layout styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 2).
			MarginBottom(1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(Muted).
			MarginTop(1)
)

// SpinnerStyle colors spinner frames.
var SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)

const (
	IconSuccess   = "✅"
	IconError     = "❌"
	IconWarning   = "⚠️"
	IconInfo      = "ℹ️"
	IconLink      = "🔗"
	IconRoom      = "🚪"
	IconHost      = "👑"
	IconMic       = "🎙️"
	IconMicOff    = "🔇"
	IconCamera    = "📷"
	IconCameraOff = "🚫"
	IconScreen    = "🖥️"
	IconSpeaking  = "🔊"
	IconAssistant = "🤖"
	IconConnect   = "🔌"
	IconWaiting   = "⏳"
	IconCopy      = "📋"
	IconWeb       = "🌐"
)

// Print helpers write to stderr so they never interleave with the
// meeting view on stdout.

// PrintError prints an error message to stderr.
func PrintError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

// PrintErrorf prints a formatted error message to stderr.
func PrintErrorf(format string, args ...any) {
	PrintError(fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning to stderr.
func PrintWarning(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

// PrintSuccess prints a success message to stderr.
func PrintSuccess(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

// PrintInfo prints an info message to stderr.
func PrintInfo(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", IconInfo, msg)
}

// PrintInfof prints a formatted info message to stderr.
func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}
