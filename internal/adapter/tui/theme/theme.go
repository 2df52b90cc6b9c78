// Package theme holds the colors, styles and glyphs shared by the chat
// screen. Colors are adaptive; lipgloss honours NO_COLOR when it detects
// the terminal profile.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	ColorError  = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo   = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	ColorDim    = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}

	// ColorLocal and ColorRemote tell the two backends apart at a glance.
	ColorLocal  = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#81c784"}
	ColorRemote = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#64b5f6"}

	ColorBorder       = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorBorderActive = ColorRemote

	colorBar   = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
	colorTab   = lipgloss.AdaptiveColor{Light: "#e0e0e0", Dark: "#333333"}
	colorTabFg = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9e9e9e"}
	colorOnTab = lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#1e1e1e"}
)

var (
	Dim       = lipgloss.NewStyle().Faint(true)
	TextError = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextInfo  = lipgloss.NewStyle().Foreground(ColorInfo)
	TextMuted = lipgloss.NewStyle().Foreground(ColorMuted)

	UserLabel   = bold(ColorInfo)
	BotLabel    = bold(ColorAccent)
	SystemLabel = bold(ColorMuted)
	ErrorLabel  = bold(ColorError)

	// ModelTag decorates the backend tag next to an assistant label.
	ModelTag  = lipgloss.NewStyle().Foreground(ColorMuted).Italic(true)
	Timestamp = lipgloss.NewStyle().Foreground(ColorDim).Faint(true)

	TabNormal = lipgloss.NewStyle().Foreground(colorTabFg).Background(colorTab).Padding(0, 2)
	TabActive = lipgloss.NewStyle().Foreground(colorOnTab).Background(ColorRemote).Bold(true).Padding(0, 2)

	StatusBar = lipgloss.NewStyle().Foreground(ColorDim).Background(colorBar).Padding(0, 1)
	StatusKey = bold(ColorInfo)

	// Notice is the "generating" banner shown above the input.
	Notice = bold(ColorWarn)

	InputPrompt      = bold(ColorInfo)
	InputPlaceholder = lipgloss.NewStyle().Foreground(ColorDim)
)

// MaxContentWidth is the widest a message body is wrapped to.
const MaxContentWidth = 100

// MinTabWidth is the narrowest terminal that still shows tab titles.
const MinTabWidth = 60

func bold(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}

// Backend returns the style for the status bar's backend label.
func Backend(local bool) lipgloss.Style {
	if local {
		return lipgloss.NewStyle().Foreground(ColorLocal)
	}
	return lipgloss.NewStyle().Foreground(ColorRemote)
}

// RequestState returns the style for a request controller state name.
// Idle has no style since the status bar hides it.
func RequestState(state string) lipgloss.Style {
	switch state {
	case "running":
		return TextInfo
	case "completing":
		return lipgloss.NewStyle().Foreground(ColorLocal)
	case "cancelling":
		return lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	default:
		return TextMuted
	}
}
