package styles

import "github.com/charmbracelet/lipgloss"

// Colors
var (
	ColorPrimary        = lipgloss.Color("#89B4FA")
	ColorSecondary      = lipgloss.Color("#A6E3A1")
	ColorWarning        = lipgloss.Color("#F9E2AF")
	ColorError          = lipgloss.Color("#F38BA8")
	ColorMuted          = lipgloss.Color("#6C7086")
	ColorForeground     = lipgloss.Color("#CDD6F4")
	ColorHealthOK       = lipgloss.Color("#00C853")
	ColorHealthDegraded = lipgloss.Color("#FAB387")
	ColorHealthDown     = lipgloss.Color("#F38BA8")
	ColorDarkBg         = lipgloss.Color("#1E1E2E")
)

// Text Styles
var (
	Muted     = lipgloss.NewStyle().Foreground(ColorMuted)
	Secondary = lipgloss.NewStyle().Foreground(ColorSecondary)
	Primary   = lipgloss.NewStyle().Foreground(ColorPrimary)
)

// Title styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Padding(0, 1)
)

// Tab styles
var (
	ActiveTab = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorDarkBg).
			Padding(0, 2)

	InactiveTab = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 2)
)

// Status badge styles
var (
	StatusOK = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHealthOK)

	StatusDegraded = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHealthDegraded)

	StatusDown = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHealthDown)
)

// Bottom bar styles
var (
	BottomBar = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Background(ColorDarkBg).
			Padding(0, 1)

	HintKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary)

	HintDesc = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

// Log level styles
var (
	LogDebug   = lipgloss.NewStyle().Foreground(ColorMuted)
	LogInfo    = lipgloss.NewStyle().Foreground(ColorForeground)
	LogSuccess = lipgloss.NewStyle().Foreground(ColorSecondary)
	LogWarn    = lipgloss.NewStyle().Foreground(ColorWarning)
	LogError   = lipgloss.NewStyle().Foreground(ColorError)
)

// Input styles
var (
	InputPrompt = lipgloss.NewStyle().Foreground(ColorPrimary)
)

// Help overlay styles
var (
	HelpOverlay = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorPrimary).
			Padding(1, 2)

	HelpTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	HelpSection = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)
)

// Card/Panel styles
var (
	Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted).
		Padding(0, 1)

	CardTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)
)

// Label styles
var (
	LabelKey = lipgloss.NewStyle().
			Foreground(ColorMuted)

	LabelValue = lipgloss.NewStyle().
			Foreground(ColorForeground)

	LabelValueHighlight = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorPrimary)
)

// Trace event styles
var (
	TraceTransition = lipgloss.NewStyle().Foreground(ColorPrimary)
	TraceAction     = lipgloss.NewStyle().Foreground(ColorSecondary)
	TraceOther      = lipgloss.NewStyle().Foreground(ColorMuted)
)

// LogLevel returns the style for a log level string
func LogLevel(level string) lipgloss.Style {
	switch level {
	case "debug":
		return LogDebug
	case "success":
		return LogSuccess
	case "warn", "warning":
		return LogWarn
	case "error":
		return LogError
	default:
		return LogInfo
	}
}
