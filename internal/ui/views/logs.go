package views

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/lazyclaw/agentdash/internal/dashboard"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/lazyclaw/agentdash/internal/ui/styles"
)

// LogsView displays and manages the logs tab
type LogsView struct {
	viewport viewport.Model
	logs     []dashboard.LogLine
	filter   string
	follow   bool
	width    int
	height   int
}

// NewLogsView creates a new logs view
func NewLogsView(width, height int) *LogsView {
	vp := viewport.New(width, height)
	return &LogsView{
		viewport: vp,
		follow:   true,
		width:    width,
		height:   height,
	}
}

// SetSize updates the view dimensions
func (v *LogsView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.viewport.Width = width
	v.viewport.Height = height
	v.updateContent()
}

// SetLogs replaces the displayed log tail
func (v *LogsView) SetLogs(logs []dashboard.LogLine) {
	v.logs = logs
	v.updateContent()
}

// SetFilter sets the search filter
func (v *LogsView) SetFilter(filter string) {
	v.filter = filter
	v.updateContent()
}

// ClearFilter clears the search filter
func (v *LogsView) ClearFilter() {
	v.filter = ""
	v.updateContent()
}

// Filter returns the active filter
func (v *LogsView) Filter() string {
	return v.filter
}

// ToggleFollow toggles follow mode
func (v *LogsView) ToggleFollow() {
	v.follow = !v.follow
	if v.follow {
		v.viewport.GotoBottom()
	}
}

// SetFollow sets follow mode
func (v *LogsView) SetFollow(follow bool) {
	v.follow = follow
}

// IsFollowing returns whether follow mode is enabled
func (v *LogsView) IsFollowing() bool {
	return v.follow
}

// GotoTop scrolls to the oldest line and stops following
func (v *LogsView) GotoTop() {
	v.follow = false
	v.viewport.GotoTop()
}

// GotoBottom scrolls to the newest line
func (v *LogsView) GotoBottom() {
	v.viewport.GotoBottom()
}

// AtBottom reports whether the newest line is visible
func (v *LogsView) AtBottom() bool {
	return v.viewport.AtBottom()
}

// Update forwards scrolling keys to the viewport
func (v *LogsView) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	v.viewport, cmd = v.viewport.Update(msg)
	return cmd
}

func (v *LogsView) updateContent() {
	var lines []string

	for _, log := range v.logs {
		// Apply filter if set; characters must appear in order, any case
		if v.filter != "" && !fuzzy.MatchFold(v.filter, log.Message) {
			continue
		}

		ts := log.Received.Format("15:04:05")
		line := styles.Muted.Render(ts) + " " + styles.LogLevel(log.Level).Render(log.Message)
		lines = append(lines, line)
	}

	v.viewport.SetContent(strings.Join(lines, "\n"))
	if v.follow {
		v.viewport.GotoBottom()
	}
}

// View renders the logs view
func (v *LogsView) View() string {
	return v.viewport.View()
}
