package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lazyclaw/agentdash/internal/config"
	"github.com/lazyclaw/agentdash/internal/dashboard"
	"github.com/lazyclaw/agentdash/internal/gateway"
	"github.com/lazyclaw/agentdash/internal/state"
	"github.com/lazyclaw/agentdash/internal/ui/keys"
	"github.com/lazyclaw/agentdash/internal/ui/styles"
	"github.com/lazyclaw/agentdash/internal/ui/views"
)

// AppMode represents the current mode of the application
type AppMode int

const (
	ModeNormal AppMode = iota
	ModeHelp
	ModeSearch
	ModeCommand
)

// Tab represents the available tabs
type Tab int

const (
	TabOverview Tab = iota
	TabLogs
	TabTrace
	TabMemory
	tabCount
)

func (t Tab) String() string {
	names := []string{"Overview", "Logs", "Trace", "Memory"}
	if int(t) < len(names) {
		return names[t]
	}
	return "Unknown"
}

// Connection is the live link the dashboard is driven by.
// *gateway.Handle satisfies it.
type Connection interface {
	Address() string
	Submit(text string)
	PollEvents() []gateway.Event
}

// pollMsg triggers a drain of the connection's event queue
type pollMsg time.Time

// App is the main application model
type App struct {
	// Configuration
	config *config.Config
	conn   Connection

	// UI state
	mode      AppMode
	activeTab Tab
	width     int
	height    int

	// Keys
	keys keys.KeyMap
	help help.Model

	// Sub-models
	searchInput  textinput.Model
	commandInput textinput.Model
	logsView     *views.LogsView
	overviewView *views.OverviewView

	// Connection state, fed by PollEvents
	dash *dashboard.Model

	// Command history browsing; historyPos == len(history) means a fresh line
	history    []string
	historyPos int
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, uiState *state.State, conn Connection) *App {
	search := textinput.New()
	search.Placeholder = "Filter logs..."
	search.CharLimit = 100

	command := textinput.New()
	command.Placeholder = "Instruction for the agent..."
	command.CharLimit = 500

	activeTab := Tab(uiState.ActiveTab)
	if activeTab < 0 || activeTab >= tabCount {
		activeTab = TabOverview
	}

	logsView := views.NewLogsView(0, 0)
	logsView.SetFollow(uiState.LogFollow)

	h := help.New()
	h.ShowAll = true

	dash := dashboard.New(dashboard.Limits{
		LogTail:   cfg.UI.LogTailLines,
		TraceTail: cfg.UI.TraceTail,
	})
	overviewView := views.NewOverviewView()
	overviewView.SetData(dash)

	return &App{
		config:       cfg,
		conn:         conn,
		mode:         ModeNormal,
		activeTab:    activeTab,
		keys:         keys.DefaultKeyMap(),
		help:         h,
		searchInput:  search,
		commandInput: command,
		logsView:     logsView,
		overviewView: overviewView,
		dash:         dash,
		history:      append([]string(nil), uiState.CommandHistory...),
		historyPos:   len(uiState.CommandHistory),
	}
}

// GetState returns the current UI state for persistence
func (a *App) GetState() *state.State {
	return &state.State{
		LastAddress:    a.conn.Address(),
		ActiveTab:      int(a.activeTab),
		LogFollow:      a.logsView.IsFollowing(),
		CommandHistory: a.history,
	}
}

// Dashboard exposes the connection state the UI renders
func (a *App) Dashboard() *dashboard.Model {
	return a.dash
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return a.schedulePoll()
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.updateViewportSizes()
		return a, nil

	case pollMsg:
		if a.dash.ApplyAll(a.conn.PollEvents()) {
			a.refreshViews()
		}
		return a, a.schedulePoll()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.mode {
	case ModeHelp:
		if key.Matches(msg, a.keys.Escape) || key.Matches(msg, a.keys.Help) || msg.String() == "q" {
			a.mode = ModeNormal
		}
		return a, nil

	case ModeSearch:
		switch {
		case key.Matches(msg, a.keys.Escape):
			a.mode = ModeNormal
			a.searchInput.Reset()
			a.searchInput.Blur()
			a.logsView.ClearFilter()
			return a, nil
		case key.Matches(msg, a.keys.Enter):
			a.mode = ModeNormal
			a.searchInput.Blur()
			return a, nil
		}
		var cmd tea.Cmd
		a.searchInput, cmd = a.searchInput.Update(msg)
		a.logsView.SetFilter(a.searchInput.Value())
		return a, cmd

	case ModeCommand:
		return a.handleCommandKey(msg)
	}

	// Normal mode keybindings
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit

	case key.Matches(msg, a.keys.Help):
		a.mode = ModeHelp

	case key.Matches(msg, a.keys.Command):
		a.mode = ModeCommand
		a.historyPos = len(a.history)
		a.commandInput.Reset()
		return a, a.commandInput.Focus()

	case key.Matches(msg, a.keys.Search):
		a.mode = ModeSearch
		a.activeTab = TabLogs
		a.searchInput.SetValue(a.logsView.Filter())
		return a, a.searchInput.Focus()

	case key.Matches(msg, a.keys.NextTab):
		a.activeTab = (a.activeTab + 1) % tabCount
	case key.Matches(msg, a.keys.PrevTab):
		a.activeTab = (a.activeTab + tabCount - 1) % tabCount

	case key.Matches(msg, a.keys.Tab1):
		a.activeTab = TabOverview
	case key.Matches(msg, a.keys.Tab2):
		a.activeTab = TabLogs
	case key.Matches(msg, a.keys.Tab3):
		a.activeTab = TabTrace
	case key.Matches(msg, a.keys.Tab4):
		a.activeTab = TabMemory

	case key.Matches(msg, a.keys.ToggleFollow):
		a.logsView.ToggleFollow()

	case a.activeTab == TabLogs && key.Matches(msg, a.keys.Home):
		a.logsView.GotoTop()
	case a.activeTab == TabLogs && key.Matches(msg, a.keys.End):
		a.logsView.GotoBottom()
		a.logsView.SetFollow(true)

	case a.activeTab == TabLogs && (key.Matches(msg, a.keys.Up) || key.Matches(msg, a.keys.Down) ||
		key.Matches(msg, a.keys.PageUp) || key.Matches(msg, a.keys.PageDown)):
		cmd := a.logsView.Update(msg)
		a.logsView.SetFollow(a.logsView.AtBottom())
		return a, cmd
	}

	return a, nil
}

func (a *App) handleCommandKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Escape):
		a.mode = ModeNormal
		a.commandInput.Reset()
		a.commandInput.Blur()
		return a, nil

	case key.Matches(msg, a.keys.Enter):
		text := strings.TrimSpace(a.commandInput.Value())
		a.mode = ModeNormal
		a.commandInput.Reset()
		a.commandInput.Blur()
		if text != "" {
			a.conn.Submit(text)
			a.recordCommand(text)
		}
		return a, nil

	// Arrow keys only; j/k are ordinary text here
	case msg.Type == tea.KeyUp:
		if a.historyPos > 0 {
			a.historyPos--
			a.commandInput.SetValue(a.history[a.historyPos])
			a.commandInput.CursorEnd()
		}
		return a, nil

	case msg.Type == tea.KeyDown:
		if a.historyPos < len(a.history) {
			a.historyPos++
		}
		if a.historyPos == len(a.history) {
			a.commandInput.SetValue("")
		} else {
			a.commandInput.SetValue(a.history[a.historyPos])
			a.commandInput.CursorEnd()
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.commandInput, cmd = a.commandInput.Update(msg)
	return a, cmd
}

func (a *App) recordCommand(text string) {
	s := state.State{CommandHistory: a.history}
	s.RecordCommand(text)
	a.history = s.CommandHistory
	a.historyPos = len(a.history)
}

// View implements tea.Model
func (a *App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	// Help overlay
	if a.mode == ModeHelp {
		return a.renderHelp()
	}

	return a.renderMainLayout()
}

func (a *App) renderMainLayout() string {
	parts := []string{
		a.renderHeader(),
		a.renderTabs(),
		lipgloss.NewStyle().Height(a.contentHeight()).MaxHeight(a.contentHeight()).Render(a.renderActiveTab()),
	}

	switch a.mode {
	case ModeSearch:
		parts = append(parts, styles.InputPrompt.Render("Filter: ")+a.searchInput.View())
	case ModeCommand:
		parts = append(parts, styles.InputPrompt.Render("Command: ")+a.commandInput.View())
	}

	parts = append(parts, a.renderBottomBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) renderHeader() string {
	title := styles.TitleStyle.Render("agentdash")
	info := styles.Muted.Render(a.dash.StatusLabel())
	if a.dash.Status == dashboard.StatusConnecting {
		info = styles.Muted.Render(a.dash.StatusLabel() + " " + a.conn.Address())
	}
	if a.dash.Status == dashboard.StatusConnected {
		info += styles.Muted.Render(fmt.Sprintf("  up %s  frames %d", a.dash.Uptime(), a.dash.FramesApplied))
	}
	if a.dash.Reconnects > 0 {
		info += styles.Muted.Render(fmt.Sprintf("  reconnects %d", a.dash.Reconnects))
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, title, a.getStatusBadge(), " ", info)
}

func (a *App) renderTabs() string {
	var tabs []string
	for t := Tab(0); t < tabCount; t++ {
		name := fmt.Sprintf("%d %s", t+1, t)
		if t == a.activeTab {
			tabs = append(tabs, styles.ActiveTab.Render(name))
		} else {
			tabs = append(tabs, styles.InactiveTab.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, tabs...)
}

func (a *App) renderActiveTab() string {
	switch a.activeTab {
	case TabLogs:
		return a.logsView.View()
	case TabTrace:
		return views.RenderTrace(a.dash.Trace, a.contentHeight())
	case TabMemory:
		return views.RenderMemory(a.dash)
	default:
		return a.overviewView.View()
	}
}

func (a *App) renderBottomBar() string {
	follow := "off"
	if a.logsView.IsFollowing() {
		follow = "on"
	}
	hints := []string{
		styles.HintKey.Render("q") + styles.HintDesc.Render(":quit"),
		styles.HintKey.Render("?") + styles.HintDesc.Render(":help"),
		styles.HintKey.Render(":") + styles.HintDesc.Render(":command"),
		styles.HintKey.Render("/") + styles.HintDesc.Render(":filter"),
		styles.HintKey.Render("1-4") + styles.HintDesc.Render(":tabs"),
		styles.HintKey.Render("f") + styles.HintDesc.Render(":follow "+follow),
	}

	return styles.BottomBar.Width(a.width).Render(strings.Join(hints, "  "))
}

func (a *App) renderHelp() string {
	content := styles.HelpTitle.Render("agentdash Help") + "\n\n"
	content += styles.HelpSection.Render("Keys") + "\n"
	content += a.help.View(a.keys) + "\n\n"

	content += styles.HelpSection.Render("Command line") + "\n"
	content += "  up/down        Browse previous commands\n"
	content += "  enter          Send to the agent\n"
	content += "  esc            Cancel\n\n"

	content += styles.Muted.Render("Press esc or ? to close")

	overlay := styles.HelpOverlay.Render(content)
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, overlay)
}

func (a *App) getStatusBadge() string {
	switch a.dash.Status {
	case dashboard.StatusConnected:
		return styles.StatusOK.Render("[OK]")
	case dashboard.StatusDisconnected:
		return styles.StatusDown.Render("[DOWN]")
	default:
		return styles.StatusDegraded.Render("[...]")
	}
}

func (a *App) contentHeight() int {
	// header, tabs, bottom bar and the optional input line
	return max(a.height-4, 1)
}

func (a *App) updateViewportSizes() {
	a.logsView.SetSize(a.width, a.contentHeight())
	a.overviewView.SetSize(a.width, a.contentHeight())
}

func (a *App) refreshViews() {
	a.logsView.SetLogs(a.dash.Logs)
	a.overviewView.SetData(a.dash)
}

func (a *App) schedulePoll() tea.Cmd {
	return tea.Tick(a.config.UI.PollInterval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}
