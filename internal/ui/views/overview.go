package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lazyclaw/agentdash/internal/dashboard"
	"github.com/lazyclaw/agentdash/internal/ui/styles"
)

// OverviewView displays the agent's FSM state and metrics
type OverviewView struct {
	width  int
	height int

	model *dashboard.Model
}

// NewOverviewView creates a new overview view
func NewOverviewView() *OverviewView {
	return &OverviewView{}
}

// SetSize sets the view dimensions
func (v *OverviewView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// SetData updates the view data
func (v *OverviewView) SetData(model *dashboard.Model) {
	v.model = model
}

// View renders the overview
func (v *OverviewView) View() string {
	if v.model == nil {
		return ""
	}
	m := v.model
	cardWidth := max(v.width/2-2, 20)

	fsm := []string{styles.CardTitle.Render("Agent")}
	if m.FsmState == nil {
		fsm = append(fsm, styles.Muted.Render("Waiting for state..."))
	} else {
		fsm = append(fsm,
			label("State", styles.LabelValueHighlight.Render(m.CurrentState())),
			label("Goal", m.FsmState.CurrentGoal),
			label("Step", fmt.Sprintf("%d / %d", m.FsmState.StepIndex, m.FsmState.PlanLength)),
			ProgressBar(m.Progress(), cardWidth-4),
		)
		if bb := m.FsmState.Blackboard.GameBasicState; bb != "" {
			fsm = append(fsm, label("Game", bb))
		}
	}

	agent := []string{styles.CardTitle.Render("Agent Benchmark")}
	if a := m.AgentMetrics; a != nil {
		agent = append(agent,
			label("Tokens/min", fmt.Sprintf("%.0f", a.TokensPerMin)),
			label("LLM calls/min", fmt.Sprintf("%.1f", a.LLMCallsPerMin)),
			label("Active tasks", fmt.Sprintf("%d", a.ActiveTasks)),
			label("Actions", fmt.Sprintf("%d (volume %d)", a.TotalActions, a.ExecutionVolume)),
			label("Failure rate", fmt.Sprintf("%.1f%%", a.FailureRate*100)),
			label("Recovery rate", fmt.Sprintf("%.1f%%", a.RecoveryRate*100)),
			Sparkline(m.TokenHistory(), cardWidth-4),
		)
	} else {
		agent = append(agent, styles.Muted.Render("No metrics yet"))
	}

	game := []string{styles.CardTitle.Render("Game")}
	if g := m.GameMetrics; g != nil {
		game = append(game,
			label("FPS", fmt.Sprintf("%.1f", g.FPS)),
			label("Frame time", fmt.Sprintf("%.2f ms", g.FrameTimeMs)),
			label("Tick rate", fmt.Sprintf("%.1f", g.TickRate)),
			label("Entities", fmt.Sprintf("%d", g.EntityCount)),
			Sparkline(m.FPSHistory(), cardWidth-4),
		)
	} else {
		game = append(game, styles.Muted.Render("No metrics yet"))
	}

	card := styles.Card.Width(cardWidth)
	left := card.Render(strings.Join(fsm, "\n"))
	right := lipgloss.JoinVertical(lipgloss.Left,
		card.Render(strings.Join(agent, "\n")),
		card.Render(strings.Join(game, "\n")),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func label(key, value string) string {
	return styles.LabelKey.Render(key+": ") + styles.LabelValue.Render(value)
}

// ProgressBar renders a fraction in [0, 1] as a fixed-width bar
func ProgressBar(fraction float64, width int) string {
	if width < 10 {
		width = 10
	}
	barWidth := width - 5
	filled := int(fraction * float64(barWidth))
	filled = min(max(filled, 0), barWidth)
	return fmt.Sprintf("%s%s %3d%%",
		styles.Primary.Render(strings.Repeat("█", filled)),
		styles.Muted.Render(strings.Repeat("░", barWidth-filled)),
		int(fraction*100))
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width samples as block characters
func Sparkline(samples []float64, width int) string {
	if len(samples) == 0 || width <= 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	lo, hi := samples[0], samples[0]
	for _, s := range samples {
		lo = min(lo, s)
		hi = max(hi, s)
	}

	var b strings.Builder
	for _, s := range samples {
		idx := 0
		if hi > lo {
			idx = int((s - lo) / (hi - lo) * float64(len(sparkBlocks)-1))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return styles.Secondary.Render(b.String())
}
