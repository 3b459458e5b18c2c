// Package dashboard holds the consumer-side view of a live agent connection.
// Model is driven purely by gateway events: the UI polls the handle, feeds
// every event to Apply, and renders whatever Model holds.
package dashboard

import (
	"fmt"
	"time"

	"github.com/lazyclaw/agentdash/internal/gateway"
	"github.com/lazyclaw/agentdash/internal/models"
)

// Default history bounds
const (
	DefaultLogTail     = 500
	DefaultTraceTail   = 200
	DefaultMetricsTail = 60
	DefaultFailureTail = 20
)

// Status is the connection state as seen by the consumer
type Status int

const (
	StatusConnecting Status = iota // no epoch seen yet
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Connecting"
	}
}

// LogLine is a log payload stamped with its arrival time
type LogLine struct {
	Received time.Time
	Epoch    uint64
	models.LogPayload
}

// Failure is a frame the gateway could not decode or encode
type Failure struct {
	Received time.Time
	Epoch    uint64
	Error    string
}

// Limits bounds the retained history
type Limits struct {
	LogTail     int
	TraceTail   int
	MetricsTail int
	FailureTail int
}

// Model is the consumer's state machine
type Model struct {
	limits Limits
	now    func() time.Time

	Status      Status
	Address     string
	Epoch       uint64
	Reconnects  int
	LastError   string
	ConnectedAt time.Time

	FsmState     *models.FsmStatePayload
	AgentMetrics *models.AgentMetricsPayload
	GameMetrics  *models.GameMetricsPayload
	Memory       *models.MemoryPayload

	// Bounded histories, oldest first
	Logs          []LogLine
	Trace         []models.TraceEventPayload
	AgentHistory  []models.AgentMetricsPayload
	GameHistory   []models.GameMetricsPayload
	Failures      []Failure
	FramesApplied uint64
}

// New creates a model. Zero limits select the defaults.
func New(limits Limits) *Model {
	if limits.LogTail <= 0 {
		limits.LogTail = DefaultLogTail
	}
	if limits.TraceTail <= 0 {
		limits.TraceTail = DefaultTraceTail
	}
	if limits.MetricsTail <= 0 {
		limits.MetricsTail = DefaultMetricsTail
	}
	if limits.FailureTail <= 0 {
		limits.FailureTail = DefaultFailureTail
	}
	return &Model{limits: limits, now: time.Now}
}

// ApplyAll feeds a polled batch in order and reports whether anything changed
func (m *Model) ApplyAll(events []gateway.Event) bool {
	changed := false
	for _, ev := range events {
		if m.Apply(ev) {
			changed = true
		}
	}
	return changed
}

// Apply folds one event into the model. Application events from an epoch
// other than the current one are ignored. It reports whether the model
// changed.
func (m *Model) Apply(ev gateway.Event) bool {
	switch ev := ev.(type) {
	case gateway.ConnectedMsg:
		if m.Epoch > 0 {
			m.Reconnects++
		}
		m.Status = StatusConnected
		m.Epoch = ev.Epoch
		m.Address = ev.Address
		m.LastError = ""
		m.ConnectedAt = m.now()
		return true

	case gateway.DisconnectedMsg:
		if ev.Epoch != m.Epoch {
			return false
		}
		m.Status = StatusDisconnected
		m.LastError = ev.Error
		return true

	case gateway.FailedMsg:
		if ev.Epoch != m.Epoch || m.Status != StatusConnected {
			return false
		}
		m.Failures = appendBounded(m.Failures, Failure{Received: m.now(), Epoch: ev.Epoch, Error: ev.Error}, m.limits.FailureTail)
		return true

	case gateway.DashboardMsg:
		if ev.Epoch != m.Epoch || m.Status != StatusConnected {
			return false
		}
		m.applyMessage(ev.Epoch, ev.Message)
		m.FramesApplied++
		return true
	}
	return false
}

func (m *Model) applyMessage(epoch uint64, msg models.DashboardMessage) {
	switch p := msg.Payload.(type) {
	case *models.FsmStatePayload:
		m.FsmState = p
	case *models.LogPayload:
		m.Logs = appendBounded(m.Logs, LogLine{Received: m.now(), Epoch: epoch, LogPayload: *p}, m.limits.LogTail)
	case *models.AgentMetricsPayload:
		m.AgentMetrics = p
		m.AgentHistory = appendBounded(m.AgentHistory, *p, m.limits.MetricsTail)
	case *models.GameMetricsPayload:
		m.GameMetrics = p
		m.GameHistory = appendBounded(m.GameHistory, *p, m.limits.MetricsTail)
	case *models.TraceEventPayload:
		m.Trace = appendBounded(m.Trace, *p, m.limits.TraceTail)
	case *models.MemoryPayload:
		m.Memory = p
	}
}

// Progress returns the current step over the plan length, clamped to [0, 1]
func (m *Model) Progress() float64 {
	if m.FsmState == nil || m.FsmState.PlanLength == 0 || m.FsmState.StepIndex <= 0 {
		return 0
	}
	p := float64(m.FsmState.StepIndex) / float64(m.FsmState.PlanLength)
	if p > 1 {
		return 1
	}
	return p
}

// StatusLabel describes the connection for a status line
func (m *Model) StatusLabel() string {
	switch m.Status {
	case StatusConnected:
		return fmt.Sprintf("Connected to %s (epoch %d)", m.Address, m.Epoch)
	case StatusDisconnected:
		if m.LastError != "" {
			return "Disconnected: " + m.LastError + ", retrying"
		}
		return "Disconnected, retrying"
	default:
		return "Connecting..."
	}
}

// Uptime is how long the current epoch has been connected, or 0 when not
// connected
func (m *Model) Uptime() time.Duration {
	if m.Status != StatusConnected {
		return 0
	}
	return m.now().Sub(m.ConnectedAt).Truncate(time.Second)
}

// CurrentState returns the agent's FSM state, or "" before the first snapshot
func (m *Model) CurrentState() string {
	if m.FsmState == nil {
		return ""
	}
	return m.FsmState.FsmState
}

// TokenHistory returns tokens-per-minute samples, oldest first
func (m *Model) TokenHistory() []float64 {
	out := make([]float64, len(m.AgentHistory))
	for i, s := range m.AgentHistory {
		out[i] = s.TokensPerMin
	}
	return out
}

// FPSHistory returns frames-per-second samples, oldest first
func (m *Model) FPSHistory() []float64 {
	out := make([]float64, len(m.GameHistory))
	for i, s := range m.GameHistory {
		out[i] = s.FPS
	}
	return out
}

func appendBounded[T any](items []T, item T, limit int) []T {
	items = append(items, item)
	if over := len(items) - limit; over > 0 {
		items = append(items[:0:0], items[over:]...)
	}
	return items
}
