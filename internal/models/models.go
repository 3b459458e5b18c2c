package models

// MessageType is the wire-level discriminant of an inbound dashboard frame
type MessageType string

const (
	MessageInit         MessageType = "init"
	MessageUpdate       MessageType = "update"
	MessageLog          MessageType = "log"
	MessageAgentMetrics MessageType = "agent_metrics"
	MessageGameMetrics  MessageType = "game_metrics"
	MessageTraceEvent   MessageType = "trace_event"
	MessageMemoryUpdate MessageType = "memory_update"
)

// DashboardMessage is one decoded application frame.
// Payload holds the pointer type registered for Type, e.g. *FsmStatePayload
// for MessageInit and MessageUpdate.
type DashboardMessage struct {
	Type    MessageType
	Payload any
}

// FsmState returns the payload of an init or update message
func (m DashboardMessage) FsmState() (*FsmStatePayload, bool) {
	p, ok := m.Payload.(*FsmStatePayload)
	return p, ok
}

// ============================================================================
// Inbound payloads
// ============================================================================

// FsmStatePayload is the agent's state machine snapshot (init and update)
type FsmStatePayload struct {
	FsmState    string         `json:"fsm_state"`
	StepIndex   int32          `json:"step_index"`
	PlanLength  uint64         `json:"plan_length"`
	CurrentGoal string         `json:"current_goal"`
	Blackboard  BlackboardData `json:"blackboard"`
}

// BlackboardData is the agent's working memory.
// CurrentStep, Plan items and ActionResult are opaque JSON trees; their shape
// is owned by the agent, not by the protocol.
type BlackboardData struct {
	GameBasicState string `json:"game_basic_state"`
	Scratchpad     string `json:"scratchpad"`
	CurrentStep    any    `json:"current_step"`
	Plan           []any  `json:"plan"`
	ActionResult   any    `json:"action_result"`
}

// LogPayload is a single log line emitted by the agent
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// AgentMetricsPayload holds agent throughput counters
type AgentMetricsPayload struct {
	TokensPerMin    float64 `json:"tokens_per_min"`
	LLMCallsPerMin  float64 `json:"llm_calls_per_min"`
	ActiveTasks     uint64  `json:"active_tasks"`
	TotalActions    uint64  `json:"total_actions"`
	ExecutionVolume uint64  `json:"execution_volume"`
	FailureRate     float64 `json:"failure_rate"`
	RecoveryRate    float64 `json:"recovery_rate"`
	Timestamp       uint64  `json:"timestamp"`
}

// GameMetricsPayload holds game engine performance numbers
type GameMetricsPayload struct {
	FPS         float64 `json:"fps"`
	FrameTimeMs float64 `json:"frame_time_ms"`
	TickRate    float64 `json:"tick_rate"`
	EntityCount uint64  `json:"entity_count"`
}

// Trace event kinds observed on the wire
const (
	TraceFSMTransition = "fsm_transition"
	TraceActionStart   = "action_start"
	TraceActionEnd     = "action_end"
	TraceLog           = "log"
)

// TraceEventPayload is one entry of the agent's execution trace.
// FromState, ToState and ActionName are nil when absent on the wire.
type TraceEventPayload struct {
	Timestamp  uint64  `json:"timestamp"`
	EventType  string  `json:"event_type"`
	FromState  *string `json:"from_state,omitempty"`
	ToState    *string `json:"to_state,omitempty"`
	ActionName *string `json:"action_name,omitempty"`
	Details    any     `json:"details"`
}

// MemoryPayload summarizes the agent's long-term memory store
type MemoryPayload struct {
	TotalEntries    uint64        `json:"total_entries"`
	RecentQueries   []MemoryQuery `json:"recent_queries"`
	RecentAdditions []MemoryEntry `json:"recent_additions"`
}

// MemoryQuery is a recent lookup against the memory store
type MemoryQuery struct {
	Query     string `json:"query"`
	Hits      uint64 `json:"hits"`
	Timestamp uint64 `json:"timestamp"`
}

// MemoryEntry is a recently written memory record
type MemoryEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Timestamp uint64 `json:"timestamp"`
	IsNew     bool   `json:"is_new"`
}

// ============================================================================
// Outbound commands
// ============================================================================

// CommandType is the wire-level discriminant of an outbound frame
type CommandType string

const (
	CommandSend CommandType = "command"
)

// OutboundCommand is anything the consumer can send to the agent.
// The value itself is marshalled as the frame payload.
type OutboundCommand interface {
	CommandType() CommandType
}

// SendCommand carries a free-text instruction for the agent
type SendCommand struct {
	Command string `json:"command"`
}

// CommandType implements OutboundCommand
func (SendCommand) CommandType() CommandType { return CommandSend }

// StringPtr is a helper for building optional wire fields
func StringPtr(s string) *string {
	return &s
}
