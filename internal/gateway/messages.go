package gateway

import "github.com/lazyclaw/agentdash/internal/models"

// Event is a connection lifecycle or application event delivered to the
// consumer. Epoch counts successful dials starting at 1; every event of one
// connection carries the same epoch.
type Event interface {
	EventEpoch() uint64
}

// ConnectedMsg is sent when a connection is established
type ConnectedMsg struct {
	Epoch   uint64
	Address string
}

// DisconnectedMsg is sent when a connection is lost. The worker redials
// afterwards unless it has been stopped.
type DisconnectedMsg struct {
	Epoch uint64
	Error string
}

// FailedMsg reports a non-fatal error, such as a frame that failed to
// decode. The connection stays up.
type FailedMsg struct {
	Epoch uint64
	Error string
}

// DashboardMsg carries one decoded frame
type DashboardMsg struct {
	Epoch   uint64
	Message models.DashboardMessage
}

func (m ConnectedMsg) EventEpoch() uint64    { return m.Epoch }
func (m DisconnectedMsg) EventEpoch() uint64 { return m.Epoch }
func (m FailedMsg) EventEpoch() uint64       { return m.Epoch }
func (m DashboardMsg) EventEpoch() uint64    { return m.Epoch }
