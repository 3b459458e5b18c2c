package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lazyclaw/agentdash/internal/models"
)

// MockServer simulates an agent telemetry endpoint for UI testing.
// Each connection receives an init frame followed by a random stream of
// updates, logs, metrics, trace events and memory updates. Commands sent by
// the client are recorded and acknowledged with a log frame.
type MockServer struct {
	// Period between generated frames
	Interval time.Duration

	Logger *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	commands []string
}

// NewMockServer creates a mock server emitting a frame every interval
func NewMockServer(interval time.Duration) *MockServer {
	return &MockServer{
		Interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Commands returns every command text received so far
func (m *MockServer) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// ListenAndServe serves the mock endpoint on addr until ctx is cancelled
func (m *MockServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mock server listen: %w", err)
	}

	srv := &http.Server{Handler: m}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mock server: %w", err)
	}
	return nil
}

// ServeHTTP upgrades the request and streams simulated telemetry
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger().Warn("mock upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sim := newSimulation()
	var writeMu sync.Mutex
	send := func(msgType models.MessageType, payload any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(map[string]any{"type": msgType, "payload": payload})
	}

	if err := send(models.MessageInit, sim.state()); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			text, ok := parseCommand(data)
			if !ok {
				continue
			}
			m.mu.Lock()
			m.commands = append(m.commands, text)
			m.mu.Unlock()

			ack := models.LogPayload{Level: "info", Message: "received command: " + text}
			if err := send(models.MessageLog, ack); err != nil {
				return
			}
		}
	}()

	interval := m.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			msgType, payload := sim.next()
			if err := send(msgType, payload); err != nil {
				return
			}
		}
	}
}

func (m *MockServer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func parseCommand(data []byte) (string, bool) {
	var frame struct {
		Type    string             `json:"type"`
		Payload models.SendCommand `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", false
	}
	if frame.Type != string(models.CommandSend) {
		return "", false
	}
	return frame.Payload.Command, true
}

// simulation walks a small agent FSM so the generated frames stay coherent
type simulation struct {
	rng     *rand.Rand
	fsm     string
	step    int32
	plan    []any
	actions uint64
	memory  uint64
}

var simStates = []string{"IDLE", "PLANNING", "EXECUTING", "REVIEWING"}

var simLogs = []struct {
	level   string
	message string
}{
	{"info", "Planner produced a new plan"},
	{"info", "Executing step"},
	{"debug", "Blackboard updated"},
	{"warn", "Action took longer than expected"},
	{"info", "Step completed"},
	{"error", "Action failed (retrying...)"},
	{"info", "Recovered from failed action"},
}

func newSimulation() *simulation {
	return &simulation{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		fsm: "IDLE",
		plan: []any{
			map[string]any{"action": "produce", "unit": "e1", "count": 3.0},
			map[string]any{"action": "build", "structure": "powr"},
			map[string]any{"action": "explore", "target": "north"},
		},
	}
}

func (s *simulation) state() models.FsmStatePayload {
	var current any
	if int(s.step) < len(s.plan) {
		current = s.plan[s.step]
	}
	return models.FsmStatePayload{
		FsmState:    s.fsm,
		StepIndex:   s.step,
		PlanLength:  uint64(len(s.plan)),
		CurrentGoal: "Expand the base and scout the map",
		Blackboard: models.BlackboardData{
			GameBasicState: fmt.Sprintf("actions=%d", s.actions),
			Scratchpad:     "",
			CurrentStep:    current,
			Plan:           s.plan,
			ActionResult:   map[string]any{"success": true},
		},
	}
}

func (s *simulation) next() (models.MessageType, any) {
	now := uint64(time.Now().UnixMilli())

	switch s.rng.Intn(6) {
	case 0:
		from := s.fsm
		s.fsm = simStates[s.rng.Intn(len(simStates))]
		s.step = (s.step + 1) % int32(len(s.plan)+1)
		s.actions++
		if from != s.fsm {
			return models.MessageTraceEvent, models.TraceEventPayload{
				Timestamp: now,
				EventType: models.TraceFSMTransition,
				FromState: models.StringPtr(from),
				ToState:   models.StringPtr(s.fsm),
				Details:   map[string]any{"step": s.step},
			}
		}
		return models.MessageUpdate, s.state()
	case 1:
		l := simLogs[s.rng.Intn(len(simLogs))]
		return models.MessageLog, models.LogPayload{Level: l.level, Message: l.message}
	case 2:
		return models.MessageAgentMetrics, models.AgentMetricsPayload{
			TokensPerMin:    800 + s.rng.Float64()*400,
			LLMCallsPerMin:  4 + s.rng.Float64()*4,
			ActiveTasks:     uint64(s.rng.Intn(4)),
			TotalActions:    s.actions,
			ExecutionVolume: s.actions * 3,
			FailureRate:     s.rng.Float64() * 0.2,
			RecoveryRate:    0.8 + s.rng.Float64()*0.2,
			Timestamp:       now,
		}
	case 3:
		return models.MessageGameMetrics, models.GameMetricsPayload{
			FPS:         55 + s.rng.Float64()*5,
			FrameTimeMs: 16 + s.rng.Float64()*2,
			TickRate:    25,
			EntityCount: uint64(100 + s.rng.Intn(50)),
		}
	case 4:
		s.memory++
		return models.MessageMemoryUpdate, models.MemoryPayload{
			TotalEntries: s.memory,
			RecentQueries: []models.MemoryQuery{
				{Query: "enemy base location", Hits: uint64(s.rng.Intn(5)), Timestamp: now},
			},
			RecentAdditions: []models.MemoryEntry{
				{Key: fmt.Sprintf("obs-%d", s.memory), Value: "scouted ore field", Timestamp: now, IsNew: true},
			},
		}
	default:
		return models.MessageTraceEvent, models.TraceEventPayload{
			Timestamp:  now,
			EventType:  models.TraceActionStart,
			ActionName: models.StringPtr("explore"),
			Details:    map[string]any{"target": "north"},
		}
	}
}
