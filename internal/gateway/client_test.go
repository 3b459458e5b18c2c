package gateway

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lazyclaw/agentdash/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const logFrame = `{"type":"log","payload":{"level":"info","message":"hello"}}`

func newTestServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func connect(t *testing.T, address string, opts Options) *Handle {
	t.Helper()

	h, err := Connect(context.Background(), address, opts)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

// waitForEvents polls h until at least n events have arrived
func waitForEvents(t *testing.T, h *Handle, n int) []Event {
	t.Helper()

	var events []Event
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		events = append(events, h.PollEvents()...)
		if len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d: %#v", n, len(events), events)
	return nil
}

// waitUntil polls h until a drained batch contains an event accepted by
// match, returning every event seen so far
func waitUntil(t *testing.T, h *Handle, match func(Event) bool) []Event {
	t.Helper()

	var events []Event
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		batch := h.PollEvents()
		events = append(events, batch...)
		for _, ev := range batch {
			if match(ev) {
				return events
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event, got %#v", events)
	return nil
}

func isConnected(ev Event) bool {
	_, ok := ev.(ConnectedMsg)
	return ok
}

// assertEpochOrder checks that nothing of an epoch arrives after its
// DisconnectedMsg
func assertEpochOrder(t *testing.T, events []Event) {
	t.Helper()

	closed := map[uint64]bool{}
	for i, ev := range events {
		epoch := ev.EventEpoch()
		assert.False(t, closed[epoch], "event %d (%T) arrived after epoch %d closed", i, ev, epoch)
		if _, ok := ev.(DisconnectedMsg); ok {
			closed[epoch] = true
		}
	}
}

func TestConnectRejectsInvalidAddress(t *testing.T) {
	for _, address := range []string{"", "127.0.0.1:8080", "http://127.0.0.1:8080", "ws://", "ws://%zz"} {
		t.Run(address, func(t *testing.T) {
			h, err := Connect(context.Background(), address, Options{})
			assert.Nil(t, h)
			assert.ErrorIs(t, err, ErrInvalidAddress)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(initFrame))
	})

	h := connect(t, wsURL(server), Options{RetryDelay: time.Minute})
	events := waitForEvents(t, h, 3)
	require.Len(t, events, 3)

	connected, ok := events[0].(ConnectedMsg)
	require.True(t, ok, "first event is %T", events[0])
	assert.Equal(t, uint64(1), connected.Epoch)
	assert.Equal(t, wsURL(server), connected.Address)

	msg, ok := events[1].(DashboardMsg)
	require.True(t, ok, "second event is %T", events[1])
	assert.Equal(t, uint64(1), msg.Epoch)
	assert.Equal(t, models.MessageInit, msg.Message.Type)
	state, ok := msg.Message.FsmState()
	require.True(t, ok)
	assert.Equal(t, "IDLE", state.FsmState)

	disconnected, ok := events[2].(DisconnectedMsg)
	require.True(t, ok, "third event is %T", events[2])
	assert.Equal(t, uint64(1), disconnected.Epoch)
	assert.NotEmpty(t, disconnected.Error)
}

func TestRetriesUntilServerAccepts(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	var attempts atomic.Int32
	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if attempts.Add(1) <= 3 {
				return nil, errors.New("connection refused")
			}
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}

	const delay = 20 * time.Millisecond
	start := time.Now()
	h := connect(t, wsURL(server), Options{RetryDelay: delay, Dialer: dialer})

	events := waitUntil(t, h, isConnected)
	assert.GreaterOrEqual(t, time.Since(start), 3*delay)
	assert.Equal(t, int32(4), attempts.Load())

	// Failed dials are not reported as events
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].EventEpoch())
}

func TestSubmitWritesOneFrame(t *testing.T) {
	received := make(chan string, 4)
	server := newTestServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})

	h := connect(t, wsURL(server), Options{RetryDelay: time.Minute})
	waitUntil(t, h, isConnected)

	h.Submit("move north")

	select {
	case frame := <-received:
		assert.JSONEq(t, `{"type":"command","payload":{"command":"move north"}}`, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the server")
	}

	select {
	case frame := <-received:
		t.Fatalf("unexpected extra frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCommandsNotStarvedByChattyServer(t *testing.T) {
	received := make(chan string, 4)
	server := newTestServer(t, func(conn *websocket.Conn) {
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				received <- string(data)
			}
		}()
		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(logFrame)); err != nil {
				return
			}
		}
	})

	h := connect(t, wsURL(server), Options{RetryDelay: time.Minute})
	waitUntil(t, h, isConnected)

	h.Submit("attack")
	h.Submit("retreat")

	var got []string
	for len(got) < 2 {
		select {
		case frame := <-received:
			got = append(got, frame)
		case <-time.After(2 * time.Second):
			t.Fatalf("commands starved, received %v", got)
		}
	}
	assert.JSONEq(t, `{"type":"command","payload":{"command":"attack"}}`, got[0])
	assert.JSONEq(t, `{"type":"command","payload":{"command":"retreat"}}`, got[1])
}

func TestCommandsSubmittedWhileDisconnectedAreDropped(t *testing.T) {
	received := make(chan string, 4)
	server := newTestServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})

	var attempts atomic.Int32
	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if attempts.Add(1) <= 2 {
				return nil, errors.New("connection refused")
			}
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}

	h := connect(t, wsURL(server), Options{RetryDelay: 30 * time.Millisecond, Dialer: dialer})
	h.Submit("stale")

	waitUntil(t, h, isConnected)
	h.Submit("fresh")

	select {
	case frame := <-received:
		assert.JSONEq(t, `{"type":"command","payload":{"command":"fresh"}}`, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the server")
	}
}

func TestDecodeFailureKeepsConnection(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"screenshot","payload":{}}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(logFrame))
		_, _, _ = conn.ReadMessage()
	})

	h := connect(t, wsURL(server), Options{RetryDelay: time.Minute})
	events := waitForEvents(t, h, 3)

	require.IsType(t, ConnectedMsg{}, events[0])

	failed, ok := events[1].(FailedMsg)
	require.True(t, ok, "second event is %T", events[1])
	assert.Contains(t, failed.Error, "unknown message type")

	msg, ok := events[2].(DashboardMsg)
	require.True(t, ok, "third event is %T", events[2])
	assert.Equal(t, &models.LogPayload{Level: "info", Message: "hello"}, msg.Message.Payload)

	// Still connected: nothing further queued
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.PollEvents())
}

func TestReconnectStartsNewEpoch(t *testing.T) {
	var connections atomic.Int32
	server := newTestServer(t, func(conn *websocket.Conn) {
		n := connections.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(logFrame))
		if n == 1 {
			return
		}
		_, _, _ = conn.ReadMessage()
	})

	h := connect(t, wsURL(server), Options{RetryDelay: 10 * time.Millisecond})
	events := waitForEvents(t, h, 5)
	assertEpochOrder(t, events)

	var kinds []string
	for _, ev := range events[:5] {
		switch ev.(type) {
		case ConnectedMsg:
			kinds = append(kinds, "connected")
		case DashboardMsg:
			kinds = append(kinds, "message")
		case DisconnectedMsg:
			kinds = append(kinds, "disconnected")
		case FailedMsg:
			kinds = append(kinds, "failed")
		}
	}
	assert.Equal(t, []string{"connected", "message", "disconnected", "connected", "message"}, kinds)
	assert.Equal(t, uint64(1), events[0].EventEpoch())
	assert.Equal(t, uint64(2), events[3].EventEpoch())
	assert.Equal(t, uint64(2), events[4].EventEpoch())
}

func TestCloseStopsDialingWorker(t *testing.T) {
	// Reserve a port and free it so nothing is listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := "ws://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	h, err := Connect(context.Background(), address, Options{RetryDelay: time.Hour})
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		h.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop a dialing worker")
	}
	assert.Empty(t, h.PollEvents())

	// Submitting after Close is a silent no-op
	h.Submit("ignored")
}

func TestContextCancelStopsActiveWorker(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	h, err := Connect(ctx, wsURL(server), Options{RetryDelay: time.Minute})
	require.NoError(t, err)

	waitUntil(t, h, isConnected)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after cancel")
	}

	events := h.PollEvents()
	require.Len(t, events, 1)
	disconnected, ok := events[0].(DisconnectedMsg)
	require.True(t, ok)
	assert.Equal(t, uint64(1), disconnected.Epoch)
}

func TestMockServerRoundTrip(t *testing.T) {
	mock := NewMockServer(5 * time.Millisecond)
	server := httptest.NewServer(mock)
	t.Cleanup(server.Close)

	h := connect(t, wsURL(server), Options{RetryDelay: time.Minute})

	events := waitUntil(t, h, func(ev Event) bool {
		msg, ok := ev.(DashboardMsg)
		return ok && msg.Message.Type == models.MessageInit
	})
	require.IsType(t, ConnectedMsg{}, events[0])

	h.Submit("scout the north")

	waitUntil(t, h, func(ev Event) bool {
		msg, ok := ev.(DashboardMsg)
		if !ok || msg.Message.Type != models.MessageLog {
			return false
		}
		return msg.Message.Payload.(*models.LogPayload).Message == "received command: scout the north"
	})
	assert.Equal(t, []string{"scout the north"}, mock.Commands())
}

// collectFrames returns a server handler that forwards every text frame it
// reads to out
func collectFrames(out chan<- string) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			out <- string(data)
		}
	}
}

func TestUnencodableCommandIsReported(t *testing.T) {
	received := make(chan string, 4)
	server := newTestServer(t, collectFrames(received))

	h := connect(t, wsURL(server), Options{RetryDelay: time.Minute})
	waitUntil(t, h, isConnected)

	h.SubmitCommand(weightCommand{Weight: math.NaN()})
	h.Submit("after")

	select {
	case frame := <-received:
		assert.JSONEq(t, `{"type":"command","payload":{"command":"after"}}`, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("command after the bad one never reached the server")
	}

	events := waitUntil(t, h, func(ev Event) bool {
		_, ok := ev.(FailedMsg)
		return ok
	})
	var failures []FailedMsg
	for _, ev := range events {
		switch ev := ev.(type) {
		case FailedMsg:
			failures = append(failures, ev)
		case DisconnectedMsg:
			t.Fatalf("epoch ended: %#v", ev)
		}
	}
	require.Len(t, failures, 1)
	assert.Equal(t, uint64(1), failures[0].Epoch)
	assert.Contains(t, failures[0].Error, "encode weight")

	select {
	case <-h.Done():
		t.Fatal("worker exited")
	default:
	}
}

// brokenWriteConn fails its next Write once armed
type brokenWriteConn struct {
	net.Conn
	armed *atomic.Bool
}

func (c *brokenWriteConn) Write(p []byte) (int, error) {
	if c.armed.CompareAndSwap(true, false) {
		return 0, errors.New("broken pipe")
	}
	return c.Conn.Write(p)
}

func TestWriteFailureEndsEpoch(t *testing.T) {
	received := make(chan string, 4)
	server := newTestServer(t, collectFrames(received))

	var armed atomic.Bool
	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &brokenWriteConn{Conn: conn, armed: &armed}, nil
		},
	}

	h := connect(t, wsURL(server), Options{RetryDelay: 10 * time.Millisecond, Dialer: dialer})
	waitUntil(t, h, isConnected)

	armed.Store(true)
	h.Submit("doomed")

	events := waitUntil(t, h, func(ev Event) bool {
		c, ok := ev.(ConnectedMsg)
		return ok && c.Epoch == 2
	})
	assertEpochOrder(t, events)

	var disconnected *DisconnectedMsg
	for _, ev := range events {
		if d, ok := ev.(DisconnectedMsg); ok {
			disconnected = &d
			break
		}
	}
	require.NotNil(t, disconnected, "events: %#v", events)
	assert.Equal(t, uint64(1), disconnected.Epoch)
	assert.Contains(t, disconnected.Error, "write command")
	assert.Contains(t, disconnected.Error, "broken pipe")

	// The failed command is not replayed on the next epoch
	select {
	case frame := <-received:
		t.Fatalf("failed command was replayed: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPingKeepsQuietConnectionAlive(t *testing.T) {
	// The server never sends data frames; its default ping handler answers
	// with pongs while it reads
	server := newTestServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	const interval = 50 * time.Millisecond
	h := connect(t, wsURL(server), Options{RetryDelay: time.Minute, PingInterval: interval})
	waitUntil(t, h, isConnected)

	// Several read deadlines (2 x interval) pass without data frames
	time.Sleep(6 * interval)
	for _, ev := range h.PollEvents() {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestMissingPongsEndEpoch(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	const interval = 50 * time.Millisecond
	start := time.Now()
	h := connect(t, wsURL(server), Options{RetryDelay: time.Minute, PingInterval: interval})

	events := waitUntil(t, h, func(ev Event) bool {
		_, ok := ev.(DisconnectedMsg)
		return ok
	})
	assert.GreaterOrEqual(t, time.Since(start), 2*interval)

	require.Len(t, events, 2)
	require.IsType(t, ConnectedMsg{}, events[0])
	disconnected := events[1].(DisconnectedMsg)
	assert.Equal(t, uint64(1), disconnected.Epoch)
	assert.Contains(t, disconnected.Error, "timeout")
}
