package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lazyclaw/agentdash/internal/models"
)

const (
	DefaultAddress          = "ws://127.0.0.1:8080"
	DefaultRetryDelay       = 2 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

// ErrInvalidAddress is returned by Connect for addresses that can never be dialed
var ErrInvalidAddress = errors.New("invalid gateway address")

// Options tunes a connection. Zero values select the defaults.
type Options struct {
	// Fixed delay between a failed or closed connection and the next dial
	RetryDelay time.Duration

	// Limit on the WebSocket opening handshake
	HandshakeTimeout time.Duration

	// Deadline for writing a single outbound frame
	WriteTimeout time.Duration

	// Keepalive ping period; 0 disables pings and the matching read deadline
	PingInterval time.Duration

	// Dialer overrides the WebSocket dialer (tests inject failures here)
	Dialer *websocket.Dialer

	// Header is sent with every opening handshake
	Header http.Header

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Handle is the consumer's side of a live connection. It owns the producer
// end of the command queue and the consumer end of the event queue; the
// socket itself belongs to the background worker.
type Handle struct {
	address string
	opts    Options
	dialer  *websocket.Dialer
	logger  *slog.Logger

	events   *Queue[Event]
	commands *Queue[models.OutboundCommand]

	cancel context.CancelFunc
	done   chan struct{}

	// Worker-owned
	epoch uint64
}

// Connect validates address and starts a worker that keeps a connection to
// it open until ctx is cancelled or Close is called. It returns immediately;
// connection progress is reported through PollEvents.
func Connect(ctx context.Context, address string, opts Options) (*Handle, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = opts.HandshakeTimeout
		dialer = &d
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		address:  address,
		opts:     opts,
		dialer:   dialer,
		logger:   opts.Logger.With("component", "gateway", "address", address),
		events:   NewQueue[Event](),
		commands: NewQueue[models.OutboundCommand](),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go h.run(ctx)

	return h, nil
}

// ValidateAddress checks that address is a dialable ws:// or wss:// URL
func ValidateAddress(address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidAddress, address, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w %q: scheme must be ws or wss", ErrInvalidAddress, address)
	}
	if u.Host == "" {
		return fmt.Errorf("%w %q: missing host", ErrInvalidAddress, address)
	}
	return nil
}

// Address returns the endpoint this handle dials
func (h *Handle) Address() string {
	return h.address
}

// Submit queues a free-text command for the agent
func (h *Handle) Submit(text string) {
	h.SubmitCommand(models.SendCommand{Command: text})
}

// SubmitCommand queues cmd for the current connection. It never blocks.
// Commands still queued when a connection ends are discarded, and commands
// submitted after the worker has stopped are ignored.
func (h *Handle) SubmitCommand(cmd models.OutboundCommand) {
	select {
	case <-h.done:
		return
	default:
	}
	h.commands.Push(cmd)
}

// PollEvents returns every event queued since the last call, oldest first.
// It never blocks and returns nil when nothing is pending.
func (h *Handle) PollEvents() []Event {
	return h.events.Drain()
}

// Close stops the worker and waits for it to exit
func (h *Handle) Close() {
	h.cancel()
	<-h.done
}

// Done is closed once the worker has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// run is the worker: dial, serve one epoch, report the disconnect, back off,
// repeat
func (h *Handle) run(ctx context.Context) {
	defer close(h.done)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := h.dialer.DialContext(ctx, h.address, h.opts.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Debug("dial failed", "error", err, "retry_in", h.opts.RetryDelay)
			if !sleepContext(ctx, h.opts.RetryDelay) {
				return
			}
			continue
		}

		h.epoch++
		epoch := h.epoch

		// Commands are scoped to one connection; anything submitted while
		// disconnected is not replayed
		if stale := h.commands.Drain(); len(stale) > 0 {
			h.logger.Debug("discarding commands queued while disconnected", "count", len(stale))
		}

		h.logger.Info("connected", "epoch", epoch)
		h.events.Push(ConnectedMsg{Epoch: epoch, Address: h.address})

		err = h.serve(ctx, conn, epoch)

		h.logger.Info("disconnected", "epoch", epoch, "error", err)
		h.events.Push(DisconnectedMsg{Epoch: epoch, Error: errorString(err)})

		if !sleepContext(ctx, h.opts.RetryDelay) {
			return
		}
	}
}

type inbound struct {
	msgType int
	data    []byte
	err     error
}

// serve runs one epoch. It returns when the stream ends, a write fails, or
// ctx is cancelled. All events of the epoch are queued before it returns.
func (h *Handle) serve(ctx context.Context, conn *websocket.Conn, epoch uint64) error {
	if h.opts.PingInterval > 0 {
		wait := 2 * h.opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	frames := make(chan inbound)
	stop := make(chan struct{})
	go readFrames(conn, frames, stop)

	defer func() {
		close(stop)
		conn.Close()
		for range frames {
			// Unread frames belong to the epoch being torn down
		}
	}()

	var ping <-chan time.Time
	if h.opts.PingInterval > 0 {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		if ctx.Err() != nil {
			h.closeGracefully(conn)
			return ctx.Err()
		}

		// Pending commands go out before the next frame is handled so a
		// chatty server cannot starve them
		if err := h.flushCommands(conn, epoch); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			h.closeGracefully(conn)
			return ctx.Err()

		case <-h.commands.Ready():

		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}

		case in, ok := <-frames:
			if !ok {
				return io.EOF
			}
			if in.err != nil {
				return in.err
			}
			h.handleFrame(in, epoch)
		}
	}
}

// flushCommands writes every pending command in order. A command that cannot
// be encoded is reported and skipped; a write failure ends the epoch.
func (h *Handle) flushCommands(conn *websocket.Conn, epoch uint64) error {
	for {
		cmd, ok := h.commands.TryPop()
		if !ok {
			return nil
		}
		frame, err := Encode(cmd)
		if err != nil {
			h.logger.Warn("dropping unencodable command", "epoch", epoch, "error", err)
			h.events.Push(FailedMsg{Epoch: epoch, Error: err.Error()})
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("write %s: %w", cmd.CommandType(), err)
		}
	}
}

func (h *Handle) handleFrame(in inbound, epoch uint64) {
	if in.msgType != websocket.TextMessage {
		h.logger.Debug("skipping non-text frame", "epoch", epoch, "type", in.msgType, "bytes", len(in.data))
		return
	}

	msg, err := Decode(in.data)
	if err != nil {
		h.logger.Warn("dropping undecodable frame", "epoch", epoch, "error", err)
		h.events.Push(FailedMsg{Epoch: epoch, Error: err.Error()})
		return
	}
	h.events.Push(DashboardMsg{Epoch: epoch, Message: msg})
}

func (h *Handle) closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		h.logger.Debug("close frame not sent", "error", err)
	}
}

// readFrames is the only reader of conn. It forwards frames in arrival order
// and finishes with the read error, then closes out.
func readFrames(conn *websocket.Conn, out chan<- inbound, stop <-chan struct{}) {
	defer close(out)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case out <- inbound{err: err}:
			case <-stop:
			}
			return
		}

		select {
		case out <- inbound{msgType: msgType, data: data}:
		case <-stop:
			return
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
