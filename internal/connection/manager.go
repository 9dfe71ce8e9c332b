// Package connection implements the station's WebSocket connection manager
// (C4): dialing the supervision URL, applying the reconnect backoff policy,
// pumping inbound frames to the dispatcher, and flushing the outbound
// buffer on every successful open.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/registry"
)

// State is a connection manager lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// normalCloseCodes never trigger the reconnection loop; the remote end (or
// the operator) ended the session deliberately.
var normalCloseCodes = map[int]bool{
	websocket.CloseNormalClosure:   true, // 1000
	websocket.CloseNoStatusReceived: true, // 1005
}

// ReconnectPolicy parameterizes the exponential backoff with jitter used
// between reconnect attempts.
type ReconnectPolicy struct {
	Base       time.Duration
	MaxDelay   time.Duration
	MaxRetries int // negative means unbounded
}

// DefaultReconnectPolicy matches typical OCPP-J simulator defaults: 2s base,
// capped at 30s, unbounded retries.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Base: 2 * time.Second, MaxDelay: 30 * time.Second, MaxRetries: -1}
}

// Delay computes the backoff for the given zero-based retry attempt:
// base·2^retry + jitter, jitter ∈ [0, 0.2·base·2^retry), capped at MaxDelay.
func (p ReconnectPolicy) Delay(retry int) time.Duration {
	exp := p.Base << uint(retry) // base * 2^retry
	if exp <= 0 || exp > p.MaxDelay {
		exp = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(float64(exp) * 0.2) + 1))
	d := exp + jitter
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Handler receives decoded inbound frames and lifecycle notifications from
// the Manager. Implemented by the station supervisor's dispatcher glue.
type Handler interface {
	// OnFrame is invoked for every successfully decoded inbound frame.
	OnFrame(f *ocpp.Frame)
	// OnOpen is invoked once per successful connection, after the outbound
	// buffer has been flushed.
	OnOpen()
	// OnClose is invoked when the socket goes down, with the close code
	// (-1 if the closure was not a clean WebSocket close).
	OnClose(code int, err error)
}

// Manager owns a single WebSocket client connection and its reconnect loop.
type Manager struct {
	url    string
	header http.Header
	policy ReconnectPolicy
	buffer *registry.Buffer
	reg    *registry.Registry
	log    *slog.Logger

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	retry int

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a connection manager for a station's supervision URL. header
// carries any HTTP Basic-Auth credentials the central system requires.
func New(url string, header http.Header, policy ReconnectPolicy, buffer *registry.Buffer, reg *registry.Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		url:    url,
		header: header,
		policy: policy,
		buffer: buffer,
		reg:    reg,
		log:    log,
		state:  StateDisconnected,
		closed: make(chan struct{}),
	}
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the manager currently holds an open socket,
// satisfying dispatch.Sender for the outgoing service.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Run drives the connect/read/reconnect loop until ctx is canceled or the
// reconnect policy's retry ceiling is reached. It never returns a non-nil
// error for a clean shutdown via ctx cancellation.
func (m *Manager) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			m.closeConn()
			return nil
		default:
		}

		m.setState(StateConnecting)
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, m.url, m.header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			m.log.Warn("ocpp: dial failed", "url", m.url, "status", status, "error", err)
			if !m.waitForRetry(ctx) {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("ocpp: reconnect retries exhausted: %w", err)
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.state = StateConnected
		m.retry = 0
		m.mu.Unlock()

		m.log.Info("ocpp: connection open", "url", m.url)
		m.drainBuffer()
		h.OnOpen()

		// Closing the socket on cancellation unblocks readLoop's ReadMessage.
		readDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-readDone:
			}
		}()
		code, readErr := m.readLoop(ctx, h)
		close(readDone)
		m.closeConn()
		m.setState(StateDisconnected)
		h.OnClose(code, readErr)

		if normalCloseCodes[code] {
			m.log.Info("ocpp: connection closed normally", "code", code)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		m.log.Warn("ocpp: connection dropped, reconnecting", "code", code, "error", readErr)
		if !m.waitForRetry(ctx) {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ocpp: reconnect retries exhausted after drop, last code %d", code)
		}
	}
}

// waitForRetry sleeps the backoff delay for the current retry count and
// increments it, reporting false once the policy's retry ceiling is hit.
func (m *Manager) waitForRetry(ctx context.Context) bool {
	m.mu.Lock()
	if m.policy.MaxRetries >= 0 && m.retry >= m.policy.MaxRetries {
		m.mu.Unlock()
		return false
	}
	delay := m.policy.Delay(m.retry)
	m.retry++
	m.mu.Unlock()

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) readLoop(ctx context.Context, h Handler) (code int, err error) {
	for {
		_, data, readErr := m.conn.ReadMessage()
		if readErr != nil {
			var closeErr *websocket.CloseError
			if errors.As(readErr, &closeErr) {
				return closeErr.Code, readErr
			}
			return -1, readErr
		}

		frame, decodeErr := ocpp.Decode(data)
		if decodeErr != nil {
			m.log.Warn("ocpp: discarding malformed frame", "error", decodeErr)
			continue
		}
		m.reg.Sweep(time.Now())
		h.OnFrame(frame)
	}
}

// Send writes a frame directly to the socket if connected, returning
// ocpp.ErrNotConnected otherwise. Callers (the outgoing service) are
// expected to fall back to buffering on that error.
func (m *Manager) Send(f *ocpp.Frame) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ocpp.ErrNotConnected
	}

	data, err := ocpp.Encode(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// drainBuffer flushes the outbound buffer in FIFO order. A send failure
// re-enqueues the frame at the head (by simply stopping the drain; Peek
// already left it at the head) unless its registry entry already expired,
// in which case it is dropped and failed with ocpp.ErrTimeout.
func (m *Manager) drainBuffer() {
	for {
		if dropped := m.buffer.DropExpired(time.Now()); len(dropped) > 0 {
			for _, f := range dropped {
				m.reg.Fail(f.MessageID, ocpp.ErrTimeout)
			}
		}

		frame, ok := m.buffer.Peek()
		if !ok {
			return
		}
		if err := m.Send(frame); err != nil {
			m.log.Warn("ocpp: buffer drain send failed, will retry on next open", "error", err)
			return
		}
		m.buffer.Dequeue()
	}
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close closes the current socket. Safe to call multiple times. It does not
// stop Run: Run treats the closure as a dropped connection and reconnects
// under the reconnect policy; Run's loop ends only through its context, a
// normal close code, or an exhausted retry budget.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
	m.closeConn()
}
