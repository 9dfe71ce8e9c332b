package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/registry"
)

func TestReconnectPolicyDelayGrowsAndCaps(t *testing.T) {
	p := ReconnectPolicy{Base: 100 * time.Millisecond, MaxDelay: time.Second, MaxRetries: -1}

	d0 := p.Delay(0)
	if d0 < p.Base || d0 > p.Base+time.Duration(0.2*float64(p.Base)) {
		t.Fatalf("Delay(0) = %v, want within [%v, %v]", d0, p.Base, p.Base+time.Duration(0.2*float64(p.Base)))
	}

	d10 := p.Delay(10)
	if d10 > p.MaxDelay {
		t.Fatalf("Delay(10) = %v, want capped at %v", d10, p.MaxDelay)
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	frames []*ocpp.Frame
	opened chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{opened: make(chan struct{}, 1)}
}

func (h *recordingHandler) OnFrame(f *ocpp.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, f)
}

func (h *recordingHandler) OnOpen() {
	select {
	case h.opened <- struct{}{}:
	default:
	}
}

func (h *recordingHandler) OnClose(int, error) {}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

// TestManagerConnectsAndReceivesFrame spins up a real WebSocket server (the
// "central system" side) and verifies the manager dials it, reports Connected,
// and hands a decoded CALL frame to the handler.
func TestManagerConnectsAndReceivesFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		defer conn.Close()

		frame, _ := ocpp.NewCall(ocpp.ActionReset, ocpp.ResetRequest{Type: ocpp.ResetSoft})
		data, _ := ocpp.Encode(frame)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Errorf("server write: %v", err)
			return
		}

		// Keep the connection open until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	reg := registry.New(nil)
	buf := registry.NewBuffer()
	mgr := New(url, nil, DefaultReconnectPolicy(), buf, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := newRecordingHandler()
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx, handler) }()

	select {
	case <-handler.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}

	deadline := time.Now().Add(2 * time.Second)
	for handler.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if handler.count() != 1 {
		t.Fatalf("got %d frames, want 1", handler.count())
	}

	if mgr.State() != StateConnected {
		t.Fatalf("State() = %v, want Connected", mgr.State())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestManagerSendFailsWhenNotConnected(t *testing.T) {
	reg := registry.New(nil)
	buf := registry.NewBuffer()
	mgr := New("ws://127.0.0.1:0", nil, DefaultReconnectPolicy(), buf, reg, nil)

	frame, _ := ocpp.NewCall(ocpp.ActionHeartbeat, struct{}{})
	if err := mgr.Send(frame); err != ocpp.ErrNotConnected {
		t.Fatalf("Send() = %v, want ErrNotConnected", err)
	}
}
