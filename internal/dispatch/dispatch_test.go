package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/registry"
)

func TestDispatchCallUnknownActionReturnsNotImplemented(t *testing.T) {
	d := New(registry.New(nil), nil)
	call, _ := ocpp.NewCall("SomeUnknownAction", struct{}{})

	resp := d.Dispatch(context.Background(), call)
	if resp == nil || resp.Type != ocpp.MessageTypeCallError {
		t.Fatalf("Dispatch() = %v, want CALLERROR", resp)
	}
	if resp.ErrorCode != string(ocpp.ErrNotImplemented) {
		t.Fatalf("ErrorCode = %s, want NotImplemented", resp.ErrorCode)
	}
}

func TestDispatchCallHandlerSuccess(t *testing.T) {
	d := New(registry.New(nil), nil)
	d.Handle(ocpp.ActionHeartbeat, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		return ocpp.HeartbeatResponse{CurrentTime: "2026-07-31T00:00:00Z"}, nil
	})

	call, _ := ocpp.NewCall(ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{})
	resp := d.Dispatch(context.Background(), call)
	if resp == nil || resp.Type != ocpp.MessageTypeCallResult {
		t.Fatalf("Dispatch() = %v, want CALLRESULT", resp)
	}

	var result ocpp.HeartbeatResponse
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.CurrentTime != "2026-07-31T00:00:00Z" {
		t.Fatalf("CurrentTime = %q, want the handler's value", result.CurrentTime)
	}
}

func TestDispatchCallHandlerOCPPError(t *testing.T) {
	d := New(registry.New(nil), nil)
	d.Handle(ocpp.ActionReset, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		return nil, ocpp.NewOCPPError(ocpp.ErrNotSupported, "reset disabled")
	})

	call, _ := ocpp.NewCall(ocpp.ActionReset, ocpp.ResetRequest{Type: ocpp.ResetHard})
	resp := d.Dispatch(context.Background(), call)
	if resp.ErrorCode != string(ocpp.ErrNotSupported) {
		t.Fatalf("ErrorCode = %s, want NotSupported", resp.ErrorCode)
	}
}

// fakeSender is an in-memory Sender that delivers a scripted response after
// Send, used to exercise OutgoingService.Request end to end.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	sent      []*ocpp.Frame
}

func (f *fakeSender) Connected() bool { return f.connected }

func (f *fakeSender) Send(fr *ocpp.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fr)
	return nil
}

func TestOutgoingRequestResolvesOnCallResult(t *testing.T) {
	reg := registry.New(nil)
	buf := registry.NewBuffer()
	sender := &fakeSender{connected: true}
	d := New(reg, nil)

	var postProcessed bool
	d.OnComplete(ocpp.ActionHeartbeat, func(req, resp json.RawMessage) { postProcessed = true })

	svc := NewOutgoingService(reg, buf, sender, d, time.Second)

	done := make(chan struct{})
	var result json.RawMessage
	var reqErr error
	go func() {
		result, reqErr = svc.Request(context.Background(), ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{}, RequestOptions{})
		close(done)
	}()

	// Wait for the frame to be sent, then simulate the central system's
	// CALLRESULT arriving via the dispatcher.
	deadline := time.Now().Add(time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for outgoing send")
		}
		time.Sleep(time.Millisecond)
	}

	sender.mu.Lock()
	sentID := sender.sent[0].MessageID
	sender.mu.Unlock()

	response := json.RawMessage(`{"currentTime":"2026-07-31T00:00:00Z"}`)
	callResult, _ := ocpp.NewCallResult(sentID, json.RawMessage(`{"currentTime":"2026-07-31T00:00:00Z"}`))
	callResult.Payload = response
	d.Dispatch(context.Background(), callResult)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Request did not resolve")
	}

	if reqErr != nil {
		t.Fatalf("Request: unexpected error %v", reqErr)
	}
	if string(result) != string(response) {
		t.Fatalf("result = %s, want %s", result, response)
	}
	if !postProcessed {
		t.Fatal("expected post-processor to run after successful response")
	}
}

func TestOutgoingRequestBuffersWhenDisconnected(t *testing.T) {
	reg := registry.New(nil)
	buf := registry.NewBuffer()
	sender := &fakeSender{connected: false}
	d := New(reg, nil)
	svc := NewOutgoingService(reg, buf, sender, d, time.Second)

	go svc.Request(context.Background(), ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{}, RequestOptions{})

	deadline := time.Now().Add(time.Second)
	for buf.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if buf.Len() != 1 {
		t.Fatalf("buf.Len() = %d, want 1 frame buffered while disconnected", buf.Len())
	}
}

func TestOutgoingRequestFailsFastWithSkipBuffering(t *testing.T) {
	reg := registry.New(nil)
	buf := registry.NewBuffer()
	sender := &fakeSender{connected: false}
	d := New(reg, nil)
	svc := NewOutgoingService(reg, buf, sender, d, time.Second)

	_, err := svc.Request(context.Background(), ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{}, RequestOptions{SkipBufferingOnError: true})
	if err != ocpp.ErrNotConnected {
		t.Fatalf("Request() error = %v, want ErrNotConnected", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("buf.Len() = %d, want 0 when SkipBufferingOnError is set", buf.Len())
	}
}

func TestOutgoingRequestTimesOut(t *testing.T) {
	reg := registry.New(nil)
	buf := registry.NewBuffer()
	sender := &fakeSender{connected: true}
	d := New(reg, nil)
	svc := NewOutgoingService(reg, buf, sender, d, 30*time.Millisecond)

	_, err := svc.Request(context.Background(), ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{}, RequestOptions{})
	if err != ocpp.ErrTimeout {
		t.Fatalf("Request() error = %v, want ErrTimeout", err)
	}
}

func TestOutgoingRequestBlockedRejectsNonBootCalls(t *testing.T) {
	reg := registry.New(nil)
	buf := registry.NewBuffer()
	sender := &fakeSender{connected: true}
	d := New(reg, nil)
	svc := NewOutgoingService(reg, buf, sender, d, time.Second)
	svc.SetBlockedFunc(func() bool { return true })

	_, err := svc.Request(context.Background(), ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{}, RequestOptions{})
	if !errors.Is(err, ocpp.ErrBlocked) {
		t.Fatalf("Request() error = %v, want ErrBlocked", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sender.sent = %d frames, want 0: a blocked station must send nothing", len(sender.sent))
	}
}

func TestOutgoingRequestBlockedStillAllowsBootNotification(t *testing.T) {
	reg := registry.New(nil)
	buf := registry.NewBuffer()
	sender := &fakeSender{connected: true}
	d := New(reg, nil)
	svc := NewOutgoingService(reg, buf, sender, d, time.Second)
	svc.SetBlockedFunc(func() bool { return true })

	go svc.Request(context.Background(), ocpp.ActionBootNotification, ocpp.BootNotificationRequest{}, RequestOptions{})

	deadline := time.Now().Add(time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("BootNotification was never sent while blocked")
		}
		time.Sleep(time.Millisecond)
	}
}
