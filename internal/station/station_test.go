package station

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/evfleet/ocppsim/internal/dispatch"
	"github.com/evfleet/ocppsim/internal/ocpp"
)

// fakeSender is an in-memory dispatch.Sender that records every outgoing
// frame, mirroring the dispatch package's own test double.
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

func (f *fakeSender) waitForSend(t *testing.T) *ocpp.Frame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		f.mu.Lock()
		n := len(f.sent)
		var fr *ocpp.Frame
		if n > 0 {
			fr = f.sent[n-1]
		}
		f.mu.Unlock()
		if fr != nil {
			return fr
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for outgoing send")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeSender) {
	t.Helper()
	info := NewInfo(Info{Model: "Terra 54", Vendor: "ABB"}, "station-1")
	s := New(info, []int{1}, ATGTemplate{}, map[string]ocpp.ConfigurationKeyValue{
		"HeartbeatInterval": {Key: "HeartbeatInterval", Value: "300"},
	}, map[string]bool{"HeartbeatInterval": true}, nil, []string{"tag-1", "tag-2"}, nil)

	sender := &fakeSender{connected: true}
	s.out = dispatch.NewOutgoingService(s.reg, s.buf, sender, s.disp, time.Second)
	return s, sender
}

// respondToLastSend dispatches a CALLRESULT for the most recently sent frame,
// unblocking whatever goroutine is waiting inside OutgoingService.Request.
func respondToLastSend(s *Supervisor, sender *fakeSender, t *testing.T, payload string) {
	fr := sender.waitForSend(t)
	result, err := ocpp.NewCallResult(fr.MessageID, json.RawMessage(payload))
	if err != nil {
		t.Fatalf("NewCallResult: %v", err)
	}
	s.disp.Dispatch(context.Background(), result)
}

func TestHandleControlCommandUnknownProcedure(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if _, err := s.HandleControlCommand(context.Background(), "notARealProcedure", nil); err == nil {
		t.Fatal("expected an error for an unknown procedure")
	}
}

func TestHandleControlCommandSetSupervisionUrl(t *testing.T) {
	s, _ := newTestSupervisor(t)
	_, err := s.HandleControlCommand(context.Background(), "setSupervisionUrl", json.RawMessage(`{"url":"ws://new-csms/steve"}`))
	if err != nil {
		t.Fatalf("HandleControlCommand() error = %v", err)
	}
	if len(s.Info.SupervisionURLs) != 1 || s.Info.SupervisionURLs[0] != "ws://new-csms/steve" {
		t.Fatalf("SupervisionURLs = %v, want the new url prepended", s.Info.SupervisionURLs)
	}
}

func TestHandleControlCommandSetSupervisionUrlRequiresURL(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if _, err := s.HandleControlCommand(context.Background(), "setSupervisionUrl", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected an error when url is empty")
	}
}

func TestHandleControlCommandStartATGWithoutTemplateEnabledFails(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if _, err := s.HandleControlCommand(context.Background(), "startAutomaticTransactionGenerator", nil); err == nil {
		t.Fatal("expected an error starting ATG when the template didn't enable it")
	}
}

func TestHandleControlCommandCloseConnectionNoop(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if _, err := s.HandleControlCommand(context.Background(), "closeConnection", nil); err != nil {
		t.Fatalf("closeConnection with no live connection: unexpected error %v", err)
	}
}

func TestHandleControlCommandHeartbeatRoundTrip(t *testing.T) {
	s, sender := newTestSupervisor(t)

	done := make(chan struct{})
	var raw json.RawMessage
	var err error
	go func() {
		raw, err = s.HandleControlCommand(context.Background(), "heartbeat", nil)
		close(done)
	}()

	respondToLastSend(s, sender, t, `{"currentTime":"2026-07-31T00:00:00Z"}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleControlCommand(heartbeat) did not return")
	}
	if err != nil {
		t.Fatalf("HandleControlCommand(heartbeat) error = %v", err)
	}
	var resp ocpp.HeartbeatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.CurrentTime != "2026-07-31T00:00:00Z" {
		t.Fatalf("CurrentTime = %q, want echo of the dispatched response", resp.CurrentTime)
	}
}

func TestStartTransactionRejectedLeavesNoActiveTransaction(t *testing.T) {
	s, sender := newTestSupervisor(t)

	done := make(chan struct{})
	var accepted bool
	var txID int
	var err error
	go func() {
		accepted, txID, err = s.StartTransaction(context.Background(), 1, "tag-1")
		close(done)
	}()

	respondToLastSend(s, sender, t, `{"transactionId":0,"idTagInfo":{"status":"Blocked"}}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartTransaction did not return")
	}
	if err != nil {
		t.Fatalf("StartTransaction() error = %v", err)
	}
	if accepted {
		t.Fatalf("StartTransaction() accepted = true, want false for a Blocked idTagInfo")
	}
	if s.Connector(1).HasActiveTransaction() {
		t.Fatal("connector should have no active transaction after a rejected start")
	}
	_ = txID
}

func TestHandleGetConfigurationReturnsAllKeysSorted(t *testing.T) {
	s, _ := newTestSupervisor(t)
	resp, err := s.handleGetConfiguration(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("handleGetConfiguration() error = %v", err)
	}
	cfgResp, ok := resp.(ocpp.GetConfigurationResponse)
	if !ok {
		t.Fatalf("response type = %T, want ocpp.GetConfigurationResponse", resp)
	}
	if len(cfgResp.ConfigurationKey) != 1 || cfgResp.ConfigurationKey[0].Key != "HeartbeatInterval" {
		t.Fatalf("ConfigurationKey = %+v, want the one configured key", cfgResp.ConfigurationKey)
	}
}

func TestHandleChangeConfigurationRejectsReadOnlyKey(t *testing.T) {
	s, _ := newTestSupervisor(t)
	req, _ := json.Marshal(ocpp.ChangeConfigurationRequest{Key: "HeartbeatInterval", Value: "10"})
	resp, err := s.handleChangeConfiguration(context.Background(), req)
	if err != nil {
		t.Fatalf("handleChangeConfiguration() error = %v", err)
	}
	cfgResp := resp.(ocpp.ChangeConfigurationResponse)
	if cfgResp.Status != ocpp.ConfigurationRejected {
		t.Fatalf("Status = %q, want Rejected for a read-only key", cfgResp.Status)
	}
}

func TestHandleChangeAvailabilityUnknownConnectorIsOCPPError(t *testing.T) {
	s, _ := newTestSupervisor(t)
	req, _ := json.Marshal(ocpp.ChangeAvailabilityRequest{ConnectorId: 99, Type: ocpp.AvailabilityInoperative})
	if _, err := s.handleChangeAvailability(context.Background(), req); err == nil {
		t.Fatal("expected an OCPP error for an unknown connector id")
	}
}

func TestHandleDataTransferDefaultsToUnknownVendor(t *testing.T) {
	s, _ := newTestSupervisor(t)
	resp, err := s.handleDataTransfer(context.Background(), nil)
	if err != nil {
		t.Fatalf("handleDataTransfer() error = %v", err)
	}
	if resp.(ocpp.DataTransferResponse).Status != ocpp.DataTransferUnknownVendorId {
		t.Fatalf("Status = %q, want UnknownVendorId", resp.(ocpp.DataTransferResponse).Status)
	}
}

func TestNextIdTagCyclesThroughPool(t *testing.T) {
	s, _ := newTestSupervisor(t)
	first, ok := s.NextIdTag()
	if !ok || first != "tag-1" {
		t.Fatalf("first NextIdTag() = %q, %v, want tag-1, true", first, ok)
	}
	second, _ := s.NextIdTag()
	if second != "tag-2" {
		t.Fatalf("second NextIdTag() = %q, want tag-2", second)
	}
	third, _ := s.NextIdTag()
	if third != "tag-1" {
		t.Fatalf("third NextIdTag() = %q, want the pool to wrap back to tag-1", third)
	}
}
