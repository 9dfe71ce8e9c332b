package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/evfleet/ocppsim/internal/ocpp"
)

func TestRegisterDuplicateID(t *testing.T) {
	r := New(nil)
	deadline := time.Now().Add(time.Minute)

	if _, err := r.Register("id-1", "Heartbeat", nil, deadline); err != nil {
		t.Fatalf("first Register: unexpected error: %v", err)
	}
	if _, err := r.Register("id-1", "Heartbeat", nil, deadline); !errors.Is(err, ocpp.ErrDuplicateID) {
		t.Fatalf("second Register: got %v, want ErrDuplicateID", err)
	}
}

func TestCompleteResolvesFuture(t *testing.T) {
	r := New(nil)
	future, err := r.Register("id-1", "Heartbeat", nil, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload := json.RawMessage(`{"currentTime":"2026-07-31T00:00:00Z"}`)
	if err := r.Complete("id-1", payload); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	result, err := future.Wait()
	if err != nil {
		t.Fatalf("Wait: unexpected error %v", err)
	}
	if string(result) != string(payload) {
		t.Fatalf("Wait: got %s, want %s", result, payload)
	}
	if r.Len() != 0 {
		t.Fatalf("Len: got %d, want 0 after completion", r.Len())
	}
}

func TestCompleteUnknownID(t *testing.T) {
	r := New(nil)
	if err := r.Complete("missing", nil); !errors.Is(err, ocpp.ErrUnknownID) {
		t.Fatalf("Complete: got %v, want ErrUnknownID", err)
	}
}

func TestFailResolvesFutureWithError(t *testing.T) {
	r := New(nil)
	future, err := r.Register("id-1", "StartTransaction", nil, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	callErr := ocpp.NewOCPPError(ocpp.ErrNotSupported, "unsupported idTag")
	if err := r.Fail("id-1", callErr); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	_, waitErr := future.Wait()
	if !errors.Is(waitErr, callErr) && waitErr != callErr {
		t.Fatalf("Wait: got %v, want %v", waitErr, callErr)
	}
}

func TestSweepExpiresStaleEntries(t *testing.T) {
	r := New(nil)
	past := time.Now().Add(-time.Second)
	future, err := r.Register("id-1", "Heartbeat", nil, past)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if n := r.Sweep(time.Now()); n != 1 {
		t.Fatalf("Sweep: got %d expired, want 1", n)
	}

	_, waitErr := future.Wait()
	if !errors.Is(waitErr, ocpp.ErrTimeout) {
		t.Fatalf("Wait: got %v, want ErrTimeout", waitErr)
	}
	if r.Len() != 0 {
		t.Fatalf("Len: got %d, want 0 after sweep", r.Len())
	}
}

func TestSweepLeavesFreshEntries(t *testing.T) {
	r := New(nil)
	if _, err := r.Register("id-1", "Heartbeat", nil, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if n := r.Sweep(time.Now()); n != 0 {
		t.Fatalf("Sweep: got %d expired, want 0", n)
	}
	if r.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", r.Len())
	}
}

func TestCancelAllFailsEveryEntry(t *testing.T) {
	r := New(nil)
	deadline := time.Now().Add(time.Minute)
	f1, _ := r.Register("id-1", "Heartbeat", nil, deadline)
	f2, _ := r.Register("id-2", "StatusNotification", nil, deadline)

	if n := r.CancelAll(); n != 2 {
		t.Fatalf("CancelAll: got %d, want 2", n)
	}

	for _, f := range []*Future{f1, f2} {
		if _, err := f.Wait(); !errors.Is(err, ocpp.ErrCanceled) {
			t.Fatalf("Wait: got %v, want ErrCanceled", err)
		}
	}
}

func TestLookup(t *testing.T) {
	r := New(nil)
	payload := json.RawMessage(`{"idTag":"abc"}`)
	if _, err := r.Register("id-1", "Authorize", payload, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cmd, got, ok := r.Lookup("id-1")
	if !ok || cmd != "Authorize" || string(got) != string(payload) {
		t.Fatalf("Lookup: got (%q, %s, %v), want (Authorize, %s, true)", cmd, got, ok, payload)
	}

	if _, _, ok := r.Lookup("missing"); ok {
		t.Fatalf("Lookup: expected ok=false for missing id")
	}
}
