package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func tripAfterTwoFailures(name string) *Config {
	return &Config{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	}
}

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(tripAfterTwoFailures("test"))
	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	if _, err := cb.Execute(failing); err == nil {
		t.Fatal("first failure: expected error from req, got nil")
	}
	if cb.State() != StateClosed {
		t.Fatalf("State() = %v after 1 failure, want Closed", cb.State())
	}

	if _, err := cb.Execute(failing); err == nil {
		t.Fatal("second failure: expected error from req, got nil")
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v after 2 consecutive failures, want Open", cb.State())
	}

	if _, err := cb.Execute(failing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() while open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New(tripAfterTwoFailures("test"))
	failing := func() (interface{}, error) { return nil, errors.New("boom") }
	succeeding := func() (interface{}, error) { return "ok", nil }

	cb.Execute(failing)
	cb.Execute(failing)
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want Open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v after timeout, want HalfOpen", cb.State())
	}

	if _, err := cb.Execute(succeeding); err != nil {
		t.Fatalf("Execute() in half-open = %v, want nil", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("State() = %v after successful probe, want Closed", cb.State())
	}
}

func TestManagerGetOrCreateReturnsSameInstance(t *testing.T) {
	mgr := NewManager(DefaultConfig(""))
	a := mgr.GetOrCreate("station-1", nil)
	b := mgr.GetOrCreate("station-1", nil)
	if a != b {
		t.Fatal("GetOrCreate() returned different instances for the same name")
	}
	if len(mgr.List()) != 1 {
		t.Fatalf("List() = %v, want 1 entry", mgr.List())
	}
}

func TestGroupForCommandRoutesTransactionCommands(t *testing.T) {
	cases := map[string]string{
		"StartTransaction":    GroupTransaction,
		"StopTransaction":     GroupTransaction,
		"Authorize":           GroupTransaction,
		"MeterValues":         GroupTransaction,
		"BootNotification":    GroupCore,
		"Heartbeat":           GroupCore,
		"DataTransfer":        GroupDiagnostics,
	}
	for command, want := range cases {
		if got := groupForCommand(command); got != want {
			t.Errorf("groupForCommand(%q) = %q, want %q", command, got, want)
		}
	}
}

func TestStationBreakersGuardIsStablePerGroup(t *testing.T) {
	sb := NewStationBreakers()
	if sb.Guard("StartTransaction") != sb.Guard("StopTransaction") {
		t.Fatal("Guard() should share one breaker across the transaction group")
	}
	if sb.Guard("Heartbeat") == sb.Guard("StartTransaction") {
		t.Fatal("Guard() should not share breakers across groups")
	}
	if len(sb.Health()) != 3 {
		t.Fatalf("Health() = %d groups, want 3", len(sb.Health()))
	}
}
