package connector

import (
	"testing"
	"time"
)

func TestConnectorZeroIsAlwaysOperative(t *testing.T) {
	c := New(0)
	c.SetAvailability(Inoperative)
	c.SetStatus(StatusFaulted)

	if c.Availability() != Operative {
		t.Fatalf("Availability() = %v, want Operative for connector 0", c.Availability())
	}
	if c.Status() != StatusAvailable {
		t.Fatalf("Status() = %v, want Available for connector 0", c.Status())
	}
}

func TestStartTransactionLifecycle(t *testing.T) {
	c := New(1)

	if !c.PrepareRemoteStart("TAG1", true) {
		t.Fatal("PrepareRemoteStart: expected success from Available")
	}
	if c.Status() != StatusPreparing {
		t.Fatalf("Status() = %v, want Preparing", c.Status())
	}

	c.BeginTransaction(42, "TAG1", 1000, time.Now())
	if c.Status() != StatusCharging {
		t.Fatalf("Status() = %v, want Charging", c.Status())
	}
	if !c.HasActiveTransaction() || c.TransactionID() != 42 {
		t.Fatalf("transaction not recorded: active=%v id=%d", c.HasActiveTransaction(), c.TransactionID())
	}

	c.AccumulateEnergy(500)
	if c.EnergyRegister() != 1500 {
		t.Fatalf("EnergyRegister() = %d, want 1500", c.EnergyRegister())
	}

	c.EndTransaction()
	if c.Status() != StatusFinishing {
		t.Fatalf("Status() = %v, want Finishing", c.Status())
	}

	c.ResetAfterStop()
	if c.Status() != StatusAvailable {
		t.Fatalf("Status() = %v, want Available", c.Status())
	}
	if c.HasActiveTransaction() {
		t.Fatal("HasActiveTransaction() = true, want false after reset")
	}
	if c.TransactionID() != 0 {
		t.Fatalf("TransactionID() = %d, want 0 after reset", c.TransactionID())
	}
}

func TestRejectTransactionClearsAllFieldsTogether(t *testing.T) {
	c := New(1)
	c.PrepareRemoteStart("TAG1", false)
	c.RejectTransaction()

	if c.Status() != StatusAvailable {
		t.Fatalf("Status() = %v, want Available", c.Status())
	}
	if c.HasActiveTransaction() {
		t.Fatal("HasActiveTransaction() = true, want false after rejection")
	}
}

func TestRequestAvailabilityChangeScheduledDuringTransaction(t *testing.T) {
	c := New(1)
	c.PrepareRemoteStart("TAG1", false)
	c.BeginTransaction(1, "TAG1", 0, time.Now())

	if got := c.RequestAvailabilityChange(Inoperative); got != AvailabilityChangeScheduled {
		t.Fatalf("RequestAvailabilityChange() = %v, want Scheduled", got)
	}
	if c.Availability() != Operative {
		t.Fatalf("Availability() = %v, want unchanged Operative while transaction is active", c.Availability())
	}

	c.EndTransaction()
	c.ResetAfterStop()
	if c.Availability() != Inoperative {
		t.Fatalf("Availability() = %v, want Inoperative applied on transaction end", c.Availability())
	}
	if c.Status() != StatusUnavailable {
		t.Fatalf("Status() = %v, want Unavailable applied on transaction end", c.Status())
	}
}

func TestRequestAvailabilityChangeAppliedWhenIdle(t *testing.T) {
	c := New(1)

	if got := c.RequestAvailabilityChange(Inoperative); got != AvailabilityChangeImmediate {
		t.Fatalf("RequestAvailabilityChange() = %v, want Immediate", got)
	}
	if c.Status() != StatusUnavailable {
		t.Fatalf("Status() = %v, want Unavailable", c.Status())
	}

	if got := c.RequestAvailabilityChange(Operative); got != AvailabilityChangeImmediate {
		t.Fatalf("RequestAvailabilityChange() = %v, want Immediate", got)
	}
	if c.Status() != StatusAvailable {
		t.Fatalf("Status() = %v, want Available", c.Status())
	}
}

func TestFaultNeverAutoClearedOnConnectorOne(t *testing.T) {
	c := New(1)
	c.Fault()
	if c.Status() != StatusFaulted {
		t.Fatalf("Status() = %v, want Faulted", c.Status())
	}
	// A non-operator transition attempt does not clear the fault.
	c.SetAvailability(Operative)
	if c.Status() != StatusFaulted {
		t.Fatalf("Status() = %v, want still Faulted after unrelated availability set", c.Status())
	}
}

func TestReserveOnlyFromAvailable(t *testing.T) {
	c := New(1)
	r := &Reservation{ExpiryDate: time.Now().Add(time.Hour), IdTag: "TAG1"}
	if !c.Reserve(r) {
		t.Fatal("Reserve: expected success from Available")
	}
	if c.Status() != StatusReserved {
		t.Fatalf("Status() = %v, want Reserved", c.Status())
	}

	c.ClearReservation()
	if c.Status() != StatusAvailable {
		t.Fatalf("Status() = %v, want Available after ClearReservation", c.Status())
	}
}

func TestResolveInitialStatus(t *testing.T) {
	cases := []struct {
		name                                string
		stationUnavail, connectorUnavail    bool
		stored, templated, want             Status
	}{
		{"stored wins over unavailable", true, false, StatusCharging, StatusPreparing, StatusCharging},
		{"unavailable wins without stored", true, false, "", StatusPreparing, StatusUnavailable},
		{"stored wins over templated", false, false, StatusCharging, StatusPreparing, StatusCharging},
		{"templated wins over default", false, false, "", StatusPreparing, StatusPreparing},
		{"default Available", false, false, "", "", StatusAvailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveInitialStatus(tc.stationUnavail, tc.connectorUnavail, tc.stored, tc.templated)
			if got != tc.want {
				t.Fatalf("ResolveInitialStatus() = %v, want %v", got, tc.want)
			}
		})
	}
}
