package circuitbreaker

import "time"

// Outgoing command groups a station's circuit breakers are keyed by. Each
// group fails independently: a misbehaving core channel (the CSMS rejecting
// every BootNotification) shouldn't trip the transaction channel and vice
// versa.
const (
	GroupCore        = "core"        // BootNotification, Heartbeat, StatusNotification
	GroupTransaction = "transaction" // Authorize, StartTransaction, StopTransaction, MeterValues
	GroupDiagnostics = "diagnostics" // DiagnosticsStatusNotification, FirmwareStatusNotification, DataTransfer
)

// StationBreakers is the set of circuit breakers guarding one station's
// outgoing CALLs against a single supervision server, one breaker per
// command group so a failing transaction flow doesn't block heartbeats.
type StationBreakers struct {
	mgr *Manager
}

// NewStationBreakers builds the three command-group breakers for a station.
// The transaction group is stricter (trips sooner, recovers slower) since a
// CSMS that can't authorize or settle transactions is the failure an
// operator most needs surfaced.
func NewStationBreakers() *StationBreakers {
	mgr := NewManager(DefaultConfig(""))
	mgr.GetOrCreate(GroupCore, &Config{
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 5 },
	})
	mgr.GetOrCreate(GroupTransaction, &Config{
		MaxRequests: 1,
		Interval:    0,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	})
	mgr.GetOrCreate(GroupDiagnostics, &Config{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c Counts) bool { return c.Requests >= 10 && c.FailureRatio() > 0.6 },
	})
	return &StationBreakers{mgr: mgr}
}

// groupForCommand maps an OCPP action name to its breaker group. Unlisted
// commands fall back to GroupCore.
func groupForCommand(command string) string {
	switch command {
	case "Authorize", "StartTransaction", "StopTransaction", "MeterValues":
		return GroupTransaction
	case "DiagnosticsStatusNotification", "FirmwareStatusNotification", "DataTransfer":
		return GroupDiagnostics
	default:
		return GroupCore
	}
}

// Guard returns the breaker that should wrap an outgoing CALL for command.
func (sb *StationBreakers) Guard(command string) *CircuitBreaker {
	return sb.mgr.Get(groupForCommand(command))
}

// Health reports the current state of every group breaker, keyed by group
// name, for surfacing on the UI server's station detail view.
func (sb *StationBreakers) Health() map[string]Stats {
	return sb.mgr.Stats()
}
