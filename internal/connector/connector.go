// Package connector implements the per-connector state machine (C7): status,
// availability, reservation, transaction bookkeeping and energy counters for
// a single physical connector on a simulated station.
package connector

import (
	"sync"
	"time"

	"github.com/evfleet/ocppsim/internal/ocpp"
)

// Availability is the operator-facing availability flag, independent of the
// OCPP status reported upstream.
type Availability string

const (
	Operative   Availability = "Operative"
	Inoperative Availability = "Inoperative"
)

// Status is the OCPP StatusNotification status vocabulary.
type Status string

const (
	StatusAvailable     Status = "Available"
	StatusPreparing     Status = "Preparing"
	StatusCharging      Status = "Charging"
	StatusSuspendedEVSE Status = "SuspendedEVSE"
	StatusSuspendedEV   Status = "SuspendedEV"
	StatusFinishing     Status = "Finishing"
	StatusReserved      Status = "Reserved"
	StatusUnavailable   Status = "Unavailable"
	StatusFaulted       Status = "Faulted"
)

// Reservation holds a connector reservation's expiry.
type Reservation struct {
	ExpiryDate time.Time
	IdTag      string
	ReservationId int
}

// Connector is a single connector's mutable state. ID 0 is the station-wide
// virtual connector: it is always Operative and never carries a
// transaction (spec §3 invariant).
type Connector struct {
	mu sync.Mutex

	ID           int
	availability Availability
	status       Status

	idTagLocalAuthorized bool
	idTagAuthorized      bool
	localAuthorizeIdTag  string
	authorizeIdTag       string

	transactionRemoteStarted  bool
	transactionStarted        bool
	transactionId              int
	transactionIdTag           string
	transactionStart           time.Time
	transactionBeginMeterValue int

	energyActiveImportRegisterValue            int
	transactionEnergyActiveImportRegisterValue int

	reservation     *Reservation
	chargingProfiles []ocpp.ChargingProfile

	pendingInoperative bool
}

// New creates a connector in its initial Available/Operative state. Callers
// apply the post-boot initial-status resolution (spec §4.5) separately.
func New(id int) *Connector {
	c := &Connector{
		ID:           id,
		availability: Operative,
		status:       StatusAvailable,
	}
	return c
}

func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connector) Availability() Availability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availability
}

// SetStatus forces the reported status, used by the station supervisor's
// transition table and by post-reconnect re-emission of StatusNotification.
// Connector 0 is pinned Available/Operative regardless of the caller.
func (c *Connector) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ID == 0 {
		return
	}
	c.status = s
}

// SetAvailability sets the operative flag. Connector 0 is always Operative.
func (c *Connector) SetAvailability(a Availability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ID == 0 {
		return
	}
	c.availability = a
}

// HasActiveTransaction reports whether a transaction is currently open.
func (c *Connector) HasActiveTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transactionStarted
}

// TransactionID returns the active transaction id, or 0 if none.
func (c *Connector) TransactionID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transactionId
}

// EnergyRegister returns the station-lifetime energy counter in Wh.
func (c *Connector) EnergyRegister() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.energyActiveImportRegisterValue
}

// AccumulateEnergy advances the lifetime and, if a transaction is open, the
// transaction-scoped energy counters by deltaWh.
func (c *Connector) AccumulateEnergy(deltaWh int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.energyActiveImportRegisterValue += deltaWh
	if c.transactionStarted {
		c.transactionEnergyActiveImportRegisterValue += deltaWh
	}
}

// PrepareRemoteStart marks a connector Preparing for a pending remote-start
// (Available → Preparing, spec §4.5). Returns false if the connector is not
// presently Available.
func (c *Connector) PrepareRemoteStart(idTag string, remote bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusAvailable {
		return false
	}
	c.status = StatusPreparing
	c.transactionRemoteStarted = remote
	c.authorizeIdTag = idTag
	return true
}

// BeginTransaction transitions Preparing → Charging on an Accepted
// StartTransaction response, recording the transaction id and meter start.
func (c *Connector) BeginTransaction(transactionId int, idTag string, meterStart int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusCharging
	c.transactionStarted = true
	c.transactionId = transactionId
	c.transactionIdTag = idTag
	c.transactionStart = now
	c.transactionBeginMeterValue = meterStart
	c.transactionEnergyActiveImportRegisterValue = 0
}

// RejectTransaction transitions Preparing → Available on a rejected
// StartTransaction, clearing every transaction-scoped field together (spec
// §3 invariant).
func (c *Connector) RejectTransaction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusAvailable
	c.clearTransactionLocked()
}

// EndTransaction transitions Charging → Finishing on an accepted
// StopTransaction.
func (c *Connector) EndTransaction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusFinishing
}

// ResetAfterStop transitions Finishing → Available once the post-stop reset
// completes, clearing all transaction-scoped fields together.
func (c *Connector) ResetAfterStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusAvailable
	c.clearTransactionLocked()
	c.applyPendingInoperativeLocked()
}

func (c *Connector) clearTransactionLocked() {
	c.transactionRemoteStarted = false
	c.transactionStarted = false
	c.transactionId = 0
	c.transactionIdTag = ""
	c.transactionStart = time.Time{}
	c.transactionBeginMeterValue = 0
	c.transactionEnergyActiveImportRegisterValue = 0
	c.authorizeIdTag = ""
	c.idTagAuthorized = false
}

// ChangeAvailabilityResult mirrors the wire-level ChangeAvailabilityStatus
// while keeping the connector package independent from ocpp request framing.
type ChangeAvailabilityResult int

const (
	AvailabilityChangeRejected ChangeAvailabilityResult = iota
	AvailabilityChangeImmediate
	AvailabilityChangeScheduled
)

// RequestAvailabilityChange applies (or schedules) an Inoperative/Operative
// change. A change to Inoperative while a transaction is active is deferred:
// it takes effect automatically when the transaction ends (ResetAfterStop),
// never applied immediately and never rejected outright (spec §9 resolves
// the §4.5/source ambiguity this way: "scheduled on transaction end").
func (c *Connector) RequestAvailabilityChange(target Availability) ChangeAvailabilityResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ID == 0 {
		return AvailabilityChangeRejected
	}

	if target == Operative {
		c.pendingInoperative = false
		c.availability = Operative
		if c.status == StatusUnavailable {
			c.status = StatusAvailable
		}
		return AvailabilityChangeImmediate
	}

	if c.transactionStarted {
		c.pendingInoperative = true
		return AvailabilityChangeScheduled
	}

	c.availability = Inoperative
	c.status = StatusUnavailable
	return AvailabilityChangeImmediate
}

// applyPendingInoperativeLocked enacts a deferred ChangeAvailability
// Inoperative once the connector returns to idle. Called with c.mu held.
func (c *Connector) applyPendingInoperativeLocked() {
	if !c.pendingInoperative {
		return
	}
	c.pendingInoperative = false
	c.availability = Inoperative
	c.status = StatusUnavailable
}

// Fault marks the connector Faulted. A fault is never auto-cleared; only an
// operator-driven Reset can leave this state (spec §4.5).
func (c *Connector) Fault() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ID == 0 {
		return
	}
	c.status = StatusFaulted
}

// Reserve places a reservation on an Available connector, moving it to
// Reserved.
func (c *Connector) Reserve(r *Reservation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ID == 0 || c.status != StatusAvailable {
		return false
	}
	c.reservation = r
	c.status = StatusReserved
	return true
}

// ClearReservation removes an (expired or canceled) reservation, returning
// the connector to Available if it was Reserved.
func (c *Connector) ClearReservation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservation = nil
	if c.status == StatusReserved {
		c.status = StatusAvailable
	}
}

// SetChargingProfiles replaces the connector's charging-profile list. The
// caller (dispatch handler) is responsible for stack-level replacement
// semantics and schedule-period validation before calling this.
func (c *Connector) SetChargingProfiles(profiles []ocpp.ChargingProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chargingProfiles = profiles
}

// ChargingProfiles returns a snapshot of the connector's active profiles,
// used by the MeterValues power-limit hook.
func (c *Connector) ChargingProfiles() []ocpp.ChargingProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ocpp.ChargingProfile, len(c.chargingProfiles))
	copy(out, c.chargingProfiles)
	return out
}

// ResolveInitialStatus implements the post-boot initial status rule (spec
// §4.5): stored status if present; otherwise Unavailable if the station or
// connector is unavailable; else templated boot status, else Available.
func ResolveInitialStatus(stationUnavailable, connectorUnavailable bool, storedStatus, templatedBootStatus Status) Status {
	if storedStatus != "" {
		return storedStatus
	}
	if stationUnavailable || connectorUnavailable {
		return StatusUnavailable
	}
	if templatedBootStatus != "" {
		return templatedBootStatus
	}
	return StatusAvailable
}
