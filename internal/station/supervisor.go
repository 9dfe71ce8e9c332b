// Package station implements the station supervisor (C9): the owner of a
// single simulated charging station's wire codec, connection, connectors,
// and automatic transaction generator, exposing the local command surface
// the broadcast channel (C10) dispatches onto.
package station

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/evfleet/ocppsim/internal/atg"
	"github.com/evfleet/ocppsim/internal/connection"
	"github.com/evfleet/ocppsim/internal/connector"
	"github.com/evfleet/ocppsim/internal/dispatch"
	"github.com/evfleet/ocppsim/internal/monitoring"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/registry"
)

// Lifecycle is the station supervisor's own run state, distinct from the
// connection manager's transport state.
type Lifecycle int

const (
	LifecycleStopped Lifecycle = iota
	LifecycleStarting
	LifecycleRunning
	LifecycleStopping
)

// ATGTemplate carries the per-station automatic-transaction-generator
// configuration, mirrored from the station template file.
type ATGTemplate struct {
	Enable                      bool
	MinDurationSeconds          int
	MaxDurationSeconds          int
	MinDelayBetweenTransactions int
	MaxDelayBetweenTransactions int
	ProbabilityOfStart          float64
	StopAfterHours              float64
	RequireAuthorize            bool
}

// Supervisor owns everything needed to simulate one OCPP 1.6-J charging
// station: the connection manager, request registry and outbound buffer,
// dispatcher, outgoing service, connectors and (optionally) an ATG.
//
// commandMu serializes Start and Stop only. The WebSocket read pump,
// heartbeat ticker, ATG loop and incoming UI commands each run on their own
// goroutines and are not serialized with one another; connector.Connector
// guards its fields with its own mutex, one method call at a time.
type Supervisor struct {
	Info Info

	commandMu sync.Mutex

	connectors map[int]*connector.Connector
	connOrder  []int

	reg    *registry.Registry
	buf    *registry.Buffer
	disp   *dispatch.Dispatcher
	out    *dispatch.OutgoingService
	connMgr *connection.Manager
	atgGen *atg.Generator
	atgCfg ATGTemplate

	configKeys map[string]ocpp.ConfigurationKeyValue
	readOnly   map[string]bool

	localAuth map[string]bool

	idTags   []string
	idTagPos int

	log *slog.Logger

	mu            sync.Mutex
	lifecycle     Lifecycle
	bootStatus    ocpp.RegistrationStatus
	blocked       bool
	heartbeatSecs int
	heartbeatStop context.CancelFunc
	runCancel     context.CancelFunc
	meterStops    map[int]context.CancelFunc

	metrics *monitoring.Metrics
}

// SetMetrics attaches a fleet-wide Prometheus metrics sink, applied to the
// outgoing service on the next Start (or immediately if already running).
func (s *Supervisor) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
	if s.out != nil {
		s.out.SetMetrics(m)
	}
}

// New constructs a station supervisor. connectorIDs lists the physical
// connectors, numbered 1..N by the caller; New adds the virtual connector 0
// automatically.
func New(info Info, connectorIDs []int, atgCfg ATGTemplate, configKeys map[string]ocpp.ConfigurationKeyValue, readOnlyKeys map[string]bool, localAuthList []string, idTags []string, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}

	connectors := map[int]*connector.Connector{0: connector.New(0)}
	order := make([]int, 0, len(connectorIDs))
	for _, id := range connectorIDs {
		connectors[id] = connector.New(id)
		order = append(order, id)
	}

	localAuth := make(map[string]bool, len(localAuthList))
	for _, tag := range localAuthList {
		localAuth[tag] = true
	}

	reg := registry.New(log)
	buf := registry.NewBuffer()
	disp := dispatch.New(reg, log)

	s := &Supervisor{
		Info:          info,
		connectors:    connectors,
		connOrder:     order,
		reg:           reg,
		buf:           buf,
		disp:          disp,
		atgCfg:        atgCfg,
		configKeys:    configKeys,
		readOnly:      readOnlyKeys,
		localAuth:     localAuth,
		idTags:        idTags,
		log:           log,
		lifecycle:     LifecycleStopped,
		bootStatus:    ocpp.RegistrationRejected,
		heartbeatSecs: 60,
		meterStops:    make(map[int]context.CancelFunc),
	}
	s.registerHandlers()
	return s
}

const defaultMeterValuesInterval = 60

// Connector returns a connector by id, or nil if unknown.
func (s *Supervisor) Connector(id int) *connector.Connector { return s.connectors[id] }

// PendingRequests returns the number of outbound CALLs still awaiting a
// response (spec §4.2 "performanceStatistics").
func (s *Supervisor) PendingRequests() int { return s.reg.Len() }

// BufferedFrames returns the number of frames queued for send while
// disconnected (spec §4.2 "performanceStatistics").
func (s *Supervisor) BufferedFrames() int { return s.buf.Len() }

// ConnectorIDs returns the non-virtual connector ids in template order.
func (s *Supervisor) ConnectorIDs() []int { return append([]int(nil), s.connOrder...) }

// BootAccepted, StationUnavailable, ConnectorUnavailable, OutgoingReady and
// NextIdTag implement atg.Station.
func (s *Supervisor) BootAccepted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootStatus == ocpp.RegistrationAccepted
}

// Blocked reports whether a completed boot handshake was rejected (spec
// §4.3): while true, OutgoingService refuses every CALL except the
// BootNotification retry itself. Never true before the first handshake
// finishes, so locally-triggered commands in tests and during an in-flight
// first connect are unaffected.
func (s *Supervisor) Blocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

func (s *Supervisor) StationUnavailable() bool {
	return s.connectors[0].Availability() == connector.Inoperative
}

func (s *Supervisor) ConnectorUnavailable(connectorID int) bool {
	c := s.connectors[connectorID]
	if c == nil {
		return true
	}
	return c.Availability() == connector.Inoperative || c.Status() == connector.StatusUnavailable
}

func (s *Supervisor) OutgoingReady() bool {
	return s.connMgr != nil && s.out != nil
}

func (s *Supervisor) NextIdTag() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.idTags) == 0 {
		return "", false
	}
	tag := s.idTags[s.idTagPos%len(s.idTags)]
	s.idTagPos++
	return tag, true
}

// Start opens the supervision connection and blocks in the background until
// Stop is called. It is idempotent: starting an already-running station is
// a no-op.
func (s *Supervisor) Start(ctx context.Context, url string, header http.Header) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()

	s.mu.Lock()
	if s.lifecycle != LifecycleStopped {
		s.mu.Unlock()
		return nil
	}
	s.lifecycle = LifecycleStarting
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.connMgr = connection.New(url, header, connection.DefaultReconnectPolicy(), s.buf, s.reg, s.log)
	s.out = dispatch.NewOutgoingService(s.reg, s.buf, s.connMgr, s.disp, socketTimeout)
	s.out.SetBlockedFunc(s.Blocked)
	if s.metrics != nil {
		s.out.SetMetrics(s.metrics)
	}

	if s.atgCfg.Enable {
		gen, err := atg.New(s, atg.Config{
			StopAfterHours:              s.atgCfg.StopAfterHours,
			MinDelayBetweenTransactions: s.atgCfg.MinDelayBetweenTransactions,
			MaxDelayBetweenTransactions: s.atgCfg.MaxDelayBetweenTransactions,
			ProbabilityOfStart:          s.atgCfg.ProbabilityOfStart,
			RequireAuthorize:            s.atgCfg.RequireAuthorize,
			MinDurationSeconds:          s.atgCfg.MinDurationSeconds,
			MaxDurationSeconds:          s.atgCfg.MaxDurationSeconds,
			InitializationPoll:          2 * time.Second,
		}, s.log)
		if err != nil {
			s.mu.Lock()
			s.lifecycle = LifecycleStopped
			s.mu.Unlock()
			return fmt.Errorf("station %s: atg config: %w", s.Info.HashID, err)
		}
		s.atgGen = gen
	}

	// Expire overdue registry entries on a ticker as well as on every inbound message.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.reg.Sweep(now)
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		if err := s.connMgr.Run(runCtx, s); err != nil {
			s.log.Error("ocpp: connection manager exited", "station", s.Info.HashID, "error", err)
		}
	}()

	s.mu.Lock()
	s.lifecycle = LifecycleRunning
	s.mu.Unlock()
	return nil
}

// Stop tears the station down: optionally stops active transactions, closes
// the connection, stops the heartbeat and ATG, and cancels every pending
// registry entry with ocpp.ErrCanceled.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()

	s.mu.Lock()
	if s.lifecycle != LifecycleRunning {
		s.mu.Unlock()
		return nil
	}
	s.lifecycle = LifecycleStopping
	s.mu.Unlock()

	if s.Info.Features.StopTransactionsOnStopped {
		for _, id := range s.connOrder {
			c := s.connectors[id]
			if c.HasActiveTransaction() {
				txID := c.TransactionID()
				energy := c.EnergyRegister()
				if _, err := s.out.Request(ctx, ocpp.ActionStopTransaction, ocpp.StopTransactionRequest{
					TransactionId: txID,
					MeterStop:     energy,
					Timestamp:     time.Now().UTC().Format(time.RFC3339),
					Reason:        "PowerLoss",
				}, dispatch.RequestOptions{SkipBufferingOnError: true}); err != nil {
					s.log.Warn("ocpp: stop-on-shutdown StopTransaction failed", "connector", id, "error", err)
				}
				c.EndTransaction()
				c.ResetAfterStop()
			}
		}
	}

	if s.atgGen != nil {
		s.atgGen.StopAll()
	}
	s.stopHeartbeat()
	if s.runCancel != nil {
		s.runCancel()
	}
	s.reg.CancelAll()

	s.mu.Lock()
	s.lifecycle = LifecycleStopped
	s.bootStatus = ocpp.RegistrationRejected
	s.mu.Unlock()
	return nil
}

// OpenConnection backs the `openConnection` procedure by calling Start, so it
// is a no-op while the station is already running. CloseConnection backs
// `closeConnection`: it closes the current socket, and the connection manager
// then reconnects under its reconnect policy.
func (s *Supervisor) OpenConnection(ctx context.Context, url string, header http.Header) error {
	return s.Start(ctx, url, header)
}

func (s *Supervisor) CloseConnection() {
	if s.connMgr != nil {
		s.connMgr.Close()
	}
}

// StartATG begins the automatic transaction generator on the given
// connectors (or every template connector if empty).
func (s *Supervisor) StartATG(ctx context.Context, connectorIDs []int) error {
	if s.atgGen == nil {
		return fmt.Errorf("station %s: automatic transaction generator is not enabled", s.Info.HashID)
	}
	if len(connectorIDs) == 0 {
		connectorIDs = s.connOrder
	}
	s.atgGen.Start(ctx, connectorIDs)
	return nil
}

// StopATG stops the generator on the given connectors (or all if empty).
func (s *Supervisor) StopATG(connectorIDs []int) error {
	if s.atgGen == nil {
		return nil
	}
	s.atgGen.Stop(connectorIDs)
	return nil
}

const socketTimeout = 30 * time.Second
const startTransactionTimeout = 3 * time.Second

// OnOpen implements connection.Handler: runs the boot handshake on first
// connect, and re-emits StatusNotification for every connector plus resumes
// the heartbeat on every subsequent reconnect.
func (s *Supervisor) OnOpen() {
	ctx := context.Background()
	s.mu.Lock()
	firstBoot := s.bootStatus != ocpp.RegistrationAccepted
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.StationsConnected.Inc()
	}

	if firstBoot {
		go s.runBootHandshake(ctx)
		return
	}

	for _, id := range s.connOrder {
		s.emitStatusNotification(ctx, id)
	}
	s.startHeartbeat(ctx)
}

func (s *Supervisor) runBootHandshake(ctx context.Context) {
	for {
		resp, err := s.BootNotification(ctx)
		if err != nil {
			s.log.Warn("ocpp: boot notification failed", "station", s.Info.HashID, "error", err)
			return
		}

		switch resp.Status {
		case ocpp.RegistrationAccepted:
			s.mu.Lock()
			s.bootStatus = ocpp.RegistrationAccepted
			s.blocked = false
			s.heartbeatSecs = resp.Interval
			s.mu.Unlock()
			for _, id := range s.connOrder {
				initial := connector.ResolveInitialStatus(s.StationUnavailable(), s.ConnectorUnavailable(id), "", "")
				s.connectors[id].SetStatus(initial)
				s.emitStatusNotification(ctx, id)
			}
			s.startHeartbeat(ctx)
			return
		case ocpp.RegistrationPending:
			time.Sleep(time.Duration(resp.Interval) * time.Second)
			continue
		default: // Rejected
			s.mu.Lock()
			s.bootStatus = ocpp.RegistrationRejected
			s.blocked = true
			s.mu.Unlock()
			return
		}
	}
}

// OnClose implements connection.Handler: suspends the heartbeat ticker and
// ATG on any disconnection (spec §4.3).
func (s *Supervisor) OnClose(code int, err error) {
	s.stopHeartbeat()
	if s.atgGen != nil {
		s.atgGen.Stop(nil)
	}
	for _, id := range s.connOrder {
		s.stopMeterValuesLoop(id)
	}
	if s.metrics != nil {
		s.metrics.StationsConnected.Dec()
	}
}

// OnFrame implements connection.Handler, routing every decoded inbound
// frame through the dispatcher and writing back any response frame.
func (s *Supervisor) OnFrame(f *ocpp.Frame) {
	resp := s.disp.Dispatch(context.Background(), f)
	if resp == nil {
		return
	}
	if err := s.connMgr.Send(resp); err != nil {
		s.buf.Enqueue(resp, time.Time{})
	}
}

func (s *Supervisor) startHeartbeat(ctx context.Context) {
	s.mu.Lock()
	if s.heartbeatStop != nil {
		s.mu.Unlock()
		return
	}
	interval := time.Duration(s.heartbeatSecs) * time.Second
	hbCtx, cancel := context.WithCancel(ctx)
	s.heartbeatStop = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Heartbeat(hbCtx); err != nil {
					s.log.Warn("ocpp: heartbeat failed", "station", s.Info.HashID, "error", err)
				}
			case <-hbCtx.Done():
				return
			}
		}
	}()
}

func (s *Supervisor) stopHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeatStop != nil {
		s.heartbeatStop()
		s.heartbeatStop = nil
	}
}

// startMeterValuesLoop begins periodic MeterValues sampling for connectorID
// at the configured interval, for the lifetime of its active transaction
// (spec §4.7's "periodic telemetry").
func (s *Supervisor) startMeterValuesLoop(ctx context.Context, connectorID int) {
	s.mu.Lock()
	if s.meterStops[connectorID] != nil {
		s.mu.Unlock()
		return
	}
	mvCtx, cancel := context.WithCancel(ctx)
	s.meterStops[connectorID] = cancel
	s.mu.Unlock()

	go func() {
		for {
			interval := time.Duration(s.meterValuesIntervalMs()) * time.Millisecond
			timer := time.NewTimer(interval)
			select {
			case <-timer.C:
				if err := s.MeterValues(mvCtx, connectorID); err != nil {
					s.log.Warn("ocpp: periodic meter values failed", "connector", connectorID, "error", err)
				}
			case <-mvCtx.Done():
				timer.Stop()
				return
			}
		}
	}()
}

func (s *Supervisor) stopMeterValuesLoop(connectorID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel := s.meterStops[connectorID]; cancel != nil {
		cancel()
		delete(s.meterStops, connectorID)
	}
}

func (s *Supervisor) emitStatusNotification(ctx context.Context, connectorID int) {
	c := s.connectors[connectorID]
	if _, err := s.out.Request(ctx, ocpp.ActionStatusNotification, ocpp.StatusNotificationRequest{
		ConnectorId: connectorID,
		ErrorCode:   "NoError",
		Status:      string(c.Status()),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}, dispatch.RequestOptions{}); err != nil {
		s.log.Warn("ocpp: status notification failed", "connector", connectorID, "error", err)
	}
}

// randomEnergyIncrement implements the MeterValues power-limit hook's
// energy accrual rule (spec §4.7): a random per-interval increment bounded
// by maxPower·interval_ms/3_600_000.
func randomEnergyIncrement(maxPowerWatts int, intervalMs int) int {
	bound := maxPowerWatts * intervalMs / 3_600_000
	if bound <= 0 {
		return 0
	}
	return rand.Intn(bound + 1)
}
