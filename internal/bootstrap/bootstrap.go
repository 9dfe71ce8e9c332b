// Package bootstrap owns the fleet's process lifecycle: spawning station
// supervisors from templates, distributing them across supervision URLs,
// and keeping the registry the control plane (C10/C11) addresses stations
// through.
package bootstrap

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"

	"github.com/evfleet/ocppsim/internal/broadcast"
	"github.com/evfleet/ocppsim/internal/config"
	"github.com/evfleet/ocppsim/internal/idtag"
	"github.com/evfleet/ocppsim/internal/monitoring"
	"github.com/evfleet/ocppsim/internal/station"
)

// State is the process-wide lifecycle (spec §4.9).
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// StationEntry is one fleet member, addressed by its immutable hashId.
type StationEntry struct {
	Supervisor   *station.Supervisor
	TemplateName string
}

// Fleet owns the StationRegistry (map[hashId]*Supervisor, per SPEC_FULL
// §4.2, the same double-checked-locking shape as the teacher's
// circuitbreaker.Manager) and the process-wide lifecycle state machine.
type Fleet struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *monitoring.Metrics

	bus     broadcast.Bus
	idTagDB idtag.Store // lazily opened; nil unless cfg.IdTagSource is "postgres" or "spanner"

	mu        sync.RWMutex
	state     State
	stations  map[string]*StationEntry // hashId -> entry
	urlIndex  int
	runCtx    context.Context
	runCancel context.CancelFunc
}

// SetBus attaches the control-plane bus every spawned station listens on
// (spec §4.8). Must be called before Start; nil (the default) means
// stations never receive broadcast commands.
func (f *Fleet) SetBus(bus broadcast.Bus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bus = bus
}

// New constructs an idle Fleet. Metrics may be nil to disable Prometheus
// recording for every spawned station.
func New(cfg *config.Config, metrics *monitoring.Metrics, log *slog.Logger) *Fleet {
	if log == nil {
		log = slog.Default()
	}
	return &Fleet{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		state:    StateStopped,
		stations: make(map[string]*StationEntry),
	}
}

func (f *Fleet) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Start is idempotent: spawning every template's stations and connecting
// them. A second Start while already Starting/Running is a no-op.
func (f *Fleet) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.state == StateStarting || f.state == StateRunning {
		f.mu.Unlock()
		return nil
	}
	f.state = StateStarting
	runCtx, runCancel := context.WithCancel(context.Background())
	f.runCtx = runCtx
	f.runCancel = runCancel
	f.mu.Unlock()

	for _, tplURL := range f.cfg.StationTemplateURLs {
		tpl, err := config.LoadStationTemplate(tplURL.File)
		if err != nil {
			f.setState(StateStopped)
			return fmt.Errorf("bootstrap: %w", err)
		}
		if err := f.spawnFromTemplate(ctx, tplURL.File, tpl, tplURL.NumberOfStations); err != nil {
			f.setState(StateStopped)
			return err
		}
	}

	f.setState(StateRunning)
	return nil
}

// resolveIdTags returns tpl's idTag pool from whichever source is
// configured (spec §3 "idTagSource"): the template's idTagsFile by default,
// or the shared database-backed store when cfg.IdTagSource is "postgres" or
// "spanner", opened lazily on first use and reused by every later template.
func (f *Fleet) resolveIdTags(ctx context.Context, tpl *config.StationTemplate) ([]string, error) {
	if f.cfg.IdTagSource != "postgres" && f.cfg.IdTagSource != "spanner" {
		return config.LoadIdTagsFile(tpl.IdTagsFile)
	}

	f.mu.Lock()
	if f.idTagDB == nil {
		store, err := idtag.NewStore(ctx, idtag.Config{
			Backend:         f.cfg.IdTagSource,
			PostgresDSN:     f.cfg.IdTagDatabaseURL,
			SpannerProject:  f.cfg.IdTagSpannerProject,
			SpannerInstance: f.cfg.IdTagSpannerInstance,
			SpannerDatabase: f.cfg.IdTagSpannerDatabase,
		})
		if err != nil {
			f.mu.Unlock()
			return nil, fmt.Errorf("idtag source: %w", err)
		}
		f.idTagDB = store
	}
	store := f.idTagDB
	f.mu.Unlock()

	return store.LoadIdTags(ctx)
}

// spawnFromTemplate spawns count stations from tpl, named templateName for
// registry bookkeeping, and starts their connections.
func (f *Fleet) spawnFromTemplate(ctx context.Context, templateName string, tpl *config.StationTemplate, count int) error {
	if count <= 0 {
		count = 1
	}

	configKeys, readOnly := tpl.ConfigurationKeys()
	idTags, err := f.resolveIdTags(ctx, tpl)
	if err != nil {
		return fmt.Errorf("bootstrap: %s: %w", templateName, err)
	}

	for i := 1; i <= count; i++ {
		stationID := tpl.StationID(i)
		info := tpl.Info(stationID, f.cfg.SupervisionURLs)

		sup := station.New(info, tpl.ConnectorIDs(), tpl.ATGTemplate(), configKeys, readOnly, tpl.LocalAuthList, idTags, f.log.With("station", stationID))
		if f.metrics != nil {
			sup.SetMetrics(f.metrics)
		}

		f.mu.Lock()
		f.stations[info.HashID] = &StationEntry{Supervisor: sup, TemplateName: templateName}
		url := f.nextSupervisionURL(i)
		bus := f.bus
		listenCtx := f.runCtx
		if listenCtx == nil {
			listenCtx = ctx
		}
		f.mu.Unlock()

		if bus != nil {
			sup.ListenBroadcast(listenCtx, bus)
		}

		header := basicAuthHeader(info.Auth)
		if err := sup.Start(ctx, url, header); err != nil {
			f.log.Warn("bootstrap: station failed to start", "station", stationID, "error", err)
		}
	}
	return nil
}

// nextSupervisionURL picks a supervision URL per the configured
// distribution strategy (spec §4.9). index is the 1-based station index
// within its template, used for charging-station-affinity (index mod N).
func (f *Fleet) nextSupervisionURL(index int) string {
	urls := f.cfg.SupervisionURLs
	if len(urls) == 0 {
		return ""
	}
	if len(urls) == 1 {
		return urls[0]
	}

	switch f.cfg.SupervisionURLDistribution {
	case config.DistributionRandom:
		return urls[rand.Intn(len(urls))]
	case config.DistributionChargingStationAffinity:
		return urls[index%len(urls)]
	default: // round-robin
		url := urls[f.urlIndex%len(urls)]
		f.urlIndex++
		return url
	}
}

func basicAuthHeader(auth station.Auth) http.Header {
	header := http.Header{}
	if auth.Username == "" {
		return header
	}
	creds := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
	header.Set("Authorization", "Basic "+creds)
	return header
}

func (f *Fleet) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// Stop is idempotent: stops every station's connection and ATG, and
// transitions Running/Starting -> Stopping -> Stopped.
func (f *Fleet) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.state == StateStopped || f.state == StateStopping {
		f.mu.Unlock()
		return nil
	}
	f.state = StateStopping
	entries := make([]*StationEntry, 0, len(f.stations))
	for _, e := range f.stations {
		entries = append(entries, e)
	}
	if f.runCancel != nil {
		f.runCancel()
		f.runCancel = nil
	}
	f.mu.Unlock()

	for _, e := range entries {
		if err := e.Supervisor.Stop(ctx); err != nil {
			f.log.Warn("bootstrap: station failed to stop", "station", e.Supervisor.Info.StationID, "error", err)
		}
	}

	f.mu.Lock()
	if f.idTagDB != nil {
		if err := f.idTagDB.Close(); err != nil {
			f.log.Warn("bootstrap: idtag repository close failed", "error", err)
		}
		f.idTagDB = nil
	}
	f.mu.Unlock()

	f.setState(StateStopped)
	return nil
}

// Get returns the station registered under hashId, or nil.
func (f *Fleet) Get(hashID string) *station.Supervisor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if e, ok := f.stations[hashID]; ok {
		return e.Supervisor
	}
	return nil
}

// List returns every registered hashId.
func (f *Fleet) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.stations))
	for id := range f.stations {
		ids = append(ids, id)
	}
	return ids
}

// StationSummary is one fleet member's read-only introspection snapshot
// (spec §4.3 "GetFleetSummary").
type StationSummary struct {
	HashID       string
	StationID    string
	TemplateName string
	Connected    bool
}

// Summaries returns a read-only snapshot of every registered station, used
// by both listChargingStations and the gRPC introspection service.
func (f *Fleet) Summaries() []StationSummary {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]StationSummary, 0, len(f.stations))
	for id, e := range f.stations {
		out = append(out, StationSummary{
			HashID:       id,
			StationID:    e.Supervisor.Info.StationID,
			TemplateName: e.TemplateName,
			Connected:    e.Supervisor.OutgoingReady(),
		})
	}
	return out
}

// ConnectorEnergy is one connector's energy register reading, in Wh.
type ConnectorEnergy struct {
	ConnectorID int
	EnergyWh    int
}

// StationStatistics is one station's runtime telemetry snapshot (spec §4.2
// "performanceStatistics"): in-memory only, no persistence.
type StationStatistics struct {
	HashID          string
	PendingRequests int
	BufferedFrames  int
	Connectors      []ConnectorEnergy
}

// Statistics returns a per-station runtime snapshot: outstanding request
// registry depth, outbound buffer depth, and each connector's energy
// register.
func (f *Fleet) Statistics() []StationStatistics {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]StationStatistics, 0, len(f.stations))
	for id, e := range f.stations {
		sup := e.Supervisor
		ids := sup.ConnectorIDs()
		connectors := make([]ConnectorEnergy, 0, len(ids))
		for _, cid := range ids {
			connectors = append(connectors, ConnectorEnergy{
				ConnectorID: cid,
				EnergyWh:    sup.Connector(cid).EnergyRegister(),
			})
		}
		out = append(out, StationStatistics{
			HashID:          id,
			PendingRequests: sup.PendingRequests(),
			BufferedFrames:  sup.BufferedFrames(),
			Connectors:      connectors,
		})
	}
	return out
}

// Add spawns count additional stations from the named template file,
// appending them to the registry (the `addChargingStations` procedure).
func (f *Fleet) Add(ctx context.Context, templateFile string, count int) error {
	tpl, err := config.LoadStationTemplate(templateFile)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return f.spawnFromTemplate(ctx, templateFile, tpl, count)
}

// Delete stops and evicts the station registered under hashId (the
// `deleteChargingStations` procedure).
func (f *Fleet) Delete(ctx context.Context, hashID string) error {
	f.mu.Lock()
	e, ok := f.stations[hashID]
	if ok {
		delete(f.stations, hashID)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("bootstrap: unknown station %s", hashID)
	}
	return e.Supervisor.Stop(ctx)
}
