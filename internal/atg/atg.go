// Package atg implements the Automatic Transaction Generator (C8): a
// per-connector synthetic session loop that authorizes, starts and stops
// transactions under a configurable probability and session-duration
// budget.
package atg

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Station is the subset of the station supervisor the generator drives.
// Implemented by the station supervisor (C9); kept as a narrow interface so
// this package can be tested without a real OCPP connection.
type Station interface {
	// BootAccepted reports whether the station completed its boot handshake
	// with status Accepted — the ATG never runs before or after a non-
	// Accepted boot state.
	BootAccepted() bool
	// StationUnavailable reports whether the station as a whole is
	// unavailable.
	StationUnavailable() bool
	// ConnectorUnavailable reports whether a specific connector is
	// unavailable or Unavailable-statused.
	ConnectorUnavailable(connectorID int) bool
	// OutgoingReady reports whether the outgoing service can currently
	// accept requests (i.e. Start has built the station's connection manager
	// and outgoing service; the socket itself may still be closed).
	OutgoingReady() bool
	// NextIdTag returns an idTag to use for a session, or false if no idTag
	// cache/source is configured (spec §4.6: "If no idTag cache is present,
	// StartTransaction is issued without an idTag").
	NextIdTag() (string, bool)
	// Authorize issues an Authorize CALL and reports acceptance.
	Authorize(ctx context.Context, connectorID int, idTag string) (accepted bool, err error)
	// StartTransaction issues a StartTransaction CALL and reports the
	// transaction id on acceptance.
	StartTransaction(ctx context.Context, connectorID int, idTag string) (accepted bool, transactionID int, err error)
	// StopTransaction issues a StopTransaction CALL for the given
	// transaction, with the accumulated energy register and a reason.
	StopTransaction(ctx context.Context, connectorID, transactionID int, reason string) error
}

// Config parameterizes one connector's session loop.
type Config struct {
	StopAfterHours               float64
	MinDelayBetweenTransactions  int // seconds
	MaxDelayBetweenTransactions  int // seconds
	ProbabilityOfStart           float64
	RequireAuthorize             bool
	MinDurationSeconds           int
	MaxDurationSeconds           int
	InitializationPoll           time.Duration // CHARGING_STATION_ATG_INITIALIZATION_TIME
}

// Validate enforces the configuration-time invariant from spec §4.6:
// MaxDurationSeconds < MinDurationSeconds is a configuration error.
func (c Config) Validate() error {
	if c.MaxDurationSeconds < c.MinDurationSeconds {
		return errMaxLessThanMin
	}
	return nil
}

var errMaxLessThanMin = configError("atg: maxDuration is less than minDuration")

type configError string

func (e configError) Error() string { return string(e) }

// SessionStats tracks a connector's lifetime ATG counters, surfaced via
// performanceStatistics (spec §4.6).
type SessionStats struct {
	AuthorizeRequested int
	AuthorizeAccepted  int
	AuthorizeRejected  int
	StartRequested     int
	StartAccepted      int
	StartRejected      int
	StopRequested      int
	StopAccepted       int
	StopRejected       int

	SkippedConsecutive int
	SkippedTotal       int

	StartDate   time.Time
	StopDate    time.Time
	LastRunDate time.Time
	StoppedDate time.Time

	running bool
}

// Generator owns the per-connector loops for a single station, keyed by
// connector id (0 is never driven — the virtual connector carries no
// transactions).
type Generator struct {
	mu    sync.Mutex
	stats map[int]*SessionStats
	stop  map[int]context.CancelFunc
	wg    sync.WaitGroup

	station Station
	cfg     Config
	log     *slog.Logger
	rng     *rand.Rand
}

// New creates a generator for a station. cfg is validated; a configuration
// error here is fatal at station-startup time, matching spec §4.6.
func New(station Station, cfg Config, log *slog.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		stats:   make(map[int]*SessionStats),
		stop:    make(map[int]context.CancelFunc),
		station: station,
		cfg:     cfg,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Stats returns a snapshot of a connector's session stats, or nil if the
// connector has never been started.
func (g *Generator) Stats(connectorID int) *SessionStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.stats[connectorID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// Start begins (or resumes) the session loop for the given connector ids.
// Restarting a previously stopped connector re-initializes the session
// budget from its prior lastRunDate, so session time accumulates across
// runs (spec §4.6).
func (g *Generator) Start(ctx context.Context, connectorIDs []int) {
	for _, id := range connectorIDs {
		if id == 0 {
			continue
		}
		g.startOne(ctx, id)
	}
}

func (g *Generator) startOne(parent context.Context, connectorID int) {
	g.mu.Lock()
	if _, running := g.stop[connectorID]; running {
		g.mu.Unlock()
		return
	}
	stats, ok := g.stats[connectorID]
	if !ok {
		stats = &SessionStats{}
		g.stats[connectorID] = stats
	}

	var previousRunDuration time.Duration
	if !stats.LastRunDate.IsZero() && !stats.StartDate.IsZero() {
		previousRunDuration = stats.LastRunDate.Sub(stats.StartDate)
	}

	now := time.Now()
	stats.StartDate = now
	stats.StopDate = now.Add(time.Duration(g.cfg.StopAfterHours*3600*1000)*time.Millisecond - previousRunDuration)
	stats.running = true

	ctx, cancel := context.WithCancel(parent)
	g.stop[connectorID] = cancel
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.loop(ctx, connectorID, stats)
	}()
}

// Stop ends the session loops for the given connector ids (or all running
// ones if connectorIDs is empty). A stopped generator never re-enters the
// loop for that run.
func (g *Generator) Stop(connectorIDs []int) {
	g.mu.Lock()
	targets := connectorIDs
	if len(targets) == 0 {
		for id := range g.stop {
			targets = append(targets, id)
		}
	}
	for _, id := range targets {
		if cancel, ok := g.stop[id]; ok {
			cancel()
			delete(g.stop, id)
		}
		if s, ok := g.stats[id]; ok {
			s.running = false
			s.StoppedDate = time.Now()
		}
	}
	g.mu.Unlock()
}

// StopAll stops every running connector loop and waits for them to exit.
func (g *Generator) StopAll() {
	g.Stop(nil)
	g.wg.Wait()
}

func (g *Generator) loop(ctx context.Context, connectorID int, stats *SessionStats) {
	for {
		if ctx.Err() != nil {
			return
		}

		now := time.Now()
		if now.After(stats.StopDate) {
			g.log.Info("atg: session budget exhausted, stopping loop", "connector", connectorID)
			return
		}
		if !g.station.BootAccepted() || g.station.StationUnavailable() || g.station.ConnectorUnavailable(connectorID) {
			g.log.Info("atg: station or connector unavailable, stopping loop", "connector", connectorID)
			return
		}

		if !g.station.OutgoingReady() {
			if !sleepCtx(ctx, g.cfg.InitializationPoll) {
				return
			}
			continue
		}

		delay := g.randomBetween(g.cfg.MinDelayBetweenTransactions, g.cfg.MaxDelayBetweenTransactions)
		if !sleepCtx(ctx, time.Duration(delay)*time.Second) {
			return
		}

		g.mu.Lock()
		stats.LastRunDate = time.Now()
		g.mu.Unlock()

		if g.rng.Float64() >= g.cfg.ProbabilityOfStart {
			g.mu.Lock()
			stats.SkippedConsecutive++
			stats.SkippedTotal++
			g.mu.Unlock()
			continue
		}

		g.mu.Lock()
		stats.SkippedConsecutive = 0
		g.mu.Unlock()

		g.runSession(ctx, connectorID, stats)
	}
}

func (g *Generator) runSession(ctx context.Context, connectorID int, stats *SessionStats) {
	idTag, haveIdTag := g.station.NextIdTag()

	if haveIdTag && g.cfg.RequireAuthorize {
		g.mu.Lock()
		stats.AuthorizeRequested++
		g.mu.Unlock()

		accepted, err := g.station.Authorize(ctx, connectorID, idTag)
		if err != nil {
			g.log.Warn("atg: authorize failed", "connector", connectorID, "error", err)
			return
		}
		g.mu.Lock()
		if accepted {
			stats.AuthorizeAccepted++
		} else {
			stats.AuthorizeRejected++
		}
		g.mu.Unlock()
		if !accepted {
			return
		}
	}

	g.mu.Lock()
	stats.StartRequested++
	g.mu.Unlock()

	startIdTag := ""
	if haveIdTag {
		startIdTag = idTag
	}
	accepted, transactionID, err := g.station.StartTransaction(ctx, connectorID, startIdTag)
	if err != nil {
		g.log.Warn("atg: start transaction failed", "connector", connectorID, "error", err)
		return
	}
	g.mu.Lock()
	if accepted {
		stats.StartAccepted++
	} else {
		stats.StartRejected++
	}
	g.mu.Unlock()
	if !accepted {
		return
	}

	duration := g.randomBetween(g.cfg.MinDurationSeconds, g.cfg.MaxDurationSeconds)
	if !sleepCtx(ctx, time.Duration(duration)*time.Second) {
		return
	}

	g.mu.Lock()
	stats.StopRequested++
	g.mu.Unlock()

	if err := g.station.StopTransaction(ctx, connectorID, transactionID, "Local"); err != nil {
		g.log.Warn("atg: stop transaction failed", "connector", connectorID, "error", err)
		g.mu.Lock()
		stats.StopRejected++
		g.mu.Unlock()
		return
	}
	g.mu.Lock()
	stats.StopAccepted++
	g.mu.Unlock()
}

func (g *Generator) randomBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + g.rng.Intn(max-min+1)
}

// sleepCtx sleeps for d or returns false early if ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
