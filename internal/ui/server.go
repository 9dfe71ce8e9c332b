package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evfleet/ocppsim/internal/bootstrap"
	"github.com/evfleet/ocppsim/internal/broadcast"
	"github.com/evfleet/ocppsim/internal/config"
	"github.com/evfleet/ocppsim/internal/monitoring"
)

// Server is the control-plane UI server (C11): it owns the fleet-admin
// procedure handlers, the broadcast-channel dispatch path for station-
// addressed commands, and the shared Aggregator both feed into. WS and
// HTTP transports (ws.go, http.go) both call Dispatch.
type Server struct {
	cfg        *config.Config
	fleet      *bootstrap.Fleet
	bus        broadcast.Bus
	aggregator *Aggregator
	metrics    *monitoring.Metrics
	log        *slog.Logger

	aggregationTimeout time.Duration
}

// NewServer wires a Server and starts the aggregator's response-subscriber
// loop against bus. Call Close to unsubscribe.
func NewServer(cfg *config.Config, fleet *bootstrap.Fleet, bus broadcast.Bus, metrics *monitoring.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:                cfg,
		fleet:              fleet,
		bus:                bus,
		aggregator:         NewAggregator(),
		metrics:            metrics,
		log:                log,
		aggregationTimeout: time.Duration(cfg.UIServer.AggregationTimeoutMs) * time.Millisecond,
	}
	s.subscribeResponses()
	return s
}

func (s *Server) subscribeResponses() {
	respCh, _ := s.bus.SubscribeResponses()
	go func() {
		for resp := range respCh {
			s.aggregator.HandleResponse(resp)
		}
	}()
}

// Dispatch routes one UI request (procedure + payload) to either a
// fleet-admin handler or the broadcast channel, recording UI-facing
// Prometheus metrics around the call.
func (s *Server) Dispatch(ctx context.Context, requestUUID, procedure string, payload json.RawMessage) (AggregateResult, error) {
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	start := time.Now()
	result, err := s.dispatch(ctx, requestUUID, procedure, payload)
	if s.metrics != nil {
		status := result.Status
		if err != nil {
			status = "error"
		}
		s.metrics.RecordUIRequest(procedure, status)
		s.metrics.RecordAggregate(time.Since(start).Seconds())
	}
	return result, err
}

func (s *Server) dispatch(ctx context.Context, requestUUID, procedure string, payload json.RawMessage) (AggregateResult, error) {
	switch procedure {
	case "simulatorState":
		return s.handleSimulatorState(ctx, payload)
	case "startSimulator":
		return s.handleStartSimulator(ctx, payload)
	case "stopSimulator":
		return s.handleStopSimulator(ctx, payload)
	case "listTemplates":
		return s.handleListTemplates(ctx, payload)
	case "listChargingStations":
		return s.handleListChargingStations(ctx, payload)
	case "addChargingStations":
		return s.handleAddChargingStations(ctx, payload)
	case "deleteChargingStations":
		return s.handleDeleteChargingStations(ctx, payload)
	case "performanceStatistics":
		return s.handlePerformanceStatistics(ctx, payload)
	default:
		if !stationCommands[procedure] {
			return AggregateResult{}, fmt.Errorf("ui: unknown procedure %q", procedure)
		}
		return s.dispatchStationCommand(requestUUID, procedure, payload), nil
	}
}

func (s *Server) dispatchStationCommand(requestUUID, procedure string, payload json.RawMessage) AggregateResult {
	expected := broadcast.ExpectedStationCount(payload, len(s.fleet.List()))
	done := s.aggregator.Await(requestUUID, procedure, expected, s.aggregationTimeout)

	if expected > 0 {
		s.bus.PublishRequest(broadcast.RequestEnvelope{UUID: requestUUID, Procedure: procedure, Payload: payload})
	}

	return <-done
}

// NewRequestUUID generates the UUIDv4 correlation id for a freshly received
// HTTP request (WebSocket clients instead supply their own in the envelope).
func NewRequestUUID() string {
	return uuid.NewString()
}
