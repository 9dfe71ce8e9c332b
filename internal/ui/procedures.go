package ui

import (
	"context"
	"encoding/json"
	"fmt"
)

// stationCommands is the subset of the closed procedure set (spec §6) that
// addresses individual stations through the broadcast channel rather than
// the fleet directly.
var stationCommands = map[string]bool{
	"startChargingStation":               true,
	"stopChargingStation":                true,
	"openConnection":                     true,
	"closeConnection":                    true,
	"startAutomaticTransactionGenerator": true,
	"stopAutomaticTransactionGenerator":  true,
	"setSupervisionUrl":                  true,
	"startTransaction":                   true,
	"stopTransaction":                    true,
	"authorize":                          true,
	"bootNotification":                   true,
	"statusNotification":                 true,
	"heartbeat":                          true,
	"meterValues":                        true,
	"dataTransfer":                       true,
	"diagnosticsStatusNotification":      true,
	"firmwareStatusNotification":         true,
}

type addStationsPayload struct {
	TemplateFile     string `json:"templateFile"`
	NumberOfStations int    `json:"numberOfStations"`
}

type deleteStationsPayload struct {
	HashIDs []string `json:"hashIds"`
}

func (s *Server) handleSimulatorState(context.Context, json.RawMessage) (AggregateResult, error) {
	return ok(map[string]string{"state": s.fleet.State().String()}), nil
}

func (s *Server) handleStartSimulator(ctx context.Context, _ json.RawMessage) (AggregateResult, error) {
	if err := s.fleet.Start(ctx); err != nil {
		return failWith(err), nil
	}
	return ok(nil), nil
}

func (s *Server) handleStopSimulator(ctx context.Context, _ json.RawMessage) (AggregateResult, error) {
	if err := s.fleet.Stop(ctx); err != nil {
		return failWith(err), nil
	}
	return ok(nil), nil
}

func (s *Server) handleListTemplates(context.Context, json.RawMessage) (AggregateResult, error) {
	files := make([]string, 0, len(s.cfg.StationTemplateURLs))
	for _, t := range s.cfg.StationTemplateURLs {
		files = append(files, t.File)
	}
	return ok(map[string]interface{}{"templates": files}), nil
}

func (s *Server) handleListChargingStations(context.Context, json.RawMessage) (AggregateResult, error) {
	summaries := s.fleet.Summaries()
	stations := make([]map[string]interface{}, 0, len(summaries))
	for _, sm := range summaries {
		stations = append(stations, map[string]interface{}{
			"hashId":       sm.HashID,
			"stationId":    sm.StationID,
			"templateName": sm.TemplateName,
			"connected":    sm.Connected,
		})
	}
	return ok(map[string]interface{}{"chargingStations": stations}), nil
}

func (s *Server) handleAddChargingStations(ctx context.Context, payload json.RawMessage) (AggregateResult, error) {
	var p addStationsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return failWith(fmt.Errorf("ui: decode addChargingStations payload: %w", err)), nil
	}
	if err := s.fleet.Add(ctx, p.TemplateFile, p.NumberOfStations); err != nil {
		return failWith(err), nil
	}
	return ok(nil), nil
}

func (s *Server) handleDeleteChargingStations(ctx context.Context, payload json.RawMessage) (AggregateResult, error) {
	var p deleteStationsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return failWith(fmt.Errorf("ui: decode deleteChargingStations payload: %w", err)), nil
	}

	var failed []string
	var failures []FailureDetail
	for _, id := range p.HashIDs {
		if err := s.fleet.Delete(ctx, id); err != nil {
			failed = append(failed, id)
			failures = append(failures, FailureDetail{HashID: id, Command: "deleteChargingStations", ErrorMessage: err.Error()})
		}
	}
	if len(failures) > 0 {
		return AggregateResult{Status: statusFailure, HashIdsFailed: failed, ResponsesFailed: failures}, nil
	}
	return AggregateResult{Status: statusSuccess, HashIdsSucceeded: p.HashIDs}, nil
}

func (s *Server) handlePerformanceStatistics(context.Context, json.RawMessage) (AggregateResult, error) {
	stats := s.fleet.Statistics()
	stations := make([]map[string]interface{}, 0, len(stats))
	for _, st := range stats {
		connectors := make([]map[string]interface{}, 0, len(st.Connectors))
		for _, c := range st.Connectors {
			connectors = append(connectors, map[string]interface{}{
				"connectorId": c.ConnectorID,
				"energyWh":    c.EnergyWh,
			})
		}
		stations = append(stations, map[string]interface{}{
			"hashId":          st.HashID,
			"pendingRequests": st.PendingRequests,
			"bufferedFrames":  st.BufferedFrames,
			"connectors":      connectors,
		})
	}
	return ok(map[string]interface{}{"stationCount": len(stats), "stations": stations}), nil
}

func ok(data interface{}) AggregateResult {
	result := AggregateResult{Status: statusSuccess}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			result.Data = raw
		}
	}
	return result
}

func failWith(err error) AggregateResult {
	return AggregateResult{
		Status:          statusFailure,
		ResponsesFailed: []FailureDetail{{ErrorMessage: err.Error()}},
	}
}
