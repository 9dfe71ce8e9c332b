package station

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/evfleet/ocppsim/internal/connector"
	"github.com/evfleet/ocppsim/internal/ocpp"
)

// registerHandlers wires the OCPP 1.6 incoming action table (spec §4.4)
// into the dispatcher. Each handler is a thin adapter from the generic
// json.RawMessage payload to a typed request/response pair.
func (s *Supervisor) registerHandlers() {
	s.disp.Handle(ocpp.ActionGetConfiguration, s.handleGetConfiguration)
	s.disp.Handle(ocpp.ActionChangeConfiguration, s.handleChangeConfiguration)
	s.disp.Handle(ocpp.ActionReset, s.handleReset)
	s.disp.Handle(ocpp.ActionClearCache, s.handleClearCache)
	s.disp.Handle(ocpp.ActionChangeAvailability, s.handleChangeAvailability)
	s.disp.Handle(ocpp.ActionUnlockConnector, s.handleUnlockConnector)
	s.disp.Handle(ocpp.ActionSetChargingProfile, s.handleSetChargingProfile)
	s.disp.Handle(ocpp.ActionClearChargingProfile, s.handleClearChargingProfile)
	s.disp.Handle(ocpp.ActionRemoteStartTransaction, s.handleRemoteStartTransaction)
	s.disp.Handle(ocpp.ActionRemoteStopTransaction, s.handleRemoteStopTransaction)
	s.disp.Handle(ocpp.ActionGetDiagnostics, s.handleGetDiagnostics)
	s.disp.Handle(ocpp.ActionTriggerMessage, s.handleTriggerMessage)
	s.disp.Handle(ocpp.ActionDataTransfer, s.handleDataTransfer)

	s.disp.OnComplete(ocpp.ActionBootNotification, s.onBootNotificationComplete)
}

func (s *Supervisor) handleGetConfiguration(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.GetConfigurationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(req.Key) == 0 {
		resp := ocpp.GetConfigurationResponse{}
		keys := make([]string, 0, len(s.configKeys))
		for k := range s.configKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			resp.ConfigurationKey = append(resp.ConfigurationKey, s.configKeys[k])
		}
		return resp, nil
	}

	resp := ocpp.GetConfigurationResponse{}
	for _, k := range req.Key {
		if kv, ok := s.configKeys[k]; ok {
			resp.ConfigurationKey = append(resp.ConfigurationKey, kv)
		} else {
			resp.UnknownKey = append(resp.UnknownKey, k)
		}
	}
	return resp, nil
}

func (s *Supervisor) handleChangeConfiguration(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.ChangeConfigurationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kv, known := s.configKeys[req.Key]
	if !known || s.readOnly[req.Key] {
		return ocpp.ChangeConfigurationResponse{Status: ocpp.ConfigurationRejected}, nil
	}

	kv.Value = req.Value
	s.configKeys[req.Key] = kv
	return ocpp.ChangeConfigurationResponse{Status: ocpp.ConfigurationAccepted}, nil
}

func (s *Supervisor) handleReset(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.ResetRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}
	go func() {
		_ = s.Stop(context.Background())
	}()
	return ocpp.ResetResponse{Status: "Accepted"}, nil
}

func (s *Supervisor) handleClearCache(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	s.mu.Lock()
	s.idTagPos = 0
	s.mu.Unlock()
	return ocpp.ClearCacheResponse{Status: "Accepted"}, nil
}

func (s *Supervisor) handleChangeAvailability(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.ChangeAvailabilityRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}

	c := s.connectors[req.ConnectorId]
	if c == nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrPropertyConstraintViolation, fmt.Sprintf("unknown connectorId %d", req.ConnectorId))
	}

	target := connector.Operative
	if req.Type == ocpp.AvailabilityInoperative {
		target = connector.Inoperative
	}

	switch c.RequestAvailabilityChange(target) {
	case connector.AvailabilityChangeRejected:
		return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityChangeRejected}, nil
	case connector.AvailabilityChangeScheduled:
		return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityChangeScheduled}, nil
	default:
		return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityChangeAccepted}, nil
	}
}

func (s *Supervisor) handleUnlockConnector(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.UnlockConnectorRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}
	if s.connectors[req.ConnectorId] == nil {
		return ocpp.UnlockConnectorResponse{Status: "NotSupported"}, nil
	}
	return ocpp.UnlockConnectorResponse{Status: "Unlocked"}, nil
}

// validateChargingSchedule enforces the charging-profile invariants from
// spec §3: schedule periods must be sorted by startPeriod with the first at
// 0, and a Recurring profile must carry a recurrencyKind and startSchedule.
func validateChargingSchedule(profile ocpp.ChargingProfile) error {
	periods := profile.ChargingSchedule.ChargingSchedulePeriod
	if len(periods) == 0 {
		return fmt.Errorf("charging schedule has no periods")
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].StartPeriod < periods[j].StartPeriod })
	if periods[0].StartPeriod != 0 {
		return fmt.Errorf("first charging schedule period must start at 0")
	}
	if profile.ChargingProfileKind == "Recurring" {
		if profile.RecurrencyKind == "" || profile.ChargingSchedule.StartSchedule == "" {
			return fmt.Errorf("recurring profile requires recurrencyKind and startSchedule")
		}
	}
	return nil
}

func (s *Supervisor) handleSetChargingProfile(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.SetChargingProfileRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}

	c := s.connectors[req.ConnectorId]
	if c == nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrPropertyConstraintViolation, fmt.Sprintf("unknown connectorId %d", req.ConnectorId))
	}

	if err := validateChargingSchedule(req.CsChargingProfiles); err != nil {
		return ocpp.SetChargingProfileResponse{Status: "Rejected"}, nil
	}

	profiles := c.ChargingProfiles()
	kept := profiles[:0]
	for _, p := range profiles {
		if p.StackLevel != req.CsChargingProfiles.StackLevel {
			kept = append(kept, p)
		}
	}
	kept = append(kept, req.CsChargingProfiles)
	c.SetChargingProfiles(kept)

	return ocpp.SetChargingProfileResponse{Status: "Accepted"}, nil
}

func (s *Supervisor) handleClearChargingProfile(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.ClearChargingProfileRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}

	cleared := false
	for _, c := range s.connectors {
		if req.ConnectorId != nil && c.ID != *req.ConnectorId {
			continue
		}
		profiles := c.ChargingProfiles()
		var kept []ocpp.ChargingProfile
		for _, p := range profiles {
			if req.Id != nil && p.ChargingProfileId != *req.Id {
				kept = append(kept, p)
				continue
			}
			if req.StackLevel != nil && p.StackLevel != *req.StackLevel {
				kept = append(kept, p)
				continue
			}
			if req.ChargingProfilePurpose != "" && p.ChargingProfilePurpose != req.ChargingProfilePurpose {
				kept = append(kept, p)
				continue
			}
			cleared = true
		}
		c.SetChargingProfiles(kept)
	}

	if !cleared {
		return ocpp.ClearChargingProfileResponse{Status: "Unknown"}, nil
	}
	return ocpp.ClearChargingProfileResponse{Status: "Accepted"}, nil
}

func (s *Supervisor) handleRemoteStartTransaction(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.RemoteStartTransactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}

	connectorID := 1
	if req.ConnectorId != nil {
		connectorID = *req.ConnectorId
	}

	if s.Info.Features.RemoteAuthorization {
		if _, local := s.localAuth[req.IdTag]; !local {
			return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
		}
	}

	c := s.connectors[connectorID]
	if c == nil || c.Status() != connector.StatusAvailable {
		return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
	}

	go func() {
		time.Sleep(startTransactionTimeout)
		if _, _, err := s.StartTransaction(context.Background(), connectorID, req.IdTag); err != nil {
			s.log.Warn("ocpp: delayed remote-start StartTransaction failed", "connector", connectorID, "error", err)
		}
	}()

	return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopAccepted}, nil
}

func (s *Supervisor) handleRemoteStopTransaction(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.RemoteStopTransactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}

	var target *connector.Connector
	for _, c := range s.connectors {
		if c.HasActiveTransaction() && c.TransactionID() == req.TransactionId {
			target = c
			break
		}
	}
	if target == nil {
		return ocpp.RemoteStopTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
	}

	connectorID := target.ID
	go func() {
		if err := s.StopTransaction(context.Background(), connectorID, req.TransactionId, "Remote"); err != nil {
			s.log.Warn("ocpp: remote-stop StopTransaction failed", "connector", connectorID, "error", err)
		}
	}()

	return ocpp.RemoteStopTransactionResponse{Status: ocpp.RemoteStartStopAccepted}, nil
}

func (s *Supervisor) handleGetDiagnostics(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.GetDiagnosticsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}
	return ocpp.GetDiagnosticsResponse{FileName: fmt.Sprintf("%s_diagnostics.zip", s.Info.StationID)}, nil
}

// handleTriggerMessage fans a TriggerMessage request into the matching
// direct emitter, grounded on the trigger-dispatch pattern of sending the
// requested message type on demand outside its normal schedule.
func (s *Supervisor) handleTriggerMessage(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req ocpp.TriggerMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ocpp.NewOCPPError(ocpp.ErrFormationViolation, err.Error())
	}

	connectorID := 0
	if req.ConnectorId != nil {
		connectorID = *req.ConnectorId
	}

	trigger := func() {
		switch req.RequestedMessage {
		case "BootNotification":
			s.BootNotification(context.Background())
		case "Heartbeat":
			s.Heartbeat(context.Background())
		case "StatusNotification":
			s.emitStatusNotification(context.Background(), connectorID)
		case "MeterValues":
			s.MeterValues(context.Background(), connectorID)
		}
	}

	switch req.RequestedMessage {
	case "BootNotification", "Heartbeat", "StatusNotification", "MeterValues":
		go trigger()
		return ocpp.TriggerMessageResponse{Status: ocpp.TriggerAccepted}, nil
	default:
		return ocpp.TriggerMessageResponse{Status: ocpp.TriggerNotImplemented}, nil
	}
}

// handleDataTransfer answers an inbound vendor DataTransfer. This simulator
// recognizes no vendor extensions, so every request is answered
// UnknownVendorId, matching the pack's OCPP handler default-case behavior.
func (s *Supervisor) handleDataTransfer(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return ocpp.DataTransferResponse{Status: ocpp.DataTransferUnknownVendorId}, nil
}

func (s *Supervisor) onBootNotificationComplete(requestPayload, responsePayload json.RawMessage) {
	var resp ocpp.BootNotificationResponse
	if err := json.Unmarshal(responsePayload, &resp); err != nil {
		return
	}
	if resp.Status == ocpp.RegistrationAccepted {
		s.mu.Lock()
		s.heartbeatSecs = resp.Interval
		s.mu.Unlock()
	}
}
