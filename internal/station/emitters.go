package station

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/evfleet/ocppsim/internal/dispatch"
	"github.com/evfleet/ocppsim/internal/ocpp"
)

// The direct OCPP emitters exposed on the local command surface (spec
// §4.7). Each issues a CALL via the outgoing service and returns the typed
// response or an error.

func (s *Supervisor) BootNotification(ctx context.Context) (ocpp.BootNotificationResponse, error) {
	raw, err := s.out.Request(ctx, ocpp.ActionBootNotification, ocpp.BootNotificationRequest{
		ChargePointVendor:       s.Info.Vendor,
		ChargePointModel:        s.Info.Model,
		ChargePointSerialNumber: s.Info.SerialNumber,
		ChargeBoxSerialNumber:   s.Info.BoxSerialNumber,
		MeterType:               s.Info.MeterType,
		MeterSerialNumber:       s.Info.MeterSerialNumber,
	}, dispatch.RequestOptions{})
	if err != nil {
		return ocpp.BootNotificationResponse{}, err
	}
	var resp ocpp.BootNotificationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ocpp.BootNotificationResponse{}, fmt.Errorf("ocpp: decode BootNotification response: %w", err)
	}
	return resp, nil
}

func (s *Supervisor) Heartbeat(ctx context.Context) (ocpp.HeartbeatResponse, error) {
	raw, err := s.out.Request(ctx, ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{}, dispatch.RequestOptions{})
	if err != nil {
		return ocpp.HeartbeatResponse{}, err
	}
	var resp ocpp.HeartbeatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ocpp.HeartbeatResponse{}, fmt.Errorf("ocpp: decode Heartbeat response: %w", err)
	}
	return resp, nil
}

func (s *Supervisor) StatusNotification(ctx context.Context, connectorID int) error {
	s.emitStatusNotification(ctx, connectorID)
	return nil
}

// Authorize implements atg.Station.Authorize and the direct `authorize`
// command. A locally-authorized idTag (present in the template's local
// authorization list) never reaches the wire.
func (s *Supervisor) Authorize(ctx context.Context, connectorID int, idTag string) (bool, error) {
	if _, local := s.localAuth[idTag]; local {
		return true, nil
	}

	raw, err := s.out.Request(ctx, ocpp.ActionAuthorize, ocpp.AuthorizeRequest{IdTag: idTag}, dispatch.RequestOptions{})
	if err != nil {
		return false, err
	}
	var resp ocpp.AuthorizeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("ocpp: decode Authorize response: %w", err)
	}
	return resp.IdTagInfo.Status == ocpp.IdTagAccepted, nil
}

// StartTransaction implements atg.Station.StartTransaction and the direct
// `startTransaction` command.
func (s *Supervisor) StartTransaction(ctx context.Context, connectorID int, idTag string) (bool, int, error) {
	c := s.connectors[connectorID]
	if c == nil {
		return false, 0, fmt.Errorf("station %s: unknown connector %d", s.Info.HashID, connectorID)
	}
	if !c.PrepareRemoteStart(idTag, false) {
		return false, 0, nil
	}

	meterStart := c.EnergyRegister()
	raw, err := s.out.Request(ctx, ocpp.ActionStartTransaction, ocpp.StartTransactionRequest{
		ConnectorId: connectorID,
		IdTag:       idTag,
		MeterStart:  meterStart,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}, dispatch.RequestOptions{})
	if err != nil {
		c.RejectTransaction()
		return false, 0, err
	}

	var resp ocpp.StartTransactionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.RejectTransaction()
		return false, 0, fmt.Errorf("ocpp: decode StartTransaction response: %w", err)
	}

	if resp.IdTagInfo.Status != ocpp.IdTagAccepted {
		c.RejectTransaction()
		return false, 0, nil
	}

	c.BeginTransaction(resp.TransactionId, idTag, meterStart, time.Now())
	s.emitStatusNotification(ctx, connectorID)
	s.startMeterValuesLoop(context.Background(), connectorID)
	if s.metrics != nil {
		s.metrics.TransactionsActive.Inc()
	}
	return true, resp.TransactionId, nil
}

// StopTransaction implements atg.Station.StopTransaction and the direct
// `stopTransaction` command.
func (s *Supervisor) StopTransaction(ctx context.Context, connectorID, transactionID int, reason string) error {
	c := s.connectors[connectorID]
	if c == nil {
		return fmt.Errorf("station %s: unknown connector %d", s.Info.HashID, connectorID)
	}

	meterStop := c.EnergyRegister()
	_, err := s.out.Request(ctx, ocpp.ActionStopTransaction, ocpp.StopTransactionRequest{
		MeterStop:     meterStop,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TransactionId: transactionID,
		Reason:        reason,
	}, dispatch.RequestOptions{})
	if err != nil {
		return err
	}

	s.stopMeterValuesLoop(connectorID)
	c.EndTransaction()
	s.emitStatusNotification(ctx, connectorID)
	c.ResetAfterStop()
	s.emitStatusNotification(ctx, connectorID)
	if s.metrics != nil {
		s.metrics.TransactionsActive.Dec()
	}
	return nil
}

// MeterValues builds and sends a MeterValues payload for connectorID,
// implementing the sampled-value construction rule of spec §4.7.
func (s *Supervisor) MeterValues(ctx context.Context, connectorID int) error {
	c := s.connectors[connectorID]
	if c == nil {
		return fmt.Errorf("station %s: unknown connector %d", s.Info.HashID, connectorID)
	}

	intervalMs := s.meterValuesIntervalMs()
	increment := randomEnergyIncrement(s.Info.MaxPowerWatts, intervalMs)
	c.AccumulateEnergy(increment)

	now := time.Now().UTC().Format(time.RFC3339)
	sampleContext := "Sample.Periodic"
	sampled := []ocpp.SampledValue{
		{
			Value:     fmt.Sprintf("%d", c.EnergyRegister()),
			Context:   sampleContext,
			Measurand: "Energy.Active.Import.Register",
			Unit:      "Wh",
			Location:  "Outlet",
		},
	}
	if c.HasActiveTransaction() {
		sampled = append(sampled, ocpp.SampledValue{
			Value:     fmt.Sprintf("%d", boundedSoC()),
			Context:   sampleContext,
			Measurand: "SoC",
			Unit:      "Percent",
			Location:  "EV",
		})
	}

	var txID *int
	if c.HasActiveTransaction() {
		id := c.TransactionID()
		txID = &id
	}

	_, err := s.out.Request(ctx, ocpp.ActionMeterValues, ocpp.MeterValuesRequest{
		ConnectorId:   connectorID,
		TransactionId: txID,
		MeterValue: []ocpp.MeterValue{{
			Timestamp:    now,
			SampledValue: sampled,
		}},
	}, dispatch.RequestOptions{})
	return err
}

func boundedSoC() int {
	return rand.Intn(101)
}

func (s *Supervisor) meterValuesIntervalMs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kv, ok := s.configKeys["MeterValueSampleInterval"]; ok {
		var secs int
		if _, err := fmt.Sscanf(kv.Value, "%d", &secs); err == nil && secs > 0 {
			return secs * 1000
		}
	}
	return defaultMeterValuesInterval * 1000
}

// DiagnosticsStatusNotification reports diagnostics upload progress.
func (s *Supervisor) DiagnosticsStatusNotification(ctx context.Context, status string) error {
	_, err := s.out.Request(ctx, ocpp.ActionDiagnosticsStatusNotif, ocpp.DiagnosticsStatusNotificationRequest{
		Status: status,
	}, dispatch.RequestOptions{})
	return err
}

// FirmwareStatusNotification reports firmware download/install progress.
func (s *Supervisor) FirmwareStatusNotification(ctx context.Context, status string) error {
	_, err := s.out.Request(ctx, ocpp.ActionFirmwareStatusNotif, ocpp.FirmwareStatusNotificationRequest{
		Status: status,
	}, dispatch.RequestOptions{})
	return err
}

// DataTransfer issues a vendor DataTransfer CALL.
func (s *Supervisor) DataTransfer(ctx context.Context, vendorID, messageID, data string) (ocpp.DataTransferResponse, error) {
	raw, err := s.out.Request(ctx, ocpp.ActionDataTransfer, ocpp.DataTransferRequest{
		VendorId:  vendorID,
		MessageId: messageID,
		Data:      data,
	}, dispatch.RequestOptions{})
	if err != nil {
		return ocpp.DataTransferResponse{}, err
	}
	var resp ocpp.DataTransferResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ocpp.DataTransferResponse{}, fmt.Errorf("ocpp: decode DataTransfer response: %w", err)
	}
	return resp, nil
}
