package station

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/evfleet/ocppsim/internal/ocpp"
)

// controlPayload is the union of per-procedure fields the UI server's
// closed procedure set (spec §6) ever sends a station, after hashId(s)/
// connectorIds cleanup has already stripped the broadcast envelope fields
// a given command doesn't use.
type controlPayload struct {
	ConnectorID   *int   `json:"connectorId,omitempty"`
	ConnectorIDs  []int  `json:"connectorIds,omitempty"`
	IdTag         string `json:"idTag,omitempty"`
	TransactionID *int   `json:"transactionId,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Status        string `json:"status,omitempty"`
	VendorID      string `json:"vendorId,omitempty"`
	MessageID     string `json:"messageId,omitempty"`
	Data          string `json:"data,omitempty"`
	URL           string `json:"url,omitempty"`
}

// HandleControlCommand dispatches one control-plane procedure (spec §6's
// closed set, minus the fleet-wide admin procedures handled directly by the
// UI server) onto this station's local command surface, returning the raw
// JSON response body the broadcast channel publishes back (see
// internal/broadcast.StationResult).
func (s *Supervisor) HandleControlCommand(ctx context.Context, procedure string, payload json.RawMessage) (json.RawMessage, error) {
	var p controlPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("station %s: decode %s payload: %w", s.Info.HashID, procedure, err)
		}
	}

	connectorID := 1
	if p.ConnectorID != nil {
		connectorID = *p.ConnectorID
	}

	switch procedure {
	case "startChargingStation":
		url := p.URL
		if url == "" && len(s.Info.SupervisionURLs) > 0 {
			url = s.Info.SupervisionURLs[0]
		}
		return json.Marshal(struct{}{}), s.Start(ctx, url, authHeader(s.Info.Auth))

	case "stopChargingStation":
		return json.Marshal(struct{}{}), s.Stop(ctx)

	case "openConnection":
		url := p.URL
		if url == "" && len(s.Info.SupervisionURLs) > 0 {
			url = s.Info.SupervisionURLs[0]
		}
		return json.Marshal(struct{}{}), s.OpenConnection(ctx, url, authHeader(s.Info.Auth))

	case "closeConnection":
		s.CloseConnection()
		return json.Marshal(struct{}{}), nil

	case "startAutomaticTransactionGenerator":
		return json.Marshal(struct{}{}), s.StartATG(ctx, p.ConnectorIDs)

	case "stopAutomaticTransactionGenerator":
		return json.Marshal(struct{}{}), s.StopATG(p.ConnectorIDs)

	case "startTransaction":
		accepted, txID, err := s.StartTransaction(ctx, connectorID, p.IdTag)
		if err != nil {
			return nil, err
		}
		status := ocpp.IdTagBlocked
		if accepted {
			status = ocpp.IdTagAccepted
		}
		return json.Marshal(ocpp.StartTransactionResponse{
			TransactionId: txID,
			IdTagInfo:     ocpp.IdTagInfo{Status: status},
		})

	case "stopTransaction":
		transactionID := 0
		if p.TransactionID != nil {
			transactionID = *p.TransactionID
		}
		if err := s.StopTransaction(ctx, connectorID, transactionID, p.Reason); err != nil {
			return nil, err
		}
		return json.Marshal(ocpp.StopTransactionResponse{IdTagInfo: &ocpp.IdTagInfo{Status: ocpp.IdTagAccepted}})

	case "authorize":
		accepted, err := s.Authorize(ctx, connectorID, p.IdTag)
		if err != nil {
			return nil, err
		}
		status := ocpp.IdTagBlocked
		if accepted {
			status = ocpp.IdTagAccepted
		}
		return json.Marshal(ocpp.AuthorizeResponse{IdTagInfo: ocpp.IdTagInfo{Status: status}})

	case "bootNotification":
		resp, err := s.BootNotification(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case "statusNotification":
		if err := s.StatusNotification(ctx, connectorID); err != nil {
			return nil, err
		}
		return json.Marshal(struct{}{})

	case "heartbeat":
		resp, err := s.Heartbeat(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case "meterValues":
		if err := s.MeterValues(ctx, connectorID); err != nil {
			return nil, err
		}
		return json.Marshal(struct{}{})

	case "dataTransfer":
		resp, err := s.DataTransfer(ctx, p.VendorID, p.MessageID, p.Data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case "diagnosticsStatusNotification":
		return json.Marshal(struct{}{}), s.DiagnosticsStatusNotification(ctx, p.Status)

	case "firmwareStatusNotification":
		return json.Marshal(struct{}{}), s.FirmwareStatusNotification(ctx, p.Status)

	case "setSupervisionUrl":
		if p.URL == "" {
			return nil, fmt.Errorf("station %s: setSupervisionUrl requires a url", s.Info.HashID)
		}
		s.mu.Lock()
		s.Info.SupervisionURLs = append([]string{p.URL}, s.Info.SupervisionURLs...)
		s.mu.Unlock()
		return json.Marshal(struct{}{}), nil

	default:
		return nil, fmt.Errorf("station %s: unknown control procedure %q", s.Info.HashID, procedure)
	}
}

func authHeader(auth Auth) http.Header {
	header := http.Header{}
	if auth.Username == "" {
		return header
	}
	token := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
	header.Set("Authorization", "Basic "+token)
	return header
}
