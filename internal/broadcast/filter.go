package broadcast

import (
	"encoding/json"
	"log/slog"
)

// hashIdsPayload is the subset of a request payload's fields this package
// inspects; every other procedure-specific field passes through raw.
type hashIdsPayload struct {
	HashID       *string  `json:"hashId,omitempty"`
	HashIDs      []string `json:"hashIds,omitempty"`
	ConnectorIDs []int    `json:"connectorIds,omitempty"`
}

// AppliesTo reports whether a station with the given hashId should process
// this request (spec §4.8 "Request filtering"): hashIds absent means
// broadcast to all; present means contains-own-hashId; the deprecated
// singular hashId is logged and ignored.
func AppliesTo(payload json.RawMessage, stationHashID string, log *slog.Logger) bool {
	var p hashIdsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return true
	}
	if p.HashID != nil {
		if log != nil {
			log.Warn("broadcast: deprecated singular hashId field ignored", "value", *p.HashID)
		}
	}
	if len(p.HashIDs) == 0 {
		return true
	}
	for _, id := range p.HashIDs {
		if id == stationHashID {
			return true
		}
	}
	return false
}

// ExpectedStationCount returns how many stations a request with this
// payload expects responses from: len(hashIds) if given, else total, the
// total station count in the fleet (spec §4.8 "Expected-response
// accounting").
func ExpectedStationCount(payload json.RawMessage, total int) int {
	var p hashIdsPayload
	if err := json.Unmarshal(payload, &p); err != nil || len(p.HashIDs) == 0 {
		return total
	}
	return len(p.HashIDs)
}

// procedures for which connectorIds survives payload cleanup (spec §4.8
// "strips connectorIds for every command other than start/stopATG").
const (
	procedureStartATG = "startAutomaticTransactionGenerator"
	procedureStopATG  = "stopAutomaticTransactionGenerator"
)

// CleanPayload strips hashId/hashIds always, and strips connectorIds unless
// procedure is one of the ATG start/stop commands (spec §4.8 "Per-command
// payload cleanup"), returning the payload a station handler should act on.
func CleanPayload(procedure string, payload json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return payload, nil // non-object payloads pass through unchanged
	}

	delete(fields, "hashId")
	delete(fields, "hashIds")
	if procedure != procedureStartATG && procedure != procedureStopATG {
		delete(fields, "connectorIds")
	}

	return json.Marshal(fields)
}
