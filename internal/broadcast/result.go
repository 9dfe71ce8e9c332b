package broadcast

import "encoding/json"

// StationResult is the payload a station supervisor publishes as its
// ResponseEnvelope for one control-plane command: enough for the UI
// server's aggregator to attribute the reply to a station and score it
// via EvaluateOutcome.
type StationResult struct {
	HashID   string          `json:"hashId"`
	Command  string          `json:"command"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}
