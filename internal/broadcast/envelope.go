// Package broadcast implements the control plane's shared pub/sub channel
// (C10): request/response envelopes, hashId-based filtering, and payload
// cleanup, shared by every station supervisor and the UI server.
package broadcast

import (
	"encoding/json"
	"fmt"
)

// RequestEnvelope is the broadcast channel's 3-tuple request message
// (spec §4.8): (uuid, procedureName, payload). Arity distinguishes it from
// a ResponseEnvelope on the wire.
type RequestEnvelope struct {
	UUID      string
	Procedure string
	Payload   json.RawMessage
}

// ResponseEnvelope is the broadcast channel's 2-tuple response message:
// (uuid, responsePayload).
type ResponseEnvelope struct {
	UUID     string
	Response json.RawMessage
}

// MarshalJSON encodes a RequestEnvelope as the 3-element array
// [uuid, procedureName, payload].
func (r RequestEnvelope) MarshalJSON() ([]byte, error) {
	payload := r.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]interface{}{r.UUID, r.Procedure, payload})
}

// UnmarshalJSON decodes a 3-element array into a RequestEnvelope.
func (r *RequestEnvelope) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("broadcast: decode request envelope: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("broadcast: request envelope has %d elements, want 3", len(raw))
	}
	if err := json.Unmarshal(raw[0], &r.UUID); err != nil {
		return fmt.Errorf("broadcast: decode request uuid: %w", err)
	}
	if err := json.Unmarshal(raw[1], &r.Procedure); err != nil {
		return fmt.Errorf("broadcast: decode procedure name: %w", err)
	}
	r.Payload = raw[2]
	return nil
}

// MarshalJSON encodes a ResponseEnvelope as the 2-element array
// [uuid, responsePayload].
func (r ResponseEnvelope) MarshalJSON() ([]byte, error) {
	response := r.Response
	if response == nil {
		response = json.RawMessage("{}")
	}
	return json.Marshal([]interface{}{r.UUID, response})
}

// UnmarshalJSON decodes a 2-element array into a ResponseEnvelope.
func (r *ResponseEnvelope) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("broadcast: decode response envelope: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("broadcast: response envelope has %d elements, want 2", len(raw))
	}
	if err := json.Unmarshal(raw[0], &r.UUID); err != nil {
		return fmt.Errorf("broadcast: decode response uuid: %w", err)
	}
	r.Response = raw[1]
	return nil
}
