// Package ocpp implements the OCPP-J message envelope: the four-element
// JSON array wire format shared by CALL, CALLRESULT and CALLERROR frames.
package ocpp

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageType is the first element of every OCPP-J frame.
type MessageType int

const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeCall:
		return "CALL"
	case MessageTypeCallResult:
		return "CALLRESULT"
	case MessageTypeCallError:
		return "CALLERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// FormatError is returned by Decode when the input is not a well-formed
// OCPP-J frame.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "ocpp: " + e.Reason }

// Frame is the decoded form of a single OCPP-J message, regardless of type.
// Exactly one of Action/Payload, Payload, or ErrorCode/.../ErrorDetails is
// populated depending on Type.
type Frame struct {
	Type          MessageType
	MessageID     string
	Action        string          // CALL only
	Payload       json.RawMessage // CALL (request) or CALLRESULT (response)
	ErrorCode     string          // CALLERROR only
	ErrorDesc     string          // CALLERROR only
	ErrorDetails  json.RawMessage // CALLERROR only
}

// NewCall builds a CALL frame with a fresh UUIDv4 message id.
func NewCall(action string, payload interface{}) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: marshal call payload: %w", err)
	}
	return &Frame{
		Type:      MessageTypeCall,
		MessageID: uuid.NewString(),
		Action:    action,
		Payload:   raw,
	}, nil
}

// NewCallResult builds a CALLRESULT frame answering messageID.
func NewCallResult(messageID string, payload interface{}) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: marshal result payload: %w", err)
	}
	return &Frame{
		Type:      MessageTypeCallResult,
		MessageID: messageID,
		Payload:   raw,
	}, nil
}

// NewCallError builds a CALLERROR frame answering messageID.
func NewCallError(messageID string, err *OCPPError) *Frame {
	details := err.Details
	if details == nil {
		details = json.RawMessage("{}")
	}
	return &Frame{
		Type:         MessageTypeCallError,
		MessageID:    messageID,
		ErrorCode:    string(err.Code),
		ErrorDesc:    err.Description,
		ErrorDetails: details,
	}
}

// Decode parses a raw OCPP-J frame from the wire. It fails with a
// *FormatError on a non-array root, unknown type id, wrong arity for the
// type id, non-string messageId, or a messageId that does not look like a
// UUID.
func Decode(data []byte) (*Frame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &FormatError{Reason: "root is not a JSON array: " + err.Error()}
	}
	if len(raw) < 3 {
		return nil, &FormatError{Reason: "frame has fewer than 3 elements"}
	}

	var typeID int
	if err := json.Unmarshal(raw[0], &typeID); err != nil {
		return nil, &FormatError{Reason: "element 0 is not a numeric message type"}
	}

	var messageID string
	if err := json.Unmarshal(raw[1], &messageID); err != nil {
		return nil, &FormatError{Reason: "element 1 is not a string messageId"}
	}
	if !looksLikeUUID(messageID) {
		return nil, &FormatError{Reason: "messageId is not UUID-shaped: " + messageID}
	}

	switch MessageType(typeID) {
	case MessageTypeCall:
		if len(raw) != 4 {
			return nil, &FormatError{Reason: "CALL frame must have 4 elements"}
		}
		var action string
		if err := json.Unmarshal(raw[2], &action); err != nil {
			return nil, &FormatError{Reason: "CALL element 2 is not a string action"}
		}
		return &Frame{
			Type:      MessageTypeCall,
			MessageID: messageID,
			Action:    action,
			Payload:   raw[3],
		}, nil

	case MessageTypeCallResult:
		if len(raw) != 3 {
			return nil, &FormatError{Reason: "CALLRESULT frame must have 3 elements"}
		}
		return &Frame{
			Type:      MessageTypeCallResult,
			MessageID: messageID,
			Payload:   raw[2],
		}, nil

	case MessageTypeCallError:
		// CALL_RESULT_ERROR (2.x profiles) and CALLERROR share this shape.
		if len(raw) != 5 {
			return nil, &FormatError{Reason: "CALLERROR frame must have 5 elements"}
		}
		var code, desc string
		if err := json.Unmarshal(raw[2], &code); err != nil {
			return nil, &FormatError{Reason: "CALLERROR element 2 is not a string errorCode"}
		}
		if err := json.Unmarshal(raw[3], &desc); err != nil {
			return nil, &FormatError{Reason: "CALLERROR element 3 is not a string errorDescription"}
		}
		return &Frame{
			Type:         MessageTypeCallError,
			MessageID:    messageID,
			ErrorCode:    code,
			ErrorDesc:    desc,
			ErrorDetails: raw[4],
		}, nil

	default:
		return nil, &FormatError{Reason: fmt.Sprintf("unknown message type id %d", typeID)}
	}
}

// Encode serializes a well-formed Frame back to the wire array form.
// Encode always succeeds for a Frame built by NewCall/NewCallResult/
// NewCallError or returned by Decode.
func Encode(f *Frame) ([]byte, error) {
	switch f.Type {
	case MessageTypeCall:
		payload := f.Payload
		if payload == nil {
			payload = json.RawMessage("{}")
		}
		return json.Marshal([]interface{}{int(f.Type), f.MessageID, f.Action, payload})
	case MessageTypeCallResult:
		payload := f.Payload
		if payload == nil {
			payload = json.RawMessage("{}")
		}
		return json.Marshal([]interface{}{int(f.Type), f.MessageID, payload})
	case MessageTypeCallError:
		details := f.ErrorDetails
		if details == nil {
			details = json.RawMessage("{}")
		}
		return json.Marshal([]interface{}{int(f.Type), f.MessageID, f.ErrorCode, f.ErrorDesc, details})
	default:
		return nil, fmt.Errorf("ocpp: cannot encode frame with type %s", f.Type)
	}
}

func looksLikeUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
