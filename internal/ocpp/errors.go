package ocpp

import (
	"encoding/json"
	"fmt"
)

// ErrorCode enumerates the OCPP 1.6-J CALLERROR codes.
type ErrorCode string

const (
	ErrGenericError                  ErrorCode = "GenericError"
	ErrInternalError                 ErrorCode = "InternalError"
	ErrNotImplemented                ErrorCode = "NotImplemented"
	ErrNotSupported                  ErrorCode = "NotSupported"
	ErrProtocolError                 ErrorCode = "ProtocolError"
	ErrSecurityError                 ErrorCode = "SecurityError"
	ErrFormationViolation            ErrorCode = "FormationViolation"
	ErrPropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	ErrOccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	ErrTypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
)

// OCPPError is a domain error carried in a CALLERROR frame or surfaced to a
// request's caller when the remote end rejects a CALL.
type OCPPError struct {
	Code        ErrorCode
	Description string
	Details     json.RawMessage
}

func (e *OCPPError) Error() string {
	return fmt.Sprintf("ocpp: %s: %s", e.Code, e.Description)
}

// NewOCPPError builds an OCPPError with an empty details object.
func NewOCPPError(code ErrorCode, description string) *OCPPError {
	return &OCPPError{Code: code, Description: description, Details: json.RawMessage("{}")}
}

// Transport-level sentinels surfaced by the request registry and outgoing
// service. These are not OCPP protocol errors; they describe why a CALL
// never got an OCPP-level answer at all.
var (
	ErrTimeout      = fmt.Errorf("ocpp: request timed out")
	ErrCanceled     = fmt.Errorf("ocpp: request canceled")
	ErrNotConnected = fmt.Errorf("ocpp: not connected")
	ErrDuplicateID  = fmt.Errorf("ocpp: duplicate message id")
	ErrUnknownID    = fmt.Errorf("ocpp: unknown response message id")
	ErrBlocked      = fmt.Errorf("ocpp: station is in the blocked state (boot notification rejected)")
)
