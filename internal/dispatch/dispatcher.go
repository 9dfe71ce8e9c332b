// Package dispatch implements the incoming dispatcher (C5) and outgoing
// service (C6): routing decoded OCPP-J frames to action handlers or to the
// request registry, and issuing outgoing CALLs with response
// post-processing.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/registry"
)

// HandlerFunc answers an incoming CALL's payload. Returning an *ocpp.OCPPError
// produces a CALLERROR with that error's code/description/details; any other
// non-nil error produces a CALLERROR InternalError; a nil error produces a
// CALLRESULT wrapping the returned response.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (response interface{}, err error)

// PostProcessor runs after an outgoing CALL completes successfully, letting
// the station supervisor mutate connector/session state from the response
// (e.g. BootNotification caching the accepted heartbeat interval).
type PostProcessor func(requestPayload, responsePayload json.RawMessage)

// Dispatcher routes both directions of OCPP-J traffic for a single station:
// CALLs in, against a registered handler table; CALLRESULTs/CALLERRORs in,
// against the request registry and post-processor table.
type Dispatcher struct {
	handlers       map[string]HandlerFunc
	postProcessors map[string]PostProcessor
	reg            *registry.Registry
	log            *slog.Logger
}

// New creates a dispatcher bound to a station's request registry.
func New(reg *registry.Registry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		handlers:       make(map[string]HandlerFunc),
		postProcessors: make(map[string]PostProcessor),
		reg:            reg,
		log:            log,
	}
}

// Handle registers the handler for an incoming action.
func (d *Dispatcher) Handle(action string, fn HandlerFunc) {
	d.handlers[action] = fn
}

// OnComplete registers the post-processor invoked after a successful
// outgoing CALL of the given command.
func (d *Dispatcher) OnComplete(command string, fn PostProcessor) {
	d.postProcessors[command] = fn
}

// Dispatch processes one decoded frame. For a CALL it returns the response
// frame (CALLRESULT or CALLERROR) to be sent back; for a CALLRESULT or
// CALLERROR it resolves the registry entry and returns nil (nothing to send
// back for a response to our own request).
func (d *Dispatcher) Dispatch(ctx context.Context, f *ocpp.Frame) *ocpp.Frame {
	switch f.Type {
	case ocpp.MessageTypeCall:
		return d.dispatchCall(ctx, f)
	case ocpp.MessageTypeCallResult:
		d.dispatchCallResult(f)
		return nil
	case ocpp.MessageTypeCallError:
		d.dispatchCallError(f)
		return nil
	default:
		d.log.Warn("ocpp: dispatch received frame of unexpected type", "type", f.Type)
		return nil
	}
}

func (d *Dispatcher) dispatchCall(ctx context.Context, f *ocpp.Frame) *ocpp.Frame {
	handler, ok := d.handlers[f.Action]
	if !ok {
		return ocpp.NewCallError(f.MessageID, ocpp.NewOCPPError(ocpp.ErrNotImplemented, "no handler for action "+f.Action))
	}

	response, err := handler(ctx, f.Payload)
	if err != nil {
		var ocppErr *ocpp.OCPPError
		if errors.As(err, &ocppErr) {
			return ocpp.NewCallError(f.MessageID, ocppErr)
		}
		d.log.Error("ocpp: handler failed", "action", f.Action, "error", err)
		return ocpp.NewCallError(f.MessageID, ocpp.NewOCPPError(ocpp.ErrInternalError, err.Error()))
	}

	result, encErr := ocpp.NewCallResult(f.MessageID, response)
	if encErr != nil {
		d.log.Error("ocpp: failed to encode handler response", "action", f.Action, "error", encErr)
		return ocpp.NewCallError(f.MessageID, ocpp.NewOCPPError(ocpp.ErrInternalError, encErr.Error()))
	}
	return result
}

func (d *Dispatcher) dispatchCallResult(f *ocpp.Frame) {
	command, requestPayload, ok := d.reg.Lookup(f.MessageID)
	if !ok {
		d.reg.Complete(f.MessageID, f.Payload) // logs UnknownResponseId itself
		return
	}
	// The post-processor runs before Complete so a caller waiting in
	// OutgoingService.Request observes its effects once the future resolves.
	if pp, ok := d.postProcessors[command]; ok {
		pp(requestPayload, f.Payload)
	}
	d.reg.Complete(f.MessageID, f.Payload)
}

func (d *Dispatcher) dispatchCallError(f *ocpp.Frame) {
	callErr := &ocpp.OCPPError{
		Code:        ocpp.ErrorCode(f.ErrorCode),
		Description: f.ErrorDesc,
		Details:     f.ErrorDetails,
	}
	d.reg.Fail(f.MessageID, callErr)
}
