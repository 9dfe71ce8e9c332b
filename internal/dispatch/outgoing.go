package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evfleet/ocppsim/internal/circuitbreaker"
	"github.com/evfleet/ocppsim/internal/monitoring"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/registry"
)

// Sender is the connection manager's outward-facing seam: write a frame to
// the socket if connected, or report ocpp.ErrNotConnected.
type Sender interface {
	Send(f *ocpp.Frame) error
	Connected() bool
}

// RequestOptions tunes a single outgoing CALL.
type RequestOptions struct {
	// Timeout overrides the service's default deadline for this call.
	Timeout time.Duration
	// SkipBufferingOnError fails the call fast with ocpp.ErrNotConnected
	// instead of queuing it in the outbound buffer when disconnected.
	SkipBufferingOnError bool
}

// BlockedFunc reports whether the station is currently in the OCPP blocked
// state (spec §4.3: BootNotification Rejected). While blocked, Request
// refuses every CALL except BootNotification itself, so the boot handshake
// can keep retrying.
type BlockedFunc func() bool

// OutgoingService issues CALL frames on behalf of a station, registering
// them in the request registry and resolving or rejecting the caller when a
// matching CALLRESULT/CALLERROR arrives (or the deadline passes).
type OutgoingService struct {
	reg            *registry.Registry
	buf            *registry.Buffer
	sender         Sender
	dispatcher     *Dispatcher
	defaultTimeout time.Duration
	breakers       *circuitbreaker.StationBreakers
	metrics        *monitoring.Metrics
	blocked        BlockedFunc
}

// SetMetrics attaches a Prometheus metrics sink. Optional; a nil sink (the
// zero value) disables recording, used by tests that don't care about it.
func (s *OutgoingService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// SetBlockedFunc attaches the blocked-state predicate. Optional; a nil
// predicate (the default, and what tests that build an OutgoingService
// directly get) never blocks.
func (s *OutgoingService) SetBlockedFunc(f BlockedFunc) {
	s.blocked = f
}

// NewOutgoingService builds the outgoing half of C6, sharing the registry
// and buffer with the connection manager and the dispatcher's post-
// processor table.
func NewOutgoingService(reg *registry.Registry, buf *registry.Buffer, sender Sender, dispatcher *Dispatcher, defaultTimeout time.Duration) *OutgoingService {
	return &OutgoingService{
		reg:            reg,
		buf:            buf,
		sender:         sender,
		dispatcher:     dispatcher,
		defaultTimeout: defaultTimeout,
		breakers:       circuitbreaker.NewStationBreakers(),
	}
}

// Request issues cmd with payload, awaiting the matching response. On
// success it returns the raw CALLRESULT payload, having already invoked any
// registered post-processor. On failure it returns the transport or OCPP
// error (ocpp.ErrTimeout, ocpp.ErrNotConnected, ocpp.ErrCanceled, or an
// *ocpp.OCPPError from a CALLERROR).
func (s *OutgoingService) Request(ctx context.Context, cmd string, payload interface{}, opts RequestOptions) (json.RawMessage, error) {
	if cmd != ocpp.ActionBootNotification && s.blocked != nil && s.blocked() {
		if s.metrics != nil {
			s.metrics.RecordRequest(cmd, "blocked", 0)
		}
		return nil, fmt.Errorf("ocpp: %s: %w", cmd, ocpp.ErrBlocked)
	}

	breaker := s.breakers.Guard(cmd)
	if err := breaker.Allow(); err != nil {
		if s.metrics != nil {
			s.metrics.RecordRequest(cmd, "circuit_open", 0)
		}
		return nil, fmt.Errorf("ocpp: %s: %w", cmd, err)
	}

	start := time.Now()
	result, err := s.request(ctx, cmd, payload, opts)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		breaker.Execute(func() (interface{}, error) { return nil, err })
		if s.metrics != nil {
			s.metrics.RecordRequest(cmd, "error", elapsed)
		}
	} else {
		breaker.Execute(func() (interface{}, error) { return result, nil })
		if s.metrics != nil {
			s.metrics.RecordRequest(cmd, "accepted", elapsed)
		}
	}
	return result, err
}

// request performs the actual CALL issuance and response wait, unguarded by
// the circuit breaker so a breaker trip never touches the registry.
func (s *OutgoingService) request(ctx context.Context, cmd string, payload interface{}, opts RequestOptions) (json.RawMessage, error) {
	frame, err := ocpp.NewCall(cmd, payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: build call %s: %w", cmd, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	deadline := time.Now().Add(timeout)

	future, err := s.reg.Register(frame.MessageID, cmd, frame.Payload, deadline)
	if err != nil {
		return nil, err
	}

	if s.sender.Connected() {
		if sendErr := s.sender.Send(frame); sendErr != nil {
			s.buf.Enqueue(frame, deadline)
		}
	} else {
		if opts.SkipBufferingOnError {
			s.reg.Fail(frame.MessageID, ocpp.ErrNotConnected)
			return nil, ocpp.ErrNotConnected
		}
		s.buf.Enqueue(frame, deadline)
	}

	// A background sweep ticker normally expires stale registry entries, but
	// Request also arms a local deadline timer so a caller is never left
	// waiting past its own timeout even if no sweep has run yet.
	deadlineTimer := time.NewTimer(time.Until(deadline))
	defer deadlineTimer.Stop()

	select {
	case <-future.Done():
		// The post-processor for cmd already ran inside dispatchCallResult,
		// which observed the raw CALLRESULT frame before this future resolved.
		return future.Wait()
	case <-ctx.Done():
		s.reg.Fail(frame.MessageID, ctx.Err())
		return nil, ctx.Err()
	case <-deadlineTimer.C:
		s.reg.Sweep(time.Now())
		select {
		case <-future.Done():
			result, waitErr := future.Wait()
			if waitErr != nil {
				return nil, waitErr
			}
			return result, nil
		default:
			s.reg.Fail(frame.MessageID, ocpp.ErrTimeout)
			return nil, ocpp.ErrTimeout
		}
	}
}
