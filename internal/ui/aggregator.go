// Package ui implements the control plane's UI server (C11): WebSocket and
// HTTP surfaces sharing one request/response envelope semantics, backed by
// the broadcast channel (C10) for station-addressed commands and the fleet
// (C12) directly for fleet-admin commands.
package ui

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/evfleet/ocppsim/internal/broadcast"
)

// AggregateResult is the single reply the UI server sends per inbound
// request uuid, once every expected station has answered or the
// aggregation timeout elapses (spec §4.8 "Expected-response accounting").
type AggregateResult struct {
	Status           string          `json:"status"`
	HashIdsSucceeded []string        `json:"hashIdsSucceeded,omitempty"`
	HashIdsFailed    []string        `json:"hashIdsFailed,omitempty"`
	ResponsesFailed  []FailureDetail `json:"responsesFailed,omitempty"`

	// Data carries a fleet-admin procedure's result body (simulatorState,
	// listTemplates, listChargingStations, performanceStatistics); empty
	// for station-addressed commands, whose per-station results live in
	// HashIdsSucceeded/HashIdsFailed/ResponsesFailed instead.
	Data json.RawMessage `json:"data,omitempty"`
}

// FailureDetail describes one station's failed response, per spec §6's
// response-payload shape for failures.
type FailureDetail struct {
	HashID          string          `json:"hashId"`
	Command         string          `json:"command"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	CommandResponse json.RawMessage `json:"commandResponse,omitempty"`
}

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Aggregator accumulates StationResult responses keyed by request uuid
// until the expected count is reached or a per-request timeout elapses.
// Grounded on the teacher's circuitbreaker.Manager mutex-guarded registry
// shape, substituting "pending aggregation" for "pending breaker state."
type Aggregator struct {
	mu      sync.Mutex
	pending map[string]*pendingAggregate
}

type pendingAggregate struct {
	procedure string
	expected  int
	received  int
	succeeded []string
	failed    []string
	failures  []FailureDetail
	done      chan AggregateResult
	timer     *time.Timer
}

// NewAggregator builds an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{pending: make(map[string]*pendingAggregate)}
}

// Await registers uuid as awaiting expected station responses, returning a
// channel that receives exactly one AggregateResult. expected == 0 resolves
// immediately with an empty success (no stations to address).
func (a *Aggregator) Await(uuid, procedure string, expected int, timeout time.Duration) <-chan AggregateResult {
	pa := &pendingAggregate{procedure: procedure, expected: expected, done: make(chan AggregateResult, 1)}

	if expected <= 0 {
		pa.done <- AggregateResult{Status: statusSuccess}
		close(pa.done)
		return pa.done
	}

	a.mu.Lock()
	a.pending[uuid] = pa
	a.mu.Unlock()

	pa.timer = time.AfterFunc(timeout, func() { a.expire(uuid) })
	return pa.done
}

// HandleResponse is the broadcast bus's response-subscriber callback: it
// decodes a broadcast.StationResult from resp.Response, scores it via
// broadcast.EvaluateOutcome, and accumulates it under resp.UUID.
func (a *Aggregator) HandleResponse(resp broadcast.ResponseEnvelope) {
	var result broadcast.StationResult
	if err := json.Unmarshal(resp.Response, &result); err != nil {
		return
	}

	a.mu.Lock()
	pa, ok := a.pending[resp.UUID]
	if !ok {
		a.mu.Unlock()
		return
	}

	pa.received++
	var handlerErr error
	if result.Error != "" {
		handlerErr = errors.New(result.Error)
	}
	outcome := broadcast.EvaluateOutcome(result.Command, result.Response, handlerErr)
	if outcome == broadcast.OutcomeSuccess {
		pa.succeeded = append(pa.succeeded, result.HashID)
	} else {
		pa.failed = append(pa.failed, result.HashID)
		pa.failures = append(pa.failures, FailureDetail{
			HashID:          result.HashID,
			Command:         result.Command,
			ErrorMessage:    result.Error,
			CommandResponse: result.Response,
		})
	}

	complete := pa.received >= pa.expected
	if complete {
		delete(a.pending, resp.UUID)
	}
	a.mu.Unlock()

	if complete {
		emit(pa)
	}
}

func (a *Aggregator) expire(uuid string) {
	a.mu.Lock()
	pa, ok := a.pending[uuid]
	if ok {
		delete(a.pending, uuid)
	}
	a.mu.Unlock()
	if ok {
		emit(pa)
	}
}

func emit(pa *pendingAggregate) {
	if pa.timer != nil {
		pa.timer.Stop()
	}
	status := statusSuccess
	if len(pa.failed) > 0 || pa.received < pa.expected {
		status = statusFailure
	}
	pa.done <- AggregateResult{
		Status:           status,
		HashIdsSucceeded: pa.succeeded,
		HashIdsFailed:    pa.failed,
		ResponsesFailed:  pa.failures,
	}
	close(pa.done)
}
