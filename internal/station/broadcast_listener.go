package station

import (
	"context"
	"encoding/json"

	"github.com/evfleet/ocppsim/internal/broadcast"
)

// ListenBroadcast subscribes this station to the control-plane bus and, for
// every request that applies to it (spec §4.8's hashIds filtering), runs
// the command through HandleControlCommand and publishes a StationResult
// as the matching response envelope. ListenBroadcast returns immediately;
// the listening goroutine it starts exits once ctx is cancelled or the
// request channel closes.
func (s *Supervisor) ListenBroadcast(ctx context.Context, bus broadcast.Bus) {
	reqCh, unsubscribe := bus.SubscribeRequests()

	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-reqCh:
				if !ok {
					return
				}
				s.handleBroadcastRequest(ctx, bus, req)
			}
		}
	}()
}

func (s *Supervisor) handleBroadcastRequest(ctx context.Context, bus broadcast.Bus, req broadcast.RequestEnvelope) {
	if !broadcast.AppliesTo(req.Payload, s.Info.HashID, s.log) {
		return
	}

	cleaned, err := broadcast.CleanPayload(req.Procedure, req.Payload)
	if err != nil {
		cleaned = req.Payload
	}

	resp, handlerErr := s.HandleControlCommand(ctx, req.Procedure, cleaned)
	result := broadcast.StationResult{
		HashID:   s.Info.HashID,
		Command:  req.Procedure,
		Response: resp,
	}
	if handlerErr != nil {
		result.Error = handlerErr.Error()
	}

	data, err := json.Marshal(result)
	if err != nil {
		s.log.Warn("broadcast: failed to marshal station result", "error", err)
		return
	}
	bus.PublishResponse(broadcast.ResponseEnvelope{UUID: req.UUID, Response: data})
}
