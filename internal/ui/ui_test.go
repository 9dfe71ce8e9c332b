package ui

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evfleet/ocppsim/internal/bootstrap"
	"github.com/evfleet/ocppsim/internal/broadcast"
	"github.com/evfleet/ocppsim/internal/config"
)

func newTestServer() (*Server, *bootstrap.Fleet, broadcast.Bus) {
	cfg := &config.Config{}
	cfg.UIServer.AggregationTimeoutMs = 200
	fleet := bootstrap.New(cfg, nil, nil)
	bus := broadcast.NewInMemoryBus(16)
	fleet.SetBus(bus)
	return NewServer(cfg, fleet, bus, nil, nil), fleet, bus
}

func TestDispatchSimulatorState(t *testing.T) {
	s, _, _ := newTestServer()
	result, err := s.Dispatch(context.Background(), "u1", "simulatorState", nil)
	require.NoError(t, err)
	assert.Equal(t, statusSuccess, result.Status)

	var data map[string]string
	require.NoError(t, json.Unmarshal(result.Data, &data))
	assert.Equal(t, "Stopped", data["state"])
}

func TestDispatchUnknownProcedure(t *testing.T) {
	s, _, _ := newTestServer()
	_, err := s.Dispatch(context.Background(), "u1", "notARealProcedure", nil)
	assert.Error(t, err, "expected an error for an unknown procedure")
}

func TestDispatchListChargingStationsEmpty(t *testing.T) {
	s, _, _ := newTestServer()
	result, err := s.Dispatch(context.Background(), "u1", "listChargingStations", nil)
	require.NoError(t, err)

	var data map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(result.Data, &data))
	assert.Empty(t, data["chargingStations"])
}

func TestDispatchPerformanceStatisticsEmptyFleet(t *testing.T) {
	s, _, _ := newTestServer()
	result, err := s.Dispatch(context.Background(), "u1", "performanceStatistics", nil)
	require.NoError(t, err)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(result.Data, &data))
	assert.Equal(t, float64(0), data["stationCount"])
	assert.Empty(t, data["stations"])
}

func TestDispatchStationCommandNoStationsSucceedsImmediately(t *testing.T) {
	s, _, _ := newTestServer()
	result, err := s.Dispatch(context.Background(), "u1", "heartbeat", nil)
	require.NoError(t, err)
	assert.Equal(t, statusSuccess, result.Status, "no stations means nothing to await")
}

func TestDispatchStationCommandAggregatesResponses(t *testing.T) {
	s, _, bus := newTestServer()

	payload := json.RawMessage(`{"hashIds":["s1","s2"]}`)

	done := make(chan AggregateResult, 1)
	go func() {
		result, err := s.Dispatch(context.Background(), "u2", "heartbeat", payload)
		assert.NoError(t, err)
		done <- result
	}()

	time.Sleep(20 * time.Millisecond)
	publish := func(hashID string, ok bool) {
		resp := broadcast.StationResult{HashID: hashID, Command: "heartbeat"}
		if ok {
			resp.Response = json.RawMessage(`{"currentTime":"2026-07-31T00:00:00Z"}`)
		} else {
			resp.Response = json.RawMessage(`{}`)
		}
		data, _ := json.Marshal(resp)
		bus.PublishResponse(broadcast.ResponseEnvelope{UUID: "u2", Response: data})
	}
	publish("s1", true)
	publish("s2", false)

	select {
	case result := <-done:
		assert.Equal(t, statusFailure, result.Status, "s2 had no currentTime")
		assert.Equal(t, []string{"s1"}, result.HashIdsSucceeded)
		assert.Equal(t, []string{"s2"}, result.HashIdsFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for aggregated result")
	}
}

func TestAggregatorExpiresOnTimeout(t *testing.T) {
	a := NewAggregator()
	done := a.Await("u3", "heartbeat", 2, 30*time.Millisecond)

	select {
	case result := <-done:
		assert.Equal(t, statusFailure, result.Status, "missing responses at timeout should fail the aggregate")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregator expiry")
	}
}

func TestRateLimiterAllowsWithinWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	allowed, _ := rl.Allow("client-a")
	assert.True(t, allowed, "first request should be allowed")

	allowed, _ = rl.Allow("client-a")
	assert.True(t, allowed, "second request should be allowed")

	allowed, _ = rl.Allow("client-a")
	assert.False(t, allowed, "third request should be rate limited")
}

func TestAuthenticatorDisabledAllowsAll(t *testing.T) {
	a, err := NewAuthenticator(config.UIAuthConfig{Enabled: false})
	require.NoError(t, err)
	assert.True(t, a.Check("anyone", "anything"), "disabled authenticator should allow all")
}

func TestAuthenticatorVerifiesPassword(t *testing.T) {
	a, err := NewAuthenticator(config.UIAuthConfig{Enabled: true, Username: "admin", Password: "secret"})
	require.NoError(t, err)
	assert.True(t, a.Check("admin", "secret"), "valid credentials should pass")
	assert.False(t, a.Check("admin", "wrong"), "invalid password should fail")
	assert.False(t, a.Check("someone-else", "secret"), "invalid username should fail")
}
