package ui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evfleet/ocppsim/internal/broadcast"
)

// basicAuthSubprotocolPrefix marks the WebSocket subprotocol entry carrying
// protocol-Basic-Auth credentials (spec §4.8 "protocol-Basic-Auth"):
// "basic.<base64(username:password)>".
const basicAuthSubprotocolPrefix = "basic."

// WSServer is the WebSocket control-plane transport: each connection is a
// long-lived request/response loop over the shared envelope shapes.
// Grounded on the teacher's internal/websocket/dag_streamer.go hub
// lifecycle, with registration/broadcast-to-all-clients replaced by one
// request/response exchange per connection (the UI protocol is not a
// fan-out stream).
type WSServer struct {
	ui       *Server
	auth     *Authenticator
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWSServer builds the WebSocket transport.
func NewWSServer(ui *Server, auth *Authenticator, log *slog.Logger) *WSServer {
	if log == nil {
		log = slog.Default()
	}
	return &WSServer{
		ui:      ui,
		auth:    auth,
		limiter: NewRateLimiter(ui.cfg.UIServer.RateLimit.MaxRequests, time.Duration(ui.cfg.UIServer.RateLimit.WindowMs)*time.Millisecond),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"ui1.6"},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Handler upgrades and serves one WS control-plane connection per request.
func (ws *WSServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed, _ := ws.limiter.Allow(clientIP(r)); !allowed {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}

		if !ws.checkSubprotocolAuth(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.log.Warn("ui: websocket upgrade failed", "error", err)
			return
		}
		go ws.serve(conn)
	})
}

func (ws *WSServer) checkSubprotocolAuth(r *http.Request) bool {
	if !ws.auth.enabled {
		return true
	}
	for _, proto := range websocket.Subprotocols(r) {
		if strings.HasPrefix(proto, basicAuthSubprotocolPrefix) {
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(proto, basicAuthSubprotocolPrefix))
			if err != nil {
				return false
			}
			parts := strings.SplitN(string(decoded), ":", 2)
			if len(parts) != 2 {
				return false
			}
			return ws.auth.Check(parts[0], parts[1])
		}
	}
	return false
}

func (ws *WSServer) serve(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req broadcast.RequestEnvelope
		if err := json.Unmarshal(data, &req); err != nil {
			ws.log.Warn("ui: malformed websocket request envelope", "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), ws.ui.aggregationTimeout+5*time.Second)
		result, err := ws.ui.Dispatch(ctx, req.UUID, req.Procedure, req.Payload)
		cancel()
		if err != nil {
			result = AggregateResult{Status: statusFailure, ResponsesFailed: []FailureDetail{{Command: req.Procedure, ErrorMessage: err.Error()}}}
		}

		respData, err := json.Marshal(result)
		if err != nil {
			ws.log.Warn("ui: failed to marshal aggregate result", "error", err)
			continue
		}

		resp := broadcast.ResponseEnvelope{UUID: req.UUID, Response: respData}
		out, err := json.Marshal(resp)
		if err != nil {
			ws.log.Warn("ui: failed to marshal response envelope", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}
