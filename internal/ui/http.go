package ui

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer is the POST /ui/{version}/{procedureName} transport (spec
// §4.8/§6). Grounded on the teacher's internal/api/server.go gorilla/mux
// router-plus-CORS-middleware shape.
type HTTPServer struct {
	ui          *Server
	auth        *Authenticator
	limiter     *RateLimiter
	maxBody     int64
	gzipMinSize int
	reg         prometheus.Gatherer
	log         *slog.Logger
}

// NewHTTPServer builds the HTTP transport. reg may be nil to omit /metrics.
func NewHTTPServer(ui *Server, auth *Authenticator, maxBody int64, gzipMinSize int, reg prometheus.Gatherer, log *slog.Logger) *HTTPServer {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPServer{
		ui:          ui,
		auth:        auth,
		limiter:     NewRateLimiter(ui.cfg.UIServer.RateLimit.MaxRequests, time.Duration(ui.cfg.UIServer.RateLimit.WindowMs)*time.Millisecond),
		maxBody:     maxBody,
		gzipMinSize: gzipMinSize,
		reg:         reg,
		log:         log,
	}
}

// Handler returns the fully wired http.Handler (router + middleware).
func (h *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(h.corsMiddleware)
	r.Use(h.rateLimitMiddleware)

	r.HandleFunc("/ui/{version}/{procedure}", h.handleProcedure).Methods(http.MethodPost)
	if h.reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (h *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if allowed, retryAfter := h.limiter.Allow(key); !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			http.Error(w, `{"status":"failure","errorMessage":"too many requests"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *HTTPServer) handleProcedure(w http.ResponseWriter, r *http.Request) {
	if !h.auth.CheckHTTP(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="ocppsim"`)
		http.Error(w, `{"status":"failure","errorMessage":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	procedure := vars["procedure"]

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, `{"status":"failure","errorMessage":"payload too large or malformed"}`, http.StatusBadRequest)
		return
	}

	requestUUID := NewRequestUUID()
	ctx, cancel := context.WithTimeout(r.Context(), h.ui.aggregationTimeout+5*time.Second)
	defer cancel()

	result, err := h.ui.Dispatch(ctx, requestUUID, procedure, payload)
	if err != nil {
		h.writeJSON(w, r, http.StatusInternalServerError, map[string]string{"status": "failure", "errorMessage": err.Error()})
		return
	}

	statusCode := http.StatusOK
	if result.Status == statusFailure {
		statusCode = http.StatusBadRequest
	}
	h.writeJSON(w, r, statusCode, result)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, `{"status":"failure","errorMessage":"encode error"}`, http.StatusInternalServerError)
		return
	}

	if len(data) >= h.gzipMinSize && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		gw := gzip.NewWriter(w)
		defer gw.Close()
		gw.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(data)
}
