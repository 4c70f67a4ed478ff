package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkoenig/runbox/pkg/api"
)

// Executor runs a single execution request. *engine.Engine satisfies this.
type Executor interface {
	Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error)
}

// PoolStatus reports worker states for health endpoints.
// *pool.Manager satisfies this.
type PoolStatus interface {
	WorkerStates() []api.WorkerState
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize    int64
	MetricsEnabled bool
	MetricsPath    string
	Logger         *slog.Logger
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
		MetricsPath: "/metrics",
	}
}

// Adapter serves the execution API over HTTP. It routes requests to the
// engine and serializes results.
type Adapter struct {
	executor Executor
	pool     PoolStatus
	mux      *http.ServeMux
	config   Config
}

// NewAdapter creates an HTTP adapter for the given executor. The pool
// status source is optional; when nil, /healthz omits worker states and
// /readyz always reports ready.
func NewAdapter(executor Executor, pool PoolStatus, cfg Config) *Adapter {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = DefaultConfig().MetricsPath
	}

	a := &Adapter{
		executor: executor,
		pool:     pool,
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/execute", a.handleExecute)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	if cfg.MetricsEnabled {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	return a
}

// Handler returns the http.Handler for this adapter with the default
// middleware chain applied. Use this to integrate with an http.Server or
// test with httptest.
func (a *Adapter) Handler() http.Handler {
	var h http.Handler = a.mux
	h = Logging(a.config.Logger)(h)
	h = RequestID(h)
	h = Recovery(a.config.Logger)(h)
	return h
}

// handleExecute handles POST /v1/execute.
func (a *Adapter) handleExecute(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		WriteError(w, http.StatusUnsupportedMediaType,
			"protocol", "Content-Type must be application/json", false)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteError(w, http.StatusRequestEntityTooLarge,
				"protocol", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize), false)
			return
		}
		WriteError(w, http.StatusBadRequest,
			"protocol", "invalid JSON: "+err.Error(), false)
		return
	}

	result, err := a.executor.Execute(r.Context(), &req)
	if err != nil {
		WriteExecError(w, err)
		return
	}

	// Execution failures (Success=false) are results, not transport errors.
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status  string         `json:"status"`
	Workers map[string]int `json:"workers,omitempty"`
}

// handleHealthz handles GET /healthz. The server is live as long as it can
// answer; worker states are reported for visibility.
func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.pool != nil {
		resp.Workers = make(map[string]int)
		for _, s := range a.pool.WorkerStates() {
			resp.Workers[string(s)]++
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleReadyz handles GET /readyz. Ready means at least one worker can
// accept work right now or soon (READY or BUSY).
func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.pool != nil {
		available := 0
		for _, s := range a.pool.WorkerStates() {
			if s == api.WorkerReady || s == api.WorkerBusy {
				available++
			}
		}
		if available == 0 {
			WriteError(w, http.StatusServiceUnavailable,
				"warming_up", "no workers available", true)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
