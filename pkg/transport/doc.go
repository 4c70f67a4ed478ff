// Package transport serves the runbox execution API over HTTP.
//
// The transport layer bridges external clients and the execution engine.
// It deserializes incoming requests into the core types defined in pkg/api,
// dispatches them to the engine, and serializes results back as JSON.
//
// # Endpoints
//
//   - POST /v1/execute runs a piece of code and returns the execution result.
//   - GET /healthz reports liveness and per-worker pool state.
//   - GET /readyz reports readiness (at least one worker accepted work).
//   - GET /metrics exposes Prometheus metrics when enabled.
//
// # Middleware
//
// The handler chain wraps the mux with panic recovery, request ID
// assignment (X-Request-ID), and structured logging via log/slog.
// Authentication is layered on by the caller (see pkg/auth).
package transport
