// Package api defines the shared types of the runbox execution service:
// the caller-facing execution request and result, the worker state machine,
// session state, and the error kinds surfaced across the pool/worker
// boundary.
package api
