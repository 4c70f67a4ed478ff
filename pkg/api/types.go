package api

import (
	"encoding/json"
	"time"
)

// ExecutionRequest describes one code execution. It is created per call and
// discarded after the result is delivered.
type ExecutionRequest struct {
	// Code is the program text to run.
	Code string `json:"code"`

	// SessionID scopes persisted files and session state. Callers must not
	// issue two concurrent requests for the same session ID; the core does
	// not serialize them.
	SessionID string `json:"session_id"`

	// Stateful requests restore the prior session blob before running and
	// capture an updated blob afterwards.
	Stateful bool `json:"stateful,omitempty"`

	// SessionBlob is the opaque namespace snapshot from a previous stateful
	// execution on this session, if any.
	SessionBlob []byte `json:"session_blob,omitempty"`

	// InputFiles are materialized into the interpreter's filesystem view
	// before the code runs, keyed by absolute path.
	InputFiles map[string][]byte `json:"input_files,omitempty"`

	// Timeout bounds the execution; zero means the configured default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ChangedFile is one file an execution created or modified, with its full
// content at completion.
type ChangedFile struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// ExecutionResult is the outcome of one execution.
type ExecutionResult struct {
	Success bool `json:"success"`

	// Stdout is the captured standard output with package-manager noise
	// lines stripped.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error. Execution failures and session
	// codec failures are reported here.
	Stderr string `json:"stderr"`

	// ReturnValue is the JSON encoding of the final expression value, if any.
	ReturnValue json.RawMessage `json:"return_value,omitempty"`

	// ChangedFiles lists every file the execution created or modified.
	// Always empty when Success is false, regardless of what the code wrote
	// before failing.
	ChangedFiles []ChangedFile `json:"changed_files,omitempty"`

	// SessionBlob and SessionMetadata carry the updated namespace snapshot
	// for stateful executions. Metadata always includes "last_modified".
	SessionBlob     []byte            `json:"session_blob,omitempty"`
	SessionMetadata map[string]string `json:"session_metadata,omitempty"`

	// Elapsed is the wall-clock execution duration.
	Elapsed time.Duration `json:"elapsed"`
}

// WorkerState is the lifecycle state of a pooled worker process.
type WorkerState string

const (
	WorkerStarting   WorkerState = "STARTING"
	WorkerReady      WorkerState = "READY"
	WorkerBusy       WorkerState = "BUSY"
	WorkerUnhealthy  WorkerState = "UNHEALTHY"
	WorkerRestarting WorkerState = "RESTARTING"
	WorkerTerminated WorkerState = "TERMINATED"
)

// validTransitions encodes the worker state machine. TERMINATED is absorbing
// and reachable from every state.
var validTransitions = map[WorkerState][]WorkerState{
	WorkerStarting:   {WorkerReady},
	WorkerReady:      {WorkerBusy, WorkerUnhealthy},
	WorkerBusy:       {WorkerReady, WorkerUnhealthy},
	WorkerUnhealthy:  {WorkerRestarting},
	WorkerRestarting: {WorkerStarting},
}

// CanTransition reports whether moving from one worker state to another is
// allowed by the lifecycle state machine.
func CanTransition(from, to WorkerState) bool {
	if to == WorkerTerminated {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HealthStatus is the response of a worker health probe.
type HealthStatus struct {
	Status       string `json:"status"`
	UptimeMs     int64  `json:"uptimeMs"`
	RequestCount int64  `json:"requestCount"`
}

// SessionState is the captured interpreter namespace for one session: an
// opaque blob plus metadata, persisted by the caller between requests.
type SessionState struct {
	Blob     []byte            `json:"blob"`
	Metadata map[string]string `json:"metadata"`
}

// MetadataLastModified is the metadata key carrying the RFC 3339 timestamp
// of the most recent capture.
const MetadataLastModified = "last_modified"
