package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dop251/goja"

	"github.com/jkoenig/runbox/pkg/api"
	"github.com/jkoenig/runbox/pkg/debug"
	"github.com/jkoenig/runbox/pkg/session"
	"github.com/jkoenig/runbox/pkg/tracking"
	"github.com/jkoenig/runbox/pkg/wire"
)

// executeParams is the wire form of an execution request. Input files use
// the inline byte-array form; files staged by a preceding loadBundle call
// are merged in as well.
type executeParams struct {
	Code        string                    `json:"code"`
	SessionID   string                    `json:"session_id"`
	Stateful    bool                      `json:"stateful,omitempty"`
	SessionBlob []byte                    `json:"session_blob,omitempty"`
	InputFiles  map[string]wire.ByteArray `json:"input_files,omitempty"`
	TimeoutMs   int64                     `json:"timeout_ms,omitempty"`
}

// executeResult is the wire form of an execution result.
type executeResult struct {
	Success         bool              `json:"success"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	ReturnValue     json.RawMessage   `json:"return_value,omitempty"`
	ChangedFiles    []api.ChangedFile `json:"changed_files,omitempty"`
	SessionBlob     []byte            `json:"session_blob,omitempty"`
	SessionMetadata map[string]string `json:"session_metadata,omitempty"`
	ElapsedMs       int64             `json:"elapsed_ms"`
}

// execute runs one request through the fixed sequence: restore session,
// materialize files, install hook, run, capture session, collect changed
// files, filter output noise. The timeout in the params is not interpreted
// here; the interpreter is cooperative and the host enforces deadlines by
// replacing the process.
func (w *Worker) execute(rawParams json.RawMessage) *executeResult {
	var params executeParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return &executeResult{Success: false, Stderr: "invalid execute params: " + err.Error()}
	}

	var stdout, stderr bytes.Buffer
	w.rt.SetOutput(&stdout, &stderr)
	start := time.Now()

	// Step 1: restore prior session state. Diagnostic output from the
	// restore machinery is suppressed; the real sink comes back immediately,
	// success or failure.
	if params.Stateful && len(params.SessionBlob) > 0 {
		restoreSink := w.rt.SwapStdout(io.Discard)
		err := session.Restore(w.rt, params.SessionBlob)
		restoreSink()
		if err != nil {
			// Codec failures are reported via stderr; execution proceeds.
			fmt.Fprintf(&stderr, "session restore failed: %v\n", err)
		}
	}

	// Step 2: materialize input files, then invalidate the module cache so
	// files that look like modules are recognized.
	inputs := make(map[string][]byte, len(w.staged)+len(params.InputFiles))
	for path, content := range w.staged {
		inputs[path] = content
	}
	w.staged = nil
	for path, content := range params.InputFiles {
		inputs[path] = content
	}
	for path, content := range inputs {
		if err := w.rt.WriteFile(path, content); err != nil {
			return &executeResult{
				Success:   false,
				Stderr:    fmt.Sprintf("materializing %s: %v", path, err),
				ElapsedMs: time.Since(start).Milliseconds(),
			}
		}
	}
	w.rt.InvalidateModules()

	before, err := w.tracker.Before(w.rt.Fs())
	if err != nil {
		return &executeResult{
			Success:   false,
			Stderr:    fmt.Sprintf("pre-execution snapshot: %v", err),
			ElapsedMs: time.Since(start).Milliseconds(),
		}
	}

	// Steps 3-4: hook installed immediately before the run and removed
	// immediately after, even when the code raises.
	recorder := tracking.NewRecorder()
	value, runErr := func() (goja.Value, error) {
		w.rt.SetHook(recorder)
		defer w.rt.SetHook(nil)
		return w.rt.Run(params.Code)
	}()

	elapsed := time.Since(start)

	if runErr != nil {
		fmt.Fprintln(&stderr, runErr.Error())
		debug.Log("worker", "execution failed",
			"session", params.SessionID, "error", runErr.Error(), "elapsed", elapsed)
		// Failed executions never report changed files, even when files
		// were demonstrably written before the failure.
		return &executeResult{
			Success:   false,
			Stdout:    stripInstallNoise(stdout.String()),
			Stderr:    stderr.String(),
			ElapsedMs: elapsed.Milliseconds(),
		}
	}

	result := &executeResult{
		Success:   true,
		ElapsedMs: elapsed.Milliseconds(),
	}

	// Step 5: capture the possibly mutated namespace.
	if params.Stateful {
		state, err := session.Capture(w.rt)
		if err != nil {
			fmt.Fprintf(&stderr, "session capture failed: %v\n", err)
		} else {
			result.SessionBlob = state.Blob
			result.SessionMetadata = state.Metadata
		}
	}

	// Step 6: changed-file detection, successful executions only.
	changed, err := w.tracker.Collect(w.rt.Fs(), recorder, before)
	if err != nil {
		fmt.Fprintf(&stderr, "change tracking failed: %v\n", err)
	} else {
		result.ChangedFiles = changed
	}

	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		if data, err := json.Marshal(value.Export()); err == nil {
			result.ReturnValue = data
		}
	}

	// Step 7: strip package-manager progress noise from user-visible output.
	result.Stdout = stripInstallNoise(stdout.String())
	result.Stderr = stderr.String()

	debug.Log("worker", "execution complete",
		"session", params.SessionID,
		"changed_files", len(result.ChangedFiles),
		"stateful", params.Stateful,
		"elapsed", elapsed)
	return result
}
