// Package worker implements the worker-process side of the wire protocol.
// One worker owns one warm interpreter and resolves requests strictly
// sequentially: the loop consumes one line, fully resolves it, and only then
// reads the next.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jkoenig/runbox/pkg/api"
	"github.com/jkoenig/runbox/pkg/debug"
	"github.com/jkoenig/runbox/pkg/interp"
	"github.com/jkoenig/runbox/pkg/tracking"
	"github.com/jkoenig/runbox/pkg/wire"
)

// Options configures a Worker.
type Options struct {
	// Runtime options for the embedded interpreter.
	Interp interp.Options

	// WatchedRoots are the directories snapshotted for change detection.
	// Defaults to the interpreter work dir.
	WatchedRoots []string

	// SystemPaths override the default excluded system paths.
	SystemPaths []string
}

// Worker serves the wire protocol over a reader/writer pair, usually the
// process's stdin and stdout.
type Worker struct {
	rt      *interp.Runtime
	tracker *tracking.Engine

	started  time.Time
	requests int64

	// staged holds files received via loadBundle, consumed by the next
	// execute call.
	staged map[string][]byte
}

// New creates a Worker with a warm interpreter.
func New(opts Options) (*Worker, error) {
	rt, err := interp.New(opts.Interp)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	roots := opts.WatchedRoots
	if len(roots) == 0 {
		roots = []string{rt.WorkDir()}
	}
	tracker := tracking.NewEngine(roots)
	if opts.SystemPaths != nil {
		tracker.SystemPaths = opts.SystemPaths
	}

	return &Worker{
		rt:      rt,
		tracker: tracker,
		started: time.Now(),
	}, nil
}

// Serve reads envelopes until shutdown is requested, the stream ends, or the
// output pipe fails. A malformed line is answered with an error envelope and
// never terminates the loop.
func (w *Worker) Serve(r io.Reader, out io.Writer) error {
	reader := wire.NewReader(r)
	writer := wire.NewWriter(out)

	for {
		line, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("worker: reading request: %w", err)
		}
		debug.Trace("worker", "request line", "line", debug.Truncate(string(line), 200))

		var req wire.Request
		if err := json.Unmarshal(line, &req); err != nil {
			// One bad line must not kill the worker. The id is echoed when
			// it survived parsing; a fully garbled line answers with "".
			id := recoverID(line)
			if werr := writer.WriteError(id, wire.CodeParseError, "malformed request: "+err.Error()); werr != nil {
				return werr
			}
			continue
		}

		shutdown, err := w.handle(&req, reader, writer)
		if err != nil {
			return err
		}
		if shutdown {
			return nil
		}
	}
}

// handle dispatches one request. The returned bool requests loop shutdown;
// the returned error is a transport failure (response could not be written).
func (w *Worker) handle(req *wire.Request, reader *wire.Reader, writer *wire.Writer) (bool, error) {
	switch req.Method {
	case wire.MethodExecute:
		w.requests++
		result := w.execute(req.Params)
		return false, writer.WriteResult(req.ID, result)

	case wire.MethodHealth:
		return false, writer.WriteResult(req.ID, api.HealthStatus{
			Status:       "healthy",
			UptimeMs:     time.Since(w.started).Milliseconds(),
			RequestCount: w.requests,
		})

	case wire.MethodLoadBundle:
		return false, w.loadBundle(req, reader, writer)

	case wire.MethodShutdown:
		if err := writer.WriteResult(req.ID, map[string]bool{"ok": true}); err != nil {
			return true, err
		}
		debug.Log("worker", "shutdown acknowledged", "requests_served", w.requests)
		return true, nil

	default:
		return false, writer.WriteError(req.ID, wire.CodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method))
	}
}

// loadBundleParams announces a binary bundle of the given size immediately
// following the envelope on the stream.
type loadBundleParams struct {
	Size int64 `json:"size"`
}

func (w *Worker) loadBundle(req *wire.Request, reader *wire.Reader, writer *wire.Writer) error {
	var params loadBundleParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writer.WriteError(req.ID, wire.CodeInvalidParams, "loadBundle: "+err.Error())
	}
	if params.Size <= 0 {
		return writer.WriteError(req.ID, wire.CodeInvalidParams, "loadBundle: size must be positive")
	}

	raw, err := reader.ReadBytes(params.Size)
	if err != nil {
		// The stream is desynchronized beyond recovery; fail the loop.
		return fmt.Errorf("worker: %w", err)
	}

	files, err := wire.DecodeBundle(raw)
	if err != nil {
		return writer.WriteError(req.ID, wire.CodeInvalidParams, err.Error())
	}

	w.staged = files
	debug.Log("worker", "bundle staged", "files", len(files), "bytes", params.Size)
	return writer.WriteResult(req.ID, map[string]int{"files": len(files)})
}

// recoverID attempts to pull the correlation id out of a line that failed
// full parsing, so the error envelope can still be matched to its request.
func recoverID(line []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return ""
	}
	return probe.ID
}
