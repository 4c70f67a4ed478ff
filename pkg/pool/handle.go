package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jkoenig/runbox/pkg/api"
	"github.com/jkoenig/runbox/pkg/debug"
	"github.com/jkoenig/runbox/pkg/wire"
)

// errWorkerExited is delivered to pending calls when the worker's response
// stream ends before their responses arrive.
var errWorkerExited = errors.New("pool: worker exited")

// errCallTimeout marks a call that produced no response within its deadline.
var errCallTimeout = errors.New("pool: request timed out")

// workerHandle owns one worker process: its transport, its lifecycle state,
// and the routing of responses back to in-flight calls.
//
// A single reader goroutine consumes the worker's stdout and routes each
// response to the pending call with the matching correlation ID. A response
// whose call has already given up (request timeout) finds no pending entry
// and is discarded, so a late reply can never be mistaken for the answer to
// a subsequent request.
type workerHandle struct {
	id   string
	proc Process

	writer *wire.Writer

	mu        sync.Mutex
	state     api.WorkerState
	requests  int64
	lastProbe time.Time
	pending   map[string]chan *wire.Response
	replaced  bool

	// exited closes when the reader goroutine sees the stream end.
	exited chan struct{}
}

func newWorkerHandle(proc Process) *workerHandle {
	h := &workerHandle{
		id:      api.NewRequestID(),
		proc:    proc,
		writer:  wire.NewWriter(proc.Stdin()),
		state:   api.WorkerStarting,
		pending: make(map[string]chan *wire.Response),
		exited:  make(chan struct{}),
	}
	go h.readLoop()
	return h
}

// readLoop is the only reader of the worker's stdout. It runs until the
// stream ends, then fails every pending call.
func (h *workerHandle) readLoop() {
	reader := wire.NewReader(h.proc.Stdout())
	for {
		resp, err := reader.ReadResponse()
		if err != nil {
			h.mu.Lock()
			for id, ch := range h.pending {
				delete(h.pending, id)
				close(ch)
			}
			h.mu.Unlock()
			close(h.exited)
			return
		}

		h.mu.Lock()
		ch, ok := h.pending[resp.ID]
		if ok {
			delete(h.pending, resp.ID)
		}
		h.mu.Unlock()

		if !ok {
			// Late response after a dispatch timeout; reading it keeps the
			// stream framing intact, then it is dropped.
			debug.Log("pool", "discarding late response", "worker", h.id, "request", resp.ID)
			continue
		}
		ch <- resp
	}
}

// call sends one request and waits for its response, bounded by timeout.
// Timeouts and worker exits do not desynchronize the stream; the reader
// goroutine keeps consuming regardless.
func (h *workerHandle) call(method string, params any, timeout time.Duration) (*wire.Response, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("pool: encoding %s params: %w", method, err)
		}
		raw = data
	}

	id := api.NewRequestID()
	ch := make(chan *wire.Response, 1)

	h.mu.Lock()
	h.pending[id] = ch
	h.mu.Unlock()

	if err := h.writer.WriteRequest(&wire.Request{ID: id, Method: method, Params: raw}); err != nil {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return nil, fmt.Errorf("pool: sending %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errWorkerExited
		}
		return resp, nil
	case <-h.exited:
		// Drain the racing delivery if the reader routed it first.
		select {
		case resp, ok := <-ch:
			if ok {
				return resp, nil
			}
		default:
		}
		return nil, errWorkerExited
	case <-timer.C:
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s request %s after %s", errCallTimeout, method, id, timeout)
	}
}

// sendBundle transmits a pre-encoded file bundle: the loadBundle envelope
// announcing the byte count, then the raw bytes, then waits for the ack.
// Only the dispatcher owning the worker may call this, so nothing can
// interleave between envelope and payload.
func (h *workerHandle) sendBundle(bundle []byte, timeout time.Duration) error {
	id := api.NewRequestID()
	ch := make(chan *wire.Response, 1)

	h.mu.Lock()
	h.pending[id] = ch
	h.mu.Unlock()

	params, _ := json.Marshal(map[string]int64{"size": int64(len(bundle))})
	if err := h.writer.WriteRequest(&wire.Request{ID: id, Method: wire.MethodLoadBundle, Params: params}); err != nil {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return fmt.Errorf("pool: sending loadBundle: %w", err)
	}
	if err := h.writer.WriteBytes(bundle); err != nil {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return fmt.Errorf("pool: sending bundle bytes: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return errWorkerExited
		}
		if resp.Error != nil {
			return fmt.Errorf("pool: loadBundle rejected: %s", resp.Error.Message)
		}
		return nil
	case <-h.exited:
		return errWorkerExited
	case <-timer.C:
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return fmt.Errorf("%w: loadBundle request %s after %s", errCallTimeout, id, timeout)
	}
}

// State returns the current lifecycle state.
func (h *workerHandle) State() api.WorkerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// transition moves the handle to the given state, enforcing the lifecycle
// state machine.
func (h *workerHandle) transition(to api.WorkerState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !api.CanTransition(h.state, to) {
		return fmt.Errorf("pool: worker %s cannot transition %s -> %s", h.id, h.state, to)
	}
	debug.Trace("pool", "worker state", "worker", h.id, "from", h.state, "to", to)
	h.state = to
	return nil
}

// tryAcquire atomically moves READY -> BUSY. It reports false when the
// worker is in any other state.
func (h *workerHandle) tryAcquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != api.WorkerReady {
		return false
	}
	h.state = api.WorkerBusy
	return true
}

// RequestCount returns the cumulative number of execute calls dispatched to
// this worker.
func (h *workerHandle) RequestCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests
}

func (h *workerHandle) incRequests() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests++
	return h.requests
}

// markReplaced claims the right to replace this worker. Exactly one caller
// wins; the timeout path and the exit watcher can both race to here.
func (h *workerHandle) markReplaced() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.replaced {
		return false
	}
	h.replaced = true
	return true
}

func (h *workerHandle) markProbed() {
	h.mu.Lock()
	h.lastProbe = time.Now()
	h.mu.Unlock()
}
