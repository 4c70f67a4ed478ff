// Package pool manages a fixed-size set of worker processes: spawning,
// round-robin dispatch, request-count recycling, and replacement of workers
// that crash, time out, or fail health probes.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jkoenig/runbox/pkg/api"
	"github.com/jkoenig/runbox/pkg/debug"
	"github.com/jkoenig/runbox/pkg/observability"
	"github.com/jkoenig/runbox/pkg/wire"
)

// Transfer forms for input files.
const (
	TransferInline = "inline"
	TransferBundle = "bundle"
)

// Config holds pool behavior settings.
type Config struct {
	// Size is the number of worker processes (default: 4).
	Size int

	// RecycleThreshold is the number of execute calls after which a worker
	// is drained and replaced (default: 100).
	RecycleThreshold int64

	// DispatchTimeout bounds the wait for a READY worker (default: 5s).
	DispatchTimeout time.Duration

	// RequestTimeout is the default per-request execution deadline, used
	// when the request carries none (default: 30s).
	RequestTimeout time.Duration

	// StartTimeout bounds worker startup and, with WaitForReady, the
	// Initialize call (default: 30s).
	StartTimeout time.Duration

	// WaitForReady makes Initialize block until every worker is READY.
	// When false, dispatches before the first worker is READY fail with a
	// retryable warming-up error.
	WaitForReady bool

	// ShutdownGrace bounds the wait for shutdown acknowledgments before
	// stragglers are killed (default: 5s).
	ShutdownGrace time.Duration

	// TransferForm selects how input files reach the worker: "inline"
	// embeds them in the execute envelope, "bundle" sends a binary bundle
	// first (default: inline).
	TransferForm string
}

func (c *Config) defaults() {
	if c.Size == 0 {
		c.Size = 4
	}
	if c.RecycleThreshold == 0 {
		c.RecycleThreshold = 100
	}
	if c.DispatchTimeout == 0 {
		c.DispatchTimeout = 5 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = 30 * time.Second
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.TransferForm == "" {
		c.TransferForm = TransferInline
	}
}

// executeParams is the wire form of an execute request, mirrored by the
// worker side.
type executeParams struct {
	Code        string                    `json:"code"`
	SessionID   string                    `json:"session_id"`
	Stateful    bool                      `json:"stateful,omitempty"`
	SessionBlob []byte                    `json:"session_blob,omitempty"`
	InputFiles  map[string]wire.ByteArray `json:"input_files,omitempty"`
	TimeoutMs   int64                     `json:"timeout_ms,omitempty"`
}

// executeResult is the wire form of an execute result.
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

// Manager owns the worker set.
type Manager struct {
	cfg     Config
	spawner Spawner

	mu      sync.Mutex
	workers []*workerHandle
	next    int
	warmed  bool
	closed  bool

	// readyCh wakes one waiting dispatcher when a worker returns to READY.
	readyCh chan struct{}
}

// NewManager creates a Manager; no workers exist until Initialize.
func NewManager(cfg Config, spawner Spawner) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:     cfg,
		spawner: spawner,
		readyCh: make(chan struct{}, 1),
	}
}

// Initialize spawns the configured number of workers. With WaitForReady it
// blocks until all of them are READY, bounded by StartTimeout.
func (m *Manager) Initialize(ctx context.Context) error {
	for i := 0; i < m.cfg.Size; i++ {
		h, err := m.startWorker(ctx)
		if err != nil {
			m.Shutdown(ctx)
			return fmt.Errorf("pool: spawning worker %d of %d: %w", i+1, m.cfg.Size, err)
		}
		m.mu.Lock()
		m.workers = append(m.workers, h)
		m.mu.Unlock()
	}
	m.updateGauges()

	if !m.cfg.WaitForReady {
		return nil
	}

	deadline := time.Now().Add(m.cfg.StartTimeout)
	for {
		if m.readyCount() == m.cfg.Size {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pool: %d of %d workers ready after %s",
				m.readyCount(), m.cfg.Size, m.cfg.StartTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// startWorker spawns one worker and begins its readiness handshake and exit
// watch in the background.
func (m *Manager) startWorker(ctx context.Context) (*workerHandle, error) {
	proc, err := m.spawner.Spawn(ctx)
	if err != nil {
		return nil, err
	}
	h := newWorkerHandle(proc)
	debug.Log("pool", "worker spawned", "worker", h.id, "pid", proc.PID())

	go m.awaitReady(h)
	go m.watchExit(h)
	return h, nil
}

// awaitReady probes the fresh worker once and promotes it to READY.
func (m *Manager) awaitReady(h *workerHandle) {
	resp, err := h.call(wire.MethodHealth, nil, m.cfg.StartTimeout)
	if err != nil || resp.Error != nil {
		debug.Log("pool", "worker failed readiness probe", "worker", h.id, "error", err)
		h.proc.Kill()
		return
	}
	if err := h.transition(api.WorkerReady); err != nil {
		return
	}
	m.mu.Lock()
	m.warmed = true
	m.mu.Unlock()
	m.signalReady()
	m.updateGauges()
	debug.Log("pool", "worker ready", "worker", h.id)
}

// watchExit replaces a worker whose process exits outside an orderly
// shutdown or replacement.
func (m *Manager) watchExit(h *workerHandle) {
	<-h.exited
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed || h.State() == api.WorkerTerminated {
		return
	}
	debug.Log("pool", "worker exited unexpectedly", "worker", h.id)
	m.replace(h, "crash")
}

// Dispatch routes one request to a READY worker, waiting up to the dispatch
// timeout. It never queues unboundedly.
func (m *Manager) Dispatch(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	deadline := time.NewTimer(m.cfg.DispatchTimeout)
	defer deadline.Stop()

	for {
		if h := m.acquire(); h != nil {
			return m.forward(h, req)
		}

		m.mu.Lock()
		warmed := m.warmed
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil, api.NewError(api.KindPoolExhausted, "pool is shut down")
		}
		if !warmed {
			observability.DispatchesTotal.WithLabelValues("warming_up").Inc()
			return nil, api.NewError(api.KindWarmingUp, "no worker is ready yet")
		}

		select {
		case <-ctx.Done():
			return nil, api.WrapError(api.KindPoolExhausted, ctx.Err(), "dispatch canceled")
		case <-deadline.C:
			observability.PoolExhaustedTotal.Inc()
			observability.DispatchesTotal.WithLabelValues("pool_exhausted").Inc()
			return nil, api.NewError(api.KindPoolExhausted,
				"no worker became ready within %s", m.cfg.DispatchTimeout)
		case <-m.readyCh:
		}
	}
}

// acquire selects the next READY worker round-robin, marking it BUSY.
func (m *Manager) acquire() *workerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.workers)
	for i := 0; i < n; i++ {
		idx := (m.next + i) % n
		if m.workers[idx].tryAcquire() {
			m.next = idx + 1
			return m.workers[idx]
		}
	}
	return nil
}

// forward sends the request to the acquired worker and converts the
// response. The worker is released, recycled, or replaced depending on the
// outcome.
func (m *Manager) forward(h *workerHandle, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	m.updateGauges()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}

	params := executeParams{
		Code:        req.Code,
		SessionID:   req.SessionID,
		Stateful:    req.Stateful,
		SessionBlob: req.SessionBlob,
		TimeoutMs:   timeout.Milliseconds(),
	}

	if len(req.InputFiles) > 0 {
		if m.cfg.TransferForm == TransferBundle {
			bundle, err := wire.EncodeBundle(req.InputFiles)
			if err != nil {
				m.release(h)
				return nil, api.WrapError(api.KindProtocol, err, "encoding input bundle")
			}
			if err := h.sendBundle(bundle, timeout); err != nil {
				return nil, m.failDispatch(h, err)
			}
		} else {
			params.InputFiles = make(map[string]wire.ByteArray, len(req.InputFiles))
			for path, content := range req.InputFiles {
				params.InputFiles[path] = wire.ByteArray(content)
			}
		}
	}

	start := time.Now()
	resp, err := h.call(wire.MethodExecute, params, timeout)
	if err != nil {
		return nil, m.failDispatch(h, err)
	}

	count := h.incRequests()

	if resp.Error != nil {
		m.release(h)
		observability.DispatchesTotal.WithLabelValues("protocol_error").Inc()
		return nil, api.NewError(api.KindProtocol, "worker error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var wr executeResult
	if err := json.Unmarshal(resp.Result, &wr); err != nil {
		m.release(h)
		return nil, api.WrapError(api.KindProtocol, err, "decoding execute result")
	}

	if count >= m.cfg.RecycleThreshold {
		debug.Log("pool", "recycling worker", "worker", h.id, "requests", count)
		go m.recycle(h)
	} else {
		m.release(h)
	}

	result := &api.ExecutionResult{
		Success:         wr.Success,
		Stdout:          wr.Stdout,
		Stderr:          wr.Stderr,
		ReturnValue:     wr.ReturnValue,
		ChangedFiles:    wr.ChangedFiles,
		SessionBlob:     wr.SessionBlob,
		SessionMetadata: wr.SessionMetadata,
		Elapsed:         time.Duration(wr.ElapsedMs) * time.Millisecond,
	}

	observability.ExecuteDuration.Observe(time.Since(start).Seconds())
	if result.Success {
		observability.DispatchesTotal.WithLabelValues("ok").Inc()
		observability.ChangedFiles.Observe(float64(len(result.ChangedFiles)))
	} else {
		observability.DispatchesTotal.WithLabelValues("execution_error").Inc()
	}
	return result, nil
}

// failDispatch maps a transport failure on a BUSY worker to a caller error
// and replaces the worker. A timed-out worker is never returned to the
// READY pool; its late response, if any, is drained by the reader goroutine.
func (m *Manager) failDispatch(h *workerHandle, err error) error {
	switch {
	case errors.Is(err, errCallTimeout):
		h.transition(api.WorkerUnhealthy)
		go m.replace(h, "timeout")
		observability.DispatchesTotal.WithLabelValues("timeout").Inc()
		return api.WrapError(api.KindTimeout, err, "worker %s timed out", h.id)
	case errors.Is(err, errWorkerExited):
		go m.replace(h, "crash")
		observability.DispatchesTotal.WithLabelValues("worker_crash").Inc()
		return api.WrapError(api.KindWorkerCrash, err, "worker %s exited mid-request", h.id)
	default:
		h.transition(api.WorkerUnhealthy)
		go m.replace(h, "crash")
		observability.DispatchesTotal.WithLabelValues("worker_crash").Inc()
		return api.WrapError(api.KindWorkerCrash, err, "worker %s transport failure", h.id)
	}
}

// release returns a BUSY worker to READY and wakes one waiting dispatcher.
func (m *Manager) release(h *workerHandle) {
	if err := h.transition(api.WorkerReady); err != nil {
		return
	}
	m.signalReady()
	m.updateGauges()
}

// recycle drains one worker gracefully and replaces it.
func (m *Manager) recycle(h *workerHandle) {
	if !h.markReplaced() {
		return
	}
	if resp, err := h.call(wire.MethodShutdown, nil, m.cfg.ShutdownGrace); err != nil || resp.Error != nil {
		debug.Log("pool", "recycle shutdown not acknowledged", "worker", h.id, "error", err)
	}
	m.replaceClaimed(h, "recycle")
}

// replace kills the old worker, marks it TERMINATED, and spawns a successor
// into its slot. It is a no-op after Shutdown or a prior replacement claim.
func (m *Manager) replace(h *workerHandle, reason string) {
	if !h.markReplaced() {
		return
	}
	m.replaceClaimed(h, reason)
}

func (m *Manager) replaceClaimed(h *workerHandle, reason string) {
	if h.State() == api.WorkerUnhealthy {
		h.transition(api.WorkerRestarting)
	}
	h.transition(api.WorkerTerminated)
	h.proc.Kill()
	h.proc.Wait()
	observability.WorkerRestartsTotal.WithLabelValues(reason).Inc()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	nh, err := m.startWorker(context.Background())
	if err != nil {
		debug.Log("pool", "replacement spawn failed", "worker", h.id, "error", err)
		m.updateGauges()
		return
	}

	m.mu.Lock()
	for i, w := range m.workers {
		if w == h {
			m.workers[i] = nh
			break
		}
	}
	m.mu.Unlock()
	m.updateGauges()
	debug.Log("pool", "worker replaced", "old", h.id, "new", nh.id, "reason", reason)
}

// Shutdown broadcasts shutdown to every worker, waits up to the grace
// period for them to exit, then kills stragglers.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	workers := make([]*workerHandle, len(m.workers))
	copy(workers, m.workers)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range workers {
		if h.State() == api.WorkerTerminated {
			continue
		}
		wg.Add(1)
		go func(h *workerHandle) {
			defer wg.Done()
			h.call(wire.MethodShutdown, nil, m.cfg.ShutdownGrace)
			select {
			case <-h.exited:
			case <-time.After(m.cfg.ShutdownGrace):
				debug.Log("pool", "killing straggler", "worker", h.id)
				h.proc.Kill()
			}
			h.transition(api.WorkerTerminated)
		}(h)
	}
	wg.Wait()
	m.updateGauges()
	debug.Log("pool", "shutdown complete", "workers", len(workers))
}

// WorkerStates returns the current lifecycle state of every pooled worker.
func (m *Manager) WorkerStates() []api.WorkerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]api.WorkerState, len(m.workers))
	for i, h := range m.workers {
		states[i] = h.State()
	}
	return states
}

func (m *Manager) readyCount() int {
	n := 0
	for _, s := range m.WorkerStates() {
		if s == api.WorkerReady {
			n++
		}
	}
	return n
}

// handles returns a snapshot of the worker set.
func (m *Manager) handles() []*workerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*workerHandle, len(m.workers))
	copy(out, m.workers)
	return out
}

func (m *Manager) signalReady() {
	select {
	case m.readyCh <- struct{}{}:
	default:
	}
}

// updateGauges recomputes the workers-by-state gauge.
func (m *Manager) updateGauges() {
	counts := map[api.WorkerState]int{
		api.WorkerStarting:   0,
		api.WorkerReady:      0,
		api.WorkerBusy:       0,
		api.WorkerUnhealthy:  0,
		api.WorkerRestarting: 0,
		api.WorkerTerminated: 0,
	}
	for _, s := range m.WorkerStates() {
		counts[s]++
	}
	for state, n := range counts {
		observability.WorkersByState.WithLabelValues(string(state)).Set(float64(n))
	}
}
