package pool

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jkoenig/runbox/pkg/api"
	"github.com/jkoenig/runbox/pkg/debug"
	"github.com/jkoenig/runbox/pkg/observability"
	"github.com/jkoenig/runbox/pkg/wire"
)

// MonitorConfig holds health monitor settings.
type MonitorConfig struct {
	// Interval between probe rounds (default: 30s).
	Interval time.Duration

	// ProbeTimeout bounds one probe; exceeding it marks the worker
	// UNHEALTHY immediately (default: 5s).
	ProbeTimeout time.Duration

	// FailureThreshold is the number of consecutive non-timeout probe
	// failures before a worker is marked UNHEALTHY (default: 3).
	FailureThreshold int
}

func (c *MonitorConfig) defaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
}

// Monitor periodically probes READY workers. A worker is briefly acquired
// for its probe so a probe can never collide with an in-flight request's
// response stream; BUSY workers are left alone.
type Monitor struct {
	mgr *Manager
	cfg MonitorConfig

	mu       sync.Mutex
	failures map[string]int

	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a Monitor for the given pool.
func NewMonitor(mgr *Manager, cfg MonitorConfig) *Monitor {
	cfg.defaults()
	return &Monitor{
		mgr:      mgr,
		cfg:      cfg,
		failures: make(map[string]int),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop in the background.
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.probeRound()
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to finish.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// probeRound probes every worker currently READY.
func (m *Monitor) probeRound() {
	for _, h := range m.mgr.handles() {
		if !h.tryAcquire() {
			continue
		}
		m.probe(h)
	}
}

// probe health-checks one acquired worker and releases or condemns it.
func (m *Monitor) probe(h *workerHandle) {
	resp, err := h.call(wire.MethodHealth, nil, m.cfg.ProbeTimeout)
	if err == nil && resp.Error == nil {
		var status api.HealthStatus
		if jerr := json.Unmarshal(resp.Result, &status); jerr == nil && status.Status == "healthy" {
			h.markProbed()
			m.mu.Lock()
			delete(m.failures, h.id)
			m.mu.Unlock()
			m.mgr.release(h)
			debug.Trace("pool", "probe ok", "worker", h.id, "requests", status.RequestCount)
			return
		}
	}

	observability.ProbeFailuresTotal.Inc()

	// A probe timeout condemns the worker at once; other failures must
	// repeat before the worker is discarded.
	m.mu.Lock()
	m.failures[h.id]++
	count := m.failures[h.id]
	m.mu.Unlock()

	if errors.Is(err, errCallTimeout) || errors.Is(err, errWorkerExited) || count >= m.cfg.FailureThreshold {
		debug.Log("pool", "worker condemned by health probe",
			"worker", h.id, "failures", count, "error", err)
		m.mu.Lock()
		delete(m.failures, h.id)
		m.mu.Unlock()
		h.transition(api.WorkerUnhealthy)
		m.mgr.replace(h, "probe_failure")
		return
	}

	debug.Log("pool", "probe failed", "worker", h.id, "failures", count, "error", err)
	m.mgr.release(h)
}
