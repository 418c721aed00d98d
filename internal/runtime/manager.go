package runtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sitewatch/monitor/internal/persist"
	"github.com/sitewatch/monitor/internal/probe"
	"github.com/sitewatch/monitor/internal/store"
)

// stopWait caps how long Stop blocks on a worker's goroutine so a wedged
// probe can never hang the caller.
const stopWait = 5 * time.Second

// Manager owns the workers by instance id. It is the runtime control surface
// consumed by the HTTP API and the alert evaluator.
type Manager struct {
	store     *store.Store
	prober    *probe.Prober
	persister *persist.Persister
	logger    *slog.Logger

	baseCtx context.Context

	mu      sync.Mutex
	workers map[string]*worker
}

// NewManager creates a Manager. baseCtx is the process lifetime context;
// cancelling it stops every worker.
func NewManager(baseCtx context.Context, st *store.Store, pr *probe.Prober, pe *persist.Persister, logger *slog.Logger) *Manager {
	return &Manager{
		store:     st,
		prober:    pr,
		persister: pe,
		logger:    logger,
		baseCtx:   baseCtx,
		workers:   make(map[string]*worker),
	}
}

// Start creates or reuses the worker for instanceID and launches its
// scheduler loop. Starting an already-running worker is a no-op.
func (m *Manager) Start(instanceID string) {
	m.mu.Lock()
	w, ok := m.workers[instanceID]
	if !ok {
		w = newWorker(instanceID)
		m.workers[instanceID] = w
	}
	if w.status().State == StateRunning && w.alive() {
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()
	w.transition(StateRunning, "Started")
	m.mu.Unlock()

	m.logger.Info("instance worker started", slog.String("instance", instanceID))
	go m.runLoop(ctx, w, done)
}

// Stop transitions the worker to Paused and cancels its loop, waiting up to
// stopWait for the goroutine to exit. Stopping an unknown or already-stopped
// worker is a no-op.
func (m *Manager) Stop(instanceID string) {
	m.mu.Lock()
	w, ok := m.workers[instanceID]
	m.mu.Unlock()
	if !ok {
		return
	}

	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	w.transition(StatePaused, "Stopped")
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopWait):
			m.logger.Warn("worker did not exit within stop deadline",
				slog.String("instance", instanceID))
		}
	}
	m.logger.Info("instance worker stopped", slog.String("instance", instanceID))
}

// Restart stops then starts the worker.
func (m *Manager) Restart(instanceID string) {
	m.Stop(instanceID)
	m.Start(instanceID)
}

// TryGet returns the worker status for instanceID, if one exists.
func (m *Manager) TryGet(instanceID string) (Status, bool) {
	m.mu.Lock()
	w, ok := m.workers[instanceID]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return w.status(), true
}

// GetAll returns the statuses of all known workers, ordered by instance id.
func (m *Manager) GetAll() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.status())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// StopAll stops every worker; used on process shutdown.
func (m *Manager) StopAll() {
	for _, st := range m.GetAll() {
		m.Stop(st.InstanceID)
	}
}

// AutoStart starts a worker for every enabled instance. Called once on
// process boot.
func (m *Manager) AutoStart(ctx context.Context) error {
	instances, err := m.store.ListEnabledInstances(ctx)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		m.Start(inst.ID)
	}
	m.logger.Info("auto-start complete", slog.Int("instances", len(instances)))
	return nil
}
