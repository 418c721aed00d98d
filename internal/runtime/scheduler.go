package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sitewatch/monitor/internal/model"
	"github.com/sitewatch/monitor/internal/probe"
)

// missingInstanceDelay is the re-poll delay when the instance row is gone or
// disabled; the worker keeps ticking so a re-enabled instance resumes.
const missingInstanceDelay = 30 * time.Second

// runLoop is the scheduler loop for one instance: run a probe cycle, sleep
// the returned delay, repeat until cancelled. A panic escaping a cycle marks
// the worker Crashed for UI visibility instead of killing the process.
func (m *Manager) runLoop(ctx context.Context, w *worker, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			w.transition(StatePaused, fmt.Sprintf("Crashed: %v", r))
			m.logger.Error("instance worker crashed",
				slog.String("instance", w.instanceID), slog.Any("panic", r))
		}
	}()

	for {
		delay := m.runCycle(ctx, w.instanceID)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runCycle executes one probe cycle and returns the delay before the next.
func (m *Manager) runCycle(ctx context.Context, instanceID string) time.Duration {
	inst, err := m.store.GetInstance(ctx, instanceID)
	if err != nil {
		m.logger.Error("cycle: load instance",
			slog.String("instance", instanceID), slog.Any("error", err))
		return missingInstanceDelay
	}
	if inst == nil || !inst.Enabled {
		return missingInstanceDelay
	}

	interval := time.Duration(inst.CheckIntervalSeconds) * time.Second
	if interval < model.MinCheckIntervalSeconds*time.Second {
		interval = model.MinCheckIntervalSeconds * time.Second
	}
	if inst.PausedAt(time.Now().UTC()) {
		// Keep polling at the normal cadence so the instance auto-resumes
		// when pausedUntil passes.
		return interval
	}

	targets, err := m.store.ListEnabledTargets(ctx, instanceID)
	if err != nil {
		m.logger.Error("cycle: load targets",
			slog.String("instance", instanceID), slog.Any("error", err))
		return interval
	}
	if len(targets) == 0 {
		return interval
	}

	results := m.probeAll(ctx, inst, targets)
	if len(results) > 0 {
		// Persist even when cancellation fired mid-cycle: the transaction
		// is a short critical section and completed probes should land.
		_ = m.persister.Persist(context.WithoutCancel(ctx), results)
	}
	return interval
}

// probeAll fans out probes over the targets under a counting semaphore sized
// by the instance's concurrency limit. A panicking probe is swallowed (no
// result) and logged; the rest of the cycle continues.
func (m *Manager) probeAll(ctx context.Context, inst *model.Instance, targets []*model.Target) []*probe.Result {
	limit := int64(inst.ConcurrencyLimit)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	var (
		mu      sync.Mutex
		results []*probe.Result
		wg      sync.WaitGroup
	)
	for _, target := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			break // cycle cancelled; pending probes are dropped
		}
		wg.Add(1)
		go func(t *model.Target) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("probe panicked",
						slog.String("instance", inst.ID),
						slog.Int64("target", t.ID),
						slog.Any("panic", r))
				}
			}()

			res := m.prober.Probe(ctx, t)
			if res == nil || ctx.Err() != nil {
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(target)
	}
	wg.Wait()
	return results
}
