// Package queen implements the orchestrator: it schedules queued tasks,
// spawns one Worker subprocess per (task, phase) assignment, supervises
// their lifecycle, advances tasks through phases, and reacts to
// choreography events published by planners and reviewers (spec §4.5/§4.6).
package queen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/conductor/internal/eventbus"
	"github.com/harrison/conductor/internal/logger"
	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/planbridge"
	"github.com/harrison/conductor/internal/store"
)

// activeWorker is one entry of the in-memory active_workers map
// (spec §4.5 State): a task currently owned by a spawned worker process.
type activeWorker struct {
	taskID    string
	runID     string
	role      string
	phase     string
	startTime time.Time
	handle    ProcessHandle
	done      chan struct{}
}

// Queen is the single owner of the scheduling loop on this host.
type Queen struct {
	store   *store.Store
	bus     *eventbus.Bus
	bridge  *planbridge.Bridge
	log     logger.Logger
	cfg     Config
	spawner Spawner

	mu     sync.Mutex
	active map[string]*activeWorker

	avgMu       sync.Mutex
	avgDuration time.Duration
	avgSamples  int
}

// New constructs a Queen. log and cfg may be zero-valued; spawner is
// typically NewExecSpawner(selfExecutablePath) in production and a fake in
// tests.
func New(s *store.Store, bus *eventbus.Bus, log logger.Logger, cfg Config, spawner Spawner) *Queen {
	if log == nil {
		log = noopLogger{}
	}
	return &Queen{
		store:   s,
		bus:     bus,
		bridge:  planbridge.New(s),
		log:     log,
		cfg:     cfg.withDefaults(),
		spawner: spawner,
		active:  make(map[string]*activeWorker),
	}
}

func (q *Queen) id() string { return q.cfg.ID }

// Start registers Queen as a `role=orchestrator` worker, subscribes the
// choreography handlers, and runs the scheduling loop until ctx is
// cancelled or, in ExitWhenIdle mode, the idle check first reports true
// (spec §4.5 Startup/Shutdown).
func (q *Queen) Start(ctx context.Context) error {
	if err := q.store.RegisterWorker(ctx, q.id(), models.WorkerRoleOrchestrator, nil, nil); err != nil {
		return fmt.Errorf("register queen as worker: %w", err)
	}
	q.subscribeChoreography()

	ticker := time.NewTicker(q.cfg.StatusRefreshInterval)
	defer ticker.Stop()

	for {
		idle, err := q.Tick(ctx)
		if err != nil {
			q.log.Error("scheduling tick error: %v", err)
		}
		if idle && q.cfg.ExitWhenIdle {
			q.Shutdown()
			return nil
		}

		select {
		case <-ctx.Done():
			q.Shutdown()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown sends a terminate signal to every active worker child and waits
// briefly for each to exit (spec §4.5 Shutdown). It persists no new state;
// workers have already written their own run results before exiting.
func (q *Queen) Shutdown() {
	q.mu.Lock()
	workers := make([]*activeWorker, 0, len(q.active))
	for _, w := range q.active {
		workers = append(workers, w)
	}
	q.mu.Unlock()

	for _, w := range workers {
		if err := w.handle.Kill(); err != nil {
			q.log.Warn("terminate worker for task %s: %v", w.taskID, err)
		}
	}
	for _, w := range workers {
		select {
		case <-w.done:
		case <-time.After(2 * time.Second):
		}
	}
}

// Tick runs one full scheduling pass (spec §4.5 Scheduling tick) and
// reports whether the idle-check condition holds.
func (q *Queen) Tick(ctx context.Context) (bool, error) {
	if err := q.admitCandidates(ctx); err != nil {
		q.log.Error("admission step failed: %v", err)
	}
	if err := q.monitorActiveWorkers(ctx); err != nil {
		q.log.Error("monitor step failed: %v", err)
	}
	if err := q.recoverZombies(ctx); err != nil {
		q.log.Error("zombie recovery failed: %v", err)
	}
	if _, err := q.bridge.CleanupCompletedPlans(ctx, 0); err != nil {
		q.log.Warn("plan cleanup failed: %v", err)
	}
	return q.isIdle(ctx)
}

// ActiveWorkerCount reports the number of in-flight worker subprocesses.
func (q *Queen) ActiveWorkerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

const emaAlpha = 0.3

// recordDuration folds one completed run's elapsed time into the rolling
// average via a fixed-smoothing-factor EMA (SPEC_FULL.md §4.5).
func (q *Queen) recordDuration(d time.Duration) {
	q.avgMu.Lock()
	defer q.avgMu.Unlock()
	if q.avgSamples == 0 {
		q.avgDuration = d
	} else {
		q.avgDuration = time.Duration(emaAlpha*float64(d) + (1-emaAlpha)*float64(q.avgDuration))
	}
	q.avgSamples++
}

// AverageRunDuration returns the rolling average run duration, exposed via
// `status -v` (SPEC_FULL.md §4.5).
func (q *Queen) AverageRunDuration() time.Duration {
	q.avgMu.Lock()
	defer q.avgMu.Unlock()
	return q.avgDuration
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
