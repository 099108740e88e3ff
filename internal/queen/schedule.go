package queen

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harrison/conductor/internal/display"
	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/store"
)

// admitCandidates implements spec §4.5 step 1 (Admission): compute the
// free slot count across all roles and pull that many queued candidates.
func (q *Queen) admitCandidates(ctx context.Context) error {
	q.mu.Lock()
	activeCount := len(q.active)
	q.mu.Unlock()

	totalSlots := q.cfg.capForRole(models.WorkerRoleBackend) +
		q.cfg.capForRole(models.WorkerRoleFrontend) +
		q.cfg.capForRole(models.WorkerRoleInfra)
	slotsFree := totalSlots - activeCount
	if slotsFree <= 0 {
		return nil
	}

	candidates, err := q.store.GetQueuedTasksWithPlanning(ctx, slotsFree, "")
	if err != nil {
		return fmt.Errorf("fetch queued tasks: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	// LiveOutput doubles as "narrate this tick to the operator's terminal",
	// since it's already the flag that opts a `queen` invocation into
	// foreground, human-attended use.
	var progress *display.ProgressIndicator
	if q.cfg.LiveOutput {
		progress = display.NewProgressIndicator(os.Stdout, len(candidates))
		progress.Start()
	}

	for _, candidate := range candidates {
		if err := q.admitCandidate(ctx, candidate, candidate.CurrentPhase); err != nil {
			q.log.Warn("admission failed for task %s: %v", candidate.ID, err)
			continue
		}
		if progress != nil {
			progress.Step(candidate.Title)
		}
	}
	if progress != nil {
		progress.Complete()
	}
	return nil
}

// admitCandidate implements spec §4.5 step 2 (Per-candidate): dependency
// recheck, role determination and cap enforcement, the queued->assigned
// transition, run creation, and subprocess spawn. It is also reused by
// the fixed apply->test flow to spawn the test phase immediately
// (spec §4.5 Phase advancement).
func (q *Queen) admitCandidate(ctx context.Context, candidate *models.Task, phase string) error {
	if phase == "" {
		phase = "apply"
	}

	if candidate.IsPlannedSubtask() {
		met, err := q.store.CheckSubtaskDependencies(ctx, candidate.ID)
		if err != nil {
			return fmt.Errorf("recheck dependencies: %w", err)
		}
		if !met {
			return nil
		}
	}

	role := candidate.WorkerRole()
	if q.countActiveRole(role) >= q.cfg.capForRole(role) {
		return nil
	}

	assignedAt := time.Now().UTC()
	if err := q.store.UpdateTaskStatus(ctx, candidate.ID, models.StatusAssigned, store.UpdateTaskStatusParams{
		Assignee:     &role,
		AssignedAt:   &assignedAt,
		CurrentPhase: &phase,
	}); err != nil {
		return fmt.Errorf("assign task: %w", err)
	}
	if _, err := q.bus.Publish(ctx, models.Event{
		EventType:   models.EventTaskAssigned,
		SourceAgent: q.id(),
		Payload:     map[string]interface{}{"task_id": candidate.ID, "role": role, "phase": phase},
	}); err != nil {
		q.log.Warn("publish task.assigned failed: %v", err)
	}

	runID, err := q.store.CreateRun(ctx, candidate.ID, role, phase)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	mode := candidate.WorkspaceType
	if mode == "" {
		mode = "repo"
	}

	handle, err := q.spawner.Spawn(ctx, SpawnParams{
		Role: role, TaskID: candidate.ID, RunID: runID, Phase: phase, Mode: mode,
		LiveOutput: q.cfg.LiveOutput,
	})
	if err != nil {
		q.log.Warn("spawn failed for task %s: %v", candidate.ID, err)
		return q.store.ClearAssignment(ctx, candidate.ID, models.StatusQueued, phase)
	}

	startedAt := time.Now().UTC()
	if err := q.store.UpdateTaskStatus(ctx, candidate.ID, models.StatusInProgress, store.UpdateTaskStatusParams{
		StartedAt: &startedAt,
	}); err != nil {
		return fmt.Errorf("mark in_progress: %w", err)
	}
	if _, err := q.bus.Publish(ctx, models.Event{
		EventType:   models.EventTaskStarted,
		SourceAgent: q.id(),
		Payload:     map[string]interface{}{"task_id": candidate.ID, "run_id": runID, "phase": phase},
	}); err != nil {
		q.log.Warn("publish task.started failed: %v", err)
	}

	done := make(chan struct{})
	w := &activeWorker{
		taskID: candidate.ID, runID: runID, role: role, phase: phase,
		startTime: startedAt, handle: handle, done: done,
	}
	q.mu.Lock()
	q.active[candidate.ID] = w
	q.mu.Unlock()

	go func() {
		handle.Wait()
		close(done)
	}()

	return nil
}

func (q *Queen) countActiveRole(role string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, w := range q.active {
		if w.role == role {
			n++
		}
	}
	return n
}

// collectFinished removes and returns every active_workers entry whose
// process has exited, without blocking on any still-running one
// (spec §4.5 step 3, "poll process liveness (non-blocking)").
func (q *Queen) collectFinished() []*activeWorker {
	q.mu.Lock()
	defer q.mu.Unlock()

	var finished []*activeWorker
	for id, w := range q.active {
		select {
		case <-w.done:
			finished = append(finished, w)
			delete(q.active, id)
		default:
		}
	}
	return finished
}

type finishedWorker struct {
	worker *activeWorker
	run    *models.Run
	task   *models.Task
	err    error
}

func (q *Queen) monitorActiveWorkers(ctx context.Context) error {
	if q.cfg.Async && !q.cfg.SimpleMode {
		return q.monitorActiveWorkersAsync(ctx)
	}
	return q.monitorActiveWorkersSync(ctx)
}

// monitorActiveWorkersSync implements spec §4.5 step 3 sequentially: one
// finished worker at a time, store reads followed immediately by the
// corresponding phase-advance or retry/failure write.
func (q *Queen) monitorActiveWorkersSync(ctx context.Context) error {
	for _, w := range q.collectFinished() {
		run, err := q.store.GetRun(ctx, w.runID)
		if err != nil {
			q.log.Warn("monitor: load run %s for task %s: %v", w.runID, w.taskID, err)
			continue
		}
		task, err := q.store.GetTask(ctx, w.taskID)
		if err != nil {
			q.log.Warn("monitor: load task %s: %v", w.taskID, err)
			continue
		}
		q.applyMonitorResult(ctx, finishedWorker{worker: w, run: run, task: task})
	}
	return nil
}

// monitorActiveWorkersAsync is the cooperative variant (spec §9 design
// note): it fans the non-blocking store reads for every finished worker
// out across an errgroup, then applies every resulting phase-advance or
// retry/failure write back sequentially in this goroutine, so task state
// transitions stay single-owner per §3.2/§5.
func (q *Queen) monitorActiveWorkersAsync(ctx context.Context) error {
	finished := q.collectFinished()
	if len(finished) == 0 {
		return nil
	}

	results := make([]finishedWorker, len(finished))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range finished {
		i, w := i, w
		g.Go(func() error {
			run, err := q.store.GetRun(gctx, w.runID)
			if err != nil {
				results[i] = finishedWorker{worker: w, err: err}
				return nil
			}
			task, err := q.store.GetTask(gctx, w.taskID)
			results[i] = finishedWorker{worker: w, run: run, task: task, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		q.applyMonitorResult(ctx, r)
	}
	return nil
}

func (q *Queen) applyMonitorResult(ctx context.Context, r finishedWorker) {
	if r.err != nil || r.run == nil || r.task == nil {
		q.log.Warn("monitor: failed to load result for task %s: %v", r.worker.taskID, r.err)
		return
	}
	q.recordDuration(time.Since(r.worker.startTime))

	if r.run.Status == models.RunStatusSuccess {
		if err := q.advancePhase(ctx, r.task); err != nil {
			q.log.Error("phase advancement failed for task %s: %v", r.task.ID, err)
		}
		return
	}
	if err := q.applyRetryOrFailure(ctx, r.task, r.run.ErrorMessage); err != nil {
		q.log.Error("retry/failure policy failed for task %s: %v", r.task.ID, err)
	}
}

// recoverZombies implements spec §4.5 step 4: in_progress tasks no longer
// tracked in active_workers (this process restarted, or the entry was
// already reaped) that have sat untouched past zombie_detection_minutes
// are silently reset to queued/plan.
func (q *Queen) recoverZombies(ctx context.Context) error {
	tasks, err := q.store.GetTasksByStatus(ctx, models.StatusInProgress)
	if err != nil {
		return fmt.Errorf("list in_progress tasks: %w", err)
	}
	threshold := time.Duration(q.cfg.ZombieDetectionMinutes) * time.Minute

	q.mu.Lock()
	active := make(map[string]bool, len(q.active))
	for id := range q.active {
		active[id] = true
	}
	q.mu.Unlock()

	for _, t := range tasks {
		if active[t.ID] {
			continue
		}
		if t.StartedAt == nil || time.Since(*t.StartedAt) < threshold {
			continue
		}
		if err := q.store.ClearAssignment(ctx, t.ID, models.StatusQueued, "plan"); err != nil {
			q.log.Warn("zombie recovery failed for task %s: %v", t.ID, err)
		}
	}
	return nil
}

// isIdle implements spec §4.5 step 6.
func (q *Queen) isIdle(ctx context.Context) (bool, error) {
	q.mu.Lock()
	active := len(q.active)
	q.mu.Unlock()
	if active > 0 {
		return false, nil
	}

	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return false, fmt.Errorf("count tasks by status: %w", err)
	}
	if counts[models.StatusQueued] > 0 || counts[models.StatusAssigned] > 0 ||
		counts[models.StatusInProgress] > 0 || counts[models.StatusReviewPending] > 0 {
		return false, nil
	}
	return counts[models.StatusCompleted] > 0 || counts[models.StatusFailed] > 0, nil
}
