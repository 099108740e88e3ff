package queen

import (
	"context"
	"fmt"
	"time"

	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/store"
)

// advancePhase implements spec §4.5 Phase advancement (success path).
func (q *Queen) advancePhase(ctx context.Context, task *models.Task) error {
	if task.Workflow != nil {
		next, ok := task.Workflow.NextPhaseOnSuccess(task.CurrentPhase)
		if ok {
			switch next {
			case "completed":
				return q.completeTask(ctx, task)
			case "failed":
				return q.failTask(ctx, task, fmt.Sprintf("workflow terminated phase %q as failed", task.CurrentPhase))
			default:
				return q.requeueForPhase(ctx, task, next)
			}
		}
	}

	// No workflow (or no entry for this phase): fixed apply -> test ->
	// completed flow. The test phase is spawned immediately, synchronously
	// within this monitor step, rather than waiting for the next tick's
	// admission pass.
	if task.CurrentPhase == "apply" {
		return q.spawnPhaseImmediately(ctx, task, "test")
	}
	return q.completeTask(ctx, task)
}

func (q *Queen) requeueForPhase(ctx context.Context, task *models.Task, phase string) error {
	return q.store.UpdateTaskStatus(ctx, task.ID, models.StatusQueued, store.UpdateTaskStatusParams{
		CurrentPhase: &phase,
	})
}

// spawnPhaseImmediately admits task into the given phase right away. If the
// target role is already at capacity, it falls back to the normal queued
// path so a later tick's admission step picks it up instead.
func (q *Queen) spawnPhaseImmediately(ctx context.Context, task *models.Task, phase string) error {
	role := task.WorkerRole()
	if q.countActiveRole(role) >= q.cfg.capForRole(role) {
		return q.requeueForPhase(ctx, task, phase)
	}
	return q.admitCandidate(ctx, task, phase)
}

func (q *Queen) completeTask(ctx context.Context, task *models.Task) error {
	completedAt := time.Now().UTC()
	if err := q.store.UpdateTaskStatus(ctx, task.ID, models.StatusCompleted, store.UpdateTaskStatusParams{
		CompletedAt: &completedAt,
	}); err != nil {
		return err
	}
	q.syncPlanProgress(ctx, task, models.StatusCompleted)

	_, err := q.bus.Publish(ctx, models.Event{
		EventType:   models.EventTaskCompleted,
		SourceAgent: q.id(),
		Payload:     map[string]interface{}{"task_id": task.ID},
	})
	return err
}

func (q *Queen) failTask(ctx context.Context, task *models.Task, reason string) error {
	if reason == "" {
		reason = "task failed"
	}
	if err := q.store.UpdateTaskStatus(ctx, task.ID, models.StatusFailed, store.UpdateTaskStatusParams{
		FailureReason: &reason,
	}); err != nil {
		return err
	}
	q.syncPlanProgress(ctx, task, models.StatusFailed)

	_, err := q.bus.Publish(ctx, models.Event{
		EventType:   models.EventTaskFailed,
		SourceAgent: q.id(),
		Payload:     map[string]interface{}{"task_id": task.ID, "reason": reason},
	})
	return err
}

// syncPlanProgress propagates a planned subtask's terminal status back to
// its parent ExecutionPlan (spec §4.4), logging rather than failing the
// caller's own transition if the sync itself errors.
func (q *Queen) syncPlanProgress(ctx context.Context, task *models.Task, status string) {
	if !task.IsPlannedSubtask() {
		return
	}
	if _, err := q.bridge.SyncSubtaskStatusToPlan(ctx, task.ID, status); err != nil {
		q.log.Warn("sync plan progress for task %s: %v", task.ID, err)
	}
}

// applyRetryOrFailure implements spec §4.5 Retry/failure policy.
func (q *Queen) applyRetryOrFailure(ctx context.Context, task *models.Task, failureReason string) error {
	limit := task.MaxRetries
	if limit <= 0 {
		limit = q.cfg.TaskRetryLimit
	}
	if task.RetryCount < limit {
		next := task.RetryCount + 1
		return q.store.UpdateTaskStatus(ctx, task.ID, models.StatusQueued, store.UpdateTaskStatusParams{
			RetryCount: &next,
		})
	}
	return q.failTask(ctx, task, failureReason)
}
