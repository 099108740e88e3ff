// Package planbridge converts approved plans into executable queued
// subtasks, and propagates subtask terminal states back to plan progress
// (spec §4.4).
package planbridge

import (
	"context"
	"time"

	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/store"
)

// Bridge wraps a Store with the plan/subtask synchronization operations.
type Bridge struct {
	store *store.Store
}

// New creates a Bridge over s.
func New(s *store.Store) *Bridge {
	return &Bridge{store: s}
}

// GetReadyPlannedSubtasks returns subtasks whose parent plan is non-terminal
// and every dependency is completed. The tasks carry DependenciesMet but no
// PlannerContext; PlannerContextFor builds one from a task's payload.
func (b *Bridge) GetReadyPlannedSubtasks(ctx context.Context, limit int) ([]*models.Task, error) {
	tasks, err := b.store.GetReadyPlannedSubtasks(ctx, limit)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// PlannerContextFor builds the enrichment object spec §4.4 attaches to each
// ready planned subtask.
func PlannerContextFor(t *models.Task) models.PlannerContext {
	p := t.Payload
	return models.PlannerContext{
		ParentPlanID:      p.ParentPlanID,
		SubtaskID:         p.SubtaskID,
		WorkflowPhase:     p.WorkflowPhase,
		EstimatedDuration: p.EstimatedDuration,
		RequiredSkills:    p.RequiredSkills,
		Deliverables:      p.Deliverables,
		Complexity:        p.Complexity,
		Assignee:          p.Assignee,
	}
}

// MonitorPlanningQueueChanges returns newly pending planning-queue entries,
// up to 10, ordered by priority desc.
func (b *Bridge) MonitorPlanningQueueChanges(ctx context.Context) ([]*models.PlanningQueueEntry, error) {
	return b.store.GetPendingPlanningEntries(ctx, 10)
}

// planStatusFromSubtaskStatuses applies the overall-plan-status rule: all
// completed -> completed; any failed -> failed; any in_progress/assigned
// -> executing; else generated.
func planStatusFromSubtaskStatuses(statuses []string) string {
	if len(statuses) == 0 {
		return models.PlanStatusGenerated
	}

	allCompleted := true
	anyFailed := false
	anyActive := false
	for _, s := range statuses {
		switch s {
		case models.StatusCompleted:
		case models.StatusFailed:
			anyFailed = true
			allCompleted = false
		case models.StatusInProgress, models.StatusAssigned:
			anyActive = true
			allCompleted = false
		default:
			allCompleted = false
		}
	}

	switch {
	case allCompleted:
		return models.PlanStatusCompleted
	case anyFailed:
		return models.PlanStatusFailed
	case anyActive:
		return models.PlanStatusExecuting
	default:
		return models.PlanStatusGenerated
	}
}

// UpdateExecutionPlanProgress rewrites the embedded subtask statuses in
// plan_data for the given subtask_id -> new_status map, recomputes the
// overall plan status, and writes both back with two separate
// single-statement updates (UpdatePlanData, then UpdatePlanStatus). The two
// writes do not share a transaction: if the status update fails, the
// rewritten plan_data stays in place and the error is returned.
func (b *Bridge) UpdateExecutionPlanProgress(ctx context.Context, planID string, updates map[string]string) (bool, error) {
	plan, err := b.store.GetExecutionPlan(ctx, planID)
	if err != nil {
		return false, err
	}

	statuses := make([]string, 0, len(plan.PlanData.SubTasks))
	for i := range plan.PlanData.SubTasks {
		st := &plan.PlanData.SubTasks[i]
		if newStatus, ok := updates[st.ID]; ok {
			st.Status = newStatus
		}
		statuses = append(statuses, st.Status)
	}

	if err := b.store.UpdatePlanData(ctx, planID, plan.PlanData); err != nil {
		return false, err
	}

	newPlanStatus := planStatusFromSubtaskStatuses(statuses)
	if err := b.store.UpdatePlanStatus(ctx, planID, newPlanStatus); err != nil {
		return false, err
	}
	return true, nil
}

// SyncSubtaskStatusToPlan looks up task_id's payload for its parent plan and
// subtask id, then delegates to UpdateExecutionPlanProgress.
func (b *Bridge) SyncSubtaskStatusToPlan(ctx context.Context, taskID, newStatus string) (bool, error) {
	task, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !task.Payload.IsPlannedSubtask() {
		return false, nil
	}
	return b.UpdateExecutionPlanProgress(ctx, task.Payload.ParentPlanID, map[string]string{
		task.Payload.SubtaskID: newStatus,
	})
}

// GetPlanCompletionStatus joins live task statuses to plan entries.
func (b *Bridge) GetPlanCompletionStatus(ctx context.Context, planID string) (*models.PlanCompletionStatus, error) {
	subtasks, err := b.store.GetSubtasksForPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	status := &models.PlanCompletionStatus{Total: len(subtasks)}
	for _, t := range subtasks {
		switch t.Status {
		case models.StatusCompleted:
			status.Completed++
		case models.StatusFailed:
			status.Failed++
			status.HasFailures = true
		case models.StatusInProgress, models.StatusAssigned:
			status.InProgress++
		case models.StatusQueued:
			status.Queued++
		}
	}
	if status.Total > 0 {
		status.CompletionPercentage = float64(status.Completed) / float64(status.Total) * 100
	}
	status.IsComplete = status.Total > 0 && status.Completed == status.Total

	return status, nil
}

// TriggerPlanExecution materializes any missing subtasks and marks the plan
// executing. Idempotent: re-running it on an already-executing plan with
// all subtasks materialized is a no-op beyond the status check.
func (b *Bridge) TriggerPlanExecution(ctx context.Context, planID string) (bool, error) {
	if _, err := b.store.CreatePlannedSubtasksFromPlan(ctx, planID); err != nil {
		return false, err
	}
	if err := b.store.MarkPlanExecutionStarted(ctx, planID); err != nil {
		return false, err
	}
	return true, nil
}

// CleanupCompletedPlans deletes completed plans (and their materialized
// subtasks) older than maxAgeDays, returning the count removed.
func (b *Bridge) CleanupCompletedPlans(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)

	ids, err := b.store.ListExecutionPlansByStatus(ctx, models.PlanStatusCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := b.store.DeleteExecutionPlan(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
