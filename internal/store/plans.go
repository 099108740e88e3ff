package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/harrison/conductor/internal/errors"
	"github.com/harrison/conductor/internal/models"
)

// CreateExecutionPlan inserts a new plan in StatusGenerated, linked to the
// planning queue entry it was generated from.
func (s *Store) CreateExecutionPlan(ctx context.Context, planningTaskID string, data models.PlanData) (string, error) {
	id := uuid.NewString()
	planJSON, err := json.Marshal(data)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_execution_plan", err)
	}

	depCount := 0
	for _, st := range data.SubTasks {
		depCount += len(st.Dependencies)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_plans (id, planning_task_id, plan_data, subtask_count, dependency_count, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, planningTaskID, string(planJSON), len(data.SubTasks), depCount, models.PlanStatusGenerated)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_execution_plan", err)
	}
	return id, nil
}

// GetExecutionPlan returns a plan by id.
func (s *Store) GetExecutionPlan(ctx context.Context, id string) (*models.ExecutionPlan, error) {
	var p models.ExecutionPlan
	var planDataJSON string
	var planningTaskID sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, planning_task_id, plan_data, estimated_duration, estimated_complexity,
			subtask_count, dependency_count, generated_at, status, updated_at
		FROM execution_plans WHERE id = ?`, id).Scan(
		&p.ID, &planningTaskID, &planDataJSON, &p.EstimatedDuration, &p.EstimatedComplexity,
		&p.SubtaskCount, &p.DependencyCount, &p.GeneratedAt, &p.Status, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, cerrors.ErrNotFound
	}
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_execution_plan", err)
	}
	p.PlanningTaskID = planningTaskID.String
	if err := json.Unmarshal([]byte(planDataJSON), &p.PlanData); err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_execution_plan", err)
	}
	return &p, nil
}

// GetExecutionPlanStatus returns a plan's status, served from a 60s TTL
// cache when available (spec §4.1).
func (s *Store) GetExecutionPlanStatus(ctx context.Context, planID string) (string, error) {
	if status, ok := s.planCache.get(planID); ok {
		return status, nil
	}

	var status string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM execution_plans WHERE id = ?", planID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", cerrors.ErrNotFound
	}
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "get_execution_plan_status", err)
	}
	s.planCache.set(planID, status)
	return status, nil
}

// MarkPlanExecutionStarted transitions a plan generated|approved -> executing.
// Idempotent: calling it again once executing is a no-op (invariant 7).
func (s *Store) MarkPlanExecutionStarted(ctx context.Context, planID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_plans SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?)`,
		models.PlanStatusExecuting, planID, models.PlanStatusGenerated, models.PlanStatusApproved)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "mark_plan_execution_started", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "mark_plan_execution_started", err)
	}
	s.planCache.invalidate(planID)
	return nil
}

// UpdatePlanStatus sets a plan's status directly (used by
// update_execution_plan_progress in package planbridge).
func (s *Store) UpdatePlanStatus(ctx context.Context, planID, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE execution_plans SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", status, planID)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "update_plan_status", err)
	}
	s.planCache.invalidate(planID)
	return nil
}

// UpdatePlanData rewrites a plan's plan_data blob (used when PlanBridge
// rewrites embedded subtask statuses).
func (s *Store) UpdatePlanData(ctx context.Context, planID string, data models.PlanData) error {
	planJSON, err := json.Marshal(data)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "update_plan_data", err)
	}
	_, err = s.db.ExecContext(ctx, "UPDATE execution_plans SET plan_data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(planJSON), planID)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "update_plan_data", err)
	}
	return nil
}

// CreatePlannedSubtasksFromPlan materializes a planned_subtask Task for
// each entry in plan_data.sub_tasks not already present, and returns the
// number of tasks inserted (spec §4.1).
func (s *Store) CreatePlannedSubtasksFromPlan(ctx context.Context, planID string) (int, error) {
	plan, err := s.GetExecutionPlan(ctx, planID)
	if err != nil {
		return 0, err
	}

	inserted := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, st := range plan.PlanData.SubTasks {
			var exists int
			err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM tasks
				WHERE task_type = ? AND json_extract(payload, '$.parent_plan_id') = ?
					AND json_extract(payload, '$.subtask_id') = ?`,
				models.TaskTypePlannedSubtask, planID, st.ID).Scan(&exists)
			if err != nil {
				return err
			}
			if exists > 0 {
				continue
			}

			payload := models.Payload{
				ParentPlanID:   planID,
				SubtaskID:      st.ID,
				Dependencies:   st.Dependencies,
				WorkflowPhase:  st.WorkflowPhase,
				RequiredSkills: st.RequiredSkills,
				Deliverables:   st.Deliverables,
				Assignee:       st.Assignee,
			}
			payloadJSON, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			dependsOnJSON, err := json.Marshal(st.Dependencies)
			if err != nil {
				return err
			}

			priority := st.Priority
			if priority == 0 {
				priority = 1
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO tasks (id, title, description, task_type, priority, status,
					current_phase, payload, max_retries, retry_count, depends_on)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
				uuid.NewString(), st.Title, st.Description, models.TaskTypePlannedSubtask, priority,
				models.StatusQueued, "start", string(payloadJSON), 3, string(dependsOnJSON))
			if err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, cerrors.Wrap(cerrors.KindStore, "store", "create_planned_subtasks_from_plan", err)
	}
	return inserted, nil
}

// DeleteExecutionPlan removes a plan and its materialized planned_subtask
// rows, subtasks first to satisfy the foreign-key-safe delete order
// (used by cleanup_completed_plans in package planbridge).
func (s *Store) DeleteExecutionPlan(ctx context.Context, planID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM tasks
			WHERE task_type = ? AND json_extract(payload, '$.parent_plan_id') = ?`,
			models.TaskTypePlannedSubtask, planID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM execution_plans WHERE id = ?", planID)
		return err
	})
}

// ListExecutionPlansByStatus lists plans in a given status older than
// olderThan (used by cleanup_completed_plans).
func (s *Store) ListExecutionPlansByStatus(ctx context.Context, status string, olderThan time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM execution_plans WHERE status = ? AND generated_at < ?", status, olderThan)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "list_execution_plans_by_status", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSubtasksForPlan returns every planned_subtask Task materialized from
// planID, used to compute plan completion/progress.
func (s *Store) GetSubtasksForPlan(ctx context.Context, planID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+`
		FROM tasks
		WHERE task_type = ? AND json_extract(payload, '$.parent_plan_id') = ?`,
		models.TaskTypePlannedSubtask, planID)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_subtasks_for_plan", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_subtasks_for_plan", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetReadyPlannedSubtasks returns queued planned_subtask tasks whose parent
// plan is non-terminal and every dependency resolves to a completed task
// (spec §4.4 get_ready_planned_subtasks).
func (s *Store) GetReadyPlannedSubtasks(ctx context.Context, limit int) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		WHERE t.task_type = ?
			AND t.status = ?
			AND json_extract(t.payload, '$.parent_plan_id') IN (
				SELECT id FROM execution_plans WHERE status IN (?, ?, ?)
			)
		ORDER BY t.priority DESC, t.created_at ASC
		LIMIT ?`,
		models.TaskTypePlannedSubtask, models.StatusQueued,
		models.PlanStatusGenerated, models.PlanStatusApproved, models.PlanStatusExecuting, limit*4)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_ready_planned_subtasks", err)
	}
	defer rows.Close()

	var candidates []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_ready_planned_subtasks", err)
		}
		candidates = append(candidates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_ready_planned_subtasks", err)
	}

	if err := s.annotateDependenciesMet(ctx, candidates); err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_ready_planned_subtasks", err)
	}

	ready := make([]*models.Task, 0, limit)
	for _, t := range candidates {
		if t.DependenciesMet {
			ready = append(ready, t)
			if len(ready) == limit {
				break
			}
		}
	}
	return ready, nil
}

// --- Planning queue ---

// CreatePlanningQueueEntry inserts a new planning-queue request.
func (s *Store) CreatePlanningQueueEntry(ctx context.Context, description, requestor string, priority int, contextData map[string]interface{}) (string, error) {
	id := uuid.NewString()
	ctxJSON, err := json.Marshal(contextData)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_planning_queue_entry", err)
	}
	if priority == 0 {
		priority = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO planning_queue (id, task_description, priority, requestor, context_data, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, description, priority, requestor, string(ctxJSON), models.PlanningStatusPending)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_planning_queue_entry", err)
	}
	return id, nil
}

// GetPendingPlanningEntries returns up to limit entries in StatusPending,
// ordered by priority desc (spec §4.4 monitor_planning_queue_changes).
func (s *Store) GetPendingPlanningEntries(ctx context.Context, limit int) ([]*models.PlanningQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_description, priority, requestor, context_data, status,
			complexity_estimate, created_at, assigned_at, completed_at, assigned_agent
		FROM planning_queue WHERE status = ? ORDER BY priority DESC LIMIT ?`,
		models.PlanningStatusPending, limit)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_pending_planning_entries", err)
	}
	defer rows.Close()

	var entries []*models.PlanningQueueEntry
	for rows.Next() {
		e, err := scanPlanningEntry(rows)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_pending_planning_entries", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanPlanningEntry(row interface{ Scan(...interface{}) error }) (*models.PlanningQueueEntry, error) {
	var e models.PlanningQueueEntry
	var contextJSON sql.NullString
	var assignedAt, completedAt sql.NullTime

	err := row.Scan(&e.ID, &e.TaskDescription, &e.Priority, &e.Requestor, &contextJSON, &e.Status,
		&e.ComplexityEstimate, &e.CreatedAt, &assignedAt, &completedAt, &e.AssignedAgent)
	if err != nil {
		return nil, err
	}
	if contextJSON.Valid && contextJSON.String != "" {
		json.Unmarshal([]byte(contextJSON.String), &e.ContextData)
	}
	if assignedAt.Valid {
		e.AssignedAt = &assignedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}

// UpdatePlanningEntryStatus transitions a planning-queue entry's status.
func (s *Store) UpdatePlanningEntryStatus(ctx context.Context, id, status, assignedAgent string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE planning_queue SET status = ?, assigned_agent = ?,
			assigned_at = CASE WHEN ? = ? THEN CURRENT_TIMESTAMP ELSE assigned_at END,
			completed_at = CASE WHEN ? = ? THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?`,
		status, assignedAgent, status, models.PlanningStatusAssigned, status, models.PlanningStatusPlanned, id)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "update_planning_entry_status", err)
	}
	return nil
}
