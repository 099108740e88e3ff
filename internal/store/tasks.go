package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/harrison/conductor/internal/errors"
	"github.com/harrison/conductor/internal/models"
)

// CreateTaskParams carries the optional fields accepted by CreateTask.
type CreateTaskParams struct {
	Title        string
	TaskType     string
	Description  string
	Workflow     models.Workflow
	Payload      models.Payload
	Priority     int
	MaxRetries   int
	Tags         []string
	CurrentPhase string
}

// CreateTask inserts a new task and returns its generated id.
func (s *Store) CreateTask(ctx context.Context, p CreateTaskParams) (string, error) {
	if p.Priority == 0 {
		p.Priority = 1
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.CurrentPhase == "" {
		p.CurrentPhase = "start"
	}

	id := uuid.NewString()
	workflowJSON, err := marshalOrNil(p.Workflow)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_task", err)
	}
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_task", err)
	}
	tagsJSON, err := marshalOrNil(p.Tags)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_task", err)
	}
	dependsOnJSON, err := marshalOrNil(p.Payload.Dependencies)
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_task", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks
				(id, title, description, task_type, priority, status, current_phase,
				 workflow, payload, max_retries, tags, retry_count, depends_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			id, p.Title, p.Description, p.TaskType, p.Priority, models.StatusQueued, p.CurrentPhase,
			workflowJSON, string(payloadJSON), p.MaxRetries, tagsJSON, dependsOnJSON)
		return err
	})
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindStore, "store", "create_task", err)
	}
	return id, nil
}

const taskColumns = `id, title, description, task_type, priority, status, current_phase,
	workflow, payload, created_at, updated_at, assigned_worker, due_date, max_retries,
	tags, retry_count, assignee, assigned_at, started_at, completed_at, failure_reason,
	worktree, workspace_type, depends_on`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	var t models.Task
	var (
		workflowJSON, payloadJSON, tagsJSON, dependsOnJSON sql.NullString
		dueDate, assignedAt, startedAt, completedAt         sql.NullTime
	)

	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.TaskType, &t.Priority, &t.Status, &t.CurrentPhase,
		&workflowJSON, &payloadJSON, &t.CreatedAt, &t.UpdatedAt, &t.AssignedWorker, &dueDate, &t.MaxRetries,
		&tagsJSON, &t.RetryCount, &t.Assignee, &assignedAt, &startedAt, &completedAt, &t.FailureReason,
		&t.Worktree, &t.WorkspaceType, &dependsOnJSON,
	)
	if err != nil {
		return nil, err
	}

	if workflowJSON.Valid && workflowJSON.String != "" {
		if err := json.Unmarshal([]byte(workflowJSON.String), &t.Workflow); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &t.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &t.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if dependsOnJSON.Valid && dependsOnJSON.String != "" {
		if err := json.Unmarshal([]byte(dependsOnJSON.String), &t.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal depends_on: %w", err)
		}
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	if assignedAt.Valid {
		t.AssignedAt = &assignedAt.Time
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// GetTask returns the task with the given id, or cerrors.ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, cerrors.ErrNotFound
	}
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_task", err)
	}
	return t, nil
}

// GetQueuedTasks returns queued tasks ordered by priority desc, created_at
// asc, optionally filtered by task_type. It does NOT apply the planned_subtask
// priority boost (spec §9 open question).
func (s *Store) GetQueuedTasks(ctx context.Context, limit int, taskType string) ([]*models.Task, error) {
	query := "SELECT " + taskColumns + ` FROM tasks WHERE status = ?`
	args := []interface{}{models.StatusQueued}
	if taskType != "" {
		query += " AND task_type = ?"
		args = append(args, taskType)
	}
	query += " ORDER BY priority DESC, created_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_queued_tasks", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_queued_tasks", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetQueuedTasksWithPlanning returns queued tasks, including planned
// subtasks whose parent plan is generated/approved/executing, boosting
// planned_subtask priority by +10 in the ordering and annotating each row
// with DependenciesMet (spec §4.1).
func (s *Store) GetQueuedTasksWithPlanning(ctx context.Context, limit int, taskType string) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `,
			(priority + CASE WHEN task_type = 'planned_subtask' THEN 10 ELSE 0 END) AS effective_priority
		FROM tasks
		WHERE status = ?
			AND (
				task_type != 'planned_subtask'
				OR json_extract(payload, '$.parent_plan_id') IN (
					SELECT id FROM execution_plans WHERE status IN ('generated', 'approved', 'executing')
				)
			)`
	args := []interface{}{models.StatusQueued}
	if taskType != "" {
		query += " AND task_type = ?"
		args = append(args, taskType)
	}
	query += " ORDER BY effective_priority DESC, created_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_queued_tasks_with_planning", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTaskIgnoringExtra(rows)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_queued_tasks_with_planning", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_queued_tasks_with_planning", err)
	}

	// Batch-resolve dependencies in a single query rather than one round
	// trip per candidate task.
	if err := s.annotateDependenciesMet(ctx, tasks); err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_queued_tasks_with_planning", err)
	}
	return tasks, nil
}

// scanTaskIgnoringExtra scans the task columns plus one trailing integer
// column, discarding the trailing value (used for query-local ordering
// expressions that aren't part of the Task model).
func scanTaskIgnoringExtra(row *sql.Rows) (*models.Task, error) {
	var t models.Task
	var (
		workflowJSON, payloadJSON, tagsJSON, dependsOnJSON sql.NullString
		dueDate, assignedAt, startedAt, completedAt         sql.NullTime
		effectivePriority                                   int
	)

	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.TaskType, &t.Priority, &t.Status, &t.CurrentPhase,
		&workflowJSON, &payloadJSON, &t.CreatedAt, &t.UpdatedAt, &t.AssignedWorker, &dueDate, &t.MaxRetries,
		&tagsJSON, &t.RetryCount, &t.Assignee, &assignedAt, &startedAt, &completedAt, &t.FailureReason,
		&t.Worktree, &t.WorkspaceType, &dependsOnJSON, &effectivePriority,
	)
	if err != nil {
		return nil, err
	}

	if workflowJSON.Valid && workflowJSON.String != "" {
		if err := json.Unmarshal([]byte(workflowJSON.String), &t.Workflow); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &t.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &t.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if dependsOnJSON.Valid && dependsOnJSON.String != "" {
		if err := json.Unmarshal([]byte(dependsOnJSON.String), &t.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal depends_on: %w", err)
		}
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	if assignedAt.Valid {
		t.AssignedAt = &assignedAt.Time
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// annotateDependenciesMet batch-resolves payload.dependencies for a set of
// tasks in a single query per distinct dependency id set.
func (s *Store) annotateDependenciesMet(ctx context.Context, tasks []*models.Task) error {
	depSet := map[string]bool{}
	for _, t := range tasks {
		if !t.IsPlannedSubtask() {
			continue
		}
		for _, d := range t.Payload.Dependencies {
			depSet[d] = true
		}
	}
	if len(depSet) == 0 {
		for _, t := range tasks {
			if !t.IsPlannedSubtask() {
				t.DependenciesMet = true
			}
		}
		return nil
	}

	placeholders := make([]string, 0, len(depSet))
	args := make([]interface{}, 0, len(depSet))
	for id := range depSet {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT id, status FROM tasks WHERE id IN (%s)
		UNION
		SELECT json_extract(payload, '$.subtask_id'), status FROM tasks
		WHERE json_extract(payload, '$.subtask_id') IN (%s)`,
		strings.Join(placeholders, ","), strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, append(args, args...)...)
	if err != nil {
		return err
	}
	defer rows.Close()

	completed := map[string]bool{}
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return err
		}
		if status == models.StatusCompleted {
			completed[id] = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range tasks {
		if !t.IsPlannedSubtask() {
			t.DependenciesMet = true
			continue
		}
		met := true
		for _, d := range t.Payload.Dependencies {
			if !completed[d] {
				met = false
				break
			}
		}
		t.DependenciesMet = met
	}
	return nil
}

// UpdateTaskStatusParams carries the optional metadata fields
// update_task_status may set (spec §4.1).
type UpdateTaskStatusParams struct {
	Assignee      *string
	AssignedAt    *time.Time
	CurrentPhase  *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	FailureReason *string
	RetryCount    *int
	Worktree      *string
	WorkspaceType *string
}

// UpdateTaskStatus transitions a task's status and applies any metadata
// fields supplied. Column additions are additive only (never destructive).
func (s *Store) UpdateTaskStatus(ctx context.Context, id, status string, meta UpdateTaskStatusParams) error {
	sets := []string{"status = ?", "updated_at = CURRENT_TIMESTAMP"}
	args := []interface{}{status}

	if meta.Assignee != nil {
		sets = append(sets, "assignee = ?")
		args = append(args, *meta.Assignee)
	}
	if meta.AssignedAt != nil {
		sets = append(sets, "assigned_at = ?")
		args = append(args, *meta.AssignedAt)
	}
	if meta.CurrentPhase != nil {
		sets = append(sets, "current_phase = ?")
		args = append(args, *meta.CurrentPhase)
	}
	if meta.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *meta.StartedAt)
	}
	if meta.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *meta.CompletedAt)
	}
	if meta.FailureReason != nil {
		sets = append(sets, "failure_reason = ?")
		args = append(args, *meta.FailureReason)
	}
	if meta.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *meta.RetryCount)
	}
	if meta.Worktree != nil {
		sets = append(sets, "worktree = ?")
		args = append(args, *meta.Worktree)
	}
	if meta.WorkspaceType != nil {
		sets = append(sets, "workspace_type = ?")
		args = append(args, *meta.WorkspaceType)
	}

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ?", strings.Join(sets, ", "))
	args = append(args, id)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return cerrors.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if err == cerrors.ErrNotFound {
			return err
		}
		return cerrors.Wrap(cerrors.KindStore, "store", "update_task_status", err)
	}
	return nil
}

// ClearAssignment resets a task's scheduling metadata, used by zombie
// recovery, Queen's spawn-failure revert, and the `queue`/`reset`/`clear`
// CLI commands.
func (s *Store) ClearAssignment(ctx context.Context, id, status, currentPhase string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, current_phase = ?, assignee = NULL,
			assigned_at = NULL, started_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, currentPhase, id)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "clear_assignment", err)
	}
	return nil
}

// CheckSubtaskDependencies reports whether every id in payload.dependencies
// resolves to a task in StatusCompleted (spec §4.1).
func (s *Store) CheckSubtaskDependencies(ctx context.Context, taskID string) (bool, error) {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if len(t.Payload.Dependencies) == 0 {
		return true, nil
	}

	placeholders := make([]string, len(t.Payload.Dependencies))
	args := make([]interface{}, len(t.Payload.Dependencies))
	for i, d := range t.Payload.Dependencies {
		placeholders[i] = "?"
		args[i] = d
	}
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM tasks
		WHERE (id IN (%s) OR json_extract(payload, '$.subtask_id') IN (%s))
			AND status = ?`,
		strings.Join(placeholders, ","), strings.Join(placeholders, ","))
	args = append(append(args, args...), models.StatusCompleted)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, cerrors.Wrap(cerrors.KindStore, "store", "check_subtask_dependencies", err)
	}
	return count >= len(t.Payload.Dependencies), nil
}

// GetTasksByStatus lists tasks in a given status, newest first. Used by
// zombie recovery and the `list`/`status` CLI commands.
func (s *Store) GetTasksByStatus(ctx context.Context, status string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE status = ? ORDER BY created_at DESC", status)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_tasks_by_status", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "get_tasks_by_status", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListTasks returns all tasks, newest first, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status string) ([]*models.Task, error) {
	if status != "" {
		return s.GetTasksByStatus(ctx, status)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY created_at DESC")
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "list_tasks", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "list_tasks", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountByStatus returns the number of tasks in each status, for the
// `status` CLI command.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "count_by_status", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "count_by_status", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func marshalOrNil(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case models.Workflow:
		if val == nil {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
