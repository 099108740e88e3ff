// Package models defines the entities persisted by the Store: Task, Run,
// Worker, PlanningQueueEntry, ExecutionPlan, and Event.
package models

import (
	"errors"
	"time"
)

// Task status values (spec §3.1).
const (
	// StatusPlanned marks a task materialized by an external planner or
	// PlanBridge that is not yet eligible for scheduling; Queen's
	// workflow.plan_generated handler (spec §4.6) is what moves it to
	// StatusQueued.
	StatusPlanned      = "planned"
	StatusQueued       = "queued"
	StatusAssigned     = "assigned"
	StatusInProgress   = "in_progress"
	StatusReviewPending = "review_pending"
	StatusApproved     = "approved"
	StatusRejected     = "rejected"
	StatusReworkNeeded = "rework_needed"
	StatusEscalated    = "escalated"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusCancelled    = "cancelled"
)

// TaskTypePlannedSubtask is the distinguished task_type that triggers
// dependency-gate checks before a task may leave StatusQueued.
const TaskTypePlannedSubtask = "planned_subtask"

// PhaseTransition names the successor phase on success or failure of the
// current phase. "completed" and "failed" are terminal sentinels rather
// than phase names.
type PhaseTransition struct {
	NextPhaseOnSuccess string `json:"next_phase_on_success"`
	NextPhaseOnFailure string `json:"next_phase_on_failure"`
}

// Workflow maps a phase name to its transition. A nil Workflow means the
// fixed apply -> test -> completed flow applies (spec §4.5).
type Workflow map[string]PhaseTransition

// Task is a unit of work in the scheduler's queue.
type Task struct {
	ID             string
	Title          string
	Description    string
	TaskType       string
	Priority       int
	Status         string
	CurrentPhase   string
	Workflow       Workflow
	Payload        Payload
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AssignedWorker string
	DueDate        *time.Time
	MaxRetries     int
	Tags           []string
	RetryCount     int
	Assignee       string
	AssignedAt     *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	FailureReason  string
	Worktree       string
	WorkspaceType  string
	DependsOn      []string

	// DependenciesMet is populated by get_queued_tasks_with_planning and
	// get_ready_planned_subtasks; it is not a persisted column.
	DependenciesMet bool
}

// Validate checks the fields required to create a task.
func (t *Task) Validate() error {
	if t.Title == "" {
		return errors.New("task title is required")
	}
	if t.TaskType == "" {
		return errors.New("task type is required")
	}
	return nil
}

// IsPlannedSubtask reports whether dependency-gate checks apply to this task.
func (t *Task) IsPlannedSubtask() bool {
	return t.TaskType == TaskTypePlannedSubtask
}

// IsTerminal reports whether the task's status admits no further
// transitions except an administrative reset (invariant 3).
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// RetriesExhausted reports whether another failure must force StatusFailed
// rather than a further retry (invariant 5).
func (t *Task) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// WorkerRole extracts the worker role this task should be assigned to.
// Planned subtasks carry it as payload.assignee = "worker:<role>"; plain
// tasks name a role as their first tag. Unknown or absent roles default to
// "backend" (spec §4.5 step 2).
func (t *Task) WorkerRole() string {
	const prefix = "worker:"
	if t.IsPlannedSubtask() && len(t.Payload.Assignee) > len(prefix) && t.Payload.Assignee[:len(prefix)] == prefix {
		role := t.Payload.Assignee[len(prefix):]
		if isKnownRole(role) {
			return role
		}
		return "backend"
	}
	if len(t.Tags) > 0 && isKnownRole(t.Tags[0]) {
		return t.Tags[0]
	}
	return "backend"
}

func isKnownRole(role string) bool {
	switch role {
	case WorkerRoleBackend, WorkerRoleFrontend, WorkerRoleInfra:
		return true
	default:
		return false
	}
}

// NextPhaseOnSuccess resolves the successor phase for the current phase
// when a workflow is defined on the task. The second return value is false
// when no workflow entry exists for the current phase.
func (w Workflow) NextPhaseOnSuccess(currentPhase string) (string, bool) {
	t, ok := w[currentPhase]
	if !ok {
		return "", false
	}
	return t.NextPhaseOnSuccess, true
}

// NextPhaseOnFailure resolves the failure successor symmetrically.
func (w Workflow) NextPhaseOnFailure(currentPhase string) (string, bool) {
	t, ok := w[currentPhase]
	if !ok {
		return "", false
	}
	return t.NextPhaseOnFailure, true
}
