package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/conductor/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTask_GetTask_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, CreateTaskParams{
		Title:    "t1",
		TaskType: "impl",
		Priority: 5,
		Tags:     []string{"backend"},
	})
	require.NoError(t, err)

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "t1", task.Title)
	assert.Equal(t, "impl", task.TaskType)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, models.StatusQueued, task.Status)
	assert.Equal(t, []string{"backend"}, task.Tags)
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(context.Background(), "missing")
	require.Error(t, err)
}

func TestGetQueuedTasksWithPlanning_BoostsPlannedSubtasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	planID, err := s.CreateExecutionPlan(ctx, "", models.PlanData{
		SubTasks: []models.SubTask{{ID: "sub-1", Title: "subtask"}},
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkPlanExecutionStarted(ctx, planID))

	plainID, err := s.CreateTask(ctx, CreateTaskParams{Title: "plain", TaskType: "impl", Priority: 5})
	require.NoError(t, err)

	n, err := s.CreatePlannedSubtasksFromPlan(ctx, planID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	tasks, err := s.GetQueuedTasksWithPlanning(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	// The planned_subtask (priority 1 + 10 boost = 11) should outrank the
	// plain task (priority 5, no boost).
	assert.NotEqual(t, plainID, tasks[0].ID)
}

func TestGetQueuedTasks_NoBoostApplied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	planID, err := s.CreateExecutionPlan(ctx, "", models.PlanData{
		SubTasks: []models.SubTask{{ID: "sub-1", Title: "subtask", Priority: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkPlanExecutionStarted(ctx, planID))
	_, err = s.CreatePlannedSubtasksFromPlan(ctx, planID)
	require.NoError(t, err)

	tasks, err := s.GetQueuedTasks(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].Priority)
}

func TestCreateRun_ContiguousRunNumbers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taskID, err := s.CreateTask(ctx, CreateTaskParams{Title: "t1", TaskType: "impl"})
	require.NoError(t, err)

	run1, err := s.CreateRun(ctx, taskID, "worker-1", "apply")
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, run1, models.RunStatusSuccess, UpdateRunStatusParams{}))

	run2, err := s.CreateRun(ctx, taskID, "worker-1", "test")
	require.NoError(t, err)

	runs, err := s.GetRunsForTask(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0].RunNumber)
	assert.Equal(t, 2, runs[1].RunNumber)
	assert.Equal(t, run1, runs[0].ID)
	assert.Equal(t, run2, runs[1].ID)
}

func TestUpdateRunStatus_SetsCompletedAtOnTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taskID, err := s.CreateTask(ctx, CreateTaskParams{Title: "t1", TaskType: "impl"})
	require.NoError(t, err)
	runID, err := s.CreateRun(ctx, taskID, "worker-1", "apply")
	require.NoError(t, err)

	result := &models.RunResult{ExitCode: 0, ClaudeCompleted: true}
	require.NoError(t, s.UpdateRunStatus(ctx, runID, models.RunStatusSuccess, UpdateRunStatusParams{ResultData: result}))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, models.RunStatusSuccess, run.Outcome().Status)
	assert.True(t, run.ResultData.ClaudeCompleted)
}

func TestCheckSubtaskDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	depID, err := s.CreateTask(ctx, CreateTaskParams{Title: "dep", TaskType: "impl"})
	require.NoError(t, err)

	taskID, err := s.CreateTask(ctx, CreateTaskParams{
		Title:    "dependent",
		TaskType: models.TaskTypePlannedSubtask,
		Payload:  models.Payload{Dependencies: []string{depID}},
	})
	require.NoError(t, err)

	met, err := s.CheckSubtaskDependencies(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, met, "dependencies should be unmet before the dependency completes")

	require.NoError(t, s.UpdateTaskStatus(ctx, depID, models.StatusCompleted, UpdateTaskStatusParams{}))

	met, err = s.CheckSubtaskDependencies(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, met, "dependencies should be met after the dependency completes")
}

func TestMarkPlanExecutionStarted_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	planID, err := s.CreateExecutionPlan(ctx, "", models.PlanData{})
	require.NoError(t, err)
	require.NoError(t, s.MarkPlanExecutionStarted(ctx, planID))
	require.NoError(t, s.MarkPlanExecutionStarted(ctx, planID))

	status, err := s.GetExecutionPlanStatus(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusExecuting, status)
}

func TestCreatePlannedSubtasksFromPlan_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	planID, err := s.CreateExecutionPlan(ctx, "", models.PlanData{
		SubTasks: []models.SubTask{{ID: "a"}, {ID: "b", Dependencies: []string{"a"}}},
	})
	require.NoError(t, err)

	n1, err := s.CreatePlannedSubtasksFromPlan(ctx, planID)
	require.NoError(t, err)
	require.Equal(t, 2, n1)

	n2, err := s.CreatePlannedSubtasksFromPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, 0, n2, "re-running materialization must not duplicate subtasks")
}

func TestDeleteExecutionPlan_RemovesMaterializedSubtasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	planID, err := s.CreateExecutionPlan(ctx, "", models.PlanData{
		SubTasks: []models.SubTask{{ID: "a"}},
	})
	require.NoError(t, err)
	_, err = s.CreatePlannedSubtasksFromPlan(ctx, planID)
	require.NoError(t, err)

	subtasks, err := s.GetSubtasksForPlan(ctx, planID)
	require.NoError(t, err)
	require.Len(t, subtasks, 1)

	require.NoError(t, s.DeleteExecutionPlan(ctx, planID))

	subtasks, err = s.GetSubtasksForPlan(ctx, planID)
	require.NoError(t, err)
	assert.Empty(t, subtasks)

	_, err = s.GetExecutionPlan(ctx, planID)
	assert.Error(t, err)
}

func TestGetReadyPlannedSubtasks_GatesOnDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	planID, err := s.CreateExecutionPlan(ctx, "", models.PlanData{
		SubTasks: []models.SubTask{
			{ID: "a"},
			{ID: "b", Dependencies: []string{"a"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkPlanExecutionStarted(ctx, planID))
	_, err = s.CreatePlannedSubtasksFromPlan(ctx, planID)
	require.NoError(t, err)

	ready, err := s.GetReadyPlannedSubtasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].Payload.SubtaskID)

	subtasks, err := s.GetSubtasksForPlan(ctx, planID)
	require.NoError(t, err)
	for _, st := range subtasks {
		if st.Payload.SubtaskID == "a" {
			require.NoError(t, s.UpdateTaskStatus(ctx, st.ID, models.StatusCompleted, UpdateTaskStatusParams{}))
		}
	}

	ready, err = s.GetReadyPlannedSubtasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].Payload.SubtaskID)
}

func TestRegisterWorker_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterWorker(ctx, "w1", models.WorkerRoleBackend, []string{"go"}, nil))
	require.NoError(t, s.RegisterWorker(ctx, "w1", models.WorkerRoleFrontend, []string{"js"}, nil))

	w, err := s.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkerRoleFrontend, w.Role)
}
