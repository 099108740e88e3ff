package queen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/conductor/internal/eventbus"
	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/store"
)

type fakeHandle struct {
	done chan struct{}

	mu     sync.Mutex
	killed bool
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) Wait() error {
	<-h.done
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return nil
}

func (h *fakeHandle) finish() { close(h.done) }

type fakeSpawner struct {
	mu        sync.Mutex
	spawned   []SpawnParams
	handles   map[string]*fakeHandle
	failSpawn bool
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{handles: make(map[string]*fakeHandle)}
}

func (s *fakeSpawner) Spawn(ctx context.Context, p SpawnParams) (ProcessHandle, error) {
	if s.failSpawn {
		return nil, errors.New("spawn failed")
	}
	h := newFakeHandle()
	s.mu.Lock()
	s.spawned = append(s.spawned, p)
	s.handles[p.TaskID] = h
	s.mu.Unlock()
	return h, nil
}

func (s *fakeSpawner) finish(taskID string) {
	s.mu.Lock()
	h := s.handles[taskID]
	s.mu.Unlock()
	if h != nil {
		h.finish()
	}
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned)
}

type capturingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *capturingLogger) Debug(string, ...interface{}) {}
func (l *capturingLogger) Info(string, ...interface{})  {}
func (l *capturingLogger) Warn(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, format)
}
func (l *capturingLogger) Error(string, ...interface{}) {}

func newTestQueen(t *testing.T, cfg Config) (*Queen, *store.Store, *eventbus.Bus, *fakeSpawner) {
	t.Helper()
	s, err := store.Open(":memory:", store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := eventbus.New(s.DB(), nil)
	spawner := newFakeSpawner()
	q := New(s, bus, nil, cfg, spawner)
	return q, s, bus, spawner
}

func createQueuedTask(t *testing.T, s *store.Store, title string) string {
	t.Helper()
	id, err := s.CreateTask(context.Background(), store.CreateTaskParams{
		Title:        title,
		TaskType:     "implementation",
		CurrentPhase: "apply",
	})
	require.NoError(t, err)
	return id
}

// latestRunID returns the id of taskID's most recent run, failing the test if none exists.
func latestRunID(t *testing.T, s *store.Store, taskID string) string {
	t.Helper()
	run, err := s.GetLatestRun(context.Background(), taskID)
	require.NoError(t, err)
	return run.ID
}

func TestTick_AdmitsQueuedTaskAndSpawnsWorker(t *testing.T) {
	q, s, _, spawner := newTestQueen(t, Config{})
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "implement widget")

	_, err := q.Tick(ctx)
	require.NoError(t, err)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, task.Status)
	assert.Equal(t, "apply", task.CurrentPhase)

	require.Equal(t, 1, spawner.count())
	assert.Equal(t, "backend", spawner.spawned[0].Role)
	assert.Equal(t, "apply", spawner.spawned[0].Phase)
}

func TestTick_SpawnFailureRevertsToQueued(t *testing.T) {
	s, err := store.Open(":memory:", store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	bus := eventbus.New(s.DB(), nil)
	spawner := newFakeSpawner()
	spawner.failSpawn = true
	q := New(s, bus, nil, Config{}, spawner)

	ctx := context.Background()
	taskID := createQueuedTask(t, s, "doomed task")

	_, err = q.Tick(ctx)
	require.NoError(t, err)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, task.Status)
	assert.Equal(t, "", task.Assignee)
}

func TestTick_RoleCapLimitsConcurrentAdmission(t *testing.T) {
	q, s, _, spawner := newTestQueen(t, Config{MaxParallelPerRole: map[string]int{
		models.WorkerRoleBackend:  1,
		models.WorkerRoleFrontend: 1,
		models.WorkerRoleInfra:    1,
	}})
	ctx := context.Background()
	createQueuedTask(t, s, "task one")
	createQueuedTask(t, s, "task two")

	_, err := q.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, spawner.count(), "only one backend slot is available")

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusInProgress])
	assert.Equal(t, 1, counts[models.StatusQueued])
}

func TestMonitor_FixedFlowSpawnsTestPhaseImmediatelyAfterApply(t *testing.T) {
	q, s, _, spawner := newTestQueen(t, Config{})
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "fixed flow task")

	_, err := q.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, spawner.count())

	applyRunID := latestRunID(t, s, taskID)
	require.NoError(t, s.UpdateRunStatus(ctx, applyRunID, models.RunStatusSuccess, store.UpdateRunStatusParams{}))
	spawner.finish(taskID)

	_, err = q.Tick(ctx)
	require.NoError(t, err)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "test", task.CurrentPhase)
	assert.Equal(t, models.StatusInProgress, task.Status)
	require.Equal(t, 2, spawner.count())
	assert.Equal(t, "test", spawner.spawned[1].Phase)
}

func TestMonitor_TestPhaseSuccessCompletesTask(t *testing.T) {
	q, s, bus, spawner := newTestQueen(t, Config{})
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "completable task")

	_, err := q.Tick(ctx)
	require.NoError(t, err)
	applyRunID := latestRunID(t, s, taskID)
	require.NoError(t, s.UpdateRunStatus(ctx, applyRunID, models.RunStatusSuccess, store.UpdateRunStatusParams{}))
	spawner.finish(taskID)

	_, err = q.Tick(ctx)
	require.NoError(t, err)

	testRunID := latestRunID(t, s, taskID)
	require.NotEqual(t, applyRunID, testRunID)
	require.NoError(t, s.UpdateRunStatus(ctx, testRunID, models.RunStatusSuccess, store.UpdateRunStatusParams{}))
	spawner.finish(taskID)

	_, err = q.Tick(ctx)
	require.NoError(t, err)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)

	events, err := bus.GetEvents(ctx, eventbus.QueryParams{EventType: models.EventTaskCompleted})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, taskID, events[0].Payload["task_id"])
}

func TestMonitor_FailureAppliesRetryThenFail(t *testing.T) {
	s, err := store.Open(":memory:", store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	bus := eventbus.New(s.DB(), nil)
	spawner := newFakeSpawner()
	q := New(s, bus, nil, Config{}, spawner)

	ctx := context.Background()
	taskID, err := s.CreateTask(ctx, store.CreateTaskParams{
		Title: "flaky task", TaskType: "implementation", MaxRetries: 1, CurrentPhase: "apply",
	})
	require.NoError(t, err)

	_, err = q.Tick(ctx)
	require.NoError(t, err)
	runID := latestRunID(t, s, taskID)
	errMsg := "boom"
	require.NoError(t, s.UpdateRunStatus(ctx, runID, models.RunStatusFailure, store.UpdateRunStatusParams{ErrorMessage: &errMsg}))
	spawner.finish(taskID)

	_, err = q.Tick(ctx)
	require.NoError(t, err)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, task.Status)
	assert.Equal(t, 1, task.RetryCount)

	_, err = q.Tick(ctx)
	require.NoError(t, err)
	runID2 := latestRunID(t, s, taskID)
	require.NoError(t, s.UpdateRunStatus(ctx, runID2, models.RunStatusFailure, store.UpdateRunStatusParams{ErrorMessage: &errMsg}))
	spawner.finish(taskID)

	_, err = q.Tick(ctx)
	require.NoError(t, err)

	task, err = s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, errMsg, task.FailureReason)
}

func TestRecoverZombies_ResetsStaleInProgressTask(t *testing.T) {
	q, s, _, _ := newTestQueen(t, Config{ZombieDetectionMinutes: 5})
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "abandoned task")

	staleStart := time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, s.UpdateTaskStatus(ctx, taskID, models.StatusInProgress, store.UpdateTaskStatusParams{
		StartedAt: &staleStart,
	}))

	require.NoError(t, q.recoverZombies(ctx))

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, task.Status)
	assert.Equal(t, "plan", task.CurrentPhase)
}

func TestRecoverZombies_IgnoresTrackedWorkers(t *testing.T) {
	q, s, _, spawner := newTestQueen(t, Config{ZombieDetectionMinutes: 5})
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "tracked task")

	_, err := q.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, spawner.count())

	require.NoError(t, q.recoverZombies(ctx))

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, task.Status, "an actively tracked worker must never be reaped as a zombie")
}

func TestChoreography_PlanGeneratedQueuesPlannedTask(t *testing.T) {
	q, s, bus, _ := newTestQueen(t, Config{})
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "planned task")
	require.NoError(t, s.UpdateTaskStatus(ctx, taskID, models.StatusPlanned, store.UpdateTaskStatusParams{}))

	q.subscribeChoreography()
	_, err := bus.Publish(ctx, models.Event{
		EventType: models.EventWorkflowPlanGenerated,
		Payload:   map[string]interface{}{"task_id": taskID},
	})
	require.NoError(t, err)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, task.Status)
}

func TestChoreography_ReviewApproveAdvancesPhase(t *testing.T) {
	q, s, bus, spawner := newTestQueen(t, Config{})
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "in review task")
	require.NoError(t, s.UpdateTaskStatus(ctx, taskID, models.StatusReviewPending, store.UpdateTaskStatusParams{}))

	q.subscribeChoreography()
	_, err := bus.Publish(ctx, models.Event{
		EventType: models.EventTaskReviewCompleted,
		Payload:   map[string]interface{}{"task_id": taskID, "review_decision": "approve"},
	})
	require.NoError(t, err)

	require.Equal(t, 1, spawner.count(), "approve on apply phase should immediately spawn the test phase")
	assert.Equal(t, "test", spawner.spawned[0].Phase)
}

func TestChoreography_ReviewRejectRequeuesForRework(t *testing.T) {
	q, s, bus, _ := newTestQueen(t, Config{})
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "rejected task")
	require.NoError(t, s.UpdateTaskStatus(ctx, taskID, models.StatusReviewPending, store.UpdateTaskStatusParams{}))

	q.subscribeChoreography()
	_, err := bus.Publish(ctx, models.Event{
		EventType: models.EventTaskReviewCompleted,
		Payload:   map[string]interface{}{"task_id": taskID, "review_decision": "reject", "review_feedback": "needs more tests"},
	})
	require.NoError(t, err)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, task.Status)
	assert.Equal(t, "rework", task.CurrentPhase)
	assert.Equal(t, "needs more tests", task.FailureReason)
}

func TestChoreography_TaskEscalatedOnlyLogs(t *testing.T) {
	s, err := store.Open(":memory:", store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	bus := eventbus.New(s.DB(), nil)
	log := &capturingLogger{}
	q := New(s, bus, log, Config{}, newFakeSpawner())
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "escalated task")

	q.subscribeChoreography()
	_, err = bus.Publish(ctx, models.Event{
		EventType: models.EventTaskEscalated,
		Payload:   map[string]interface{}{"task_id": taskID, "reason": "needs a human"},
	})
	require.NoError(t, err)

	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, task.Status, "escalation must never mutate task state automatically")

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.warns, 1)
}

func TestAverageRunDuration_UpdatesAsExponentialMovingAverage(t *testing.T) {
	q, _, _, _ := newTestQueen(t, Config{})
	assert.Equal(t, time.Duration(0), q.AverageRunDuration())

	q.recordDuration(10 * time.Second)
	assert.Equal(t, 10*time.Second, q.AverageRunDuration())

	q.recordDuration(20 * time.Second)
	assert.InDelta(t, float64(13*time.Second), float64(q.AverageRunDuration()), float64(time.Second))
}

func TestShutdown_KillsActiveWorkers(t *testing.T) {
	q, s, _, spawner := newTestQueen(t, Config{})
	ctx := context.Background()
	taskID := createQueuedTask(t, s, "long running task")

	_, err := q.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, spawner.count())

	spawner.mu.Lock()
	h := spawner.handles[taskID]
	spawner.mu.Unlock()

	q.Shutdown()

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.True(t, h.killed)
}
