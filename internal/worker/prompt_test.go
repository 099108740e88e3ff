package worker

import (
	"context"
	"strings"
	"testing"

	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/store"
)

func newTestStoreForPrompt(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", store.Config{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildPrompt_IncludesPhaseGuidanceAndCriteria(t *testing.T) {
	s := newTestStoreForPrompt(t)
	ctx := context.Background()

	prompt, err := BuildPrompt(ctx, s, PromptInputs{
		Role:               "backend",
		Phase:               "apply",
		TaskTitle:           "Add retry logic",
		TaskDescription:     "Retries transient failures with backoff.",
		AcceptanceCriteria: "- retries 3 times\n- backs off exponentially",
	})
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if !strings.Contains(prompt, "backend") {
		t.Error("expected role in prompt")
	}
	if !strings.Contains(prompt, "implementation") {
		t.Error("expected apply-phase guidance in prompt")
	}
	if !strings.Contains(prompt, "retries 3 times") {
		t.Error("expected acceptance criteria in prompt")
	}
}

func TestBuildPrompt_LoadsContextFromPriorTask(t *testing.T) {
	s := newTestStoreForPrompt(t)
	ctx := context.Background()

	taskID, err := s.CreateTask(ctx, store.CreateTaskParams{
		Title:      "prior task",
		TaskType:   "implementation",
		MaxRetries: 1,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	runID, err := s.CreateRun(ctx, taskID, "worker-1", "apply")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	note := "implemented the thing"
	files := &models.RunResult{FilesCreated: []string{"a.go"}, Note: note}
	if err := s.UpdateRunStatus(ctx, runID, models.RunStatusSuccess, store.UpdateRunStatusParams{
		ResultData: files,
	}); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	prompt, err := BuildPrompt(ctx, s, PromptInputs{
		Role:        "backend",
		Phase:       "apply",
		TaskTitle:   "follow-up task",
		ContextFrom: []string{taskID},
	})
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if !strings.Contains(prompt, "a.go") {
		t.Errorf("expected prior task's created files in prompt, got: %s", prompt)
	}
	if !strings.Contains(prompt, note) {
		t.Errorf("expected prior task's note in prompt, got: %s", prompt)
	}
}

func TestBuildPrompt_SkipsTaskWithNoRuns(t *testing.T) {
	s := newTestStoreForPrompt(t)
	ctx := context.Background()

	prompt, err := BuildPrompt(ctx, s, PromptInputs{
		Role:        "backend",
		Phase:       "apply",
		TaskTitle:   "follow-up task",
		ContextFrom: []string{"does-not-exist"},
	})
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if strings.Contains(prompt, "does-not-exist") {
		t.Errorf("expected no context entry for a task with no runs, got: %s", prompt)
	}
}

func TestPromptInputsFromTask_ExtractsAcceptanceCriteriaFromExtra(t *testing.T) {
	task := &models.Task{
		Title:       "t",
		Description: "d",
		Payload: models.Payload{
			ContextFrom: []string{"x"},
			Extra: map[string]interface{}{
				"acceptance_criteria": []interface{}{"first", "second"},
			},
		},
	}
	in := PromptInputsFromTask(task, "frontend", "test")
	if in.Role != "frontend" || in.Phase != "test" {
		t.Errorf("unexpected role/phase: %+v", in)
	}
	if !strings.Contains(in.AcceptanceCriteria, "first") || !strings.Contains(in.AcceptanceCriteria, "second") {
		t.Errorf("AcceptanceCriteria = %q, want both items", in.AcceptanceCriteria)
	}
	if len(in.ContextFrom) != 1 || in.ContextFrom[0] != "x" {
		t.Errorf("ContextFrom = %v, want [x]", in.ContextFrom)
	}
}
