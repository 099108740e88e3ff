// Package worker executes a single (task, phase) assignment in isolation,
// reports a structured result, and exits (spec §4.3).
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/conductor/internal/display"
	"github.com/harrison/conductor/internal/eventbus"
	"github.com/harrison/conductor/internal/logger"
	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/store"
)

// Config is the worker invocation's inputs (spec §4.3 Inputs).
type Config struct {
	WorkerID         string
	TaskID           string
	RunID            string
	Phase            string
	Mode             string
	ExplicitWorkspace string
	LiveOutput       bool
	WorkspacesRoot   string
	AgentBinaryPath  string
	AgentBinaryName  string
	RunLogDir        string
}

// Result is what Run reports, also used to compute the process exit code.
type Result struct {
	Success bool
	Note    string
}

// Run executes one assignment end to end: prepares the workspace, composes
// the prompt, invokes the agent, classifies the outcome, and persists the
// result. It never returns an error for a failed agent run, only for
// infrastructure failures the caller cannot recover from (workspace/store
// errors); an unsuccessful agent run is reported via Result.Success=false.
func Run(ctx context.Context, cfg Config, s *store.Store, bus *eventbus.Bus, log logger.Logger) (*Result, error) {
	if log == nil {
		log = noopLoggerInstance
	}

	task, err := s.GetTask(ctx, cfg.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", cfg.TaskID, err)
	}

	publishStarted(ctx, bus, task, cfg)

	agentBinary, err := FindAgentBinary(cfg.AgentBinaryPath, cfg.AgentBinaryName)
	if err != nil {
		log.Warn("agent binary not found: %v", err)
		if cfg.LiveOutput {
			display.Warning{
				Title:      "agent binary not found",
				Message:    err.Error(),
				Suggestion: "set worker.agent_binary_path in config.yaml or install the agent on PATH",
			}.Display(os.Stderr)
		}
		return reportBlocked(ctx, s, cfg, "agent not available")
	}

	ws, err := PrepareWorkspace(ctx, cfg.WorkspacesRoot, cfg.WorkerID, cfg.TaskID, cfg.Phase, cfg.Mode, cfg.ExplicitWorkspace)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}

	unlock, err := lockWorkspace(ws.Path)
	if err != nil {
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	defer unlock()

	if err := CheckIsolation(ws); err != nil {
		log.Warn("isolation check failed: %v", err)
	}

	in := PromptInputsFromTask(task, cfg.WorkerID, cfg.Phase)
	prompt, err := BuildPrompt(ctx, s, in)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	var logFilePath string
	if cfg.RunLogDir != "" {
		logFilePath = filepath.Join(cfg.RunLogDir, cfg.RunID+".log")
	}

	invResult, err := Invoke(ctx, InvocationConfig{
		AgentBinary: agentBinary,
		Workspace:   ws.Path,
		Prompt:      prompt,
		ResumeID:    task.Payload.ResumeSessionID,
		LiveOutput:  cfg.LiveOutput,
		LogFilePath: logFilePath,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke agent: %w", err)
	}

	if rl := ParseRateLimitFromOutput(invResult.Transcript); rl != nil {
		log.Warn("rate limit detected: kind=%s wait=%ds", rl.Kind, rl.WaitSeconds)
		return reportRateLimited(ctx, s, cfg, invResult, rl)
	}

	changes, err := DetectFileChanges(ctx, ws)
	if err != nil {
		log.Warn("file-change detection failed: %v", err)
	}

	outcome := ClassifyResult(invResult, changes)

	resultData := &models.RunResult{
		Workspace:       ws.Path,
		Phase:           cfg.Phase,
		FilesCreated:    changes.Created,
		FilesModified:   changes.Modified,
		ExitCode:        invResult.ExitCode,
		OutputLines:     invResult.OutputLines,
		ClaudeCompleted: invResult.ClaudeCompleted,
		Note:            outcome.Note,
	}

	status := models.RunStatusSuccess
	var errMsg *string
	if !outcome.Success {
		status = models.RunStatusFailure
		if invResult.Timeout {
			status = models.RunStatusTimeout
		}
		msg := outcome.Note
		errMsg = &msg
	}

	if err := s.UpdateRunStatus(ctx, cfg.RunID, status, store.UpdateRunStatusParams{
		ResultData:   resultData,
		ErrorMessage: errMsg,
		Transcript:   &invResult.Transcript,
	}); err != nil {
		return nil, fmt.Errorf("update run status: %w", err)
	}

	publishFinished(ctx, bus, task, cfg, outcome)

	return &Result{Success: outcome.Success, Note: outcome.Note}, nil
}

// ExitCode maps a Result to the worker process's exit code (spec §4.3).
func (r *Result) ExitCode() int {
	if r.Success {
		return 0
	}
	return 1
}

func reportBlocked(ctx context.Context, s *store.Store, cfg Config, note string) (*Result, error) {
	errMsg := note
	if err := s.UpdateRunStatus(ctx, cfg.RunID, models.RunStatusFailure, store.UpdateRunStatusParams{
		ResultData:   &models.RunResult{Phase: cfg.Phase, Note: note},
		ErrorMessage: &errMsg,
	}); err != nil {
		return nil, fmt.Errorf("update run status (blocked): %w", err)
	}
	return &Result{Success: false, Note: note}, nil
}

func reportRateLimited(ctx context.Context, s *store.Store, cfg Config, inv *InvocationResult, rl *RateLimitInfo) (*Result, error) {
	note := fmt.Sprintf("rate_limited: kind=%s wait=%ds", rl.Kind, rl.WaitSeconds)
	errMsg := note
	if err := s.UpdateRunStatus(ctx, cfg.RunID, models.RunStatusFailure, store.UpdateRunStatusParams{
		ResultData:   &models.RunResult{Phase: cfg.Phase, Note: note},
		ErrorMessage: &errMsg,
		Transcript:   &inv.Transcript,
	}); err != nil {
		return nil, fmt.Errorf("update run status (rate limited): %w", err)
	}
	return &Result{Success: false, Note: note}, nil
}

func publishStarted(ctx context.Context, bus *eventbus.Bus, task *models.Task, cfg Config) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, models.Event{
		EventType:   models.EventTaskStarted,
		SourceAgent: cfg.WorkerID,
		Payload: map[string]interface{}{
			"task_id": task.ID,
			"run_id":  cfg.RunID,
			"phase":   cfg.Phase,
		},
	})
}

func publishFinished(ctx context.Context, bus *eventbus.Bus, task *models.Task, cfg Config, outcome Outcome) {
	if bus == nil {
		return
	}
	eventType := models.EventTaskCompleted
	if !outcome.Success {
		eventType = models.EventTaskFailed
	}
	bus.Publish(ctx, models.Event{
		EventType:   eventType,
		SourceAgent: cfg.WorkerID,
		Payload: map[string]interface{}{
			"task_id": task.ID,
			"run_id":  cfg.RunID,
			"phase":   cfg.Phase,
			"note":    outcome.Note,
		},
	})
}
