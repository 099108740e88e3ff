package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/store"
)

// phaseGuidance templates the phase-specific focus the worker adds to
// every prompt (spec §4.3 Prompt composition).
var phaseGuidance = map[string]string{
	"apply": "Focus on implementation: make the minimal set of changes needed " +
		"to satisfy the task description and acceptance criteria.",
	"test": "Focus on verification: write or run comprehensive tests covering " +
		"the behavior introduced by the apply phase, and confirm it holds.",
	"plan": "Focus on structured breakdown: decompose the task into an ordered " +
		"set of concrete subtasks with clear dependencies.",
}

// PromptInputs is the fixed set of fields the worker composes a prompt from.
type PromptInputs struct {
	Role               string
	Phase              string
	TaskTitle          string
	TaskDescription    string
	AcceptanceCriteria string
	ContextFrom        []string
}

// BuildPrompt composes the single prompt string sent to the agent CLI,
// loading any referenced prior-task context first.
func BuildPrompt(ctx context.Context, s *store.Store, in PromptInputs) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "You are acting as the %s agent for this task.\n\n", in.Role)
	fmt.Fprintf(&b, "Task: %s\n", in.TaskTitle)
	if in.TaskDescription != "" {
		fmt.Fprintf(&b, "\n%s\n", in.TaskDescription)
	}
	if in.AcceptanceCriteria != "" {
		fmt.Fprintf(&b, "\nAcceptance criteria:\n%s\n", in.AcceptanceCriteria)
	}

	if guidance, ok := phaseGuidance[in.Phase]; ok {
		fmt.Fprintf(&b, "\nPhase: %s. %s\n", in.Phase, guidance)
	} else {
		fmt.Fprintf(&b, "\nPhase: %s.\n", in.Phase)
	}

	if len(in.ContextFrom) > 0 {
		contextBlock, err := loadContext(ctx, s, in.ContextFrom)
		if err != nil {
			return "", fmt.Errorf("load prior-task context: %w", err)
		}
		if contextBlock != "" {
			b.WriteString("\nContext from prior tasks:\n")
			b.WriteString(contextBlock)
		}
	}

	return b.String(), nil
}

// loadContext reads the most recent run per referenced task and extracts
// status, notes, and created/modified file lists into a context block.
func loadContext(ctx context.Context, s *store.Store, taskIDs []string) (string, error) {
	var b strings.Builder
	for _, taskID := range taskIDs {
		run, err := s.GetLatestRun(ctx, taskID)
		if err != nil {
			continue // task has no run yet; skip rather than fail the whole prompt
		}
		fmt.Fprintf(&b, "- task %s: status=%s", taskID, run.Status)
		if run.ResultData.Note != "" {
			fmt.Fprintf(&b, ", note=%q", run.ResultData.Note)
		}
		if len(run.ResultData.FilesCreated) > 0 {
			fmt.Fprintf(&b, ", created=%s", strings.Join(run.ResultData.FilesCreated, ","))
		}
		if len(run.ResultData.FilesModified) > 0 {
			fmt.Fprintf(&b, ", modified=%s", strings.Join(run.ResultData.FilesModified, ","))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// PromptInputsFromTask extracts PromptInputs from a Task, pulling
// acceptance criteria out of the payload's free-form Extra map when
// present (not a named Payload field).
func PromptInputsFromTask(t *models.Task, role, phase string) PromptInputs {
	in := PromptInputs{
		Role:            role,
		Phase:           phase,
		TaskTitle:       t.Title,
		TaskDescription: t.Description,
		ContextFrom:     t.Payload.ContextFrom,
	}
	if ac, ok := t.Payload.Extra["acceptance_criteria"]; ok {
		switch v := ac.(type) {
		case string:
			in.AcceptanceCriteria = v
		case []interface{}:
			items := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					items = append(items, "- "+s)
				}
			}
			in.AcceptanceCriteria = strings.Join(items, "\n")
		}
	}
	return in
}
