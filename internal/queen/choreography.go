package queen

import (
	"context"
	"fmt"

	"github.com/harrison/conductor/internal/models"
	"github.com/harrison/conductor/internal/store"
)

// subscribeChoreography registers the three event handlers spec §4.6
// requires Queen to install at startup. The eventbus isolates a panicking
// or erroring subscriber from every other one and from the publisher, so
// these handlers only need to log, never propagate.
func (q *Queen) subscribeChoreography() {
	q.bus.Subscribe(models.EventWorkflowPlanGenerated, "queen", q.onPlanGenerated)
	q.bus.Subscribe(models.EventTaskReviewCompleted, "queen", q.onReviewCompleted)
	q.bus.Subscribe(models.EventTaskEscalated, "queen", q.onTaskEscalated)
}

// onPlanGenerated moves a planner-created task out of StatusPlanned once
// its plan exists, marking the transition auto_triggered in the event it
// republishes (spec §4.6).
func (q *Queen) onPlanGenerated(event models.Event) {
	ctx := context.Background()
	taskID, _ := event.Payload["task_id"].(string)
	if taskID == "" {
		return
	}

	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		q.log.Warn("plan_generated: load task %s: %v", taskID, err)
		return
	}
	if task.Status != models.StatusPlanned {
		return
	}

	if err := q.store.UpdateTaskStatus(ctx, taskID, models.StatusQueued, store.UpdateTaskStatusParams{}); err != nil {
		q.log.Warn("plan_generated: queue task %s: %v", taskID, err)
		return
	}
	if _, err := q.bus.Publish(ctx, models.Event{
		EventType:   models.EventTaskQueued,
		SourceAgent: q.id(),
		Payload:     map[string]interface{}{"task_id": taskID, "auto_triggered": true},
	}); err != nil {
		q.log.Warn("plan_generated: publish task.queued for %s: %v", taskID, err)
	}
}

// onReviewCompleted implements spec §4.6's review_decision branch.
func (q *Queen) onReviewCompleted(event models.Event) {
	ctx := context.Background()
	taskID, _ := event.Payload["task_id"].(string)
	if taskID == "" {
		return
	}
	decision, _ := event.Payload["review_decision"].(string)

	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		q.log.Warn("review_completed: load task %s: %v", taskID, err)
		return
	}

	feedback, _ := event.Payload["review_feedback"].(string)
	nextPhase, _ := event.Payload["next_phase"].(string)
	if err := q.applyReviewDecision(ctx, task, decision, feedback, nextPhase); err != nil {
		q.log.Error("review_completed: apply decision %q for task %s: %v", decision, taskID, err)
	}
}

// ApplyReviewDecision transitions task per a reviewer's decision, exactly
// as onReviewCompleted does for the eventbus path. It is exported so the
// `complete-review` CLI command, which typically runs in a separate
// process from the live Queen and so cannot rely on in-process pub/sub,
// can apply the same transition directly against the shared store; Queen's
// next scheduling tick picks up the resulting state from there. nextPhase,
// when non-empty, overrides the automatic workflow/fixed-flow phase
// advancement on approve (spec §6.2 complete-review --next-phase).
func (q *Queen) ApplyReviewDecision(ctx context.Context, taskID, decision, feedback, nextPhase string) error {
	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	return q.applyReviewDecision(ctx, task, decision, feedback, nextPhase)
}

func (q *Queen) applyReviewDecision(ctx context.Context, task *models.Task, decision, feedback, nextPhase string) error {
	switch decision {
	case "approve":
		if nextPhase != "" {
			return q.spawnPhaseImmediately(ctx, task, nextPhase)
		}
		return q.advancePhase(ctx, task)
	case "reject", "rework":
		phase := "rework"
		if nextPhase != "" {
			phase = nextPhase
		}
		return q.store.UpdateTaskStatus(ctx, task.ID, models.StatusQueued, store.UpdateTaskStatusParams{
			CurrentPhase:  &phase,
			FailureReason: &feedback,
		})
	default:
		q.log.Warn("unrecognized review_decision %q for task %s", decision, task.ID)
		return nil
	}
}

// onTaskEscalated only logs: escalations are reserved for human/admin
// channels, never acted on automatically (spec §4.6).
func (q *Queen) onTaskEscalated(event models.Event) {
	taskID, _ := event.Payload["task_id"].(string)
	q.log.Warn("task %s escalated: %v", taskID, event.Payload["reason"])
}
