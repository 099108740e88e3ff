package models

import "time"

// PlanningQueue entry statuses.
const (
	PlanningStatusPending  = "pending"
	PlanningStatusAssigned = "assigned"
	PlanningStatusPlanned  = "planned"
	PlanningStatusFailed   = "failed"
)

// PlanningQueueEntry is an incoming free-form request awaiting planning.
type PlanningQueueEntry struct {
	ID                string
	TaskDescription   string
	Priority          int
	Requestor         string
	ContextData       map[string]interface{}
	Status            string
	ComplexityEstimate string
	CreatedAt         time.Time
	AssignedAt        *time.Time
	CompletedAt       *time.Time
	AssignedAgent     string
}

// ExecutionPlan statuses.
const (
	PlanStatusDraft     = "draft"
	PlanStatusGenerated = "generated"
	PlanStatusApproved  = "approved"
	PlanStatusExecuting = "executing"
	PlanStatusCompleted = "completed"
	PlanStatusFailed    = "failed"
)

// SubTask is one entry of plan_data.sub_tasks as emitted by the (external)
// planner.
type SubTask struct {
	ID              string   `json:"id" yaml:"id"`
	Title           string   `json:"title" yaml:"title"`
	Description     string   `json:"description" yaml:"description"`
	Assignee        string   `json:"assignee" yaml:"assignee"`
	Priority        int      `json:"priority" yaml:"priority"`
	Dependencies    []string `json:"dependencies" yaml:"dependencies"`
	WorkflowPhase   string   `json:"workflow_phase,omitempty" yaml:"workflow_phase,omitempty"`
	EstimatedDuration int    `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	RequiredSkills  []string `json:"required_skills,omitempty" yaml:"required_skills,omitempty"`
	Deliverables    []string `json:"deliverables,omitempty" yaml:"deliverables,omitempty"`
	Complexity      string   `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	Status          string   `json:"status,omitempty" yaml:"status,omitempty"`
}

// PlanData is the planner output payload, containing the full subtask breakdown.
type PlanData struct {
	SubTasks []SubTask `json:"sub_tasks" yaml:"sub_tasks"`
}

// ExecutionPlan is the planner's output for one PlanningQueueEntry.
type ExecutionPlan struct {
	ID                string
	PlanningTaskID    string
	PlanData          PlanData
	EstimatedDuration int
	EstimatedComplexity string
	GeneratedWorkflow Workflow
	SubtaskCount      int
	DependencyCount   int
	GeneratedAt       time.Time
	Status            string
	UpdatedAt         time.Time
}

// PlanCompletionStatus is the aggregate view returned by
// get_plan_completion_status.
type PlanCompletionStatus struct {
	Total                int     `json:"total"`
	Completed            int     `json:"completed"`
	Failed               int     `json:"failed"`
	InProgress           int     `json:"in_progress"`
	Queued               int     `json:"queued"`
	CompletionPercentage float64 `json:"completion_percentage"`
	IsComplete           bool    `json:"is_complete"`
	HasFailures          bool    `json:"has_failures"`
}

// PlannerContext describes a ready planned subtask's origin in its plan
// (spec §4.4). It is not stored on Task; planbridge.PlannerContextFor
// builds it from a task's payload.
type PlannerContext struct {
	ParentPlanID      string   `json:"parent_plan_id"`
	SubtaskID         string   `json:"subtask_id"`
	WorkflowPhase     string   `json:"workflow_phase"`
	EstimatedDuration int      `json:"estimated_duration"`
	RequiredSkills    []string `json:"required_skills"`
	Deliverables      []string `json:"deliverables"`
	Complexity        string   `json:"complexity"`
	Assignee          string   `json:"assignee"`
}

// HasCyclicDependencies detects circular dependencies among a plan's
// subtasks using DFS with color marking (white/gray/black).
func HasCyclicDependencies(subtasks []SubTask) bool {
	graph := make(map[string][]string)
	known := make(map[string]bool)

	for _, st := range subtasks {
		known[st.ID] = true
		if _, ok := graph[st.ID]; !ok {
			graph[st.ID] = nil
		}
	}
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if dep == st.ID {
				return true
			}
			if known[dep] {
				graph[dep] = append(graph[dep], st.ID)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[string]int, len(known))
	for id := range known {
		colors[id] = white
	}

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		for _, next := range graph[node] {
			if colors[next] == gray {
				return true
			}
			if colors[next] == white && dfs(next) {
				return true
			}
		}
		colors[node] = black
		return false
	}

	for id := range known {
		if colors[id] == white && dfs(id) {
			return true
		}
	}
	return false
}
