package models

import "fmt"

// YAMLSubTask decodes one sub_tasks entry from a YAML plan document,
// accepting the same mixed dependency formats the teacher's plan-file
// ingestion tolerated: integers, floats, numeric strings, and explicit
// string IDs. Use Normalize to obtain a SubTask with Dependencies coerced
// to strings.
type YAMLSubTask struct {
	ID                string        `yaml:"id"`
	Title             string        `yaml:"title"`
	Description       string        `yaml:"description"`
	Assignee          string        `yaml:"assignee"`
	Priority          int           `yaml:"priority"`
	Dependencies      []interface{} `yaml:"dependencies"`
	WorkflowPhase     string        `yaml:"workflow_phase"`
	EstimatedDuration int           `yaml:"estimated_duration"`
	RequiredSkills    []string      `yaml:"required_skills"`
	Deliverables      []string      `yaml:"deliverables"`
	Complexity        string        `yaml:"complexity"`
}

// YAMLPlanData mirrors PlanData for YAML ingestion.
type YAMLPlanData struct {
	SubTasks []YAMLSubTask `yaml:"sub_tasks"`
}

// Normalize converts mixed-format dependencies to the canonical []string
// form used by PlanData/SubTask.
func (y YAMLSubTask) Normalize() (SubTask, error) {
	deps, err := normalizeDependencies(y.Dependencies)
	if err != nil {
		return SubTask{}, fmt.Errorf("sub_task %s: %w", y.ID, err)
	}
	return SubTask{
		ID:                y.ID,
		Title:             y.Title,
		Description:       y.Description,
		Assignee:          y.Assignee,
		Priority:          y.Priority,
		Dependencies:      deps,
		WorkflowPhase:     y.WorkflowPhase,
		EstimatedDuration: y.EstimatedDuration,
		RequiredSkills:    y.RequiredSkills,
		Deliverables:      y.Deliverables,
		Complexity:        y.Complexity,
	}, nil
}

// Normalize converts every sub-task in the document.
func (y YAMLPlanData) Normalize() (PlanData, error) {
	out := PlanData{SubTasks: make([]SubTask, 0, len(y.SubTasks))}
	for _, st := range y.SubTasks {
		n, err := st.Normalize()
		if err != nil {
			return PlanData{}, err
		}
		out.SubTasks = append(out.SubTasks, n)
	}
	return out, nil
}

// normalizeDependencies converts a slice of mixed dependency formats
// (int, float64, string) into normalized string IDs.
func normalizeDependencies(deps []interface{}) ([]string, error) {
	if deps == nil {
		return nil, nil
	}
	normalized := make([]string, 0, len(deps))
	for _, dep := range deps {
		switch v := dep.(type) {
		case int:
			normalized = append(normalized, fmt.Sprintf("%d", v))
		case float64:
			if v == float64(int(v)) {
				normalized = append(normalized, fmt.Sprintf("%d", int(v)))
			} else {
				normalized = append(normalized, fmt.Sprintf("%v", v))
			}
		case string:
			normalized = append(normalized, v)
		default:
			return nil, fmt.Errorf("unsupported dependency format: %T", v)
		}
	}
	return normalized, nil
}
