package models

import "encoding/json"

// Payload is the opaque structured blob attached to a Task. For a
// planned_subtask it carries the parent-plan linkage and dependency list;
// for any task it may carry session-resumption and cross-task context
// hints. Unknown keys round-trip through Extra so callers that only look
// at a subset of fields never lose data on rewrite.
type Payload struct {
	ParentPlanID     string                 `json:"parent_plan_id,omitempty"`
	SubtaskID        string                 `json:"subtask_id,omitempty"`
	Dependencies     []string               `json:"dependencies,omitempty"`
	WorkflowPhase    string                 `json:"workflow_phase,omitempty"`
	RequiredSkills   []string               `json:"required_skills,omitempty"`
	Deliverables     []string               `json:"deliverables,omitempty"`
	Assignee         string                 `json:"assignee,omitempty"`
	EstimatedDuration int                   `json:"estimated_duration,omitempty"`
	Complexity       string                 `json:"complexity,omitempty"`
	ContextFrom      []string               `json:"context_from,omitempty"`
	ResumeSessionID  string                 `json:"resume_session_id,omitempty"`
	Extra            map[string]interface{} `json:"-"`
}

// knownPayloadKeys lists the JSON keys handled by named Payload fields, used
// to split an arbitrary object into known fields plus Extra.
var knownPayloadKeys = map[string]bool{
	"parent_plan_id": true, "subtask_id": true, "dependencies": true,
	"workflow_phase": true, "required_skills": true, "deliverables": true,
	"assignee": true, "estimated_duration": true, "complexity": true,
	"context_from": true, "resume_session_id": true,
}

// MarshalJSON flattens Extra alongside the named fields into one object.
func (p Payload) MarshalJSON() ([]byte, error) {
	type alias Payload
	named, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return named, nil
	}

	merged := map[string]interface{}{}
	if err := json.Unmarshal(named, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the named fields and collects the remainder into Extra.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias Payload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Payload(a)

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := map[string]interface{}{}
	for k, v := range raw {
		if !knownPayloadKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		p.Extra = extra
	}
	return nil
}

// IsPlannedSubtask reports whether the payload carries the fields a
// PlanBridge-materialized subtask always has.
func (p Payload) IsPlannedSubtask() bool {
	return p.ParentPlanID != "" && p.SubtaskID != ""
}
