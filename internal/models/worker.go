package models

import "time"

// Worker roles (spec §3.1). Three fixed roles, plus the orchestrator's own
// self-registration role; no arbitrary plugin roles (Non-goals).
const (
	WorkerRoleBackend      = "backend"
	WorkerRoleFrontend     = "frontend"
	WorkerRoleInfra        = "infra"
	WorkerRoleOrchestrator = "orchestrator"
)

// Worker statuses.
const (
	WorkerStatusIdle    = "idle"
	WorkerStatusBusy     = "busy"
	WorkerStatusOffline = "offline"
)

// Worker is a registration row, not a running process.
type Worker struct {
	ID             string
	Role           string
	Status         string
	LastHeartbeat  time.Time
	Capabilities   []string
	CurrentTaskID  string
	Metadata       map[string]interface{}
	RegisteredAt   time.Time
}
