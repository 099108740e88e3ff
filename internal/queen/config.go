package queen

import "time"

// Config holds the Queen's scheduling parameters (spec §4.5 State).
// Zero values fall back to sensible defaults via withDefaults.
type Config struct {
	// ID is the worker row id Queen registers itself under
	// (role=orchestrator). Defaults to "queen".
	ID string

	// MaxParallelPerRole caps concurrently active workers per role. Roles
	// absent from the map use defaultRoleCap.
	MaxParallelPerRole map[string]int

	// TaskRetryLimit is the global retry_count ceiling used when a task
	// doesn't carry its own max_retries (spec §4.5 Retry/failure policy).
	TaskRetryLimit int

	// StatusRefreshInterval is the scheduling tick period.
	StatusRefreshInterval time.Duration

	// ZombieDetectionMinutes is how long an in_progress task may go
	// untracked by active_workers before zombie recovery resets it.
	ZombieDetectionMinutes int

	// SimpleMode disables the cooperative/async monitor variant and any
	// pattern-based agent selection, mirroring the original's
	// HIVE_SIMPLE_MODE degradation path (SPEC_FULL.md §4.5).
	SimpleMode bool

	// Async enables the errgroup-based cooperative monitor step
	// (spec §9 design note). Ignored when SimpleMode is set.
	Async bool

	// ExitWhenIdle makes Start return once the idle check (spec §4.5
	// step 6) first reports true, for standalone single-run invocations.
	ExitWhenIdle bool

	// LiveOutput is forwarded to spawned workers' --live flag.
	LiveOutput bool
}

const defaultRoleCap = 2

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = "queen"
	}
	if c.TaskRetryLimit <= 0 {
		c.TaskRetryLimit = 2
	}
	if c.StatusRefreshInterval <= 0 {
		c.StatusRefreshInterval = 10 * time.Second
	}
	if c.ZombieDetectionMinutes <= 0 {
		c.ZombieDetectionMinutes = 5
	}
	return c
}

func (c Config) capForRole(role string) int {
	if c.MaxParallelPerRole != nil {
		if v, ok := c.MaxParallelPerRole[role]; ok {
			return v
		}
	}
	return defaultRoleCap
}
