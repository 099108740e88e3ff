package queen

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// ProcessHandle is the subset of a spawned worker subprocess Queen needs to
// supervise it: wait for exit, or kill it on shutdown. Extracted as an
// interface (rather than *exec.Cmd directly) so tests can inject a fake
// process without spawning a real one, mirroring the teacher's
// WaveExecutorInterface/LearningStoreInterface dependency-injection style
// in internal/executor/orchestrator.go.
type ProcessHandle interface {
	Wait() error
	Kill() error
}

// SpawnParams names one worker-subprocess invocation (spec §4.5 step 2).
type SpawnParams struct {
	Role       string
	TaskID     string
	RunID      string
	Phase      string
	Mode       string
	LiveOutput bool
}

// Spawner launches a worker subprocess for an admitted scheduling candidate.
type Spawner interface {
	Spawn(ctx context.Context, p SpawnParams) (ProcessHandle, error)
}

type cmdHandle struct {
	cmd *exec.Cmd
}

func (h *cmdHandle) Wait() error { return h.cmd.Wait() }

func (h *cmdHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// execSpawner is the production Spawner: it re-execs this same binary as
// `<self-executable> worker <role> --one-shot --task-id ... --run-id ...
// --phase ... --mode ...` (spec §4.5 step 2).
type execSpawner struct {
	selfExecutable string
}

// NewExecSpawner builds the production Spawner, re-execing selfExecutable
// (normally the running conductor binary's own path).
func NewExecSpawner(selfExecutable string) Spawner {
	return &execSpawner{selfExecutable: selfExecutable}
}

func (s *execSpawner) Spawn(ctx context.Context, p SpawnParams) (ProcessHandle, error) {
	args := []string{
		"worker", p.Role,
		"--one-shot",
		"--task-id", p.TaskID,
		"--run-id", p.RunID,
		"--phase", p.Phase,
		"--mode", p.Mode,
	}
	if p.LiveOutput {
		args = append(args, "--live")
	}

	cmd := exec.Command(s.selfExecutable, args...)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker subprocess: %w", err)
	}
	return &cmdHandle{cmd: cmd}, nil
}
