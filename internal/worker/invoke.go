package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
)

// liveFormatterWidth bounds a single rendered line so wide terminal output
// doesn't wrap mid-word in narrow panes.
const liveFormatterWidth = 160

const (
	pollTimeout   = 600 * time.Second
	terminateGrace = 30 * time.Second
	pollInterval  = 200 * time.Millisecond
)

// InvocationConfig describes one agent-CLI invocation.
type InvocationConfig struct {
	AgentBinary string
	Workspace   string
	Prompt      string
	ResumeID    string
	LiveOutput  bool
	LogFilePath string
}

// InvocationResult is what the worker observes after the agent process exits.
type InvocationResult struct {
	ExitCode        int
	Timeout         bool
	ClaudeCompleted bool
	OutputLines     int
	Transcript      string
	ResumeSessionID string
}

// buildArgs constructs the agent-CLI argument list per spec §4.3: agent
// binary, streaming JSON output flag, verbose flag, --add-dir <workspace>,
// skip-permissions flag, -p <prompt>.
func buildArgs(cfg InvocationConfig) []string {
	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--add-dir", cfg.Workspace,
		"--permission-mode", "bypassPermissions",
	}
	if cfg.ResumeID != "" {
		args = append(args, "--resume", cfg.ResumeID)
	}
	args = append(args, "-p", cfg.Prompt)
	return args
}

// buildEnv assembles the child environment per spec §6.3: the parent env,
// plus CLAUDE_PROJECT_ROOT/CLAUDE_WORKSPACE_ROOT/PWD/WORKSPACE all set to
// the workspace absolute path, a ceiling directory pinned to the workspace
// itself (not its parent) so the agent cannot discover sibling or
// ancestor repos, and PYTHONUNBUFFERED to disable output buffering in any
// Python-based agent tooling.
func buildEnv(workspace string) []string {
	env := os.Environ()
	env = append(env,
		"CLAUDE_PROJECT_ROOT="+workspace,
		"CLAUDE_WORKSPACE_ROOT="+workspace,
		"PWD="+workspace,
		"WORKSPACE="+workspace,
		"GIT_CEILING_DIRECTORIES="+workspace,
		"PYTHONUNBUFFERED=1",
	)
	return env
}

// Invoke launches the agent CLI for one (task, phase) run and blocks until
// it completes, times out, or is killed.
func Invoke(ctx context.Context, cfg InvocationConfig) (*InvocationResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.AgentBinary, buildArgs(cfg)...)
	cmd.Dir = cfg.Workspace
	cmd.Env = buildEnv(cfg.Workspace)
	cmd.Stdin = nil

	var transcript bytes.Buffer
	result := &InvocationResult{}

	discardOutput := runtime.GOOS == "windows"
	if discardOutput {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start agent process: %w", err)
		}
		err := cmd.Wait()
		return finishResult(runCtx, cmd, result, &transcript, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var logFile *os.File
	if cfg.LogFilePath != "" {
		if f, ferr := os.Create(cfg.LogFilePath); ferr == nil {
			logFile = f
			defer logFile.Close()
		}
	}

	formatter := newLiveFormatter(cfg.LiveOutput)
	var mu sync.Mutex

	consume := func(r io.Reader, wg *sync.WaitGroup) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			transcript.WriteString(line)
			transcript.WriteString("\n")
			result.OutputLines++
			mu.Unlock()
			if logFile != nil {
				fmt.Fprintln(logFile, line)
			}
			inspectStreamLine(line, result)
			if formatter != nil {
				formatter.Render(line)
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go consume(stdout, &wg)
	go consume(stderr, &wg)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent process: %w", err)
	}
	wg.Wait()
	waitErr := cmd.Wait()
	return finishResult(runCtx, cmd, result, &transcript, waitErr)
}

func finishResult(runCtx context.Context, cmd *exec.Cmd, result *InvocationResult, transcript *bytes.Buffer, waitErr error) (*InvocationResult, error) {
	result.Transcript = transcript.String()

	if runCtx.Err() == context.DeadlineExceeded {
		result.Timeout = true
		terminateWithGrace(cmd)
		result.ExitCode = -1
		return result, nil
	}

	if waitErr == nil {
		result.ExitCode = 0
		return result, nil
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, fmt.Errorf("wait for agent process: %w", waitErr)
}

// terminateWithGrace sends SIGTERM and force-kills after terminateGrace if
// the process has not exited.
func terminateWithGrace(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(terminateGrace):
		cmd.Process.Kill()
	}
}

// streamMessage is the subset of a claude-CLI stream-json line this worker
// inspects to detect completion.
type streamMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
}

// inspectStreamLine parses one stream-json line and updates result with any
// completion signal or session id it carries.
func inspectStreamLine(line string, result *InvocationResult) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return
	}
	var msg streamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return
	}
	if msg.SessionID != "" {
		result.ResumeSessionID = msg.SessionID
	}
	if msg.Type == "result" && msg.Subtype == "success" {
		result.ClaudeCompleted = true
	}
}

// liveFormatter renders streamed lines to the terminal when --live is set.
type liveFormatter struct {
	enabled bool
	color   *color.Color
}

func newLiveFormatter(enabled bool) *liveFormatter {
	if !enabled {
		return nil
	}
	useColor := isatty.IsTerminal(os.Stdout.Fd())
	c := color.New(color.FgCyan)
	c.EnableColor()
	if !useColor {
		c.DisableColor()
	}
	return &liveFormatter{enabled: enabled, color: c}
}

func (f *liveFormatter) Render(line string) {
	if f == nil || !f.enabled {
		return
	}
	if runewidth.StringWidth(line) > liveFormatterWidth {
		line = runewidth.Truncate(line, liveFormatterWidth, "...")
	}
	f.color.Println(line)
}
