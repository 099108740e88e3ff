package display

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewProgressIndicator(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(&buf, 3)
	if pi == nil {
		t.Fatal("NewProgressIndicator() returned nil")
	}
	if pi.total != 3 {
		t.Errorf("total = %d, want 3", pi.total)
	}
	if pi.current != 0 {
		t.Errorf("current = %d, want 0", pi.current)
	}
}

func TestProgressIndicator_Start(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(&buf, 3)
	pi.Start()

	got := buf.String()
	if !strings.Contains(got, "Admitting 3 ready tasks") {
		t.Errorf("Start() output = %q, missing expected header", got)
	}
}

func TestProgressIndicator_Step(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(&buf, 2)

	pi.Step("fix login bug")
	got := buf.String()

	if !strings.Contains(got, "[1/2] fix login bug") {
		t.Errorf("Step() output missing format, got %q", got)
	}
	if !strings.Contains(got, "\x1b[36m") || !strings.Contains(got, "\x1b[0m") {
		t.Errorf("Step() output missing ANSI color codes, got %q", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Errorf("Step() output missing trailing newline, got %q", got)
	}

	buf.Reset()
	pi.Step("add tests")
	got = buf.String()
	if !strings.Contains(got, "[2/2] add tests") {
		t.Errorf("Step() output missing format, got %q", got)
	}
}

func TestProgressIndicator_Complete(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(&buf, 3)
	pi.Complete()

	got := buf.String()
	if !strings.Contains(got, "✓") {
		t.Errorf("Complete() output missing checkmark, got %q", got)
	}
	if !strings.Contains(got, "Spawned 3 workers") {
		t.Errorf("Complete() output missing message, got %q", got)
	}
	if !strings.Contains(got, "\x1b[32m") {
		t.Errorf("Complete() output missing green ANSI color code, got %q", got)
	}
}

func TestProgressIndicator_FullWorkflow(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(&buf, 2)

	pi.Start()
	if !strings.Contains(buf.String(), "Admitting 2 ready tasks") {
		t.Errorf("Start() missing header, got %q", buf.String())
	}

	buf.Reset()
	pi.Step("task-a")
	if !strings.Contains(buf.String(), "[1/2]") {
		t.Errorf("Step(1) missing expected format, got %q", buf.String())
	}

	buf.Reset()
	pi.Step("task-b")
	if !strings.Contains(buf.String(), "[2/2]") {
		t.Errorf("Step(2) missing expected format, got %q", buf.String())
	}

	buf.Reset()
	pi.Complete()
	if !strings.Contains(buf.String(), "✓") {
		t.Errorf("Complete() missing expected format, got %q", buf.String())
	}
}

func TestDisplaySingleTask(t *testing.T) {
	var buf bytes.Buffer
	DisplaySingleTask(&buf, "fix login bug")

	got := buf.String()
	if !strings.Contains(got, "Admitting task: fix login bug") {
		t.Errorf("DisplaySingleTask() output = %q, missing expected message", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Errorf("DisplaySingleTask() output missing trailing newline, got %q", got)
	}
}
