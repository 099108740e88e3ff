package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLogger_WritesAndSymlinksLatest(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, "info")
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer fl.Close()

	fl.Info("hello %s", "world")
	fl.Debug("filtered out at info level")

	latest := filepath.Join(dir, "latest.log")
	target, err := os.Readlink(latest)
	if err != nil {
		t.Fatalf("readlink latest.log: %v", err)
	}
	if !strings.HasPrefix(target, "run-") {
		t.Errorf("latest.log target = %q, want run-*.log", target)
	}

	data, err := os.ReadFile(filepath.Join(dir, target))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(data), "hello world") {
		t.Errorf("run log missing expected message, got: %q", data)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Error("expected debug message to be filtered at info level")
	}
}
