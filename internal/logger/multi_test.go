package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestMultiLogger_FansOutToAll(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiLogger(NewConsoleLogger(&a, "debug"), NewConsoleLogger(&b, "debug"))

	m.Info("hello %s", "world")

	if !strings.Contains(a.String(), "hello world") {
		t.Errorf("first logger missing message, got: %q", a.String())
	}
	if !strings.Contains(b.String(), "hello world") {
		t.Errorf("second logger missing message, got: %q", b.String())
	}
}

func TestMultiLogger_SkipsNilEntries(t *testing.T) {
	var buf bytes.Buffer
	m := NewMultiLogger(nil, NewConsoleLogger(&buf, "debug"), nil)

	m.Error("boom")

	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected message to reach the non-nil logger, got: %q", buf.String())
	}
}
