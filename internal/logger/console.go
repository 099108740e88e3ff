package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger logs to a writer with "[HH:MM:SS] [LEVEL] message"
// formatting. Color is enabled automatically when writer is a TTY
// (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer   io.Writer
	logLevel string
	useColor bool
	mu       sync.Mutex
}

// NewConsoleLogger creates a ConsoleLogger writing to writer. An empty or
// invalid logLevel defaults to "info". A nil writer silently discards
// every message.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:   writer,
		logLevel: normalizeLevel(logLevel),
		useColor: isTerminal(writer),
	}
}

func isTerminal(w io.Writer) bool {
	switch w {
	case os.Stdout:
		return isatty.IsTerminal(os.Stdout.Fd())
	case os.Stderr:
		return isatty.IsTerminal(os.Stderr.Fd())
	default:
		return false
	}
}

var levelColors = map[string]*color.Color{
	"DEBUG": color.New(color.FgHiBlack),
	"INFO":  color.New(color.FgCyan),
	"WARN":  color.New(color.FgYellow),
	"ERROR": color.New(color.FgRed, color.Bold),
}

func (cl *ConsoleLogger) log(level, format string, args ...interface{}) {
	if cl.writer == nil || levelToInt(level) < levelToInt(cl.logLevel) {
		return
	}

	message := fmt.Sprintf(format, args...)
	upper := map[string]string{"debug": "DEBUG", "info": "INFO", "warn": "WARN", "error": "ERROR"}[level]
	ts := time.Now().Format("15:04:05")

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.useColor {
		tag := levelColors[upper].Sprintf("[%s]", upper)
		fmt.Fprintf(cl.writer, "[%s] %s %s\n", ts, tag, message)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, upper, message)
}

func (cl *ConsoleLogger) Debug(format string, args ...interface{}) { cl.log("debug", format, args...) }
func (cl *ConsoleLogger) Info(format string, args ...interface{})  { cl.log("info", format, args...) }
func (cl *ConsoleLogger) Warn(format string, args ...interface{})  { cl.log("warn", format, args...) }
func (cl *ConsoleLogger) Error(format string, args ...interface{}) { cl.log("error", format, args...) }
