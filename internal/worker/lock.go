package worker

import (
	"fmt"

	"github.com/harrison/conductor/internal/filelock"
)

// lockWorkspace enforces single-owner access to a workspace directory for
// the lifetime of a run (invariant: no two workers share a workspace). The
// returned func releases the lock and is safe to call via defer, including
// on panic.
func lockWorkspace(workspacePath string) (func(), error) {
	lock := filelock.NewFileLock(workspacePath + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	return func() {
		lock.Unlock()
	}, nil
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...interface{}) {}
func (noopLogger) Info(msg string, args ...interface{})  {}
func (noopLogger) Warn(msg string, args ...interface{})  {}
func (noopLogger) Error(msg string, args ...interface{}) {}

var noopLoggerInstance = noopLogger{}
