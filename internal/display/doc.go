// Package display provides terminal UI utilities for displaying progress, warnings, and status messages.
//
// This package centralizes all terminal output formatting, ANSI color codes, and user-facing display logic
// for the orchestrator CLI. It provides two main categories of functionality:
//
// # Progress Indicators
//
// Use ProgressIndicator for multi-step scheduling operations:
//
//	progress := display.NewProgressIndicator(os.Stdout, len(candidates))
//	progress.Start()
//	for _, task := range candidates {
//	    progress.Step(task.Title)
//	    // ... spawn worker ...
//	}
//	progress.Complete()
//
// # Warning Messages
//
// Display warnings with optional components:
//
//	warning := display.Warning{
//	    Title:      "Worker spawn failed",
//	    Message:    "task reverted to queued",
//	    Suggestion: "check agent CLI availability",
//	}
//	warning.Display(os.Stderr)
//
// # ANSI Colors
//
// The package uses ANSI escape codes for terminal colors:
//   - Cyan (\x1b[36m) for progress indicators
//   - Green (\x1b[32m) for success messages
//   - Yellow (\x1b[33m) for warnings
//   - Reset (\x1b[0m) after each colored section
//
// All functions accept io.Writer interfaces for testability and flexibility.
package display
