package display

import (
	"fmt"
	"io"
)

// ProgressIndicator renders a multi-step scheduling operation with ANSI colors.
// Queen uses it to narrate an admission pass over candidate tasks.
type ProgressIndicator struct {
	writer  io.Writer
	total   int
	current int
}

// NewProgressIndicator creates a new progress indicator for total steps.
func NewProgressIndicator(w io.Writer, total int) *ProgressIndicator {
	return &ProgressIndicator{
		writer: w,
		total:  total,
	}
}

// Start displays the header message.
func (p *ProgressIndicator) Start() {
	fmt.Fprintf(p.writer, "Admitting %d ready tasks...\n", p.total)
}

// Step displays progress for the current item: [N/Total] label (cyan).
func (p *ProgressIndicator) Step(label string) {
	p.current++
	fmt.Fprintf(p.writer, "\x1b[36m  [%d/%d] %s\x1b[0m\n", p.current, p.total, label)
}

// Complete displays a success message with a green checkmark.
func (p *ProgressIndicator) Complete() {
	fmt.Fprintf(p.writer, "\x1b[32m✓\x1b[0m Spawned %d workers\n", p.total)
}

// DisplaySingleTask shows a simple message for a single admitted task.
func DisplaySingleTask(w io.Writer, title string) {
	fmt.Fprintf(w, "Admitting task: %s...\n", title)
}
