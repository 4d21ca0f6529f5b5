// Package cli provides the command-line interface of filelocker.
package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// redrawInterval limits how often the progress line is repainted.
const redrawInterval = 100 * time.Millisecond

// Reporter implements locker.ProgressReporter for terminal output.
// It displays progress updates on a single line that gets overwritten.
type Reporter struct {
	mu       sync.Mutex
	out      io.Writer
	status   string
	progress float32
	info     string
	quiet    bool
	lastLine int // Length of last printed line (for clearing)
	lastDraw time.Time
}

// NewReporter creates a reporter writing to out.
// If quiet is true, only errors are printed.
func NewReporter(out io.Writer, quiet bool) *Reporter {
	return &Reporter{
		out:   out,
		quiet: quiet,
	}
}

// SetStatus updates the status message.
func (r *Reporter) SetStatus(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = text
	r.draw(true)
}

// SetProgress updates the progress bar and info text.
func (r *Reporter) SetProgress(fraction float32, info string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = fraction
	r.info = info
	r.draw(fraction >= 1)
}

// draw repaints the line. Callers hold mu.
func (r *Reporter) draw(force bool) {
	if r.quiet {
		return
	}
	now := time.Now()
	if !force && now.Sub(r.lastDraw) < redrawInterval {
		return
	}
	r.lastDraw = now

	barWidth := 30
	filled := min(max(int(r.progress*float32(barWidth)), 0), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	// Format: [████████░░░░░░░░░░░░░░░░░░░░░░] 25.00% | Encrypting at 150.00 MiB/s (ETA: 00:00:05)
	line := fmt.Sprintf("\r[%s] %s | %s", bar, r.info, r.status)

	// Clear previous line if it was longer
	if len(line) < r.lastLine {
		line += strings.Repeat(" ", r.lastLine-len(line))
	}
	r.lastLine = len(line)

	fmt.Fprint(r.out, line)
}

// Finish prints a newline to move past the progress line.
func (r *Reporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.quiet && r.lastLine > 0 {
		fmt.Fprintln(r.out)
	}
	r.lastLine = 0
}

// PrintError prints an error message, even in quiet mode.
func (r *Reporter) PrintError(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.quiet && r.lastLine > 0 {
		fmt.Fprintln(r.out)
		r.lastLine = 0
	}
	fmt.Fprintf(r.out, "Error: "+format+"\n", args...)
}

// PrintWarning prints a warning, even in quiet mode.
func (r *Reporter) PrintWarning(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "Warning: "+format+"\n", args...)
}

// PrintSuccess prints a success message.
func (r *Reporter) PrintSuccess(format string, args ...any) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}
