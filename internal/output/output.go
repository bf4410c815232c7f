// Package output renders CLI output: step progress, verification reports,
// and colored status lines. Colors are disabled for non-TTY output and when
// NO_COLOR is set.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	// Colors and styles
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)

	// Output writer (can be overridden for testing)
	Stdout io.Writer = os.Stdout

	noColor = os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stdout)
)

func init() {
	if noColor {
		color.NoColor = true
	}
}

// Success prints a success message with a checkmark
// Example: ✓ Dataset created
func Success(format string, a ...interface{}) {
	fmt.Fprintf(Stdout, green.Sprint("✓")+" "+format+"\n", a...)
}

// Info prints an informational message with an arrow
// Example: → Launching Dataflow job...
func Info(format string, a ...interface{}) {
	fmt.Fprintf(Stdout, cyan.Sprint("→")+" "+format+"\n", a...)
}

// Warning prints a warning message with a warning symbol
// Example: ⚠ Role grant not yet visible, waiting
func Warning(format string, a ...interface{}) {
	fmt.Fprintf(Stdout, yellow.Sprint("⚠")+" "+format+"\n", a...)
}

// Error prints an error message with an X symbol
// Example: ✗ Sink already routes to a different topic
func Error(format string, a ...interface{}) {
	fmt.Fprintf(Stdout, red.Sprint("✗")+" "+format+"\n", a...)
}

// Fatal prints an error message and exits with code 1
func Fatal(format string, a ...interface{}) {
	Error(format, a...)
	os.Exit(1)
}

// Step prints a step in a multi-step process
// Example: [3/10] Ensuring BigQuery dataset
func Step(step int, total int, message string) {
	gray.Fprintf(Stdout, "[%d/%d] ", step, total)
	fmt.Fprintln(Stdout, message)
}

// StepSuccess prints a successful step completion
// Example: [3/10] ✓ dataset already exists
func StepSuccess(step int, total int, message string) {
	gray.Fprintf(Stdout, "[%d/%d] ", step, total)
	fmt.Fprintf(Stdout, "%s %s\n", green.Sprint("✓"), message)
}

// StepError prints a failed step
// Example: [7/10] ✗ transform job entered JOB_STATE_FAILED
func StepError(step int, total int, message string) {
	gray.Fprintf(Stdout, "[%d/%d] ", step, total)
	fmt.Fprintf(Stdout, "%s %s\n", red.Sprint("✗"), message)
}

// Header prints a section header with a separator line
func Header(text string) {
	fmt.Fprintln(Stdout)
	fmt.Fprintln(Stdout, bold.Sprint(text))
	fmt.Fprintln(Stdout, gray.Sprint(strings.Repeat("━", 50)))
}

// KeyValue prints a key-value pair with indentation
// Example:   Dataset: model_telemetry
func KeyValue(key, value string) {
	fmt.Fprintf(Stdout, "  %s: %s\n", gray.Sprint(key), value)
}

// Blank prints a blank line
func Blank() {
	fmt.Fprintln(Stdout)
}

// Println prints a plain line without any formatting
func Println(a ...interface{}) {
	fmt.Fprintln(Stdout, a...)
}

// Printf prints a formatted plain line
func Printf(format string, a ...interface{}) {
	fmt.Fprintf(Stdout, format, a...)
}

// Bold prints text in bold
func Bold(text string) string {
	return bold.Sprint(text)
}

// Table prints a simple table with headers
// Example:
// Run ID        Status      Updated
// ──────        ──────      ───────
// 7f3c…         running     12s ago
func Table(headers []string, rows [][]string) {
	if len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(Stdout, "%-*s  ", widths[i], bold.Sprint(h))
	}
	fmt.Fprintln(Stdout)

	for i := range headers {
		fmt.Fprintf(Stdout, "%s  ", gray.Sprint(strings.Repeat("─", widths[i])))
	}
	fmt.Fprintln(Stdout)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(Stdout, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(Stdout)
	}
}

// StatusBadge prints a colored status badge for run, step, and hop statuses.
func StatusBadge(status string) string {
	switch strings.ToLower(status) {
	case "completed", "success", "reached":
		return green.Sprint("● " + status)
	case "running", "in_progress":
		return yellow.Sprint("● " + status)
	case "failed", "error", "silent":
		return red.Sprint("● " + status)
	case "pending", "idle":
		return gray.Sprint("● " + status)
	default:
		return cyan.Sprint("● " + status)
	}
}

// Confirm prompts the user for yes/no confirmation.
// Returns true if user confirms (y/Y), false otherwise.
func Confirm(prompt string) bool {
	fmt.Fprintf(Stdout, "%s [y/N]: ", yellow.Sprint("?")+" "+prompt)

	var response string
	fmt.Scanln(&response)

	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// Duration formats a duration in a human-readable way
func Duration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		fileInfo, _ := f.Stat()
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return false
}
