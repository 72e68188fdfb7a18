// Package printer writes colored CLI output for the warren command.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/fatih/color"
)

func init() {
	// Users can disable with NO_COLOR
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Printer writes to one output and one error stream.
type Printer struct {
	out io.Writer
	err io.Writer
}

// New returns a printer writing to out and errOut.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut}
}

// Out is the printer's output stream, for tabular writers.
func (p *Printer) Out() io.Writer { return p.out }

// Success prints a green line prefixed with a checkmark.
func (p *Printer) Success(format string, a ...any) {
	green.Fprintf(p.out, "✓ %s", strings.TrimPrefix(fmt.Sprintf(format, a...), "✓ "))
}

// Info prints an uncolored message.
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Warning prints a yellow message to the error stream.
func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.err, "⚠️  %s", strings.TrimPrefix(fmt.Sprintf(format, a...), "⚠️  "))
}

// Step prints a cyan progress line.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a titled error with an explanation and suggestions to the
// error stream. The returned error carries only the title, for cobra.
func (p *Printer) Error(title, explanation string, suggestions []string) error {
	return p.ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details. Keys print in the order given.
func (p *Printer) ErrorWithContext(title, explanation string, details [][2]string, suggestions []string) error {
	red.Fprintf(p.err, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(p.err, "%s\n", explanation)
	}

	if len(details) > 0 {
		fmt.Fprintln(p.err)
		for _, kv := range details {
			fmt.Fprintf(p.err, "  %s: %s\n", kv[0], kv[1])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.err, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// Severity colors a severity label: critical red, high yellow, others plain.
func Severity(s blackboard.Severity) string {
	switch s {
	case blackboard.SeverityCritical:
		return red.Sprint(string(s))
	case blackboard.SeverityHigh:
		return yellow.Sprint(string(s))
	case "":
		return "-"
	default:
		return string(s)
	}
}

// Status colors an insight status by how far along the lifecycle it is.
func Status(s blackboard.InsightStatus) string {
	switch s {
	case blackboard.InsightStatusTaskCreated:
		return green.Sprint(string(s))
	case blackboard.InsightStatusPromoted:
		return cyan.Sprint(string(s))
	case blackboard.InsightStatusPendingTriage:
		return yellow.Sprint(string(s))
	default:
		return faint.Sprint(string(s))
	}
}
