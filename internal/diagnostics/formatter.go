package diagnostics

import (
	"fmt"
	"io"
	"strings"
)

// ANSI sequences used when color is enabled.
const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
)

// Formatter renders diagnostics for the terminal. The zero value prints
// one line per diagnostic in the form
//
//	projects/acme.yaml:4: duplicate connection id "pg-main" [error E103]
//
// Verbose adds the code description, notes, related locations, and the
// quoted manifest context underneath.
type Formatter struct {
	Verbose bool
	Color   bool
}

// Format renders one diagnostic without a trailing newline.
func (f Formatter) Format(d Diagnostic) string {
	var b strings.Builder

	tag := f.paint(d.Severity, d.Severity.String())
	if d.Code != "" {
		tag += " " + d.Code
	}
	fmt.Fprintf(&b, "%s: %s [%s]", d.Where(), d.Message, tag)

	if !f.Verbose {
		return b.String()
	}

	if d.Code != "" {
		fmt.Fprintf(&b, "\n    %s", CodeDescription(d.Code))
	}
	for _, note := range d.Notes {
		fmt.Fprintf(&b, "\n    note: %s", note)
	}
	for _, rel := range d.Related {
		where := Diagnostic{Location: rel.Location}.Where()
		fmt.Fprintf(&b, "\n    related: %s: %s", where, rel.Message)
	}
	if d.Context != "" {
		for _, line := range strings.Split(strings.TrimRight(d.Context, "\n"), "\n") {
			fmt.Fprintf(&b, "\n    %s", line)
		}
	}

	return b.String()
}

// WriteAll renders every diagnostic to w in order.
func (f Formatter) WriteAll(w io.Writer, diags []Diagnostic) {
	for _, d := range diags {
		_, _ = fmt.Fprintln(w, f.Format(d))
	}
}

// Summarize tallies errors and warnings into a closing line, empty when
// there is nothing worth reporting.
func (f Formatter) Summarize(s Summary) string {
	parts := make([]string, 0, 2)
	if s.Errors > 0 {
		parts = append(parts, count(s.Errors, "error"))
	}
	if s.Warnings > 0 {
		parts = append(parts, count(s.Warnings, "warning"))
	}
	return strings.Join(parts, ", ")
}

func count(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// paint wraps text in the severity's color when Color is on.
func (f Formatter) paint(s Severity, text string) string {
	if !f.Color {
		return text
	}
	switch s {
	case SeverityError:
		return ansiRed + text + ansiReset
	case SeverityWarning:
		return ansiYellow + text + ansiReset
	default:
		return ansiCyan + text + ansiReset
	}
}
