// Package diag implements the DiagnosticSink and the colored rendering
// of engine diagnostics described in spec.md §3 and §7.
package diag

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Diagnostic is the structured record the sink renders, matching the
// "Diagnostic record" in spec.md §3.
type Diagnostic struct {
	Severity Severity
	Message  string
	File     string
	Line     int
	Context  []string
}

// Sink renders diagnostics to w, with three callback-shaped entry points
// matching the {on_info, on_warning, on_error} contract.
type Sink struct {
	w        io.Writer
	colorize bool

	errLabel  *color.Color
	warnLabel *color.Color
	infoLabel *color.Color
	arrow     *color.Color
	ctxPrefix *color.Color
}

// NewSink builds a Sink writing to w. colorize should reflect whether w
// is a TTY (fatih/color's own NO_COLOR/isatty handling governs whether
// the escape codes it emits actually render).
func NewSink(w io.Writer, colorize bool) *Sink {
	s := &Sink{
		w:        w,
		colorize: colorize,
		errLabel: color.New(color.FgRed, color.Bold),
		warnLabel: color.New(color.FgYellow, color.Bold),
		infoLabel: color.New(color.FgCyan, color.Bold),
		arrow:    color.New(color.FgBlue),
		ctxPrefix: color.New(color.Faint),
	}
	if !colorize {
		color.NoColor = true
	}
	return s
}

func (s *Sink) OnInfo(d Diagnostic)    { s.emit(d) }
func (s *Sink) OnWarning(d Diagnostic) { s.emit(d) }
func (s *Sink) OnError(d Diagnostic)   { s.emit(d) }

func (s *Sink) emit(d Diagnostic) {
	label := s.infoLabel
	text := "info"
	switch d.Severity {
	case SeverityWarning:
		label, text = s.warnLabel, "warning"
	case SeverityError:
		label, text = s.errLabel, "error"
	}

	fmt.Fprintf(s.w, "%s: %s\n", label.Sprint(text), d.Message)
	if d.File != "" {
		fmt.Fprintf(s.w, "%s %s:%d\n", s.arrow.Sprint("-->"), d.File, d.Line)
	}
	for _, line := range d.Context {
		fmt.Fprintf(s.w, "%s %s\n", s.ctxPrefix.Sprint("|"), line)
	}
}

var lineRE = regexp.MustCompile(`^([^:\s][^:]*):(\d+): (.*)$`)

// Parse implements spec.md §7's diagnostic formatting: parse
// "[<path>:<line>: ]<message>\n<context>*". Path must be non-numeric,
// line must be purely digits, the separator is exactly ": ". Lines that
// don't match the prefix fall back to substring classification.
func Parse(raw string) Diagnostic {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 {
		return Diagnostic{Message: raw}
	}

	first := lines[0]
	context := lines[1:]

	if m := lineRE.FindStringSubmatch(first); m != nil {
		if _, err := strconv.Atoi(m[1]); err != nil { // path must be non-numeric
			line, _ := strconv.Atoi(m[2])
			return Diagnostic{
				Severity: classify(m[3]),
				Message:  m[3],
				File:     m[1],
				Line:     line,
				Context:  context,
			}
		}
	}

	return Diagnostic{Severity: classify(first), Message: first, Context: context}
}

// classify implements the substring fallback: case-sensitive "error" or
// "Error" anywhere in the line, else "warning" or "Warning", else info.
func classify(line string) Severity {
	switch {
	case strings.Contains(line, "error") || strings.Contains(line, "Error"):
		return SeverityError
	case strings.Contains(line, "warning") || strings.Contains(line, "Warning"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
