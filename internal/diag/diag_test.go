package diag

import (
	"bytes"
	"testing"
)

func TestParseStructuredPrefix(t *testing.T) {
	d := Parse("main.tex:42: Undefined control sequence\ncontext line")
	if d.File != "main.tex" || d.Line != 42 {
		t.Fatalf("Parse file/line = %q:%d", d.File, d.Line)
	}
	if d.Message != "Undefined control sequence" {
		t.Fatalf("Parse message = %q", d.Message)
	}
	if len(d.Context) != 1 || d.Context[0] != "context line" {
		t.Fatalf("Parse context = %v", d.Context)
	}
}

func TestParseFallsBackToSubstringClassification(t *testing.T) {
	d := Parse("! LaTeX Error: something broke")
	if d.Severity != SeverityError {
		t.Fatalf("Severity = %v, want error", d.Severity)
	}

	d = Parse("LaTeX Warning: reference undefined")
	if d.Severity != SeverityWarning {
		t.Fatalf("Severity = %v, want warning", d.Severity)
	}

	d = Parse("Output written on main.pdf")
	if d.Severity != SeverityInfo {
		t.Fatalf("Severity = %v, want info", d.Severity)
	}
}

func TestParseRejectsNumericPathAsPrefix(t *testing.T) {
	// "42:10: foo" looks like path:line: but the path is numeric, so
	// this must not be treated as a structured prefix.
	d := Parse("42:10: foo")
	if d.File != "" {
		t.Fatalf("expected no file parsed from numeric-path line, got %q", d.File)
	}
}

func TestSinkRendersMessageAndLocation(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf, false)
	sink.OnError(Diagnostic{Severity: SeverityError, Message: "boom", File: "a.tex", Line: 3, Context: []string{"  ^"}})

	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("boom")) {
		t.Fatalf("rendered output missing message: %q", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("a.tex:3")) {
		t.Fatalf("rendered output missing location: %q", out)
	}
}
