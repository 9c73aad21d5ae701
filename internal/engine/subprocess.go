//go:build !(js && wasm)

package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/eztex/eztex/internal/logx"
)

var log = logx.Scope("engine")

// SubprocessEngine invokes the real TeX toolchain as subprocesses,
// grounded on the teacher's exec.CommandContext pattern in
// internal/tectonic.go and internal/compiler.go (latexmk invocation):
// build an argument list, capture stdout/stderr into buffers, run with
// a context deadline, and translate the process exit code.
//
// A real xetex/xdvipdfmx binary does its own filesystem resolution; it
// does not go through our World handle table. The compile driver does
// not copy files that World/BundleStore would resolve into WorkDir: the
// subprocess sees only what is already in WorkDir and whatever its own
// TeX installation provides.
type SubprocessEngine struct {
	WorkDir    string
	XetexBin   string // e.g. "xelatex" or "pdflatex"
	XdvipdfmxBin string
	BibtexBin  string

	mu          sync.Mutex
	knobs       map[string]int
	lastErr     string
	checkpoint  func(CheckpointEvent)
}

// NewSubprocessEngine returns an engine rooted at workDir. Binary names
// default to the XeTeX-based toolchain spec.md assumes.
func NewSubprocessEngine(workDir string) *SubprocessEngine {
	return &SubprocessEngine{
		WorkDir:      workDir,
		XetexBin:     "xelatex",
		XdvipdfmxBin: "xdvipdfmx",
		BibtexBin:    "bibtex",
		knobs:        make(map[string]int),
	}
}

func (e *SubprocessEngine) run(ctx context.Context, name string, args ...string) (ExitCode, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.WorkDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("running %s %v in %s", name, args, e.WorkDir)
	err := cmd.Run()

	code := exitCodeFromError(err)
	if !code.Success() {
		e.mu.Lock()
		e.lastErr = lastNonEmptyLine(stdout.String() + stderr.String())
		e.mu.Unlock()
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return code, nil
		}
		return ExitFatal, fmt.Errorf("engine: run %s: %w", name, err)
	}
	return code, nil
}

func exitCodeFromError(err error) ExitCode {
	if err == nil {
		return ExitSpotless
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		switch {
		case code <= 0:
			return ExitError
		case code == 1:
			return ExitWarning
		case code >= 3:
			return ExitFatal
		default:
			return ExitError
		}
	}
	return ExitFatal
}

func lastNonEmptyLine(s string) string {
	lines := splitLines(s)
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] != "" {
			return lines[i]
		}
	}
	return ""
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func (e *SubprocessEngine) RunXetex(ctx context.Context, dumpName, inputName string, buildDate uint64) (ExitCode, error) {
	args := []string{"-interaction=nonstopmode", "-halt-on-error"}
	if e.knobs[KnobSynctexEnabled] != 0 {
		args = append(args, "-synctex=1")
	}
	if e.knobs[KnobInInitexMode] != 0 {
		args = append(args, "-ini")
	}
	if dumpName != "" {
		args = append(args, "-fmt="+dumpName)
	}
	args = append(args, inputName)

	code, err := e.run(ctx, e.XetexBin, args...)
	if code == ExitSpotless && e.checkpoint != nil {
		e.checkpoint(CheckpointFormatLoaded)
	}
	return code, err
}

func (e *SubprocessEngine) RunXdvipdfmx(ctx context.Context, xdvName, pdfName string) (ExitCode, error) {
	args := []string{"-o", pdfName, xdvName}
	return e.run(ctx, e.XdvipdfmxBin, args...)
}

func (e *SubprocessEngine) RunBibtex(ctx context.Context, auxName string) (ExitCode, error) {
	jobname := auxName
	if ext := filepath.Ext(jobname); ext == ".aux" {
		jobname = jobname[:len(jobname)-len(ext)]
	}
	return e.run(ctx, e.BibtexBin, jobname)
}

func (e *SubprocessEngine) SetIntVariable(name string, value int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.knobs[name] = value
	return nil
}

func (e *SubprocessEngine) LastErrorMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *SubprocessEngine) SetCheckpointCallback(fn func(CheckpointEvent)) {
	e.checkpoint = fn
}

// SetWorkDir repoints the engine at a new working directory, letting a
// single SubprocessEngine be reused across compiles of different
// projects. Satisfies engine.WorkDirSetter.
func (e *SubprocessEngine) SetWorkDir(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.WorkDir = dir
}
