// Package engine wraps the five black-box entry points spec.md §6
// describes for the opaque C TeX engine (xetex_main, xdvipdfmx_main,
// bibtex_main, set_int_variable, get_last_error_message). This package
// never reimplements the engine; it only adapts the call convention for
// each of the two backends: native subprocess (subprocess.go) and
// js/wasm via syscall/js (jsbridge.go, build-tag gated).
package engine

import "context"

// ExitCode mirrors the engine's own exit code convention from spec.md
// §6: 0 spotless, 1 warning, 2 error, 3 fatal. 0 and 1 are success.
type ExitCode int

const (
	ExitSpotless ExitCode = 0
	ExitWarning  ExitCode = 1
	ExitError    ExitCode = 2
	ExitFatal    ExitCode = 3
)

// Success reports whether code counts as success per spec.md §6.
func (c ExitCode) Success() bool { return c == ExitSpotless || c == ExitWarning }

// Knob names accepted by SetIntVariable, from spec.md §6.
const (
	KnobHaltOnError              = "halt_on_error_p"
	KnobInInitexMode             = "in_initex_mode"
	KnobSynctexEnabled           = "synctex_enabled"
	KnobSemanticPaginationEnabled = "semantic_pagination_enabled"
	KnobShellEscapeEnabled       = "shell_escape_enabled"
)

// CheckpointEvent is delivered to a checkpoint callback. Only "format
// loaded" is emitted today, per spec.md §6.
type CheckpointEvent string

const CheckpointFormatLoaded CheckpointEvent = "format_loaded"

// Engine is the boundary the compile driver drives. Implementations
// must treat the TeX engine as black-box and synchronous: a single
// RunXetex/RunXdvipdfmx/RunBibtex call runs to completion before
// returning, matching "the process is effectively single-threaded
// because the engine is not reentrant" (spec.md §9).
type Engine interface {
	// RunXetex invokes xetex_main. dumpName selects which preloaded
	// format to use ("xelatex" or "plain"); inputName is the primary
	// input file name as the engine's VFS will resolve it.
	RunXetex(ctx context.Context, dumpName, inputName string, buildDate uint64) (ExitCode, error)

	// RunXdvipdfmx converts the XDV output to PDF.
	RunXdvipdfmx(ctx context.Context, xdvName, pdfName string) (ExitCode, error)

	// RunBibtex runs bibtex over the given .aux file. Non-zero is a
	// warning, never fatal, per spec.md §6.
	RunBibtex(ctx context.Context, auxName string) (ExitCode, error)

	// SetIntVariable sets one of the Knob* switches above.
	SetIntVariable(name string, value int) error

	// LastErrorMessage returns the engine's last-resort error string,
	// valid after any non-success return.
	LastErrorMessage() string

	// SetCheckpointCallback installs fn to be called on lifecycle
	// events. A nil fn disables callbacks.
	SetCheckpointCallback(fn func(CheckpointEvent))
}

// WorkDirSetter is an optional capability: only backends that actually
// shell out to a subprocess need a working directory pinned per compile.
// The compile driver type-asserts for this rather than growing the core
// Engine interface with a concept the wasm/js bridges have no use for.
type WorkDirSetter interface {
	SetWorkDir(dir string)
}
