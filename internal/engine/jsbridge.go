//go:build js && wasm

package engine

import (
	"context"
	"sync"
	"syscall/js"
)

// JSBridgeEngine routes the five black-box entry points through
// syscall/js calls into a host-supplied engine binding, since the
// js/wasm build cannot fork a process (spec.md §1 implementation note).
// The host page is expected to expose the engine under
// js.Global().Get("eztexEngine") with one method per entry point.
type JSBridgeEngine struct {
	bridge js.Value

	mu         sync.Mutex
	knobs      map[string]int
	checkpoint func(CheckpointEvent)
}

// NewJSBridgeEngine binds to the "eztexEngine" global.
func NewJSBridgeEngine() *JSBridgeEngine {
	return &JSBridgeEngine{
		bridge: js.Global().Get("eztexEngine"),
		knobs:  make(map[string]int),
	}
}

func (e *JSBridgeEngine) RunXetex(ctx context.Context, dumpName, inputName string, buildDate uint64) (ExitCode, error) {
	result := e.bridge.Call("xetexMain", dumpName, inputName, buildDate)
	code := ExitCode(result.Int())
	if code == ExitSpotless {
		e.fireCheckpoint(CheckpointFormatLoaded)
	}
	return code, nil
}

func (e *JSBridgeEngine) RunXdvipdfmx(ctx context.Context, xdvName, pdfName string) (ExitCode, error) {
	result := e.bridge.Call("xdvipdfmxMain", xdvName, pdfName)
	return ExitCode(result.Int()), nil
}

func (e *JSBridgeEngine) RunBibtex(ctx context.Context, auxName string) (ExitCode, error) {
	result := e.bridge.Call("bibtexMain", auxName)
	return ExitCode(result.Int()), nil
}

func (e *JSBridgeEngine) SetIntVariable(name string, value int) error {
	e.mu.Lock()
	e.knobs[name] = value
	e.mu.Unlock()
	e.bridge.Call("setIntVariable", name, value)
	return nil
}

func (e *JSBridgeEngine) LastErrorMessage() string {
	return e.bridge.Call("getLastErrorMessage").String()
}

func (e *JSBridgeEngine) SetCheckpointCallback(fn func(CheckpointEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkpoint = fn
}

func (e *JSBridgeEngine) fireCheckpoint(ev CheckpointEvent) {
	e.mu.Lock()
	fn := e.checkpoint
	e.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
