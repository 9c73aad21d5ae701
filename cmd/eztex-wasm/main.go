//go:build js && wasm

// Command eztex-wasm is the browser worker entry point from spec.md
// §4.12: it boots the bundle index, cache, and format blob once, then
// answers compile and main-file-detection requests dispatched from the
// host page over the "eztexWorker" global. File I/O for project inputs
// and compile intermediates is expected to resolve through a
// globalThis.fs the host page installs before instantiating this
// module (the same convention wasm_exec.js uses for os.*): that keeps
// World and Driver identical to the native build rather than forking
// their file-resolution logic for the browser.
package main

import (
	"context"
	"fmt"
	"syscall/js"

	"github.com/eztex/eztex/internal/bundle"
	"github.com/eztex/eztex/internal/compiler"
	"github.com/eztex/eztex/internal/diag"
	"github.com/eztex/eztex/internal/engine"
	"github.com/eztex/eztex/internal/formatcache"
	"github.com/eztex/eztex/internal/host"
	"github.com/eztex/eztex/internal/logx"
	"github.com/eztex/eztex/internal/metrics"
	"github.com/eztex/eztex/internal/project"
)

var log = logx.Scope("worker")

const engineVersion uint32 = 1
const formatCacheDir = "/tmp/eztex-formats"

// logWriter forwards Sink-rendered diagnostic text to the worker's log
// channel instead of stderr, which does not exist in a worker.
type logWriter struct {
	bridge js.Value
}

func (lw logWriter) Write(p []byte) (int, error) {
	lw.bridge.Call("sendLog", string(p), "diagnostic")
	return len(p), nil
}

func main() {
	bridge := js.Global().Get("eztex")

	logx.SetSink(func(level logx.Level, line string) {
		bridge.Call("sendLog", line, level.String())
	})

	wh := host.NewWasmHost()
	digest := bridge.Call("cacheVersion").String()

	formatStore, err := formatcache.Open(formatCacheDir)
	if err != nil {
		log.Errorf("open format cache: %v", err)
	}

	reg := metrics.New()
	driver := &compiler.Driver{
		Engine: engine.NewJSBridgeEngine(),
		BundleFactory: func() *bundle.Store {
			return bundle.New(wh, "", digest, reg)
		},
		FormatCache:   formatStore,
		BundleDigest:  digest,
		EngineVersion: engineVersion,
		Sink:          diag.NewSink(logWriter{bridge: bridge}, false),
		Metrics:       reg,
	}

	registerWorker(bridge, driver)

	bridge.Call("sendStatus", "instantiated")
	select {} // keep the wasm module alive to serve further calls
}

func registerWorker(bridge js.Value, driver *compiler.Driver) {
	exports := map[string]interface{}{
		"boot":       js.FuncOf(bootFunc(bridge, driver)),
		"compile":    js.FuncOf(compileFunc(bridge, driver)),
		"mainDetect": js.FuncOf(mainDetectFunc(bridge)),
	}
	js.Global().Set("eztexWorker", js.ValueOf(exports))
}

// bootFunc implements the boot pipeline from spec.md §4.12 steps 3-6:
// load or seed the init set, load or generate the xelatex format, then
// report ready. Step 1-2 (compiling the wasm module and fetching the
// index in parallel) happen on the host page before this module is even
// instantiated, so there is nothing left for Go to race there.
func bootFunc(bridge js.Value, driver *compiler.Driver) func(js.Value, []js.Value) interface{} {
	return func(this js.Value, args []js.Value) interface{} {
		return jsPromise(func() (interface{}, error) {
			ctx := context.Background()
			bridge.Call("sendStatus", "seeding")

			store := driver.BundleFactory()
			defer store.Close()

			if _, err := store.BatchSeed(ctx, compiler.InitSeed(), 1); err != nil {
				// BatchSeed is unsupported on the browser host by design
				// (spec.md §4.3.2): seeding falls back to on-demand
				// per-file resolution as the engine requests names.
				log.Infof("init seed deferred to on-demand resolution: %v", err)
			}

			bridge.Call("sendStatus", "loading_format")
			workDir, err := bootWorkDir(bridge)
			if err != nil {
				return nil, err
			}
			if err := driver.GenerateFormat(ctx, "xelatex", workDir); err != nil {
				return nil, fmt.Errorf("worker: format boot: %w", err)
			}

			bridge.Call("sendStatus", "ready")
			return true, nil
		})
	}
}

// bootWorkDir asks the host page for a scratch directory rooted in its
// OPFS mount, created fresh for this worker's lifetime.
func bootWorkDir(bridge js.Value) (string, error) {
	result := bridge.Call("scratchDir")
	if result.IsNull() || result.IsUndefined() {
		return "", fmt.Errorf("worker: host did not provide a scratch directory")
	}
	return result.String(), nil
}

// compileFunc runs one compile request, per spec.md §4.12's message
// contract: a main file name resolved by the host's file map, progress
// and log messages sent one-way as the compile proceeds, and a
// send_complete-shaped result on return.
func compileFunc(bridge js.Value, driver *compiler.Driver) func(js.Value, []js.Value) interface{} {
	return func(this js.Value, args []js.Value) interface{} {
		if len(args) < 1 {
			return rejectedPromise(fmt.Errorf("worker: compile requires a main file argument"))
		}
		mainFile := args[0].String()
		synctex := len(args) > 1 && args[1].Truthy()

		return jsPromise(func() (interface{}, error) {
			workDir, err := bootWorkDir(bridge)
			if err != nil {
				return nil, err
			}

			bridge.Call("sendProgress", 0)
			req := compiler.Request{
				InputFile: mainFile,
				WorkDir:   workDir,
				Synctex:   synctex,
			}
			res := driver.Compile(context.Background(), req)
			if res.ExitCode != 0 {
				bridge.Call("sendStatus", "failed")
				return nil, fmt.Errorf("worker: compile failed after %d pass(es)", res.Passes)
			}

			bridge.Call("sendProgress", 100)
			bridge.Call("sendComplete", res.PDFPath, res.SyncTexPath, res.Passes)
			return map[string]interface{}{
				"pdf":     res.PDFPath,
				"synctex": res.SyncTexPath,
				"passes":  res.Passes,
			}, nil
		})
	}
}

// mainDetectFunc exposes project.MainDetect to the host page for
// projects uploaded as a flat file list (e.g. a dropped folder or zip
// already unpacked client-side), per spec.md §4.9.
func mainDetectFunc(bridge js.Value) func(js.Value, []js.Value) interface{} {
	return func(this js.Value, args []js.Value) interface{} {
		if len(args) < 1 {
			return rejectedPromise(fmt.Errorf("worker: mainDetect requires a name list"))
		}
		namesVal := args[0]
		length := namesVal.Length()
		names := make([]string, length)
		for i := 0; i < length; i++ {
			names[i] = namesVal.Index(i).String()
		}

		return jsPromise(func() (interface{}, error) {
			read := func(name string) ([]byte, error) {
				result := bridge.Call("readProjectFile", name)
				if result.IsNull() || result.IsUndefined() {
					return nil, fmt.Errorf("worker: read %s failed", name)
				}
				buf := make([]byte, result.Get("length").Int())
				js.CopyBytesToGo(buf, result)
				return buf, nil
			}
			main, err := project.MainDetect(names, read)
			if err != nil {
				return nil, err
			}
			return main, nil
		})
	}
}

// jsPromise runs fn on its own goroutine and resolves/rejects a JS
// Promise with the result, the standard bridge between Go's blocking
// calls and JS's cooperative scheduler.
func jsPromise(fn func() (interface{}, error)) js.Value {
	executor := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve, reject := args[0], args[1]
		go func() {
			result, err := fn()
			if err != nil {
				reject.Invoke(err.Error())
				return
			}
			resolve.Invoke(js.ValueOf(result))
		}()
		return nil
	})
	return js.Global().Get("Promise").New(executor)
}

func rejectedPromise(err error) js.Value {
	executor := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		args[1].Invoke(err.Error())
		return nil
	})
	return js.Global().Get("Promise").New(executor)
}
