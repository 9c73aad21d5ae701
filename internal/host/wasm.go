//go:build js && wasm

package host

import (
	"context"
	"fmt"
	"syscall/js"
	"time"

	"github.com/eztex/eztex/internal/logx"
)

var log = logx.Scope("host")

// WasmHost implements Host atop the browser worker's JS bindings
// (spec.md §4.3.2): synchronous XHR for range fetches, OPFS for the
// persistent cache, routed through syscall/js calls into functions the
// host page registers under the "eztex" global.
type WasmHost struct {
	bridge js.Value // js.Global().Get("eztex")
}

// NewWasmHost binds to the "eztex" global the worker's bootstrap script
// installs before instantiating the Go wasm module.
func NewWasmHost() *WasmHost {
	return &WasmHost{bridge: js.Global().Get("eztex")}
}

func (h *WasmHost) FetchRange(ctx context.Context, r Range) ([]byte, error) {
	result := h.bridge.Call("fetchRange", r.Name, r.Offset, uint64(r.Offset)+uint64(r.Length), r.Length)
	if result.IsNull() || result.IsUndefined() {
		return nil, fmt.Errorf("host: fetchRange(%s) failed", r.Name)
	}
	return jsUint8ArrayToBytes(result), nil
}

func (h *WasmHost) FetchIndex(ctx context.Context) ([]byte, error) {
	result := h.bridge.Call("fetchIndex")
	if result.IsNull() || result.IsUndefined() {
		return nil, fmt.Errorf("host: fetchIndex failed")
	}
	return jsUint8ArrayToBytes(result), nil
}

func (h *WasmHost) LoadCachedIndex(digest string) ([]byte, bool) {
	result := h.bridge.Call("loadCachedIndex", digest)
	if result.IsNull() || result.IsUndefined() {
		return nil, false
	}
	return jsUint8ArrayToBytes(result), true
}

func (h *WasmHost) CacheIndex(digest string, content []byte) error {
	h.bridge.Call("cacheIndex", digest, bytesToJSUint8Array(content))
	return nil
}

func (h *WasmHost) CacheCheck(name string) bool {
	return h.bridge.Call("cacheCheck", name).Bool()
}

// CacheRead returns the bytes of a cached body via OPFS. There is no
// *os.File equivalent in the browser (see host.FileCacheOpener).
func (h *WasmHost) CacheRead(name string) ([]byte, bool) {
	result := h.bridge.Call("cacheRead", name)
	if result.IsNull() || result.IsUndefined() {
		return nil, false
	}
	return jsUint8ArrayToBytes(result), true
}

func (h *WasmHost) CacheWrite(name string, content []byte) error {
	h.bridge.Call("cacheWrite", name, bytesToJSUint8Array(content))
	return nil
}

func (h *WasmHost) CacheSave() error {
	h.bridge.Call("cacheSave")
	return nil
}

// BatchSeed is unavailable on the browser host: seeding happens
// synchronously, one file at a time, as the engine asks for it
// (spec.md §4.3.2).
func (h *WasmHost) BatchSeed(ctx context.Context, items []Range, concurrency int) (SeedResult, error) {
	return SeedResult{}, &ErrUnsupported{Op: "BatchSeed"}
}

func (h *WasmHost) TimestampNS() int64 {
	return time.Now().UnixNano()
}

func jsUint8ArrayToBytes(v js.Value) []byte {
	length := v.Get("length").Int()
	out := make([]byte, length)
	js.CopyBytesToGo(out, v)
	return out
}

func bytesToJSUint8Array(b []byte) js.Value {
	arr := js.Global().Get("Uint8Array").New(len(b))
	js.CopyBytesToJS(arr, b)
	return arr
}
