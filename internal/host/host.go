// Package host defines the narrow platform boundary the bundle store
// consumes (spec.md §4.3) and the native implementation of it. A second,
// build-tag-gated implementation for js/wasm lives in wasm.go.
package host

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/eztex/eztex/internal/index"
)

// Range identifies a byte range to fetch from the bundle blob.
type Range struct {
	Name   string
	Offset uint64
	Length uint32
}

// SeedResult tallies the outcome of a BatchSeed call.
type SeedResult struct {
	Fetched       int
	SkippedCached int
	SkippedUnknown int
	Failed        int
}

// Host is the platform boundary spec.md §4.3 describes. Not every
// implementation supports every operation: BatchSeed is native-only and
// returns ErrUnsupported on the js/wasm build.
type Host interface {
	// FetchRange performs the HTTP byte-range request described by r.
	FetchRange(ctx context.Context, r Range) ([]byte, error)

	// FetchIndex retrieves and decompresses the ITAR index.
	FetchIndex(ctx context.Context) ([]byte, error)

	// LoadCachedIndex returns the persisted index text for digest, if any.
	LoadCachedIndex(digest string) ([]byte, bool)

	// CacheIndex persists index text for digest. No-op on browser hosts
	// beyond best-effort.
	CacheIndex(digest string, content []byte) error

	// CacheCheck reports whether name is present in the persistent cache.
	CacheCheck(name string) bool

	// CacheRead returns the bytes of a cached body, or false if absent.
	CacheRead(name string) ([]byte, bool)

	// CacheWrite write-through persists content under name. Must be
	// durable before return on native.
	CacheWrite(name string, content []byte) error

	// CacheSave flushes any in-memory manifest state to disk.
	CacheSave() error

	// BatchSeed resolves and fetches ranges concurrently, native only.
	BatchSeed(ctx context.Context, items []Range, concurrency int) (SeedResult, error)

	// TimestampNS returns a monotonic timestamp in nanoseconds.
	TimestampNS() int64
}

// FileCacheOpener is an optional capability a Host may implement to hand
// back a real *os.File for a cached body instead of a copied byte slice,
// letting BundleStore "re-open from the content-addressed cache" for the
// dedup benefit spec.md §4.2 describes. Only NativeHost implements it.
// No caller in this module type-asserts for it: bundle.Store reads
// cached bodies through CacheRead on every host.
type FileCacheOpener interface {
	CacheOpen(name string) (*os.File, bool)
}

// ErrUnsupported is returned by operations a given host cannot perform
// (e.g. BatchSeed on the js/wasm host).
type ErrUnsupported struct {
	Op string
}

func (e *ErrUnsupported) Error() string { return "host: unsupported operation: " + e.Op }

// rangeTimeout implements the "base 20s, +1s per 100KB" scaling rule used
// by the native range fetch (and so by batch-seed retries, which go
// through FetchRange). The index fetch uses its own fixed 30s timeout.
func rangeTimeout(length uint32) time.Duration {
	base := 20 * time.Second
	extra := time.Duration(length/100_000) * time.Second
	return base + extra
}

// EnsureIndex loads the bundle index for digest, matching
// spec.md §4.2's ensure_index algorithm: try persistent cache, else fetch
// and parse, then write back. It lives here (not in bundle) because it
// only touches Host + index.Index, no BundleStore state.
func EnsureIndex(ctx context.Context, h Host, digest string) (*index.Index, error) {
	idx := index.New()

	if cached, ok := h.LoadCachedIndex(digest); ok && len(cached) > 0 {
		if err := idx.Load(bytes.NewReader(cached)); err == nil {
			return idx, nil
		}
	}

	data, err := h.FetchIndex(ctx)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	_ = h.CacheIndex(digest, data)
	return idx, nil
}
