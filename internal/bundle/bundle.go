// Package bundle implements the BundleStore resolution engine described
// in spec.md §4.2: cache -> index -> fetch -> persist -> deliver.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eztex/eztex/internal/host"
	"github.com/eztex/eztex/internal/index"
	"github.com/eztex/eztex/internal/logx"
	"github.com/eztex/eztex/internal/metrics"
)

var log = logx.Scope("bundle")

// Error kinds from spec.md §4.2's failure-mode table.
var (
	ErrFileNotFound  = errors.New("bundle: file not found")
	ErrIndexNotLoaded = errors.New("bundle: index not loaded")
)

// FetchFailedError wraps a lower-level fetch error, matching the
// "Fetch errors from Host propagate as FetchFailed" rule.
type FetchFailedError struct {
	Name string
	Err  error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("bundle: fetch %s failed: %v", e.Name, e.Err)
}
func (e *FetchFailedError) Unwrap() error { return e.Err }

// CacheWriteFailedError reports a successful fetch whose cache write
// then failed.
type CacheWriteFailedError struct {
	Name string
	Err  error
}

func (e *CacheWriteFailedError) Error() string {
	return fmt.Sprintf("bundle: cache write for %s failed: %v", e.Name, e.Err)
}
func (e *CacheWriteFailedError) Unwrap() error { return e.Err }

// Resolved is the result of resolving a name: the name and the file's
// bytes. No file handle is returned. After a fetch, Body holds the bytes
// re-read from the content-addressed cache, or the fetched bytes when
// that re-read fails.
type Resolved struct {
	Name string
	Body []byte
}

// Store owns the parsed index and the host it resolves through.
type Store struct {
	host      host.Host
	bundleURL string
	digest    string
	metrics   *metrics.Registry // nil disables metrics recording

	mu    sync.Mutex
	index *index.Index // nil until ensureIndex succeeds
}

// New creates a Store bound to h for the given bundle URL and digest,
// recording cache hit/miss and fetch-byte counters into m (nil
// disables recording, e.g. in tests that don't care about metrics).
// The index is not loaded until the first call that needs it.
func New(h host.Host, bundleURL, digest string, m *metrics.Registry) *Store {
	return &Store{host: h, bundleURL: bundleURL, digest: digest, metrics: m}
}

// ensureIndex implements the lazy-load algorithm from spec.md §4.2.
func (s *Store) ensureIndex(ctx context.Context) (*index.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		return s.index, nil
	}
	idx, err := host.EnsureIndex(ctx, s.host, s.digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexNotLoaded, err)
	}
	s.index = idx
	return idx, nil
}

// Has reports whether name resolves from the cache or the index. It does
// not fetch. A failure to load the index is treated as "not present"
// here; callers needing the distinction should use Resolve.
func (s *Store) Has(ctx context.Context, name string) bool {
	if s.host.CacheCheck(name) {
		return true
	}
	idx, err := s.ensureIndex(ctx)
	if err != nil {
		return false
	}
	return idx.Has(name)
}

// Count returns the number of index entries, loading the index if
// necessary.
func (s *Store) Count(ctx context.Context) (int, error) {
	idx, err := s.ensureIndex(ctx)
	if err != nil {
		return 0, err
	}
	return idx.Count(), nil
}

// Resolve implements cache -> index -> fetch -> persist -> deliver.
func (s *Store) Resolve(ctx context.Context, name string) (*Resolved, error) {
	if body, ok := s.host.CacheRead(name); ok {
		s.recordCacheHit()
		return &Resolved{Name: name, Body: body}, nil
	}
	s.recordCacheMiss()

	idx, err := s.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := idx.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	body, err := s.host.FetchRange(ctx, host.Range{Name: name, Offset: entry.Offset, Length: entry.Length})
	if err != nil {
		return nil, &FetchFailedError{Name: name, Err: err}
	}
	s.recordFetchBytes(len(body))

	if err := s.host.CacheWrite(name, body); err != nil {
		return nil, &CacheWriteFailedError{Name: name, Err: err}
	}

	// Re-open from the content-addressed cache for dedup benefit
	// (spec.md §4.2). If the re-read fails despite a successful write,
	// the freshly fetched bytes are used directly rather than failing
	// the resolve outright -- this falls under the Open Question in
	// spec.md §9 about unclear fallback semantics; we choose to
	// degrade gracefully instead of surfacing a spurious error for
	// data we already have in hand.
	if cached, ok := s.host.CacheRead(name); ok {
		return &Resolved{Name: name, Body: cached}, nil
	}
	log.Warnf("cache re-open for %s failed after successful write, serving fetched bytes directly", name)
	return &Resolved{Name: name, Body: body}, nil
}

func (s *Store) recordCacheHit() {
	if s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}
}

func (s *Store) recordCacheMiss() {
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}
}

func (s *Store) recordFetchBytes(n int) {
	if s.metrics != nil {
		s.metrics.FetchBytes.Add(float64(n))
	}
}

// BatchSeedResult mirrors host.SeedResult with the index-resolution
// tallies BundleStore itself is responsible for (skipped_unknown).
type BatchSeedResult struct {
	Fetched        int
	SkippedCached  int
	SkippedUnknown int
	Failed         int
}

// BatchSeed resolves each name through the index, skipping cache hits
// and unknown names, then fetches the rest concurrently via the host.
func (s *Store) BatchSeed(ctx context.Context, names []string, concurrency int) (BatchSeedResult, error) {
	idx, err := s.ensureIndex(ctx)
	if err != nil {
		return BatchSeedResult{}, err
	}

	var result BatchSeedResult
	var items []host.Range
	for _, name := range names {
		if s.host.CacheCheck(name) {
			result.SkippedCached++
			continue
		}
		entry, ok := idx.Get(name)
		if !ok {
			result.SkippedUnknown++
			continue
		}
		items = append(items, host.Range{Name: name, Offset: entry.Offset, Length: entry.Length})
	}

	seedResult, err := s.host.BatchSeed(ctx, items, concurrency)
	if err != nil {
		return result, err
	}
	result.Fetched = seedResult.Fetched
	result.Failed = seedResult.Failed
	return result, nil
}

// Close saves the cache manifest, matching "every compile creates and
// destroys its own BundleStore, which on native saves the cache manifest
// on drop" (spec.md §3 lifecycle summary).
func (s *Store) Close() error {
	return s.host.CacheSave()
}
