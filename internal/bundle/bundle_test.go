package bundle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/eztex/eztex/internal/host"
)

// fakeHost is an in-memory host.Host used to exercise Store without any
// real network or filesystem access.
type fakeHost struct {
	mu          sync.Mutex
	indexText   []byte
	cache       map[string][]byte
	fetchCalls  int
	failFetch   map[string]bool
	failWrite   bool
}

func newFakeHost(indexText string) *fakeHost {
	return &fakeHost{
		indexText: []byte(indexText),
		cache:     make(map[string][]byte),
		failFetch: make(map[string]bool),
	}
}

func (h *fakeHost) FetchRange(ctx context.Context, r host.Range) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetchCalls++
	if h.failFetch[r.Name] {
		return nil, errors.New("simulated fetch failure")
	}
	return []byte(r.Name + "-body"), nil
}

func (h *fakeHost) FetchIndex(ctx context.Context) ([]byte, error) {
	return h.indexText, nil
}

func (h *fakeHost) LoadCachedIndex(digest string) ([]byte, bool) { return nil, false }
func (h *fakeHost) CacheIndex(digest string, content []byte) error { return nil }

func (h *fakeHost) CacheCheck(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.cache[name]
	return ok
}

func (h *fakeHost) CacheRead(name string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.cache[name]
	return b, ok
}

func (h *fakeHost) CacheWrite(name string, content []byte) error {
	if h.failWrite {
		return errors.New("simulated write failure")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache[name] = content
	return nil
}

func (h *fakeHost) CacheSave() error { return nil }

func (h *fakeHost) BatchSeed(ctx context.Context, items []host.Range, concurrency int) (host.SeedResult, error) {
	var result host.SeedResult
	for _, item := range items {
		body, err := h.FetchRange(ctx, item)
		if err != nil {
			result.Failed++
			continue
		}
		if err := h.CacheWrite(item.Name, body); err != nil {
			result.Failed++
			continue
		}
		result.Fetched++
	}
	return result, nil
}

func (h *fakeHost) TimestampNS() int64 { return 0 }

func TestResolveFetchesOnMissThenCaches(t *testing.T) {
	h := newFakeHost("a.tex 0 10\n")
	s := New(h, "http://bundle", "digest", nil)

	resolved, err := s.Resolve(context.Background(), "a.tex")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(resolved.Body) != "a.tex-body" {
		t.Fatalf("Resolve body = %q", resolved.Body)
	}
	if !h.CacheCheck("a.tex") {
		t.Fatalf("expected a.tex to be cached after resolve")
	}

	if _, err := s.Resolve(context.Background(), "a.tex"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if h.fetchCalls != 1 {
		t.Fatalf("fetchCalls = %d, want 1 (second resolve should hit cache)", h.fetchCalls)
	}
}

func TestResolveUnknownNameReturnsFileNotFound(t *testing.T) {
	h := newFakeHost("a.tex 0 10\n")
	s := New(h, "http://bundle", "digest", nil)

	_, err := s.Resolve(context.Background(), "missing.tex")
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("Resolve(missing) error = %v, want ErrFileNotFound", err)
	}
}

func TestResolveFetchFailurePropagatesAsFetchFailed(t *testing.T) {
	h := newFakeHost("a.tex 0 10\n")
	h.failFetch["a.tex"] = true
	s := New(h, "http://bundle", "digest", nil)

	_, err := s.Resolve(context.Background(), "a.tex")
	var ffErr *FetchFailedError
	if !errors.As(err, &ffErr) {
		t.Fatalf("Resolve error = %v, want *FetchFailedError", err)
	}
}

func TestResolveCacheWriteFailure(t *testing.T) {
	h := newFakeHost("a.tex 0 10\n")
	h.failWrite = true
	s := New(h, "http://bundle", "digest", nil)

	_, err := s.Resolve(context.Background(), "a.tex")
	var cwErr *CacheWriteFailedError
	if !errors.As(err, &cwErr) {
		t.Fatalf("Resolve error = %v, want *CacheWriteFailedError", err)
	}
}

func TestHasReflectsCacheAndIndex(t *testing.T) {
	h := newFakeHost("a.tex 0 10\n")
	s := New(h, "http://bundle", "digest", nil)

	if !s.Has(context.Background(), "a.tex") {
		t.Fatalf("expected Has(a.tex) true from index")
	}
	if s.Has(context.Background(), "missing.tex") {
		t.Fatalf("expected Has(missing.tex) false")
	}
}

func TestBatchSeedTalliesSkippedAndFetched(t *testing.T) {
	h := newFakeHost("a.tex 0 10\nb.tex 10 10\nc.tex 20 10\n")
	if err := h.CacheWrite("a.tex", []byte("cached")); err != nil {
		t.Fatal(err)
	}
	s := New(h, "http://bundle", "digest", nil)

	result, err := s.BatchSeed(context.Background(), []string{"a.tex", "b.tex", "unknown.tex"}, 2)
	if err != nil {
		t.Fatalf("BatchSeed: %v", err)
	}
	if result.SkippedCached != 1 || result.SkippedUnknown != 1 || result.Fetched != 1 {
		t.Fatalf("BatchSeed result = %+v", result)
	}
}

func TestCloseSavesCache(t *testing.T) {
	h := newFakeHost("")
	s := New(h, "http://bundle", "digest", nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
