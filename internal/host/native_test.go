//go:build !(js && wasm)

package host

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func TestFetchRangeSendsRangeHeaderAndReturnsSlice(t *testing.T) {
	const body = "0123456789ABCDEF"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader != "bytes=2-5" {
			t.Errorf("Range header = %q, want bytes=2-5", rangeHeader)
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body[2:6]))
	}))
	defer srv.Close()

	h, err := NewNativeHost(t.TempDir(), srv.URL, srv.URL, "digest")
	if err != nil {
		t.Fatal(err)
	}

	got, err := h.FetchRange(context.Background(), Range{Name: "a.tex", Offset: 2, Length: 4})
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if string(got) != body[2:6] {
		t.Fatalf("FetchRange = %q, want %q", got, body[2:6])
	}
}

func TestFetchIndexDecompresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gz := gzip.NewWriter(w)
		gz.Write([]byte("a.tex 0 10\nb.tex 10 5\n"))
		gz.Close()
	}))
	defer srv.Close()

	h, err := NewNativeHost(t.TempDir(), srv.URL, srv.URL, "digest")
	if err != nil {
		t.Fatal(err)
	}
	data, err := h.FetchIndex(context.Background())
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if string(data) != "a.tex 0 10\nb.tex 10 5\n" {
		t.Fatalf("FetchIndex = %q", data)
	}
}

func TestBatchSeedFetchesAndCachesUncachedItems(t *testing.T) {
	bodies := map[string]string{"a.tex": "AAAA", "b.tex": "BBBB"}
	blob := bodies["a.tex"] + bodies["b.tex"]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		rangeHeader := r.Header.Get("Range")
		switch rangeHeader {
		case "bytes=0-3":
			w.Write([]byte(blob[0:4]))
		case "bytes=4-7":
			w.Write([]byte(blob[4:8]))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	h, err := NewNativeHost(filepath.Join(dir, "v1"), srv.URL, srv.URL, "digest")
	if err != nil {
		t.Fatal(err)
	}

	items := []Range{
		{Name: "a.tex", Offset: 0, Length: 4},
		{Name: "b.tex", Offset: 4, Length: 4},
	}
	result, err := h.BatchSeed(context.Background(), items, 2)
	if err != nil {
		t.Fatalf("BatchSeed: %v", err)
	}
	if result.Fetched != 2 || result.Failed != 0 {
		t.Fatalf("BatchSeed result = %+v, want 2 fetched 0 failed", result)
	}
	if !h.CacheCheck("a.tex") || !h.CacheCheck("b.tex") {
		t.Fatalf("expected both items cached after BatchSeed")
	}
}

func TestBatchSeedSkipsAlreadyCachedItems(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("ZZZZ"))
	}))
	defer srv.Close()

	h, err := NewNativeHost(t.TempDir(), srv.URL, srv.URL, "digest")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CacheWrite("a.tex", []byte("AAAA")); err != nil {
		t.Fatal(err)
	}

	result, err := h.BatchSeed(context.Background(), []Range{{Name: "a.tex", Offset: 0, Length: 4}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatalf("expected already-cached item to be skipped, but server was called")
	}
	if result.Fetched != 0 {
		t.Fatalf("Fetched = %d, want 0", result.Fetched)
	}
}
