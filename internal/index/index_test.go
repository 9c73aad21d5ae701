package index

import (
	"strings"
	"testing"
)

func TestLoadParsesWellFormedLines(t *testing.T) {
	src := "latex.ltx 0 120\ntectonic-format-latex.tex 120 45\n"
	idx := New()
	if err := idx.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if idx.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", idx.Count())
	}
	e, ok := idx.Get("latex.ltx")
	if !ok || e.Offset != 0 || e.Length != 120 {
		t.Fatalf("Get(latex.ltx) = %+v, %v", e, ok)
	}
}

func TestLoadSkipsReservedAndCorruptLines(t *testing.T) {
	src := strings.Join([]string{
		"SVNREV 1 2",
		"GITHASH 1 2",
		"garbage line",
		"bad.tex notanumber 10",
		"ok.tex 5 10",
		"  ",
	}, "\n")
	idx := New()
	if err := idx.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if idx.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", idx.Count())
	}
	if !idx.Has("ok.tex") {
		t.Fatalf("expected ok.tex to be present")
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	idx := New()
	if err := idx.Load(strings.NewReader("a.tex 0 1\nb.tex 1 2\n")); err != nil {
		t.Fatal(err)
	}
	first := idx.entries
	if err := idx.Load(strings.NewReader("a.tex 0 1\nb.tex 1 2\n")); err != nil {
		t.Fatal(err)
	}
	if !entriesEqual(first, idx.entries) {
		t.Fatalf("reload produced a different map: %+v vs %+v", first, idx.entries)
	}
	if err := idx.Load(strings.NewReader("")); err != nil {
		t.Fatal(err)
	}
	if idx.Count() != 0 {
		t.Fatalf("Load with empty input should clear the map, got %d entries", idx.Count())
	}
}

func TestGetFontsPrefixRule(t *testing.T) {
	idx := New()
	if err := idx.Load(strings.NewReader("cmr10.tfm 0 10\n")); err != nil {
		t.Fatal(err)
	}
	e, ok := idx.Get("fonts/cmr10.tfm")
	if !ok {
		t.Fatalf("expected fonts/ prefix rule to resolve cmr10.tfm")
	}
	want, _ := idx.Get("cmr10.tfm")
	if e != want {
		t.Fatalf("fonts/ lookup = %+v, want %+v", e, want)
	}
}

func entriesEqual(a, b map[string]Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
