package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/eztex/eztex/internal/diag"
	"github.com/eztex/eztex/internal/engine"
	"github.com/eztex/eztex/internal/formatcache"
)

// fakeEngine simulates xetex/xdvipdfmx/bibtex for driver tests without
// touching a real TeX binary.
type fakeEngine struct {
	workDir      string
	jobname      string
	auxSequence  [][]byte // aux content written after each RunXetex call, in order
	xetexCalls   int
	bibtexCalls  int
	xdvCalls     int
	knobs        map[string]int
	lastErr      string
	failXetexAt  int // 0 means never fail
	checkpoint   func(engine.CheckpointEvent)
}

func newFakeEngine(workDir, jobname string, auxSequence [][]byte) *fakeEngine {
	return &fakeEngine{workDir: workDir, jobname: jobname, auxSequence: auxSequence, knobs: map[string]int{}}
}

func (f *fakeEngine) RunXetex(ctx context.Context, dumpName, inputName string, buildDate uint64) (engine.ExitCode, error) {
	f.xetexCalls++
	if f.failXetexAt == f.xetexCalls {
		f.lastErr = "! simulated fatal error"
		return engine.ExitFatal, nil
	}
	idx := f.xetexCalls - 1
	if idx < len(f.auxSequence) {
		auxPath := filepath.Join(f.workDir, f.jobname+".aux")
		if err := os.WriteFile(auxPath, f.auxSequence[idx], 0o644); err != nil {
			return engine.ExitFatal, err
		}
	}
	// Every successful RunXetex call writes an xdv.
	_ = os.WriteFile(filepath.Join(f.workDir, f.jobname+".xdv"), []byte("xdv-bytes"), 0o644)
	if f.checkpoint != nil {
		f.checkpoint(engine.CheckpointFormatLoaded)
	}
	return engine.ExitSpotless, nil
}

func (f *fakeEngine) RunXdvipdfmx(ctx context.Context, xdvName, pdfName string) (engine.ExitCode, error) {
	f.xdvCalls++
	if err := os.WriteFile(pdfName, []byte("%PDF-1.5 fake"), 0o644); err != nil {
		return engine.ExitFatal, err
	}
	return engine.ExitSpotless, nil
}

func (f *fakeEngine) RunBibtex(ctx context.Context, auxName string) (engine.ExitCode, error) {
	f.bibtexCalls++
	return engine.ExitSpotless, nil
}

func (f *fakeEngine) SetIntVariable(name string, value int) error {
	f.knobs[name] = value
	return nil
}

func (f *fakeEngine) LastErrorMessage() string { return f.lastErr }

func (f *fakeEngine) SetCheckpointCallback(fn func(engine.CheckpointEvent)) { f.checkpoint = fn }

func newTestFormatCache(t *testing.T) *formatcache.Store {
	t.Helper()
	store, err := formatcache.Open(filepath.Join(t.TempDir(), "formats"))
	if err != nil {
		t.Fatalf("formatcache.Open: %v", err)
	}
	// Pre-seed so ensureFormat takes the cache-hit path and never needs
	// to invoke a real format-generation sub-compile.
	key := formatcache.Key{BundleDigest: "digest", EngineVersion: 1, FormatType: "xelatex"}
	if err := store.Store(key, []byte("fake-format-blob")); err != nil {
		t.Fatalf("seed format cache: %v", err)
	}
	return store
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return p
}

func TestCompileSinglePassWhenNoAuxProduced(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "main.tex", "\\documentclass{article}\\begin{document}hi\\end{document}")

	fe := newFakeEngine(dir, "main", nil)
	d := &Driver{
		Engine:        fe,
		FormatCache:   newTestFormatCache(t),
		BundleDigest:  "digest",
		EngineVersion: 1,
		Sink:          diag.NewSink(os.Stderr, false),
	}

	res := d.Compile(context.Background(), Request{InputFile: input})
	if res.ExitCode != 0 {
		t.Fatalf("expected success, got exit code %d", res.ExitCode)
	}
	if res.Passes != 1 {
		t.Fatalf("expected 1 pass with no aux file, got %d", res.Passes)
	}
	if fe.bibtexCalls != 0 {
		t.Fatalf("expected no bibtex invocation, got %d", fe.bibtexCalls)
	}
	if _, err := os.Stat(res.PDFPath); err != nil {
		t.Fatalf("expected PDF at %s: %v", res.PDFPath, err)
	}
}

func TestCompileReachesFixedPointAfterAuxStabilizes(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "main.tex", "\\documentclass{article}\\begin{document}\\ref{x}\\end{document}")

	auxSeq := [][]byte{
		[]byte("\\newlabel{x}{{1}{1}}\n"),
		[]byte("\\newlabel{x}{{1}{1}}\n"), // identical to pass 1: fixed point at pass 2
	}
	fe := newFakeEngine(dir, "main", auxSeq)
	d := &Driver{
		Engine:        fe,
		FormatCache:   newTestFormatCache(t),
		BundleDigest:  "digest",
		EngineVersion: 1,
		Sink:          diag.NewSink(os.Stderr, false),
	}

	res := d.Compile(context.Background(), Request{InputFile: input})
	if res.ExitCode != 0 {
		t.Fatalf("expected success, got exit code %d", res.ExitCode)
	}
	if res.Passes != 2 {
		t.Fatalf("expected fixed point at pass 2, got %d passes", res.Passes)
	}
}

func TestCompileRunsBibtexWhenAuxReferencesBibliography(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "main.tex", "\\documentclass{article}\\begin{document}\\cite{x}\\end{document}")

	auxSeq := [][]byte{
		[]byte("\\bibdata{refs}\n\\bibstyle{plain}\n"),
		[]byte("\\bibdata{refs}\n\\bibstyle{plain}\n"),
	}
	fe := newFakeEngine(dir, "main", auxSeq)
	d := &Driver{
		Engine:        fe,
		FormatCache:   newTestFormatCache(t),
		BundleDigest:  "digest",
		EngineVersion: 1,
		Sink:          diag.NewSink(os.Stderr, false),
	}

	res := d.Compile(context.Background(), Request{InputFile: input})
	if res.ExitCode != 0 {
		t.Fatalf("expected success, got exit code %d", res.ExitCode)
	}
	if fe.bibtexCalls != 1 {
		t.Fatalf("expected exactly one bibtex invocation, got %d", fe.bibtexCalls)
	}
}

func TestCompileStopsAtMaxPassesWithoutConverging(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "main.tex", "\\documentclass{article}\\begin{document}x\\end{document}")

	// Every aux differs from the last: never converges.
	auxSeq := make([][]byte, maxPasses)
	for i := range auxSeq {
		auxSeq[i] = []byte{byte('a' + i)}
	}
	fe := newFakeEngine(dir, "main", auxSeq)
	d := &Driver{
		Engine:        fe,
		FormatCache:   newTestFormatCache(t),
		BundleDigest:  "digest",
		EngineVersion: 1,
		Sink:          diag.NewSink(os.Stderr, false),
	}

	res := d.Compile(context.Background(), Request{InputFile: input})
	if res.Passes != maxPasses {
		t.Fatalf("expected to stop at maxPasses=%d, got %d", maxPasses, res.Passes)
	}
	if res.ExitCode != 0 {
		t.Fatalf("hitting the pass cap is not itself a failure, got exit code %d", res.ExitCode)
	}
}

func TestCompileFailsWhenXetexReturnsFatal(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "main.tex", "\\documentclass{article}\\begin{document}\\end{document}")

	fe := newFakeEngine(dir, "main", nil)
	fe.failXetexAt = 1
	d := &Driver{
		Engine:        fe,
		FormatCache:   newTestFormatCache(t),
		BundleDigest:  "digest",
		EngineVersion: 1,
		Sink:          diag.NewSink(os.Stderr, false),
	}

	res := d.Compile(context.Background(), Request{InputFile: input})
	if res.ExitCode == 0 {
		t.Fatalf("expected a non-zero exit code on fatal engine error")
	}
}

func TestCompileCleansUpIntermediatesUnlessKept(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "main.tex", "\\documentclass{article}\\begin{document}\\end{document}")

	fe := newFakeEngine(dir, "main", nil)
	d := &Driver{
		Engine:        fe,
		FormatCache:   newTestFormatCache(t),
		BundleDigest:  "digest",
		EngineVersion: 1,
		Sink:          diag.NewSink(os.Stderr, false),
	}

	res := d.Compile(context.Background(), Request{InputFile: input})
	if res.ExitCode != 0 {
		t.Fatalf("expected success, got %d", res.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(dir, "main.xdv")); !os.IsNotExist(err) {
		t.Fatalf("expected .xdv to be cleaned up, stat err = %v", err)
	}
}

func TestCompileKeepsIntermediatesWhenRequested(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "main.tex", "\\documentclass{article}\\begin{document}\\end{document}")

	fe := newFakeEngine(dir, "main", nil)
	d := &Driver{
		Engine:        fe,
		FormatCache:   newTestFormatCache(t),
		BundleDigest:  "digest",
		EngineVersion: 1,
		Sink:          diag.NewSink(os.Stderr, false),
	}

	res := d.Compile(context.Background(), Request{InputFile: input, KeepIntermediates: true})
	if res.ExitCode != 0 {
		t.Fatalf("expected success, got %d", res.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(dir, "main.xdv")); err != nil {
		t.Fatalf("expected .xdv to survive with KeepIntermediates set: %v", err)
	}
}
