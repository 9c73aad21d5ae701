// Package compiler implements the multi-pass compile driver from
// spec.md §4.5: aux-file fixed-point detection, conditional
// bibliography pass, output renaming, and intermediate cleanup.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/eztex/eztex/internal/bundle"
	"github.com/eztex/eztex/internal/diag"
	"github.com/eztex/eztex/internal/engine"
	"github.com/eztex/eztex/internal/formatcache"
	"github.com/eztex/eztex/internal/logx"
	"github.com/eztex/eztex/internal/metrics"
	"github.com/eztex/eztex/internal/world"
)

const maxPasses = 5
const seedConcurrency = 8

var intermediateExtensions = []string{
	".aux", ".log", ".xdv", ".lof", ".lot", ".out",
	".toc", ".bbl", ".blg", ".nav", ".snm", ".vrb",
}

// Request mirrors the Compiler contract from spec.md §4.5.
type Request struct {
	InputFile         string
	OutputFile        string
	Format            string // "" lets DetectFormat choose
	KeepIntermediates bool
	Verbose           bool
	Deterministic     bool
	Synctex           bool
	WorkDir           string // directory the engine runs in; defaults to InputFile's dir
}

// Driver owns everything a single compile needs: a World, the engine
// backend, and the shared format cache. A fresh BundleStore is created
// (and closed) per compile, matching the lifecycle summary in spec.md §3.
type Driver struct {
	Engine       engine.Engine
	BundleFactory func() *bundle.Store // nil for fully-offline/local-only compiles
	FormatCache  *formatcache.Store
	BundleDigest string
	EngineVersion uint32
	Sink         *diag.Sink
	Metrics      *metrics.Registry
}

var log = logx.Scope("compiler")

// Result is returned by Compile.
type Result struct {
	ExitCode   int
	Passes     int
	PDFPath    string
	SyncTexPath string
	RequestID  string
}

// GenerateFormat ensures a format blob for (digest, engine version,
// format) exists in the format cache, generating it via an initex
// sub-compile on a miss. This is the entry point the `generate-format`
// CLI command and the browser worker's boot pipeline (spec.md §4.12)
// use; a normal Compile call reaches the same logic through
// ensureFormat as a side effect of compiling a project.
func (d *Driver) GenerateFormat(ctx context.Context, format, workDir string) error {
	if setter, ok := d.Engine.(engine.WorkDirSetter); ok {
		setter.SetWorkDir(workDir)
	}
	var store *bundle.Store
	if d.BundleFactory != nil {
		store = d.BundleFactory()
		defer store.Close()
	}
	return d.ensureFormat(ctx, world.New(), format, workDir, store)
}

// Compile runs the full state machine from spec.md §4.5.
func (d *Driver) Compile(ctx context.Context, req Request) Result {
	requestID := uuid.New().String()
	clog := log.Scope(requestID)
	start := time.Now()

	workDir := req.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(req.InputFile)
	}
	jobname := jobnameOf(req.InputFile)

	if setter, ok := d.Engine.(engine.WorkDirSetter); ok {
		setter.SetWorkDir(workDir)
	}

	w := world.New()
	if err := w.AddSearchDir(workDir); err != nil {
		clog.Errorf("add search dir: %v", err)
		return Result{ExitCode: 1, RequestID: requestID}
	}
	w.SetPrimaryInput(req.InputFile)
	w.SetOutputDir(workDir)

	var store *bundle.Store
	if d.BundleFactory != nil {
		store = d.BundleFactory()
		w.AttachBundleStore(store)
		defer func() {
			if err := store.Close(); err != nil {
				clog.Warnf("bundle store close: %v", err)
			}
		}()

		if _, err := store.BatchSeed(ctx, InitSeed(), seedConcurrency); err != nil {
			clog.Warnf("init seed failed, falling back to on-demand resolution: %v", err)
		}
	}

	content, err := os.ReadFile(req.InputFile)
	if err != nil {
		clog.Errorf("read input: %v", err)
		return Result{ExitCode: 1, RequestID: requestID}
	}
	format := req.Format
	if format == "" {
		format = DetectFormat(string(content)).Format
	}

	if err := d.ensureFormat(ctx, w, format, workDir, store); err != nil {
		clog.Errorf("ensure format: %v", err)
		d.Sink.OnError(diag.Diagnostic{Severity: diag.SeverityError, Message: err.Error()})
		return Result{ExitCode: 1, RequestID: requestID}
	}

	d.Engine.SetIntVariable(engine.KnobSynctexEnabled, boolToInt(req.Synctex))
	d.Engine.SetIntVariable(engine.KnobHaltOnError, 1)

	passes, aborted := d.runPassLoop(ctx, clog, jobname, format, workDir, req.Deterministic)
	if aborted {
		d.recordMetrics(start, passes, false)
		return Result{ExitCode: 1, Passes: passes, RequestID: requestID}
	}

	xdvPath := filepath.Join(workDir, jobname+".xdv")
	pdfPath := filepath.Join(workDir, jobname+".pdf")
	if code, err := d.Engine.RunXdvipdfmx(ctx, xdvPath, pdfPath); err != nil || !code.Success() {
		msg := d.Engine.LastErrorMessage()
		clog.Errorf("xdvipdfmx failed: %s", msg)
		d.Sink.OnError(diag.Diagnostic{Severity: diag.SeverityError, Message: msg})
		d.recordMetrics(start, passes, false)
		return Result{ExitCode: 1, Passes: passes, RequestID: requestID}
	}

	if _, err := os.Stat(pdfPath); err != nil {
		clog.Errorf("missing PDF output after success")
		d.Sink.OnError(diag.Diagnostic{Severity: diag.SeverityError, Message: "no PDF produced"})
		d.recordMetrics(start, passes, false)
		return Result{ExitCode: 1, Passes: passes, RequestID: requestID}
	}

	finalPDF, err := d.finalizePlacement(pdfPath, jobname, req)
	if err != nil {
		clog.Errorf("final placement: %v", err)
		d.recordMetrics(start, passes, false)
		return Result{ExitCode: 1, Passes: passes, RequestID: requestID}
	}

	syncTexPath := ""
	if req.Synctex {
		syncTexPath = filepath.Join(workDir, jobname+".synctex.gz")
	} else {
		_ = os.Remove(filepath.Join(workDir, jobname+".synctex.gz"))
	}

	if !req.KeepIntermediates {
		d.cleanup(workDir, jobname, req.Synctex)
	}

	d.recordMetrics(start, passes, true)
	return Result{ExitCode: 0, Passes: passes, PDFPath: finalPDF, SyncTexPath: syncTexPath, RequestID: requestID}
}

// runPassLoop runs up to maxPasses, returning the number of passes run
// and whether the loop aborted on an engine error.
func (d *Driver) runPassLoop(ctx context.Context, clog *logx.Logger, jobname, format, workDir string, deterministic bool) (int, bool) {
	var stashedAux []byte
	auxPath := filepath.Join(workDir, jobname+".aux")

	for pass := 1; pass <= maxPasses; pass++ {
		code, err := d.Engine.RunXetex(ctx, format, jobname+".tex", buildDate(deterministic))
		if err != nil || !code.Success() {
			msg := d.Engine.LastErrorMessage()
			clog.Errorf("pass %d failed: %s", pass, msg)
			d.Sink.OnError(diag.Diagnostic{Severity: diag.SeverityError, Message: msg})
			return pass, true
		}

		auxContent, readErr := os.ReadFile(auxPath)
		if pass == 1 {
			if readErr != nil {
				return pass, false // no .aux produced: DONE
			}
			if needsBibliography(auxContent) {
				if code, err := d.Engine.RunBibtex(ctx, jobname+".aux"); err != nil || !code.Success() {
					clog.Warnf("bibtex warning: %v", err)
					d.Sink.OnWarning(diag.Diagnostic{Severity: diag.SeverityWarning, Message: "bibtex reported a warning"})
				}
			}
			stashedAux = auxContent
			continue
		}

		if readErr == nil && bytes.Equal(auxContent, stashedAux) {
			return pass, false // fixed point reached
		}
		stashedAux = auxContent
	}
	return maxPasses, false
}

func (d *Driver) ensureFormat(ctx context.Context, w *world.World, format, workDir string, store *bundle.Store) error {
	key := formatcache.Key{BundleDigest: d.BundleDigest, EngineVersion: d.EngineVersion, FormatType: format}
	if blob, err := d.FormatCache.Load(key); err == nil {
		w.SetFormatData(blob, format+".fmt")
		return nil
	}

	if store != nil {
		if _, err := store.BatchSeed(ctx, FormatGenSeed(), seedConcurrency); err != nil {
			log.Warnf("format-gen seed failed, falling back to on-demand resolution: %v", err)
		}
	}

	d.Engine.SetIntVariable(engine.KnobInInitexMode, 1)
	defer d.Engine.SetIntVariable(engine.KnobInInitexMode, 0)

	stub := "\\input plain \\dump\n"
	if format == "xelatex" {
		stub = "\\input tectonic-format-latex.tex\n"
	}
	stubName := format + "-stub.tex"
	stubPath := filepath.Join(workDir, stubName)
	if err := os.WriteFile(stubPath, []byte(stub), 0o644); err != nil {
		return fmt.Errorf("compiler: write format stub: %w", err)
	}
	defer os.Remove(stubPath)

	// RunXetex executes with the engine's working directory already
	// pinned to workDir, so both the input name and the .fmt it writes
	// are resolved relative to the same place we read them back from.
	if code, err := d.Engine.RunXetex(ctx, format, stubName, buildDate(true)); err != nil || !code.Success() {
		return fmt.Errorf("compiler: format generation failed: %s", d.Engine.LastErrorMessage())
	}

	generated := filepath.Join(workDir, format+".fmt")
	defer os.Remove(generated)
	blob, err := os.ReadFile(generated)
	if err != nil {
		return fmt.Errorf("compiler: reading generated format: %w", err)
	}
	if err := d.FormatCache.Store(key, blob); err != nil {
		return fmt.Errorf("compiler: caching format: %w", err)
	}
	w.SetFormatData(blob, format+".fmt")
	return nil
}

func (d *Driver) finalizePlacement(pdfPath, jobname string, req Request) (string, error) {
	var dest string
	switch {
	case req.OutputFile != "":
		dest = req.OutputFile
	default:
		dest = filepath.Join(filepath.Dir(req.InputFile), jobname+".pdf")
	}
	if dest == pdfPath {
		return dest, nil
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	if dest != pdfPath {
		_ = os.Remove(pdfPath)
	}
	return dest, nil
}

func (d *Driver) cleanup(workDir, jobname string, synctexEnabled bool) {
	for _, ext := range intermediateExtensions {
		_ = os.Remove(filepath.Join(workDir, jobname+ext))
	}
	if !synctexEnabled {
		_ = os.Remove(filepath.Join(workDir, jobname+".synctex.gz"))
	}
}

func (d *Driver) recordMetrics(start time.Time, passes int, success bool) {
	if d.Metrics == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	d.Metrics.CompileDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	d.Metrics.CompilePasses.Observe(float64(passes))
}

func jobnameOf(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		return base[:len(base)-len(ext)]
	}
	return base
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// buildDate returns a fixed epoch for initex/deterministic builds; real
// wall-clock otherwise. The engine only consumes this as an opaque
// u64 passed to xetex_main.
func buildDate(deterministic bool) uint64 {
	if deterministic {
		return 1
	}
	return uint64(time.Now().Unix())
}
