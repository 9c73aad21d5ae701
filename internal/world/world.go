// Package world implements the handle-indexed input/output file manager
// the TeX engine's VFS callbacks resolve through (spec.md §4.4).
package world

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/eztex/eztex/internal/bundle"
	"github.com/eztex/eztex/internal/logx"
)

var log = logx.Scope("world")

const (
	maxInputs      = 256
	maxSearchDirs  = 16
	maxOutputs     = 256
)

// FormatTag selects which extension set try_open_input searches.
type FormatTag int

const (
	TagTeX FormatTag = iota
	TagTFM
	TagFontMap
	TagFormat
	TagOpenType
	TagTrueType
	TagType1
	TagAFM
	TagBib
	TagBST
	TagENC
	TagVF
	TagOVF
	TagPict
	TagTeXPSHeader
	TagPK
	TagSFD
	TagCNF
	TagOFM
)

// extensionSets is the exhaustive table from spec.md §4.4.
var extensionSets = map[FormatTag][]string{
	TagTeX:         {".tex", ".sty", ".cls", ".fd", ".aux", ".bbl", ".def", ".clo", ".ldf"},
	TagTFM:         {".tfm"},
	TagFontMap:     {".map"},
	TagFormat:      {".fmt"},
	TagOpenType:    {".otf", ".OTF"},
	TagTrueType:    {".ttf", ".ttc", ".TTF", ".TTC", ".dfont"},
	TagType1:       {".pfa", ".pfb"},
	TagAFM:         {".afm"},
	TagBib:         {".bib"},
	TagBST:         {".bst"},
	TagENC:         {".enc"},
	TagVF:          {".vf"},
	TagOVF:         {".ovf", ".vf"},
	TagPict:        {".pdf", ".jpg", ".eps", ".epsi"},
	TagTeXPSHeader: {".pro"},
	TagPK:          {".pk"},
	TagSFD:         {".sfd"},
	TagCNF:         {".cnf"},
	TagOFM:         {".ofm"},
}

// Input is one slot in the input table: either file-backed or
// memory-backed, with a one-byte ungetc pushback.
type Input struct {
	Name     string
	file     *os.File
	mem      []byte
	pos      int64
	pushback *byte
}

// Output is one slot in the output table.
type Output struct {
	Name     string
	file     *os.File
	isStdout bool
	isGz     bool
	buf      *bytes.Buffer // used when isGz
}

// Config mirrors spec.md's World config record.
type Config struct {
	PrimaryInput     string
	OutputDir        string
	SearchDirs       []string
	LastResolvedPath string
	FormatData       []byte
	FormatName       string
}

// World owns the input/output slot tables and the optional BundleStore
// fallback for resolving names the local filesystem doesn't have.
type World struct {
	cfg     Config
	store   *bundle.Store
	inputs  []*Input  // index 0 unused (sentinel); the alloc functions append without checking maxInputs
	outputs []*Output
}

// New returns a World with empty slot tables.
func New() *World {
	return &World{
		inputs:  make([]*Input, 1, maxInputs+1),
		outputs: make([]*Output, 1, maxOutputs+1),
	}
}

// AttachBundleStore wires a BundleStore as the fallback resolver used
// after local search paths are exhausted.
func (w *World) AttachBundleStore(s *bundle.Store) { w.store = s }

func (w *World) AddSearchDir(path string) error {
	if len(w.cfg.SearchDirs) >= maxSearchDirs {
		return fmt.Errorf("world: search dir capacity (%d) exceeded", maxSearchDirs)
	}
	w.cfg.SearchDirs = append(w.cfg.SearchDirs, path)
	return nil
}

func (w *World) SetPrimaryInput(path string) { w.cfg.PrimaryInput = path }
func (w *World) SetOutputDir(dir string)     { w.cfg.OutputDir = dir }

// SetFormatData serves bytes from memory for a FORMAT-tagged open of name,
// bypassing the filesystem and bundle store entirely.
func (w *World) SetFormatData(data []byte, name string) {
	w.cfg.FormatData = data
	w.cfg.FormatName = name
}

// TryOpenInput implements the four-step resolution order from spec.md
// §4.4: cwd, search dirs, extension-appended variants of both, then the
// same three steps again against the bundle store.
func (w *World) TryOpenInput(ctx context.Context, name string, tag FormatTag) (int, error) {
	if tag == TagFormat && w.cfg.FormatData != nil && name == w.cfg.FormatName {
		return w.allocMemoryInput(w.cfg.FormatData, name), nil
	}

	candidates := candidateNames(name, tag)

	dirs := append([]string{"."}, w.cfg.SearchDirs...)
	for _, candidate := range candidates {
		for _, dir := range dirs {
			if path, ok := findLocal([]string{candidate}, dir); ok {
				f, err := os.Open(path)
				if err == nil {
					w.cfg.LastResolvedPath = path
					return w.allocInput(f, name), nil
				}
			}
		}
	}

	if w.store == nil {
		return 0, nil
	}
	for _, candidate := range candidates {
		resolved, err := w.store.Resolve(ctx, candidate)
		if err == nil {
			w.cfg.LastResolvedPath = candidate
			return w.allocMemoryInput(resolved.Body, name), nil
		}
	}
	return 0, nil
}

func candidateNames(name string, tag FormatTag) []string {
	candidates := []string{name}
	for _, ext := range extensionSets[tag] {
		candidates = append(candidates, name+ext)
	}
	return candidates
}

func findLocal(candidates []string, baseDir string) (string, bool) {
	for _, c := range candidates {
		p := filepath.Join(baseDir, c)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// allocInput allocates a file-backed input slot and returns its handle.
// Handle 0 is the reserved sentinel; valid handles are >= 1.
func (w *World) allocInput(f *os.File, name string) int {
	w.inputs = append(w.inputs, &Input{Name: name, file: f})
	return len(w.inputs) - 1
}

func (w *World) allocMemoryInput(data []byte, name string) int {
	w.inputs = append(w.inputs, &Input{Name: name, mem: data})
	return len(w.inputs) - 1
}

func (w *World) AllocOutput(f *os.File, name string, isStdout, isGz bool) int {
	out := &Output{Name: name, file: f, isStdout: isStdout, isGz: isGz}
	if isGz {
		out.buf = &bytes.Buffer{}
	}
	w.outputs = append(w.outputs, out)
	return len(w.outputs) - 1
}

// GetInput returns the input slot for handle, or nil for the sentinel or
// an out-of-range handle.
func (w *World) GetInput(handle int) *Input {
	if handle <= 0 || handle >= len(w.inputs) {
		return nil
	}
	return w.inputs[handle]
}

func (w *World) GetOutput(handle int) *Output {
	if handle <= 0 || handle >= len(w.outputs) {
		return nil
	}
	return w.outputs[handle]
}

// ResetIO closes every open slot and zeroes the tables, retaining
// configuration (search dirs, primary input, format data).
func (w *World) ResetIO() {
	for _, in := range w.inputs[1:] {
		if in != nil && in.file != nil {
			in.file.Close()
		}
	}
	for _, out := range w.outputs[1:] {
		if out == nil {
			continue
		}
		if out.isGz && out.file != nil {
			w.flushGzOutput(out)
		}
		if out.file != nil {
			out.file.Close()
		}
	}
	w.inputs = w.inputs[:1]
	w.outputs = w.outputs[:1]
}

func (w *World) flushGzOutput(out *Output) {
	gz := gzip.NewWriter(out.file)
	if _, err := gz.Write(out.buf.Bytes()); err != nil {
		log.Warnf("gzip flush for %s failed: %v", out.Name, err)
		return
	}
	if err := gz.Close(); err != nil {
		log.Warnf("gzip close for %s failed: %v", out.Name, err)
	}
}

// Ungetc pushes back a single byte onto the input's pushback slot.
func (in *Input) Ungetc(b byte) {
	in.pushback = &b
}

// Read consumes the pushback byte first, then falls through to the
// underlying file or memory buffer.
func (in *Input) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	if in.pushback != nil {
		p[0] = *in.pushback
		in.pushback = nil
		n = 1
		if len(p) == 1 {
			return n, nil
		}
	}
	var rest int
	var err error
	if in.file != nil {
		rest, err = in.file.Read(p[n:])
	} else {
		if in.pos >= int64(len(in.mem)) {
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		rest = copy(p[n:], in.mem[in.pos:])
		in.pos += int64(rest)
	}
	return n + rest, err
}

// Seek implements the pushback-aware positioning rules from spec.md
// §4.4: SEEK_CUR with offset 0 reports the logical position (one less
// than the physical position when a byte is pushed back); any other
// SEEK_CUR applies a -1 adjustment when pushback is set, then clears
// it; SEEK_SET/SEEK_END always clear pushback.
func (in *Input) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		if offset == 0 {
			pos, err := in.physicalPos()
			if err != nil {
				return 0, err
			}
			if in.pushback != nil {
				return pos - 1, nil
			}
			return pos, nil
		}
		adjust := offset
		if in.pushback != nil {
			adjust--
			in.pushback = nil
		}
		return in.rawSeek(adjust, io.SeekCurrent)
	default:
		in.pushback = nil
		return in.rawSeek(offset, whence)
	}
}

func (in *Input) physicalPos() (int64, error) {
	if in.file != nil {
		return in.file.Seek(0, io.SeekCurrent)
	}
	return in.pos, nil
}

func (in *Input) rawSeek(offset int64, whence int) (int64, error) {
	if in.file != nil {
		return in.file.Seek(offset, whence)
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = in.pos
	case io.SeekEnd:
		base = int64(len(in.mem))
	}
	in.pos = base + offset
	return in.pos, nil
}

// Write appends to a gzip-deferred buffer or writes straight through to
// the underlying file.
func (out *Output) Write(p []byte) (int, error) {
	if out.isGz {
		return out.buf.Write(p)
	}
	return out.file.Write(p)
}
