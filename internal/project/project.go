// Package project resolves a CLI argument (a plain file, a directory,
// or a zip archive) into a concrete .tex file to compile, per spec.md
// §4.8, using the MainDetect heuristics from §4.9 when more than one
// candidate is present.
package project

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eztex/eztex/internal/logx"
)

var log = logx.Scope("project")

// ErrNoMainFile is returned when resolution finds no root-level .tex
// candidate at all.
var ErrNoMainFile = errors.New("project: no .tex file found")

// Input mirrors spec.md's ProjectInput record.
type Input struct {
	TexFile    string
	ProjectDir string // "" for a plain-file input
	TempDir    string // "" unless extracted from a zip; caller must remove it on exit
}

// Cleanup removes TempDir if one was created.
func (in *Input) Cleanup() {
	if in.TempDir != "" {
		if err := os.RemoveAll(in.TempDir); err != nil {
			log.Warnf("cleanup of %s failed: %v", in.TempDir, err)
		}
	}
}

// Resolve dispatches on arg's kind: plain file, directory, or .zip.
func Resolve(arg string) (*Input, error) {
	info, err := os.Stat(arg)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}

	switch {
	case info.IsDir():
		return resolveDir(arg)
	case strings.EqualFold(filepath.Ext(arg), ".zip"):
		return resolveZip(arg)
	default:
		return &Input{TexFile: arg}, nil
	}
}

func resolveDir(dir string) (*Input, error) {
	names, err := listRootNames(dir)
	if err != nil {
		return nil, fmt.Errorf("project: enumerate %s: %w", dir, err)
	}
	main, err := MainDetect(names, readerFor(dir))
	if err != nil {
		return nil, err
	}
	return &Input{TexFile: filepath.Join(dir, main), ProjectDir: dir}, nil
}

func resolveZip(path string) (*Input, error) {
	tempDir := filepath.Join(os.TempDir(), "zig-out", "zip_extract")
	if err := os.RemoveAll(tempDir); err != nil {
		return nil, fmt.Errorf("project: clear previous extraction: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("project: create extraction dir: %w", err)
	}

	if err := extractZip(path, tempDir); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("project: extract %s: %w", path, err)
	}

	names, err := listRootNames(tempDir)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("project: enumerate extracted files: %w", err)
	}
	main, err := MainDetect(names, readerFor(tempDir))
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}
	return &Input{TexFile: filepath.Join(tempDir, main), ProjectDir: tempDir, TempDir: tempDir}, nil
}

func extractZip(path, dest string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes extraction directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// listRootNames returns the root-level entry names of dir (no path
// separators), matching MainDetect's "root-level" scoping.
func listRootNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func readerFor(dir string) func(name string) ([]byte, error) {
	return func(name string) ([]byte, error) {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf := make([]byte, 4096)
		n, err := f.Read(buf)
		if err != nil && err != io.EOF {
			return nil, err
		}
		return buf[:n], nil
	}
}

var wellKnownBasenames = []string{
	"main.tex", "index.tex", "thesis.tex", "paper.tex", "document.tex", "report.tex",
}

// MainDetect implements spec.md §4.9's heuristic ladder. names is the
// set of root-level filenames to consider; read, if non-nil, fetches
// the first bytes of a candidate to scan for \documentclass.
func MainDetect(names []string, read func(name string) ([]byte, error)) (string, error) {
	var texFiles []string
	for _, n := range names {
		if strings.EqualFold(filepath.Ext(n), ".tex") {
			texFiles = append(texFiles, n)
		}
	}
	if len(texFiles) == 0 {
		return "", ErrNoMainFile
	}
	if len(texFiles) == 1 {
		return texFiles[0], nil
	}

	if read != nil {
		var withDocumentclass []string
		for _, n := range texFiles {
			head, err := read(n)
			if err != nil {
				continue
			}
			if strings.Contains(string(head), `\documentclass`) {
				withDocumentclass = append(withDocumentclass, n)
			}
		}
		if len(withDocumentclass) == 1 {
			return withDocumentclass[0], nil
		}
		if len(withDocumentclass) > 1 {
			if name, ok := pickWellKnown(withDocumentclass); ok {
				return name, nil
			}
			return alphabeticallyFirst(withDocumentclass), nil
		}
	}

	if name, ok := pickWellKnown(texFiles); ok {
		return name, nil
	}
	return alphabeticallyFirst(texFiles), nil
}

func pickWellKnown(candidates []string) (string, bool) {
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[strings.ToLower(c)] = true
	}
	for _, known := range wellKnownBasenames {
		if set[known] {
			for _, c := range candidates {
				if strings.EqualFold(c, known) {
					return c, true
				}
			}
		}
	}
	return "", false
}

func alphabeticallyFirst(candidates []string) string {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	return sorted[0]
}
