// Package index parses the ITAR bundle index and holds the resulting
// name -> (offset, length) table.
//
// The format is line-oriented: "<name> <offset> <length>", trailing
// whitespace tolerated, two reserved names ignored. There is no ecosystem
// library for this bespoke wire format, so parsing is hand-rolled in the
// same style the teacher uses for its own small text formats (chktex and
// texcount output parsing in lint.go / wordcount.go): split lines, trim,
// regexp or strconv the fields, skip anything that doesn't parse.
package index

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Entry is an immutable offset/length pair into the bundle blob.
type Entry struct {
	Offset uint64
	Length uint32
}

var reservedNames = map[string]bool{
	"SVNREV":  true,
	"GITHASH": true,
}

// Index is a case-sensitive name -> Entry table. It owns the name strings.
type Index struct {
	entries map[string]Entry
}

// New returns an empty Index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Load parses r into the index, replacing any prior contents. Corrupt or
// non-numeric lines are skipped rather than failing the whole load.
func (idx *Index) Load(r io.Reader) error {
	entries := make(map[string]Entry, len(idx.entries))

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}

		name := fields[0]
		if reservedNames[name] {
			continue
		}

		offset, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		length, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}

		entries[name] = Entry{Offset: offset, Length: uint32(length)}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	idx.entries = entries
	return nil
}

// Get resolves name, applying the single "fonts/" prefix-strip rule: if
// name begins with "fonts/" and is absent, retry with the prefix stripped.
func (idx *Index) Get(name string) (Entry, bool) {
	if e, ok := idx.entries[name]; ok {
		return e, true
	}
	if bare, stripped := strings.CutPrefix(name, "fonts/"); stripped {
		if e, ok := idx.entries[bare]; ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Has reports whether name resolves in the index (applying the same
// fonts/ rule as Get).
func (idx *Index) Has(name string) bool {
	_, ok := idx.Get(name)
	return ok
}

// Count returns the number of entries currently loaded.
func (idx *Index) Count() int {
	return len(idx.entries)
}

// Empty reports whether the index has zero entries.
func (idx *Index) Empty() bool {
	return len(idx.entries) == 0
}
