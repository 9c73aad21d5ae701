// Package formatcache stores and retrieves generated TeX format files
// (.fmt blobs) keyed by the triple that determines their contents: the
// bundle digest, the engine version, and the format type (spec.md §4.4).
//
// Layout is flat: content lives at formats/<64-hex>.fmt under the key's
// own hash, so all compiles with the same key share one blob. Blobs are
// not deduplicated by content: identical bytes stored under two keys are
// kept twice.
package formatcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrMiss is returned when no cached format exists for a key.
var ErrMiss = errors.New("formatcache: miss")

// Key identifies a generated format file.
type Key struct {
	BundleDigest  string
	EngineVersion uint32
	FormatType    string
}

// Hash computes SHA256(bundle_digest || engine_version_BE || format_type),
// the cache key described in spec.md §4.4.
func (k Key) Hash() [32]byte {
	h := sha256.New()
	h.Write([]byte(k.BundleDigest))
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], k.EngineVersion)
	h.Write(buf[:])
	h.Write([]byte(k.FormatType))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Store is a directory of content-addressed format blobs.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if necessary. Callers
// typically pass (*cache.Store).FormatsDir().
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("formatcache: mkdir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(hash [32]byte) string {
	hx := hex.EncodeToString(hash[:])
	return filepath.Join(s.dir, hx+".fmt")
}

// Load returns the cached format bytes for key, or ErrMiss.
func (s *Store) Load(key Key) ([]byte, error) {
	data, err := os.ReadFile(s.path(key.Hash()))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("formatcache: read: %w", err)
	}
	return data, nil
}

// Store persists content under key, replacing any existing blob.
func (s *Store) Store(key Key, content []byte) error {
	p := s.path(key.Hash())
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("formatcache: mkdir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("formatcache: write: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("formatcache: rename: %w", err)
	}
	return nil
}

// Has reports whether a blob exists for key without reading it.
func (s *Store) Has(key Key) bool {
	_, err := os.Stat(s.path(key.Hash()))
	return err == nil
}
