// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package content implements the on-disk byte store for fetched
// files. Blobs are content-addressed by BLAKE3 hash and laid out as
// blobs/<hex[0:2]>/<hex>. Writes stream through a tmp/ directory and
// are committed by atomic rename, so a committed path never holds a
// partial blob no matter when the process dies.
package content

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Directory names within the store root.
const (
	blobDir = "blobs"
	tmpDir  = "tmp"
)

// Ref is the lowercase hex BLAKE3 digest identifying a blob.
type Ref string

// ParseRef validates a hex string as a blob reference.
func ParseRef(s string) (Ref, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("content: invalid ref %q: %w", s, err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("content: invalid ref %q: want 32 bytes, got %d", s, len(raw))
	}
	return Ref(s), nil
}

// Store manages the blob directory. Safe for concurrent use: commits
// are atomic renames and blobs are immutable once committed.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given directory, creating
// the blob and tmp subdirectories if needed. Stray files left in
// tmp/ by a previous crash are removed.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, blobDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("content: creating %s: %w", dir, err)
		}
	}

	store := &Store{root: root}
	store.cleanTmp()
	return store, nil
}

// cleanTmp removes leftovers from interrupted writes. Errors are
// ignored: a stale temp file wastes space but is harmless.
func (s *Store) cleanTmp() {
	entries, err := os.ReadDir(filepath.Join(s.root, tmpDir))
	if err != nil {
		return
	}
	for _, entry := range entries {
		_ = os.Remove(filepath.Join(s.root, tmpDir, entry.Name()))
	}
}

// BlobPath returns the committed path for a ref. The blob may or may
// not exist.
func (s *Store) BlobPath(ref Ref) string {
	name := string(ref)
	return filepath.Join(s.root, blobDir, name[:2], name)
}

// Has reports whether a blob exists for the given ref.
func (s *Store) Has(ref Ref) bool {
	info, err := os.Stat(s.BlobPath(ref))
	return err == nil && info.Mode().IsRegular()
}

// Stat returns the size of a committed blob.
func (s *Store) Stat(ref Ref) (int64, error) {
	info, err := os.Stat(s.BlobPath(ref))
	if err != nil {
		return 0, fmt.Errorf("content: stat %s: %w", ref, err)
	}
	return info.Size(), nil
}

// Open opens a committed blob for reading. The caller closes it.
func (s *Store) Open(ref Ref) (*os.File, error) {
	file, err := os.Open(s.BlobPath(ref))
	if err != nil {
		return nil, fmt.Errorf("content: open %s: %w", ref, err)
	}
	return file, nil
}

// Writer accumulates one blob in the tmp directory, hashing as the
// bytes stream in. Call Commit to publish or Abort to discard.
type Writer struct {
	store  *Store
	file   *os.File
	hasher *blake3.Hasher
	size   int64
	done   bool
}

// Writer starts a new blob write.
func (s *Store) Writer() (*Writer, error) {
	file, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "blob-*.partial")
	if err != nil {
		return nil, fmt.Errorf("content: creating temp blob: %w", err)
	}
	return &Writer{
		store:  s,
		file:   file,
		hasher: blake3.New(),
	}, nil
}

// Write appends bytes to the pending blob.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if n > 0 {
		_, _ = w.hasher.Write(p[:n])
		w.size += int64(n)
	}
	if err != nil {
		return n, fmt.Errorf("content: writing temp blob: %w", err)
	}
	return n, nil
}

var _ io.Writer = (*Writer)(nil)

// Commit fsyncs the temp file and renames it into the blob directory.
// The returned ref is the BLAKE3 hash of everything written. If a
// blob with the same ref already exists the temp file is discarded
// and the existing blob wins — content addressing makes them
// identical.
func (w *Writer) Commit() (Ref, int64, error) {
	if w.done {
		return "", 0, fmt.Errorf("content: writer already finished")
	}
	w.done = true

	tmpPath := w.file.Name()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("content: syncing temp blob: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("content: closing temp blob: %w", err)
	}

	digest := w.hasher.Sum(nil)
	ref := Ref(hex.EncodeToString(digest))

	finalPath := w.store.BlobPath(ref)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("content: creating blob shard dir: %w", err)
	}

	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(tmpPath)
		return ref, w.size, nil
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("content: committing blob %s: %w", ref, err)
	}
	return ref, w.size, nil
}

// Abort discards the pending blob. Safe to call after Commit (no-op).
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	tmpPath := w.file.Name()
	w.file.Close()
	os.Remove(tmpPath)
}
