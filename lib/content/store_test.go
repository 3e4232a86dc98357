// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package content

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func writeBlob(t *testing.T, store *Store, data []byte) Ref {
	t.Helper()
	writer, err := store.Writer()
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}
	if _, err := writer.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ref, size, err := writer.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if size != int64(len(data)) {
		t.Fatalf("Commit size = %d, want %d", size, len(data))
	}
	return ref
}

func TestWriteCommitRead(t *testing.T) {
	store := testStore(t)

	data := []byte("page one of episode one")
	ref := writeBlob(t, store, data)

	if !store.Has(ref) {
		t.Fatal("Has = false after commit")
	}

	size, err := store.Stat(ref)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if size != int64(len(data)) {
		t.Errorf("Stat size = %d, want %d", size, len(data))
	}

	file, err := store.Open(ref)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()

	got, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("blob content mismatch: got %q, want %q", got, data)
	}
}

func TestCommitIsDeterministic(t *testing.T) {
	store := testStore(t)

	data := []byte("same bytes twice")
	first := writeBlob(t, store, data)
	second := writeBlob(t, store, data)

	if first != second {
		t.Errorf("same content produced different refs: %s vs %s", first, second)
	}
}

func TestAbortLeavesNoBlob(t *testing.T) {
	store := testStore(t)

	writer, err := store.Writer()
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}
	if _, err := writer.Write([]byte("discarded")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	writer.Abort()

	entries, err := os.ReadDir(filepath.Join(store.root, tmpDir))
	if err != nil {
		t.Fatalf("ReadDir tmp: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("tmp dir has %d entries after Abort, want 0", len(entries))
	}
}

func TestNewStoreCleansStaleTemp(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, tmpDir), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	stale := filepath.Join(root, tmpDir, "blob-crash.partial")
	if err := os.WriteFile(stale, []byte("half a download"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := NewStore(root); err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale temp file survived NewStore: %v", err)
	}
}

func TestParseRef(t *testing.T) {
	data := []byte("x")
	store := testStore(t)
	ref := writeBlob(t, store, data)

	parsed, err := ParseRef(string(ref))
	if err != nil {
		t.Fatalf("ParseRef(%s): %v", ref, err)
	}
	if parsed != ref {
		t.Errorf("ParseRef roundtrip: got %s, want %s", parsed, ref)
	}

	for _, bad := range []string{"", "zz", "abc123", "not-a-ref"} {
		if _, err := ParseRef(bad); err == nil {
			t.Errorf("ParseRef(%q) succeeded, want error", bad)
		}
	}
}
