// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/comicfs-dev/comicfs/lib/catalog"
	"github.com/comicfs-dev/comicfs/lib/content"
	"github.com/comicfs-dev/comicfs/lib/fetch"
	"github.com/comicfs-dev/comicfs/lib/resolve"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

type mountFixture struct {
	mountpoint string
	catalog    *catalog.Catalog
	store      *content.Store
	fetcher    *fetch.Fetcher

	mu    sync.Mutex
	pages map[string][]byte // URL path -> body served to the fetcher
}

func (m *mountFixture) setPage(path string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[path] = body
}

// testMount stands up a catalog, content store, fetcher backed by an
// httptest server, and a live FUSE mount. The mount is unmounted when
// the test ends.
func testMount(t *testing.T) *mountFixture {
	t.Helper()
	fuseAvailable(t)

	root := t.TempDir()
	fx := &mountFixture{pages: make(map[string][]byte)}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		body, ok := fx.pages[r.URL.Path]
		fx.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(backend.Close)

	cat, err := catalog.Open(catalog.Config{
		Path:  filepath.Join(root, "catalog.db"),
		Namer: catalog.URLNamer{},
	})
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	store, err := content.NewStore(filepath.Join(root, "data"))
	if err != nil {
		t.Fatalf("content.NewStore: %v", err)
	}

	fetcher, err := fetch.New(fetch.Config{
		Catalog: cat,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}

	fx.mountpoint = filepath.Join(root, "mount")
	fx.catalog = cat
	fx.store = store
	fx.fetcher = fetcher

	// Seed a small library. Page URLs point at the test backend.
	ctx := context.Background()
	fx.setPage("/foo/ep1/1.png", []byte("page one of foo ep1"))
	fx.setPage("/foo/ep1/2.png", []byte("page two of foo ep1"))
	fx.setPage("/bar/s01/p.jpg", []byte("bar pilot page"))
	seed := map[string][2]string{
		"/foo/ep1/1.png": {"foo", "ep1"},
		"/foo/ep1/2.png": {"foo", "ep1"},
		"/bar/s01/p.jpg": {"bar", "s01"},
	}
	grouped := map[[2]string][]string{}
	for path, key := range seed {
		grouped[key] = append(grouped[key], backend.URL+path)
	}
	for key, urls := range grouped {
		if _, err := cat.UpsertEpisodeURLs(ctx, key[0], key[1], urls); err != nil {
			t.Fatalf("UpsertEpisodeURLs(%s/%s): %v", key[0], key[1], err)
		}
	}

	server, err := Mount(Options{
		Mountpoint: fx.mountpoint,
		Resolver:   resolve.New(cat),
		Catalog:    cat,
		Store:      store,
		Fetcher:    fetcher,
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})

	return fx
}

func TestMountListsHierarchy(t *testing.T) {
	fx := testMount(t)

	comics, err := os.ReadDir(fx.mountpoint)
	if err != nil {
		t.Fatalf("ReadDir(root): %v", err)
	}
	if len(comics) != 2 || comics[0].Name() != "bar" || comics[1].Name() != "foo" {
		t.Fatalf("root entries = %v, want [bar foo]", comics)
	}
	for _, entry := range comics {
		if !entry.IsDir() {
			t.Errorf("comic %s is not a directory", entry.Name())
		}
	}

	files, err := os.ReadDir(filepath.Join(fx.mountpoint, "foo", "ep1"))
	if err != nil {
		t.Fatalf("ReadDir(foo/ep1): %v", err)
	}
	if len(files) != 2 || files[0].Name() != "1.png" || files[1].Name() != "2.png" {
		t.Fatalf("foo/ep1 entries = %v, want [1.png 2.png]", files)
	}
	if files[0].IsDir() {
		t.Error("page file listed as a directory")
	}
}

func TestMountReadFetchesOnFirstOpen(t *testing.T) {
	fx := testMount(t)

	path := filepath.Join(fx.mountpoint, "foo", "ep1", "1.png")
	want := []byte("page one of foo ep1")

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("content = %q, want %q", got, want)
	}

	// The catalog now carries the committed size, visible via stat.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(len(want)) {
		t.Errorf("size = %d, want %d", info.Size(), len(want))
	}

	// A second read is served from disk: one download total.
	if _, err := os.ReadFile(path); err != nil {
		t.Fatalf("ReadFile (warm): %v", err)
	}
	if count := fx.fetcher.DownloadCount(); count != 1 {
		t.Errorf("download count = %d, want 1", count)
	}
}

func TestMountPendingFileStatsAsEmpty(t *testing.T) {
	fx := testMount(t)

	info, err := os.Stat(filepath.Join(fx.mountpoint, "bar", "s01", "p.jpg"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("pending file size = %d, want 0", info.Size())
	}
	if count := fx.fetcher.DownloadCount(); count != 0 {
		t.Errorf("stat triggered %d downloads, want 0", count)
	}
}

func TestMountReadAfterPendingStat(t *testing.T) {
	fx := testMount(t)

	path := filepath.Join(fx.mountpoint, "foo", "ep1", "2.png")
	want := []byte("page two of foo ep1")

	// Stat first: the kernel learns the pre-fetch size of zero.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat (pending): %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("pending size = %d, want 0", info.Size())
	}

	// The first read after the fetch must return the full content,
	// not get clamped at the previously observed zero size.
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("first read after stat = %q (%d bytes), want %q (%d bytes)",
			got, len(got), want, len(want))
	}

	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("Stat (done): %v", err)
	}
	if info.Size() != int64(len(want)) {
		t.Errorf("size after fetch = %d, want %d", info.Size(), len(want))
	}
}

func TestMountUnknownPathENOENT(t *testing.T) {
	fx := testMount(t)

	if _, err := os.Stat(filepath.Join(fx.mountpoint, "nope")); !os.IsNotExist(err) {
		t.Errorf("Stat(nope) = %v, want not-exist", err)
	}
	if _, err := os.Stat(filepath.Join(fx.mountpoint, "foo", "ep1", "missing.png")); !os.IsNotExist(err) {
		t.Errorf("Stat(missing page) = %v, want not-exist", err)
	}
}

func TestMountRejectsMutation(t *testing.T) {
	fx := testMount(t)

	if err := os.WriteFile(filepath.Join(fx.mountpoint, "new.txt"), []byte("x"), 0o644); err == nil {
		t.Error("creating a file succeeded, want read-only error")
	}
	if err := os.Mkdir(filepath.Join(fx.mountpoint, "newcomic"), 0o755); err == nil {
		t.Error("mkdir succeeded, want read-only error")
	}
	if err := os.Remove(filepath.Join(fx.mountpoint, "foo", "ep1", "1.png")); err == nil {
		t.Error("unlink succeeded, want read-only error")
	}
	if _, err := os.OpenFile(filepath.Join(fx.mountpoint, "foo", "ep1", "1.png"), os.O_WRONLY, 0); err == nil {
		t.Error("open for write succeeded, want read-only error")
	}
}

func TestMountFailedFetchIsEIO(t *testing.T) {
	fx := testMount(t)

	// bar/s01/p.jpg drops off the backend before first open.
	fx.mu.Lock()
	delete(fx.pages, "/bar/s01/p.jpg")
	fx.mu.Unlock()

	if _, err := os.ReadFile(filepath.Join(fx.mountpoint, "bar", "s01", "p.jpg")); err == nil {
		t.Error("reading an unfetchable file succeeded, want error")
	}

	// The file stays listed: registration, not fetchability, drives
	// visibility.
	entries, err := os.ReadDir(filepath.Join(fx.mountpoint, "bar", "s01"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "p.jpg" {
		t.Errorf("bar/s01 entries = %v, want [p.jpg]", entries)
	}
}
