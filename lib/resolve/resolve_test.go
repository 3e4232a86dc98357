// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/comicfs-dev/comicfs/lib/catalog"
)

func testResolver(t *testing.T) (*Resolver, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Open(catalog.Config{
		Path:  filepath.Join(t.TempDir(), "catalog.db"),
		Namer: catalog.URLNamer{},
	})
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	ctx := context.Background()
	if _, err := cat.UpsertEpisodeURLs(ctx, "foo", "ep1", []string{
		"http://x/1.png",
		"http://x/2.png",
	}); err != nil {
		t.Fatalf("UpsertEpisodeURLs: %v", err)
	}
	if _, err := cat.UpsertEpisodeURLs(ctx, "foo", "ep2", []string{"http://x/a.png"}); err != nil {
		t.Fatalf("UpsertEpisodeURLs: %v", err)
	}
	if _, err := cat.UpsertEpisodeURLs(ctx, "bar", "s01", []string{"http://y/p.jpg"}); err != nil {
		t.Fatalf("UpsertEpisodeURLs: %v", err)
	}

	return New(cat), cat
}

func TestResolveKinds(t *testing.T) {
	resolver, _ := testResolver(t)
	ctx := context.Background()

	cases := []struct {
		path string
		kind Kind
	}{
		{"", KindRoot},
		{"/", KindRoot},
		{"foo", KindComic},
		{"/foo/", KindComic},
		{"foo/ep1", KindEpisode},
		{"foo/ep1/1.png", KindFile},
	}
	for _, c := range cases {
		node, err := resolver.Resolve(ctx, c.path)
		if err != nil {
			t.Errorf("Resolve(%q): %v", c.path, err)
			continue
		}
		if node.Kind != c.kind {
			t.Errorf("Resolve(%q).Kind = %v, want %v", c.path, node.Kind, c.kind)
		}
	}
}

func TestResolveFileCarriesRecord(t *testing.T) {
	resolver, _ := testResolver(t)

	node, err := resolver.Resolve(context.Background(), "foo/ep1/2.png")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if node.File == nil {
		t.Fatal("file node has no catalog record")
	}
	if node.File.URL != "http://x/2.png" || node.File.State != catalog.StatePending {
		t.Errorf("file record = %+v, want pending with source URL", node.File)
	}
}

func TestResolveNotFound(t *testing.T) {
	resolver, _ := testResolver(t)
	ctx := context.Background()

	for _, path := range []string{
		"baz",
		"foo/ep9",
		"foo/ep1/missing.png",
		"bar/ep1/1.png",
		"foo/ep1/1.png/too-deep",
	} {
		if _, err := resolver.Resolve(ctx, path); !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("Resolve(%q) = %v, want ErrNotFound", path, err)
		}
	}
}

func TestListChildren(t *testing.T) {
	resolver, _ := testResolver(t)
	ctx := context.Background()

	root, err := resolver.ListChildren(ctx, Node{Kind: KindRoot})
	if err != nil {
		t.Fatalf("ListChildren(root): %v", err)
	}
	want := []Child{{Name: "bar", Dir: true}, {Name: "foo", Dir: true}}
	if !reflect.DeepEqual(root, want) {
		t.Errorf("root children = %v, want %v", root, want)
	}

	episodes, err := resolver.ListChildren(ctx, Node{Kind: KindComic, Comic: "foo"})
	if err != nil {
		t.Fatalf("ListChildren(foo): %v", err)
	}
	wantEpisodes := []Child{{Name: "ep1", Dir: true}, {Name: "ep2", Dir: true}}
	if !reflect.DeepEqual(episodes, wantEpisodes) {
		t.Errorf("foo children = %v, want %v", episodes, wantEpisodes)
	}

	files, err := resolver.ListChildren(ctx, Node{Kind: KindEpisode, Comic: "foo", Episode: "ep1"})
	if err != nil {
		t.Fatalf("ListChildren(foo/ep1): %v", err)
	}
	wantFiles := []Child{{Name: "1.png"}, {Name: "2.png"}}
	if !reflect.DeepEqual(files, wantFiles) {
		t.Errorf("foo/ep1 children = %v, want %v", files, wantFiles)
	}
}

func TestListChildrenOfFileFails(t *testing.T) {
	resolver, _ := testResolver(t)

	node, err := resolver.Resolve(context.Background(), "foo/ep1/1.png")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := resolver.ListChildren(context.Background(), node); err == nil {
		t.Error("ListChildren on a file node succeeded, want error")
	}
}
