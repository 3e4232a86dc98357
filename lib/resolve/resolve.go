// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolve maps virtual filesystem paths onto catalog
// entities. It is a pure projection of the catalog: no network, no
// local disk, no renaming. The comic/episode/file uniqueness
// guaranteed by the catalog means name collisions cannot occur here.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/comicfs-dev/comicfs/lib/catalog"
)

// Kind tags the variant of a resolved node. Dispatching on the tag
// (instead of a type hierarchy) keeps every switch exhaustive and
// visible.
type Kind int

const (
	// KindRoot is the filesystem root, listing comics.
	KindRoot Kind = iota

	// KindComic is a comic directory, listing episodes.
	KindComic

	// KindEpisode is an episode directory, listing files.
	KindEpisode

	// KindFile is a page file.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindComic:
		return "comic"
	case KindEpisode:
		return "episode"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node is a resolved path. Comic is set for KindComic and deeper,
// Episode for KindEpisode and deeper, File only for KindFile.
type Node struct {
	Kind    Kind
	Comic   string
	Episode string
	File    *catalog.File
}

// Child is one directory entry.
type Child struct {
	Name string
	Dir  bool
}

// Resolver answers path and listing queries from the catalog.
type Resolver struct {
	catalog *catalog.Catalog
}

// New creates a Resolver over the given catalog.
func New(cat *catalog.Catalog) *Resolver {
	return &Resolver{catalog: cat}
}

// Resolve maps a slash-separated path ("", "comic", "comic/episode",
// "comic/episode/file") to a node. Leading and trailing slashes are
// tolerated. Returns catalog.ErrNotFound for unknown entities and an
// error for paths deeper than three components.
func (r *Resolver) Resolve(ctx context.Context, path string) (Node, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return Node{Kind: KindRoot}, nil
	}

	segments := strings.Split(trimmed, "/")
	switch len(segments) {
	case 1:
		if _, err := r.catalog.GetComic(ctx, segments[0]); err != nil {
			return Node{}, err
		}
		return Node{Kind: KindComic, Comic: segments[0]}, nil
	case 2:
		if _, err := r.catalog.GetEpisode(ctx, segments[0], segments[1]); err != nil {
			return Node{}, err
		}
		return Node{Kind: KindEpisode, Comic: segments[0], Episode: segments[1]}, nil
	case 3:
		file, err := r.catalog.GetFile(ctx, segments[0], segments[1], segments[2])
		if err != nil {
			return Node{}, err
		}
		return Node{
			Kind:    KindFile,
			Comic:   segments[0],
			Episode: segments[1],
			File:    file,
		}, nil
	default:
		return Node{}, fmt.Errorf("resolve: path %q deeper than comic/episode/file: %w", path, catalog.ErrNotFound)
	}
}

// ListChildren returns the ordered entries of a directory node: the
// root lists comics, a comic lists episodes, an episode lists files.
// Pending and Failed files are listed like any other — registration,
// not materialization, makes a file visible. Listing a file node is
// an error.
func (r *Resolver) ListChildren(ctx context.Context, node Node) ([]Child, error) {
	switch node.Kind {
	case KindRoot:
		comics, err := r.catalog.ListComics(ctx)
		if err != nil {
			return nil, err
		}
		return dirChildren(comics), nil
	case KindComic:
		episodes, err := r.catalog.ListEpisodes(ctx, node.Comic)
		if err != nil {
			return nil, err
		}
		return dirChildren(episodes), nil
	case KindEpisode:
		files, err := r.catalog.ListFiles(ctx, node.Comic, node.Episode)
		if err != nil {
			return nil, err
		}
		children := make([]Child, len(files))
		for i, name := range files {
			children[i] = Child{Name: name}
		}
		return children, nil
	case KindFile:
		return nil, fmt.Errorf("resolve: %s/%s/%s is not a directory", node.Comic, node.Episode, node.File.Name)
	}
	return nil, fmt.Errorf("resolve: unknown node kind %v", node.Kind)
}

func dirChildren(names []string) []Child {
	children := make([]Child, len(names))
	for i, name := range names {
		children[i] = Child{Name: name, Dir: true}
	}
	return children
}
