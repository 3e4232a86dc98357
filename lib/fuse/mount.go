// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse exposes the comic catalog as a read-only filesystem:
// comics are top-level directories, episodes are subdirectories, and
// pages are regular files. Directory structure comes straight from
// the catalog; file bytes are materialized on first open through the
// fetcher, so a cold mount lists everything instantly and pays the
// download cost only when a file is actually read.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/comicfs-dev/comicfs/lib/catalog"
	"github.com/comicfs-dev/comicfs/lib/content"
	"github.com/comicfs-dev/comicfs/lib/fetch"
	"github.com/comicfs-dev/comicfs/lib/resolve"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// Resolver maps paths onto catalog entities.
	Resolver *resolve.Resolver

	// Catalog answers attribute queries for file nodes.
	Catalog *catalog.Catalog

	// Store serves committed blobs for reading.
	Store *content.Store

	// Fetcher materializes file content on first open.
	Fetcher *fetch.Fetcher

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Mount mounts the comic filesystem at the configured mountpoint. The
// caller must call Unmount on the returned Server when done. The
// mountpoint directory is created if it does not exist.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if options.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if options.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if options.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{options: &options, node: resolve.Node{Kind: resolve.KindRoot}}

	// Short entry/attr timeouts: new registrations through the
	// ingestion gateway should become visible within a second.
	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "comicfs",
			Name:       "comicfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("comic FUSE filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// dirNode is a directory in the hierarchy: the root (listing comics),
// a comic (listing episodes), or an episode (listing files). One type
// covers all three levels because they only differ in the resolved
// node they carry.
type dirNode struct {
	gofuse.Inode
	options *Options
	node    resolve.Node
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeCreater = (*dirNode)(nil)
var _ gofuse.NodeMkdirer = (*dirNode)(nil)
var _ gofuse.NodeUnlinker = (*dirNode)(nil)
var _ gofuse.NodeRmdirer = (*dirNode)(nil)
var _ gofuse.NodeRenamer = (*dirNode)(nil)

// childPath joins a child name onto this directory's position in the
// hierarchy.
func (d *dirNode) childPath(name string) string {
	switch d.node.Kind {
	case resolve.KindRoot:
		return name
	case resolve.KindComic:
		return d.node.Comic + "/" + name
	default:
		return d.node.Comic + "/" + d.node.Episode + "/" + name
	}
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	resolved, err := d.options.Resolver.Resolve(ctx, d.childPath(name))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, syscall.ENOENT
		}
		d.options.Logger.Error("lookup failed", "path", d.childPath(name), "error", err)
		return nil, syscall.EIO
	}

	if resolved.Kind == resolve.KindFile {
		node := &fileNode{options: d.options, fileID: resolved.File.ID}
		child := d.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
		out.Mode = syscall.S_IFREG | 0o444
		if resolved.File.State == catalog.StateDone {
			out.Size = uint64(resolved.File.Size)
		} else {
			// The size is not final until the content is fetched. A
			// cached zero-size attr would clamp reads of the freshly
			// materialized file, so the kernel must revalidate on
			// every access until the file is Done.
			out.SetEntryTimeout(0)
			out.SetAttrTimeout(0)
		}
		return child, 0
	}

	child := d.NewPersistentInode(ctx, &dirNode{
		options: d.options,
		node:    resolved,
	}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
	out.Mode = syscall.S_IFDIR | 0o555
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	children, err := d.options.Resolver.ListChildren(ctx, d.node)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, syscall.ENOENT
		}
		d.options.Logger.Error("readdir failed", "comic", d.node.Comic, "episode", d.node.Episode, "error", err)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, len(children))
	for i, child := range children {
		mode := uint32(syscall.S_IFREG)
		if child.Dir {
			mode = syscall.S_IFDIR
		}
		entries[i] = fuse.DirEntry{Name: child.Name, Mode: mode}
	}
	return &sliceDirStream{entries: entries}, 0
}

// The filesystem is strictly read-only: the catalog changes through
// the ingestion gateway, never through the mount.

func (d *dirNode) Create(context.Context, string, uint32, uint32, *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (d *dirNode) Mkdir(context.Context, string, uint32, *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (d *dirNode) Unlink(context.Context, string) syscall.Errno {
	return syscall.EROFS
}

func (d *dirNode) Rmdir(context.Context, string) syscall.Errno {
	return syscall.EROFS
}

func (d *dirNode) Rename(context.Context, string, gofuse.InodeEmbedder, string, uint32) syscall.Errno {
	return syscall.EROFS
}

// fileNode is a single page file. Attributes come from the catalog on
// every query so that a fetch completing in the background is
// reflected without remounting. Open materializes the content.
type fileNode struct {
	gofuse.Inode
	options *Options
	fileID  int64
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)
var _ gofuse.NodeReleaser = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	record, err := f.options.Catalog.GetFileByID(ctx, f.fileID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return syscall.ENOENT
		}
		f.options.Logger.Error("getattr failed", "file_id", f.fileID, "error", err)
		return syscall.EIO
	}

	out.Mode = syscall.S_IFREG | 0o444
	// A file not yet materialized reports size zero; the real size
	// appears once the fetch commits. Until then the attr must not be
	// cached, or the stale zero would clamp reads after the fetch.
	if record.State == catalog.StateDone {
		out.Size = uint64(record.Size)
	} else {
		out.SetTimeout(0)
	}
	out.Blocks = (out.Size + 511) / 512
	return 0
}

// Setattr rejects every mutation, including O_TRUNC truncation.
func (f *fileNode) Setattr(context.Context, gofuse.FileHandle, *fuse.SetAttrIn, *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

// Open blocks until the file's content is on disk, downloading it on
// first access. All opens racing on the same cold file share one
// download. Fetch failures surface as EIO; the next open retries
// (subject to the fetcher's cool-down for permanent failures).
func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	record, err := f.options.Catalog.GetFileByID(ctx, f.fileID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, 0, syscall.ENOENT
		}
		f.options.Logger.Error("open lookup failed", "file_id", f.fileID, "error", err)
		return nil, 0, syscall.EIO
	}
	wasDone := record.State == catalog.StateDone

	ref, err := f.options.Fetcher.EnsureFetched(ctx, f.fileID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, 0, syscall.ENOENT
		}
		f.options.Logger.Warn("open could not materialize file", "file_id", f.fileID, "error", err)
		return nil, 0, syscall.EIO
	}

	blob, err := f.options.Store.Open(ref)
	if err != nil {
		f.options.Logger.Error("committed blob missing", "file_id", f.fileID, "content_ref", string(ref), "error", err)
		return nil, 0, syscall.EIO
	}

	if !wasDone {
		// The kernel may still hold a zero-size attr from before the
		// fetch committed. Direct IO reads through to this handle
		// instead of clamping at the cached size, so the first read
		// of a freshly materialized file sees the full content.
		return &blobHandle{file: blob}, fuse.FOPEN_DIRECT_IO, 0
	}

	// Blobs are immutable once committed, so the kernel page cache
	// stays valid across opens.
	return &blobHandle{file: blob}, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(_ context.Context, handle gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h, ok := handle.(*blobHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	n, err := h.file.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		f.options.Logger.Error("read failed", "file_id", f.fileID, "offset", off, "error", err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *fileNode) Release(_ context.Context, handle gofuse.FileHandle) syscall.Errno {
	if h, ok := handle.(*blobHandle); ok {
		h.file.Close()
	}
	return 0
}

// blobHandle wraps an open blob file descriptor for the lifetime of
// one FUSE open.
type blobHandle struct {
	file *os.File
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
