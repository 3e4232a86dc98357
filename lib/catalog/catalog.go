// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog is the authoritative metadata store for comics,
// episodes, and files. It owns every state transition; the fetcher
// and the filesystem adapter only ever go through it.
//
// Storage is SQLite in WAL mode behind a fixed-size connection pool.
// Connections are not safe for concurrent use — every operation takes
// a connection from the pool and returns it when done. All mutations
// run inside IMMEDIATE transactions so readers never observe a
// half-created episode or a file whose state and content disagree.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/comicfs-dev/comicfs/lib/sqlitepool"
)

// ErrNotFound is returned when a comic, episode, or file does not
// exist in the catalog.
var ErrNotFound = errors.New("catalog: not found")

// State is a file's download state.
type State string

const (
	// StatePending means the file is registered but its content has
	// not been fetched.
	StatePending State = "pending"

	// StateInProgress means a download is currently running.
	StateInProgress State = "in_progress"

	// StateDone means the content is committed to the content store.
	// Done is terminal: the catalog silently ignores any attempt to
	// transition a Done file elsewhere.
	StateDone State = "done"

	// StateFailed means the last fetch attempt failed permanently.
	// A later fetch attempt (after a cool-down) may still succeed.
	StateFailed State = "failed"
)

// Comic is a top-level directory in the virtual filesystem.
type Comic struct {
	ID   int64
	Name string
}

// Episode belongs to exactly one comic.
type Episode struct {
	ID      int64
	ComicID int64
	Name    string
}

// File is one page of an episode. ContentRef and Size are only
// meaningful when State is Done.
type File struct {
	ID         int64
	EpisodeID  int64
	Name       string
	URL        string
	Position   int
	State      State
	ContentRef string
	Size       int64
}

const schema = `
CREATE TABLE IF NOT EXISTS comics (
    id   INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS episodes (
    id       INTEGER PRIMARY KEY,
    comic_id INTEGER NOT NULL,
    name     TEXT NOT NULL,
    UNIQUE (comic_id, name)
);

CREATE TABLE IF NOT EXISTS files (
    id          INTEGER PRIMARY KEY,
    episode_id  INTEGER NOT NULL,
    name        TEXT NOT NULL,
    url         TEXT NOT NULL,
    position    INTEGER NOT NULL,
    state       TEXT NOT NULL DEFAULT 'pending',
    content_ref TEXT NOT NULL DEFAULT '',
    size        INTEGER NOT NULL DEFAULT 0,
    UNIQUE (episode_id, name),
    UNIQUE (episode_id, url)
);

CREATE INDEX IF NOT EXISTS files_by_position ON files (episode_id, position);
`

// Config holds the parameters for opening a catalog.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Required.
	Path string

	// PoolSize is the number of connections in the pool. Zero or
	// negative defaults to max(NumCPU, 4).
	PoolSize int

	// Namer derives file display names from registration input.
	// Defaults to SequenceNamer.
	Namer Namer

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Catalog is the durable comic/episode/file store. Safe for
// concurrent use.
type Catalog struct {
	pool   *sqlitepool.Pool
	namer  Namer
	logger *slog.Logger
	path   string
}

// Open opens (creating if necessary) the catalog database and applies
// the schema. The caller must call Close when done.
func Open(cfg Config) (*Catalog, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("catalog: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	namer := cfg.Namer
	if namer == nil {
		namer = SequenceNamer{}
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	return &Catalog{
		pool:   pool,
		namer:  namer,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// Close closes the connection pool. Blocks until all borrowed
// connections are returned.
func (c *Catalog) Close() error {
	if err := c.pool.Close(); err != nil {
		return fmt.Errorf("catalog: closing %s: %w", c.path, err)
	}
	c.logger.Info("catalog closed", "path", c.path)
	return nil
}

// Repair demotes every Done file whose content reference is no longer
// readable back to Pending. Called once at startup, before the
// filesystem is mounted, so a crash between blob commit and state
// update (or a lost data directory) can never surface a Done file
// with missing content. The verify callback reports whether a content
// ref resolves to a readable blob.
func (c *Catalog) Repair(ctx context.Context, verify func(contentRef string) bool) (int, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: repair: %w", err)
	}
	defer c.pool.Put(conn)

	type doneFile struct {
		id  int64
		ref string
	}
	var done []doneFile
	err = sqlitex.Execute(conn, `SELECT id, content_ref FROM files WHERE state = ?`, &sqlitex.ExecOptions{
		Args: []any{string(StateDone)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			done = append(done, doneFile{id: stmt.ColumnInt64(0), ref: stmt.ColumnText(1)})
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: repair scan: %w", err)
	}

	demoted := 0
	for _, file := range done {
		if file.ref != "" && verify(file.ref) {
			continue
		}
		err := sqlitex.Execute(conn, `UPDATE files SET state = ?, content_ref = '', size = 0 WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{string(StatePending), file.id},
		})
		if err != nil {
			return demoted, fmt.Errorf("catalog: demoting file %d: %w", file.id, err)
		}
		demoted++
		c.logger.Warn("demoted file with missing content", "file_id", file.id, "content_ref", file.ref)
	}
	return demoted, nil
}
