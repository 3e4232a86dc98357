// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// UpsertEpisodeURLs registers an ordered list of page URLs for an
// episode, creating the comic and episode rows on first mention.
// URLs already registered for the episode are skipped, so
// re-submitting the same list is a no-op and never produces duplicate
// files or disturbs the state of files that are already Done. New
// URLs are appended after the episode's existing pages, preserving
// input order. Returns how many files were actually created, which is
// zero for a pure re-submission.
func (c *Catalog) UpsertEpisodeURLs(ctx context.Context, comic, episode string, urls []string) (added int, err error) {
	if err := validateSegment(comic); err != nil {
		return 0, fmt.Errorf("catalog: comic name: %w", err)
	}
	if err := validateSegment(episode); err != nil {
		return 0, fmt.Errorf("catalog: episode name: %w", err)
	}
	for _, rawURL := range urls {
		if strings.TrimSpace(rawURL) == "" {
			return 0, fmt.Errorf("catalog: empty URL in registration for %s/%s", comic, episode)
		}
	}

	conn, err := c.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: register: %w", err)
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("catalog: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	comicID, err := ensureComic(conn, comic)
	if err != nil {
		return 0, err
	}
	episodeID, err := ensureEpisode(conn, comicID, episode)
	if err != nil {
		return 0, err
	}

	// Load what the episode already has: URLs for idempotence, names
	// for collision detection, and the next free position.
	existingURLs := make(map[string]bool)
	existingNames := make(map[string]bool)
	nextPosition := 0
	err = sqlitex.Execute(conn, `SELECT url, name, position FROM files WHERE episode_id = ?`, &sqlitex.ExecOptions{
		Args: []any{episodeID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			existingURLs[stmt.ColumnText(0)] = true
			existingNames[stmt.ColumnText(1)] = true
			if position := int(stmt.ColumnInt64(2)); position >= nextPosition {
				nextPosition = position + 1
			}
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: loading existing files for %s/%s: %w", comic, episode, err)
	}

	for _, rawURL := range urls {
		if existingURLs[rawURL] {
			continue
		}
		name := c.namer.FileName(nextPosition, rawURL)
		if existingNames[name] {
			// Two distinct URLs mapping to the same display name
			// would break the path uniqueness invariant. The catalog
			// refuses the whole registration rather than invent names.
			return 0, fmt.Errorf("catalog: name %q already taken in %s/%s (url %s)", name, comic, episode, rawURL)
		}
		err = sqlitex.Execute(conn, `INSERT INTO files (episode_id, name, url, position, state) VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{episodeID, name, rawURL, nextPosition, string(StatePending)},
		})
		if err != nil {
			return 0, fmt.Errorf("catalog: inserting file %s/%s/%s: %w", comic, episode, name, err)
		}
		existingURLs[rawURL] = true
		existingNames[name] = true
		nextPosition++
		added++
	}

	if added > 0 {
		c.logger.Info("registered files",
			"comic", comic,
			"episode", episode,
			"added", added,
			"submitted", len(urls),
		)
	}
	return added, nil
}

// ensureComic returns the comic's row ID, inserting it if absent.
func ensureComic(conn *sqlite.Conn, name string) (int64, error) {
	var id int64
	found := false
	err := sqlitex.Execute(conn, `SELECT id FROM comics WHERE name = ?`, &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: looking up comic %q: %w", name, err)
	}
	if found {
		return id, nil
	}
	err = sqlitex.Execute(conn, `INSERT INTO comics (name) VALUES (?)`, &sqlitex.ExecOptions{
		Args: []any{name},
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: inserting comic %q: %w", name, err)
	}
	return conn.LastInsertRowID(), nil
}

// ensureEpisode returns the episode's row ID, inserting it if absent.
func ensureEpisode(conn *sqlite.Conn, comicID int64, name string) (int64, error) {
	var id int64
	found := false
	err := sqlitex.Execute(conn, `SELECT id FROM episodes WHERE comic_id = ? AND name = ?`, &sqlitex.ExecOptions{
		Args: []any{comicID, name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: looking up episode %q: %w", name, err)
	}
	if found {
		return id, nil
	}
	err = sqlitex.Execute(conn, `INSERT INTO episodes (comic_id, name) VALUES (?, ?)`, &sqlitex.ExecOptions{
		Args: []any{comicID, name},
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: inserting episode %q: %w", name, err)
	}
	return conn.LastInsertRowID(), nil
}

// validateSegment rejects names that cannot be a single path
// component in the mounted filesystem.
func validateSegment(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("reserved name %q", name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("name %q contains a path separator or NUL", name)
	}
	return nil
}
