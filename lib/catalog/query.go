// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ListComics returns all comic names in lexical order.
func (c *Catalog) ListComics(ctx context.Context) ([]string, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list comics: %w", err)
	}
	defer c.pool.Put(conn)

	var names []string
	err = sqlitex.Execute(conn, `SELECT name FROM comics ORDER BY name`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			names = append(names, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list comics: %w", err)
	}
	return names, nil
}

// ListEpisodes returns the comic's episode names in registration
// order. Returns ErrNotFound when the comic does not exist.
func (c *Catalog) ListEpisodes(ctx context.Context, comic string) ([]string, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list episodes: %w", err)
	}
	defer c.pool.Put(conn)

	comicRow, err := lookupComic(conn, comic)
	if err != nil {
		return nil, err
	}

	var names []string
	err = sqlitex.Execute(conn, `SELECT name FROM episodes WHERE comic_id = ? ORDER BY id`, &sqlitex.ExecOptions{
		Args: []any{comicRow.ID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			names = append(names, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list episodes of %q: %w", comic, err)
	}
	return names, nil
}

// ListFiles returns the episode's file names in page order. Returns
// ErrNotFound when the comic or episode does not exist. Pending and
// Failed files are included: a registered file is always visible,
// only its content is lazy.
func (c *Catalog) ListFiles(ctx context.Context, comic, episode string) ([]string, error) {
	files, err := c.EpisodeFiles(ctx, comic, episode)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.Name
	}
	return names, nil
}

// EpisodeFiles returns full file records for an episode in page
// order. Returns ErrNotFound when the comic or episode is absent.
func (c *Catalog) EpisodeFiles(ctx context.Context, comic, episode string) ([]File, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: episode files: %w", err)
	}
	defer c.pool.Put(conn)

	episodeRow, err := lookupEpisode(conn, comic, episode)
	if err != nil {
		return nil, err
	}

	var files []File
	err = sqlitex.Execute(conn, fileSelect+` WHERE episode_id = ? ORDER BY position`, &sqlitex.ExecOptions{
		Args: []any{episodeRow.ID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			files = append(files, scanFile(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: files of %s/%s: %w", comic, episode, err)
	}
	return files, nil
}

// GetComic returns a comic by name, or ErrNotFound.
func (c *Catalog) GetComic(ctx context.Context, name string) (*Comic, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: get comic: %w", err)
	}
	defer c.pool.Put(conn)

	comic, err := lookupComic(conn, name)
	if err != nil {
		return nil, err
	}
	return comic, nil
}

// GetEpisode returns an episode by comic and episode name, or
// ErrNotFound.
func (c *Catalog) GetEpisode(ctx context.Context, comic, episode string) (*Episode, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: get episode: %w", err)
	}
	defer c.pool.Put(conn)

	episodeRow, err := lookupEpisode(conn, comic, episode)
	if err != nil {
		return nil, err
	}
	return episodeRow, nil
}

// GetFile returns a file by its full path triple, or ErrNotFound.
func (c *Catalog) GetFile(ctx context.Context, comic, episode, name string) (*File, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: get file: %w", err)
	}
	defer c.pool.Put(conn)

	episodeRow, err := lookupEpisode(conn, comic, episode)
	if err != nil {
		return nil, err
	}

	var file *File
	err = sqlitex.Execute(conn, fileSelect+` WHERE episode_id = ? AND name = ?`, &sqlitex.ExecOptions{
		Args: []any{episodeRow.ID, name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned := scanFile(stmt)
			file = &scanned
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: file %s/%s/%s: %w", comic, episode, name, err)
	}
	if file == nil {
		return nil, ErrNotFound
	}
	return file, nil
}

// GetFileByID returns a file by row ID, or ErrNotFound. The fetcher
// addresses files by ID so that renames of display names can never
// redirect an in-flight download.
func (c *Catalog) GetFileByID(ctx context.Context, id int64) (*File, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: get file by id: %w", err)
	}
	defer c.pool.Put(conn)

	var file *File
	err = sqlitex.Execute(conn, fileSelect+` WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned := scanFile(stmt)
			file = &scanned
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: file %d: %w", id, err)
	}
	if file == nil {
		return nil, ErrNotFound
	}
	return file, nil
}

const fileSelect = `SELECT id, episode_id, name, url, position, state, content_ref, size FROM files`

func scanFile(stmt *sqlite.Stmt) File {
	return File{
		ID:         stmt.ColumnInt64(0),
		EpisodeID:  stmt.ColumnInt64(1),
		Name:       stmt.ColumnText(2),
		URL:        stmt.ColumnText(3),
		Position:   int(stmt.ColumnInt64(4)),
		State:      State(stmt.ColumnText(5)),
		ContentRef: stmt.ColumnText(6),
		Size:       stmt.ColumnInt64(7),
	}
}

func lookupComic(conn *sqlite.Conn, name string) (*Comic, error) {
	var comic *Comic
	err := sqlitex.Execute(conn, `SELECT id, name FROM comics WHERE name = ?`, &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			comic = &Comic{ID: stmt.ColumnInt64(0), Name: stmt.ColumnText(1)}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: comic %q: %w", name, err)
	}
	if comic == nil {
		return nil, ErrNotFound
	}
	return comic, nil
}

func lookupEpisode(conn *sqlite.Conn, comic, episode string) (*Episode, error) {
	comicRow, err := lookupComic(conn, comic)
	if err != nil {
		return nil, err
	}
	var episodeRow *Episode
	err = sqlitex.Execute(conn, `SELECT id, comic_id, name FROM episodes WHERE comic_id = ? AND name = ?`, &sqlitex.ExecOptions{
		Args: []any{comicRow.ID, episode},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			episodeRow = &Episode{
				ID:      stmt.ColumnInt64(0),
				ComicID: stmt.ColumnInt64(1),
				Name:    stmt.ColumnText(2),
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: episode %s/%s: %w", comic, episode, err)
	}
	if episodeRow == nil {
		return nil, ErrNotFound
	}
	return episodeRow, nil
}
