// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SetFileState transitions a file's download state. ContentRef and
// size are only stored when the new state is Done; other states clear
// them.
//
// Done is immutable: if the file is already Done, the call is a
// silent no-op regardless of the requested state. This is what makes
// concurrent re-registration and duplicate fetch completions safe —
// whoever commits first wins, and everyone else's transition
// evaporates. Returns ErrNotFound for an unknown file ID.
func (c *Catalog) SetFileState(ctx context.Context, id int64, state State, contentRef string, size int64) (err error) {
	switch state {
	case StatePending, StateInProgress, StateDone, StateFailed:
	default:
		return fmt.Errorf("catalog: unknown state %q", state)
	}
	if state == StateDone && contentRef == "" {
		return fmt.Errorf("catalog: Done requires a content ref")
	}
	if state != StateDone {
		contentRef = ""
		size = 0
	}

	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("catalog: set state: %w", err)
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("catalog: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var current State
	found := false
	err = sqlitex.Execute(conn, `SELECT state FROM files WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			current = State(stmt.ColumnText(0))
			found = true
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: reading state of file %d: %w", id, err)
	}
	if !found {
		return ErrNotFound
	}
	if current == StateDone {
		return nil
	}

	err = sqlitex.Execute(conn, `UPDATE files SET state = ?, content_ref = ?, size = ? WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{string(state), contentRef, size, id},
	})
	if err != nil {
		return fmt.Errorf("catalog: updating file %d: %w", id, err)
	}
	return nil
}
