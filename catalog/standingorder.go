// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package catalog

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// CreateStandingOrder inserts a new StandingOrder row.
func (db *DB) CreateStandingOrder(ctx context.Context, o StandingOrder) (StandingOrder, error) {
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO standing_orders (name, search, conn_name) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{o.Name, o.Search, o.ConnName}})
		if err != nil {
			if isUniqueConstraintErr(err) {
				return AlreadyExistsError{Entity: "standing order", Key: o.Name}
			}
			return err
		}
		o.ID = conn.LastInsertRowID()
		return nil
	})
	return o, err
}

// StandingOrders returns every StandingOrder, for standingorder.Evaluator
// to sweep each tick.
func (db *DB) StandingOrders(ctx context.Context) ([]StandingOrder, error) {
	var out []StandingOrder
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT id, name, search, conn_name FROM standing_orders`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, StandingOrder{
						ID:       stmt.ColumnInt64(0),
						Name:     stmt.ColumnText(1),
						Search:   stmt.ColumnText(2),
						ConnName: stmt.ColumnText(3),
					})
					return nil
				},
			})
	})
	return out, err
}

// HasFileEvent reports whether a FileEvent of the given type already
// exists for the named file, used to skip files a standing order has
// already successfully copied (search.py's "minus already-succeeded"
// filter).
func (db *DB) HasFileEvent(ctx context.Context, fileName, eventType string) (bool, error) {
	found := false
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT 1 FROM file_events WHERE file_name = ? AND type = ?`,
			&sqlitex.ExecOptions{
				Args: []any{fileName, eventType},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					return nil
				},
			})
	})
	return found, err
}

// RecordFileEvent inserts a FileEvent row, idempotently: recording the
// same (fileName, type) pair twice is a no-op rather than an error,
// since two transfers of the same file for the same standing order can
// each complete and record the same success.
func (db *DB) RecordFileEvent(ctx context.Context, e FileEvent) (FileEvent, error) {
	if e.CreateTime.IsZero() {
		e.CreateTime = time.Now().UTC()
	}
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO file_events (file_name, type, create_time) VALUES (?, ?, ?)
			ON CONFLICT(file_name, type) DO NOTHING`,
			&sqlitex.ExecOptions{Args: []any{e.FileName, e.Type, e.CreateTime.Format(time.RFC3339)}})
		if err != nil {
			return err
		}
		e.ID = conn.LastInsertRowID()
		return nil
	})
	return e, err
}

// AllFiles returns every File in the catalog. standingorder.Predicates
// filters this set in process rather than pushing predicate logic into
// SQL, matching search.py's approach of evaluating named predicates in
// Python over a base query rather than compiling each into its own SQL
// WHERE clause.
func (db *DB) AllFiles(ctx context.Context) ([]File, error) {
	var out []File
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, create_time, size, checksum, uploader, source FROM files`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, scanFile(stmt))
					return nil
				},
			})
	})
	return out, err
}

// DeleteInstance removes an Instance row, used by admin.DeleteInstance
// once the underlying bytes have been purged from their store.
func (db *DB) DeleteInstance(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM instances WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return NotFoundError{Entity: "instance", Key: fmt.Sprintf("%d", id)}
		}
		return nil
	})
}
