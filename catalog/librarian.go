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

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// CreateLibrarian registers a peer node in the federation.
func (db *DB) CreateLibrarian(ctx context.Context, l Librarian) (Librarian, error) {
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO librarians (name, url, api_key) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{l.Name, l.URL, l.APIKey}})
		if err != nil {
			if isUniqueConstraintErr(err) {
				return AlreadyExistsError{Entity: "librarian", Key: l.Name}
			}
			return err
		}
		l.ID = conn.LastInsertRowID()
		return nil
	})
	return l, err
}

// LibrarianByName returns the peer librarian registered under name. A
// missing peer is the trigger for the ConsumeQueue "missing
// librarian" branch: callers should check for NotFoundError explicitly
// rather than treating any error as fatal, since that case is handled
// (logged and skipped) rather than propagated.
func (db *DB) LibrarianByName(ctx context.Context, name string) (Librarian, error) {
	var l Librarian
	found := false
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, url, api_key FROM librarians WHERE name = ?`,
			&sqlitex.ExecOptions{
				Args: []any{name},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					l = Librarian{
						ID:     stmt.ColumnInt64(0),
						Name:   stmt.ColumnText(1),
						URL:    stmt.ColumnText(2),
						APIKey: stmt.ColumnText(3),
					}
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return Librarian{}, err
	}
	if !found {
		return Librarian{}, NotFoundError{Entity: "librarian", Key: name}
	}
	return l, nil
}

// Librarians returns every peer registered in the federation.
func (db *DB) Librarians(ctx context.Context) ([]Librarian, error) {
	var out []Librarian
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT id, name, url, api_key FROM librarians`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, Librarian{
						ID:     stmt.ColumnInt64(0),
						Name:   stmt.ColumnText(1),
						URL:    stmt.ColumnText(2),
						APIKey: stmt.ColumnText(3),
					})
					return nil
				},
			})
	})
	return out, err
}
