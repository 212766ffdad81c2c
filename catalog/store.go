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

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// CreateStore inserts a new Store row.
func (db *DB) CreateStore(ctx context.Context, s Store) (Store, error) {
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO stores (name, kind, root, ingestable, available, enabled)
			VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				s.Name, s.Kind, s.Root, boolToInt(s.Ingestable), boolToInt(s.Available), boolToInt(s.Enabled),
			}})
		if err != nil {
			if isUniqueConstraintErr(err) {
				return AlreadyExistsError{Entity: "store", Key: s.Name}
			}
			return err
		}
		s.ID = conn.LastInsertRowID()
		return nil
	})
	return s, err
}

// StoreByName returns the Store row with the given name.
func (db *DB) StoreByName(ctx context.Context, name string) (Store, error) {
	var s Store
	found := false
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, kind, root, ingestable, available, enabled
			FROM stores WHERE name = ?`,
			&sqlitex.ExecOptions{
				Args: []any{name},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					s = scanStore(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return Store{}, err
	}
	if !found {
		return Store{}, NotFoundError{Entity: "store", Key: name}
	}
	return s, nil
}

// StoreByID returns the Store row with the given ID.
func (db *DB) StoreByID(ctx context.Context, id int64) (Store, error) {
	var s Store
	found := false
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, kind, root, ingestable, available, enabled
			FROM stores WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					s = scanStore(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return Store{}, err
	}
	if !found {
		return Store{}, NotFoundError{Entity: "store", Key: fmt.Sprintf("%d", id)}
	}
	return s, nil
}

// AllStores returns every configured Store regardless of enabled or
// available state, for admin.ListStores's operator survey.
func (db *DB) AllStores(ctx context.Context) ([]Store, error) {
	var stores []Store
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, kind, root, ingestable, available, enabled
			FROM stores`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					stores = append(stores, scanStore(stmt))
					return nil
				},
			})
	})
	return stores, err
}

// EnabledAvailableStores returns every Store usable as a destination for
// new uploads, i.e. the candidate pool for admin.RecommendStore.
func (db *DB) EnabledAvailableStores(ctx context.Context) ([]Store, error) {
	var stores []Store
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, kind, root, ingestable, available, enabled
			FROM stores WHERE enabled = 1 AND available = 1 AND ingestable = 1`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					stores = append(stores, scanStore(stmt))
					return nil
				},
			})
	})
	return stores, err
}

// SetStoreState updates a Store's enabled/available flags, used by
// admin.StoreStateChange.
func (db *DB) SetStoreState(ctx context.Context, storeID int64, enabled, available bool) error {
	return db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE stores SET enabled = ?, available = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{boolToInt(enabled), boolToInt(available), storeID}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return NotFoundError{Entity: "store", Key: fmt.Sprintf("%d", storeID)}
		}
		return nil
	})
}

func scanStore(stmt *sqlite.Stmt) Store {
	return Store{
		ID:         stmt.ColumnInt64(0),
		Name:       stmt.ColumnText(1),
		Kind:       stmt.ColumnText(2),
		Root:       stmt.ColumnText(3),
		Ingestable: stmt.ColumnInt64(4) != 0,
		Available:  stmt.ColumnInt64(5) != 0,
		Enabled:    stmt.ColumnInt64(6) != 0,
	}
}
