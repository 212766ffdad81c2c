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

// DB is a handle to the catalog's backing SQLite database. A DB is safe
// for concurrent use by multiple goroutines: each caller borrows its own
// connection from the underlying pool for the duration of a single
// operation.
type DB struct {
	pool *sqlitex.Pool
}

// Open opens (creating if necessary) the catalog database at path and
// ensures its schema is current. path may be ":memory:" for a
// process-local, non-persistent catalog, which is useful in tests.
func Open(path string) (*DB, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenWAL,
		PoolSize: 8,
	})
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	db := &DB{pool: pool}
	if err := db.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// Close releases all connections held by the catalog database.
func (db *DB) Close() error {
	return db.pool.Close()
}

func (db *DB) migrate(ctx context.Context) error {
	conn, err := db.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("borrowing connection to migrate catalog: %w", err)
	}
	defer db.pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = ON;", nil); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	var userVersion int64
	err = sqlitex.ExecuteTransient(conn, "PRAGMA user_version;", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			userVersion = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if userVersion == schemaVersion {
		return nil
	}
	if userVersion != 0 {
		return fmt.Errorf("catalog database has schema version %d, expected %d or 0 (fresh)", userVersion, schemaVersion)
	}

	if err := sqlitex.ExecuteScript(conn, createTables, nil); err != nil {
		return fmt.Errorf("creating catalog schema: %w", err)
	}
	setVersion := fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)
	if err := sqlitex.ExecuteTransient(conn, setVersion, nil); err != nil {
		return fmt.Errorf("stamping schema version: %w", err)
	}
	return nil
}

// withConn borrows a connection from the pool, runs fn with it, and
// returns the connection no matter how fn returns.
func (db *DB) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := db.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("borrowing catalog connection: %w", err)
	}
	defer db.pool.Put(conn)
	return fn(conn)
}

// withTx borrows a connection, runs fn inside a BEGIN IMMEDIATE
// transaction, and commits on success or rolls back on error. Using
// BEGIN IMMEDIATE rather than a deferred transaction matters here: the
// send queue's claim queries (sendqueue.go) rely on the immediate write
// lock to emulate SELECT ... FOR UPDATE SKIP LOCKED, which SQLite has
// no direct equivalent for.
func (db *DB) withTx(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return db.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer endFn(&err)
		return fn(conn)
	})
}
