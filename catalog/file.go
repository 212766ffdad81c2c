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
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// CreateFile inserts a new File row. The checksum is normalized to
// lowercase hex before storage, per Design Notes: all MD5 comparisons
// in this catalog are done on lowercased values.
func (db *DB) CreateFile(ctx context.Context, f File) (File, error) {
	f.Checksum = strings.ToLower(f.Checksum)
	if f.CreateTime.IsZero() {
		f.CreateTime = time.Now().UTC()
	}
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO files (name, create_time, size, checksum, uploader, source)
			VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				f.Name, f.CreateTime.Format(time.RFC3339), f.Size, f.Checksum, f.Uploader, f.Source,
			}})
		if err != nil {
			if isUniqueConstraintErr(err) {
				return AlreadyExistsError{Entity: "file", Key: f.Name}
			}
			return err
		}
		f.ID = conn.LastInsertRowID()
		return nil
	})
	return f, err
}

// FileByName returns the File row with the given name.
func (db *DB) FileByName(ctx context.Context, name string) (File, error) {
	var f File
	found := false
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, create_time, size, checksum, uploader, source
			FROM files WHERE name = ?`,
			&sqlitex.ExecOptions{
				Args: []any{name},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					f = scanFile(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return File{}, err
	}
	if !found {
		return File{}, NotFoundError{Entity: "file", Key: name}
	}
	return f, nil
}

// FileByID returns the File row with the given ID.
func (db *DB) FileByID(ctx context.Context, id int64) (File, error) {
	var f File
	found := false
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, name, create_time, size, checksum, uploader, source
			FROM files WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					f = scanFile(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return File{}, err
	}
	if !found {
		return File{}, NotFoundError{Entity: "file", Key: fmt.Sprintf("%d", id)}
	}
	return f, nil
}

func scanFile(stmt *sqlite.Stmt) File {
	createTime, _ := time.Parse(time.RFC3339, stmt.ColumnText(2))
	return File{
		ID:         stmt.ColumnInt64(0),
		Name:       stmt.ColumnText(1),
		CreateTime: createTime,
		Size:       stmt.ColumnInt64(3),
		Checksum:   stmt.ColumnText(4),
		Uploader:   stmt.ColumnText(5),
		Source:     stmt.ColumnText(6),
	}
}

// CreateInstance inserts a new Instance row, linking a File to a Store.
func (db *DB) CreateInstance(ctx context.Context, inst Instance) (Instance, error) {
	if inst.CreateTime.IsZero() {
		inst.CreateTime = time.Now().UTC()
	}
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO instances (store_id, file_id, path, deletion_policy, create_time, available)
			VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				inst.StoreID, inst.FileID, inst.Path, int(inst.DeletionPolicy),
				inst.CreateTime.Format(time.RFC3339), boolToInt(inst.Available),
			}})
		if err != nil {
			if isUniqueConstraintErr(err) {
				return AlreadyExistsError{Entity: "instance", Key: inst.Path}
			}
			return err
		}
		inst.ID = conn.LastInsertRowID()
		return nil
	})
	return inst, err
}

// InstancesForFile returns every Instance of the named File across all stores.
func (db *DB) InstancesForFile(ctx context.Context, fileID int64) ([]Instance, error) {
	var instances []Instance
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, store_id, file_id, path, deletion_policy, create_time, available
			FROM instances WHERE file_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{fileID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					instances = append(instances, scanInstance(stmt))
					return nil
				},
			})
	})
	return instances, err
}

// InstancesForStore returns every Instance recorded on the named store,
// the basis for admin.StoreManifest.
func (db *DB) InstancesForStore(ctx context.Context, storeID int64) ([]Instance, error) {
	var instances []Instance
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, store_id, file_id, path, deletion_policy, create_time, available
			FROM instances WHERE store_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{storeID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					instances = append(instances, scanInstance(stmt))
					return nil
				},
			})
	})
	return instances, err
}

// InstanceByStoreAndPath looks up an Instance by its store and on-disk path,
// used by admin.CompleteUpload to detect an already-completed upload.
func (db *DB) InstanceByStoreAndPath(ctx context.Context, storeID int64, path string) (Instance, error) {
	var inst Instance
	found := false
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, store_id, file_id, path, deletion_policy, create_time, available
			FROM instances WHERE store_id = ? AND path = ?`,
			&sqlitex.ExecOptions{
				Args: []any{storeID, path},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					inst = scanInstance(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return Instance{}, err
	}
	if !found {
		return Instance{}, NotFoundError{Entity: "instance", Key: path}
	}
	return inst, nil
}

func scanInstance(stmt *sqlite.Stmt) Instance {
	createTime, _ := time.Parse(time.RFC3339, stmt.ColumnText(5))
	return Instance{
		ID:             stmt.ColumnInt64(0),
		StoreID:        stmt.ColumnInt64(1),
		FileID:         stmt.ColumnInt64(2),
		Path:           stmt.ColumnText(3),
		DeletionPolicy: DeletionPolicy(stmt.ColumnInt64(4)),
		CreateTime:     createTime,
		Available:      stmt.ColumnInt64(6) != 0,
	}
}

// CreateRemoteInstance records a belief that a peer librarian holds a
// copy of a File, after a clone/complete callback confirms it.
func (db *DB) CreateRemoteInstance(ctx context.Context, ri RemoteInstance) (RemoteInstance, error) {
	if ri.CopyTime.IsZero() {
		ri.CopyTime = time.Now().UTC()
	}
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO remote_instances (file_id, librarian_name, copy_time)
			VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				ri.FileID, ri.LibrarianName, ri.CopyTime.Format(time.RFC3339),
			}})
		if err != nil {
			return err
		}
		ri.ID = conn.LastInsertRowID()
		return nil
	})
	return ri, err
}

// RemoteInstancesForFile returns every peer believed to hold a copy of
// the named File.
func (db *DB) RemoteInstancesForFile(ctx context.Context, fileID int64) ([]RemoteInstance, error) {
	var out []RemoteInstance
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, file_id, librarian_name, copy_time
			FROM remote_instances WHERE file_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{fileID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					copyTime, _ := time.Parse(time.RFC3339, stmt.ColumnText(3))
					out = append(out, RemoteInstance{
						ID:            stmt.ColumnInt64(0),
						FileID:        stmt.ColumnInt64(1),
						LibrarianName: stmt.ColumnText(2),
						CopyTime:      copyTime,
					})
					return nil
				},
			})
	})
	return out, err
}

// DeleteRemoteInstance removes a RemoteInstance row, used by
// admin.DeleteInstance when instance_type is "remote".
func (db *DB) DeleteRemoteInstance(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM remote_instances WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return NotFoundError{Entity: "remote_instance", Key: fmt.Sprintf("%d", id)}
		}
		return nil
	})
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
