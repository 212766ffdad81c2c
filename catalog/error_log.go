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
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// RecordError appends an ErrorRecord row. This is the persistence half
// of errorlog.Log; errorlog also emits a structured slog line alongside
// this call, mirroring logger.py's log_to_database, which both logs and
// inserts an Error row in the same function.
func (db *DB) RecordError(ctx context.Context, e ErrorRecord) (ErrorRecord, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO errors (severity, category, message, timestamp) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{int(e.Severity), int(e.Category), e.Message, e.Timestamp.Format(time.RFC3339)}})
		if err != nil {
			return err
		}
		e.ID = conn.LastInsertRowID()
		return nil
	})
	return e, err
}

// RecentErrors returns the most recent errorLimit ErrorRecord rows, most
// recent first, for admin diagnostics.
func (db *DB) RecentErrors(ctx context.Context, errorLimit int) ([]ErrorRecord, error) {
	var out []ErrorRecord
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, severity, category, message, timestamp
			FROM errors ORDER BY id DESC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{errorLimit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					ts, _ := time.Parse(time.RFC3339, stmt.ColumnText(4))
					out = append(out, ErrorRecord{
						ID:        stmt.ColumnInt64(0),
						Severity:  ErrorSeverity(stmt.ColumnInt64(1)),
						Category:  ErrorCategory(stmt.ColumnInt64(2)),
						Message:   stmt.ColumnText(3),
						Timestamp: ts,
					})
					return nil
				},
			})
	})
	return out, err
}
