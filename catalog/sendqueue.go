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

// EnqueueSend inserts a new, unconsumed SendQueueItem.
func (db *DB) EnqueueSend(ctx context.Context, item SendQueueItem) (SendQueueItem, error) {
	if item.CreatedTime.IsZero() {
		item.CreatedTime = time.Now().UTC()
	}
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO send_queue (priority, created_time, destination, transfer_manager_state)
			VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{item.Priority, item.CreatedTime.Format(time.RFC3339), item.Destination, item.TransferManagerState}})
		if err != nil {
			return err
		}
		item.ID = conn.LastInsertRowID()
		return nil
	})
	return item, err
}

// ClaimNextUnconsumed atomically claims and returns the highest-priority,
// oldest unconsumed SendQueueItem, or ok=false if the queue is empty.
//
// SQLite has no SELECT ... FOR UPDATE SKIP LOCKED: every writer on a
// single database file is already serialized by SQLite's own locking,
// so the equivalent "claim one row without racing another worker" idiom
// is a single atomic UPDATE ... WHERE id = (subquery) RETURNING, run
// inside a BEGIN IMMEDIATE transaction (see withTx). The subquery picks
// the candidate row and the UPDATE claims it in the same statement,
// closing the race window a separate SELECT-then-UPDATE would leave
// open between two callers both running ConsumeQueue concurrently.
func (db *DB) ClaimNextUnconsumed(ctx context.Context) (item SendQueueItem, ok bool, err error) {
	err = db.withTx(ctx, func(conn *sqlite.Conn) error {
		now := time.Now().UTC().Format(time.RFC3339)
		execErr := sqlitex.Execute(conn, `
			UPDATE send_queue
			SET consumed = 1, consumed_time = ?
			WHERE id = (
				SELECT id FROM send_queue
				WHERE consumed = 0 AND failed = 0
				ORDER BY priority DESC, created_time ASC
				LIMIT 1
			)
			RETURNING id, priority, created_time, destination, transfer_manager_state,
			          consumed, consumed_time, completed, completed_time, retries, failed`,
			&sqlitex.ExecOptions{
				Args: []any{now},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					item = scanSendQueueItem(stmt)
					ok = true
					return nil
				},
			})
		return execErr
	})
	return item, ok, err
}

// ConsumedUnfinishedItems returns every SendQueueItem that has been
// claimed but not yet marked completed or failed, for CheckConsumedQueue
// to poll.
func (db *DB) ConsumedUnfinishedItems(ctx context.Context) ([]SendQueueItem, error) {
	var out []SendQueueItem
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, priority, created_time, destination, transfer_manager_state,
			       consumed, consumed_time, completed, completed_time, retries, failed
			FROM send_queue WHERE consumed = 1 AND completed = 0 AND failed = 0`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, scanSendQueueItem(stmt))
					return nil
				},
			})
	})
	return out, err
}

// MarkSendQueueItemCompleted marks an item completed. It does not touch
// the item's OutgoingTransfer rows; callers update those separately via
// SetOutgoingTransferStatus.
func (db *DB) MarkSendQueueItemCompleted(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			UPDATE send_queue SET completed = 1, completed_time = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{time.Now().UTC().Format(time.RFC3339), id}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return NotFoundError{Entity: "send queue item", Key: fmt.Sprintf("%d", id)}
		}
		return nil
	})
}

// MarkSendQueueItemFailed marks an item permanently failed, used once
// retries has exceeded the configured maximum.
func (db *DB) MarkSendQueueItemFailed(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE send_queue SET failed = 1 WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return NotFoundError{Entity: "send queue item", Key: fmt.Sprintf("%d", id)}
		}
		return nil
	})
}

// IncrementSendQueueItemRetries bumps an item's retry counter by one and
// returns the new count, so the caller can compare it against
// max_async_send_retries.
func (db *DB) IncrementSendQueueItemRetries(ctx context.Context, id int64) (int, error) {
	var retries int64
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE send_queue SET retries = retries + 1 WHERE id = ?
			RETURNING retries`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					retries = stmt.ColumnInt64(0)
					return nil
				},
			})
	})
	return int(retries), err
}

// ResetSendQueueItemForRetry clears an item's consumed flag so it is
// eligible for ClaimNextUnconsumed again, used after a retriable
// transfer failure. Unlike the source this is adapted from, claiming
// here sets consumed=1 up front (see ClaimNextUnconsumed), so a retry
// has to explicitly hand the item back to the unconsumed pool instead
// of simply never having marked it consumed in the first place.
func (db *DB) ResetSendQueueItemForRetry(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE send_queue SET consumed = 0, consumed_time = NULL WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
	})
}

func scanSendQueueItem(stmt *sqlite.Stmt) SendQueueItem {
	createdTime, _ := time.Parse(time.RFC3339, stmt.ColumnText(2))
	var consumedTime, completedTime time.Time
	if stmt.ColumnType(6) != sqlite.TypeNull {
		consumedTime, _ = time.Parse(time.RFC3339, stmt.ColumnText(6))
	}
	if stmt.ColumnType(8) != sqlite.TypeNull {
		completedTime, _ = time.Parse(time.RFC3339, stmt.ColumnText(8))
	}
	return SendQueueItem{
		ID:                   stmt.ColumnInt64(0),
		Priority:             int(stmt.ColumnInt64(1)),
		CreatedTime:          createdTime,
		Destination:          stmt.ColumnText(3),
		TransferManagerState: stmt.ColumnText(4),
		Consumed:             stmt.ColumnInt64(5) != 0,
		ConsumedTime:         consumedTime,
		Completed:            stmt.ColumnInt64(7) != 0,
		CompletedTime:        completedTime,
		Retries:              int(stmt.ColumnInt64(9)),
		Failed:               stmt.ColumnInt64(10) != 0,
	}
}
