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

// validOutgoingTransitions enumerates the edges of the OutgoingTransfer
// state machine from spec §4.3. INITIATED is the entry state; COMPLETED,
// FAILED, and CANCELLED are terminal.
var validOutgoingTransitions = map[TransferStatus][]TransferStatus{
	StatusInitiated: {StatusOngoing, StatusCancelled, StatusFailed},
	StatusOngoing:   {StatusStaged, StatusFailed, StatusCancelled},
	StatusStaged:    {StatusCompleted, StatusFailed},
}

// validIncomingTransitions enumerates the edges of the IncomingTransfer
// state machine. IncomingTransfer never visits STAGED or CANCELLED: the
// receiving side learns of a transfer only once bytes are already
// arriving.
var validIncomingTransitions = map[TransferStatus][]TransferStatus{
	StatusInitiated: {StatusOngoing, StatusFailed},
	StatusOngoing:   {StatusCompleted, StatusFailed},
}

func canTransition(table map[TransferStatus][]TransferStatus, from, to TransferStatus) bool {
	for _, allowed := range table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CreateOutgoingTransfer inserts a new OutgoingTransfer row in the
// INITIATED state.
func (db *DB) CreateOutgoingTransfer(ctx context.Context, t OutgoingTransfer) (OutgoingTransfer, error) {
	t.Status = StatusInitiated
	t.TransferChecksum = strings.ToLower(t.TransferChecksum)
	if t.StartTime.IsZero() {
		t.StartTime = time.Now().UTC()
	}
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO outgoing_transfers
				(file_id, destination_librarian, source_path, dest_path,
				 transfer_size, transfer_checksum, status, start_time, send_queue_id,
				 success_event_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				t.FileID, t.DestinationLibrarian, t.SourcePath, t.DestPath,
				t.TransferSize, t.TransferChecksum, int(t.Status),
				t.StartTime.Format(time.RFC3339), nullableID(t.SendQueueID),
				nullableString(t.SuccessEventType),
			}})
		if err != nil {
			return err
		}
		t.ID = conn.LastInsertRowID()
		return nil
	})
	return t, err
}

// OutgoingTransferByID returns the OutgoingTransfer row with the given ID.
func (db *DB) OutgoingTransferByID(ctx context.Context, id int64) (OutgoingTransfer, error) {
	var t OutgoingTransfer
	found := false
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, file_id, destination_librarian, source_path, dest_path,
			       transfer_size, transfer_checksum, status, start_time, end_time, send_queue_id,
			       success_event_type
			FROM outgoing_transfers WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					t = scanOutgoingTransfer(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return OutgoingTransfer{}, err
	}
	if !found {
		return OutgoingTransfer{}, NotFoundError{Entity: "outgoing transfer", Key: fmt.Sprintf("%d", id)}
	}
	return t, nil
}

// SetOutgoingTransferStatus enforces the state machine from spec §4.3
// while moving an OutgoingTransfer to a new status. When to is a
// terminal status, endTime is recorded.
func (db *DB) SetOutgoingTransferStatus(ctx context.Context, id int64, to TransferStatus) error {
	return db.withTx(ctx, func(conn *sqlite.Conn) error {
		t, err := db.outgoingTransferByIDLocked(conn, id)
		if err != nil {
			return err
		}
		if !canTransition(validOutgoingTransitions, t.Status, to) {
			return InvalidTransitionError{From: t.Status, To: to}
		}
		args := []any{int(to)}
		setClause := "status = ?"
		if to == StatusCompleted || to == StatusFailed || to == StatusCancelled {
			setClause += ", end_time = ?"
			args = append(args, time.Now().UTC().Format(time.RFC3339))
		}
		args = append(args, id)
		return sqlitex.Execute(conn, fmt.Sprintf(`UPDATE outgoing_transfers SET %s WHERE id = ?`, setClause),
			&sqlitex.ExecOptions{Args: args})
	})
}

// OutgoingTransfersBySendQueueID returns every OutgoingTransfer batched
// into the given SendQueueItem, for sendqueue.CheckConsumedQueue to
// update once the batch's transfer manager job resolves.
func (db *DB) OutgoingTransfersBySendQueueID(ctx context.Context, sendQueueID int64) ([]OutgoingTransfer, error) {
	var out []OutgoingTransfer
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, file_id, destination_librarian, source_path, dest_path,
			       transfer_size, transfer_checksum, status, start_time, end_time, send_queue_id,
			       success_event_type
			FROM outgoing_transfers WHERE send_queue_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{sendQueueID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, scanOutgoingTransfer(stmt))
					return nil
				},
			})
	})
	return out, err
}

func (db *DB) outgoingTransferByIDLocked(conn *sqlite.Conn, id int64) (OutgoingTransfer, error) {
	var t OutgoingTransfer
	found := false
	err := sqlitex.Execute(conn, `
		SELECT id, file_id, destination_librarian, source_path, dest_path,
		       transfer_size, transfer_checksum, status, start_time, end_time, send_queue_id,
		       success_event_type
		FROM outgoing_transfers WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				t = scanOutgoingTransfer(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return OutgoingTransfer{}, err
	}
	if !found {
		return OutgoingTransfer{}, NotFoundError{Entity: "outgoing transfer", Key: fmt.Sprintf("%d", id)}
	}
	return t, nil
}

func scanOutgoingTransfer(stmt *sqlite.Stmt) OutgoingTransfer {
	startTime, _ := time.Parse(time.RFC3339, stmt.ColumnText(8))
	var endTime time.Time
	if stmt.ColumnType(9) != sqlite.TypeNull {
		endTime, _ = time.Parse(time.RFC3339, stmt.ColumnText(9))
	}
	var sendQueueID int64
	if stmt.ColumnType(10) != sqlite.TypeNull {
		sendQueueID = stmt.ColumnInt64(10)
	}
	var successEventType string
	if stmt.ColumnType(11) != sqlite.TypeNull {
		successEventType = stmt.ColumnText(11)
	}
	return OutgoingTransfer{
		ID:                   stmt.ColumnInt64(0),
		FileID:               stmt.ColumnInt64(1),
		DestinationLibrarian: stmt.ColumnText(2),
		SourcePath:           stmt.ColumnText(3),
		DestPath:             stmt.ColumnText(4),
		TransferSize:         stmt.ColumnInt64(5),
		TransferChecksum:     stmt.ColumnText(6),
		Status:               TransferStatus(stmt.ColumnInt64(7)),
		StartTime:            startTime,
		EndTime:              endTime,
		SendQueueID:          sendQueueID,
		SuccessEventType:     successEventType,
	}
}

// CreateIncomingTransfer inserts a new IncomingTransfer row in the
// ONGOING state, mirroring recieve_clone.py's assumption that an
// IncomingTransfer row is only created once the sender has begun
// pushing bytes.
func (db *DB) CreateIncomingTransfer(ctx context.Context, t IncomingTransfer) (IncomingTransfer, error) {
	t.Status = StatusOngoing
	t.TransferChecksum = strings.ToLower(t.TransferChecksum)
	err := db.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO incoming_transfers
				(upload_name, uploader, source, transfer_size, transfer_checksum,
				 staging_path, store_path, store_id, status, source_transfer_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				t.UploadName, t.Uploader, t.Source, t.TransferSize, t.TransferChecksum,
				t.StagingPath, t.StorePath, t.StoreID, int(t.Status), t.SourceTransferID,
			}})
		if err != nil {
			return err
		}
		t.ID = conn.LastInsertRowID()
		return nil
	})
	return t, err
}

// OngoingIncomingTransfers returns every IncomingTransfer row still
// being reconciled, for incoming.ReceiveClone to poll.
func (db *DB) OngoingIncomingTransfers(ctx context.Context) ([]IncomingTransfer, error) {
	var out []IncomingTransfer
	err := db.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, upload_name, uploader, source, transfer_size, transfer_checksum,
			       staging_path, store_path, store_id, status, end_time, source_transfer_id
			FROM incoming_transfers WHERE status = ?`,
			&sqlitex.ExecOptions{
				Args: []any{int(StatusOngoing)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, scanIncomingTransfer(stmt))
					return nil
				},
			})
	})
	return out, err
}

// SetIncomingTransferStatus enforces the IncomingTransfer state machine.
func (db *DB) SetIncomingTransferStatus(ctx context.Context, id int64, to TransferStatus) error {
	return db.withTx(ctx, func(conn *sqlite.Conn) error {
		var from TransferStatus
		found := false
		err := sqlitex.Execute(conn, `SELECT status FROM incoming_transfers WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					from = TransferStatus(stmt.ColumnInt64(0))
					found = true
					return nil
				},
			})
		if err != nil {
			return err
		}
		if !found {
			return NotFoundError{Entity: "incoming transfer", Key: fmt.Sprintf("%d", id)}
		}
		if !canTransition(validIncomingTransitions, from, to) {
			return InvalidTransitionError{From: from, To: to}
		}
		return sqlitex.Execute(conn, `
			UPDATE incoming_transfers SET status = ?, end_time = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{int(to), time.Now().UTC().Format(time.RFC3339), id}})
	})
}

func scanIncomingTransfer(stmt *sqlite.Stmt) IncomingTransfer {
	var endTime time.Time
	if stmt.ColumnType(10) != sqlite.TypeNull {
		endTime, _ = time.Parse(time.RFC3339, stmt.ColumnText(10))
	}
	return IncomingTransfer{
		ID:               stmt.ColumnInt64(0),
		UploadName:       stmt.ColumnText(1),
		Uploader:         stmt.ColumnText(2),
		Source:           stmt.ColumnText(3),
		TransferSize:     stmt.ColumnInt64(4),
		TransferChecksum: stmt.ColumnText(5),
		StagingPath:      stmt.ColumnText(6),
		StorePath:        stmt.ColumnText(7),
		StoreID:          stmt.ColumnInt64(8),
		Status:           TransferStatus(stmt.ColumnInt64(9)),
		EndTime:          endTime,
		SourceTransferID: stmt.ColumnInt64(11),
	}
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
