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
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndFetchFile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	f, err := db.CreateFile(ctx, File{
		Name:     "wombat.tar.gz",
		Size:     1024,
		Checksum: "ABCDEF0123456789",
		Uploader: "alice",
		Source:   "upload",
	})
	require.NoError(t, err)
	require.NotZero(t, f.ID)
	require.Equal(t, "abcdef0123456789", f.Checksum, "checksum should be normalized to lowercase")

	got, err := db.FileByName(ctx, "wombat.tar.gz")
	require.NoError(t, err)
	require.Equal(t, f.ID, got.ID)

	_, err = db.FileByName(ctx, "missing")
	require.ErrorAs(t, err, &NotFoundError{})
}

func TestCreateFileDuplicateName(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.CreateFile(ctx, File{Name: "dup.txt", Checksum: "aa"})
	require.NoError(t, err)

	_, err = db.CreateFile(ctx, File{Name: "dup.txt", Checksum: "bb"})
	require.ErrorAs(t, err, &AlreadyExistsError{})
}

func TestInstanceLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	f, err := db.CreateFile(ctx, File{Name: "file.bin", Checksum: "cc"})
	require.NoError(t, err)
	s, err := db.CreateStore(ctx, Store{Name: "local1", Kind: "local", Root: "/data", Ingestable: true, Available: true, Enabled: true})
	require.NoError(t, err)

	inst, err := db.CreateInstance(ctx, Instance{StoreID: s.ID, FileID: f.ID, Path: "ab/file.bin", Available: true})
	require.NoError(t, err)

	instances, err := db.InstancesForFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, inst.ID, instances[0].ID)

	found, err := db.InstanceByStoreAndPath(ctx, s.ID, "ab/file.bin")
	require.NoError(t, err)
	require.Equal(t, inst.ID, found.ID)

	require.NoError(t, db.DeleteInstance(ctx, inst.ID))
	err = db.DeleteInstance(ctx, inst.ID)
	require.ErrorAs(t, err, &NotFoundError{})
}

func TestOutgoingTransferStateMachine(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	f, err := db.CreateFile(ctx, File{Name: "transfer-me.bin", Checksum: "dd"})
	require.NoError(t, err)

	xfer, err := db.CreateOutgoingTransfer(ctx, OutgoingTransfer{
		FileID:               f.ID,
		DestinationLibrarian: "peer-1",
		SourcePath:           "/data/transfer-me.bin",
		DestPath:             "incoming/transfer-me.bin",
		TransferSize:         42,
		TransferChecksum:     "DEADBEEF",
	})
	require.NoError(t, err)
	require.Equal(t, StatusInitiated, xfer.Status)

	require.NoError(t, db.SetOutgoingTransferStatus(ctx, xfer.ID, StatusOngoing))
	require.NoError(t, db.SetOutgoingTransferStatus(ctx, xfer.ID, StatusStaged))
	require.NoError(t, db.SetOutgoingTransferStatus(ctx, xfer.ID, StatusCompleted))

	got, err := db.OutgoingTransferByID(ctx, xfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.False(t, got.EndTime.IsZero())

	// Completed is terminal: no further transition is legal.
	err = db.SetOutgoingTransferStatus(ctx, xfer.ID, StatusOngoing)
	require.ErrorAs(t, err, &InvalidTransitionError{})
}

func TestIncomingTransferNeverVisitsStagedOrCancelled(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	in, err := db.CreateIncomingTransfer(ctx, IncomingTransfer{
		UploadName:       "incoming.bin",
		Uploader:         "peer-2",
		Source:           "peer-2",
		TransferSize:     10,
		TransferChecksum: "FEEDFACE",
		StagingPath:      "/staging/incoming.bin",
		StorePath:        "/data/incoming.bin",
		StoreID:          1,
	})
	require.NoError(t, err)
	require.Equal(t, StatusOngoing, in.Status)

	err = db.SetIncomingTransferStatus(ctx, in.ID, StatusStaged)
	require.ErrorAs(t, err, &InvalidTransitionError{})

	require.NoError(t, db.SetIncomingTransferStatus(ctx, in.ID, StatusCompleted))
}

func TestSendQueueClaimIsExclusive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	item, err := db.EnqueueSend(ctx, SendQueueItem{Destination: "peer-3"})
	require.NoError(t, err)

	claimed, ok, err := db.ClaimNextUnconsumed(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, item.ID, claimed.ID)
	require.True(t, claimed.Consumed)

	// No second item is left to claim.
	_, ok, err = db.ClaimNextUnconsumed(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	unfinished, err := db.ConsumedUnfinishedItems(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)

	require.NoError(t, db.MarkSendQueueItemCompleted(ctx, item.ID))
	unfinished, err = db.ConsumedUnfinishedItems(ctx)
	require.NoError(t, err)
	require.Empty(t, unfinished)
}

func TestSendQueueRetriesAndFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	item, err := db.EnqueueSend(ctx, SendQueueItem{Destination: "peer-4"})
	require.NoError(t, err)

	retries, err := db.IncrementSendQueueItemRetries(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 1, retries)

	require.NoError(t, db.MarkSendQueueItemFailed(ctx, item.ID))

	_, ok, err := db.ClaimNextUnconsumed(ctx)
	require.NoError(t, err)
	require.False(t, ok, "a failed item must not be claimable")
}

func TestStandingOrderFileEventDedup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	order, err := db.CreateStandingOrder(ctx, StandingOrder{Name: "copy-wombats", Search: "recent-and-like:7:wombat%", ConnName: "peer-5"})
	require.NoError(t, err)
	require.Equal(t, "standing_order_succeeded:copy-wombats", order.EventType())

	has, err := db.HasFileEvent(ctx, "wombat.tar.gz", order.EventType())
	require.NoError(t, err)
	require.False(t, has)

	_, err = db.RecordFileEvent(ctx, FileEvent{FileName: "wombat.tar.gz", Type: order.EventType()})
	require.NoError(t, err)
	// Recording twice is a no-op, not an error.
	_, err = db.RecordFileEvent(ctx, FileEvent{FileName: "wombat.tar.gz", Type: order.EventType()})
	require.NoError(t, err)

	has, err = db.HasFileEvent(ctx, "wombat.tar.gz", order.EventType())
	require.NoError(t, err)
	require.True(t, has)
}

func TestLibrarianLookupMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.LibrarianByName(ctx, "nonexistent")
	require.ErrorAs(t, err, &NotFoundError{})

	l, err := db.CreateLibrarian(ctx, Librarian{Name: "peer-6", URL: "https://peer-6.example.org"})
	require.NoError(t, err)

	got, err := db.LibrarianByName(ctx, "peer-6")
	require.NoError(t, err)
	require.Equal(t, l.ID, got.ID)
}

func TestErrorLog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.RecordError(ctx, ErrorRecord{
		Severity: SeverityCritical,
		Category: CategoryLibrarianNetworkAvailability,
		Message:  "peer librarian peer-6 is unreachable",
	})
	require.NoError(t, err)

	recent, err := db.RecentErrors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, SeverityCritical, recent[0].Severity)
}
