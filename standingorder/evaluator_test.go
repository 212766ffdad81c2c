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

package standingorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/errorlog"
)

func openTestDB(t *testing.T) *catalog.DB {
	t.Helper()
	db, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEvaluatorQueuesNewlyMatchingFile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	store, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/data", Available: true, Enabled: true})
	require.NoError(t, err)

	file, err := db.CreateFile(ctx, catalog.File{Name: "zen.2459000.12345.HH.uvc", Size: 10, Checksum: "abc"})
	require.NoError(t, err)
	_, err = db.CreateInstance(ctx, catalog.Instance{StoreID: store.ID, FileID: file.ID, Path: "zen/zen.2459000.12345.HH.uvc"})
	require.NoError(t, err)

	_, err = db.CreateStandingOrder(ctx, catalog.StandingOrder{
		Name: "replicate-hh", Search: "recent-and-like:14:%HH.uvc", ConnName: "peer-one",
	})
	require.NoError(t, err)

	eval := &Evaluator{DB: db, ErrorLog: errorlog.New(db, nil)}
	require.NoError(t, eval.Run(ctx))

	transfers, err := db.OutgoingTransfersBySendQueueID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, file.ID, transfers[0].FileID)
	require.Equal(t, "peer-one", transfers[0].DestinationLibrarian)
	require.Equal(t, "standing_order_succeeded:replicate-hh", transfers[0].SuccessEventType)

	// The success event isn't recorded until the transfer is confirmed
	// complete, not at enqueue time.
	has, err := db.HasFileEvent(ctx, file.Name, "standing_order_succeeded:replicate-hh")
	require.NoError(t, err)
	require.False(t, has)
}

func TestEvaluatorSkipsAlreadySucceededFile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	store, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/data", Available: true, Enabled: true})
	require.NoError(t, err)
	file, err := db.CreateFile(ctx, catalog.File{Name: "zen.HH.uvc", Size: 10, Checksum: "abc"})
	require.NoError(t, err)
	_, err = db.CreateInstance(ctx, catalog.Instance{StoreID: store.ID, FileID: file.ID, Path: "zen/zen.HH.uvc"})
	require.NoError(t, err)
	_, err = db.CreateStandingOrder(ctx, catalog.StandingOrder{
		Name: "replicate-hh", Search: "recent-and-like:14:%HH.uvc", ConnName: "peer-one",
	})
	require.NoError(t, err)
	_, err = db.RecordFileEvent(ctx, catalog.FileEvent{FileName: file.Name, Type: "standing_order_succeeded:replicate-hh"})
	require.NoError(t, err)

	eval := &Evaluator{DB: db, ErrorLog: errorlog.New(db, nil)}
	require.NoError(t, eval.Run(ctx))

	unfinished, err := db.ConsumedUnfinishedItems(ctx)
	require.NoError(t, err)
	require.Empty(t, unfinished)
}

func TestEvaluatorSkipsFileWithNoLocalInstance(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.CreateFile(ctx, catalog.File{Name: "zen.HH.uvc", Size: 10, Checksum: "abc"})
	require.NoError(t, err)
	_, err = db.CreateStandingOrder(ctx, catalog.StandingOrder{
		Name: "replicate-hh", Search: "recent-and-like:14:%HH.uvc", ConnName: "peer-one",
	})
	require.NoError(t, err)

	eval := &Evaluator{DB: db, ErrorLog: errorlog.New(db, nil)}
	require.NoError(t, eval.Run(ctx))

	errs, err := db.RecentErrors(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, errs)
}

func TestEvaluatorRespectsMinInterval(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	store, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/data", Available: true, Enabled: true})
	require.NoError(t, err)
	file, err := db.CreateFile(ctx, catalog.File{Name: "zen.HH.uvc", Size: 10, Checksum: "abc"})
	require.NoError(t, err)
	_, err = db.CreateInstance(ctx, catalog.Instance{StoreID: store.ID, FileID: file.ID, Path: "zen/zen.HH.uvc"})
	require.NoError(t, err)
	_, err = db.CreateStandingOrder(ctx, catalog.StandingOrder{
		Name: "replicate-hh", Search: "recent-and-like:14:%HH.uvc", ConnName: "peer-one",
	})
	require.NoError(t, err)

	eval := &Evaluator{DB: db, ErrorLog: errorlog.New(db, nil), MinInterval: time.Hour}
	require.NoError(t, eval.Run(ctx))
	require.NoError(t, eval.Run(ctx))

	// A second sweep inside MinInterval must not re-enqueue or error.
	transfers, err := db.OutgoingTransfersBySendQueueID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, "standing_order_succeeded:replicate-hh", transfers[0].SuccessEventType)
}

func TestEmptyPredicateMatchesNothing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.CreateFile(ctx, catalog.File{Name: "anything.bin", Size: 1, Checksum: "x"})
	require.NoError(t, err)

	files, err := DefaultPredicates().Evaluate(ctx, db, "empty")
	require.NoError(t, err)
	require.Empty(t, files)
}
