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

package incoming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/errorlog"
	"github.com/kbase/librarian/stores"
)

// fakeManager is a stores.Manager test double whose PathInfo result is
// scripted per test. byPath overrides info for specific paths, so tests
// can give the staging and destination paths different states.
type fakeManager struct {
	info      stores.PathInfo
	byPath    map[string]stores.PathInfo
	commits   int
	unstaged  int
	commitErr error
	pathErr   error
}

func (m *fakeManager) PathInfo(ctx context.Context, path string) (stores.PathInfo, error) {
	if info, ok := m.byPath[path]; ok {
		return info, nil
	}
	return m.info, m.pathErr
}

func (m *fakeManager) Commit(ctx context.Context, stagingPath, destPath string, size int64, checksum string) error {
	m.commits++
	return m.commitErr
}

func (m *fakeManager) Unstage(ctx context.Context, stagingPath string) error {
	m.unstaged++
	return nil
}

func (m *fakeManager) FreeSpace(ctx context.Context) (int64, error) {
	return 1 << 30, nil
}

func openTestDB(t *testing.T) *catalog.DB {
	t.Helper()
	db, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedTransfer(t *testing.T, db *catalog.DB) (catalog.Store, catalog.IncomingTransfer) {
	t.Helper()
	ctx := context.Background()

	store, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/data", Available: true, Enabled: true})
	require.NoError(t, err)

	_, err = db.CreateLibrarian(ctx, catalog.Librarian{Name: "peer-one", URL: "https://peer.example", APIKey: "key"})
	require.NoError(t, err)

	transfer, err := db.CreateIncomingTransfer(ctx, catalog.IncomingTransfer{
		UploadName:       "a.txt",
		Uploader:         "alice",
		Source:           "peer-one",
		TransferSize:     5,
		TransferChecksum: "abc123",
		StagingPath:      "staging/a.txt",
		StorePath:        "ab/a.txt",
		StoreID:          store.ID,
		SourceTransferID: 99,
	})
	require.NoError(t, err)
	return store, transfer
}

func TestReceiveCloneCommitsMatchingUpload(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store, transfer := seedTransfer(t, db)

	manager := &fakeManager{info: stores.PathInfo{Exists: true, Size: 5, Checksum: "abc123"}}
	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{store.Name: manager})

	task := &ReceiveClone{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}
	require.NoError(t, task.Run(ctx))

	require.Equal(t, 1, manager.commits)
	require.Equal(t, 1, manager.unstaged)

	updated, err := db.OngoingIncomingTransfers(ctx)
	require.NoError(t, err)
	require.Empty(t, updated)

	file, err := db.FileByName(ctx, transfer.UploadName)
	require.NoError(t, err)
	require.Equal(t, transfer.TransferChecksum, file.Checksum)

	instances, err := db.InstancesForFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, store.ID, instances[0].StoreID)
}

func TestReceiveCloneWaitsForBytesNotYetStaged(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store, _ := seedTransfer(t, db)

	manager := &fakeManager{info: stores.PathInfo{Exists: false}}
	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{store.Name: manager})

	task := &ReceiveClone{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}
	require.NoError(t, task.Run(ctx))

	require.Zero(t, manager.commits)

	unfinished, err := db.OngoingIncomingTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
}

func TestReceiveCloneWaitsOnChecksumMismatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store, _ := seedTransfer(t, db)

	manager := &fakeManager{info: stores.PathInfo{Exists: true, Size: 3, Checksum: "wrong"}}
	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{store.Name: manager})

	task := &ReceiveClone{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}
	require.NoError(t, task.Run(ctx))

	require.Zero(t, manager.commits)
	unfinished, err := db.OngoingIncomingTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
}

func TestReceiveCloneTreatsAlreadyPresentCommitAsSuccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store, transfer := seedTransfer(t, db)

	manager := &fakeManager{
		info:      stores.PathInfo{Exists: true, Size: 5, Checksum: "abc123"},
		commitErr: stores.ErrAlreadyPresent,
	}
	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{store.Name: manager})

	task := &ReceiveClone{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}
	require.NoError(t, task.Run(ctx))

	require.Equal(t, 1, manager.commits)

	updated, err := db.OngoingIncomingTransfers(ctx)
	require.NoError(t, err)
	require.Empty(t, updated)

	file, err := db.FileByName(ctx, transfer.UploadName)
	require.NoError(t, err)
	instances, err := db.InstancesForFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, instances, 1)
}

// TestReceiveCloneResumesAfterCrashBeforeCompletion covers a reconcile
// that crashed after Commit renamed the staged bytes into place (so
// staging is gone) but before the transfer flipped to COMPLETED. A
// later Run must detect the destination already matches and finish the
// transfer instead of waiting forever.
func TestReceiveCloneResumesAfterCrashBeforeCompletion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store, transfer := seedTransfer(t, db)

	manager := &fakeManager{
		byPath: map[string]stores.PathInfo{
			transfer.StagingPath: {Exists: false},
			transfer.StorePath:   {Exists: true, Size: 5, Checksum: "abc123"},
		},
	}
	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{store.Name: manager})

	task := &ReceiveClone{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}
	require.NoError(t, task.Run(ctx))

	require.Zero(t, manager.commits)

	updated, err := db.OngoingIncomingTransfers(ctx)
	require.NoError(t, err)
	require.Empty(t, updated)

	file, err := db.FileByName(ctx, transfer.UploadName)
	require.NoError(t, err)
	instances, err := db.InstancesForFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, store.ID, instances[0].StoreID)
}

func TestReceiveCloneSkipsUnknownStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, _ = seedTransfer(t, db)

	// No manager registered for "main": reconcile should log and move on
	// without panicking.
	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{})

	task := &ReceiveClone{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}
	require.NoError(t, task.Run(ctx))

	errs, err := db.RecentErrors(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	require.Equal(t, catalog.SeverityCritical, errs[0].Severity)
}
