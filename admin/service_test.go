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

package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/errorlog"
	"github.com/kbase/librarian/stores"
)

type fakeManager struct {
	free      int64
	info      stores.PathInfo
	commitErr error
	unstaged  int
}

func (m *fakeManager) PathInfo(ctx context.Context, path string) (stores.PathInfo, error) {
	return m.info, nil
}

func (m *fakeManager) Commit(ctx context.Context, stagingPath, destPath string, size int64, checksum string) error {
	return m.commitErr
}

func (m *fakeManager) Unstage(ctx context.Context, stagingPath string) error {
	m.unstaged++
	return nil
}

func (m *fakeManager) FreeSpace(ctx context.Context) (int64, error) {
	return m.free, nil
}

func openTestDB(t *testing.T) *catalog.DB {
	t.Helper()
	db, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecommendStorePicksMostFreeSpace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.CreateStore(ctx, catalog.Store{Name: "small", Kind: "local", Root: "/a", Ingestable: true, Available: true, Enabled: true})
	require.NoError(t, err)
	_, err = db.CreateStore(ctx, catalog.Store{Name: "big", Kind: "local", Root: "/b", Ingestable: true, Available: true, Enabled: true})
	require.NoError(t, err)

	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{
		"small": &fakeManager{free: 100},
		"big":   &fakeManager{free: 10_000},
	})
	svc := &Service{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}

	resp := svc.RecommendStore(ctx, RecommendStoreRequest{FileSize: 500})
	require.True(t, resp.Success)
	require.Equal(t, "big", resp.Name)
}

func TestRecommendStoreFailsWhenNothingFits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.CreateStore(ctx, catalog.Store{Name: "small", Kind: "local", Root: "/a", Ingestable: true, Available: true, Enabled: true})
	require.NoError(t, err)

	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{"small": &fakeManager{free: 100}})
	svc := &Service{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}

	resp := svc.RecommendStore(ctx, RecommendStoreRequest{FileSize: 1_000_000})
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.Reason)
}

func TestListStoresIncludesDisabledAndUnavailableStores(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/a", Ingestable: true, Available: true, Enabled: true})
	require.NoError(t, err)
	_, err = db.CreateStore(ctx, catalog.Store{Name: "retired", Kind: "local", Root: "/b", Ingestable: true, Available: false, Enabled: false})
	require.NoError(t, err)

	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{"main": &fakeManager{free: 100}})
	svc := &Service{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}

	items, err := svc.ListStores(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byName := map[string]StoreListItem{}
	for _, item := range items {
		byName[item.Name] = item
	}
	require.True(t, byName["main"].Enabled)
	require.True(t, byName["main"].Available)
	require.False(t, byName["retired"].Enabled)
	require.False(t, byName["retired"].Available)
}

func TestCompleteUploadCreatesFileAndInstance(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/data", Available: true, Enabled: true})
	require.NoError(t, err)

	mgr := &fakeManager{info: stores.PathInfo{Exists: true, Size: 42, Checksum: "abc123"}}
	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{"main": mgr})
	svc := &Service{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}

	resp := svc.CompleteUpload(ctx, CompleteUploadRequest{
		StoreName: "main", StagingPath: "upload_42_abc123.staging", DestPath: "zen/zen.HH.uvc",
		Name: "zen.HH.uvc", Size: 42, Checksum: "ABC123", Uploader: "alice", Source: "telescope",
	})
	require.True(t, resp.Success)
	require.False(t, resp.AlreadyExists)

	file, err := db.FileByName(ctx, "zen.HH.uvc")
	require.NoError(t, err)
	inst, err := db.InstanceByStoreAndPath(ctx, store.ID, "zen/zen.HH.uvc")
	require.NoError(t, err)
	require.Equal(t, file.ID, inst.FileID)
}

func TestCompleteUploadIsIdempotentWhenInstanceAlreadyExists(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/data", Available: true, Enabled: true})
	require.NoError(t, err)
	file, err := db.CreateFile(ctx, catalog.File{Name: "zen.HH.uvc", Size: 42, Checksum: "abc123"})
	require.NoError(t, err)
	_, err = db.CreateInstance(ctx, catalog.Instance{StoreID: store.ID, FileID: file.ID, Path: "zen/zen.HH.uvc"})
	require.NoError(t, err)

	mgr := &fakeManager{info: stores.PathInfo{Exists: true, Size: 42, Checksum: "abc123"}}
	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{"main": mgr})
	svc := &Service{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}

	resp := svc.CompleteUpload(ctx, CompleteUploadRequest{
		StoreName: "main", StagingPath: "upload_42_abc123.staging", DestPath: "zen/zen.HH.uvc",
		Name: "zen.HH.uvc", Size: 42, Checksum: "abc123",
	})
	require.True(t, resp.Success)
	require.True(t, resp.AlreadyExists)
	require.Equal(t, 1, mgr.unstaged)
}

func TestCompleteUploadRejectsSizeMismatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/data", Available: true, Enabled: true})
	require.NoError(t, err)

	mgr := &fakeManager{info: stores.PathInfo{Exists: true, Size: 41, Checksum: "abc123"}}
	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{"main": mgr})
	svc := &Service{DB: db, Stores: registry, ErrorLog: errorlog.New(db, nil)}

	resp := svc.CompleteUpload(ctx, CompleteUploadRequest{
		StoreName: "main", StagingPath: "s", DestPath: "d", Name: "n", Size: 42, Checksum: "abc123",
	})
	require.False(t, resp.Success)
}

func TestStoreStateChangeTogglesEnabled(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/data", Available: true, Enabled: true})
	require.NoError(t, err)
	svc := &Service{DB: db, Stores: stores.NewRegistryFromManagers(nil), ErrorLog: errorlog.New(db, nil)}

	resp := svc.StoreStateChange(ctx, StoreStateChangeRequest{StoreName: "main", Enabled: false})
	require.True(t, resp.Success)
	require.False(t, resp.Enabled)

	store, err := db.StoreByName(ctx, "main")
	require.NoError(t, err)
	require.False(t, store.Enabled)
}

func TestDeleteInstanceRejectsUnknownKind(t *testing.T) {
	db := openTestDB(t)
	svc := &Service{DB: db, Stores: stores.NewRegistryFromManagers(nil), ErrorLog: errorlog.New(db, nil)}

	resp := svc.DeleteInstance(context.Background(), DeleteInstanceRequest{InstanceID: 1, Kind: "bogus"})
	require.False(t, resp.Success)
}

func TestDeleteInstanceRemovesLocalInstance(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store, err := db.CreateStore(ctx, catalog.Store{Name: "main", Kind: "local", Root: "/data", Available: true, Enabled: true})
	require.NoError(t, err)
	file, err := db.CreateFile(ctx, catalog.File{Name: "f", Size: 1, Checksum: "x"})
	require.NoError(t, err)
	inst, err := db.CreateInstance(ctx, catalog.Instance{StoreID: store.ID, FileID: file.ID, Path: "f"})
	require.NoError(t, err)

	svc := &Service{DB: db, Stores: stores.NewRegistryFromManagers(nil), ErrorLog: errorlog.New(db, nil)}
	resp := svc.DeleteInstance(ctx, DeleteInstanceRequest{InstanceID: inst.ID, Kind: InstanceLocal})
	require.True(t, resp.Success)

	_, err = db.InstanceByStoreAndPath(ctx, store.ID, "f")
	require.Error(t, err)
}
