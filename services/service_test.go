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

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/require"

	"github.com/kbase/librarian/admin"
	"github.com/kbase/librarian/auth"
	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/errorlog"
	"github.com/kbase/librarian/scheduler"
	"github.com/kbase/librarian/stores"
)

// newTestKey generates a fresh base64-encoded fernet key for a test.
func newTestKey(t *testing.T) string {
	t.Helper()
	var key fernet.Key
	require.NoError(t, key.Generate())
	return key.Encode()
}

// writeTestAccessFile writes a one-user access token file and returns
// the plaintext admin token recognized by it.
func writeTestAccessFile(t *testing.T, fernetKey string) (path, token string) {
	t.Helper()
	token = "admin-token"
	plaintext := fmt.Sprintf("# Name\tEmail\tToken\tSuper\nAda Lovelace\tada@example.com\t%s\ttrue\n", token)
	key, err := fernet.DecodeKey(fernetKey)
	require.NoError(t, err)
	ciphertext, err := fernet.EncryptAndSign([]byte(plaintext), key)
	require.NoError(t, err)
	path = filepath.Join(t.TempDir(), "access_tokens")
	require.NoError(t, os.WriteFile(path, ciphertext, 0o600))
	return path, token
}

// newTestService assembles a Service backed by an in-memory catalog, a
// single local store, and one registered peer librarian, returning the
// service along with the admin token and the peer's plaintext API key.
func newTestService(t *testing.T) (svc *Service, adminToken, peerKey string) {
	t.Helper()
	ctx := context.Background()

	db, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	storeRoot := t.TempDir()
	_, err = db.CreateStore(ctx, catalog.Store{
		Name: "main", Kind: "local", Root: storeRoot,
		Ingestable: true, Available: true, Enabled: true,
	})
	require.NoError(t, err)

	registry := stores.NewRegistryFromManagers(map[string]stores.Manager{
		"main": fakeManager{free: 1 << 30},
	})

	fernetKey := newTestKey(t)
	accessFile, adminToken := writeTestAccessFile(t, fernetKey)
	authn, err := auth.NewAuthenticator(accessFile, fernetKey)
	require.NoError(t, err)

	cipher, err := auth.NewKeyCipher(fernetKey)
	require.NoError(t, err)

	peerKey = "peer-api-key"
	encryptedKey, err := cipher.Encrypt(peerKey)
	require.NoError(t, err)
	_, err = db.CreateLibrarian(ctx, catalog.Librarian{
		Name: "partner", URL: "https://partner.example.org", APIKey: encryptedKey,
	})
	require.NoError(t, err)

	errLog := errorlog.New(db, nil)
	pool := scheduler.New(nil)

	svc, err = NewService(db, registry, authn, cipher, errLog, pool)
	require.NoError(t, err)
	return svc, adminToken, peerKey
}

// fakeManager is a minimal stores.Manager good enough for routing
// tests that never reach actual store I/O.
type fakeManager struct {
	free int64
}

func (m fakeManager) PathInfo(ctx context.Context, path string) (stores.PathInfo, error) {
	return stores.PathInfo{}, nil
}

func (m fakeManager) Commit(ctx context.Context, stagingPath, destPath string, size int64, checksum string) error {
	return nil
}

func (m fakeManager) Unstage(ctx context.Context, stagingPath string) error {
	return nil
}

func (m fakeManager) FreeSpace(ctx context.Context) (int64, error) {
	return m.free, nil
}

func TestRootEndpointReportsServiceMetadata(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	svc.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp RootResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "librarian", resp.Name)
}

func TestListStoresRequiresAdminToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest("GET", "/api/v2/admin/stores", nil)
	w := httptest.NewRecorder()
	svc.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListStoresWithAdminToken(t *testing.T) {
	svc, adminToken, _ := newTestService(t)

	req := httptest.NewRequest("GET", "/api/v2/admin/stores", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := httptest.NewRecorder()
	svc.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var items []admin.StoreListItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	require.Equal(t, "main", items[0].Name)
}

func TestStoreStateChangeRejectsMissingToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	// A request with no bearer token never reaches the handler.
	req := httptest.NewRequest("POST", "/api/v2/admin/store_state_change", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	svc.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadFileRequiresPeerAuth(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest("POST", "/api/v2/upload/1", bytes.NewReader([]byte("data")))
	w := httptest.NewRecorder()
	svc.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadFileStagesIncomingTransfer(t *testing.T) {
	svc, _, peerKey := newTestService(t)

	body := []byte("hello world")
	req := httptest.NewRequest("POST", "/api/v2/upload/42", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+peerKey)
	req.Header.Set("X-Librarian-Destination-Path", "datasets/hello.txt")
	req.Header.Set("X-Librarian-Checksum", "5eb63bbbe01eeed093cb22bb8f5acdc3")
	req.ContentLength = int64(len(body))
	w := httptest.NewRecorder()
	svc.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	transfers, err := svc.DB.OngoingIncomingTransfers(context.Background())
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, int64(42), transfers[0].SourceTransferID)
	require.Equal(t, "partner", transfers[0].Source)
}

func TestCloneCompleteRequiresPeerAuth(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest("POST", "/api/v2/clone/complete", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	svc.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

// stageOutgoingTransfer creates an OutgoingTransfer and advances it to
// STAGED, the state SetOutgoingTransferStatus requires before a
// clone/complete callback can flip it to COMPLETED.
func stageOutgoingTransfer(t *testing.T, svc *Service, successEventType string) catalog.OutgoingTransfer {
	t.Helper()
	ctx := context.Background()

	file, err := svc.DB.CreateFile(ctx, catalog.File{Name: "clone-complete.bin", Size: 4, Checksum: "deadbeef"})
	require.NoError(t, err)

	transfer, err := svc.DB.CreateOutgoingTransfer(ctx, catalog.OutgoingTransfer{
		FileID: file.ID, DestinationLibrarian: "partner",
		SourcePath: "a/clone-complete.bin", DestPath: "a/clone-complete.bin",
		TransferSize: file.Size, TransferChecksum: file.Checksum,
		SuccessEventType: successEventType,
	})
	require.NoError(t, err)
	require.NoError(t, svc.DB.SetOutgoingTransferStatus(ctx, transfer.ID, catalog.StatusOngoing))
	require.NoError(t, svc.DB.SetOutgoingTransferStatus(ctx, transfer.ID, catalog.StatusStaged))
	return transfer
}

func TestCloneCompleteRecordsRemoteInstanceAndSuccessEvent(t *testing.T) {
	svc, _, peerKey := newTestService(t)
	transfer := stageOutgoingTransfer(t, svc, "standing_order_succeeded:replicate-hh")

	body, err := json.Marshal(map[string]any{"source_transfer_id": transfer.ID})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v2/clone/complete", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+peerKey)
	w := httptest.NewRecorder()
	svc.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	ctx := context.Background()
	updated, err := svc.DB.OutgoingTransferByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.StatusCompleted, updated.Status)

	instances, err := svc.DB.RemoteInstancesForFile(ctx, transfer.FileID)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, "partner", instances[0].LibrarianName)

	has, err := svc.DB.HasFileEvent(ctx, "clone-complete.bin", "standing_order_succeeded:replicate-hh")
	require.NoError(t, err)
	require.True(t, has)
}

func TestCloneCompleteIsIdempotentOnRepeatedCallback(t *testing.T) {
	svc, _, peerKey := newTestService(t)
	transfer := stageOutgoingTransfer(t, svc, "")

	body, err := json.Marshal(map[string]any{"source_transfer_id": transfer.ID})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/v2/clone/complete", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+peerKey)
		w := httptest.NewRecorder()
		svc.Router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "attempt %d", i)
	}

	instances, err := svc.DB.RemoteInstancesForFile(context.Background(), transfer.FileID)
	require.NoError(t, err)
	require.Len(t, instances, 1)
}
