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

package transfermanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLocalMoverCopiesFileAndRecordsJob(t *testing.T) {
	ledger := openTestLedger(t)
	mover := NewLocalMover(ledger)

	srcDir := t.TempDir()
	destDir := t.TempDir()

	srcPath := filepath.Join(srcDir, "upload.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0o644))

	jobID := uuid.New()
	req := Request{
		SourcePath:      srcPath,
		DestinationURL:  destDir,
		DestinationPath: "ab/cd/final.bin",
	}
	require.NoError(t, mover.Send(context.Background(), jobID, req))

	content, err := os.ReadFile(filepath.Join(destDir, "ab/cd/final.bin"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(content))

	job, found, err := ledger.Get(jobID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, JobSucceeded, job.State)
}

func TestLocalMoverRecordsFailureOnMissingSource(t *testing.T) {
	ledger := openTestLedger(t)
	mover := NewLocalMover(ledger)

	jobID := uuid.New()
	req := Request{
		SourcePath:      filepath.Join(t.TempDir(), "does-not-exist"),
		DestinationURL:  t.TempDir(),
		DestinationPath: "final.bin",
	}
	err := mover.Send(context.Background(), jobID, req)
	require.Error(t, err)

	job, found, jerr := ledger.Get(jobID)
	require.NoError(t, jerr)
	require.True(t, found)
	require.Equal(t, JobFailed, job.State)
	require.NotEmpty(t, job.Error)
}

func TestHTTPMoverSendsFileAndRecordsJob(t *testing.T) {
	ledger := openTestLedger(t)
	mover := NewHTTPMover(ledger)

	var gotChecksum string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChecksum = r.Header.Get("X-Librarian-Checksum")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	srcPath := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0o644))

	jobID := uuid.New()
	req := Request{
		SourcePath:           srcPath,
		DestinationLibrarian: "peer-one",
		DestinationURL:       srv.URL,
		DestinationPath:      "ab/cd/final.bin",
		APIKey:               "test-key",
		Size:                 7,
		Checksum:             "deadbeefdeadbeefdeadbeefdeadbeef",
	}
	require.NoError(t, mover.Send(context.Background(), jobID, req))
	require.Equal(t, req.Checksum, gotChecksum)

	job, found, err := ledger.Get(jobID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, JobSucceeded, job.State)
}

func TestHTTPMoverRecordsFailureOnRejectedUpload(t *testing.T) {
	ledger := openTestLedger(t)
	mover := NewHTTPMover(ledger)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	srcPath := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0o644))

	jobID := uuid.New()
	req := Request{
		SourcePath:           srcPath,
		DestinationLibrarian: "peer-one",
		DestinationURL:       srv.URL,
		APIKey:               "test-key",
	}
	err := mover.Send(context.Background(), jobID, req)
	require.Error(t, err)

	job, found, jerr := ledger.Get(jobID)
	require.NoError(t, jerr)
	require.True(t, found)
	require.Equal(t, JobFailed, job.State)
}
