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

package peerclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUploadFileSendsHeadersAndBody(t *testing.T) {
	var gotAuth, gotDest, gotChecksum, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDest = r.Header.Get("X-Librarian-Destination-Path")
		gotChecksum = r.Header.Get("X-Librarian-Checksum")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(srv.URL, "test-api-key")

	err := client.UploadFile(context.Background(), strings.NewReader("hello world"), UploadRequest{
		DestinationPath: "ab/cd/final.bin",
		Size:            11,
		Checksum:        "5eb63bbbe01eeed093cb22bb8f5acdc3",
		SourceTransfer:  42,
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer test-api-key", gotAuth)
	require.Equal(t, "ab/cd/final.bin", gotDest)
	require.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", gotChecksum)
	require.Equal(t, "hello world", gotBody)
}

func TestUploadFileRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("disk full"))
	}))
	defer srv.Close()

	client := New(srv.URL, "test-api-key")
	err := client.UploadFile(context.Background(), strings.NewReader("x"), UploadRequest{
		SourceTransfer: 7,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
}

func TestNotifyCloneCompleteRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/clone/complete", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	client := New(srv.URL, "test-api-key")
	resp, err := client.NotifyCloneComplete(context.Background(), CloneCompleteRequest{
		SourceTransferID:    42,
		DestinationInstance: 7,
		StoreID:             1,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
}
