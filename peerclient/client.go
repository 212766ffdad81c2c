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

// Package peerclient talks to other librarians over HTTP: pushing file
// bytes to a peer's upload endpoint and calling back to a source
// librarian once a clone has landed.
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultTimeout = 2 * time.Hour

// Client is a thin, per-peer HTTP client. One Client talks to exactly
// one peer librarian, identified by baseURL, authenticating with
// apiKey as a bearer token.
type Client struct {
	baseURL string
	apiKey  string
	http    http.Client
}

// New constructs a Client for the peer librarian reachable at baseURL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    secureHTTPClient(defaultTimeout),
	}
}

// UploadRequest names the destination of an UploadFile call.
type UploadRequest struct {
	DestinationPath string
	Size            int64
	Checksum        string // lowercase hex MD5
	SourceTransfer  int64  // the sender's OutgoingTransfer.ID, echoed back on callback
}

// UploadFile streams the contents of src to the peer's upload
// endpoint, identified by the transfer that initiated it. The peer is
// expected to reply 200 OK once the bytes are staged on its end; the
// transfer itself is reconciled asynchronously by the peer's own
// incoming-transfer processing, mirroring how a source librarian
// cannot itself observe when a peer finishes committing a file.
func (c *Client) UploadFile(ctx context.Context, src io.Reader, req UploadRequest) error {
	url := fmt.Sprintf("%s/api/v2/upload/%d", c.baseURL, req.SourceTransfer)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, src)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("X-Librarian-Destination-Path", req.DestinationPath)
	httpReq.Header.Set("X-Librarian-Checksum", req.Checksum)
	httpReq.ContentLength = req.Size

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("uploading to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("peer %s rejected upload with status %d: %s", c.baseURL, resp.StatusCode, body)
	}
	return nil
}

// UploadFilePath is a convenience wrapper around UploadFile that opens
// path itself.
func (c *Client) UploadFilePath(ctx context.Context, path string, req UploadRequest) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for upload: %w", path, err)
	}
	defer f.Close()
	return c.UploadFile(ctx, f, req)
}

// CloneCompleteRequest is posted back to the source librarian once a
// clone has landed and been committed to a store, so the source can
// mark its own outgoing transfer COMPLETED.
type CloneCompleteRequest struct {
	SourceTransferID    int64 `json:"source_transfer_id"`
	DestinationInstance int64 `json:"destination_instance_id"`
	StoreID             int64 `json:"store_id"`
}

// CloneCompleteResponse is the source librarian's reply to a
// CloneCompleteRequest.
type CloneCompleteResponse struct {
	Success bool `json:"success"`
}

// NotifyCloneComplete posts req to the peer's "clone/complete"
// endpoint.
func (c *Client) NotifyCloneComplete(ctx context.Context, req CloneCompleteRequest) (CloneCompleteResponse, error) {
	var out CloneCompleteResponse

	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("marshaling clone/complete request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/clone/complete", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("building clone/complete request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("calling back to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return out, fmt.Errorf("peer %s rejected clone/complete callback with status %d: %s", c.baseURL, resp.StatusCode, respBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding clone/complete response: %w", err)
	}
	return out, nil
}
