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
	"fmt"

	"github.com/google/uuid"

	"github.com/kbase/librarian/peerclient"
)

// HTTPMover sends a file to a peer librarian over HTTP, via
// peerclient, and tracks the attempt in a Ledger so a crash mid-upload
// is visible on restart rather than silently lost.
type HTTPMover struct {
	ledger *Ledger
}

// NewHTTPMover constructs an HTTPMover backed by ledger.
func NewHTTPMover(ledger *Ledger) *HTTPMover {
	return &HTTPMover{ledger: ledger}
}

// Send uploads the file named by req to the peer librarian at
// req.DestinationURL, recording the attempt's progress in the ledger
// under jobID (normally the originating send_queue row's id).
func (m *HTTPMover) Send(ctx context.Context, jobID uuid.UUID, req Request) error {
	job := Job{
		Id:      jobID,
		Request: req,
		State:   JobRunning,
	}
	if err := m.ledger.Put(jobID, job); err != nil {
		return fmt.Errorf("recording job %s as running: %w", jobID, err)
	}

	client := peerclient.New(req.DestinationURL, req.APIKey)
	err := client.UploadFilePath(ctx, req.SourcePath, peerclient.UploadRequest{
		DestinationPath: req.DestinationPath,
		Size:            req.Size,
		Checksum:        req.Checksum,
		SourceTransfer:  req.TransferID,
	})

	if err != nil {
		job.State = JobFailed
		job.Error = err.Error()
		if putErr := m.ledger.Put(jobID, job); putErr != nil {
			return fmt.Errorf("send to %s failed (%w) and recording the failure also failed: %s", req.DestinationLibrarian, err, putErr)
		}
		return fmt.Errorf("sending %s to %s: %w", req.SourcePath, req.DestinationLibrarian, err)
	}

	job.State = JobSucceeded
	if err := m.ledger.Put(jobID, job); err != nil {
		return fmt.Errorf("recording job %s as succeeded: %w", jobID, err)
	}
	return nil
}
