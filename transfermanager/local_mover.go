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
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalMover copies files on the local filesystem instead of sending
// them over HTTP. It exists for tests and for a librarian pair that
// happens to share a filesystem (e.g. two librarian processes on the
// same host during development); it is never selected by
// sendqueue.ConsumeQueue in a real deployment, since a peer librarian
// by definition has its own catalog and its own stores.
type LocalMover struct {
	ledger *Ledger
}

// NewLocalMover constructs a LocalMover backed by ledger.
func NewLocalMover(ledger *Ledger) *LocalMover {
	return &LocalMover{ledger: ledger}
}

// Send copies req.SourcePath to req.DestinationPath, treating
// req.DestinationURL as a directory root on the same filesystem.
func (m *LocalMover) Send(ctx context.Context, jobID uuid.UUID, req Request) error {
	job := Job{Id: jobID, Request: req, State: JobRunning}
	if err := m.ledger.Put(jobID, job); err != nil {
		return fmt.Errorf("recording job %s as running: %w", jobID, err)
	}

	dest := filepath.Join(req.DestinationURL, req.DestinationPath)
	if err := m.copy(req.SourcePath, dest); err != nil {
		job.State = JobFailed
		job.Error = err.Error()
		_ = m.ledger.Put(jobID, job)
		return fmt.Errorf("copying %s to %s: %w", req.SourcePath, dest, err)
	}

	job.State = JobSucceeded
	return m.ledger.Put(jobID, job)
}

func (m *LocalMover) copy(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
