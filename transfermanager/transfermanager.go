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

// Package transfermanager drives the actual network handoff of a file's
// bytes from this librarian to a peer's upload endpoint, on behalf of
// sendqueue.ConsumeQueue. Where stores.Manager is concerned with bytes
// already at rest on a local store, transfermanager is concerned with
// getting those bytes onto the wire toward another librarian.
package transfermanager

import (
	"context"

	"github.com/google/uuid"
)

// Request describes one file's worth of work for a Mover.
type Request struct {
	TransferID           int64 // the source librarian's OutgoingTransfer.ID
	SourcePath           string
	DestinationLibrarian string
	DestinationURL       string
	DestinationPath      string
	APIKey               string
	Size                 int64
	Checksum             string // lowercase hex MD5
}

// Mover pushes one file to a peer librarian. Implementations may be
// long-running; Send blocks until the transfer either completes or
// fails, and callers are expected to run it from a worker owned by
// scheduler.Pool rather than inline. jobID identifies the attempt in
// a Ledger, normally the originating send_queue row's id, so that
// progress survives a restart.
type Mover interface {
	Send(ctx context.Context, jobID uuid.UUID, req Request) error
}
