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

// Package sendqueue drains the catalog's send_queue: ConsumeQueue kicks
// off outgoing transfers batch by batch, and CheckConsumedQueue
// reconciles the ones already in flight against transfermanager's job
// ledger.
package sendqueue

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kbase/librarian/auth"
	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/errorlog"
	"github.com/kbase/librarian/transfermanager"
)

// jobIDFor derives a stable transfermanager.Ledger key from a
// send_queue row's integer id, so the two stores can cross-reference
// the same batch without the catalog itself needing to speak UUID.
func jobIDFor(sendQueueID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte{
		byte(sendQueueID >> 56), byte(sendQueueID >> 48), byte(sendQueueID >> 40), byte(sendQueueID >> 32),
		byte(sendQueueID >> 24), byte(sendQueueID >> 16), byte(sendQueueID >> 8), byte(sendQueueID),
	})
}

// ConsumeQueue claims and ships send_queue items until the queue is
// drained. It is the Go analogue of
// librarian_background.queues.ConsumeQueue.
type ConsumeQueue struct {
	DB       *catalog.DB
	Mover    transfermanager.Mover
	ErrorLog *errorlog.Log
	// Cipher decrypts a librarian's at-rest API key before it's sent as
	// a bearer token. A nil Cipher passes the stored value through
	// unchanged, for tests that store a plaintext key directly.
	Cipher     *auth.KeyCipher
	MaxRetries int
}

func (t *ConsumeQueue) Name() string { return "consume_queue" }

// Run drains the unconsumed send_queue until it's empty or ctx ends,
// processing each item claimed this invocation at most once. A
// retriable failure resets the item's consumed flag so a later Run
// can reclaim it, but that reset must not make the item reclaimable
// within this same Run. Otherwise a persistently failing batch burns
// every retry in one tick instead of one retry per scheduled tick.
func (t *ConsumeQueue) Run(ctx context.Context) error {
	seen := make(map[int64]bool)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, ok, err := t.DB.ClaimNextUnconsumed(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if seen[item.ID] {
			// Hand the repeat claim back so a later Run can reclaim it.
			return t.DB.ResetSendQueueItemForRetry(ctx, item.ID)
		}
		seen[item.ID] = true
		t.consume(ctx, item)
	}
}

func (t *ConsumeQueue) consume(ctx context.Context, item catalog.SendQueueItem) {
	transfers, err := t.DB.OutgoingTransfersBySendQueueID(ctx, item.ID)
	if err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryTransfer, "listing transfers for send queue item: "+err.Error())
		return
	}

	librarian, err := t.DB.LibrarianByName(ctx, item.Destination)
	if err != nil {
		var notFound catalog.NotFoundError
		if errors.As(err, &notFound) {
			t.ErrorLog.Critical(ctx, catalog.CategoryLibrarianNetworkAvailability,
				"send queue item "+item.Destination+" has no registered librarian; cannot send")
		} else {
			t.ErrorLog.Error(ctx, catalog.CategoryLibrarianNetworkAvailability, err.Error())
		}
		t.retryOrFail(ctx, item)
		return
	}

	apiKey := librarian.APIKey
	if t.Cipher != nil {
		decrypted, err := t.Cipher.Decrypt(apiKey)
		if err != nil {
			t.ErrorLog.Critical(ctx, catalog.CategoryLibrarianNetworkAvailability,
				"could not decrypt API key for "+item.Destination+": "+err.Error())
			t.retryOrFail(ctx, item)
			return
		}
		apiKey = decrypted
	}

	jobID := jobIDFor(item.ID)
	var sendErr error
	for _, transfer := range transfers {
		req := transfermanager.Request{
			TransferID:           transfer.ID,
			SourcePath:           transfer.SourcePath,
			DestinationLibrarian: librarian.Name,
			DestinationURL:       librarian.URL,
			DestinationPath:      transfer.DestPath,
			APIKey:               apiKey,
			Size:                 transfer.TransferSize,
			Checksum:             transfer.TransferChecksum,
		}
		if err := t.Mover.Send(ctx, jobID, req); err != nil {
			sendErr = err
			break
		}
		if err := t.DB.SetOutgoingTransferStatus(ctx, transfer.ID, catalog.StatusOngoing); err != nil {
			t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		}
	}

	if sendErr != nil {
		t.ErrorLog.Warning(ctx, catalog.CategoryLibrarianNetworkAvailability,
			"failed to send batch to "+item.Destination+": "+sendErr.Error())
		t.retryOrFail(ctx, item)
	}
}

func (t *ConsumeQueue) retryOrFail(ctx context.Context, item catalog.SendQueueItem) {
	retries, err := t.DB.IncrementSendQueueItemRetries(ctx, item.ID)
	if err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		return
	}
	if retries > t.MaxRetries {
		if err := t.DB.MarkSendQueueItemFailed(ctx, item.ID); err != nil {
			t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		}
		t.failTransfers(ctx, item.ID)
		return
	}
	if err := t.DB.ResetSendQueueItemForRetry(ctx, item.ID); err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
	}
}

func (t *ConsumeQueue) failTransfers(ctx context.Context, sendQueueID int64) {
	transfers, err := t.DB.OutgoingTransfersBySendQueueID(ctx, sendQueueID)
	if err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		return
	}
	for _, transfer := range transfers {
		if err := t.DB.SetOutgoingTransferStatus(ctx, transfer.ID, catalog.StatusFailed); err != nil {
			t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		}
	}
}
