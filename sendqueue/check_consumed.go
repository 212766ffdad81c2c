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

package sendqueue

import (
	"context"

	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/errorlog"
	"github.com/kbase/librarian/transfermanager"
)

// CheckConsumedQueue looks at send_queue items that ConsumeQueue has
// already claimed and asks transfermanager's ledger whether their
// transfer jobs have finished. A job that succeeded moves its
// OutgoingTransfer rows to STAGED (the final COMPLETED transition
// happens later, once the destination librarian calls back after
// committing the clone — see incoming.ReceiveClone). A job that failed
// is retried or permanently failed the same way ConsumeQueue does for
// a synchronous send failure. This is the Go analogue of
// librarian_background.queues.CheckConsumedQueue /
// check_on_consumed.
type CheckConsumedQueue struct {
	DB         *catalog.DB
	Ledger     *transfermanager.Ledger
	ErrorLog   *errorlog.Log
	MaxRetries int
}

func (t *CheckConsumedQueue) Name() string { return "check_consumed_queue" }

// Run walks every consumed-but-unfinished send_queue item once.
func (t *CheckConsumedQueue) Run(ctx context.Context) error {
	items, err := t.DB.ConsumedUnfinishedItems(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		t.check(ctx, item)
	}
	return nil
}

func (t *CheckConsumedQueue) check(ctx context.Context, item catalog.SendQueueItem) {
	jobID := jobIDFor(item.ID)
	job, found, err := t.Ledger.Get(jobID)
	if err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		return
	}
	if !found {
		// ConsumeQueue hasn't recorded a job yet, or it was since
		// pruned; nothing to reconcile this tick.
		return
	}

	switch job.State {
	case transfermanager.JobRunning, transfermanager.JobPending:
		// Still in flight; leave it for the next tick.
		return
	case transfermanager.JobSucceeded:
		t.markStaged(ctx, item)
	case transfermanager.JobFailed:
		t.retryOrFail(ctx, item)
	}
}

func (t *CheckConsumedQueue) markStaged(ctx context.Context, item catalog.SendQueueItem) {
	transfers, err := t.DB.OutgoingTransfersBySendQueueID(ctx, item.ID)
	if err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		return
	}
	for _, transfer := range transfers {
		if err := t.DB.SetOutgoingTransferStatus(ctx, transfer.ID, catalog.StatusStaged); err != nil {
			t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		}
	}
	if err := t.DB.MarkSendQueueItemCompleted(ctx, item.ID); err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
	}
}

func (t *CheckConsumedQueue) retryOrFail(ctx context.Context, item catalog.SendQueueItem) {
	retries, err := t.DB.IncrementSendQueueItemRetries(ctx, item.ID)
	if err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		return
	}
	if retries <= t.MaxRetries {
		if err := t.DB.ResetSendQueueItemForRetry(ctx, item.ID); err != nil {
			t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		}
		return
	}

	if err := t.DB.MarkSendQueueItemFailed(ctx, item.ID); err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
	}
	transfers, err := t.DB.OutgoingTransfersBySendQueueID(ctx, item.ID)
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
