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

// Package incoming reconciles transfers arriving from peer librarians:
// once a staged upload's bytes match what the sender promised, it gets
// committed to its store, turned into a catalog File/Instance, and
// acknowledged back to the sender.
package incoming

import (
	"context"
	"errors"
	"strings"

	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/errorlog"
	"github.com/kbase/librarian/peerclient"
	"github.com/kbase/librarian/stores"
)

// ReceiveClone is the destination-side twin of sendqueue.ConsumeQueue.
// It is the Go analogue of
// librarian_background.recieve_clone.RecieveClone.
type ReceiveClone struct {
	DB       *catalog.DB
	Stores   *stores.Registry
	ErrorLog *errorlog.Log
}

func (t *ReceiveClone) Name() string { return "receive_clone" }

// Run checks every ONGOING IncomingTransfer to see whether its staged
// bytes have arrived.
func (t *ReceiveClone) Run(ctx context.Context) error {
	transfers, err := t.DB.OngoingIncomingTransfers(ctx)
	if err != nil {
		return err
	}
	for _, transfer := range transfers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		t.reconcile(ctx, transfer)
	}
	return nil
}

func (t *ReceiveClone) reconcile(ctx context.Context, transfer catalog.IncomingTransfer) {
	store, err := t.DB.StoreByID(ctx, transfer.StoreID)
	if err != nil {
		t.ErrorLog.Critical(ctx, catalog.CategoryProgramming,
			"incoming transfer has no associated store; skipping")
		return
	}

	manager, ok := t.Stores.Get(store.Name)
	if !ok {
		t.ErrorLog.Critical(ctx, catalog.CategoryProgramming,
			"no store manager configured for store "+store.Name)
		return
	}

	info, err := manager.PathInfo(ctx, transfer.StagingPath)
	if err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryDataAvailability,
			"checking staging path for incoming transfer: "+err.Error())
		return
	}
	if !info.Exists {
		// The staged bytes may already have been committed by a prior
		// reconcile that crashed before flipping the transfer to
		// COMPLETED, which removes the staging copy as part of
		// Commit. Check the destination before assuming the upload
		// simply hasn't arrived yet.
		destInfo, destErr := manager.PathInfo(ctx, transfer.StorePath)
		if destErr == nil && destInfo.Exists && destInfo.Size == transfer.TransferSize &&
			strings.EqualFold(destInfo.Checksum, transfer.TransferChecksum) {
			t.finish(ctx, transfer, store, manager)
			return
		}
		// Bytes haven't arrived yet; try again next tick.
		return
	}
	if !strings.EqualFold(info.Checksum, transfer.TransferChecksum) || info.Size != transfer.TransferSize {
		// Still arriving, or a mismatch that might resolve once the
		// upload finishes; leave it for the next tick rather than
		// failing eagerly on a partial write.
		return
	}

	err = manager.Commit(ctx, transfer.StagingPath, transfer.StorePath, transfer.TransferSize, transfer.TransferChecksum)
	if err != nil && !errors.Is(err, stores.ErrAlreadyPresent) {
		t.ErrorLog.Error(ctx, catalog.CategoryStore,
			"committing incoming transfer to store "+store.Name+": "+err.Error())
		return
	}

	t.finish(ctx, transfer, store, manager)
}

// finish records the File/Instance for a committed (or
// already-committed) incoming transfer, flips it to COMPLETED, calls
// back to the source librarian, and unstages any leftover staged copy.
// ErrAlreadyPresent from Commit is the same idempotent-commit success
// signal admin.CompleteUpload treats as success, so this path covers
// both a fresh commit and a resumed one.
func (t *ReceiveClone) finish(ctx context.Context, transfer catalog.IncomingTransfer, store catalog.Store, manager stores.Manager) {
	file, err := t.DB.CreateFile(ctx, catalog.File{
		Name:     transfer.UploadName,
		Size:     transfer.TransferSize,
		Checksum: transfer.TransferChecksum,
		Uploader: transfer.Uploader,
		Source:   transfer.Source,
	})
	if err != nil {
		var exists catalog.AlreadyExistsError
		if errors.As(err, &exists) {
			// A prior finish already created the File (and possibly the
			// Instance) before crashing; resume from there instead of
			// failing a second time.
			file, err = t.DB.FileByName(ctx, transfer.UploadName)
		}
		if err != nil {
			t.ErrorLog.Error(ctx, catalog.CategoryProgramming, "creating file for incoming transfer: "+err.Error())
			return
		}
	}

	instance, err := t.DB.InstanceByStoreAndPath(ctx, store.ID, transfer.StorePath)
	if err != nil {
		instance, err = t.DB.CreateInstance(ctx, catalog.Instance{
			StoreID:        store.ID,
			FileID:         file.ID,
			Path:           transfer.StorePath,
			DeletionPolicy: catalog.DeletionDisallowed,
			Available:      true,
		})
		if err != nil {
			t.ErrorLog.Error(ctx, catalog.CategoryProgramming, "creating instance for incoming transfer: "+err.Error())
			return
		}
	}

	if err := t.DB.SetIncomingTransferStatus(ctx, transfer.ID, catalog.StatusCompleted); err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryProgramming, err.Error())
	}

	t.callBack(ctx, transfer, store, instance)

	if err := manager.Unstage(ctx, transfer.StagingPath); err != nil {
		t.ErrorLog.Warning(ctx, catalog.CategoryStore, "unstaging completed transfer: "+err.Error())
	}
}

func (t *ReceiveClone) callBack(ctx context.Context, transfer catalog.IncomingTransfer, store catalog.Store, instance catalog.Instance) {
	librarian, err := t.DB.LibrarianByName(ctx, transfer.Source)
	if err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryLibrarianNetworkAvailability,
			"incoming transfer has no source librarian "+transfer.Source+"; cannot callback")
		return
	}

	client := peerclient.New(librarian.URL, librarian.APIKey)
	_, err = client.NotifyCloneComplete(ctx, peerclient.CloneCompleteRequest{
		SourceTransferID:    transfer.SourceTransferID,
		DestinationInstance: instance.ID,
		StoreID:             store.ID,
	})
	if err != nil {
		t.ErrorLog.Error(ctx, catalog.CategoryLibrarianNetworkAvailability,
			"calling back to librarian "+librarian.Name+": "+err.Error())
	}
}
