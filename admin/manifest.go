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

package admin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/frictionlessdata/datapackage-go/datapackage"
	"github.com/frictionlessdata/datapackage-go/validator"

	"github.com/kbase/librarian/catalog"
)

// dataResource mirrors a Frictionless data resource
// (https://specs.frictionlessdata.io/data-resource/) for one file on a
// manifested store.
type dataResource struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
	Hash  string `json:"hash"`
}

// dataPackageDescriptor mirrors a Frictionless data package
// (https://specs.frictionlessdata.io/data-package/) describing every
// resource on a manifested store.
type dataPackageDescriptor struct {
	Name      string         `json:"name"`
	Resources []dataResource `json:"resources"`
}

// StoreManifest lists every File instance on a store. When
// CreateOutgoingTransfers is set it queues each available instance for
// transfer to destination_librarian under one SendQueueItem, and when
// DisableStore is set it disables the store afterwards. These steps
// are separate catalog writes, not one transaction: a transfer that
// fails to be created is logged and its entry carries no transfer ID,
// and the store is still disabled if DisableStore is set.
func (s *Service) StoreManifest(ctx context.Context, req StoreManifestRequest) StoreManifestResponse {
	store, err := s.DB.StoreByName(ctx, req.StoreName)
	if err != nil {
		return StoreManifestResponse{Reason: "no such store " + req.StoreName, SuggestedRemedy: "check store_name"}
	}

	instances, err := s.DB.InstancesForStore(ctx, store.ID)
	if err != nil {
		s.ErrorLog.Error(ctx, catalog.CategoryProgramming, "listing instances for manifest: "+err.Error())
		return StoreManifestResponse{Reason: "internal error", SuggestedRemedy: "retry; contact an operator if this persists"}
	}

	var item catalog.SendQueueItem
	if req.CreateOutgoingTransfers {
		item, err = s.DB.EnqueueSend(ctx, catalog.SendQueueItem{Destination: req.DestinationLibrarian})
		if err != nil {
			s.ErrorLog.Error(ctx, catalog.CategoryTransfer, "queuing manifest transfers: "+err.Error())
			return StoreManifestResponse{Reason: "internal error", SuggestedRemedy: "retry; contact an operator if this persists"}
		}
	}

	entries := make([]ManifestEntry, 0, len(instances))
	for _, inst := range instances {
		file, err := s.DB.FileByID(ctx, inst.FileID)
		if err != nil {
			s.ErrorLog.Error(ctx, catalog.CategoryProgramming, "resolving file for manifest entry: "+err.Error())
			continue
		}

		entry := ManifestEntry{
			Name:               file.Name,
			CreateTime:         file.CreateTime.Format(time.RFC3339),
			Size:               file.Size,
			Checksum:           file.Checksum,
			Uploader:           file.Uploader,
			Source:             file.Source,
			InstancePath:       inst.Path,
			DeletionPolicy:     inst.DeletionPolicy,
			InstanceCreateTime: inst.CreateTime.Format(time.RFC3339),
			InstanceAvailable:  inst.Available,
		}

		if req.CreateOutgoingTransfers && inst.Available {
			transfer, err := s.DB.CreateOutgoingTransfer(ctx, catalog.OutgoingTransfer{
				FileID:               file.ID,
				DestinationLibrarian: req.DestinationLibrarian,
				SourcePath:           inst.Path,
				DestPath:             inst.Path,
				TransferSize:         file.Size,
				TransferChecksum:     file.Checksum,
				SendQueueID:          item.ID,
			})
			if err != nil {
				s.ErrorLog.Error(ctx, catalog.CategoryTransfer, "creating outgoing transfer for "+file.Name+": "+err.Error())
			} else {
				entry.OutgoingTransferID = transfer.ID
			}
		}

		entries = append(entries, entry)
	}

	if req.DisableStore {
		if err := s.DB.SetStoreState(ctx, store.ID, false, store.Available); err != nil {
			s.ErrorLog.Error(ctx, catalog.CategoryProgramming, "disabling store after manifest: "+err.Error())
		}
	}

	resp := StoreManifestResponse{Success: true, StoreName: store.Name, StoreFiles: entries}
	if req.IncludeDataPackage || req.CreateOutgoingTransfers {
		pkg, err := buildDataPackage(store.Name, entries)
		if err != nil {
			s.ErrorLog.Warning(ctx, catalog.CategoryProgramming, "building data package for manifest: "+err.Error())
		} else {
			resp.DataPackageJSON = pkg
		}
	}
	return resp
}

// buildDataPackage renders entries as a Frictionless data package
// descriptor and validates it by round-tripping it through
// datapackage-go, the same library journal.fetchRecords uses to load a
// manifest back out of its ledger.
func buildDataPackage(storeName string, entries []ManifestEntry) ([]byte, error) {
	descriptor := dataPackageDescriptor{Name: storeName, Resources: []dataResource{}}
	for _, e := range entries {
		descriptor.Resources = append(descriptor.Resources, dataResource{
			Name:  e.Name,
			Path:  e.InstancePath,
			Bytes: e.Size,
			Hash:  e.Checksum,
		})
	}

	raw, err := json.Marshal(descriptor)
	if err != nil {
		return nil, err
	}

	if _, err := datapackage.FromString(string(raw), "manifest.json", validator.InMemoryLoader()); err != nil {
		return nil, err
	}
	return raw, nil
}
