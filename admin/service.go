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
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/errorlog"
	"github.com/kbase/librarian/stores"
)

// Service implements the admin/store operations against a catalog and
// the store managers configured for it.
type Service struct {
	DB       *catalog.DB
	Stores   *stores.Registry
	ErrorLog *errorlog.Log
}

// RecommendStore picks the enabled, available store with the most free
// space, failing if even the roomiest store can't hold FileSize. Ties
// are broken deterministically by store name, matching store.py's
// recommended_store loop generalized to a stable iteration order.
func (s *Service) RecommendStore(ctx context.Context, req RecommendStoreRequest) RecommendStoreResponse {
	candidates, err := s.DB.EnabledAvailableStores(ctx)
	if err != nil {
		s.ErrorLog.Error(ctx, catalog.CategoryProgramming, "listing candidate stores: "+err.Error())
		return RecommendStoreResponse{
			Reason:          "internal error listing stores",
			SuggestedRemedy: "retry; contact an operator if this persists",
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })

	var chosen catalog.Store
	mostAvail := int64(-1)
	for _, store := range candidates {
		mgr, ok := s.Stores.Get(store.Name)
		if !ok {
			s.ErrorLog.Warning(ctx, catalog.CategoryProgramming, "no store manager configured for store "+store.Name)
			continue
		}
		free, err := mgr.FreeSpace(ctx)
		if err != nil {
			s.ErrorLog.Error(ctx, catalog.CategoryStore, "checking free space on store "+store.Name+": "+err.Error())
			continue
		}
		if free > mostAvail {
			mostAvail = free
			chosen = store
		}
	}

	if chosen.Name == "" || mostAvail < req.FileSize {
		return RecommendStoreResponse{
			Reason:          "no store available able to hold the requested size",
			SuggestedRemedy: "retry later, or free space on an existing store",
		}
	}
	return RecommendStoreResponse{Success: true, Name: chosen.Name, AvailableBytes: mostAvail}
}

// ListStores reports every configured store's free space and state, for
// an operator survey of store capacity.
func (s *Service) ListStores(ctx context.Context) ([]StoreListItem, error) {
	all, err := s.DB.AllStores(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]StoreListItem, 0, len(all))
	for _, store := range all {
		var free int64
		if mgr, ok := s.Stores.Get(store.Name); ok {
			free, _ = mgr.FreeSpace(ctx)
		}
		items = append(items, StoreListItem{
			Name:       store.Name,
			StoreType:  store.Kind,
			FreeSpace:  free,
			Ingestable: store.Ingestable,
			Available:  store.Available,
			Enabled:    store.Enabled,
		})
	}
	return items, nil
}

// CompleteUpload finalizes a staged upload: it validates the staged
// bytes against the size and checksum the client claims, short-circuits
// if the intended instance already exists (store.py's "we already have
// the intended instance" branch deletes the staged copy and returns
// success), and otherwise commits the staged file into place and
// records the File and Instance rows.
func (s *Service) CompleteUpload(ctx context.Context, req CompleteUploadRequest) CompleteUploadResponse {
	store, err := s.DB.StoreByName(ctx, req.StoreName)
	if err != nil {
		return CompleteUploadResponse{Reason: "no such store " + req.StoreName, SuggestedRemedy: "check store_name"}
	}
	mgr, ok := s.Stores.Get(store.Name)
	if !ok {
		s.ErrorLog.Critical(ctx, catalog.CategoryProgramming, "no store manager configured for store "+store.Name)
		return CompleteUploadResponse{Reason: "store is not configured with a manager", SuggestedRemedy: "contact an operator"}
	}

	info, err := mgr.PathInfo(ctx, req.StagingPath)
	if err != nil {
		s.ErrorLog.Error(ctx, catalog.CategoryDataAvailability, "checking staged upload: "+err.Error())
		return CompleteUploadResponse{Reason: "cannot read staged file", SuggestedRemedy: "retry the upload"}
	}
	if !info.Exists {
		return CompleteUploadResponse{Reason: "staged file not found", SuggestedRemedy: "retry the upload"}
	}
	if info.Size != req.Size {
		return CompleteUploadResponse{
			Reason:          "expected size does not match observed size",
			SuggestedRemedy: "re-upload; the staged file may be truncated",
		}
	}
	if !strings.EqualFold(info.Checksum, req.Checksum) {
		return CompleteUploadResponse{
			Reason:          "expected checksum does not match observed checksum",
			SuggestedRemedy: "re-upload; the staged file may be corrupt",
		}
	}

	if _, err := s.DB.InstanceByStoreAndPath(ctx, store.ID, req.DestPath); err == nil {
		if err := mgr.Unstage(ctx, req.StagingPath); err != nil {
			s.ErrorLog.Warning(ctx, catalog.CategoryStore, "unstaging redundant upload: "+err.Error())
		}
		return CompleteUploadResponse{Success: true, AlreadyExists: true}
	} else if !isNotFound(err) {
		s.ErrorLog.Error(ctx, catalog.CategoryProgramming, "checking for existing instance: "+err.Error())
		return CompleteUploadResponse{Reason: "internal error", SuggestedRemedy: "retry; contact an operator if this persists"}
	}

	err = mgr.Commit(ctx, req.StagingPath, req.DestPath, req.Size, req.Checksum)
	if err != nil && !errors.Is(err, stores.ErrAlreadyPresent) {
		s.ErrorLog.Error(ctx, catalog.CategoryStore, "committing upload to store "+store.Name+": "+err.Error())
		return CompleteUploadResponse{Reason: "store rejected the commit", SuggestedRemedy: "retry; contact an operator if this persists"}
	}

	createTime, parseErr := time.Parse(time.RFC3339, req.CreateTime)
	if parseErr != nil {
		createTime = time.Now().UTC()
	}
	file, err := s.DB.CreateFile(ctx, catalog.File{
		Name: req.Name, CreateTime: createTime, Size: req.Size, Checksum: req.Checksum,
		Uploader: req.Uploader, Source: req.Source,
	})
	if err != nil {
		var exists catalog.AlreadyExistsError
		if errors.As(err, &exists) {
			file, err = s.DB.FileByName(ctx, req.Name)
		}
		if err != nil {
			s.ErrorLog.Error(ctx, catalog.CategoryProgramming, "recording file for completed upload: "+err.Error())
			return CompleteUploadResponse{Reason: "internal error", SuggestedRemedy: "retry; contact an operator if this persists"}
		}
	}

	if _, err := s.DB.CreateInstance(ctx, catalog.Instance{
		StoreID: store.ID, FileID: file.ID, Path: req.DestPath,
		DeletionPolicy: catalog.DeletionDisallowed, Available: true,
	}); err != nil {
		s.ErrorLog.Error(ctx, catalog.CategoryProgramming, "recording instance for completed upload: "+err.Error())
		return CompleteUploadResponse{Reason: "internal error", SuggestedRemedy: "retry; contact an operator if this persists"}
	}

	return CompleteUploadResponse{Success: true}
}

// StoreStateChange flips a store's enabled flag, leaving Available
// untouched.
func (s *Service) StoreStateChange(ctx context.Context, req StoreStateChangeRequest) StoreStateChangeResponse {
	store, err := s.DB.StoreByName(ctx, req.StoreName)
	if err != nil {
		return StoreStateChangeResponse{StoreName: req.StoreName}
	}
	if err := s.DB.SetStoreState(ctx, store.ID, req.Enabled, store.Available); err != nil {
		s.ErrorLog.Error(ctx, catalog.CategoryProgramming, "changing store state: "+err.Error())
		return StoreStateChangeResponse{StoreName: req.StoreName, Enabled: store.Enabled}
	}
	return StoreStateChangeResponse{StoreName: req.StoreName, Enabled: req.Enabled, Success: true}
}

// DeleteInstance removes a local or remote instance row, used to drain
// bad or stale copies from the catalog once their bytes are gone.
func (s *Service) DeleteInstance(ctx context.Context, req DeleteInstanceRequest) DeleteInstanceResponse {
	var err error
	switch req.Kind {
	case InstanceLocal:
		err = s.DB.DeleteInstance(ctx, req.InstanceID)
	case InstanceRemote:
		err = s.DB.DeleteRemoteInstance(ctx, req.InstanceID)
	default:
		return DeleteInstanceResponse{Reason: "unknown instance_type " + string(req.Kind), SuggestedRemedy: `use "local" or "remote"`}
	}
	if err != nil {
		if isNotFound(err) {
			return DeleteInstanceResponse{Reason: "no such instance", SuggestedRemedy: "check instance_id"}
		}
		s.ErrorLog.Error(ctx, catalog.CategoryProgramming, "deleting instance: "+err.Error())
		return DeleteInstanceResponse{Reason: "internal error", SuggestedRemedy: "retry; contact an operator if this persists"}
	}
	return DeleteInstanceResponse{Success: true}
}

func isNotFound(err error) bool {
	var notFound catalog.NotFoundError
	return errors.As(err, &notFound)
}
