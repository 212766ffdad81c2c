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

package services

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/kbase/librarian/admin"
)

// decodeJSON reads and unmarshals a JSON request body into req.
func decodeJSON(r *http.Request, req any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, req)
}

// recommendedStore is a plain handler for a RecommendStoreRequest. It
// is not registered on the router: POST /api/v2/admin/recommended_store
// is served by the huma operation that addHumaDocs registers.
func (s *Service) recommendedStore(w http.ResponseWriter, r *http.Request) {
	var req admin.RecommendStoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp := s.Admin.RecommendStore(r.Context(), req)
	data, _ := json.Marshal(resp)
	writeJson(w, data, http.StatusOK)
}

// completeUpload handles POST /api/v2/admin/complete_upload.
func (s *Service) completeUpload(w http.ResponseWriter, r *http.Request) {
	var req admin.CompleteUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp := s.Admin.CompleteUpload(r.Context(), req)
	data, _ := json.Marshal(resp)
	writeJson(w, data, http.StatusOK)
}

// listStores handles GET /api/v2/admin/stores.
func (s *Service) listStores(w http.ResponseWriter, r *http.Request) {
	items, err := s.Admin.ListStores(r.Context())
	if err != nil {
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	data, _ := json.Marshal(items)
	writeJson(w, data, http.StatusOK)
}

// storeManifest handles POST /api/v2/admin/store_manifest.
func (s *Service) storeManifest(w http.ResponseWriter, r *http.Request) {
	var req admin.StoreManifestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp := s.Admin.StoreManifest(r.Context(), req)
	data, _ := json.Marshal(resp)
	writeJson(w, data, http.StatusOK)
}

// storeStateChange handles POST /api/v2/admin/store_state_change. It
// requires a superuser token, since toggling a store touches every
// future admission decision for it.
func (s *Service) storeStateChange(w http.ResponseWriter, r *http.Request) {
	var req admin.StoreStateChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp := s.Admin.StoreStateChange(r.Context(), req)
	data, _ := json.Marshal(resp)
	writeJson(w, data, http.StatusOK)
}

// deleteInstance handles POST /api/v2/admin/delete_instance. It
// requires a superuser token, since it permanently removes catalog
// state for a file's copy.
func (s *Service) deleteInstance(w http.ResponseWriter, r *http.Request) {
	var req admin.DeleteInstanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp := s.Admin.DeleteInstance(r.Context(), req)
	data, _ := json.Marshal(resp)
	writeJson(w, data, http.StatusOK)
}
