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

// Package admin implements the store-admission and store-administration
// operations: recommending a store for a new upload, finalizing a
// staged upload, listing a store's contents as a manifest, flipping a
// store's enabled state, and deleting instances. Every handler returns
// an explicit response with a Success flag rather than a Go error, so
// that callers in services never leak internals to an admin client.
package admin

import "github.com/kbase/librarian/catalog"

// RecommendStoreRequest asks for the best store to hold a new upload of
// the given size.
type RecommendStoreRequest struct {
	FileSize int64 `json:"file_size"`
}

// RecommendStoreResponse names the recommended store and how much space
// it has free, or explains why none was available.
type RecommendStoreResponse struct {
	Success         bool   `json:"success"`
	Name            string `json:"name,omitempty"`
	AvailableBytes  int64  `json:"available_bytes,omitempty"`
	Reason          string `json:"reason,omitempty"`
	SuggestedRemedy string `json:"suggested_remedy,omitempty"`
}

// CompleteUploadRequest reports a staged upload ready to be finalized,
// mirroring store.py's complete_upload arguments.
type CompleteUploadRequest struct {
	StoreName   string `json:"store_name"`
	StagingPath string `json:"staging_path"`
	DestPath    string `json:"dest_path"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"` // lowercase hex MD5, as observed by the client
	Uploader    string `json:"uploader"`
	Source      string `json:"source"`
	CreateTime  string `json:"create_time,omitempty"` // RFC3339; zero value means "now"
}

// CompleteUploadResponse reports the outcome of finalizing an upload.
type CompleteUploadResponse struct {
	Success         bool   `json:"success"`
	AlreadyExists   bool   `json:"already_exists"`
	Reason          string `json:"reason,omitempty"`
	SuggestedRemedy string `json:"suggested_remedy,omitempty"`
}

// StoreListItem describes one configured store, for an operator survey
// of store capacity and state.
type StoreListItem struct {
	Name       string `json:"name"`
	StoreType  string `json:"store_type"`
	FreeSpace  int64  `json:"free_space"`
	Ingestable bool   `json:"ingestable"`
	Available  bool   `json:"available"`
	Enabled    bool   `json:"enabled"`
}

// ManifestEntry describes one File instance on a store, the unit
// returned by StoreManifest.
type ManifestEntry struct {
	Name               string                 `json:"name"`
	CreateTime         string                 `json:"create_time"`
	Size               int64                  `json:"size"`
	Checksum           string                 `json:"checksum"`
	Uploader           string                 `json:"uploader"`
	Source             string                 `json:"source"`
	InstancePath       string                 `json:"instance_path"`
	DeletionPolicy     catalog.DeletionPolicy `json:"deletion_policy"`
	InstanceCreateTime string                 `json:"instance_create_time"`
	InstanceAvailable  bool                   `json:"instance_available"`
	OutgoingTransferID int64                  `json:"outgoing_transfer_id,omitempty"` // 0 if create_outgoing_transfers was false
}

// StoreManifestRequest asks for a listing of everything on a store,
// optionally queuing those files for transfer elsewhere and disabling
// the store once queued.
type StoreManifestRequest struct {
	StoreName               string `json:"store_name"`
	CreateOutgoingTransfers bool   `json:"create_outgoing_transfers"`
	DestinationLibrarian    string `json:"destination_librarian,omitempty"`
	DisableStore            bool   `json:"disable_store"`
	IncludeDataPackage      bool   `json:"include_data_package"`
}

// StoreManifestResponse carries the manifest and, when requested, a
// Frictionless Data Package describing the same file set.
type StoreManifestResponse struct {
	Success         bool            `json:"success"`
	StoreName       string          `json:"store_name"`
	StoreFiles      []ManifestEntry `json:"store_files"`
	DataPackageJSON []byte          `json:"data_package,omitempty"` // non-nil only when IncludeDataPackage or CreateOutgoingTransfers was set
	Reason          string          `json:"reason,omitempty"`
	SuggestedRemedy string          `json:"suggested_remedy,omitempty"`
}

// StoreStateChangeRequest enables or disables a store.
type StoreStateChangeRequest struct {
	StoreName string `json:"store_name"`
	Enabled   bool   `json:"enabled"`
}

// StoreStateChangeResponse reports the store's observed post-change state.
type StoreStateChangeResponse struct {
	StoreName string `json:"store_name"`
	Enabled   bool   `json:"enabled"`
	Success   bool   `json:"success"`
}

// InstanceKind selects which table DeleteInstance operates on.
type InstanceKind string

const (
	InstanceLocal  InstanceKind = "local"
	InstanceRemote InstanceKind = "remote"
)

// DeleteInstanceRequest names the instance to purge from the catalog.
type DeleteInstanceRequest struct {
	InstanceID int64        `json:"instance_id"`
	Kind       InstanceKind `json:"instance_type"`
}

// DeleteInstanceResponse reports whether the delete succeeded.
type DeleteInstanceResponse struct {
	Success         bool   `json:"success"`
	Reason          string `json:"reason,omitempty"`
	SuggestedRemedy string `json:"suggested_remedy,omitempty"`
}
