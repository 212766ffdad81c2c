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

// Package stores implements the byte-level store managers that sit
// behind a catalog.Store row: given a staged upload, they report what's
// actually on disk, commit it into its final home, and free staged
// bytes once committed.
package stores

import (
	"context"
	"errors"
	"fmt"
)

// ErrAlreadyPresent is returned by Commit when the destination path is
// already occupied by content matching the expected size and checksum,
// letting callers treat a retried upload as a success rather than an
// error (store.py's complete_upload "we already have the intended
// instance" branch).
var ErrAlreadyPresent = errors.New("destination already holds this content")

// PathInfo describes what a Manager actually observes at a path, so
// admin.CompleteUpload can validate it against the client's claimed
// size and checksum before committing.
type PathInfo struct {
	Exists   bool
	Size     int64
	Checksum string // lowercase hex MD5
}

// Manager is implemented by each kind of store backing a catalog.Store
// row ("local", "rsync", "s3"). All paths it accepts are relative to
// the store's root.
type Manager interface {
	// PathInfo reports what's observed at path, or Exists=false if
	// nothing is there.
	PathInfo(ctx context.Context, path string) (PathInfo, error)

	// Commit moves a staged file at stagingPath into its permanent
	// location at destPath, returning ErrAlreadyPresent if destPath
	// already holds matching content.
	Commit(ctx context.Context, stagingPath, destPath string, expectedSize int64, expectedChecksum string) error

	// Unstage removes a staged file once it's no longer needed,
	// whether because it was committed or because reconciliation
	// failed permanently.
	Unstage(ctx context.Context, stagingPath string) error

	// FreeSpace reports the number of bytes available for new content,
	// used by admin.RecommendStore.
	FreeSpace(ctx context.Context) (int64, error)
}

// Kind identifies which concrete Manager a catalog.Store's Kind field
// names.
type Kind string

const (
	KindLocal Kind = "local"
	KindRsync Kind = "rsync"
	KindS3    Kind = "s3"
)

// ErrUnknownKind is returned by New when given a Kind no Manager
// implements.
type ErrUnknownKind struct {
	Kind string
}

func (e ErrUnknownKind) Error() string {
	return fmt.Sprintf("no store manager implements kind %q", e.Kind)
}
