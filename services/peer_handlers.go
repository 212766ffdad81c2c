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
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kbase/librarian/admin"
	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/peerclient"
)

// uploadFile handles POST /api/v2/upload/{id}, the receiving side of
// transfermanager.HTTPMover.Send: a peer librarian streams a file's
// bytes here, naming its destination path and checksum in headers. The
// bytes are staged on whichever local store admin.RecommendStore
// picks, and an IncomingTransfer row is recorded for
// incoming.ReceiveClone to reconcile once the staged bytes can be
// verified against the claimed size and checksum.
func (s *Service) uploadFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sourceTransferID, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeError(w, "invalid transfer id", http.StatusBadRequest)
		return
	}

	librarian, _ := librarianFromContext(r.Context())

	destPath := r.Header.Get("X-Librarian-Destination-Path")
	checksum := r.Header.Get("X-Librarian-Checksum")
	if destPath == "" || checksum == "" {
		writeError(w, "missing destination path or checksum header", http.StatusBadRequest)
		return
	}
	size := r.ContentLength
	if size <= 0 {
		writeError(w, "missing or invalid Content-Length", http.StatusBadRequest)
		return
	}

	rec := s.Admin.RecommendStore(r.Context(), admin.RecommendStoreRequest{FileSize: size})
	if !rec.Success {
		writeError(w, rec.Reason, http.StatusInsufficientStorage)
		return
	}
	store, err := s.DB.StoreByName(r.Context(), rec.Name)
	if err != nil {
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	stagingPath := filepath.Join("incoming", fmt.Sprintf("%d-%s", sourceTransferID, filepath.Base(destPath)))
	absPath := filepath.Join(store.Root, stagingPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		s.ErrorLog.Error(r.Context(), catalog.CategoryStore, "staging incoming upload: "+err.Error())
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	out, err := os.Create(absPath)
	if err != nil {
		s.ErrorLog.Error(r.Context(), catalog.CategoryStore, "staging incoming upload: "+err.Error())
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, r.Body); err != nil {
		s.ErrorLog.Error(r.Context(), catalog.CategoryStore, "receiving incoming upload: "+err.Error())
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	if _, err := s.DB.CreateIncomingTransfer(r.Context(), catalog.IncomingTransfer{
		UploadName:       filepath.Base(destPath),
		Uploader:         librarian.Name,
		Source:           librarian.Name,
		TransferSize:     size,
		TransferChecksum: checksum,
		StagingPath:      stagingPath,
		StorePath:        destPath,
		StoreID:          store.ID,
		SourceTransferID: sourceTransferID,
	}); err != nil {
		s.ErrorLog.Error(r.Context(), catalog.CategoryProgramming, "recording incoming transfer: "+err.Error())
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// cloneComplete handles POST /api/v2/clone/complete, the callback
// incoming.ReceiveClone posts once a clone has landed and been
// committed, so this (source) librarian can mark its own
// OutgoingTransfer COMPLETED and record that the calling peer now
// holds a copy of the File.
func (s *Service) cloneComplete(w http.ResponseWriter, r *http.Request) {
	var req peerclient.CloneCompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	transfer, err := s.DB.OutgoingTransferByID(r.Context(), req.SourceTransferID)
	if err != nil {
		var notFound catalog.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, "no such outgoing transfer", http.StatusNotFound)
			return
		}
		s.ErrorLog.Error(r.Context(), catalog.CategoryProgramming, "looking up outgoing transfer: "+err.Error())
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := s.DB.SetOutgoingTransferStatus(r.Context(), req.SourceTransferID, catalog.StatusCompleted); err != nil {
		var invalid catalog.InvalidTransitionError
		alreadyCompleted := errors.As(err, &invalid) && transfer.Status == catalog.StatusCompleted
		if !alreadyCompleted {
			s.ErrorLog.Error(r.Context(), catalog.CategoryProgramming, "completing outgoing transfer: "+err.Error())
			writeError(w, "internal error", http.StatusInternalServerError)
			return
		}
		// Already COMPLETED from an earlier, identical callback; a
		// repeated CloneCompleteRequest is an idempotent no-op rather
		// than an error.
	} else {
		librarian, _ := librarianFromContext(r.Context())
		if _, err := s.DB.CreateRemoteInstance(r.Context(), catalog.RemoteInstance{
			FileID:        transfer.FileID,
			LibrarianName: librarian.Name,
		}); err != nil {
			s.ErrorLog.Error(r.Context(), catalog.CategoryProgramming, "recording remote instance: "+err.Error())
		}
		if transfer.SuccessEventType != "" {
			if file, err := s.DB.FileByID(r.Context(), transfer.FileID); err != nil {
				s.ErrorLog.Error(r.Context(), catalog.CategoryProgramming, "looking up file for success event: "+err.Error())
			} else if _, err := s.DB.RecordFileEvent(r.Context(), catalog.FileEvent{
				FileName: file.Name, Type: transfer.SuccessEventType,
			}); err != nil {
				s.ErrorLog.Error(r.Context(), catalog.CategoryProgramming, "recording success event: "+err.Error())
			}
		}
	}

	data, _ := json.Marshal(peerclient.CloneCompleteResponse{Success: true})
	writeJson(w, data, http.StatusOK)
}
