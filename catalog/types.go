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

// Package catalog implements the relational catalog that backs the
// librarian's transfer coordination core: files, their instances,
// stores, librarians, transfers, and the send queue.
package catalog

import "time"

// DeletionPolicy governs whether an Instance may be purged when its
// store is drained.
type DeletionPolicy int

const (
	DeletionAllowed DeletionPolicy = iota
	DeletionDisallowed
)

func (p DeletionPolicy) String() string {
	if p == DeletionAllowed {
		return "ALLOWED"
	}
	return "DISALLOWED"
}

// TransferStatus is shared by OutgoingTransfer and IncomingTransfer rows.
// Not every status applies to both: IncomingTransfer never reaches
// STAGED or CANCELLED.
type TransferStatus int

const (
	StatusUnknown TransferStatus = iota
	StatusInitiated
	StatusOngoing
	StatusStaged
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s TransferStatus) String() string {
	switch s {
	case StatusInitiated:
		return "INITIATED"
	case StatusOngoing:
		return "ONGOING"
	case StatusStaged:
		return "STAGED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ErrorSeverity classifies an Error row, per spec §7.
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// ErrorCategory classifies the subsystem an Error row pertains to.
type ErrorCategory int

const (
	CategoryLibrarianNetworkAvailability ErrorCategory = iota
	CategoryDataAvailability
	CategoryTransfer
	CategoryProgramming
	CategoryStore
)

// File is a unique, immutable (after creation) piece of content known
// to this librarian's catalog.
type File struct {
	ID         int64
	Name       string
	CreateTime time.Time
	Size       int64
	Checksum   string
	Uploader   string
	Source     string
}

// Instance is a physical copy of a File's bytes on one local Store.
type Instance struct {
	ID             int64
	StoreID        int64
	FileID         int64
	Path           string
	DeletionPolicy DeletionPolicy
	CreateTime     time.Time
	Available      bool
}

// RemoteInstance is a belief that a peer librarian holds a copy of a File.
type RemoteInstance struct {
	ID            int64
	FileID        int64
	LibrarianName string
	CopyTime      time.Time
}

// Store is the catalog's metadata row for one store; the actual byte
// manager living behind it is constructed from Kind by the stores package.
type Store struct {
	ID         int64
	Name       string
	Kind       string // "local", "rsync", or "s3"
	Root       string
	Ingestable bool
	Available  bool
	Enabled    bool
}

// Librarian is a peer node in the federation.
type Librarian struct {
	ID     int64
	Name   string
	URL    string
	APIKey string // fernet-encrypted at rest; see auth package
}

// OutgoingTransfer is a commitment to ship one File's bytes to a peer.
type OutgoingTransfer struct {
	ID                  int64
	FileID              int64
	DestinationLibrarian string
	SourcePath          string
	DestPath            string
	TransferSize        int64
	TransferChecksum    string
	Status              TransferStatus
	StartTime           time.Time
	EndTime             time.Time
	SendQueueID         int64 // 0 means null: weak back-ref, per Design Notes §9
	// SuccessEventType, when set, is the FileEvent type recorded once
	// this transfer reaches COMPLETED. standingorder.Evaluator sets it
	// to the originating StandingOrder's EventType() so the "succeeded"
	// event is recorded on confirmed completion rather than at enqueue
	// time, letting a later failure be retried by the next sweep.
	SuccessEventType string
}

// IncomingTransfer is the destination-side twin of an OutgoingTransfer.
type IncomingTransfer struct {
	ID               int64
	UploadName       string
	Uploader         string
	Source           string
	TransferSize     int64
	TransferChecksum string
	StagingPath      string
	StorePath        string
	StoreID          int64
	Status           TransferStatus
	EndTime          time.Time
	SourceTransferID int64 // the source librarian's OutgoingTransfer.ID, echoed back on callback
}

// SendQueueItem batches one or more OutgoingTransfers bound for the
// same destination librarian.
type SendQueueItem struct {
	ID                   int64
	Priority             int
	CreatedTime          time.Time
	Destination          string
	TransferManagerState string // opaque state stored as given to EnqueueSend; nothing in this module sets it
	Consumed             bool
	ConsumedTime         time.Time
	Completed            bool
	CompletedTime        time.Time
	Retries              int
	Failed               bool
}

// StandingOrder is a saved search + destination rule that auto-replicates
// matching files.
type StandingOrder struct {
	ID       int64
	Name     string
	Search   string
	ConnName string
}

// EventType is the FileEvent type recorded when this order successfully
// copies a file.
func (o StandingOrder) EventType() string {
	return "standing_order_succeeded:" + o.Name
}

// FileEvent is a marker row recording that something happened to a file.
type FileEvent struct {
	ID         int64
	FileName   string
	Type       string
	CreateTime time.Time
}

// ErrorRecord is an append-only audit log entry, per spec §7.
type ErrorRecord struct {
	ID        int64
	Severity  ErrorSeverity
	Category  ErrorCategory
	Message   string
	Timestamp time.Time
}
