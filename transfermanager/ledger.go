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

package transfermanager

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var jobsBucket = []byte("jobs")

// JobState is the lifecycle state of a tracked Send call.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Job records one outstanding or recently-finished Send call, so that a
// crash mid-transfer doesn't lose track of which files were in flight.
// A Job's Id corresponds to a catalog send_queue row, letting
// sendqueue.CheckConsumedQueue cross-reference the two.
type Job struct {
	Id        uuid.UUID
	Request   Request
	State     JobState
	Error     string
	StartTime time.Time
	EndTime   time.Time
}

// Ledger persists Jobs across restarts using a bbolt file, the same
// embedded store used for journal/journal.go's transfer journal.
type Ledger struct {
	db *bolt.DB
}

// OpenLedger opens (creating if necessary) the ledger file at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening transfer ledger %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing transfer ledger buckets: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying bbolt file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Put inserts or overwrites the job record for id.
func (l *Ledger) Put(id uuid.UUID, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", id, err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Put([]byte(id.String()), encoded)
	})
}

// Get retrieves the job record for id, returning found=false if no such
// record exists.
func (l *Ledger) Get(id uuid.UUID) (job Job, found bool, err error) {
	err = l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(jobsBucket).Get([]byte(id.String()))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &job)
	})
	return job, found, err
}

// Unfinished returns every job whose State is Pending or Running, used
// on startup to resume or at least report transfers that were in
// flight when the process last stopped.
func (l *Ledger) Unfinished() ([]Job, error) {
	var jobs []Job
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(k, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.State == JobPending || job.State == JobRunning {
				jobs = append(jobs, job)
			}
			return nil
		})
	})
	return jobs, err
}

// Delete removes the job record for id, used once a send_queue item has
// been marked completed or permanently failed in the catalog and no
// longer needs ledger tracking.
func (l *Ledger) Delete(id uuid.UUID) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Delete([]byte(id.String()))
	})
}
