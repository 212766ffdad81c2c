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

package catalog

// schemaVersion is bumped whenever createTables changes in a way that
// requires a migration. We don't yet carry any migrations past the
// initial schema, so schemaVersion is simply asserted against
// PRAGMA user_version on Open.
const schemaVersion = 1

const createTables = `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	create_time TEXT NOT NULL,
	size INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	uploader TEXT NOT NULL,
	source TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stores (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	kind TEXT NOT NULL,
	root TEXT NOT NULL,
	ingestable INTEGER NOT NULL DEFAULT 1,
	available INTEGER NOT NULL DEFAULT 1,
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS instances (
	id INTEGER PRIMARY KEY,
	store_id INTEGER NOT NULL REFERENCES stores(id),
	file_id INTEGER NOT NULL REFERENCES files(id),
	path TEXT NOT NULL,
	deletion_policy INTEGER NOT NULL,
	create_time TEXT NOT NULL,
	available INTEGER NOT NULL DEFAULT 1,
	UNIQUE(store_id, path)
);

CREATE TABLE IF NOT EXISTS remote_instances (
	id INTEGER PRIMARY KEY,
	file_id INTEGER NOT NULL REFERENCES files(id),
	librarian_name TEXT NOT NULL,
	copy_time TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS librarians (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	url TEXT NOT NULL,
	api_key TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS outgoing_transfers (
	id INTEGER PRIMARY KEY,
	file_id INTEGER NOT NULL REFERENCES files(id),
	destination_librarian TEXT NOT NULL,
	source_path TEXT NOT NULL,
	dest_path TEXT NOT NULL,
	transfer_size INTEGER NOT NULL,
	transfer_checksum TEXT NOT NULL,
	status INTEGER NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT,
	send_queue_id INTEGER,
	success_event_type TEXT
);

CREATE INDEX IF NOT EXISTS idx_outgoing_transfers_send_queue_id
	ON outgoing_transfers(send_queue_id);

CREATE TABLE IF NOT EXISTS incoming_transfers (
	id INTEGER PRIMARY KEY,
	upload_name TEXT NOT NULL,
	uploader TEXT NOT NULL,
	source TEXT NOT NULL,
	transfer_size INTEGER NOT NULL,
	transfer_checksum TEXT NOT NULL,
	staging_path TEXT NOT NULL,
	store_path TEXT NOT NULL,
	store_id INTEGER NOT NULL,
	status INTEGER NOT NULL,
	end_time TEXT,
	source_transfer_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS send_queue (
	id INTEGER PRIMARY KEY,
	priority INTEGER NOT NULL DEFAULT 0,
	created_time TEXT NOT NULL,
	destination TEXT NOT NULL,
	transfer_manager_state TEXT NOT NULL DEFAULT '',
	consumed INTEGER NOT NULL DEFAULT 0,
	consumed_time TEXT,
	completed INTEGER NOT NULL DEFAULT 0,
	completed_time TEXT,
	retries INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_send_queue_unconsumed
	ON send_queue(consumed, completed, priority, created_time);

CREATE TABLE IF NOT EXISTS standing_orders (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	search TEXT NOT NULL,
	conn_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_events (
	id INTEGER PRIMARY KEY,
	file_name TEXT NOT NULL,
	type TEXT NOT NULL,
	create_time TEXT NOT NULL,
	UNIQUE(file_name, type)
);

CREATE TABLE IF NOT EXISTS errors (
	id INTEGER PRIMARY KEY,
	severity INTEGER NOT NULL,
	category INTEGER NOT NULL,
	message TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
`
