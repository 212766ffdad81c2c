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

import "fmt"

// NotFoundError indicates that a row sought by ID or name does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("No %s found for %s", e.Entity, e.Key)
}

// AlreadyExistsError indicates a uniqueness constraint would be violated.
type AlreadyExistsError struct {
	Entity string
	Key    string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("A %s already exists for %s", e.Entity, e.Key)
}

// InvalidTransitionError indicates an attempt to move a transfer's status
// somewhere the state machine in spec §4.3 disallows.
type InvalidTransitionError struct {
	From, To TransferStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("Cannot transition transfer from %s to %s", e.From, e.To)
}
