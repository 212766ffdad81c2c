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

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingTask struct {
	name  string
	count atomic.Int64
	fail  bool
}

func (t *countingTask) Name() string { return t.name }

func (t *countingTask) Run(ctx context.Context) error {
	t.count.Add(1)
	if t.fail {
		return errTaskFailed
	}
	return nil
}

var errTaskFailed = errRunFailed{}

type errRunFailed struct{}

func (errRunFailed) Error() string { return "task run failed" }

func TestPoolRunsTaskOnInterval(t *testing.T) {
	task := &countingTask{name: "counter"}
	pool := New(nil)
	pool.Add(task, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	pool.Stop()

	require.GreaterOrEqual(t, task.count.Load(), int64(3))
}

func TestPoolContinuesAfterTaskError(t *testing.T) {
	task := &countingTask{name: "failer", fail: true}
	pool := New(nil)
	pool.Add(task, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	pool.Stop()

	require.GreaterOrEqual(t, task.count.Load(), int64(2))
}

func TestPoolStopWaitsForGoroutines(t *testing.T) {
	task := &countingTask{name: "counter"}
	pool := New(nil)
	pool.Add(task, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	pool.Stop()

	countAtStop := task.count.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, countAtStop, task.count.Load())
}
