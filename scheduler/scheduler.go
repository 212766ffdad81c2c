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

// Package scheduler runs a small set of named background tasks on
// independent poll intervals, the way librarian_background's
// ConsumeQueue and CheckConsumedQueue run alongside one another,
// draining and reconciling the catalog without blocking the HTTP
// service.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Task is one unit of periodic work. Run is invoked once per poll
// tick; it should do a bounded amount of work and return rather than
// loop internally, so that Pool.Stop can take effect between ticks.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// entry pairs a Task with its own poll interval and the channels the
// Pool goroutine uses to drive it.
type entry struct {
	task     Task
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// Pool runs a fixed set of Tasks, each on its own ticker, each in its
// own goroutine. Unlike core/task_manager.go's single select loop
// multiplexing several channel types for one task domain, Pool gives
// every Task an independent goroutine, since sendqueue.ConsumeQueue
// and sendqueue.CheckConsumedQueue (for example) have no need to
// share state or serialize with one another.
type Pool struct {
	entries []*entry
	logger  *slog.Logger
}

// New constructs an empty Pool.
func New(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{logger: logger}
}

// Add registers task to run every interval once Start is called. Add
// must be called before Start.
func (p *Pool) Add(task Task, interval time.Duration) {
	p.entries = append(p.entries, &entry{
		task:     task,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	})
}

// Start launches one goroutine per registered Task. It returns
// immediately; call Stop to shut every Task down.
func (p *Pool) Start(ctx context.Context) {
	for _, e := range p.entries {
		go p.run(ctx, e)
	}
}

func (p *Pool) run(ctx context.Context, e *entry) {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.task.Run(ctx); err != nil {
				p.logger.Error(fmt.Sprintf("task %s failed", e.task.Name()), "error", err.Error())
			}
		}
	}
}

// Stop signals every Task to stop after its current tick and blocks
// until all of their goroutines have exited.
func (p *Pool) Stop() {
	for _, e := range p.entries {
		close(e.stop)
	}
	for _, e := range p.entries {
		<-e.done
	}
}
