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

package standingorder

import (
	"context"
	"sync"
	"time"

	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/errorlog"
)

// DefaultMinInterval is the minimum time between two evaluation sweeps
// across every StandingOrder, regardless of how often Run is called.
const DefaultMinInterval = 5 * time.Minute

// Evaluator sweeps every StandingOrder and queues a copy for each file
// that newly matches it. It is the Go analogue of
// librarian_server.search.StandingOrderManager, rebuilt as an owned
// struct each caller constructs and holds explicitly rather than a
// package-level singleton.
type Evaluator struct {
	DB         *catalog.DB
	ErrorLog   *errorlog.Log
	Predicates Predicates

	// MinInterval gates how often a sweep actually runs; calls to Run
	// between sweeps are no-ops. Zero means DefaultMinInterval.
	MinInterval time.Duration

	mu        sync.Mutex
	lastCheck time.Time
}

func (e *Evaluator) Name() string { return "standing_order_evaluator" }

func (e *Evaluator) minInterval() time.Duration {
	if e.MinInterval > 0 {
		return e.MinInterval
	}
	return DefaultMinInterval
}

func (e *Evaluator) predicates() Predicates {
	if e.Predicates != nil {
		return e.Predicates
	}
	return DefaultPredicates()
}

// Run evaluates every StandingOrder and queues copies for newly
// matching files, unless a sweep ran more recently than MinInterval.
func (e *Evaluator) Run(ctx context.Context) error {
	if !e.shouldRun() {
		return nil
	}

	orders, err := e.DB.StandingOrders(ctx)
	if err != nil {
		return err
	}
	for _, order := range orders {
		e.evaluate(ctx, order)
	}
	return nil
}

func (e *Evaluator) shouldRun() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.lastCheck) < e.minInterval() {
		return false
	}
	e.lastCheck = time.Now()
	return true
}

type pendingCopy struct {
	file     catalog.File
	instance catalog.Instance
}

func (e *Evaluator) evaluate(ctx context.Context, order catalog.StandingOrder) {
	files, err := e.predicates().Evaluate(ctx, e.DB, order.Search)
	if err != nil {
		e.ErrorLog.Error(ctx, catalog.CategoryProgramming,
			"evaluating standing order "+order.Name+": "+err.Error())
		return
	}

	eventType := order.EventType()
	var pending []pendingCopy
	for _, file := range files {
		done, err := e.DB.HasFileEvent(ctx, file.Name, eventType)
		if err != nil {
			e.ErrorLog.Error(ctx, catalog.CategoryProgramming, err.Error())
			continue
		}
		if done {
			continue
		}

		instances, err := e.DB.InstancesForFile(ctx, file.ID)
		if err != nil {
			e.ErrorLog.Error(ctx, catalog.CategoryProgramming, err.Error())
			continue
		}
		if len(instances) == 0 {
			e.ErrorLog.Warning(ctx, catalog.CategoryDataAvailability,
				"standing order "+order.Name+" matched "+file.Name+" but no local instance is available to copy")
			continue
		}
		pending = append(pending, pendingCopy{file: file, instance: instances[0]})
	}
	if len(pending) == 0 {
		return
	}

	item, err := e.DB.EnqueueSend(ctx, catalog.SendQueueItem{Destination: order.ConnName})
	if err != nil {
		e.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
		return
	}

	for _, p := range pending {
		// SuccessEventType carries eventType through to the completion
		// callback, which records it once the copy is actually confirmed.
		// A copy that later fails must remain eligible for a subsequent
		// sweep to retry.
		_, err := e.DB.CreateOutgoingTransfer(ctx, catalog.OutgoingTransfer{
			FileID:               p.file.ID,
			DestinationLibrarian: order.ConnName,
			SourcePath:           p.instance.Path,
			DestPath:             p.instance.Path,
			TransferSize:         p.file.Size,
			TransferChecksum:     p.file.Checksum,
			SendQueueID:          item.ID,
			SuccessEventType:     eventType,
		})
		if err != nil {
			e.ErrorLog.Error(ctx, catalog.CategoryTransfer, err.Error())
			continue
		}
	}
}
