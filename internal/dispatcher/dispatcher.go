// Package dispatcher runs the ingestion worker pool and accepts requests for it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/worker"
)

// ErrInvalidRequest rejects requests without an identifier or without a document link or class.
var ErrInvalidRequest = errors.New("ingest request needs an identifier and either a document link or a class")

// ValidRequest reports whether req names the record to ingest.
func ValidRequest(req crawler.IngestRequest) bool {
	return req.Identifier != "" && (req.DocumentLink != "" || req.Class != "")
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	clock   crawler.Clock
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker, clock crawler.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		clock:   clock,
	}
}

// Run starts all workers and blocks until every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}

// Enqueue validates req, stamps the submission time and forwards it to the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, req crawler.IngestRequest) error {
	if !ValidRequest(req) {
		return ErrInvalidRequest
	}
	if req.Submitted.IsZero() && d.clock != nil {
		req.Submitted = d.clock.Now()
	}
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
