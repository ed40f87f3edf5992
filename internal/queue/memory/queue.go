// Package memory provides a bounded in-process ingestion queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

// ErrQueueClosed is returned by Dequeue after Close once the buffer is drained.
var ErrQueueClosed = crawler.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations. The buffer channel is
// never closed; Close signals through done so a racing Enqueue cannot panic.
type Queue struct {
	ch        chan crawler.IngestRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue holding up to capacity pending requests.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan crawler.IngestRequest, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a request, blocking while the queue is full until ctx ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, req crawler.IngestRequest) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next request, respecting context cancellation. Requests still buffered
// at Close are drained before ErrQueueClosed is returned.
func (q *Queue) Dequeue(ctx context.Context) (crawler.IngestRequest, error) {
	select {
	case req := <-q.ch:
		return req, nil
	default:
	}
	select {
	case <-ctx.Done():
		return crawler.IngestRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req := <-q.ch:
		return req, nil
	case <-q.done:
		select {
		case req := <-q.ch:
			return req, nil
		default:
			return crawler.IngestRequest{}, ErrQueueClosed
		}
	}
}

// Len reports the number of pending requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting requests; it is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
