package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MemoryQueue implements an in-process notice queue
type MemoryQueue struct {
	ch     chan *InvitationNotice
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	slog.Info("Initialized in-memory notice queue", "buffer_size", bufferSize)
	return &MemoryQueue{ch: make(chan *InvitationNotice, bufferSize)}
}

// Enqueue adds a notice to the queue
func (q *MemoryQueue) Enqueue(ctx context.Context, n *InvitationNotice) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	prepare(n)

	select {
	case q.ch <- n:
		slog.Debug("Notice enqueued", "notice_id", n.ID, "invitation_id", n.InvitationID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("queue is full, could not enqueue notice %s", n.ID)
	}
}

// Dequeue retrieves the next notice from the queue
func (q *MemoryQueue) Dequeue(ctx context.Context) (*InvitationNotice, error) {
	select {
	case n, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		slog.Debug("Notice dequeued", "notice_id", n.ID, "invitation_id", n.InvitationID)
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the queue and releases resources
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	slog.Info("Memory queue closed")
	return nil
}
