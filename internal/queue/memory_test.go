package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()
	ctx := context.Background()

	first := &InvitationNotice{InvitationID: uuid.New(), Email: "bob@example.com"}
	second := &InvitationNotice{InvitationID: uuid.New(), Email: "carol@example.com"}
	for _, n := range []*InvitationNotice{first, second} {
		if err := q.Enqueue(ctx, n); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if first.ID == uuid.Nil || first.EnqueuedAt.IsZero() {
		t.Error("Enqueue should assign an id and timestamp")
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.InvitationID != first.InvitationID {
		t.Errorf("dequeued %s, want %s", got.Email, first.Email)
	}
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dequeue error = %v, want deadline exceeded", err)
	}
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := q.Enqueue(context.Background(), &InvitationNotice{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after close = %v, want ErrClosed", err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Dequeue after close = %v, want ErrClosed", err)
	}
}
