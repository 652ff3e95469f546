package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/models"
)

// ErrClosed is returned by Dequeue once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// MaxAttempts bounds delivery retries of a notice.
const MaxAttempts = 3

// InvitationNotice asks the worker to e-mail an invitation. It carries the
// raw token because only its hash is persisted.
type InvitationNotice struct {
	ID            uuid.UUID   `json:"id"`
	InvitationID  uuid.UUID   `json:"invitation_id"`
	PortfolioID   uuid.UUID   `json:"portfolio_id"`
	PortfolioName string      `json:"portfolio_name"`
	Email         string      `json:"email"`
	Role          models.Role `json:"role"`
	InvitedBy     string      `json:"invited_by"`
	Token         string      `json:"token"`
	ExpiresAt     time.Time   `json:"expires_at"`
	Attempts      int         `json:"attempts"`
	EnqueuedAt    time.Time   `json:"enqueued_at"`
}

// Queue transports invitation notices from the API to the worker.
type Queue interface {
	// Enqueue adds a notice to the queue
	Enqueue(ctx context.Context, n *InvitationNotice) error

	// Dequeue blocks until a notice is available. It returns
	// context.DeadlineExceeded when a poll times out without work.
	Dequeue(ctx context.Context) (*InvitationNotice, error)

	// Close closes the queue and releases resources
	Close() error
}

func prepare(n *InvitationNotice) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.EnqueuedAt.IsZero() {
		n.EnqueuedAt = time.Now().UTC()
	}
}
