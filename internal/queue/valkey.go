package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"
)

// DefaultValkeyKey is the list that holds pending notices.
const DefaultValkeyKey = "realfolio:invitation-notices"

// ValkeyQueue implements a distributed notice queue on a Valkey list, so the
// API and the worker can run as separate processes.
type ValkeyQueue struct {
	client valkey.Client
	key    string
}

// NewValkeyQueue creates a new Valkey-backed queue
func NewValkeyQueue(addr string) (*ValkeyQueue, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pingCmd := client.B().Ping().Build()
	if err := client.Do(ctx, pingCmd).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Valkey: %w", err)
	}

	q := &ValkeyQueue{client: client, key: DefaultValkeyKey}
	slog.Info("Initialized Valkey notice queue", "address", addr, "queue_key", q.key)
	return q, nil
}

// Enqueue pushes the encoded notice onto the list (RPUSH for FIFO)
func (q *ValkeyQueue) Enqueue(ctx context.Context, n *InvitationNotice) error {
	prepare(n)

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	cmd := q.client.B().Rpush().Key(q.key).Element(string(data)).Build()
	if err := q.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to push notice to Valkey: %w", err)
	}

	slog.Debug("Notice enqueued", "notice_id", n.ID, "queue_key", q.key)
	return nil
}

// Dequeue pops the next notice, blocking for up to five seconds
func (q *ValkeyQueue) Dequeue(ctx context.Context) (*InvitationNotice, error) {
	cmd := q.client.B().Blpop().Key(q.key).Timeout(5).Build()
	values, err := q.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// BLPOP timed out with an empty list
		if valkey.IsValkeyNil(err) {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("failed to pop notice from Valkey: %w", err)
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("invalid BLPOP result: expected 2 values, got %d", len(values))
	}

	var n InvitationNotice
	if err := json.Unmarshal([]byte(values[1]), &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notice: %w", err)
	}

	slog.Debug("Notice dequeued", "notice_id", n.ID, "invitation_id", n.InvitationID)
	return &n, nil
}

// Close closes the Valkey connection
func (q *ValkeyQueue) Close() error {
	q.client.Close()
	slog.Info("Valkey queue closed")
	return nil
}
