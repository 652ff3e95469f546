package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/realfolio/realfolio/internal/metrics"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/notify"
	"github.com/realfolio/realfolio/internal/queue"
	"gorm.io/gorm"
)

// Options tunes notice delivery.
type Options struct {
	Concurrency  int
	MaxAttempts  int
	AcceptURL    string
	RetryBackoff time.Duration // multiplied by the attempt number
}

// Worker delivers invitation e-mails from the queue
type Worker struct {
	db           *gorm.DB
	queue        queue.Queue
	mailer       notify.Mailer
	logger       *slog.Logger
	acceptURL    string
	maxWorkers   int
	maxAttempts  int
	retryBackoff time.Duration
	semaphore    chan struct{}
	wg           sync.WaitGroup
}

// New creates a new worker instance
func New(db *gorm.DB, q queue.Queue, mailer notify.Mailer, opts Options, logger *slog.Logger) *Worker {
	maxWorkers := opts.Concurrency
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = queue.MaxAttempts
	}
	return &Worker{
		db:           db,
		queue:        q,
		mailer:       mailer,
		logger:       logger,
		acceptURL:    opts.AcceptURL,
		maxWorkers:   maxWorkers,
		maxAttempts:  maxAttempts,
		retryBackoff: opts.RetryBackoff,
		semaphore:    make(chan struct{}, maxWorkers),
	}
}

// Start processes notices until ctx is cancelled or the queue is closed.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Worker started", "max_concurrent_deliveries", w.maxWorkers)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker shutting down, waiting for deliveries to complete")
			w.wg.Wait()
			w.logger.Info("All deliveries completed, worker stopped")
			return ctx.Err()
		default:
			n, err := w.queue.Dequeue(ctx)
			if err != nil {
				// DeadlineExceeded means no notices available (normal timeout), not an error
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				if errors.Is(err, queue.ErrClosed) {
					w.wg.Wait()
					w.logger.Info("Queue closed, worker stopped")
					return nil
				}
				w.logger.Error("Failed to dequeue notice", "error", err)
				time.Sleep(time.Second) // Backoff on real errors
				continue
			}
			if n == nil {
				continue
			}

			// Acquire semaphore slot (blocks if max workers reached)
			select {
			case w.semaphore <- struct{}{}:
				w.wg.Add(1)
				go func(n *queue.InvitationNotice) {
					defer w.wg.Done()
					defer func() { <-w.semaphore }()

					w.deliver(ctx, n)
				}(n)
			case <-ctx.Done():
				w.logger.Info("Context cancelled while waiting for worker slot")
				w.wg.Wait()
				return ctx.Err()
			}
		}
	}
}

func (w *Worker) deliver(ctx context.Context, n *queue.InvitationNotice) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic recovered in deliver", "notice_id", n.ID, "panic", r)
			metrics.Notifications.WithLabelValues("failed").Inc()
		}
	}()

	log := w.logger.With("notice_id", n.ID, "invitation_id", n.InvitationID, "attempt", n.Attempts+1)

	pending, err := w.stillPending(ctx, n)
	if err != nil {
		log.Error("Failed to check invitation status", "error", err)
		w.retry(ctx, n, err)
		return
	}
	if !pending {
		log.Info("Invitation no longer pending, skipping e-mail")
		metrics.Notifications.WithLabelValues("skipped").Inc()
		return
	}

	msg, err := notify.Render(n, w.acceptURL)
	if err != nil {
		// Rendering is deterministic; retrying cannot help
		log.Error("Failed to render invitation e-mail", "error", err)
		metrics.Notifications.WithLabelValues("failed").Inc()
		return
	}

	if err := w.mailer.Send(ctx, msg); err != nil {
		log.Warn("Failed to send invitation e-mail", "error", err)
		w.retry(ctx, n, err)
		return
	}

	log.Info("Invitation e-mail sent", "portfolio_id", n.PortfolioID)
	metrics.Notifications.WithLabelValues("sent").Inc()
}

func (w *Worker) stillPending(ctx context.Context, n *queue.InvitationNotice) (bool, error) {
	var count int64
	err := w.db.WithContext(ctx).Model(&models.InvitationToken{}).
		Where("id = ? AND status = ?", n.InvitationID, models.InvitationPending).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to load invitation: %w", err)
	}
	return count > 0, nil
}

func (w *Worker) retry(ctx context.Context, n *queue.InvitationNotice, cause error) {
	n.Attempts++
	if n.Attempts >= w.maxAttempts {
		w.logger.Error("Giving up on invitation e-mail",
			"notice_id", n.ID, "invitation_id", n.InvitationID, "attempts", n.Attempts, "error", cause)
		metrics.Notifications.WithLabelValues("dropped").Inc()
		return
	}

	if w.retryBackoff > 0 {
		select {
		case <-time.After(time.Duration(n.Attempts) * w.retryBackoff):
		case <-ctx.Done():
		}
	}

	// The notice must survive shutdown so another worker can pick it up
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.Enqueue(enqueueCtx, n); err != nil {
		w.logger.Error("Failed to re-enqueue notice", "notice_id", n.ID, "error", err)
		metrics.Notifications.WithLabelValues("dropped").Inc()
		return
	}
	metrics.Notifications.WithLabelValues("retried").Inc()
}
