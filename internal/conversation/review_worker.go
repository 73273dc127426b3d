package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/medassist-platform/pkg/logging"
)

// ErrNotificationUndeliverable is returned by a ReviewNotifier when no retry
// can succeed. The worker drops the event instead of waiting for redelivery.
var ErrNotificationUndeliverable = errors.New("conversation: review notification undeliverable")

// ReviewNotifier tells clinicians that a reply is waiting for review.
type ReviewNotifier interface {
	NotifyReviewPending(ctx context.Context, evt ReviewEvent) error
}

// ReviewWorker consumes review events and hands them to the notifier.
// Messages whose notification fails stay on the queue for redelivery.
type ReviewWorker struct {
	queue    ReviewQueue
	notifier ReviewNotifier
	logger   *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount   = 1
	defaultWaitSeconds   = 10
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	notifyTimeout        = 30 * time.Second
)

type WorkerOption func(*workerConfig)

func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

func NewReviewWorker(queue ReviewQueue, notifier ReviewNotifier, logger *logging.Logger, opts ...WorkerOption) *ReviewWorker {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if notifier == nil {
		panic("conversation: notifier cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ReviewWorker{queue: queue, notifier: notifier, logger: logger, cfg: cfg}
}

// Start launches the consumer goroutines. They stop when ctx is cancelled.
func (w *ReviewWorker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

func (w *ReviewWorker) Wait() {
	w.wg.Wait()
}

func (w *ReviewWorker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("review worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("review worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive review events", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *ReviewWorker) handleMessage(ctx context.Context, msg QueueMessage) {
	evt, err := decodeReviewEvent(msg.Body)
	if err != nil {
		// Undecodable bodies never succeed; drop them.
		w.logger.Error("discarding malformed review event", "error", err, "message_id", msg.ID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := w.notifier.NotifyReviewPending(notifyCtx, evt); err != nil {
		if errors.Is(err, ErrNotificationUndeliverable) {
			w.logger.Error("dropping undeliverable review notification",
				"error", err,
				"event_id", evt.EventID,
				"conversation_id", evt.ConversationID,
			)
			w.deleteMessage(ctx, msg.ReceiptHandle)
			return
		}
		w.logger.Error("review notification failed",
			"error", err,
			"event_id", evt.EventID,
			"conversation_id", evt.ConversationID,
		)
		return
	}
	w.logger.Info("review notification sent", "event_id", evt.EventID, "conversation_id", evt.ConversationID)
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *ReviewWorker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete review event", "error", err)
	}
}
