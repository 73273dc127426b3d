package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/medassist-platform/internal/config"
	"github.com/wolfman30/medassist-platform/internal/conversation"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

// Worker is the assembled background process: the SQS review consumer and
// the retention sweeper.
type Worker struct {
	Reviews   *conversation.ReviewWorker
	Retention *conversation.RetentionSweeper

	closers []func()
}

// Close releases the connections opened by BuildWorker.
func (w *Worker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
	w.closers = nil
}

// BuildWorker wires the review consumer and retention sweeper. The in-memory
// queue cannot cross processes, so USE_MEMORY_QUEUE is rejected here.
func BuildWorker(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if cfg.UseMemoryQueue {
		return nil, fmt.Errorf("bootstrap: worker requires SQS; unset USE_MEMORY_QUEUE")
	}
	if logger == nil {
		logger = logging.Default()
	}

	queue, err := BuildReviewQueue(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	w := &Worker{}
	store, pool, err := BuildConversationStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		w.closers = append(w.closers, pool.Close)
	}

	w.Reviews = conversation.NewReviewWorker(queue, BuildReviewNotifier(cfg, awsCfg, logger), logger.Component("review-worker"),
		conversation.WithWorkerCount(cfg.WorkerCount),
	)
	w.Retention = conversation.NewRetentionSweeper(store, BuildArchiver(cfg, awsCfg, logger), cfg.RetentionDays, logger.Component("retention"))
	return w, nil
}
