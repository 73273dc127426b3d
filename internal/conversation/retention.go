package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/medassist-platform/pkg/logging"
)

// Archiver stores a full conversation before it is deleted.
type Archiver interface {
	ArchiveConversation(ctx context.Context, conv *Conversation) error
}

const retentionBatchSize = 100

// RetentionSweeper archives and deletes ended conversations that have not been
// updated within the retention window.
type RetentionSweeper struct {
	store    Store
	archiver Archiver
	window   time.Duration
	batch    int
	logger   *logging.Logger
	now      func() time.Time
}

func NewRetentionSweeper(store Store, archiver Archiver, retentionDays int, logger *logging.Logger) *RetentionSweeper {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RetentionSweeper{
		store:    store,
		archiver: archiver,
		window:   time.Duration(retentionDays) * 24 * time.Hour,
		batch:    retentionBatchSize,
		logger:   logger,
		now:      time.Now,
	}
}

// Sweep processes one pass and returns how many conversations were removed.
// A conversation whose archive write fails is kept for the next pass, and the
// pass continues past it.
func (r *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.window)
	removed, failed := 0, 0
	var cursor *ExpiredCursor
	for {
		expired, err := r.store.ListExpired(ctx, cutoff, cursor, r.batch)
		if err != nil {
			return removed, fmt.Errorf("conversation: list expired: %w", err)
		}
		for _, conv := range expired {
			if r.archiver != nil {
				if err := r.archiver.ArchiveConversation(ctx, conv); err != nil {
					r.logger.Error("failed to archive conversation", "conversation_id", conv.ID, "error", err)
					failed++
					continue
				}
			}
			if err := r.store.Delete(ctx, conv.ID); err != nil {
				return removed, fmt.Errorf("conversation: delete %s: %w", conv.ID, err)
			}
			removed++
		}
		if len(expired) < r.batch {
			break
		}
		cursor = cursorFor(expired[len(expired)-1])
	}
	if removed > 0 || failed > 0 {
		r.logger.Info("retention sweep finished", "removed", removed, "failed", failed, "cutoff", cutoff)
	}
	return removed, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *RetentionSweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("retention sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
