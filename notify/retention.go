/*
retention.go - Purge of read notifications

PURPOSE:
  Periodically deletes read notifications whose read_at is older than the
  retention period. Unread notifications are never purged.

DESIGN:
  - One background goroutine with a ticker, started and stopped by main
  - Runs once immediately on start, then every Interval
  - Stops on Stop() or when the context passed to Start is cancelled
  - Failures are logged and retried on the next tick

USAGE:
  worker := NewRetentionWorker(store, clock, logger)
  worker.Start(ctx)
  // ... later
  worker.Stop()
*/
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/movimientos/ledger"
)

// RetentionWorker deletes old read notifications in the background.
type RetentionWorker struct {
	Store     Store
	Retention time.Duration
	Interval  time.Duration

	clock  ledger.Clock
	logger *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewRetentionWorker(store Store, clock ledger.Clock, logger *zap.Logger) *RetentionWorker {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionWorker{
		Store:     store,
		Retention: 90 * 24 * time.Hour,
		Interval:  24 * time.Hour,
		clock:     clock,
		logger:    logger,
	}
}

// Start launches the loop. Calling Start on a running worker is a no-op.
func (w *RetentionWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ticker != nil {
		return
	}
	w.ticker = time.NewTicker(w.Interval)
	w.stop = make(chan struct{})
	w.wg.Add(1)

	go w.run(ctx, w.ticker, w.stop)

	w.logger.Info("retention worker started",
		zap.Duration("interval", w.Interval),
		zap.Duration("retention", w.Retention),
	)
}

// Stop ends the loop and waits for an in-flight sweep.
func (w *RetentionWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ticker == nil {
		return
	}
	w.ticker.Stop()
	close(w.stop)
	w.wg.Wait()
	w.ticker = nil
	w.logger.Info("retention worker stopped")
}

func (w *RetentionWorker) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer w.wg.Done()

	w.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			w.RunNow(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one sweep and returns the number of deleted rows.
func (w *RetentionWorker) RunNow(ctx context.Context) int64 {
	cutoff := w.clock.Now().Add(-w.Retention)

	deleted, err := w.Store.PurgeReadNotifications(ctx, cutoff)
	if err != nil {
		w.logger.Error("notification retention failed", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		w.logger.Info("purged read notifications",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted
}
