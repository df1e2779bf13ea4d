package uploader

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper is the maintenance surface driven by CleanupWorker
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
	SweepOrphans(ctx context.Context) (int, error)
}

type CleanupWorker struct {
	sweeper       Sweeper
	interval      time.Duration
	syncInterval  time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	cleanupTicker *time.Ticker
	syncTicker    *time.Ticker
}

func NewCleanupWorker(sweeper Sweeper, interval time.Duration) *CleanupWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupWorker{
		sweeper:      sweeper,
		interval:     interval,
		syncInterval: time.Hour * 6, // Orphan sweep every 6 hours
		done:         make(chan struct{}),
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	// Perform initial cleanup
	w.performInitialCleanup(ctx)

	// Start tickers
	w.cleanupTicker = time.NewTicker(w.interval)
	w.syncTicker = time.NewTicker(w.syncInterval)

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Dur("interval", w.interval).
		Dur("sync_interval", w.syncInterval).
		Msg("started cleanup worker")
}

// Stop halts the tickers and waits for an in-flight sweep to finish
func (w *CleanupWorker) Stop() {
	w.stopOnce.Do(func() {
		if w.cleanupTicker != nil {
			w.cleanupTicker.Stop()
		}
		if w.syncTicker != nil {
			w.syncTicker.Stop()
		}
		close(w.done)
		w.wg.Wait()
		log.Info().Msg("cleanup worker stopped")
	})
}

func (w *CleanupWorker) performInitialCleanup(ctx context.Context) {
	log.Info().Msg("performing initial cleanup")
	w.sweepExpired(ctx)
	w.sweepOrphans(ctx)
}

func (w *CleanupWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("context cancelled, cleanup worker shutting down")
			return
		case <-w.done:
			return
		case <-w.cleanupTicker.C:
			w.sweepExpired(ctx)
		case <-w.syncTicker.C:
			w.sweepOrphans(ctx)
		}
	}
}

func (w *CleanupWorker) sweepExpired(ctx context.Context) {
	if _, err := w.sweeper.SweepExpired(ctx); err != nil {
		log.Error().
			Err(err).
			Msg("error sweeping expired upload sessions")
	}
}

func (w *CleanupWorker) sweepOrphans(ctx context.Context) {
	if _, err := w.sweeper.SweepOrphans(ctx); err != nil {
		log.Error().
			Err(err).
			Msg("error sweeping orphaned chunks")
	}
}
