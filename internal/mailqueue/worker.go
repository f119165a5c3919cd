package mailqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CompletedRetention is how long completed items are kept before the cleanup
// sweep removes them.
const CompletedRetention = 7 * 24 * time.Hour

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	PollInterval    time.Duration
	CleanupInterval time.Duration
	StatsInterval   time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:    15 * time.Second,
		CleanupInterval: 24 * time.Hour,
		StatsInterval:   15 * time.Second,
	}
}

// Worker periodically drains the queue through the processor, runs the
// cleanup sweep and refreshes queue gauges. Items are processed strictly
// sequentially inside one sweep: the provider rate limit is the bottleneck,
// so parallel sends would gain nothing.
type Worker struct {
	config    WorkerConfig
	repo      Repository
	processor *Processor

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a queue worker.
func NewWorker(config WorkerConfig, repo Repository, processor *Processor) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWorkerConfig().PollInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultWorkerConfig().CleanupInterval
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = DefaultWorkerConfig().StatsInterval
	}
	return &Worker{
		config:    config,
		repo:      repo,
		processor: processor,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the worker loops.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting mail queue worker",
		"poll_interval", w.config.PollInterval,
		"cleanup_interval", w.config.CleanupInterval,
	)

	w.wg.Add(3)
	go w.runSweep(ctx)
	go w.runCleanup(ctx)
	go w.runStats(ctx)
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("mail queue worker stopped")
}

func (w *Worker) runSweep(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			result, err := w.processor.ProcessBatch(ctx, 0)
			if err != nil {
				slog.Error("queue sweep failed", "error", err)
				continue
			}
			if result.Processed > 0 {
				slog.Info("queue sweep finished",
					"processed", result.Processed,
					"succeeded", result.Succeeded,
					"failed", result.Failed,
				)
			}
		}
	}
}

func (w *Worker) runCleanup(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			deleted, err := w.repo.Cleanup(ctx, CompletedRetention)
			if err != nil {
				slog.Error("queue cleanup failed", "error", err)
				continue
			}
			recordCleanup(deleted)
			slog.Info("queue cleanup finished", "deleted", deleted)
		}
	}
}

func (w *Worker) runStats(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			stats, err := w.repo.Stats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			RecordQueueStats(stats)
		}
	}
}
