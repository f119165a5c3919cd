package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Default processing settings. The send rate matches the provider's
// documented 2 requests/second ceiling.
const (
	DefaultBatchSize = 150
	DefaultSendRate  = rate.Limit(2)
)

// ProcessorConfig contains processor configuration.
type ProcessorConfig struct {
	BatchSize int
	SendRate  rate.Limit
}

// BatchResult summarizes one batch run.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BatchItem is one entry of a bulk enqueue, used for fan-out sends.
type BatchItem struct {
	Kind    Kind
	To      string
	Payload any
	Options EnqueueOptions
}

// Processor drains eligible queue items through the dispatcher. It has two
// invocation modes: the periodic batch sweep and a best-effort immediate
// send for latency-sensitive flows. Dispatch failures are never propagated;
// every outcome is normalized into a status update on the item, making the
// queue itself the durable error log.
type Processor struct {
	repo       Repository
	dispatcher *Dispatcher
	limiter    *rate.Limiter
	batchSize  int
}

// NewProcessor creates a processor. Zero config fields fall back to the
// defaults above.
func NewProcessor(cfg ProcessorConfig, repo Repository, dispatcher *Dispatcher) *Processor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = DefaultSendRate
	}

	return &Processor{
		repo:       repo,
		dispatcher: dispatcher,
		limiter:    rate.NewLimiter(sendRate, 1),
		batchSize:  batchSize,
	}
}

// Enqueue creates one pending item and returns its id.
func (p *Processor) Enqueue(ctx context.Context, kind Kind, to string, payload any, opts EnqueueOptions) (string, error) {
	item, err := NewQueueItem(kind, to, payload, opts)
	if err != nil {
		return "", err
	}
	if err := p.repo.Enqueue(ctx, item); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return item.ID, nil
}

// EnqueueBatch bulk-creates pending items and returns the number created.
func (p *Processor) EnqueueBatch(ctx context.Context, batch []BatchItem) (int64, error) {
	items := make([]*QueueItem, 0, len(batch))
	for _, b := range batch {
		item, err := NewQueueItem(b.Kind, b.To, b.Payload, b.Options)
		if err != nil {
			return 0, err
		}
		items = append(items, item)
	}
	return p.repo.EnqueueBatch(ctx, items)
}

// EnqueueAndSendNow enqueues with high priority and immediately attempts
// delivery. The enqueue outcome decides the returned error: a failed
// immediate send leaves the item correctly queued for the batch sweep, so it
// is reported as success.
func (p *Processor) EnqueueAndSendNow(ctx context.Context, kind Kind, to string, payload any) (string, error) {
	id, err := p.Enqueue(ctx, kind, to, payload, EnqueueOptions{Priority: PriorityHigh})
	if err != nil {
		return "", err
	}

	if err := p.SendNow(ctx, id); err != nil {
		slog.Warn("immediate send failed, item remains queued",
			"item_id", id,
			"kind", kind,
			"error", err,
		)
	}

	return id, nil
}

// SendNow attempts immediate delivery of a single item. Calling it on an
// item that is no longer pending is a no-op success, so double invocations
// are harmless. Only store-level problems surface as errors; dispatch
// failures become a retry-scheduled or failed item.
func (p *Processor) SendNow(ctx context.Context, id string) error {
	item, err := p.repo.MarkProcessing(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotClaimed) {
			return nil
		}
		return err
	}

	p.sendItem(ctx, item)
	return nil
}

// ProcessBatch drains up to batchSize eligible items sequentially. Passing
// batchSize <= 0 uses the configured default. Items are handled in fetch
// order: high priority first, oldest scheduled first.
func (p *Processor) ProcessBatch(ctx context.Context, batchSize int) (BatchResult, error) {
	if batchSize <= 0 {
		batchSize = p.batchSize
	}

	items, err := p.repo.FetchEligible(ctx, batchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("fetch eligible: %w", err)
	}

	if len(items) == 0 {
		return BatchResult{}, nil
	}

	slog.Debug("processing email batch", "count", len(items))
	recordFetched(len(items))

	var result BatchResult
	for _, item := range items {
		claimed, err := p.repo.MarkProcessing(ctx, item.ID)
		if err != nil {
			if errors.Is(err, ErrNotClaimed) || errors.Is(err, ErrItemNotFound) {
				// Another processor got there first.
				continue
			}
			slog.Error("failed to claim item", "item_id", item.ID, "error", err)
			continue
		}

		result.Processed++
		if p.sendItem(ctx, claimed) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	return result, nil
}

// sendItem dispatches one claimed item and records the outcome. Returns
// whether the send succeeded. Status writes run on a context detached from
// cancellation: once an item is claimed, its outcome must reach the store
// even when the caller is shutting down, or the claim is stranded in
// processing forever.
func (p *Processor) sendItem(ctx context.Context, item *QueueItem) bool {
	markCtx := context.WithoutCancel(ctx)

	if err := p.limiter.Wait(ctx); err != nil {
		// Shutdown mid-batch: no send was attempted, so hand the claim back
		// without consuming the attempt.
		if relErr := p.repo.ReleaseClaim(markCtx, item.ID); relErr != nil {
			slog.Error("failed to release claim", "item_id", item.ID, "error", relErr)
		}
		return false
	}

	start := time.Now()
	err := p.dispatch(ctx, item)
	duration := time.Since(start)

	if err != nil {
		p.markFailedOrRetry(markCtx, item, err)
		return false
	}

	if err := p.repo.MarkCompleted(markCtx, item.ID); err != nil {
		slog.Error("failed to mark completed", "item_id", item.ID, "error", err)
	}

	recordSendOutcome(item.Kind, "success")
	recordSendDuration(item.Kind, duration)

	slog.Debug("email sent",
		"item_id", item.ID,
		"kind", item.Kind,
		"duration", duration,
	)
	return true
}

// dispatch invokes the dispatcher, converting a panic during send into an
// ordinary failure so one broken item cannot take down the sweep.
func (p *Processor) dispatch(ctx context.Context, item *QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during send: %v", r)
		}
	}()
	return p.dispatcher.Send(ctx, item.Kind, item.To, item.Payload)
}

// markFailedOrRetry applies the retry policy to a failed attempt: terminal
// failure when the error is non-retryable or attempts are exhausted,
// otherwise back to pending with exponential backoff (4^attempts minutes).
func (p *Processor) markFailedOrRetry(ctx context.Context, item *QueueItem, sendErr error) {
	slog.Warn("email send failed",
		"item_id", item.ID,
		"kind", item.Kind,
		"attempt", item.Attempts,
		"max_attempts", item.MaxAttempts,
		"error", sendErr,
	)

	if !isRetryable(sendErr) || item.Attempts >= item.MaxAttempts {
		if markErr := p.repo.MarkFailed(ctx, item.ID, sendErr); markErr != nil {
			slog.Error("failed to mark failed", "item_id", item.ID, "error", markErr)
		}
		recordSendOutcome(item.Kind, "failed")
		return
	}

	nextAttempt := time.Now().Add(backoffDelay(item.Attempts))
	if markErr := p.repo.MarkRetry(ctx, item.ID, sendErr, nextAttempt); markErr != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", markErr)
	}
	recordSendOutcome(item.Kind, "retry")

	slog.Info("email scheduled for retry",
		"item_id", item.ID,
		"next_attempt", nextAttempt,
	)
}
