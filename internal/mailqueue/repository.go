package mailqueue

import (
	"context"
	"time"
)

// Repository defines durable storage for queue items. It holds no delivery
// logic: retry policy and dispatch live in the Processor.
type Repository interface {
	// Enqueue persists a single pending item.
	Enqueue(ctx context.Context, item *QueueItem) error

	// EnqueueBatch persists many pending items in one operation and returns
	// the number created. Used for fan-out sends such as the weekly digest.
	EnqueueBatch(ctx context.Context, items []*QueueItem) (int64, error)

	// GetItem returns the item with the given id, or ErrItemNotFound.
	GetItem(ctx context.Context, id string) (*QueueItem, error)

	// FetchEligible returns up to batchSize items that are pending, due
	// (scheduled_for <= now) and below their attempt ceiling, ordered by
	// priority (high first) then scheduled_for (oldest first).
	FetchEligible(ctx context.Context, batchSize int) ([]*QueueItem, error)

	// MarkProcessing atomically claims a pending item: it transitions
	// pending->processing and increments attempts in one conditional update,
	// returning the claimed item. Returns ErrNotClaimed if the item exists
	// but is no longer pending, so overlapping processors cannot double-send.
	MarkProcessing(ctx context.Context, id string) (*QueueItem, error)

	// ReleaseClaim undoes MarkProcessing without consuming an attempt:
	// processing->pending with attempts decremented, scheduled_for and
	// last_error untouched. Used when a claim is abandoned before any send
	// was attempted. Releasing an item that is not processing is a no-op.
	ReleaseClaim(ctx context.Context, id string) error

	// MarkCompleted transitions processing->completed and sets processed_at.
	// Returns ErrInvalidState when the item holds no claim.
	MarkCompleted(ctx context.Context, id string) error

	// MarkRetry returns a failed attempt to pending with the given next
	// attempt time and records the error text. Returns ErrInvalidState when
	// the item holds no claim.
	MarkRetry(ctx context.Context, id string, sendErr error, nextAttempt time.Time) error

	// MarkFailed transitions a processing item to the terminal failed
	// status, leaving scheduled_for untouched. Returns ErrInvalidState when
	// the item holds no claim.
	MarkFailed(ctx context.Context, id string, sendErr error) error

	// Retry resets a failed item for reprocessing: attempts back to zero,
	// status pending, scheduled_for now, last error cleared. Returns
	// ErrItemNotFound or ErrInvalidState when the item is not failed.
	Retry(ctx context.Context, id string) error

	// Stats returns counts by status plus completed/failed counts within the
	// trailing 24 hours.
	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup deletes completed items whose processed_at is older than the
	// given age and returns the number deleted.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}
