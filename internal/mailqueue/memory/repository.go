// Package memory provides an in-memory implementation of the mail queue
// repository, used by unit tests and token-less local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tmttn/wishbubble-sub001/internal/mailqueue"
)

// Repository implements mailqueue.Repository with a mutex-guarded map.
type Repository struct {
	mu    sync.Mutex
	items map[string]*mailqueue.QueueItem
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		items: make(map[string]*mailqueue.QueueItem),
	}
}

// Enqueue persists a single pending item.
func (r *Repository) Enqueue(_ context.Context, item *mailqueue.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stored := *item
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.items[stored.ID] = &stored

	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

// EnqueueBatch persists many pending items in one operation.
func (r *Repository) EnqueueBatch(ctx context.Context, items []*mailqueue.QueueItem) (int64, error) {
	for _, item := range items {
		if err := r.Enqueue(ctx, item); err != nil {
			return 0, err
		}
	}
	return int64(len(items)), nil
}

// GetItem returns a copy of the item with the given id.
func (r *Repository) GetItem(_ context.Context, id string) (*mailqueue.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return nil, mailqueue.ErrItemNotFound
	}
	copied := *item
	return &copied, nil
}

// FetchEligible returns due pending items ordered by priority then age.
func (r *Repository) FetchEligible(_ context.Context, batchSize int) ([]*mailqueue.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	eligible := make([]*mailqueue.QueueItem, 0)
	for _, item := range r.items {
		if item.Status != mailqueue.StatusPending {
			continue
		}
		if item.ScheduledFor.After(now) {
			continue
		}
		if item.Attempts >= item.MaxAttempts {
			continue
		}
		copied := *item
		eligible = append(eligible, &copied)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority.Rank() != eligible[j].Priority.Rank() {
			return eligible[i].Priority.Rank() < eligible[j].Priority.Rank()
		}
		return eligible[i].ScheduledFor.Before(eligible[j].ScheduledFor)
	})

	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}
	return eligible, nil
}

// MarkProcessing claims a pending item, incrementing attempts.
func (r *Repository) MarkProcessing(_ context.Context, id string) (*mailqueue.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return nil, mailqueue.ErrItemNotFound
	}
	if item.Status != mailqueue.StatusPending {
		return nil, mailqueue.ErrNotClaimed
	}

	item.Status = mailqueue.StatusProcessing
	item.Attempts++
	item.UpdatedAt = time.Now()

	copied := *item
	return &copied, nil
}

// ReleaseClaim returns an abandoned claim to pending, undoing the attempt
// increment from MarkProcessing. Nothing to release is a no-op.
func (r *Repository) ReleaseClaim(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return mailqueue.ErrItemNotFound
	}
	if item.Status != mailqueue.StatusProcessing {
		return nil
	}

	item.Status = mailqueue.StatusPending
	if item.Attempts > 0 {
		item.Attempts--
	}
	item.UpdatedAt = time.Now()
	return nil
}

// MarkCompleted finishes a processing item.
func (r *Repository) MarkCompleted(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return mailqueue.ErrItemNotFound
	}
	if item.Status != mailqueue.StatusProcessing {
		return mailqueue.ErrInvalidState
	}

	now := time.Now()
	item.Status = mailqueue.StatusCompleted
	item.ProcessedAt = &now
	item.UpdatedAt = now
	return nil
}

// MarkRetry reschedules a failed attempt.
func (r *Repository) MarkRetry(_ context.Context, id string, sendErr error, nextAttempt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return mailqueue.ErrItemNotFound
	}
	if item.Status != mailqueue.StatusProcessing {
		return mailqueue.ErrInvalidState
	}

	item.Status = mailqueue.StatusPending
	item.ScheduledFor = nextAttempt
	item.LastError = sendErr.Error()
	item.UpdatedAt = time.Now()
	return nil
}

// MarkFailed moves an item to the terminal failed status. ScheduledFor is
// left untouched.
func (r *Repository) MarkFailed(_ context.Context, id string, sendErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return mailqueue.ErrItemNotFound
	}
	if item.Status != mailqueue.StatusProcessing {
		return mailqueue.ErrInvalidState
	}

	item.Status = mailqueue.StatusFailed
	item.LastError = sendErr.Error()
	item.UpdatedAt = time.Now()
	return nil
}

// Retry resets a failed item for reprocessing.
func (r *Repository) Retry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return mailqueue.ErrItemNotFound
	}
	if item.Status != mailqueue.StatusFailed {
		return mailqueue.ErrInvalidState
	}

	item.Status = mailqueue.StatusPending
	item.Attempts = 0
	item.ScheduledFor = time.Now()
	item.LastError = ""
	item.UpdatedAt = time.Now()
	return nil
}

// Stats returns counts by status and over the trailing 24 hours.
func (r *Repository) Stats(_ context.Context) (*mailqueue.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &mailqueue.QueueStats{}
	dayAgo := time.Now().Add(-24 * time.Hour)

	for _, item := range r.items {
		switch item.Status {
		case mailqueue.StatusPending:
			stats.Pending++
		case mailqueue.StatusProcessing:
			stats.Processing++
		case mailqueue.StatusCompleted:
			stats.Completed++
			if item.ProcessedAt != nil && item.ProcessedAt.After(dayAgo) {
				stats.CompletedLast24h++
			}
		case mailqueue.StatusFailed:
			stats.Failed++
			if item.UpdatedAt.After(dayAgo) {
				stats.FailedLast24h++
			}
		}
	}
	return stats, nil
}

// Cleanup removes completed items older than the given age.
func (r *Repository) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var deleted int64
	for id, item := range r.items {
		if item.Status == mailqueue.StatusCompleted && item.ProcessedAt != nil && item.ProcessedAt.Before(cutoff) {
			delete(r.items, id)
			deleted++
		}
	}
	return deleted, nil
}
