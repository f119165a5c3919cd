package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmttn/wishbubble-sub001/internal/mailqueue"
)

func newItem(t *testing.T, opts mailqueue.EnqueueOptions) *mailqueue.QueueItem {
	t.Helper()
	item, err := mailqueue.NewQueueItem(mailqueue.KindWishClaimed, "member@example.com", mailqueue.WishClaimedParams{
		BubbleName:  "Family Christmas",
		WishTitle:   "Espresso machine",
		ClaimerName: "Sam",
	}, opts)
	require.NoError(t, err)
	return item
}

func TestRepository_EnqueueAndGet(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	item := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, item))

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, mailqueue.StatusPending, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRepository_GetItem_NotFound(t *testing.T) {
	repo := NewRepository()

	_, err := repo.GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, mailqueue.ErrItemNotFound)
}

func TestRepository_FetchEligible(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	old := newItem(t, mailqueue.EnqueueOptions{ScheduledFor: time.Now().Add(-2 * time.Hour)})
	recent := newItem(t, mailqueue.EnqueueOptions{ScheduledFor: time.Now().Add(-time.Minute)})
	high := newItem(t, mailqueue.EnqueueOptions{Priority: mailqueue.PriorityHigh})
	future := newItem(t, mailqueue.EnqueueOptions{ScheduledFor: time.Now().Add(time.Hour)})

	for _, item := range []*mailqueue.QueueItem{old, recent, high, future} {
		require.NoError(t, repo.Enqueue(ctx, item))
	}

	items, err := repo.FetchEligible(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 3, "scheduled-for-later items are not eligible")

	// High priority first, then oldest scheduled first.
	assert.Equal(t, high.ID, items[0].ID)
	assert.Equal(t, old.ID, items[1].ID)
	assert.Equal(t, recent.ID, items[2].ID)
}

func TestRepository_FetchEligible_SkipsExhaustedAndNonPending(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	claimed := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, claimed))
	_, err := repo.MarkProcessing(ctx, claimed.ID)
	require.NoError(t, err)

	exhausted := newItem(t, mailqueue.EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, repo.Enqueue(ctx, exhausted))
	_, err = repo.MarkProcessing(ctx, exhausted.ID)
	require.NoError(t, err)
	require.NoError(t, repo.MarkRetry(ctx, exhausted.ID, errors.New("boom"), time.Now().Add(-time.Second)))

	items, err := repo.FetchEligible(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRepository_MarkProcessing_ClaimsOnce(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	item := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, item))

	claimed, err := repo.MarkProcessing(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, mailqueue.StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = repo.MarkProcessing(ctx, item.ID)
	assert.ErrorIs(t, err, mailqueue.ErrNotClaimed)

	_, err = repo.MarkProcessing(ctx, "missing")
	assert.ErrorIs(t, err, mailqueue.ErrItemNotFound)
}

func TestRepository_MarkProcessing_Concurrent(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	item := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, item))

	const workers = 16
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := repo.MarkProcessing(ctx, item.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins, "exactly one claimer may win")

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts, "losing claims must not bump attempts")
}

func TestRepository_ReleaseClaim(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	item := newItem(t, mailqueue.EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, repo.Enqueue(ctx, item))
	_, err := repo.MarkProcessing(ctx, item.ID)
	require.NoError(t, err)

	require.NoError(t, repo.ReleaseClaim(ctx, item.ID))

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, mailqueue.StatusPending, got.Status)
	assert.Zero(t, got.Attempts, "releasing must undo the claim's attempt increment")
	assert.Empty(t, got.LastError)

	// Even an item on its last attempt stays eligible after a release.
	items, err := repo.FetchEligible(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)

	// Nothing claimed: release is a no-op.
	require.NoError(t, repo.ReleaseClaim(ctx, item.ID))
	got, err = repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Attempts)

	assert.ErrorIs(t, repo.ReleaseClaim(ctx, "missing"), mailqueue.ErrItemNotFound)
}

func TestRepository_MarksRequireClaim(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	item := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, item))

	// Outcome transitions only apply to a claimed item.
	assert.ErrorIs(t, repo.MarkCompleted(ctx, item.ID), mailqueue.ErrInvalidState)
	assert.ErrorIs(t, repo.MarkRetry(ctx, item.ID, errors.New("boom"), time.Now()), mailqueue.ErrInvalidState)
	assert.ErrorIs(t, repo.MarkFailed(ctx, item.ID, errors.New("boom")), mailqueue.ErrInvalidState)

	_, err := repo.MarkProcessing(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, item.ID))

	// Completed is terminal.
	assert.ErrorIs(t, repo.MarkFailed(ctx, item.ID, errors.New("boom")), mailqueue.ErrInvalidState)

	assert.ErrorIs(t, repo.MarkCompleted(ctx, "missing"), mailqueue.ErrItemNotFound)
}

func TestRepository_MarkCompleted(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	item := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, item))
	_, err := repo.MarkProcessing(ctx, item.ID)
	require.NoError(t, err)

	require.NoError(t, repo.MarkCompleted(ctx, item.ID))

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, mailqueue.StatusCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)
}

func TestRepository_MarkRetry(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	item := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, item))
	_, err := repo.MarkProcessing(ctx, item.ID)
	require.NoError(t, err)

	nextAttempt := time.Now().Add(4 * time.Minute)
	require.NoError(t, repo.MarkRetry(ctx, item.ID, errors.New("provider timeout"), nextAttempt))

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, mailqueue.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, nextAttempt, got.ScheduledFor)
	assert.Equal(t, "provider timeout", got.LastError)
}

func TestRepository_Retry(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	item := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, item))
	_, err := repo.MarkProcessing(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, item.ID, errors.New("gone wrong")))

	require.NoError(t, repo.Retry(ctx, item.ID))

	got, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, mailqueue.StatusPending, got.Status)
	assert.Zero(t, got.Attempts)
	assert.Empty(t, got.LastError)

	// Only failed items may be retried.
	assert.ErrorIs(t, repo.Retry(ctx, item.ID), mailqueue.ErrInvalidState)
	assert.ErrorIs(t, repo.Retry(ctx, "missing"), mailqueue.ErrItemNotFound)
}

func TestRepository_Stats(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	pending := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, pending))

	completed := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, completed))
	_, err := repo.MarkProcessing(ctx, completed.ID)
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, completed.ID))

	failed := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, failed))
	_, err = repo.MarkProcessing(ctx, failed.ID)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, failed.ID, errors.New("boom")))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.CompletedLast24h)
	assert.Equal(t, int64(1), stats.FailedLast24h)
}

func TestRepository_Cleanup(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	item := newItem(t, mailqueue.EnqueueOptions{})
	require.NoError(t, repo.Enqueue(ctx, item))
	_, err := repo.MarkProcessing(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, item.ID))

	// Fresh completed items survive the retention window.
	deleted, err := repo.Cleanup(ctx, mailqueue.CompletedRetention)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// Anything already processed is older than a zero retention.
	deleted, err = repo.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, mailqueue.ErrItemNotFound)
}
