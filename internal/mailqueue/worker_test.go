package mailqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepository is an empty repository that counts worker calls.
type countingRepository struct {
	fetchCalls   atomic.Int64
	cleanupCalls atomic.Int64
	statsCalls   atomic.Int64
}

func (r *countingRepository) Enqueue(_ context.Context, _ *QueueItem) error { return nil }
func (r *countingRepository) EnqueueBatch(_ context.Context, items []*QueueItem) (int64, error) {
	return int64(len(items)), nil
}
func (r *countingRepository) GetItem(_ context.Context, _ string) (*QueueItem, error) {
	return nil, ErrItemNotFound
}
func (r *countingRepository) FetchEligible(_ context.Context, _ int) ([]*QueueItem, error) {
	r.fetchCalls.Add(1)
	return nil, nil
}
func (r *countingRepository) MarkProcessing(_ context.Context, _ string) (*QueueItem, error) {
	return nil, ErrItemNotFound
}
func (r *countingRepository) ReleaseClaim(_ context.Context, _ string) error  { return nil }
func (r *countingRepository) MarkCompleted(_ context.Context, _ string) error { return nil }
func (r *countingRepository) MarkRetry(_ context.Context, _ string, _ error, _ time.Time) error {
	return nil
}
func (r *countingRepository) MarkFailed(_ context.Context, _ string, _ error) error { return nil }
func (r *countingRepository) Retry(_ context.Context, _ string) error               { return nil }
func (r *countingRepository) Stats(_ context.Context) (*QueueStats, error) {
	r.statsCalls.Add(1)
	return &QueueStats{}, nil
}
func (r *countingRepository) Cleanup(_ context.Context, _ time.Duration) (int64, error) {
	r.cleanupCalls.Add(1)
	return 0, nil
}

func TestDefaultWorkerConfig(t *testing.T) {
	config := DefaultWorkerConfig()

	assert.Equal(t, 15*time.Second, config.PollInterval)
	assert.Equal(t, 24*time.Hour, config.CleanupInterval)
	assert.Equal(t, 15*time.Second, config.StatsInterval)
}

func TestNewWorker_AppliesDefaults(t *testing.T) {
	w := NewWorker(WorkerConfig{}, &countingRepository{}, nil)

	assert.Equal(t, DefaultWorkerConfig(), w.config)
}

func TestWorker_StartStop(t *testing.T) {
	repo := &countingRepository{}
	renderer, err := NewRenderer()
	require.NoError(t, err)
	processor := NewProcessor(ProcessorConfig{}, repo, NewDispatcher(renderer, LogProvider{}))

	w := NewWorker(WorkerConfig{
		PollInterval:    10 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
		StatsInterval:   10 * time.Millisecond,
	}, repo, processor)

	w.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	w.Stop()

	assert.Positive(t, repo.fetchCalls.Load())
	assert.Positive(t, repo.cleanupCalls.Load())
	assert.Positive(t, repo.statsCalls.Load())

	// No loop may run after Stop returns.
	fetches := repo.fetchCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetches, repo.fetchCalls.Load())
}

func TestCompletedRetention(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, CompletedRetention)
}
