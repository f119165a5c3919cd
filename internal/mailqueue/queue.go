// Package mailqueue provides the durable email delivery queue: persistence,
// dispatch to the transactional email provider, and retry scheduling.
package mailqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the delivery status of a queue item.
type Status string

// Queue item statuses. Pending and processing are transient; completed and
// failed are terminal (failed until a manual retry).
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Priority orders eligible items at fetch time. High-priority items are
// always drained before normal ones, regardless of age.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Rank returns the sort rank of the priority, lower first.
func (p Priority) Rank() int {
	if p == PriorityHigh {
		return 0
	}
	return 1
}

// DefaultMaxAttempts is the attempt ceiling applied when none is requested.
const DefaultMaxAttempts = 3

// QueueItem is one persisted request to send a specific email. The payload is
// stored as an opaque JSON document; its shape is fully determined by Kind and
// is only reconstructed by the dispatcher at send time.
type QueueItem struct {
	ID           string
	Kind         Kind
	To           string
	Payload      json.RawMessage
	Priority     Priority
	Status       Status
	ScheduledFor time.Time
	Attempts     int
	MaxAttempts  int
	LastError    string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnqueueOptions tunes a single enqueue. Zero values fall back to
// priority=normal, scheduledFor=now, maxAttempts=DefaultMaxAttempts.
type EnqueueOptions struct {
	Priority     Priority
	ScheduledFor time.Time
	MaxAttempts  int
}

// NewQueueItem builds a pending queue item with defaults applied and the
// payload marshalled to JSON. Payload shape is the caller's responsibility;
// it is validated only by the dispatcher's per-kind decoding.
func NewQueueItem(kind Kind, to string, payload any, opts EnqueueOptions) (*QueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", kind, err)
	}

	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	scheduledFor := opts.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &QueueItem{
		ID:           uuid.NewString(),
		Kind:         kind,
		To:           to,
		Payload:      raw,
		Priority:     priority,
		Status:       StatusPending,
		ScheduledFor: scheduledFor,
		MaxAttempts:  maxAttempts,
	}, nil
}

// Terminal reports whether the item can no longer transition without a
// manual retry.
func (i *QueueItem) Terminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

// QueueStats contains queue counts for the admin surface and metrics.
type QueueStats struct {
	Pending          int64 `json:"pending"`
	Processing       int64 `json:"processing"`
	Completed        int64 `json:"completed"`
	Failed           int64 `json:"failed"`
	CompletedLast24h int64 `json:"completed_last_24h"`
	FailedLast24h    int64 `json:"failed_last_24h"`
}

// backoffDelay returns the retry delay after the given number of finished
// attempts: 4^attempts minutes (4, 16, 64 for attempts 1..3). The formula is
// a product decision carried over unchanged.
func backoffDelay(attempts int) time.Duration {
	delay := time.Minute
	for i := 0; i < attempts; i++ {
		delay *= 4
	}
	return delay
}
