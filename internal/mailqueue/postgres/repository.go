// Package postgres provides the PostgreSQL implementation of the mail queue
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tmttn/wishbubble-sub001/internal/mailqueue"
)

const itemColumns = `
	id, kind, recipient, payload, priority, status, scheduled_for,
	attempts, max_attempts, last_error, processed_at, created_at, updated_at`

// Repository implements mailqueue.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue persists a single pending item.
func (r *Repository) Enqueue(ctx context.Context, item *mailqueue.QueueItem) error {
	query := `
		INSERT INTO email_queue (id, kind, recipient, payload, priority, status, scheduled_for, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		item.ID,
		item.Kind,
		item.To,
		item.Payload,
		item.Priority,
		item.Status,
		item.ScheduledFor,
		item.MaxAttempts,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue item: %w", err)
	}
	return nil
}

// EnqueueBatch bulk-creates pending items with one round trip per batch.
func (r *Repository) EnqueueBatch(ctx context.Context, items []*mailqueue.QueueItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(items))
	for _, item := range items {
		rows = append(rows, []any{
			item.ID,
			item.Kind,
			item.To,
			item.Payload,
			item.Priority,
			item.Status,
			item.ScheduledFor,
			item.MaxAttempts,
		})
	}

	count, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"email_queue"},
		[]string{"id", "kind", "recipient", "payload", "priority", "status", "scheduled_for", "max_attempts"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue batch: %w", err)
	}
	return count, nil
}

// GetItem returns the item with the given id.
func (r *Repository) GetItem(ctx context.Context, id string) (*mailqueue.QueueItem, error) {
	query := `SELECT ` + itemColumns + ` FROM email_queue WHERE id = $1`

	item, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mailqueue.ErrItemNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// FetchEligible returns due pending items ordered by priority then age.
func (r *Repository) FetchEligible(ctx context.Context, batchSize int) ([]*mailqueue.QueueItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM email_queue
		WHERE status = $1 AND scheduled_for <= NOW() AND attempts < max_attempts
		ORDER BY CASE priority WHEN 'high' THEN 0 ELSE 1 END, scheduled_for
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, mailqueue.StatusPending, batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch eligible: %w", err)
	}
	defer rows.Close()

	items := make([]*mailqueue.QueueItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch eligible: %w", err)
	}
	return items, nil
}

// MarkProcessing claims a pending item. The conditional update is the claim
// guard: concurrent processors race on the WHERE clause and only one wins.
func (r *Repository) MarkProcessing(ctx context.Context, id string) (*mailqueue.QueueItem, error) {
	query := `
		UPDATE email_queue
		SET status = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING ` + itemColumns

	item, err := scanItem(r.db.QueryRow(ctx, query, id, mailqueue.StatusProcessing, mailqueue.StatusPending))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	// No pending row: distinguish missing from already claimed or terminal.
	return nil, r.checkExists(ctx, id, mailqueue.ErrNotClaimed)
}

// ReleaseClaim returns an abandoned claim to pending, undoing the attempt
// increment from MarkProcessing. Nothing to release is a no-op.
func (r *Repository) ReleaseClaim(ctx context.Context, id string) error {
	query := `
		UPDATE email_queue
		SET status = $2, attempts = GREATEST(attempts - 1, 0), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	result, err := r.db.Exec(ctx, query, id, mailqueue.StatusPending, mailqueue.StatusProcessing)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	return r.checkExists(ctx, id, nil)
}

// MarkCompleted finishes a processing item.
func (r *Repository) MarkCompleted(ctx context.Context, id string) error {
	query := `
		UPDATE email_queue
		SET status = $2, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	result, err := r.db.Exec(ctx, query, id, mailqueue.StatusCompleted, mailqueue.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	return r.checkExists(ctx, id, mailqueue.ErrInvalidState)
}

// MarkRetry reschedules a failed attempt.
func (r *Repository) MarkRetry(ctx context.Context, id string, sendErr error, nextAttempt time.Time) error {
	query := `
		UPDATE email_queue
		SET status = $2, scheduled_for = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`
	result, err := r.db.Exec(ctx, query, id, mailqueue.StatusPending, nextAttempt, sendErr.Error(), mailqueue.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	return r.checkExists(ctx, id, mailqueue.ErrInvalidState)
}

// MarkFailed moves an item to the terminal failed status, leaving
// scheduled_for untouched.
func (r *Repository) MarkFailed(ctx context.Context, id string, sendErr error) error {
	query := `
		UPDATE email_queue
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := r.db.Exec(ctx, query, id, mailqueue.StatusFailed, sendErr.Error(), mailqueue.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	return r.checkExists(ctx, id, mailqueue.ErrInvalidState)
}

// checkExists resolves a zero-row conditional update: ErrItemNotFound when
// the id is unknown, otherwise onMismatch (nil treats a status mismatch as a
// no-op).
func (r *Repository) checkExists(ctx context.Context, id string, onMismatch error) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM email_queue WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if !exists {
		return mailqueue.ErrItemNotFound
	}
	return onMismatch
}

// Retry resets a failed item for reprocessing.
func (r *Repository) Retry(ctx context.Context, id string) error {
	query := `
		UPDATE email_queue
		SET status = $2, attempts = 0, scheduled_for = NOW(), last_error = '', updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	result, err := r.db.Exec(ctx, query, id, mailqueue.StatusPending, mailqueue.StatusFailed)
	if err != nil {
		return fmt.Errorf("retry item: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	return r.checkExists(ctx, id, mailqueue.ErrInvalidState)
}

// Stats returns counts by status plus completed/failed over 24 hours.
func (r *Repository) Stats(ctx context.Context) (*mailqueue.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'completed' AND processed_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE status = 'failed' AND updated_at > NOW() - INTERVAL '24 hours')
		FROM email_queue
	`
	var stats mailqueue.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.CompletedLast24h,
		&stats.FailedLast24h,
	)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &stats, nil
}

// Cleanup deletes completed items older than the given age.
func (r *Repository) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM email_queue
		WHERE status = $1 AND processed_at < $2
	`
	result, err := r.db.Exec(ctx, query, mailqueue.StatusCompleted, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanItem(row pgx.Row) (*mailqueue.QueueItem, error) {
	var item mailqueue.QueueItem
	err := row.Scan(
		&item.ID,
		&item.Kind,
		&item.To,
		&item.Payload,
		&item.Priority,
		&item.Status,
		&item.ScheduledFor,
		&item.Attempts,
		&item.MaxAttempts,
		&item.LastError,
		&item.ProcessedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
