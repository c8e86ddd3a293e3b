// Package queue implements the durable FIFO work queue the sync worker
// drains. Items survive restarts: they live in the sync_queue table and
// are only removed once processing settles. Payloads are opaque bytes;
// the producer decides the encoding.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrEmpty is returned by Claim when no unclaimed item is available.
var ErrEmpty = errors.New("queue is empty")

// Item is one queued unit of work.
type Item struct {
	ID        string
	Queue     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Queue is a named durable FIFO queue over the shared database handle.
// Item ids are ULIDs, so lexicographic id order is submission order.
type Queue struct {
	db   *sql.DB
	name string
}

// New creates a handle on the named queue.
func New(db *sql.DB, name string) *Queue {
	return &Queue{db: db, name: name}
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// CreateItem appends a payload to the queue and returns the new item id.
func (q *Queue) CreateItem(ctx context.Context, payload []byte) (string, error) {
	id := ulid.Make().String()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, queue, payload, attempts, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, id, q.name, payload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("enqueue item: %w", err)
	}
	return id, nil
}

// Claim leases the oldest unclaimed item, bumping its attempt counter.
// The item stays in the table until Remove or Release settles it, so a
// crash mid-processing leaves it recoverable via ReleaseStale.
func (q *Queue) Claim(ctx context.Context) (*Item, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim item: %w", err)
	}
	defer tx.Rollback()

	var item Item
	var createdAt string
	err = tx.QueryRowContext(ctx, `
		SELECT id, queue, payload, attempts, created_at
		FROM sync_queue
		WHERE queue = ? AND claimed_at IS NULL
		ORDER BY id
		LIMIT 1
	`, q.name).Scan(&item.ID, &item.Queue, &item.Payload, &item.Attempts, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim item: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sync_queue SET claimed_at = ?, attempts = attempts + 1 WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), item.ID)
	if err != nil {
		return nil, fmt.Errorf("claim item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim item: %w", err)
	}

	item.Attempts++
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		item.CreatedAt = t
	}
	return &item, nil
}

// Remove deletes a settled item.
func (q *Queue) Remove(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove item %s: %w", id, err)
	}
	return nil
}

// Release returns a claimed item to the queue so a later cycle retries
// it. The item keeps its id and therefore its place in FIFO order.
func (q *Queue) Release(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET claimed_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("release item %s: %w", id, err)
	}
	return nil
}

// ReleaseStale returns all items claimed longer than age ago. Run at
// startup to recover leases orphaned by a crash.
func (q *Queue) ReleaseStale(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age).Format(time.RFC3339Nano)
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue SET claimed_at = NULL
		WHERE queue = ? AND claimed_at IS NOT NULL AND claimed_at < ?
	`, q.name, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale items: %w", err)
	}
	return int(n), nil
}

// Len counts the items currently in the queue, claimed or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE queue = ?`, q.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}
