// Package worker drives the periodic drain of the sync queue: claim a
// batch of tasks, replay each against the Splio API, and settle every
// item as done, retried, dead-lettered or suspended.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/atriumdigital/spliosync/internal/deadletter"
	"github.com/atriumdigital/spliosync/internal/queue"
	"github.com/atriumdigital/spliosync/internal/record"
	"github.com/atriumdigital/spliosync/internal/splio"
)

// Outcome tags how a claimed queue item settled.
type Outcome int

const (
	// OutcomeDone settles the item successfully; it leaves the queue.
	OutcomeDone Outcome = iota

	// OutcomeDrop retires the item without a successful sync: the task
	// could not be decoded, its record is gone, or it permanently
	// failed and went to the dead-letter archive.
	OutcomeDrop

	// OutcomeRetry releases the item for a later cycle.
	OutcomeRetry

	// OutcomeSuspend releases the item and halts the current cycle: the
	// platform is unreachable, so every following task would fail too.
	OutcomeSuspend
)

// TaskQueue is the slice of the durable queue the worker drives.
type TaskQueue interface {
	Claim(ctx context.Context) (*queue.Item, error)
	Remove(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
	ReleaseStale(ctx context.Context, age time.Duration) (int, error)
}

// Syncer is the slice of the connector the worker needs.
type Syncer interface {
	RecordForTask(ctx context.Context, task splio.Task) (*record.Record, error)
	CreateEntities(ctx context.Context, recs []*record.Record) []splio.Result
	UpdateEntities(ctx context.Context, recs []*record.Record) []splio.Result
	DeleteEntities(ctx context.Context, recs []*record.Record) []splio.Result
	Events() *splio.Events
}

// SyncWorker drains the sync queue on a fixed interval.
type SyncWorker struct {
	queue    TaskQueue
	syncer   Syncer
	archiver deadletter.Archiver
	interval time.Duration
	batch    int
}

// NewSyncWorker creates a sync worker draining up to batch items per
// cycle.
func NewSyncWorker(q TaskQueue, syncer Syncer, archiver deadletter.Archiver, interval time.Duration, batch int) *SyncWorker {
	if archiver == nil {
		archiver = &deadletter.NoopArchiver{}
	}
	if batch <= 0 {
		batch = 50
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &SyncWorker{
		queue:    q,
		syncer:   syncer,
		archiver: archiver,
		interval: interval,
		batch:    batch,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	// The worker is the queue's only consumer, so any lease still
	// outstanding at startup was orphaned by a crash.
	if n, err := w.queue.ReleaseStale(ctx, 0); err != nil {
		slog.Error("failed to recover orphaned leases",
			"error", err,
			"component", "worker",
		)
	} else if n > 0 {
		slog.Info("recovered orphaned queue leases",
			"action", "sync",
			"count", n,
			"component", "worker",
		)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Process immediately on start, then on each tick
	w.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunCycle(ctx)
		}
	}
}

// RunCycle drains up to the batch limit of queue items. A suspend
// outcome aborts the cycle; remaining items wait for the next tick.
func (w *SyncWorker) RunCycle(ctx context.Context) {
	var processed, failed int

	for processed+failed < w.batch {
		if ctx.Err() != nil {
			return
		}

		item, err := w.queue.Claim(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if err != nil {
			slog.Error("failed to claim queue item",
				"error", err,
				"component", "worker",
			)
			break
		}

		outcome := w.processItem(ctx, item)
		switch outcome {
		case OutcomeDone:
			w.settle(ctx, item.ID, w.queue.Remove)
			processed++
		case OutcomeDrop:
			w.settle(ctx, item.ID, w.queue.Remove)
			failed++
		case OutcomeRetry:
			w.settle(ctx, item.ID, w.queue.Release)
			failed++
		case OutcomeSuspend:
			w.settle(ctx, item.ID, w.queue.Release)
			slog.Warn("splio is not responding, suspending sync cycle",
				"action", "sync",
				"item_id", item.ID,
				"component", "worker",
			)
			return
		}
	}

	if processed > 0 || failed > 0 {
		slog.Info("sync cycle finished",
			"action", "sync",
			"processed", processed,
			"failed", failed,
			"component", "worker",
		)
	}
}

func (w *SyncWorker) settle(ctx context.Context, id string, op func(context.Context, string) error) {
	if err := op(ctx, id); err != nil {
		slog.Error("failed to settle queue item",
			"item_id", id,
			"error", err,
			"component", "worker",
		)
	}
}

// processItem replays one task against the platform and tags the
// outcome.
func (w *SyncWorker) processItem(ctx context.Context, item *queue.Item) Outcome {
	var task splio.Task
	if err := json.Unmarshal(item.Payload, &task); err != nil {
		slog.Error("undecodable queue item, dropping",
			"item_id", item.ID,
			"error", err,
			"component", "worker",
		)
		return OutcomeDrop
	}

	// Dequeue listeners may rewrite or suppress the task.
	task, suppressed := w.syncer.Events().DispatchDequeue(ctx, task)
	if suppressed {
		slog.Info("task suppressed by dequeue listener",
			"item_id", item.ID,
			"entity", string(task.Entity),
			"key", task.Key,
			"component", "worker",
		)
		return OutcomeDone
	}

	rec, err := w.syncer.RecordForTask(ctx, task)
	if err != nil {
		// Deleted records are expected to be gone; the snapshot taken
		// at enqueue time stands in for them.
		if task.Original != nil && errors.Is(err, record.ErrNotFound) {
			rec = task.Original
		} else {
			slog.Error("cannot load record for task, dropping",
				"item_id", item.ID,
				"entity", string(task.Entity),
				"key", task.Key,
				"error", err,
				"component", "worker",
			)
			return OutcomeDrop
		}
	}

	var results []splio.Result
	switch task.Action {
	case splio.ActionCreate:
		results = w.syncer.CreateEntities(ctx, []*record.Record{rec})
	case splio.ActionUpdate:
		results = w.syncer.UpdateEntities(ctx, []*record.Record{rec})
	case splio.ActionDelete:
		results = w.syncer.DeleteEntities(ctx, []*record.Record{rec})
	default:
		slog.Error("queued task carries an invalid action, dropping",
			"item_id", item.ID,
			"action", string(task.Action),
			"component", "worker",
		)
		return OutcomeDrop
	}

	if len(results) == 0 {
		// The connector skipped the record entirely: no mapping, no
		// key, or an orphaned order line. Retrying cannot help.
		slog.Error("record could not be dispatched, dropping",
			"item_id", item.ID,
			"entity", string(task.Entity),
			"key", task.Key,
			"component", "worker",
		)
		return OutcomeDrop
	}

	res := results[len(results)-1]
	if res.Err == nil {
		slog.Info("task synced",
			"action", "sync",
			"entity", string(res.Entity),
			"key", res.Key,
			"component", "worker",
		)
		return OutcomeDone
	}

	var reqErr *splio.RequestError
	if errors.As(res.Err, &reqErr) && reqErr.Transient() {
		return OutcomeSuspend
	}

	return w.deadLetter(ctx, item, res.Err)
}

// deadLetter archives a permanently failed item. When archiving itself
// fails, the item is released so the next cycle tries again.
func (w *SyncWorker) deadLetter(ctx context.Context, item *queue.Item, cause error) Outcome {
	entry := deadletter.Entry{
		ItemID:   item.ID,
		Payload:  item.Payload,
		Attempts: item.Attempts,
		Reason:   cause.Error(),
		FailedAt: time.Now().UTC(),
	}
	if err := w.archiver.Archive(ctx, entry); err != nil {
		slog.Error("failed to archive dead-lettered task, will retry",
			"item_id", item.ID,
			"error", err,
			"component", "worker",
		)
		return OutcomeRetry
	}

	slog.Error("task permanently failed",
		"action", "sync",
		"item_id", item.ID,
		"attempts", item.Attempts,
		"error", cause,
		"component", "worker",
	)
	return OutcomeDrop
}
