package splio

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/queue"
	"github.com/atriumdigital/spliosync/internal/record"
)

// EnqueueRecord turns a changed local record into a durable sync task.
// Order lines redirect to their parent receipt before queueing, keeping
// the original entity type on the task. Enqueue listeners may rewrite
// or suppress the task; a suppressed task returns an empty id and no
// error.
func (c *Connector) EnqueueRecord(ctx context.Context, q *queue.Queue, rec *record.Record, action Action) (string, error) {
	if !action.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	entity, ok := c.Classify(rec)
	if !ok {
		return "", fmt.Errorf("record %s/%s: %w", rec.Type, rec.ID, ErrNotMapped)
	}

	task := Task{Action: action, Lang: rec.Lang}

	syncRec := rec
	if entity == mapping.EntityOrderLines {
		parent, err := c.OrderForLine(ctx, rec)
		if err != nil {
			return "", err
		}
		task.OriginalEntity = mapping.EntityOrderLines
		syncRec = parent
		entity = mapping.EntityReceipts
	}
	task.Entity = entity

	keyField, err := c.catalog.KeyFieldFor(ctx, entity)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", entity, err)
	}
	if keyField.Ref == nil {
		return "", fmt.Errorf("enqueue %s: %w", entity, ErrNoKeyField)
	}

	key := record.ValueString(c.resolver.Resolve(ctx, keyField.Ref, syncRec))
	if key == "" {
		return "", fmt.Errorf("enqueue %s %s: %w", entity, syncRec.ID, ErrNoKeyField)
	}
	task.Key = key

	// Deletions keep the record itself as the snapshot: by the time the
	// task runs, the local copy may be gone.
	switch {
	case rec.Original != nil:
		task.Original = rec.Original
	case action == ActionDelete:
		task.Original = syncRec
	}

	final, suppressed := c.events.DispatchEnqueue(ctx, task)
	if suppressed {
		c.log.Info("enqueue suppressed by listener",
			"entity", string(task.Entity), "key", task.Key, "action", string(task.Action))
		return "", nil
	}
	if !final.Action.Valid() {
		c.log.Error("listener set an invalid action, task not queued",
			"entity", string(final.Entity), "key", final.Key, "action", string(final.Action))
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, final.Action)
	}

	data, err := json.Marshal(final)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}

	id, err := q.CreateItem(ctx, data)
	if err != nil {
		return "", err
	}

	c.log.Info("task enqueued",
		"item_id", id,
		"entity", string(final.Entity),
		"key", final.Key,
		"action", string(final.Action),
	)
	return id, nil
}
