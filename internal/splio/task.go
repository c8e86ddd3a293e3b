// Package splio talks to the Splio data API: it classifies local
// records against the configured entity map, builds and dispatches
// bounded-concurrency CRUD batches, and feeds the durable sync queue.
package splio

import (
	"fmt"

	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/record"
)

// Action is a CRUD operation carried by a queued task.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	// ActionRead never travels through the queue; it exists for the
	// connector's read batches and the inspection API.
	ActionRead Action = "read"
)

// Actions lists every valid queueable action.
var Actions = []Action{ActionCreate, ActionUpdate, ActionDelete}

// Valid reports whether a is a queueable action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction converts a wire string into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return a, nil
}

// Task is one queued unit of sync work. Key holds the record's resolved
// key field value; the worker reloads the current record by it when the
// task is processed, so the payload always reflects the latest local
// state rather than the state at enqueue time.
type Task struct {
	Key    string             `json:"id"`
	Entity mapping.EntityType `json:"splioEntityType"`

	// OriginalEntity is set when an order line was redirected to its
	// parent receipt: the task syncs the receipt but remembers what
	// actually changed.
	OriginalEntity mapping.EntityType `json:"originalSplioEntityType,omitempty"`

	Action Action `json:"action"`
	Lang   string `json:"lang,omitempty"`

	// Original carries the record's pre-change snapshot. For deletions
	// it holds the record itself, since the local copy may be gone by
	// the time the task runs.
	Original *record.Record `json:"original,omitempty"`
}
