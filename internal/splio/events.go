package splio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atriumdigital/spliosync/internal/payload"
)

// RequestListener observes a payload about to be dispatched. Returning
// a non-nil structure replaces the payload; returning nil leaves it
// unchanged. Listeners run in registration order, each seeing the
// previous one's result.
type RequestListener func(ctx context.Context, action Action, st *payload.Structure) *payload.Structure

// ResponseListener observes the settled result of one dispatched
// payload, successful or not.
type ResponseListener func(ctx context.Context, action Action, st *payload.Structure, res Result)

// EnqueueDecision is a queue listener's verdict on a task about to be
// enqueued or processed. A non-nil Task replaces the task; Suppress
// drops it entirely.
type EnqueueDecision struct {
	Task     *Task
	Suppress bool
}

// QueueListener observes a task entering or leaving the sync queue.
type QueueListener func(ctx context.Context, task Task) EnqueueDecision

// Events is the listener registry. Registration is safe for concurrent
// use; dispatch takes a snapshot so listeners may register more
// listeners without deadlocking.
type Events struct {
	mu       sync.RWMutex
	request  []RequestListener
	response []ResponseListener
	enqueue  []QueueListener
	dequeue  []QueueListener

	log *slog.Logger
}

// NewEvents creates an empty listener registry.
func NewEvents() *Events {
	return &Events{log: slog.Default().With("component", "splio_events")}
}

// OnRequest registers a request listener.
func (e *Events) OnRequest(l RequestListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.request = append(e.request, l)
}

// OnResponse registers a response listener.
func (e *Events) OnResponse(l ResponseListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.response = append(e.response, l)
}

// OnEnqueue registers a listener consulted when a task is enqueued.
func (e *Events) OnEnqueue(l QueueListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueue = append(e.enqueue, l)
}

// OnDequeue registers a listener consulted when the worker picks a task
// up for processing.
func (e *Events) OnDequeue(l QueueListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dequeue = append(e.dequeue, l)
}

func (e *Events) dispatchRequest(ctx context.Context, action Action, st *payload.Structure) *payload.Structure {
	e.mu.RLock()
	listeners := e.request
	e.mu.RUnlock()

	for _, l := range listeners {
		if replaced := l(ctx, action, st); replaced != nil {
			e.log.Debug("request listener replaced payload",
				"action", string(action),
				"entity", string(st.Entity),
			)
			st = replaced
		}
	}
	return st
}

func (e *Events) dispatchResponse(ctx context.Context, action Action, st *payload.Structure, res Result) {
	e.mu.RLock()
	listeners := e.response
	e.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, action, st, res)
	}
}

// dispatchQueue runs a listener chain over a task and reports the final
// task and whether any listener suppressed it.
func dispatchQueue(ctx context.Context, listeners []QueueListener, task Task) (Task, bool) {
	for _, l := range listeners {
		decision := l(ctx, task)
		if decision.Suppress {
			return task, true
		}
		if decision.Task != nil {
			task = *decision.Task
		}
	}
	return task, false
}

// DispatchEnqueue consults the enqueue listeners.
func (e *Events) DispatchEnqueue(ctx context.Context, task Task) (Task, bool) {
	e.mu.RLock()
	listeners := e.enqueue
	e.mu.RUnlock()
	return dispatchQueue(ctx, listeners, task)
}

// DispatchDequeue consults the dequeue listeners.
func (e *Events) DispatchDequeue(ctx context.Context, task Task) (Task, bool) {
	e.mu.RLock()
	listeners := e.dequeue
	e.mu.RUnlock()
	return dispatchQueue(ctx, listeners, task)
}
