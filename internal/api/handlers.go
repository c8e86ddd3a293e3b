package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atriumdigital/spliosync/internal/queue"
	"github.com/atriumdigital/spliosync/internal/record"
	"github.com/atriumdigital/spliosync/internal/splio"
	"github.com/atriumdigital/spliosync/internal/validation"
)

// Enqueuer is the slice of the connector the API needs.
type Enqueuer interface {
	EnqueueRecord(ctx context.Context, q *queue.Queue, rec *record.Record, action splio.Action) (string, error)
}

// Gateway is the slice of the Splio client the API needs.
type Gateway interface {
	Ping(ctx context.Context) error
	ContactLists(ctx context.Context) ([]splio.ContactList, error)
	IsBlacklisted(ctx context.Context, email string) (bool, error)
	AddToBlacklist(ctx context.Context, email string) error
	TriggerMessage(ctx context.Context, req splio.TriggerRequest) error
}

// Handler holds the dependencies of the HTTP API.
type Handler struct {
	enqueuer Enqueuer
	gateway  Gateway
	source   record.Source
	queue    *queue.Queue
	apiKey   string
}

// NewHandler creates an API handler.
func NewHandler(enqueuer Enqueuer, gateway Gateway, source record.Source, q *queue.Queue, apiKey string) *Handler {
	return &Handler{
		enqueuer: enqueuer,
		gateway:  gateway,
		source:   source,
		queue:    q,
		apiKey:   apiKey,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err, "component", "api")
	}
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status     string `json:"status"`
	Splio      string `json:"splio"`
	QueueDepth int    `json:"queue_depth"`
}

// Health reports service liveness, queue depth and Splio reachability.
// Always answers 200; a degraded status flags an unreachable platform.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Splio: "ok"}

	if err := h.gateway.Ping(r.Context()); err != nil {
		slog.Warn("health probe cannot reach splio",
			"error", err,
			"component", "api",
		)
		resp.Status = "degraded"
		resp.Splio = "unreachable"
	}

	depth, err := h.queue.Len(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	resp.QueueDepth = depth

	writeJSON(w, http.StatusOK, resp)
}

// enqueueRequest is the body of POST /api/v1/queue.
type enqueueRequest struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Action string `json:"action"`
}

// enqueueResponse reports the created queue item. A suppressed task
// produced no item.
type enqueueResponse struct {
	ItemID     string `json:"item_id,omitempty"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

// EnqueueTask loads a local record and queues it for synchronization.
func (h *Handler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Request body is not valid JSON")
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateRequired("type", req.Type))
	c.Add(validation.ValidateRequired("id", req.ID))
	c.Add(validation.ValidateRequired("action", req.Action))
	if req.Action != "" {
		c.Add(validation.ValidateEnum("action", req.Action, actionNames()))
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Invalid enqueue request", c.Errors())
		return
	}

	action, err := splio.ParseAction(req.Action)
	if err != nil {
		MapError(w, r, err)
		return
	}

	rec, err := h.source.Load(r.Context(), req.Type, req.ID)
	if err != nil {
		MapError(w, r, err)
		return
	}

	itemID, err := h.enqueuer.EnqueueRecord(r.Context(), h.queue, rec, action)
	if err != nil {
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		ItemID:     itemID,
		Suppressed: itemID == "",
	})
}

// blacklistResponse is the body of GET /api/v1/blacklist/{email}.
type blacklistResponse struct {
	Email       string `json:"email"`
	Blacklisted bool   `json:"blacklisted"`
}

// CheckBlacklist asks Splio whether an email sits on the universe
// blacklist.
func (h *Handler) CheckBlacklist(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if verr := validation.ValidateEmail("email", email); verr != nil {
		WriteProblemWithErrors(w, r, "Invalid blacklist request", []validation.ValidationError{*verr})
		return
	}

	listed, err := h.gateway.IsBlacklisted(r.Context(), email)
	if err != nil {
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, blacklistResponse{Email: email, Blacklisted: listed})
}

// AddBlacklist puts an email on the universe blacklist.
func (h *Handler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if verr := validation.ValidateEmail("email", email); verr != nil {
		WriteProblemWithErrors(w, r, "Invalid blacklist request", []validation.ValidationError{*verr})
		return
	}

	if err := h.gateway.AddToBlacklist(r.Context(), email); err != nil {
		MapError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// triggerRequest is the body of POST /api/v1/trigger.
type triggerRequest struct {
	Message    string            `json:"message"`
	Recipients []map[string]any  `json:"recipients"`
	Options    map[string]string `json:"options"`
}

// Trigger fires a transactional message at a set of recipients.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Request body is not valid JSON")
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateRequired("message", req.Message))
	if len(req.Recipients) == 0 {
		c.Add(&validation.ValidationError{Field: "recipients", Message: "at least one recipient is required"})
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Invalid trigger request", c.Errors())
		return
	}

	err := h.gateway.TriggerMessage(r.Context(), splio.TriggerRequest{
		MessageID:  req.Message,
		Recipients: req.Recipients,
		Options:    req.Options,
	})
	if err != nil {
		MapError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ContactLists enumerates the remote universe's contact lists.
func (h *Handler) ContactLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.gateway.ContactLists(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	if lists == nil {
		lists = []splio.ContactList{}
	}
	writeJSON(w, http.StatusOK, lists)
}

func actionNames() []string {
	names := make([]string, 0, len(splio.Actions))
	for _, a := range splio.Actions {
		names = append(names, string(a))
	}
	return names
}
