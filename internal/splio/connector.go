package splio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/atriumdigital/spliosync/internal/config"
	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/payload"
	"github.com/atriumdigital/spliosync/internal/record"
	"github.com/atriumdigital/spliosync/internal/resolve"
)

// entityPaths maps each syncable entity type onto its data API path.
// Order lines have no path of their own: they always travel nested in
// their parent receipt.
var entityPaths = map[mapping.EntityType]string{
	mapping.EntityContacts: "contact/",
	mapping.EntityProducts: "product/",
	mapping.EntityReceipts: "order/",
	mapping.EntityStores:   "store/",
}

// Catalog is the slice of the mapping store the connector needs.
type Catalog interface {
	FieldsFor(ctx context.Context, entity mapping.EntityType) ([]mapping.Field, error)
	KeyFieldFor(ctx context.Context, entity mapping.EntityType) (*mapping.Field, error)
}

// Result is the settled outcome of one dispatched record. Batch methods
// return results in submission order regardless of completion order;
// records skipped before dispatch (unmapped, keyless, orphaned order
// lines) produce no result at all.
type Result struct {
	Entity mapping.EntityType
	Key    string
	Action Action
	Status int
	Body   []byte
	Err    error
}

// OK reports whether the request settled with a 2xx status.
func (r Result) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// Keyed indexes results by record key. Order lines redirected to the
// same receipt collapse into one entry; the ordered slice remains the
// authoritative view.
func Keyed(results []Result) map[string]Result {
	keyed := make(map[string]Result, len(results))
	for _, r := range results {
		keyed[r.Key] = r
	}
	return keyed
}

// Connector implements the CRUD surface against the Splio data API:
// classification of local records, payload assembly, and dispatch of
// request batches under a concurrency cap.
type Connector struct {
	client      *Client
	builder     *payload.Builder
	catalog     Catalog
	source      record.Source
	resolver    *resolve.Resolver
	events      *Events
	entities    config.EntityMap
	concurrency int
	log         *slog.Logger
}

// NewConnector wires a connector over its collaborators. A concurrency
// of zero or less falls back to the platform's documented limit of 10
// parallel requests.
func NewConnector(client *Client, builder *payload.Builder, catalog Catalog, source record.Source, resolver *resolve.Resolver, events *Events, entities config.EntityMap, concurrency int) *Connector {
	if concurrency <= 0 {
		concurrency = 10
	}
	if events == nil {
		events = NewEvents()
	}
	return &Connector{
		client:      client,
		builder:     builder,
		catalog:     catalog,
		source:      source,
		resolver:    resolver,
		events:      events,
		entities:    entities,
		concurrency: concurrency,
		log:         slog.Default().With("component", "splio_connector"),
	}
}

// Events exposes the connector's listener registry.
func (c *Connector) Events() *Events {
	return c.events
}

// Classify matches a record against the configured entity map and
// returns its Splio entity type. Entity types are tried in canonical
// order, so a record matching several configurations classifies
// deterministically.
func (c *Connector) Classify(rec *record.Record) (mapping.EntityType, bool) {
	if rec == nil {
		return "", false
	}
	for _, t := range mapping.EntityTypes {
		if t == mapping.EntityContactsLists {
			// Synthetic: describes subscription fields, never records.
			continue
		}
		conf, ok := c.entities[string(t)]
		if !ok {
			continue
		}
		if conf.LocalType != "" && conf.LocalType == rec.Type {
			if conf.LocalBundle == "" || conf.LocalBundle == rec.Bundle {
				return t, true
			}
			continue
		}
		if conf.LocalType == "" && conf.LocalBundle != "" && conf.LocalBundle == rec.Bundle {
			return t, true
		}
	}
	return "", false
}

// OrderForLine locates the parent receipt record of an order line by
// following the order_id mapping to the receipt's key value.
func (c *Connector) OrderForLine(ctx context.Context, line *record.Record) (*record.Record, error) {
	lineFields, err := c.catalog.FieldsFor(ctx, mapping.EntityOrderLines)
	if err != nil {
		return nil, fmt.Errorf("order for line: %w", err)
	}

	var orderIDRef *mapping.FieldRef
	for _, f := range lineFields {
		if f.SplioField == "order_id" {
			orderIDRef = f.Ref
			break
		}
	}
	if orderIDRef == nil {
		return nil, fmt.Errorf("order_id mapping is missing or unmapped: %w", ErrNoParentReceipt)
	}

	orderID := record.ValueString(c.resolver.Resolve(ctx, orderIDRef, line))
	if orderID == "" {
		return nil, fmt.Errorf("order line %s has no order id: %w", line.ID, ErrNoParentReceipt)
	}

	receiptConf, ok := c.entities[string(mapping.EntityReceipts)]
	if !ok || receiptConf.LocalType == "" {
		return nil, fmt.Errorf("receipts are not configured: %w", ErrNoParentReceipt)
	}

	keyField, err := c.catalog.KeyFieldFor(ctx, mapping.EntityReceipts)
	if err != nil {
		return nil, fmt.Errorf("order for line: %w", err)
	}
	if keyField.Ref == nil {
		return nil, fmt.Errorf("receipts key field is unmapped: %w", ErrNoParentReceipt)
	}

	orders, err := c.source.LoadByProperty(ctx, receiptConf.LocalType, keyField.Ref.Name, orderID)
	if err != nil {
		return nil, fmt.Errorf("order for line: %w", err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("order %q: %w", orderID, ErrNoParentReceipt)
	}
	return orders[0], nil
}

// RemovedOrder returns the receipt record prepared for remote removal:
// its monetary and completion fields zeroed, so the resulting payload
// carries an empty products array. For an order line, the parent
// receipt is returned unchanged; its structure will simply be rebuilt
// without the line once the local copy is gone.
func (c *Connector) RemovedOrder(ctx context.Context, rec *record.Record) (*record.Record, error) {
	entity, ok := c.Classify(rec)
	if !ok {
		return nil, fmt.Errorf("record %s/%s: %w", rec.Type, rec.ID, ErrNotMapped)
	}

	if entity == mapping.EntityOrderLines {
		return c.OrderForLine(ctx, rec)
	}

	removed := rec.Clone()
	receiptFields, err := c.catalog.FieldsFor(ctx, mapping.EntityReceipts)
	if err != nil {
		return nil, fmt.Errorf("removed order: %w", err)
	}
	for _, f := range receiptFields {
		if !f.IsDefault || f.Ref == nil || f.Ref.IsReference() {
			continue
		}
		for _, name := range payload.RemovalFields {
			if f.SplioField == name {
				removed.Set(f.Ref.Name, "0")
				break
			}
		}
	}
	return removed, nil
}

// CreateEntities creates a batch of records on the platform.
func (c *Connector) CreateEntities(ctx context.Context, recs []*record.Record) []Result {
	return c.dispatch(ctx, ActionCreate, c.prepare(ctx, ActionCreate, recs))
}

// ReadEntities fetches the remote state of a batch of records. Each
// successful result's Body holds the entity JSON the platform returned;
// a 2xx response whose body does not decode settles as that slot's
// error, with the raw body kept for inspection.
func (c *Connector) ReadEntities(ctx context.Context, recs []*record.Record) []Result {
	return c.dispatch(ctx, ActionRead, c.prepare(ctx, ActionRead, recs))
}

// UpdateEntities updates a batch of records on the platform. When a
// record carries an Original snapshot, the request URI addresses the
// remote object by the snapshot's key value, so key changes propagate
// instead of forking a second object.
func (c *Connector) UpdateEntities(ctx context.Context, recs []*record.Record) []Result {
	return c.dispatch(ctx, ActionUpdate, c.prepare(ctx, ActionUpdate, recs))
}

// DeleteEntities removes a batch of records from the platform. Contacts
// go through the API's DELETE method. Receipts and order lines, which
// the API cannot delete, are rewritten as zeroed updates; their results
// come first in the returned slice, ahead of the contact deletions.
// Products and stores cannot be removed at all and are logged and
// skipped.
func (c *Connector) DeleteEntities(ctx context.Context, recs []*record.Record) []Result {
	var orders []*record.Record
	var contacts []*record.Record

	for _, rec := range recs {
		entity, ok := c.Classify(rec)
		if !ok {
			c.log.Error("record is not mapped to a splio entity",
				"record_type", recordType(rec), "record_id", recordID(rec))
			continue
		}
		switch entity {
		case mapping.EntityReceipts, mapping.EntityOrderLines:
			removed, err := c.RemovedOrder(ctx, rec)
			if err != nil {
				c.log.Error("cannot prepare order removal",
					"record_type", rec.Type, "record_id", rec.ID, "error", err)
				continue
			}
			orders = append(orders, removed)
		case mapping.EntityContacts:
			contacts = append(contacts, rec)
		default:
			c.log.Error("delete is not supported for entity type",
				"entity", string(entity), "record_id", rec.ID, "error", ErrDeleteUnsupported)
		}
	}

	var results []Result
	if len(orders) > 0 {
		results = append(results, c.UpdateEntities(ctx, orders)...)
	}
	results = append(results, c.dispatch(ctx, ActionDelete, c.prepare(ctx, ActionDelete, contacts))...)
	return results
}

// job is one prepared request of a batch.
type job struct {
	method string
	path   string
	st     *payload.Structure
	body   []byte
	key    string
}

// prepare classifies, builds and addresses a batch. Records that cannot
// be dispatched are logged and dropped here, which is why results carry
// no slots for them.
func (c *Connector) prepare(ctx context.Context, action Action, recs []*record.Record) []job {
	jobs := make([]job, 0, len(recs))

	for _, rec := range recs {
		if rec == nil {
			continue
		}
		entity, ok := c.Classify(rec)
		if !ok {
			c.log.Error("record is not mapped to a splio entity",
				"record_type", rec.Type, "record_id", rec.ID)
			continue
		}

		if entity == mapping.EntityOrderLines {
			parent, err := c.OrderForLine(ctx, rec)
			if err != nil {
				c.log.Error("could not retrieve an order for order line",
					"record_id", rec.ID, "error", err)
				continue
			}
			parent.Original = rec.Original
			rec = parent
			entity = mapping.EntityReceipts
		}

		st, err := c.builder.Build(ctx, entity, rec)
		if err != nil {
			c.log.Error("payload build failed",
				"entity", string(entity), "record_id", rec.ID, "error", err)
			continue
		}

		st = c.events.dispatchRequest(ctx, action, st)

		key := st.KeyString()
		if key == "" {
			c.log.Warn("record has no key field value, skipping",
				"entity", string(entity), "record_id", rec.ID)
			continue
		}

		uriKey := key
		if action == ActionUpdate && rec.Original != nil {
			if prev := c.previousKey(ctx, entity, rec.Original); prev != "" {
				uriKey = prev
			}
		}

		j := job{st: st, key: key}
		base := entityPaths[entity]
		switch action {
		case ActionCreate:
			j.method = http.MethodPost
			j.path = base
		case ActionRead:
			j.method = http.MethodGet
			j.path = base + url.PathEscape(key)
		case ActionUpdate:
			j.method = http.MethodPut
			j.path = base + url.PathEscape(uriKey)
		case ActionDelete:
			j.method = http.MethodDelete
			j.path = base + url.PathEscape(key)
		}

		if action == ActionCreate || action == ActionUpdate {
			body, err := json.Marshal(st)
			if err != nil {
				c.log.Error("payload encoding failed",
					"entity", string(entity), "key", key, "error", err)
				continue
			}
			j.body = body
		}

		jobs = append(jobs, j)
	}
	return jobs
}

// previousKey resolves the entity's key field on the pre-change
// snapshot of a record.
func (c *Connector) previousKey(ctx context.Context, entity mapping.EntityType, original *record.Record) string {
	keyField, err := c.catalog.KeyFieldFor(ctx, entity)
	if err != nil || keyField.Ref == nil {
		return ""
	}
	return record.ValueString(c.resolver.Resolve(ctx, keyField.Ref, original))
}

// dispatch runs the prepared jobs with at most concurrency requests in
// flight and returns their results in submission order.
func (c *Connector) dispatch(ctx context.Context, action Action, jobs []job) []Result {
	results := make([]Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			results[i] = c.execute(ctx, action, j)
			return nil
		})
	}
	g.Wait()

	return results
}

func (c *Connector) execute(ctx context.Context, action Action, j job) Result {
	res := Result{Entity: j.st.Entity, Key: j.key, Action: action}

	status, data, err := c.client.request(ctx, j.method, j.path, j.body)
	res.Status = status
	res.Body = data

	switch {
	case err != nil:
		res.Err = &RequestError{Op: string(action), Entity: j.st.Entity, Key: j.key, Err: err}
		c.log.Error("splio request failed",
			"action", string(action), "entity", string(j.st.Entity), "key", j.key, "error", err)
	case status < 200 || status >= 300:
		res.Err = &RequestError{Op: string(action), Entity: j.st.Entity, Key: j.key, Status: status, Body: string(data)}
		c.log.Error("splio request rejected",
			"action", string(action), "entity", string(j.st.Entity), "key", j.key, "status", status)
	case action == ActionRead && !json.Valid(data):
		res.Err = &RequestError{Op: string(action), Entity: j.st.Entity, Key: j.key, Status: status, Body: string(data), Err: ErrMalformedResponse}
		c.log.Error("splio response body is not decodable",
			"action", string(action), "entity", string(j.st.Entity), "key", j.key, "error", ErrMalformedResponse)
	}

	c.events.dispatchResponse(ctx, action, j.st, res)
	return res
}

// RecordForTask reloads the current local record a queued task refers
// to, applying the task's language and pre-change snapshot.
func (c *Connector) RecordForTask(ctx context.Context, task Task) (*record.Record, error) {
	conf, ok := c.entities[string(task.Entity)]
	if !ok || conf.LocalType == "" {
		return nil, fmt.Errorf("entity %s: %w", task.Entity, ErrNotMapped)
	}

	keyField, err := c.catalog.KeyFieldFor(ctx, task.Entity)
	if err != nil {
		return nil, fmt.Errorf("record for task: %w", err)
	}
	if keyField.Ref == nil {
		return nil, fmt.Errorf("entity %s: %w", task.Entity, ErrNoKeyField)
	}

	recs, err := c.source.LoadByProperty(ctx, conf.LocalType, keyField.Ref.Name, task.Key)
	if err != nil {
		return nil, fmt.Errorf("record for task: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %q: %w", conf.LocalType, task.Key, record.ErrNotFound)
	}

	rec := recs[0]
	if task.Lang != "" && rec.HasTranslation(task.Lang) {
		rec = rec.Translation(task.Lang)
	}
	if task.Original != nil {
		rec.Original = task.Original
	}
	return rec, nil
}

func recordType(rec *record.Record) string {
	if rec == nil {
		return ""
	}
	return rec.Type
}

func recordID(rec *record.Record) string {
	if rec == nil {
		return ""
	}
	return rec.ID
}
