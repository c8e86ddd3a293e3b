package splio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atriumdigital/spliosync/internal/config"
	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/payload"
	"github.com/atriumdigital/spliosync/internal/record"
	"github.com/atriumdigital/spliosync/internal/resolve"
)

// fakeDoer scripts HTTP exchanges and records every request it saw,
// including in-flight concurrency.
type fakeDoer struct {
	mu       sync.Mutex
	handler  func(req *http.Request, body string) *http.Response
	requests []capturedRequest

	inflight    int
	maxInflight int
}

type capturedRequest struct {
	Method string
	Path   string
	Body   string
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}

	d.mu.Lock()
	d.requests = append(d.requests, capturedRequest{Method: req.Method, Path: req.URL.Path, Body: body})
	d.inflight++
	if d.inflight > d.maxInflight {
		d.maxInflight = d.inflight
	}
	handler := d.handler
	d.mu.Unlock()

	var res *http.Response
	if handler != nil {
		res = handler(req, body)
	}
	if res == nil {
		res = httpResponse(http.StatusOK, `{}`)
	}

	d.mu.Lock()
	d.inflight--
	d.mu.Unlock()
	return res, nil
}

func httpResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

// fakeCatalog serves mappings from memory.
type fakeCatalog struct {
	fields map[mapping.EntityType][]mapping.Field
}

func (f *fakeCatalog) FieldsFor(_ context.Context, entity mapping.EntityType) ([]mapping.Field, error) {
	return f.fields[entity], nil
}

func (f *fakeCatalog) KeyFieldFor(_ context.Context, entity mapping.EntityType) (*mapping.Field, error) {
	for _, field := range f.fields[entity] {
		if field.IsKey {
			return &field, nil
		}
	}
	return nil, mapping.ErrNotFound
}

type fakeSource struct {
	records []*record.Record
}

func (f *fakeSource) Load(_ context.Context, localType, id string) (*record.Record, error) {
	for _, r := range f.records {
		if r.Type == localType && r.ID == id {
			return r, nil
		}
	}
	return nil, record.ErrNotFound
}

func (f *fakeSource) LoadByProperty(_ context.Context, localType, field string, value any) ([]*record.Record, error) {
	var out []*record.Record
	for _, r := range f.records {
		if r.Type != localType {
			continue
		}
		for _, v := range r.Values(field) {
			if record.ValueEquals(v, value) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func mustField(t *testing.T, entity mapping.EntityType, splio, local string, key bool) mapping.Field {
	t.Helper()
	ref, err := mapping.ParseFieldRef(local)
	if err != nil {
		t.Fatalf("ParseFieldRef(%q): %v", local, err)
	}
	return mapping.Field{
		ID:         mapping.FieldID(entity, splio),
		Entity:     entity,
		SplioField: splio,
		LocalField: local,
		Ref:        ref,
		Type:       mapping.TypeString,
		IsKey:      key,
		IsDefault:  mapping.IsDefaultField(entity, splio),
	}
}

func testCatalog(t *testing.T) *fakeCatalog {
	t.Helper()
	return &fakeCatalog{fields: map[mapping.EntityType][]mapping.Field{
		mapping.EntityContacts: {
			mustField(t, mapping.EntityContacts, "email", "mail", true),
			mustField(t, mapping.EntityContacts, "firstname", "field_first_name", false),
		},
		mapping.EntityProducts: {
			mustField(t, mapping.EntityProducts, "extid", "sku", true),
			mustField(t, mapping.EntityProducts, "name", "title", false),
		},
		mapping.EntityStores: {
			mustField(t, mapping.EntityStores, "extid", "store_code", true),
		},
		mapping.EntityReceipts: {
			mustField(t, mapping.EntityReceipts, "extid", "order_number", true),
			mustField(t, mapping.EntityReceipts, "shipping_amount", "shipping", false),
			mustField(t, mapping.EntityReceipts, "discount_amount", "discount", false),
			mustField(t, mapping.EntityReceipts, "total_price", "total", false),
			mustField(t, mapping.EntityReceipts, "order_completed", "completed", false),
		},
		mapping.EntityOrderLines: {
			mustField(t, mapping.EntityOrderLines, "extid", "line_sku", false),
			mustField(t, mapping.EntityOrderLines, "order_id", "order_number", false),
			mustField(t, mapping.EntityOrderLines, "quantity", "qty", false),
		},
	}}
}

func testEntities() config.EntityMap {
	return config.EntityMap{
		"contacts":    {LocalType: "user", LocalBundle: "customer", KeyField: "email_contacts"},
		"products":    {LocalType: "node", LocalBundle: "product", KeyField: "extid_products"},
		"receipts":    {LocalType: "commerce_order", KeyField: "extid_receipts"},
		"order_lines": {LocalType: "commerce_order_item"},
		"stores":      {LocalType: "store", KeyField: "extid_stores"},
	}
}

func testConnector(t *testing.T, doer *fakeDoer, source *fakeSource, concurrency int) *Connector {
	t.Helper()
	catalog := testCatalog(t)
	resolver := resolve.New(source)
	builder := payload.NewBuilder(catalog, source, resolver, testEntities())
	client := NewClient(config.SplioConfig{
		Scheme:     "https",
		Server:     "example.splio.test/api",
		Universe:   "acme",
		APIKey:     "secret",
		TriggerKey: "trigger-secret",
	}, doer)
	return NewConnector(client, builder, catalog, source, resolver, NewEvents(), testEntities(), concurrency)
}

func contact(id, email string) *record.Record {
	return record.New("user", id, "customer").Set("mail", email)
}

func TestClassify(t *testing.T) {
	c := testConnector(t, &fakeDoer{}, &fakeSource{}, 1)

	cases := []struct {
		name   string
		rec    *record.Record
		want   mapping.EntityType
		mapped bool
	}{
		{"customer bundle is a contact", record.New("user", "1", "customer"), mapping.EntityContacts, true},
		{"product bundle", record.New("node", "2", "product"), mapping.EntityProducts, true},
		{"order", record.New("commerce_order", "3", "default"), mapping.EntityReceipts, true},
		{"order item", record.New("commerce_order_item", "4", "default"), mapping.EntityOrderLines, true},
		{"unconfigured bundle", record.New("node", "5", "article"), "", false},
		{"wrong bundle on mapped type", record.New("user", "6", "staff"), "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := c.Classify(tc.rec)
			if ok != tc.mapped || got != tc.want {
				t.Errorf("Classify = %s/%v, want %s/%v", got, ok, tc.want, tc.mapped)
			}
		})
	}
}

func TestCreateEntities_ResultsInSubmissionOrder(t *testing.T) {
	// Earlier submissions finish last: completion order is reversed.
	doer := &fakeDoer{handler: func(req *http.Request, body string) *http.Response {
		if strings.Contains(body, "a@example.com") {
			time.Sleep(40 * time.Millisecond)
		} else if strings.Contains(body, "b@example.com") {
			time.Sleep(20 * time.Millisecond)
		}
		return httpResponse(http.StatusOK, `{}`)
	}}
	c := testConnector(t, doer, &fakeSource{}, 3)

	results := c.CreateEntities(context.Background(), []*record.Record{
		contact("1", "a@example.com"),
		contact("2", "b@example.com"),
		contact("3", "c@example.com"),
	})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if results[i].Key != want {
			t.Errorf("results[%d].Key = %s, want %s", i, results[i].Key, want)
		}
		if !results[i].OK() {
			t.Errorf("results[%d] not OK: %v", i, results[i].Err)
		}
	}
}

func TestCreateEntities_ConcurrencyCap(t *testing.T) {
	doer := &fakeDoer{handler: func(*http.Request, string) *http.Response {
		time.Sleep(10 * time.Millisecond)
		return httpResponse(http.StatusOK, `{}`)
	}}
	c := testConnector(t, doer, &fakeSource{}, 2)

	recs := make([]*record.Record, 5)
	for i := range recs {
		recs[i] = contact(string(rune('1'+i)), "user"+string(rune('a'+i))+"@example.com")
	}
	c.CreateEntities(context.Background(), recs)

	if doer.maxInflight > 2 {
		t.Errorf("max in-flight requests = %d, want at most 2", doer.maxInflight)
	}
	if len(doer.requests) != 5 {
		t.Errorf("dispatched %d requests, want 5", len(doer.requests))
	}
}

func TestCreateEntities_SkippedRecordsYieldNoSlot(t *testing.T) {
	c := testConnector(t, &fakeDoer{}, &fakeSource{}, 1)

	results := c.CreateEntities(context.Background(), []*record.Record{
		contact("1", "a@example.com"),
		record.New("node", "2", "article"), // unmapped
		contact("3", ""),                   // no key value
		contact("4", "d@example.com"),
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (skipped records carry no slot)", len(results))
	}
	if results[0].Key != "a@example.com" || results[1].Key != "d@example.com" {
		t.Errorf("result keys = %s, %s", results[0].Key, results[1].Key)
	}
}

func TestCreateEntities_FailureStaysInItsSlot(t *testing.T) {
	doer := &fakeDoer{handler: func(req *http.Request, body string) *http.Response {
		if strings.Contains(body, "bad@example.com") {
			return httpResponse(http.StatusBadRequest, `{"error":"invalid"}`)
		}
		return httpResponse(http.StatusOK, `{}`)
	}}
	c := testConnector(t, doer, &fakeSource{}, 2)

	results := c.CreateEntities(context.Background(), []*record.Record{
		contact("1", "good@example.com"),
		contact("2", "bad@example.com"),
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].OK() {
		t.Errorf("first result should be OK, got %v", results[0].Err)
	}
	var reqErr *RequestError
	if !errors.As(results[1].Err, &reqErr) || reqErr.Status != http.StatusBadRequest {
		t.Errorf("second result error = %v, want RequestError with status 400", results[1].Err)
	}
	if reqErr.Transient() {
		t.Error("a 400 must not classify as transient")
	}
}

func TestUpdateEntities_UsesOriginalKeyInURI(t *testing.T) {
	doer := &fakeDoer{}
	c := testConnector(t, doer, &fakeSource{}, 1)

	rec := contact("1", "new@example.com")
	rec.Original = contact("1", "old@example.com")

	results := c.UpdateEntities(context.Background(), []*record.Record{rec})
	if len(results) != 1 || !results[0].OK() {
		t.Fatalf("results = %+v", results)
	}

	req := doer.requests[0]
	if req.Method != http.MethodPut {
		t.Errorf("method = %s, want PUT", req.Method)
	}
	if !strings.HasSuffix(req.Path, "/contact/old@example.com") {
		t.Errorf("path = %s, want the original key in the URI", req.Path)
	}
	if !strings.Contains(req.Body, "new@example.com") {
		t.Errorf("body must carry the new key, got %s", req.Body)
	}
}

func TestReadEntities_ReturnsRemoteBody(t *testing.T) {
	doer := &fakeDoer{handler: func(req *http.Request, _ string) *http.Response {
		return httpResponse(http.StatusOK, `{"email":"a@example.com","firstname":"Ada"}`)
	}}
	c := testConnector(t, doer, &fakeSource{}, 1)

	results := c.ReadEntities(context.Background(), []*record.Record{contact("1", "a@example.com")})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if doer.requests[0].Method != http.MethodGet {
		t.Errorf("method = %s, want GET", doer.requests[0].Method)
	}

	var decoded map[string]any
	if err := json.Unmarshal(results[0].Body, &decoded); err != nil {
		t.Fatalf("result body is not JSON: %v", err)
	}
	if decoded["firstname"] != "Ada" {
		t.Errorf("body = %s", results[0].Body)
	}

	keyed := Keyed(results)
	if _, ok := keyed["a@example.com"]; !ok {
		t.Error("keyed view missing the record's key")
	}
}

func TestReadEntities_MalformedBodyIsAnError(t *testing.T) {
	doer := &fakeDoer{handler: func(req *http.Request, _ string) *http.Response {
		return httpResponse(http.StatusOK, `{"email": "a@example.com", "first`)
	}}
	c := testConnector(t, doer, &fakeSource{}, 1)

	results := c.ReadEntities(context.Background(), []*record.Record{contact("1", "a@example.com")})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	res := results[0]
	if res.OK() {
		t.Error("a truncated body must not settle as success")
	}
	if !errors.Is(res.Err, ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", res.Err)
	}
	var reqErr *RequestError
	if !errors.As(res.Err, &reqErr) || reqErr.Transient() {
		t.Errorf("err = %v, want a permanent request error", res.Err)
	}
	if len(res.Body) == 0 {
		t.Error("raw body should be kept for inspection")
	}
}

func TestOrderLine_RedirectsToParentReceipt(t *testing.T) {
	source := &fakeSource{records: []*record.Record{
		record.New("commerce_order", "9", "default").
			Set("order_number", "ORD-9").Set("total", "50.00"),
		record.New("commerce_order_item", "11", "default").
			Set("line_sku", "SKU-1").Set("order_number", "ORD-9").Set("qty", 1),
	}}
	doer := &fakeDoer{}
	c := testConnector(t, doer, source, 1)

	line := record.New("commerce_order_item", "11", "default").
		Set("line_sku", "SKU-1").Set("order_number", "ORD-9").Set("qty", 1)

	results := c.UpdateEntities(context.Background(), []*record.Record{line})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Entity != mapping.EntityReceipts || results[0].Key != "ORD-9" {
		t.Errorf("result = %s/%s, want receipts/ORD-9", results[0].Entity, results[0].Key)
	}
	if !strings.HasSuffix(doer.requests[0].Path, "/order/ORD-9") {
		t.Errorf("path = %s, want the parent order URI", doer.requests[0].Path)
	}
}

func TestOrderLine_MissingParentYieldsNoSlot(t *testing.T) {
	doer := &fakeDoer{}
	c := testConnector(t, doer, &fakeSource{}, 1)

	line := record.New("commerce_order_item", "11", "default").
		Set("line_sku", "SKU-1").Set("order_number", "ORD-MISSING")

	results := c.CreateEntities(context.Background(), []*record.Record{line})
	if len(results) != 0 {
		t.Fatalf("got %d results, want none for an orphaned order line", len(results))
	}
	if len(doer.requests) != 0 {
		t.Errorf("dispatched %d requests, want none", len(doer.requests))
	}
}

func TestDeleteEntities_SplitsByEntityType(t *testing.T) {
	source := &fakeSource{}
	doer := &fakeDoer{}
	c := testConnector(t, doer, source, 1)

	receipt := record.New("commerce_order", "9", "default").
		Set("order_number", "ORD-9").Set("total", "50.00").Set("completed", 1)
	product := record.New("node", "5", "product").Set("sku", "SKU-9")

	results := c.DeleteEntities(context.Background(), []*record.Record{
		contact("1", "a@example.com"),
		receipt,
		product, // cannot be deleted remotely, logged and skipped
	})

	// Order removals come first, then contact deletions.
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Entity != mapping.EntityReceipts || results[0].Action != ActionUpdate {
		t.Errorf("first result = %s/%s, want receipts update", results[0].Entity, results[0].Action)
	}
	if results[1].Entity != mapping.EntityContacts || results[1].Action != ActionDelete {
		t.Errorf("second result = %s/%s, want contacts delete", results[1].Entity, results[1].Action)
	}

	if len(doer.requests) != 2 {
		t.Fatalf("dispatched %d requests, want 2", len(doer.requests))
	}
	put, del := doer.requests[0], doer.requests[1]
	if put.Method != http.MethodPut || !strings.HasSuffix(put.Path, "/order/ORD-9") {
		t.Errorf("receipt removal request = %s %s, want PUT /order/ORD-9", put.Method, put.Path)
	}
	if !strings.Contains(put.Body, `"products":[]`) {
		t.Errorf("receipt removal body must empty the products array, got %s", put.Body)
	}
	if !strings.Contains(put.Body, `"total_price":"0"`) {
		t.Errorf("receipt removal body must zero total_price, got %s", put.Body)
	}
	if del.Method != http.MethodDelete || !strings.HasSuffix(del.Path, "/contact/a@example.com") {
		t.Errorf("contact deletion request = %s %s", del.Method, del.Path)
	}
}

func TestRequestListener_ReplacesPayload(t *testing.T) {
	doer := &fakeDoer{}
	c := testConnector(t, doer, &fakeSource{}, 1)

	c.Events().OnRequest(func(_ context.Context, action Action, st *payload.Structure) *payload.Structure {
		replaced := st.Clone()
		replaced.SetDefault("firstname", "Rewritten")
		return replaced
	})

	c.CreateEntities(context.Background(), []*record.Record{
		contact("1", "a@example.com").Set("field_first_name", "Ada"),
	})

	if !strings.Contains(doer.requests[0].Body, `"firstname":"Rewritten"`) {
		t.Errorf("listener rewrite not reflected in body: %s", doer.requests[0].Body)
	}
}

func TestResponseListener_SeesFailures(t *testing.T) {
	doer := &fakeDoer{handler: func(*http.Request, string) *http.Response {
		return httpResponse(http.StatusInternalServerError, `{}`)
	}}
	c := testConnector(t, doer, &fakeSource{}, 1)

	var seen []Result
	c.Events().OnResponse(func(_ context.Context, _ Action, _ *payload.Structure, res Result) {
		seen = append(seen, res)
	})

	c.CreateEntities(context.Background(), []*record.Record{contact("1", "a@example.com")})

	if len(seen) != 1 {
		t.Fatalf("listener saw %d results, want 1", len(seen))
	}
	var reqErr *RequestError
	if !errors.As(seen[0].Err, &reqErr) || !reqErr.Transient() {
		t.Errorf("listener result error = %v, want a transient RequestError", seen[0].Err)
	}
}

func TestRecordForTask_AppliesLangAndOriginal(t *testing.T) {
	base := record.New("user", "1", "customer").Set("mail", "a@example.com").Set("field_first_name", "Ada")
	translated := record.New("user", "1", "customer").Set("mail", "a@example.com").Set("field_first_name", "Adèle")
	translated.Lang = "fr"
	base.Langs = map[string]*record.Record{"fr": translated}

	source := &fakeSource{records: []*record.Record{base}}
	c := testConnector(t, &fakeDoer{}, source, 1)

	original := contact("1", "old@example.com")
	rec, err := c.RecordForTask(context.Background(), Task{
		Key:      "a@example.com",
		Entity:   mapping.EntityContacts,
		Action:   ActionUpdate,
		Lang:     "fr",
		Original: original,
	})
	if err != nil {
		t.Fatalf("RecordForTask: %v", err)
	}
	if rec.Value("field_first_name") != "Adèle" {
		t.Errorf("translation not applied, firstname = %v", rec.Value("field_first_name"))
	}
	if rec.Original != original {
		t.Error("original snapshot not attached")
	}
}

func TestRecordForTask_MissingRecord(t *testing.T) {
	c := testConnector(t, &fakeDoer{}, &fakeSource{}, 1)

	_, err := c.RecordForTask(context.Background(), Task{
		Key:    "ghost@example.com",
		Entity: mapping.EntityContacts,
		Action: ActionUpdate,
	})
	if !errors.Is(err, record.ErrNotFound) {
		t.Errorf("err = %v, want record.ErrNotFound", err)
	}
}
