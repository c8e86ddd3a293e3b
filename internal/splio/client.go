package splio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atriumdigital/spliosync/internal/config"
)

// dataPath is the versioned root of the Splio data API.
const dataPath = "data/1.9/"

// triggerPath is the endpoint of the transactional message gateway. It
// lives outside the data API and authenticates per request instead of
// per connection.
const triggerPath = "trigger/nph-9.pl/"

// Doer executes HTTP requests. *http.Client satisfies it; tests swap in
// a scripted fake.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a thin HTTP client for the Splio platform. Credentials ride
// in the URL userinfo, the way the data API authenticates.
type Client struct {
	http       Doer
	base       string
	triggerURL string
	universe   string
	triggerKey string
	log        *slog.Logger
}

// NewClient builds a client from the connection settings. A nil doer
// falls back to a default http.Client with a request timeout.
func NewClient(cfg config.SplioConfig, doer Doer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	server := strings.TrimSuffix(cfg.Server, "/")
	return &Client{
		http: doer,
		base: fmt.Sprintf("%s://%s:%s@%s/%s",
			cfg.Scheme, url.QueryEscape(cfg.Universe), url.QueryEscape(cfg.APIKey), server, dataPath),
		triggerURL: fmt.Sprintf("%s://%s/%s", cfg.Scheme, server, triggerPath),
		universe:   cfg.Universe,
		triggerKey: cfg.TriggerKey,
		log:        slog.Default().With("component", "splio_client"),
	}
}

// request performs one call against the data API and returns the status
// and response body. Transport failures return a zero status.
func (c *Client) request(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return res.StatusCode, data, nil
}

// Ping verifies the connection and credentials against the platform.
func (c *Client) Ping(ctx context.Context) error {
	status, _, err := c.request(ctx, http.MethodGet, "lists", nil)
	if err != nil {
		return &RequestError{Op: "ping", Err: err}
	}
	if status < 200 || status >= 300 {
		return &RequestError{Op: "ping", Status: status}
	}
	return nil
}

// ContactList is one contact list defined in the remote universe.
type ContactList struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// ContactLists enumerates the contact lists of the configured universe.
func (c *Client) ContactLists(ctx context.Context) ([]ContactList, error) {
	status, data, err := c.request(ctx, http.MethodGet, "lists", nil)
	if err != nil {
		return nil, &RequestError{Op: "lists", Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &RequestError{Op: "lists", Status: status, Body: string(data)}
	}

	var lists []ContactList
	if err := json.Unmarshal(data, &lists); err != nil {
		return nil, fmt.Errorf("decode contact lists: %w", err)
	}
	return lists, nil
}
