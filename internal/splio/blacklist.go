package splio

import (
	"context"
	"net/http"
	"net/url"
)

// IsBlacklisted reports whether an email address is on the universe's
// blacklist. The API answers 200 for listed addresses and 404 for clean
// ones; anything else is a failure.
func (c *Client) IsBlacklisted(ctx context.Context, email string) (bool, error) {
	status, data, err := c.request(ctx, http.MethodGet, "blacklist/"+url.PathEscape(email), nil)
	if err != nil {
		return false, &RequestError{Op: "blacklist_check", Key: email, Err: err}
	}
	switch {
	case status >= 200 && status < 300:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, &RequestError{Op: "blacklist_check", Key: email, Status: status, Body: string(data)}
	}
}

// AddToBlacklist puts an email address on the universe's blacklist.
// The API offers no way to remove one again.
func (c *Client) AddToBlacklist(ctx context.Context, email string) error {
	status, data, err := c.request(ctx, http.MethodPut, "blacklist/"+url.PathEscape(email), nil)
	if err != nil {
		return &RequestError{Op: "blacklist_add", Key: email, Err: err}
	}
	if status < 200 || status >= 300 {
		return &RequestError{Op: "blacklist_add", Key: email, Status: status, Body: string(data)}
	}
	return nil
}
