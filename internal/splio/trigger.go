package splio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// TriggerRequest fires a predefined transactional message at a set of
// recipients. Each recipient carries at least an email address plus any
// substitution properties the message template uses.
type TriggerRequest struct {
	MessageID  string           `json:"message"`
	Recipients []map[string]any `json:"recipients"`

	// Options are extra form parameters (op_code, category, ...).
	Options map[string]string `json:"options,omitempty"`
}

// TriggerMessage posts a message trigger to the transactional gateway.
// The gateway takes form-encoded parameters with the recipients as an
// embedded JSON document, and authenticates with the trigger key rather
// than the data API key.
func (c *Client) TriggerMessage(ctx context.Context, req TriggerRequest) error {
	if req.MessageID == "" {
		return fmt.Errorf("trigger: message id is required")
	}
	if len(req.Recipients) == 0 {
		return fmt.Errorf("trigger: at least one recipient is required")
	}

	rcpts, err := json.Marshal(req.Recipients)
	if err != nil {
		return fmt.Errorf("trigger: encode recipients: %w", err)
	}

	form := url.Values{}
	form.Set("universe", c.universe)
	form.Set("key", c.triggerKey)
	form.Set("message", req.MessageID)
	form.Set("rcpts", string(rcpts))
	for k, v := range req.Options {
		form.Set(k, v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.triggerURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("trigger: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return &RequestError{Op: "trigger", Key: req.MessageID, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return &RequestError{Op: "trigger", Key: req.MessageID, Status: res.StatusCode, Body: string(body)}
	}
	return nil
}
