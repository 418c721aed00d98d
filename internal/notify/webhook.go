package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrWebhookFailure marks a failed webhook delivery attempt.
var ErrWebhookFailure = errors.New("notify: webhook delivery failed")

const (
	// webhookTimeout bounds one POST including body read.
	webhookTimeout = 10 * time.Second
	// errorBodyLimit caps how much of a non-2xx response body lands in the
	// error message.
	errorBodyLimit = 512
)

// WebhookSender delivers one JSON payload to one endpoint.
type WebhookSender interface {
	Send(ctx context.Context, url string, payload any) error
}

// HTTPWebhookSender is the production WebhookSender.
type HTTPWebhookSender struct {
	client *http.Client
}

// NewWebhookSender returns a sender with the standard 10-second timeout.
func NewWebhookSender() *HTTPWebhookSender {
	return &HTTPWebhookSender{client: &http.Client{Timeout: webhookTimeout}}
}

// Send POSTs payload as application/json. Any non-2xx response is an error
// carrying the status and a body snippet.
func (s *HTTPWebhookSender) Send(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %v", ErrWebhookFailure, err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request for %q: %v", ErrWebhookFailure, url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "WebsiteMonitor")
	req.Header.Set("X-Delivery-Id", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %q: %v", ErrWebhookFailure, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("%w: POST %q: status %d: %s", ErrWebhookFailure, url, resp.StatusCode, snippet)
	}
	return nil
}
