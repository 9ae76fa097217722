package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxAttempts = 3

// HTTPEmitter POSTs events to a webhook endpoint with bounded retries
// and exponential backoff.
type HTTPEmitter struct {
	endpoint string
	client   *http.Client
	delay    time.Duration
}

// NewHTTPEmitter returns an emitter posting to endpoint.
func NewHTTPEmitter(endpoint string) *HTTPEmitter {
	return &HTTPEmitter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		delay: time.Second,
	}
}

// Emit sends the event, retrying transient failures.
func (e *HTTPEmitter) Emit(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	delay := e.delay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := e.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close is a no-op; the underlying client needs no shutdown.
func (e *HTTPEmitter) Close() error { return nil }

// Verify HTTPEmitter implements Emitter.
var _ Emitter = (*HTTPEmitter)(nil)
