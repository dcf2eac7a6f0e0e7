// Package httpapi implements the HTTP transport against a PostHog-style
// backend: POST /decide/?v=3 for flags and POST /batch for events.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/event"
	"github.com/mfclarke-cnx/posthog-go/internal/transport"
)

// Client talks to the backend over HTTP. It owns request timeouts; the SDK
// core treats every failure here uniformly.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient returns a client for the given endpoint (scheme + host, no
// trailing slash required). A nil httpClient gets a 10 second timeout
// default.
func NewClient(endpoint, apiKey string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		log:        log,
	}
}

// Decide implements transport.Decider.
func (c *Client) Decide(ctx context.Context, req transport.DecideRequest) (*transport.DecideResponse, error) {
	req.APIKey = c.apiKey

	body, err := c.post(ctx, "/decide/?v=3", req)
	if err != nil {
		return nil, err
	}

	var decided transport.DecideResponse
	if err := json.Unmarshal(body, &decided); err != nil {
		return nil, fmt.Errorf("failed to decode decide response: %w", err)
	}
	return &decided, nil
}

type batchBody struct {
	APIKey string         `json:"api_key"`
	Batch  []*event.Event `json:"batch"`
}

// SendBatch implements transport.BatchSender.
func (c *Client) SendBatch(ctx context.Context, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}

	_, err := c.post(ctx, "/batch", batchBody{APIKey: c.apiKey, Batch: events})
	if err != nil {
		return err
	}

	c.log.Debug("Batch delivered",
		zap.Int("event_count", len(events)))
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("Request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("request to %s returned status %d", path, resp.StatusCode)
	}

	return body, nil
}
