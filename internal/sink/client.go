// Package sink forwards chunk records to the external vector-store service.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dgallion1/docchunk/internal/doctree"
	"github.com/dgallion1/docchunk/internal/metrics"
)

// Client communicates with the vector-store HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	msg := e.Message
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, msg)
}

// StoreRequest is the body for POST /records.
type StoreRequest struct {
	Records []doctree.ChunkRecord `json:"records"`
}

// StoreResponse is the response from POST /records.
type StoreResponse struct {
	Stored int `json:"stored"`
}

// Store upserts records. Records carry deterministic IDs, so repeating a
// call after a transient failure does not duplicate them.
func (c *Client) Store(ctx context.Context, records []doctree.ChunkRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	body, err := json.Marshal(StoreRequest{Records: records})
	if err != nil {
		return 0, fmt.Errorf("marshal records: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/records", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.SinkRequestsTotal.WithLabelValues("store", "error").Inc()
		return 0, fmt.Errorf("store records: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "store records", http.StatusOK, http.StatusCreated); err != nil {
		metrics.SinkRequestsTotal.WithLabelValues("store", "error").Inc()
		return 0, err
	}
	metrics.SinkRequestsTotal.WithLabelValues("store", "ok").Inc()

	var out StoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Stored == 0 {
		// Stores that answer without a count accepted the whole batch.
		return len(records), nil
	}
	return out.Stored, nil
}

// DeleteSource removes every record previously stored for source.
func (c *Client) DeleteSource(ctx context.Context, source string) (int, error) {
	u := c.baseURL + "/records?source=" + url.QueryEscape(source)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.SinkRequestsTotal.WithLabelValues("delete", "error").Inc()
		return 0, fmt.Errorf("delete source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		metrics.SinkRequestsTotal.WithLabelValues("delete", "ok").Inc()
		return 0, nil
	}
	if err := checkStatus(resp, "delete source", http.StatusOK, http.StatusNoContent); err != nil {
		metrics.SinkRequestsTotal.WithLabelValues("delete", "error").Inc()
		return 0, err
	}
	metrics.SinkRequestsTotal.WithLabelValues("delete", "ok").Inc()

	var out struct {
		Deleted int `json:"deleted"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.Deleted, nil
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) authorize(r *http.Request) {
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// checkStatus maps 429 and 5xx responses to RetryableError and any other
// unexpected status to a plain error.
func checkStatus(resp *http.Response, op string, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(respBody))
}
