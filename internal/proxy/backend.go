package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
)

// httpBackendClient is a plain HTTP client to the OpenAI-compatible backend
// process the supervisor spawned. It deliberately carries no client-level
// Timeout — a streaming chat-completion request can legitimately run for
// minutes, so callers bound each request via its own context instead.
type httpBackendClient struct {
	baseURL string
	client  *http.Client
}

// newHTTPBackendClient constructs a client targeting baseURL (e.g.
// "http://127.0.0.1:8081/v1").
func newHTTPBackendClient(baseURL string) *httpBackendClient {
	return &httpBackendClient{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// ChatCompletion forwards body to the backend's POST /chat/completions
// endpoint. The caller owns the returned response and must close its body.
func (c *httpBackendClient) ChatCompletion(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: chat completion: %w", err)
	}
	return resp, nil
}

// Models forwards to the backend's GET /models endpoint.
func (c *httpBackendClient) Models(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("backend: build models request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: models: %w", err)
	}
	return resp, nil
}
