package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// BackendPinger probes the spawned backend's /models endpoint for
// reachability. It is the ragproxy analogue of the teacher's LLMPinger,
// simplified to a plain HTTP GET since the backend here is always a
// local OpenAI-compatible process rather than a configurable provider
// that may expose its own health-check hook.
type BackendPinger struct {
	baseURL string
	client  *http.Client
}

// NewBackendPinger constructs a BackendPinger targeting the backend's
// base URL (e.g. "http://127.0.0.1:8081/v1").
func NewBackendPinger(baseURL string) *BackendPinger {
	return &BackendPinger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Name identifies this probe in readiness responses.
func (p *BackendPinger) Name() string { return "backend" }

// Ping issues a GET /models request and treats any 2xx response as healthy.
func (p *BackendPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// EmbedderPinger probes the embedding provider used for retrieval by
// running a trivial embed call. Embed implementations that wrap a local
// model (rather than a remote API) will simply succeed immediately.
type EmbedderPinger struct {
	embed func(ctx context.Context, texts []string) ([][]float32, error)
}

// NewEmbedderPinger constructs an EmbedderPinger around embed's Embed method.
func NewEmbedderPinger(embed func(ctx context.Context, texts []string) ([][]float32, error)) *EmbedderPinger {
	return &EmbedderPinger{embed: embed}
}

// Name identifies this probe in readiness responses.
func (p *EmbedderPinger) Name() string { return "embedder" }

// Ping embeds a single short probe string and reports any error encountered.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if _, err := p.embed(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	return nil
}
