package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/localrag/ragproxy-go/internal/eventlog"
	"github.com/localrag/ragproxy-go/internal/retrieval"
)

// Config holds the HTTP proxy's configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8100 if zero; serve
	// passes rag-proxy-serve-port).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on every route.
	// If empty, authentication is disabled (development mode).
	APIKey string

	// BackendBaseURL is the spawned backend's OpenAI-compatible base URL
	// (e.g. http://127.0.0.1:8081/v1) used for chat forwarding and the
	// /v1/models passthrough.
	BackendBaseURL string
	// ChatTimeout bounds each non-streaming call to the backend.
	ChatTimeout time.Duration
	// K and Threshold are the retrieval engine's Query parameters (spec §4.F).
	K         int
	Threshold float32
	// EnableQueryOptimization toggles the query-rewrite sub-call (spec §4.G step 4).
	EnableQueryOptimization bool

	// MetricsRegistry and MetricsGatherer back GET /metrics. Tests inject an
	// isolated *prometheus.Registry so they never touch the global default.
	MetricsRegistry prometheus.Registerer
	MetricsGatherer prometheus.Gatherer
}

// querier is the subset of *retrieval.Engine the proxy depends on.
// *retrieval.Engine satisfies it; tests inject a fake.
type querier interface {
	Query(ctx context.Context, text string, k int, threshold float32) ([]retrieval.Result, error)
	IsArmed() bool
	Disarm()
	IngestPDFs(ctx context.Context, paths []string) (bool, error)
	IngestWeb(ctx context.Context, urls []string, deep bool) (bool, error)
}

// rewriter is the interface used for the optional query-rewrite sub-call
// (spec §4.G step 4). *rewrite.Rewriter satisfies it.
type rewriter interface {
	Rewrite(ctx context.Context, userText, clientModel string) string
}

// backendClient is the interface handleChatCompletions uses to reach the
// spawned backend; tests inject a fake pointed at an httptest server.
type backendClient interface {
	// ChatCompletion forwards body to the backend's /chat/completions
	// endpoint. The caller owns the returned response body and must close it.
	ChatCompletion(ctx context.Context, body []byte, stream bool) (*http.Response, error)
	// Models forwards to the backend's /models endpoint.
	Models(ctx context.Context) (*http.Response, error)
}

// Server is the HTTP proxy implementing spec §4.G and §6: it wraps the
// retrieval engine, the optional query rewriter, and a plain HTTP client
// to the backend process the supervisor spawned.
type Server struct {
	querier  querier
	rewriter rewriter
	backend  backendClient
	events   *eventlog.Log

	cfg        *Config
	httpServer *http.Server
	log        *slog.Logger
	pingers    []Pinger
	stopRL     func()
	metrics    *serverMetrics
}
