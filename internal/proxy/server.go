// Package proxy implements the Request-Augmentation Proxy (spec §4.G):
// an OpenAI-compatible HTTP server that answers /v1/chat/completions by
// augmenting the user's last message with context pulled from the
// Retrieval Engine, then forwarding to the backend process the
// Supervisor spawned.
//
// Grounded on the teacher's internal/server package: New/Start's
// listen-and-graceful-shutdown shape, the sseWriter SSE-framing
// pattern, and the requestLogger/authMiddleware/rateLimiter ambient
// stack are all adapted from internal/server/server.go and its sibling
// files, generalized from a single local agent backend to a
// retrieval-augmenting reverse proxy in front of a spawned
// OpenAI-compatible process.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localrag/ragproxy-go/internal/eventlog"
	"github.com/localrag/ragproxy-go/internal/logging"
	"github.com/localrag/ragproxy-go/internal/retrieval"
	"github.com/localrag/ragproxy-go/internal/rewrite"
)

// New constructs a Server wired to engine, an optional rw (nil disables
// query rewriting regardless of cfg.EnableQueryOptimization), and an
// optional events log (nil is valid and silently drops every record).
// The Backend Process Supervisor is managed independently by the CLI
// (spec §4.H's operations have no HTTP surface of their own — only
// the RAG/chat routes in spec §6 do).
func New(engine *retrieval.Engine, rw *rewrite.Rewriter, events *eventlog.Log, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("proxy: retrieval engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8100
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Long enough to cover a full streamed completion.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.K == 0 {
		cfg.K = retrieval.DefaultK
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = retrieval.DefaultThreshold
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	var rewriterIface rewriter
	if rw != nil {
		rewriterIface = rw
	}

	s := &Server{
		querier:  engine,
		rewriter: rewriterIface,
		backend:  newHTTPBackendClient(cfg.BackendBaseURL),
		events:   events,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/testmessage", s.handleTestMessage)
	mux.HandleFunc("GET /v1/disablerag", s.handleDisableRAG)
	mux.HandleFunc("POST /v1/ragupdatepdf", s.handleRAGUpdatePDF)
	mux.HandleFunc("POST /v1/ragupdateweb", s.handleRAGUpdateWeb)
	mux.HandleFunc("GET /api/health", s.handleHealthz)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", s.metricsHandler())

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	var handler http.Handler = mux
	if cfg.APIKey == "" {
		s.log.Warn("proxy: no API key set, authentication disabled")
	}
	handler = authMiddleware(cfg.APIKey, handler)
	handler = rl.middleware(handler)
	handler = requestLogger(s.log, handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("proxy listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("proxy: listen error: %w", err)
	case <-ctx.Done():
		if s.stopRL != nil {
			s.stopRL()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("proxy: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealthz handles GET /api/health for liveness checks.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// metricsHandler returns the Prometheus scrape handler for GET /metrics,
// bound to the registry's gatherer.
func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{})
}
