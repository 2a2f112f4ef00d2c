package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/localrag/ragproxy-go/internal/config"
	"github.com/localrag/ragproxy-go/internal/embed"
	"github.com/localrag/ragproxy-go/internal/eventlog"
	"github.com/localrag/ragproxy-go/internal/logging"
	"github.com/localrag/ragproxy-go/internal/proxy"
	"github.com/localrag/ragproxy-go/internal/retrieval"
	"github.com/localrag/ragproxy-go/internal/rewrite"
	"github.com/localrag/ragproxy-go/internal/supervisor"
	"github.com/localrag/ragproxy-go/internal/tracing"
)

// NewServeCmd constructs the `ragproxy serve` command: it loads config,
// wires the retrieval engine, the optional query rewriter, the backend
// process supervisor, and the Request-Augmentation Proxy, then blocks
// serving HTTP until interrupted.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var apiKey string
	var start string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragproxy HTTP gateway",
		Long: `Start the ragproxy HTTP gateway on localhost.

The gateway exposes an OpenAI-compatible /v1/chat/completions endpoint
that augments requests with retrieved context, plus the RAG management
endpoints (/v1/models, /v1/testmessage, /v1/disablerag, /v1/ragupdatepdf,
/v1/ragupdateweb) and /api/health, /api/ready and /metrics. Backend
processes are not managed over HTTP: use --start or "ragproxy endpoint".

Examples:
  ragproxy serve
  ragproxy serve --port 9090
  ragproxy serve --start local-7b`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()

			// Langfuse tracing wraps every eino model call, including the
			// optional query-rewrite sub-call — opt-in, no-op if keys absent.
			if handler, flush, ok := tracing.Setup(); ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("serve: langfuse tracing enabled")
			} else {
				log.Info("serve: langfuse tracing disabled (LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set)")
			}

			dir, err := config.ResolveDir(configDir)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			cfg, err := config.Load(dir, log)
			if err != nil {
				return fmt.Errorf("serve: failed to load config: %w", err)
			}

			embedder, err := embed.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}
			log.Info("serve: embedder initialised")

			engine := retrieval.New(embedder, cfg.RAG.DocumentBaseDir)

			var rw *rewrite.Rewriter
			if cfg.RAG.EnableQueryOptimization {
				rw = rewrite.New(fmt.Sprintf("http://127.0.0.1:%d/v1", cfg.RAG.LLMServerPort))
			}

			events, err := eventlog.Open(eventlog.DefaultPath(dir))
			if err != nil {
				return fmt.Errorf("serve: failed to open event log: %w", err)
			}
			defer events.Close()

			endpoints := make([]supervisor.EndpointConfig, len(cfg.Endpoints))
			for i, e := range cfg.Endpoints {
				endpoints[i] = supervisor.EndpointConfig{Name: e.Name, Flags: e.Flags}
			}
			processListPath := dir + "/process_list.json"
			sup := supervisor.New(cfg.App.LlamaServerPath, endpoints, processListPath)

			if start != "" {
				if err := sup.Create(start); err != nil {
					return fmt.Errorf("serve: failed to start endpoint %q: %w", start, err)
				}
				log.Info("serve: backend endpoint started", slog.String("name", start))
				defer sup.StopAll()
			}

			proxyPort := cfg.RAG.ProxyServePort
			if port != 0 {
				proxyPort = port
			}

			srv, err := proxy.New(engine, rw, events, &proxy.Config{
				Host:                    host,
				Port:                    proxyPort,
				APIKey:                  apiKey,
				BackendBaseURL:          fmt.Sprintf("http://127.0.0.1:%d/v1", cfg.RAG.LLMServerPort),
				K:                       cfg.RAG.ChunkCount,
				Threshold:               retrieval.DefaultThreshold,
				EnableQueryOptimization: cfg.RAG.EnableQueryOptimization,
				Logger:                  log,
				Pingers: []proxy.Pinger{
					proxy.NewBackendPinger(fmt.Sprintf("http://127.0.0.1:%d/v1", cfg.RAG.LLMServerPort)),
					proxy.NewEmbedderPinger(embedder.Embed),
				},
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create proxy: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: rag-proxy-serve-port from config)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token required on protected routes (default: disabled)")
	cmd.Flags().StringVar(&start, "start", "", "Name of a configured endpoint to start before serving")

	return cmd
}
