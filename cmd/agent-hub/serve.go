package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenthub/agent-hub/internal/adapter"
	"github.com/agenthub/agent-hub/internal/agentrunner"
	"github.com/agenthub/agent-hub/internal/config"
	"github.com/agenthub/agent-hub/internal/memory"
	"github.com/agenthub/agent-hub/internal/memory/embeddings"
	"github.com/agenthub/agent-hub/internal/observability"
	"github.com/agenthub/agent-hub/internal/orchestration"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	robfigcron "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	_ "github.com/lib/pq"
)

// buildServeCmd creates the "serve" command that starts the gateway
// server: Neo4j-backed memory engine, Claude and Gemini providers, the
// agent runner, and the orchestration primitives, all behind an HTTP
// health/metrics endpoint.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent-hub gateway server",
		Long: `Start the agent-hub gateway server with the memory engine, both model
providers, and the orchestration primitives running.

The server will:
1. Load configuration from the specified file
2. Connect to Neo4j and, if configured, the relational audit store
3. Construct the Claude and Gemini provider adapters
4. Start the memory manager's periodic usage-flush loop and tier-optimizer cron
5. Serve /healthz and /metrics over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  agent-hub serve

  # Start with a custom config file
  agent-hub serve --config /etc/agent-hub/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// gateway bundles every long-lived component runServe constructs, purely
// so shutdown can close them in reverse order without a long parameter list.
type gateway struct {
	cfg     *config.Config
	logger  *observability.Logger
	tracer  *observability.Tracer
	metrics *observability.Metrics

	neo4jDriver neo4j.DriverWithContext
	relDB       *sql.DB
	genaiClient *genai.Client

	events        *observability.EventRecorder
	memoryManager *memory.Manager
	claude        adapter.Provider
	gemini        adapter.Provider
	runner        *agentrunner.Runner
	subagents     *orchestration.SubagentManager
	parallel      *orchestration.ParallelExecutor
	makerChecker  *orchestration.MakerChecker
	roundtable    *orchestration.RoundtableService

	tracerShutdown func(context.Context) error
	cronRunner     *robfigcron.Cron
	httpServer     *http.Server
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gw.memoryManager.Start(ctx)

	go func() {
		gw.logger.Info(ctx, "agent-hub gateway listening", "addr", gw.httpServer.Addr)
		if err := gw.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			gw.logger.Error(ctx, "http server exited unexpectedly", "error", err)
		}
	}()

	<-ctx.Done()
	gw.logger.Info(ctx, "shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	return gw.shutdown(shutdownCtx)
}

// buildGateway wires every subsystem from cfg. Construction order follows
// the dependency graph: backend before manager, manager before runner,
// runner before orchestration primitives that spawn through it.
func buildGateway(ctx context.Context, cfg *config.Config) (*gateway, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:  "agent-hub",
		Endpoint:     cfg.Observability.Tracing.Endpoint,
		SamplingRate: cfg.Observability.Tracing.SamplingRate,
		Insecure:     cfg.Observability.Tracing.Insecure,
	})
	metrics := observability.NewMetrics()

	driver, err := neo4j.NewDriverWithContext(cfg.Memory.Neo4jURI,
		neo4j.BasicAuth(cfg.Memory.Neo4jUser, cfg.Memory.Neo4jPassword, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity check: %w", err)
	}

	embedder, err := buildEmbedder(cfg.Memory.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("embeddings provider: %w", err)
	}

	backend := memory.NewGraphBackend(driver, cfg.Memory.Neo4jDatabase, embedder)

	var relDB *sql.DB
	if cfg.Memory.RelationalDSN != "" {
		relDB, err = sql.Open("postgres", cfg.Memory.RelationalDSN)
		if err != nil {
			return nil, fmt.Errorf("relational audit store: %w", err)
		}
		if err := relDB.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping relational audit store: %w", err)
		}
	}

	var claude adapter.Provider
	if claudeProvider, err := adapter.NewClaudeProvider(); err != nil {
		logger.Warn(ctx, "claude provider unavailable, continuing without it", "error", err)
	} else {
		claude = claudeProvider
	}

	var gemini adapter.Provider
	var genaiClient *genai.Client
	if cfg.Providers.Gemini.APIKey != "" {
		geminiProvider, err := adapter.NewGeminiProvider(ctx, cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		gemini = geminiProvider
		genaiClient, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.Providers.Gemini.APIKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return nil, fmt.Errorf("gemini classifier client: %w", err)
		}
	}

	var classifier memory.PairClassifier
	var summarizer memory.TranscriptSummarizer
	if genaiClient != nil {
		classifier = memory.NewGeminiPairClassifier(genaiClient, cfg.Memory.ClusteringModel)
		summarizer = memory.NewGeminiTranscriptSummarizer(genaiClient, cfg.Memory.SummarizerModel)
	}

	memManager, err := memory.NewManager(memory.Config{
		Backend:       backend,
		RelationalDB:  relDB,
		Classifier:    classifier,
		Summarizer:    summarizer,
		AppName:       cfg.Session.AppName,
		FlushInterval: cfg.Memory.FlushInterval,
		IndexTTL:      cfg.Memory.IndexTTL,
		Logger:        logger.Slog(),
	})
	if err != nil {
		return nil, fmt.Errorf("memory manager: %w", err)
	}

	cronRunner := robfigcron.New()
	if _, err := memManager.Tier.ScheduleCron(cronRunner, cfg.Memory.TierOptimizerCron); err != nil {
		return nil, fmt.Errorf("schedule tier optimizer: %w", err)
	}
	cronRunner.Start()

	events := observability.NewEventRecorder(observability.NewMemoryEventStore(10000), logger)
	runner := agentrunner.NewRunner(claude, gemini, memManager).WithEvents(events)

	providers := orchestration.ProviderSet{}
	if claude != nil {
		providers["claude"] = claude
	}
	if gemini != nil {
		providers["gemini"] = gemini
	}
	subagents := orchestration.NewSubagentManager(providers)
	parallel := orchestration.NewParallelExecutor(subagents, cfg.Orchestration.MaxConcurrency)
	makerChecker := orchestration.NewCodeReviewPattern(subagents, "claude", "gemini")
	roundtable := orchestration.NewRoundtableService(claude, gemini, cfg.Providers.Claude.DefaultModel, cfg.Providers.Gemini.DefaultModel, memManager)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	listen := cfg.Observability.Metrics.Listen
	if listen == "" {
		listen = ":9090"
	}

	return &gateway{
		cfg:            cfg,
		logger:         logger,
		tracer:         tracer,
		metrics:        metrics,
		neo4jDriver:    driver,
		relDB:          relDB,
		genaiClient:    genaiClient,
		events:         events,
		memoryManager:  memManager,
		claude:         claude,
		gemini:         gemini,
		runner:         runner,
		subagents:      subagents,
		parallel:       parallel,
		makerChecker:   makerChecker,
		roundtable:     roundtable,
		tracerShutdown: tracerShutdown,
		cronRunner:     cronRunner,
		httpServer:     &http.Server{Addr: listen, Handler: mux},
	}, nil
}

func buildEmbedder(cfg embeddings.Config) (embeddings.Provider, error) {
	if cfg.Provider == "" {
		cfg.Provider = "ollama"
	}
	return embeddings.New(cfg)
}

// shutdown closes every component buildGateway opened, in reverse order.
func (g *gateway) shutdown(ctx context.Context) error {
	if err := g.httpServer.Shutdown(ctx); err != nil {
		g.logger.Error(ctx, "http server shutdown failed", "error", err)
	}
	cronStopCtx := g.cronRunner.Stop()
	<-cronStopCtx.Done()

	g.memoryManager.Stop(ctx)

	if g.relDB != nil {
		_ = g.relDB.Close()
	}
	if err := g.neo4jDriver.Close(ctx); err != nil {
		g.logger.Error(ctx, "neo4j driver close failed", "error", err)
	}
	if g.tracerShutdown != nil {
		if err := g.tracerShutdown(ctx); err != nil {
			g.logger.Error(ctx, "tracer shutdown failed", "error", err)
		}
	}

	g.logger.Info(ctx, "agent-hub gateway stopped gracefully")
	return nil
}
