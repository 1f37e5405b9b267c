// COSA control-plane server — accepts questions over HTTP, schedules
// agentic jobs through the queue, serves snapshot cache hits, and streams
// state transitions to WebSocket sessions.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/deepily/cosa/pkg/agent"
	"github.com/deepily/cosa/pkg/api"
	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/database"
	"github.com/deepily/cosa/pkg/embedding"
	"github.com/deepily/cosa/pkg/events"
	"github.com/deepily/cosa/pkg/iolog"
	"github.com/deepily/cosa/pkg/llm"
	"github.com/deepily/cosa/pkg/memory"
	"github.com/deepily/cosa/pkg/pipeline"
	"github.com/deepily/cosa/pkg/queue"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./src/conf"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting COSA", "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration snapshot
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded", "agents", stats.Agents, "keys", stats.Keys)

	// 2. Database (migrations run inside NewClient)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Embedding service: normalization dictionaries + provider + durable cache
	normalizer, err := embedding.NewNormalizer(cfg.Embedding.DictionaryDir, cfg.Embedding.NormalizeForCache)
	if err != nil {
		slog.Error("Failed to load normalization dictionaries", "error", err)
		os.Exit(1)
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	provider, err := embedding.NewOpenAIProvider(apiKey, cfg.Embedding.Model)
	if err != nil {
		slog.Error("Failed to initialize embedding provider", "error", err)
		os.Exit(1)
	}
	embedder := embedding.NewService(provider, normalizer,
		database.NewEmbeddingCache(dbClient.Pool()), nil)

	// 4. Interaction log
	ioLog := iolog.NewService(iolog.NewPGStore(dbClient.Pool()), embedder,
		cfg.Embedding.AsyncIOLog, nil)
	defer ioLog.Close()

	// 5. Solution snapshots
	snapshots, err := memory.NewStore(cfg.Memory.SolutionsDir, embedder,
		cfg.Memory.SimilarityThreshold, nil)
	if err != nil {
		slog.Error("Failed to load solution snapshots", "error", err)
		os.Exit(1)
	}
	slog.Info("Solution snapshots loaded", "count", snapshots.Len())

	// 6. Agent core
	llmClient, err := llm.NewOpenAIClient(apiKey)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	agentSvc := agent.NewService(cfg.AgentRegistry, cfg.LLM, llmClient,
		&agent.PythonRunner{}, cfg.Root, &agent.Serializer{Root: cfg.Root}, nil)

	// 7. Streaming fabric + notifications
	verifier := api.NewHMACVerifier(cfg.Server.AuthSecret)
	connManager := events.NewConnectionManager(verifier,
		time.Duration(cfg.Server.WSWriteTimeoutSeconds)*time.Second,
		cfg.Server.WSSendBuffer, nil)

	queues := queue.NewQueueSet()
	notifications := events.NewNotificationService(
		events.NewPGNotificationStore(dbClient.Pool()),
		queue.Directory{Queues: queues}, connManager, nil)

	// 8. Pipeline-aware executor: podcast jobs chain research then podcast
	executor := pipeline.NewExecutor(agentSvc,
		pipeline.NewAgentStage(agentSvc, config.CommandResearch, "report_path",
			filepath.Join(cfg.Root, "io", "research")),
		pipeline.NewAgentStage(agentSvc, config.CommandPodcast, "audio_path",
			filepath.Join(cfg.Root, "io", "podcasts")),
		notifications, notifications, nil)

	// 9. Queue scheduler; cancel messages to running jobs route back to it
	scheduler := queue.NewScheduler(cfg.Queue, cfg.AgentRegistry, queues,
		executor, agentSvc, connManager, snapshots, ioLog, embedder, nil)
	notifications.SetCanceller(scheduler)
	scheduler.Start(ctx)
	slog.Info("Queue scheduler started", "workers", cfg.Queue.WorkerCount)

	// 10. HTTP surface
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	server := api.NewServer(scheduler, notifications, connManager, verifier, dbClient, nil)
	server.Routes(engine)

	httpServer := &http.Server{Addr: ":" + httpPort, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: drain workers first, then the HTTP listener
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Queue scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Scheduler shutdown timeout exceeded")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
