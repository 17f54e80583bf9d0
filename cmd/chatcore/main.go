// chatcore is the single-binary entry point: it loads configuration, wires
// every package built under pkg/ into the five required queues plus the
// HTTP surface, and runs until told to stop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatbridge/core/pkg/agent"
	"github.com/chatbridge/core/pkg/agent/anthropic"
	"github.com/chatbridge/core/pkg/agent/langchain"
	"github.com/chatbridge/core/pkg/api"
	"github.com/chatbridge/core/pkg/approval"
	"github.com/chatbridge/core/pkg/audit"
	"github.com/chatbridge/core/pkg/chatlock"
	"github.com/chatbridge/core/pkg/cleanup"
	"github.com/chatbridge/core/pkg/config"
	"github.com/chatbridge/core/pkg/convstore"
	"github.com/chatbridge/core/pkg/database"
	"github.com/chatbridge/core/pkg/ingestion"
	"github.com/chatbridge/core/pkg/preferences"
	"github.com/chatbridge/core/pkg/queue"
	"github.com/chatbridge/core/pkg/ratelimit"
	"github.com/chatbridge/core/pkg/router"
	"github.com/chatbridge/core/pkg/transport"
	"github.com/chatbridge/core/pkg/transport/noop"
	"github.com/chatbridge/core/pkg/transport/slack"
	"github.com/chatbridge/core/pkg/updatestore"
	"github.com/chatbridge/core/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpAddr := ":" + getEnv("HTTP_PORT", "8080")
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	podID := getEnv("POD_ID", "chatcore-local")

	log.Printf("Starting %s", version.Full())
	log.Printf("Config directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	stats := cfg.Stats()
	log.Printf("Configuration loaded: %d LLM providers, %d-entry model chain, %d trusted users",
		stats.LLMProviders, stats.ModelChain, stats.TrustedUsers)

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL, schema migrated")

	rdb := queue.NewRedisClient(redisAddr)
	defer rdb.Close()

	updatesBroker := queue.NewBroker(rdb, queue.QueueUpdates)
	agentTurnsBroker := queue.NewBroker(rdb, queue.QueueAgentTurns)
	approvalTimeoutsBroker := queue.NewBroker(rdb, queue.QueueApprovalTimeouts)
	approvalCountdownsBroker := queue.NewBroker(rdb, queue.QueueApprovalCountdowns)

	// Every other queue forwards retry-exhausted jobs onto the shared
	// retry-deadletter broker (§4.3) instead of its own private dead list.
	retryDeadletterBroker := queue.NewBroker(rdb, queue.QueueRetryDeadletter)
	updatesBroker.SetDeadletterTarget(retryDeadletterBroker)
	agentTurnsBroker.SetDeadletterTarget(retryDeadletterBroker)
	approvalTimeoutsBroker.SetDeadletterTarget(retryDeadletterBroker)
	approvalCountdownsBroker.SetDeadletterTarget(retryDeadletterBroker)

	entClient := dbClient.Client
	updateStore := updatestore.New(entClient)
	convStore := convstore.New(entClient)
	prefsResolver := preferences.New(entClient)
	auditChain := audit.New(entClient)
	limiter := ratelimit.New(rdb, ratelimitConfigFrom(cfg))
	locker := chatlock.New(rdb)
	approvalEngine := approval.New(entClient, rdb, approvalTimeoutsBroker, approvalCountdownsBroker, auditChain, map[string]approval.ToolRiskClass{})

	var bot transport.Transport
	if slackToken := os.Getenv(cfg.Slack.TokenEnv); slackToken != "" {
		if cfg.Slack.APIURL != "" {
			bot = slack.NewWithAPIURL(slackToken, cfg.Slack.APIURL)
		} else {
			bot = slack.New(slackToken)
		}
		log.Println("Slack transport configured")
	} else {
		bot = noop.Transport{}
		log.Printf("No %s set: running with a no-op transport", cfg.Slack.TokenEnv)
	}

	cardNotifier := transport.CardNotifier{Transport: bot, Sessions: convStore}

	models := newModelResolver(cfg)
	tools := emptyToolCatalogueFactory{}

	executor := &agent.Executor{
		Locker:    locker,
		Models:    models,
		Store:     convStore,
		Tools:     tools,
		Approvals: approvalEngine,
		Audit:     auditChain,
	}

	rt := &router.Router{
		Limiter:   limiter,
		Sessions:  convStore,
		Prefs:     prefsResolver,
		Approvals: approvalEngine,
		Commands:  stubCommandHandler{},
		Settings:  settingsHandler{prefs: prefsResolver},
		Wallet:    stubWalletHandler{},
	}

	ingestionPipeline := ingestion.New(updateStore, updatesBroker)
	ingestionPipeline.StartRecoverySweep(ctx)
	defer ingestionPipeline.Stop()

	cleanupService := cleanup.NewService(cfg.Retention, updateStore, convStore)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	replayBearer := os.Getenv(cfg.Replay.BearerTokenEnv)
	apiServer := api.NewServer(dbClient.DB(), updatesBroker, updateStore, replayBearer)
	apiServer.RegisterTransport("slack", ingestionPipeline, api.WebhookAuth{
		HeaderName: "X-Slack-Secret-Token",
		Secret:     os.Getenv("SLACK_WEBHOOK_SECRET"),
	})
	if err := apiServer.ValidateWiring(); err != nil {
		log.Fatalf("API server wiring incomplete: %v", err)
	}

	workerN := cfg.Queue.WorkerCount

	updatesWorker := newUpdatesWorkerPool(podID, updatesBroker, agentTurnsBroker, workerN, updateStore, rt, bot)
	updatesWorker.Start(ctx)
	defer updatesWorker.Stop()

	agentTurnsWorker := queue.NewWorkerPool(podID, agentTurnsBroker, workerN, agentTurnHandler(executor, bot))
	agentTurnsWorker.Start(ctx)
	defer agentTurnsWorker.Stop()

	expiryWorker := queue.NewWorkerPool(podID, approvalTimeoutsBroker, workerN, approvalEngine.ExpiryHandler(cardNotifier))
	expiryWorker.Start(ctx)
	defer expiryWorker.Stop()

	countdownWorker := queue.NewWorkerPool(podID, approvalCountdownsBroker, workerN, approvalEngine.CountdownHandler(cardNotifier))
	countdownWorker.Start(ctx)
	defer countdownWorker.Stop()

	// §5's concurrency budget fixes this pool at 2 workers regardless of
	// cfg.Queue.WorkerCount: dead-lettered jobs are rare and only need
	// recording, never the throughput the other queues are sized for.
	const deadletterWorkerCount = 2
	deadletterWorker := queue.NewWorkerPool(podID, retryDeadletterBroker, deadletterWorkerCount, deadletterHandler())
	deadletterWorker.Start(ctx)
	defer deadletterWorker.Stop()

	go func() {
		log.Printf("HTTP server listening on %s", httpAddr)
		if err := apiServer.Start(httpAddr); err != nil {
			log.Printf("HTTP server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, draining workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	log.Println("Shutdown complete")
}
