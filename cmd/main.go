package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beaconkb/beacon-backend/internal/clients/openai"
	"github.com/beaconkb/beacon-backend/internal/cost"
	"github.com/beaconkb/beacon-backend/internal/data/db"
	"github.com/beaconkb/beacon-backend/internal/events"
	"github.com/beaconkb/beacon-backend/internal/graph"
	"github.com/beaconkb/beacon-backend/internal/observability"
	"github.com/beaconkb/beacon-backend/internal/pipeline"
	"github.com/beaconkb/beacon-backend/internal/platform/envutil"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/platform/neo4jdb"
	"github.com/beaconkb/beacon-backend/internal/repos"
	"github.com/beaconkb/beacon-backend/internal/resolve"
	"github.com/beaconkb/beacon-backend/internal/retry"
	"github.com/beaconkb/beacon-backend/internal/search"
	"github.com/beaconkb/beacon-backend/internal/types"
)

// ingestAdapter narrows the orchestrator to the intake consumer's view.
type ingestAdapter struct {
	orch *pipeline.Orchestrator
}

func (a ingestAdapter) Ingest(ctx context.Context, signals []*types.Signal) *events.IngestReportView {
	report := a.orch.Ingest(ctx, signals)
	return &events.IngestReportView{
		Total:     report.Total,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
	}
}

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Neo4j (optional: without it graph writes divert to the backlog)
	var store graph.Store
	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("Neo4j init failed, graph writes will queue in the backlog", "error", err)
	}
	if neo4jClient != nil {
		store = graph.NewNeo4jStore(neo4jClient, log)
	} else {
		if err == nil {
			log.Warn("NEO4J_URI not set, graph writes will queue in the backlog")
		}
		store = graph.NewUnavailableStore()
	}

	// Repos
	log.Info("Setting up repos...")
	signalRepo := repos.NewSignalRepo(thePG, log)
	extractionRepo := repos.NewSignalExtractionRepo(thePG, log)
	embeddingRepo := repos.NewSignalEmbeddingRepo(thePG, log)
	backlogRepo := repos.NewGraphSyncBacklogRepo(thePG, log)
	failedRepo := repos.NewFailedSignalRepo(thePG, log)
	dlqRepo := repos.NewDeadLetterRepo(thePG, log)
	costLogRepo := repos.NewCostLogRepo(thePG, log)
	budgetRepo := repos.NewAgentBudgetRepo(thePG, log)

	// Cost governor
	costCfg, err := cost.LoadConfig()
	if err != nil {
		log.Error("Cost config invalid", "error", err)
		os.Exit(1)
	}
	governor := cost.NewGovernor(costCfg, costLogRepo, budgetRepo, log)

	// AI provider (optional: stages that depend on it are skipped)
	var extractor pipeline.Extractor
	var embedder pipeline.Embedder
	if os.Getenv("OPENAI_API_KEY") != "" {
		openaiCfg, cerr := openai.LoadConfig()
		if cerr != nil {
			log.Error("OpenAI config invalid", "error", cerr)
			os.Exit(1)
		}
		aiClient, cerr := openai.NewClient(openaiCfg, governor, log)
		if cerr != nil {
			log.Error("OpenAI client init failed", "error", cerr)
			os.Exit(1)
		}
		extractor = aiClient
		embedder = aiClient
	} else {
		log.Warn("OPENAI_API_KEY not set, extraction and embedding stages disabled")
	}

	// Redis: event publisher + search index (both optional)
	var publisher events.Publisher
	if pub, perr := events.NewRedisPublisher(log); perr != nil {
		log.Warn("Event publisher init failed, publish stage disabled", "error", perr)
	} else {
		publisher = pub
	}
	var indexer pipeline.SearchIndexer
	if idx, ierr := search.NewRedisIndexer(log); ierr != nil {
		log.Warn("Search indexer init failed, index stage disabled", "error", ierr)
	} else {
		indexer = idx
	}

	// Graph sync engine
	graphTimeout := envutil.Duration("GRAPH_SYNC_TIMEOUT", 10*time.Second)
	graphEngine := graph.NewEngine(thePG, store, backlogRepo, signalRepo, log, graphTimeout)

	// Pipeline
	pipelineCfg, err := pipeline.LoadConfig()
	if err != nil {
		log.Error("Pipeline config invalid", "error", err)
		os.Exit(1)
	}
	resolver := resolve.NewResolver(thePG, log)
	deriver := pipeline.NewDeriver(resolver, log)
	orchestrator := pipeline.NewOrchestrator(
		pipelineCfg,
		thePG,
		log,
		signalRepo,
		extractionRepo,
		embeddingRepo,
		failedRepo,
		extractor,
		deriver,
		graphEngine,
		embedder,
		indexer,
		publisher,
	)

	// Retry scheduler
	retryCfg, err := retry.LoadConfig()
	if err != nil {
		log.Error("Retry config invalid", "error", err)
		os.Exit(1)
	}
	scheduler := retry.NewScheduler(retryCfg, thePG, log, orchestrator, failedRepo, dlqRepo, signalRepo)

	// Intake
	var intake *events.IntakeConsumer
	if c, ierr := events.NewIntakeConsumer(log, ingestAdapter{orch: orchestrator}); ierr != nil {
		log.Warn("Intake consumer init failed, no signals will be consumed", "error", ierr)
	} else {
		intake = c
	}

	// Budget admin commands
	var budgetAdmin *events.AdminConsumer
	if c, aerr := events.NewAdminConsumer(log, governor); aerr != nil {
		log.Warn("Budget admin consumer init failed, budget ops disabled", "error", aerr)
	} else {
		budgetAdmin = c
	}

	// Background work
	ctx, cancel := context.WithCancel(context.Background())
	governor.Start(ctx)
	scheduler.Start(ctx)
	if intake != nil {
		intake.Start(ctx)
	}
	if budgetAdmin != nil {
		budgetAdmin.Start(ctx)
	}
	startBacklogDrain(ctx, log, graphEngine)
	startConsistencyCheck(ctx, log, graphEngine)

	// Metrics
	metricsAddr := envutil.String("METRICS_ADDR", ":9090")
	metricsServer := &http.Server{Addr: metricsAddr, Handler: observability.Handler()}
	go func() {
		log.Info("Metrics listening", "addr", metricsAddr)
		if serr := metricsServer.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
			log.Warn("Metrics server failed", "error", serr)
		}
	}()

	// Shutdown: stop intake first so no new work arrives, then drain the
	// governor so buffered cost records land, then close stores.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	cancel()
	if intake != nil {
		_ = intake.Close()
	}
	if budgetAdmin != nil {
		_ = budgetAdmin.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := governor.Shutdown(shutdownCtx); err != nil {
		log.Warn("Cost governor shutdown incomplete", "error", err)
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	if idx, ok := indexer.(*search.RedisIndexer); ok {
		_ = idx.Close()
	}
	if neo4jClient != nil {
		_ = neo4jClient.Close(shutdownCtx)
	}
	log.Info("Shutdown complete")
}

func startBacklogDrain(ctx context.Context, log *logger.Logger, engine *graph.Engine) {
	interval := envutil.Duration("GRAPH_BACKLOG_DRAIN_INTERVAL", time.Minute)
	batch := envutil.Int("GRAPH_BACKLOG_DRAIN_BATCH", 100)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				processed, failed, err := engine.ProcessBacklog(ctx, batch)
				if err != nil {
					log.Warn("Backlog drain failed", "error", err)
					continue
				}
				if processed > 0 || failed > 0 {
					log.Info("Backlog drain finished", "processed", processed, "failed", failed)
				}
			}
		}
	}()
}

func startConsistencyCheck(ctx context.Context, log *logger.Logger, engine *graph.Engine) {
	interval := envutil.Duration("GRAPH_CONSISTENCY_INTERVAL", 10*time.Minute)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := engine.RunConsistencyCheck(ctx); err != nil {
					log.Warn("Consistency check failed", "error", err)
				}
			}
		}
	}()
}
