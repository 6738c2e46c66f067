package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"mnemograph/internal/config"
	"mnemograph/internal/database/kafka"
	"mnemograph/internal/database/milvus"
	"mnemograph/internal/database/neo4j"
	"mnemograph/internal/embedding"
	"mnemograph/internal/llm"
	"mnemograph/internal/memory/api"
	"mnemograph/internal/memory/consumer"
	"mnemograph/internal/memory/dedupe"
	"mnemograph/internal/memory/extractor"
	"mnemograph/internal/memory/search"
	"mnemograph/internal/memory/service"
	"mnemograph/internal/memory/store"
	"mnemograph/internal/reranker"
	"mnemograph/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	level, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.Init(level)
	appLogger := logger.New("memory_service", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var memory service.Memory
	if cfg.Memory.Enabled {
		memory = buildMemoryService(ctx, cfg, appLogger)
	} else {
		appLogger.Warn("memory subsystem disabled, serving no-op implementation")
		memory = service.NewNoopMemory()
	}

	// HTTP surface
	handler := api.NewHandler(memory, logger.New("memory_service", "api"))
	router := api.SetupRouter(handler, cfg)
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	go func() {
		appLogger.WithField("address", cfg.Server.Address).Info("memory service started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("http server failed")
		}
	}()

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("http shutdown failed")
	}

	appLogger.Info("memory service stopped")
}

// buildMemoryService wires the full pipeline: database clients, model
// clients, extraction, deduplication, persistence, search and the Kafka
// consumer. Milvus and Kafka are optional; Neo4j is not.
func buildMemoryService(ctx context.Context, cfg *config.AppConfig, appLogger *logger.Logger) service.Memory {
	neo4jClient, err := neo4j.GetClient(ctx, &cfg.Databases.Neo4j)
	if err != nil {
		appLogger.WithError(err).Fatal("failed to connect to Neo4j")
	}

	var index store.VectorIndex
	if cfg.Databases.Milvus.Enabled {
		milvusClient, err := milvus.GetClient(ctx, &cfg.Databases.Milvus)
		if err != nil {
			appLogger.WithError(err).Fatal("failed to connect to Milvus")
		}
		index = store.NewMilvusIndex(milvusClient, cfg.Embedding.Dimensions)
	} else {
		appLogger.Info("vector index disabled, search will use the exhaustive scan")
	}

	// Model clients
	embedder, err := embedding.NewEmdModel(&cfg.Embedding)
	if err != nil {
		appLogger.WithError(err).Fatal("failed to initialize embedding model")
	}
	llmClient, err := llm.NewLLM(&cfg.LLM)
	if err != nil {
		appLogger.WithError(err).Fatal("failed to initialize completion model")
	}

	// Stores
	graphStore := store.NewNeo4jStore(neo4jClient)
	persistence := store.NewPersistenceService(graphStore, index, logger.New("memory_service", "persistence"))
	if err := persistence.InitializeIndexes(ctx); err != nil {
		appLogger.WithError(err).Fatal("failed to initialize indexes")
	}

	// Extraction pipeline
	entityExtractor := extractor.NewLlmEntityExtractor(llmClient, cfg.Memory.ReflexionIterations, logger.New("memory_service", "extractor"))
	relationshipExtractor := extractor.NewLlmRelationshipExtractor(llmClient, embedder, logger.New("memory_service", "extractor"))
	deduplicator, err := dedupe.NewEmbeddingDeduplicator(graphStore, index, embedder, llmClient, cfg.Memory.DedupeThreshold, logger.New("memory_service", "dedupe"))
	if err != nil {
		appLogger.WithError(err).Fatal("failed to initialize deduplicator")
	}

	// Retrieval
	rerankService := reranker.NewService(&cfg.Reranker)
	engine := search.NewHybridEngine(graphStore, index, embedder, rerankService, cfg.Memory.MinVectorScore, logger.New("memory_service", "search"))

	memory := service.NewMemoryService(
		entityExtractor,
		relationshipExtractor,
		entityExtractor,
		deduplicator,
		persistence,
		graphStore,
		index,
		engine,
		embedder,
		cfg.Memory.DefaultGroupID,
		cfg.Memory.IngestParallelism,
		logger.New("memory_service", "service"),
	)

	// Kafka ingestion is optional; without brokers the HTTP surface is the
	// only way in.
	if len(cfg.Databases.Kafka.Brokers) > 0 {
		kafkaClient, err := kafka.GetClient(&cfg.Databases.Kafka)
		if err != nil {
			appLogger.WithError(err).Fatal("failed to connect to Kafka")
		}
		consumer.NewKafkaConsumer(kafkaClient, memory, logger.New("memory_service", "consumer")).Start(ctx)
	} else {
		appLogger.Info("no Kafka brokers configured, skipping consumer")
	}

	return memory
}
