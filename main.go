package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcmd "github.com/Solvro/ml-mcp/cmd"
	"github.com/Solvro/ml-mcp/rag"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
)

func main() {
	logFormat := getenvDefault("TOPWR_LOG_FORMAT", "text")
	logger := newLogger(logFormat)

	configPath := getenvDefault("TOPWR_CONFIG", "graph_config.yaml")
	cfg, err := rag.LoadConfig(configPath)
	if err != nil {
		logger.Error("load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	// Database credentials come from the environment, never the config file.
	if v := os.Getenv("TOPWR_NEO4J_URI"); v != "" {
		cfg.Database.URI = v
	}
	if v := os.Getenv("TOPWR_NEO4J_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("TOPWR_NEO4J_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	addr := getenvDefault("TOPWR_HTTP_ADDR", "127.0.0.1:8080")

	ctx := context.Background()

	store, err := rag.NewNeo4jStore(ctx, cfg.Database.URI, cfg.Database.Username, cfg.Database.Password, cfg.Database.Name)
	if err != nil {
		logger.Error("neo4j connect", "uri", cfg.Database.URI, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()
	logger.Info("connected to neo4j", "uri", cfg.Database.URI, "database", cfg.Database.Name)

	var providers []rag.ChatProvider
	var chainTimeout time.Duration
	for _, pc := range cfg.LLM.Providers {
		apiKey := ""
		if pc.APIKeyEnv != "" {
			apiKey = os.Getenv(pc.APIKeyEnv)
			if apiKey == "" {
				logger.Warn("provider api key env var is empty", "provider", pc.Name, "env", pc.APIKeyEnv)
			}
		}
		providers = append(providers, rag.NewOpenAIChatProvider(pc.Name, pc.BaseURL, apiKey))
		if t := pc.ProviderTimeout(); t > chainTimeout {
			chainTimeout = t
		}
		logger.Info("configured chat provider", "name", pc.Name, "base_url", pc.BaseURL)
	}
	chain := &rag.ProviderChain{Providers: providers, Timeout: chainTimeout, Logger: logger}

	schemas := &rag.SchemaProvider{
		Store:  store,
		Static: cfg.StaticSchema(),
		Logger: logger,
	}

	gate := &rag.RelevanceGate{
		Chain:          chain,
		Model:          cfg.LLM.FastModel.Name,
		PromptTemplate: cfg.Prompts.Guardrails,
		FailOpen:       cfg.RAG.FailOpen,
		Logger:         logger,
	}

	generator := &rag.QueryGenerator{
		Chain:        chain,
		Model:        cfg.LLM.AccurateModel.Name,
		MaxResults:   cfg.RAG.MaxResults,
		TokenLimit:   cfg.DataPipeline.TokenLimit,
		SearchPrompt: cfg.Prompts.CypherSearch,
		InsertPrompt: cfg.Prompts.CypherInsert,
		Logger:       logger,
	}

	metrics := rag.NewInMemPipelineMetrics()
	pipeline := &rag.Pipeline{
		Schemas:   schemas,
		Gate:      gate,
		Generator: generator,
		Executor:  &rag.RetrievalExecutor{Store: store, Logger: logger},
		Metrics:   metrics,
		Logger:    logger,
	}

	ingestor, cleanup, err := buildIngestor(ctx, logger, cfg, store, generator, schemas, metrics)
	if err != nil {
		logger.Error("configure ingestion", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	appCfg := appcmd.AppConfig{
		Address:           addr,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		Logger:            logger,
	}
	app := appcmd.NewApp(pipeline, ingestor, appCfg)

	if err := app.Start(); err != nil {
		logger.Error("start app", "error", err)
		os.Exit(1)
	}
	logger.Info("listening", "address", app.Address())

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
		defer cancel()
		if err := app.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := app.Wait(); err != nil {
		logger.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}

// buildIngestor wires the document source, lease manager and run store from
// the environment. Returns a cleanup func closing any external clients.
func buildIngestor(ctx context.Context, logger *slog.Logger, cfg *rag.Config, store rag.GraphStore, generator *rag.QueryGenerator, schemas *rag.SchemaProvider, metrics rag.PipelineMetrics) (*rag.Ingestor, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Document source: S3 bucket or local directory (default).
	var docs rag.DocumentStore
	if bucket := os.Getenv("TOPWR_DOCS_S3_BUCKET"); bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, cleanup, err
		}
		client := s3.NewFromConfig(awsCfg)
		docs = rag.NewS3DocumentStore(client, bucket, os.Getenv("TOPWR_DOCS_S3_PREFIX"))
		logger.Info("configured s3 document store", "bucket", bucket)
	} else {
		docsRoot := getenvDefault("TOPWR_DOCS_ROOT", "./data/docs")
		docs = &rag.LocalDocumentStore{Root: docsRoot}
		logger.Info("configured local document store", "root", docsRoot)
	}

	// Lease manager: Redis when configured, otherwise in-process.
	var leases rag.IngestLeaseManager = rag.NewInMemoryIngestLeaseManager()
	if redisAddr := os.Getenv("TOPWR_REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("TOPWR_REDIS_PASSWORD"),
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, cleanup, err
		}
		cleanups = append(cleanups, func() { _ = client.Close() })
		leases = &rag.RedisIngestLeaseManager{Client: client}
		logger.Info("configured redis ingest leases", "addr", redisAddr)
	}

	// Run store: MongoDB or JSON files on disk (default).
	var runs rag.RunStore
	if mongoURI := os.Getenv("TOPWR_RUNS_MONGO_URI"); mongoURI != "" {
		mongoDB := getenvDefault("TOPWR_RUNS_MONGO_DB", "topwr")
		mongoColl := getenvDefault("TOPWR_RUNS_MONGO_COLLECTION", "ingest_runs")

		mongoClient, err := mongo.Connect(mongooptions.Client().ApplyURI(mongoURI))
		if err != nil {
			return nil, cleanup, err
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		if err := mongoClient.Ping(pingCtx, nil); err != nil {
			return nil, cleanup, err
		}
		cleanups = append(cleanups, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Disconnect(disconnectCtx)
		})
		runs = rag.NewMongoRunStore(mongoClient.Database(mongoDB).Collection(mongoColl))
		logger.Info("configured mongo run store", "db", mongoDB, "collection", mongoColl)
	} else {
		runsRoot := getenvDefault("TOPWR_RUNS_ROOT", "./data/runs")
		runs = &rag.LocalRunStore{Root: runsRoot}
	}

	ingestor := &rag.Ingestor{
		Docs:      docs,
		Generator: generator,
		Store:     store,
		Schemas:   schemas,
		Leases:    leases,
		Runs:      runs,
		Workers:   cfg.DataPipeline.Workers,
		Metrics:   metrics,
		Logger:    logger,
	}
	return ingestor, cleanup, nil
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func getenvDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
