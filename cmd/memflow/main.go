package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/memflow/api/handlers"
	"github.com/BaSui01/memflow/bus"
	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/consolidation"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/engine"
	"github.com/BaSui01/memflow/inference"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/server"
	"github.com/BaSui01/memflow/internal/telemetry"
	"github.com/BaSui01/memflow/memory"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if *configPath == "" {
		if env := os.Getenv("MEMFLOW_CONFIG"); env != "" {
			*configPath = env
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting memflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector("memflow", logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	shortTerm := memory.NewRedisShortTermStore(redisClient, memory.RedisShortTermConfig{
		WindowSize: cfg.Memory.WindowSize,
		TTL:        cfg.Memory.WindowTTL,
	}, logger)

	longTerm, closeLongTerm, err := openLongTermStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open long-term store", zap.Error(err))
	}
	defer closeLongTerm()

	embedder := buildEmbedder(cfg.Embedding, logger)

	counter := memory.NewTiktokenCounter(cfg.Memory.TokenizerModel, logger)
	merger := memory.NewMerger(memory.MergerConfig{
		TokenBudget:        cfg.Memory.TokenBudget,
		ItemBudget:         cfg.Memory.ItemBudget,
		OrderChronological: cfg.Memory.ChronologicalOrder,
	}, counter, logger)

	generator := inference.NewOpenAIGenerator(inference.OpenAIConfig{
		BaseURL:     cfg.Inference.BaseURL,
		APIKey:      cfg.Inference.APIKey,
		Model:       cfg.Inference.Model,
		MaxTokens:   cfg.Inference.MaxTokens,
		Temperature: cfg.Inference.Temperature,
		Timeout:     cfg.Inference.Timeout,
	}, logger)

	eventBus := bus.NewRedisStreamsBus(redisClient, bus.RedisStreamsConfig{
		Stream:      cfg.Bus.Stream,
		Group:       cfg.Bus.Group,
		Consumer:    cfg.Bus.Consumer,
		Block:       cfg.Bus.Block,
		MaxAttempts: cfg.Bus.MaxAttempts,
		MaxInFlight: cfg.Bus.MaxInFlight,
	}, logger)

	eng := engine.New(shortTerm, longTerm, embedder, merger, generator, eventBus, collector, engine.Config{
		RetrieveShort:   cfg.Memory.RetrieveShort,
		RetrieveLong:    cfg.Memory.RetrieveLong,
		RetrieveTimeout: cfg.Memory.RetrieveTimeout,
		PublishRetries:  cfg.Bus.PublishRetries,
		PublishBackoff:  cfg.Bus.PublishBackoff,
	}, logger)

	pipeline := consolidation.New(shortTerm, longTerm, embedder, nil, collector, consolidation.Config{
		Workers:             cfg.Consolidation.Workers,
		ImportanceThreshold: cfg.Consolidation.ImportanceThreshold,
		SummarizeEvery:      cfg.Consolidation.SummarizeEvery,
	}, logger)

	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()
	go func() {
		if err := pipeline.Run(pipelineCtx, eventBus); err != nil && pipelineCtx.Err() == nil {
			logger.Error("consolidation pipeline stopped", zap.Error(err))
		}
	}()

	var limiter *handlers.SessionLimiter
	if cfg.Server.SessionRPS > 0 {
		limiter = handlers.NewSessionLimiter(cfg.Server.SessionRPS, cfg.Server.SessionBurst)
	}

	health := handlers.NewHealthHandler(logger)
	health.RegisterCheck(handlers.HealthCheck{
		Name:     "short_term",
		Critical: true,
		Check:    shortTerm.Ping,
	})
	health.RegisterCheck(handlers.HealthCheck{
		Name:     "long_term",
		Critical: true,
		Check:    longTerm.Ping,
	})

	router := handlers.NewRouter(
		handlers.NewConversationHandler(eng, limiter, logger),
		handlers.NewSearchHandler(longTerm, embedder, logger),
		health,
		collector,
	)

	manager := server.NewManager(router, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if err := manager.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	manager.WaitForShutdown()

	stopPipeline()
	logger.Info("memflow stopped")
}

// openLongTermStore selects the durable Mongo store when a URI is
// configured and falls back to the in-memory store otherwise.
func openLongTermStore(cfg config.Config, logger *zap.Logger) (memory.LongTermStore, func(), error) {
	if cfg.Mongo.URI == "" {
		logger.Warn("mongo.uri not configured, long-term memory is in-process only")
		store := memory.NewInMemoryLongTermStore(cfg.Embedding.Dimension, logger)
		return store, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := memory.NewMongoLongTermStore(ctx, memory.MongoLongTermConfig{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
		Dimension:  cfg.Embedding.Dimension,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("mongo disconnect failed", zap.Error(err))
		}
	}
	return store, closer, nil
}

// buildEmbedder returns the API-backed provider when a key is
// configured. Without one it falls back to deterministic hash
// embeddings, which keep the service usable for local development.
func buildEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) embedding.Provider {
	if cfg.APIKey == "" {
		logger.Warn("embedding.api_key not configured, using hash embeddings",
			zap.Int("dimension", cfg.Dimension))
		return embedding.NewHashProvider(cfg.Dimension)
	}
	return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Dimensions: cfg.Dimension,
		Timeout:    cfg.Timeout,
	}, logger)
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("memflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`memflow - conversation memory service

Usage:
  memflow <command> [options]

Commands:
  serve     Start the memflow server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  memflow serve
  memflow serve --config /etc/memflow/config.yaml
  memflow health --addr http://localhost:8080`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
