package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	promclient "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/dago-studio/internal/application/channel"
	"github.com/aescanero/dago-studio/internal/application/orchestrator"
	"github.com/aescanero/dago-studio/internal/application/studio"
	"github.com/aescanero/dago-studio/internal/application/templates"
	"github.com/aescanero/dago-studio/internal/application/workers"
	"github.com/aescanero/dago-studio/internal/config"
	"github.com/aescanero/dago-studio/internal/ports"
	eventsmemory "github.com/aescanero/dago-studio/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/dago-studio/pkg/adapters/events/redis"
	"github.com/aescanero/dago-studio/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/dago-studio/pkg/adapters/storage/memory"
	storageredis "github.com/aescanero/dago-studio/pkg/adapters/storage/redis"
	"github.com/aescanero/dago-studio/pkg/adapters/transport/websocket"
	"github.com/aescanero/dago-studio/pkg/api/grpc"
	"github.com/aescanero/dago-studio/pkg/api/http"
	wsapi "github.com/aescanero/dago-studio/pkg/api/websocket"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting dago studio",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var (
		workflowStore  ports.WorkflowStore
		executionStore ports.ExecutionStore
	)
	switch cfg.Storage.Type {
	case "redis":
		store := storageredis.NewStore(redisClient, cfg.Storage.SnapshotTTL, logger.Named("storage"))
		workflowStore, executionStore = store, store
	default:
		store := storagememory.NewStore()
		workflowStore, executionStore = store, store
	}

	clientID := cfg.Backend.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = fmt.Sprintf("studio-%s-%d", host, os.Getpid())
	}

	var eventBus ports.EventBus
	switch cfg.Storage.EventBus {
	case "redis":
		eventBus, err = eventsredis.NewStreamsEventBus(
			redisClient,
			cfg.Storage.ConsumerGroup,
			clientID,
			cfg.Storage.StreamMaxLen,
			logger.Named("events"),
		)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
	default:
		eventBus = eventsmemory.NewInMemoryEventBus(logger.Named("events"))
	}

	metricsCollector := prometheus.NewCollector(promclient.DefaultRegisterer)

	dialer := websocket.NewDialer(cfg.Backend.URL,
		websocket.WithWriteTimeout(cfg.Backend.WriteTimeout))

	channelCfg := channel.DefaultConfig()
	channelCfg.ClientID = clientID
	channelCfg.MaxReconnectAttempts = cfg.Backend.MaxReconnectAttempts
	channelCfg.BaseReconnectDelay = cfg.Backend.BaseReconnectDelay
	channelCfg.MaxReconnectDelay = cfg.Backend.MaxReconnectDelay
	channelCfg.DialTimeout = cfg.Backend.DialTimeout
	channelCfg.PingInterval = cfg.Backend.PingInterval
	channelCfg.PingTimeout = cfg.Backend.PingTimeout
	channelCfg.PongSlack = cfg.Backend.PongSlack
	channelCfg.MaxMissedPongs = cfg.Backend.MaxMissedPongs

	app, err := studio.New(studio.Deps{
		Registry:   templates.NewBuiltinRegistry(),
		Dialer:     dialer,
		Channel:    channelCfg,
		Session:    orchestrator.SessionConfig{CommandTimeout: cfg.Execution.CommandTimeout},
		NodeCost:   cfg.Execution.NodeCost,
		Workflows:  workflowStore,
		Executions: executionStore,
		Events:     eventBus,
		Metrics:    metricsCollector,
		Pool:       workers.DefaultPoolConfig(),
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("failed to create studio", zap.Error(err))
	}

	if err := app.Start(ctx, cfg.Backend.AutoConnect); err != nil {
		logger.Fatal("failed to start studio", zap.Error(err))
	}

	httpServer := http.NewServer(&http.Config{
		Port:     cfg.HTTPPort,
		Studio:   app,
		Gatherer: promclient.DefaultGatherer,
		Logger:   logger.Named("http"),
	})

	wsHandler := wsapi.NewHandler(eventBus, logger.Named("ws"))
	if err := wsHandler.Start(ctx); err != nil {
		logger.Fatal("failed to start event stream", zap.Error(err))
	}
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:    cfg.GRPCPort,
		Channel: app.Channel(),
		Logger:  logger.Named("grpc"),
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("dago studio started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("backend_url", cfg.Backend.URL),
		zap.String("storage", cfg.Storage.Type),
		zap.String("event_bus", cfg.Storage.EventBus))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	wsHandler.Stop()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error("studio shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("dago studio shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
