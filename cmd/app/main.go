package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"near-buybot/internal/buybot"
	"near-buybot/internal/database"
	"near-buybot/internal/handlers"
	"near-buybot/internal/oracle"
	"near-buybot/internal/registry"
	"near-buybot/internal/stream"
	"near-buybot/internal/subscriptions"
	"near-buybot/internal/textlogs"
	"near-buybot/internal/types"
	"near-buybot/shared/config"
	"near-buybot/shared/env"
	"near-buybot/shared/logger"
)

func startHeartbeat(appLogger *logger.Logger) {
	go func() {
		ticker := time.NewTicker(8 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			appLogger.Info("Heartbeat: Program running...")
		}
	}()
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Panicf("FATAL PANIC RECOVERY: %v", r)
		}
	}()

	if err := env.LoadEnv(); err != nil {
		log.Fatalf("FATAL: Failed to load environment variables: %v", err)
	}

	cfg, errCfg := config.LoadConfig("config.yaml")
	if errCfg != nil {
		log.Fatalf("FATAL: Failed to load config.yaml: %v", errCfg)
	}
	config.SetGlobalConfig(cfg)

	logLevel := cfg.Logging.Level
	if logLevel == "" {
		logLevel = "info"
	}
	appLogger, err := logger.NewLogger(logger.Config{
		Level:       logLevel,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	var dsn string
	if env.DATABASE_URL != "" {
		appLogger.Info("Using DATABASE_URL for database connection.")
		dsn = env.DATABASE_URL
	} else {
		appLogger.Warn("DATABASE_URL not set. Constructing DSN from PG* variables.")
		if env.PGHOST == "" || env.PGPORT == "" || env.PGUSER == "" || env.PGDATABASE == "" {
			appLogger.Fatal("Essential database connection variables are missing (DATABASE_URL, PG*)")
		}
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			env.PGHOST, env.PGUSER, env.PGPASSWORD, env.PGDATABASE, env.PGPORT,
		)
	}

	appLogger.Info("Connecting to database...")
	db, errDb := database.ConnectToDatabase(dsn)
	if errDb != nil {
		appLogger.Fatal("Database connection failed", "error", errDb)
	}

	appLogger.Info("Running database migrations...")
	database.MigrateDatabase(db, dsn)

	reg := registry.New(db, appLogger)
	reg.LoadBots(cfg.EnabledBots(), env.NotificationsPerMinute)

	ctx := context.Background()

	prices := oracle.New("", appLogger)

	buyModule := buybot.New(ctx, reg,
		func(botID int64) subscriptions.Store { return database.NewSubscriberStore(reg.DB(), botID) },
		prices, env.TrendingChatID, env.DumpersChatID, appLogger)
	reg.RegisterHandler(buyModule)

	textModule := textlogs.New(ctx, reg,
		func(botID int64) textlogs.Store { return database.NewTextLogStore(reg.DB(), botID) },
		appLogger)
	reg.RegisterHandler(textModule)

	events := make(chan types.Event, 1000)
	switch cfg.Events.Source {
	case "websocket":
		if env.EventStreamWS == "" {
			appLogger.Fatal("EVENT_STREAM_WS_URL is required when events.source is websocket")
		}
		var dedup *stream.Deduplicator
		if env.RedisURL != "" {
			redisSource, errRedis := stream.NewRedisSource(env.RedisURL, appLogger)
			if errRedis != nil {
				appLogger.Warn("Redis unavailable, websocket source runs without dedup", "error", errRedis)
			} else {
				dedup = stream.NewDeduplicator(redisSource.Client(), appLogger)
			}
		}
		wsSource := stream.NewWebSocketSource(env.EventStreamWS, dedup, appLogger)
		wsSource.Start(ctx, events)
	default:
		if env.RedisURL == "" {
			appLogger.Fatal("REDIS_URL is required when events.source is redis")
		}
		redisSource, errRedis := stream.NewRedisSource(env.RedisURL, appLogger)
		if errRedis != nil {
			appLogger.Fatal("Failed to connect to redis event source", "error", errRedis)
		}
		redisSource.Start(ctx, events)
	}

	loop := stream.NewLoop(reg, env.StatusPingURL, appLogger)
	go loop.Run(ctx, events)

	appLogger.Info("Setting up web server...")
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	handlers.RegisterRoutes(router, appLogger)
	handlers.RegisterAPIRoutes(router, appLogger, reg)

	go func() {
		serverAddr := ":" + env.Port
		appLogger.Info("Starting web server", "address", serverAddr)
		if err := router.Run(serverAddr); err != nil {
			appLogger.Fatal("Could not start web server.", "error", err)
		}
	}()

	startHeartbeat(appLogger)

	appLogger.Info("Application startup complete. Waiting for events...")
	select {}
}
