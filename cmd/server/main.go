// Package main is the entry point of the klassenbuch server: the REST
// and SSE backend behind the classroom behavior board.
//
// The architecture follows Clean Architecture and DDD:
// - Domain: behavior engine, students, courses, no external dependencies
// - Application: use case orchestration (Commands/Queries)
// - Infrastructure: PostgreSQL, Redis, broadcast relay, scheduler
// - Interface: HTTP handlers and the SSE stream
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cubetribe/klassenbuch-server/config"
	"github.com/cubetribe/klassenbuch-server/internal/application/command"
	"github.com/cubetribe/klassenbuch-server/internal/application/query"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/internal/infrastructure/messaging"
	"github.com/cubetribe/klassenbuch-server/internal/infrastructure/persistence/postgres"
	redispersist "github.com/cubetribe/klassenbuch-server/internal/infrastructure/persistence/redis"
	"github.com/cubetribe/klassenbuch-server/internal/infrastructure/scheduler"
	httpserver "github.com/cubetribe/klassenbuch-server/internal/interface/http"
	"github.com/cubetribe/klassenbuch-server/internal/realtime"
	"github.com/cubetribe/klassenbuch-server/pkg/logger"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})
	log.Info("starting klassenbuch server",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Bool("debug", cfg.App.Debug),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")
	dbConn, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection")
		dbConn.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (optional in development)
	// ─────────────────────────────────────────────────────────────────────────
	var redisClient *goredis.Client
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis")
		redisClient, err = connectRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer func() {
			log.Info("closing Redis connection")
			_ = redisClient.Close()
		}()
	} else {
		log.Warn("Redis disabled: no board cache, no cross-instance broadcast")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REALTIME REGISTRY & PUBLISHER
	// ─────────────────────────────────────────────────────────────────────────
	registry := realtime.NewRegistry(log,
		realtime.WithKeepaliveInterval(cfg.Realtime.KeepaliveInterval))
	defer registry.Close()

	var publisher shared.Publisher
	if redisClient != nil {
		redisPub, err := messaging.NewRedisPublisher(redisClient, cfg.Realtime.BroadcastChannel, registry, log)
		if err != nil {
			return fmt.Errorf("failed to create broadcast publisher: %w", err)
		}
		if err := redisPub.Start(ctx); err != nil {
			return fmt.Errorf("failed to start broadcast relay: %w", err)
		}
		defer func() { _ = redisPub.Close() }()
		publisher = redisPub
	} else {
		publisher = messaging.NewLocalPublisher(registry)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. PERSISTENCE & CACHE
	// ─────────────────────────────────────────────────────────────────────────
	store := postgres.NewStore(dbConn)

	var boardCache *redispersist.BoardCache
	if redisClient != nil {
		boardCache = redispersist.NewBoardCache(redisClient, cfg.Realtime.BoardCacheTTL, log)
	}

	// query.BoardCache and command.BoardInvalidator are nil-safe in the
	// handlers; a typed nil pointer would not be.
	var snapshotCache query.BoardCache
	var invalidator command.BoardInvalidator
	if boardCache != nil {
		snapshotCache = boardCache
		invalidator = boardCache
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	recordBehavior := command.NewRecordBehaviorHandler(store, publisher, invalidator)
	quickAction := command.NewApplyQuickActionHandler(store, publisher, invalidator)
	redeemReward := command.NewRedeemRewardHandler(store, publisher, invalidator)
	consequence := command.NewApplyConsequenceHandler(store, publisher, invalidator)
	overrideColor := command.NewOverrideColorHandler(store, publisher, invalidator)
	adjustLevel := command.NewAdjustLevelHandler(store, publisher, invalidator)
	updateSettings := command.NewUpdateCourseSettingsHandler(store, publisher, invalidator)

	boardSnapshot := query.NewGetBoardSnapshotHandler(store.Students(), store.Courses(), store.Events(), snapshotCache)
	studentHistory := query.NewGetStudentHistoryHandler(store.Students(), store.Events())

	// ─────────────────────────────────────────────────────────────────────────
	// 9. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(log)
		sched.AddJob(scheduler.NewResetJob(store, publisher, invalidator, log))
		sched.Start(ctx)
		defer sched.Stop()
	} else {
		log.Info("scheduler disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	healthCheckers := map[string]httpserver.HealthChecker{
		"postgres": dbConn,
	}
	if redisClient != nil {
		healthCheckers["redis"] = redisHealth{client: redisClient}
	}

	serverConfig := httpserver.Config{
		Host:               cfg.HTTP.Host,
		Port:               cfg.HTTP.Port,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:     1 << 20,
		EnableCORS:         cfg.HTTP.EnableCORS,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
	}

	server := httpserver.NewServer(serverConfig, httpserver.Dependencies{
		RecordBehavior: recordBehavior,
		QuickAction:    quickAction,
		RedeemReward:   redeemReward,
		Consequence:    consequence,
		OverrideColor:  overrideColor,
		AdjustLevel:    adjustLevel,
		UpdateSettings: updateSettings,
		BoardSnapshot:  boardSnapshot,
		StudentHistory: studentHistory,
		Stream:         realtime.NewStreamHandler(registry, log),
		HealthCheckers: healthCheckers,
		Logger:         log,
	})

	errCh := server.StartAsync()
	log.Info("server listening", logger.String("address", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 11. WAIT FOR SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// connectDatabase opens the pgx pool, preferring DATABASE_URL over the
// individual settings.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*postgres.Connection, error) {
	if cfg.URL != "" {
		return postgres.NewConnectionFromURL(ctx, cfg.URL)
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.Host = cfg.Host
	pgCfg.Port = cfg.Port
	pgCfg.User = cfg.User
	pgCfg.Password = cfg.Password
	pgCfg.Database = cfg.Name
	pgCfg.SSLMode = cfg.SSLMode
	pgCfg.MaxConns = int32(cfg.MaxConns)
	pgCfg.MinConns = int32(cfg.MinConns)
	pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	pgCfg.ConnectTimeout = cfg.ConnectTimeout

	return postgres.NewConnection(ctx, pgCfg)
}

// connectRedis opens and ping-verifies the Redis client.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	var opts *goredis.Options
	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// redisHealth adapts the go-redis client to the health check interface.
type redisHealth struct {
	client *goredis.Client
}

func (h redisHealth) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}
