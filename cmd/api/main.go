package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dashboard-messaging/internal/bus"
	"dashboard-messaging/internal/cache"
	"dashboard-messaging/internal/config"
	"dashboard-messaging/internal/db"
	apihttp "dashboard-messaging/internal/http"
	"dashboard-messaging/internal/realtime"
	"dashboard-messaging/internal/repository"
	"dashboard-messaging/internal/service"
	"dashboard-messaging/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTelEndpoint, cfg.OTelServiceName)
	if err != nil {
		logger.Warn("telemetry init failed", zap.Error(err))
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()
	counters := telemetry.NewCounters()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		}
		cancel()
	}

	var presence realtime.Presence = realtime.NewLocalPresence()
	if redisClient != nil {
		presence = realtime.NewRedisPresence(redisClient, cfg.PresenceTTL)
	} else {
		logger.Warn("redis not configured; cache disabled and presence is process-local")
	}
	appCache := cache.NewRedisCache(redisClient, cfg.CacheNamespace)

	eventBus, err := bus.Open(cfg.BusDriver, redisClient, cfg.NATSURL, "messaging-api", logger)
	if err != nil {
		logger.Fatal("event bus", zap.Error(err))
	}
	defer eventBus.Close()

	origin := uuid.NewString()
	hub := realtime.NewHub(logger, presence)
	broadcaster := realtime.NewBroadcaster(hub, eventBus, origin, cfg.BusPublishTimeout)
	relay := realtime.NewRelay(hub, origin, logger)
	relaySub, err := relay.Start(ctx, eventBus)
	if err != nil {
		logger.Fatal("realtime relay subscribe", zap.Error(err))
	}
	defer relaySub.Close()

	userRepo := repository.NewPgUserRepository(pool)
	conversationRepo := repository.NewPgConversationRepository(pool)
	membershipRepo := repository.NewPgMembershipRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)
	notificationRepo := repository.NewPgNotificationRepository(pool)

	timeouts := service.Timeouts{Store: cfg.StoreTimeout, Publish: cfg.BusPublishTimeout}
	messagingSvc := service.NewMessagingService(
		logger,
		conversationRepo,
		membershipRepo,
		messageRepo,
		userRepo,
		appCache,
		eventBus,
		broadcaster,
		presence,
		timeouts,
	).WithCounters(counters)
	if cfg.PostRateLimit > 0 {
		limiter := service.NewMemoryPostRateLimiter(cfg.PostRateWindow, cfg.PostRateLimit)
		if redisClient != nil {
			limiter = service.NewRedisPostRateLimiter(redisClient, cfg.PostRateWindow, cfg.PostRateLimit)
		}
		messagingSvc.WithRateLimiter(limiter)
	}
	notificationSvc := service.NewNotificationService(logger, notificationRepo, userRepo, appCache, broadcaster, cfg.StoreTimeout).
		WithCounters(counters)

	if cfg.NotifierEmbedded {
		fanout := service.NewNotificationFanout(logger, notificationSvc, userRepo, presence, cfg.AlwaysNotify(), cfg.NotificationLinkBase)
		sub, err := fanout.Start(ctx, eventBus)
		if err != nil {
			logger.Fatal("notification fanout subscribe", zap.Error(err))
		}
		defer sub.Close()
		logger.Info("embedded notifier enabled")
	}

	jwtSvc := service.NewJWTService(cfg.JWTSecret, 0)
	router := apihttp.NewRouter(
		logger,
		jwtSvc,
		apihttp.NewMessageHandler(logger, messagingSvc),
		apihttp.NewNotificationHandler(logger, notificationSvc),
		apihttp.NewSocketHandler(logger, hub, messagingSvc),
		func(ctx context.Context) error { return db.Ping(ctx, pool) },
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("bus", cfg.BusDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}
