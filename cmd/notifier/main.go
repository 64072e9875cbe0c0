package main

import (
	"context"
	"log"
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
	"dashboard-messaging/internal/realtime"
	"dashboard-messaging/internal/repository"
	"dashboard-messaging/internal/service"
	"dashboard-messaging/internal/telemetry"
)

// notifier consume los eventos de mensajes nuevos y crea notificaciones para
// los destinatarios desconectados. No mantiene sockets: publica los eventos
// realtime para que las instancias del api los entreguen.
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

	if cfg.BusDriver == bus.DriverMemory {
		logger.Fatal("notifier needs a shared bus; use BUS_DRIVER=redis or nats")
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTelEndpoint, cfg.OTelServiceName+"-notifier")
	if err != nil {
		logger.Warn("telemetry init failed", zap.Error(err))
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

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
		logger.Warn("redis not configured; every recipient will be treated as offline")
	}

	eventBus, err := bus.Open(cfg.BusDriver, redisClient, cfg.NATSURL, "messaging-notifier", logger)
	if err != nil {
		logger.Fatal("event bus", zap.Error(err))
	}
	defer eventBus.Close()

	broadcaster := realtime.NewBroadcaster(nil, eventBus, uuid.NewString(), cfg.BusPublishTimeout)
	userRepo := repository.NewPgUserRepository(pool)
	notificationSvc := service.NewNotificationService(
		logger,
		repository.NewPgNotificationRepository(pool),
		userRepo,
		cache.NewRedisCache(redisClient, cfg.CacheNamespace),
		broadcaster,
		cfg.StoreTimeout,
	).WithCounters(telemetry.NewCounters())

	fanout := service.NewNotificationFanout(logger, notificationSvc, userRepo, presence, cfg.AlwaysNotify(), cfg.NotificationLinkBase)
	sub, err := fanout.Start(ctx, eventBus)
	if err != nil {
		logger.Fatal("subscribe", zap.Error(err))
	}
	defer sub.Close()

	logger.Info("notifier started", zap.String("bus", cfg.BusDriver))
	<-ctx.Done()
	logger.Info("notifier stopping")
}
