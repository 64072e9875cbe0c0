package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dashboard-messaging/internal/telemetry"
)

type redisPubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisBus implementa Bus sobre Redis Pub/Sub (entrega at-most-once).
type RedisBus struct {
	client redisPubSub
	logger *zap.Logger
}

func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, span := telemetry.StartPublishSpan(ctx, "redis", channel, len(payload))
	defer span.End()
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	// Receive confirma la suscripción antes de devolver el control.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				payload := []byte(msg.Payload)
				msgCtx, span := telemetry.StartConsumeSpan(ctx, "redis", channel, len(payload))
				if err := h(msgCtx, payload); err != nil {
					span.RecordError(err)
					b.logger.Warn("bus handler failed", zap.String("channel", channel), zap.Error(err))
				}
				span.End()
			}
		}
	}()
	return ps, nil
}

// Close no cierra el cliente Redis; su dueño es main.
func (b *RedisBus) Close() error { return nil }
