package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"dashboard-messaging/internal/telemetry"
)

// NATSBus implementa Bus sobre NATS core; los canales se usan como subjects.
type NATSBus struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// ConnectNATS conecta con reintentos acotados, como el resto de servicios NATS.
func ConnectNATS(url, name string, logger *zap.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		nc  *nats.Conn
		err error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		nc, err = nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err == nil {
			break
		}
		logger.Info("waiting for nats", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBus{nc: nc, logger: logger}, nil
}

func (b *NATSBus) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, span := telemetry.StartPublishSpan(ctx, "nats", channel, len(payload))
	defer span.End()

	msg := &nats.Msg{
		Subject: channel,
		Data:    payload,
		Header:  telemetry.InjectContext(ctx),
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("nats flush %s: %w", channel, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(channel, func(msg *nats.Msg) {
		msgCtx := telemetry.ExtractContext(ctx, msg.Header)
		msgCtx, span := telemetry.StartConsumeSpan(msgCtx, "nats", channel, len(msg.Data))
		defer span.End()
		if err := h(msgCtx, msg.Data); err != nil {
			span.RecordError(err)
			b.logger.Warn("bus handler failed", zap.String("channel", channel), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return natsSub{sub: sub}, nil
}

func (b *NATSBus) Close() error {
	return b.nc.Drain()
}

type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Close() error { return s.sub.Unsubscribe() }
