package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dashboard-messaging/internal/bus"
	"dashboard-messaging/internal/events"
)

// Emitter envía un evento realtime a una sala, donde sea que estén sus sockets.
type Emitter interface {
	Emit(ctx context.Context, room, event string, data any) error
}

// Broadcaster entrega primero en el hub local y luego replica por el bus para
// las otras instancias. Un notifier sin sockets lo usa con hub nil.
type Broadcaster struct {
	hub     *Hub
	bus     bus.Bus
	origin  string
	timeout time.Duration
}

func NewBroadcaster(hub *Hub, b bus.Bus, origin string, timeout time.Duration) *Broadcaster {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Broadcaster{hub: hub, bus: b, origin: origin, timeout: timeout}
}

func (b *Broadcaster) Emit(ctx context.Context, room, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	if b.hub != nil {
		frame, err := encodeFrame(event, raw)
		if err != nil {
			return err
		}
		b.hub.Emit(room, frame)
	}

	if b.bus == nil {
		return nil
	}
	payload, err := events.Encode(events.RoomEmit{Origin: b.origin, Room: room, Event: event, Data: raw})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.bus.Publish(ctx, events.ChannelRealtime, payload)
}

// Relay entrega en el hub local los eventos realtime publicados por otros procesos.
type Relay struct {
	hub    *Hub
	origin string
	logger *zap.Logger
}

func NewRelay(hub *Hub, origin string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{hub: hub, origin: origin, logger: logger}
}

// Start suscribe el relay al canal realtime hasta que ctx termine.
func (r *Relay) Start(ctx context.Context, b bus.Bus) (bus.Subscription, error) {
	return b.Subscribe(ctx, events.ChannelRealtime, r.Handle)
}

func (r *Relay) Handle(_ context.Context, payload []byte) error {
	ev, err := events.Decode(payload)
	if err != nil {
		r.logger.Warn("dropping invalid realtime envelope", zap.Error(err))
		return nil
	}
	emit, ok := ev.(events.RoomEmit)
	if !ok {
		r.logger.Warn("unexpected event on realtime channel", zap.String("type", fmt.Sprintf("%T", ev)))
		return nil
	}
	if emit.Origin == r.origin {
		return nil
	}
	frame, err := encodeFrame(emit.Event, emit.Data)
	if err != nil {
		return err
	}
	r.hub.Emit(emit.Room, frame)
	return nil
}
