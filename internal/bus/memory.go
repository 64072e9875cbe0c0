package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const memoryBuffer = 256

// MemoryBus entrega mensajes dentro del proceso. Cada suscriptor tiene su
// propia cola; una cola llena descarta el mensaje sin bloquear al publicador.
type MemoryBus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	channel string
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
}

func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		logger: logger,
		subs:   make(map[string]map[*memorySub]struct{}),
	}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	var dropped bool
	for sub := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.queue <- msg:
		default:
			dropped = true
		}
	}
	if dropped {
		return ErrBacklog
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &memorySub{
		bus:     b,
		channel: channel,
		queue:   make(chan []byte, memoryBuffer),
		done:    make(chan struct{}),
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySub]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(ctx, h)
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	subs := make([]*memorySub, 0)
	for _, set := range b.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	b.subs = make(map[string]map[*memorySub]struct{})
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (s *memorySub) run(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg := <-s.queue:
			if err := h(ctx, msg); err != nil {
				s.bus.logger.Warn("bus handler failed", zap.String("channel", s.channel), zap.Error(err))
			}
		}
	}
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	if set, ok := s.bus.subs[s.channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.bus.subs, s.channel)
		}
	}
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}
