package bus

import (
	"context"
	"errors"
)

// Handler procesa un mensaje recibido. Los errores sólo se registran; el bus
// no reintenta.
type Handler func(ctx context.Context, payload []byte) error

// Subscription representa una suscripción activa.
type Subscription interface {
	Close() error
}

// Bus es el canal publish/subscribe entre servicios desplegados por separado.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
	Close() error
}

var (
	ErrClosed  = errors.New("bus: closed")
	ErrBacklog = errors.New("bus: subscriber backlog full")
)
