package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Cache es el contrato de la caché con TTL compartida entre servicios.
// Todas las operaciones deben ser seguras para uso concurrente.
type Cache interface {
	// Get devuelve ErrMiss cuando la clave no existe.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePattern borra todas las claves que empiezan con prefix.
	DeletePattern(ctx context.Context, prefix string) error
	DeleteBatch(ctx context.Context, keys []string) error
}

// ErrMiss indica que la clave no está en caché.
var ErrMiss = errors.New("cache: miss")

// GetJSON lee y decodifica un valor JSON. Un valor corrupto se trata como miss.
func GetJSON(ctx context.Context, c Cache, key string, out any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ErrMiss
	}
	return nil
}

// SetJSON codifica value y lo guarda con el TTL indicado.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}

// Noop es la caché nula usada cuando Redis no está configurado.
type Noop struct{}

func NewNoop() Cache { return Noop{} }

func (Noop) Get(context.Context, string) ([]byte, error)               { return nil, ErrMiss }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, string) error                     { return nil }
func (Noop) DeletePattern(context.Context, string) error              { return nil }
func (Noop) DeleteBatch(context.Context, []string) error              { return nil }
