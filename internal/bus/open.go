package bus

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

var ErrUnknownDriver = errors.New("bus: unknown driver")

// Open construye el bus según BUS_DRIVER.
func Open(driver string, redisClient *redis.Client, natsURL, clientName string, logger *zap.Logger) (Bus, error) {
	switch driver {
	case DriverRedis, "":
		if redisClient == nil {
			return nil, errors.New("bus: redis driver requires REDIS_ADDR")
		}
		return NewRedisBus(redisClient, logger), nil
	case DriverNATS:
		nb, err := ConnectNATS(natsURL, clientName, logger)
		if err != nil {
			return nil, err
		}
		return nb, nil
	case DriverMemory:
		return NewMemoryBus(logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
