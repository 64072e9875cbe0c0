package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración de los servicios de mensajería y notificaciones.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`

	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	CacheNamespace string `env:"CACHE_NAMESPACE" envDefault:"dash:"`

	BusDriver         string        `env:"BUS_DRIVER" envDefault:"redis"`
	NATSURL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	BusPublishTimeout time.Duration `env:"BUS_PUBLISH_TIMEOUT" envDefault:"2s"`
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	PresenceTTL       time.Duration `env:"PRESENCE_TTL" envDefault:"90s"`

	PostRateLimit  int           `env:"POST_RATE_LIMIT" envDefault:"30"`
	PostRateWindow time.Duration `env:"POST_RATE_WINDOW" envDefault:"10s"`

	NotifyAlwaysCompanies []string `env:"NOTIFY_ALWAYS_COMPANIES" envSeparator:","`
	NotificationLinkBase  string   `env:"NOTIFICATION_LINK_BASE" envDefault:"/dashboard/messages"`
	NotifierEmbedded      bool     `env:"NOTIFIER_EMBEDDED" envDefault:"false"`

	OTelEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"dashboard-messaging"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.BusDriver = strings.ToLower(strings.TrimSpace(cfg.BusDriver))
	return &cfg, nil
}

// AlwaysNotify indica si el tenant recibe notificaciones aunque el destinatario esté conectado.
func (c *Config) AlwaysNotify() map[string]bool {
	out := make(map[string]bool, len(c.NotifyAlwaysCompanies))
	for _, id := range c.NotifyAlwaysCompanies {
		id = strings.TrimSpace(id)
		if id != "" {
			out[id] = true
		}
	}
	return out
}
