package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counters agrupa los contadores del pipeline.
type Counters struct {
	MessagesPosted       metric.Int64Counter
	NotificationsCreated metric.Int64Counter
	PublishFailures      metric.Int64Counter
}

// NewCounters registra los contadores sobre el MeterProvider global.
func NewCounters() Counters {
	meter := otel.Meter("dashboard-messaging")
	posted, _ := meter.Int64Counter("messages_posted_total",
		metric.WithDescription("Messages persisted by the messaging service"))
	created, _ := meter.Int64Counter("notifications_created_total",
		metric.WithDescription("Notification rows created"))
	failures, _ := meter.Int64Counter("bus_publish_failures_total",
		metric.WithDescription("Event bus publishes that failed or timed out"))
	return Counters{
		MessagesPosted:       posted,
		NotificationsCreated: created,
		PublishFailures:      failures,
	}
}

// ChannelAttr etiqueta una métrica con el canal del bus.
func ChannelAttr(channel string) attribute.KeyValue {
	return attribute.String("messaging.destination.name", channel)
}
