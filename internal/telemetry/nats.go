package telemetry

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HeaderCarrier adapta nats.Header a propagation.TextMapCarrier.
type HeaderCarrier struct {
	Header nats.Header
}

func (c HeaderCarrier) Get(key string) string { return c.Header.Get(key) }

func (c HeaderCarrier) Set(key, value string) { c.Header.Set(key, value) }

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func Tracer() trace.Tracer {
	return otel.Tracer("dashboard-messaging")
}

// InjectContext crea un header NATS con el contexto de traza.
func InjectContext(ctx context.Context) nats.Header {
	h := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier{Header: h})
	return h
}

// ExtractContext recupera el contexto de traza de un header NATS.
func ExtractContext(ctx context.Context, header nats.Header) context.Context {
	if header == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier{Header: header})
}

// StartPublishSpan abre un span PRODUCER para una publicación en el bus.
func StartPublishSpan(ctx context.Context, system, channel string, size int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, channel+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", system),
			attribute.String("messaging.destination.name", channel),
			attribute.Int("messaging.message.payload_size_bytes", size),
		),
	)
}

// StartConsumeSpan abre un span CONSUMER para un mensaje recibido del bus.
func StartConsumeSpan(ctx context.Context, system, channel string, size int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, channel+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", system),
			attribute.String("messaging.destination.name", channel),
			attribute.Int("messaging.message.payload_size_bytes", size),
		),
	)
}
