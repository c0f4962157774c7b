package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies the engine's tracer.
const TracerName = "github.com/haasonsaas/parley"

// Tracer returns the engine tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// InitTracing installs a tracer provider and returns its shutdown hook.
// Deployments that want exported traces configure an exporter on top; the
// default provider keeps span creation cheap when nothing is attached.
func InitTracing() func(context.Context) error {
	provider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(provider)
	return provider.Shutdown
}

// StartSpan starts a span named after an engine stage, tagging it with the
// session id when present.
func StartSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if sessionID != "" {
		span.SetAttributes(attribute.String("session.id", sessionID))
	}
	return ctx, span
}
