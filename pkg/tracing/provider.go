package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/sage/pkg/tracing/exporters"
)

// Config selects where spans are exported. An empty endpoint discards spans.
type Config struct {
	ServiceName string
	Version     string
	Endpoint    string
	Protocol    string
	Insecure    bool
	Headers     map[string]string
}

// Setup installs a global tracer provider and the package tracer. The
// returned function flushes and shuts the provider down.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	exporter, err := exporters.New(ctx, exporters.Config{
		Endpoint: cfg.Endpoint,
		Protocol: cfg.Protocol,
		Insecure: cfg.Insecure,
		Headers:  cfg.Headers,
	})
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if cfg.Version != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.Version))
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(provider.Tracer(cfg.ServiceName))

	return provider.Shutdown, nil
}
