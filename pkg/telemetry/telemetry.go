// Package telemetry wires OpenTelemetry tracing for the gateway and the
// clients it uses to reach tool servers.
package telemetry

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"

	"mcpgateway/pkg/config"
)

const DefaultServiceName = "mcp-gateway"

type Shutdown func(context.Context) error

// Init installs the global tracer provider. Without an endpoint spans are
// sampled but not exported. An exporter that cannot start is fatal only
// when cfg.Required is set.
func Init(ctx context.Context, serviceName string, cfg config.Telemetry) (Shutdown, error) {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	opts := []trace.TracerProviderOption{
		trace.WithResource(res),
		trace.WithSampler(parseSampler(cfg.Sampler, cfg.SamplerArg)),
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		exporter, err := newExporter(ctx, endpoint, cfg)
		switch {
		case err != nil && cfg.Required:
			return nil, err
		case err != nil:
			log.Printf("telemetry: exporter disabled: %v", err)
		default:
			opts = append(opts, trace.WithBatcher(exporter))
		}
	}
	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, endpoint string, cfg config.Telemetry) (trace.SpanExporter, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithTimeout(timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return exporter, nil
}

func parseSampler(name, arg string) trace.Sampler {
	ratio := 1.0
	if v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64); err == nil {
		ratio = min(max(v, 0), 1)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(ratio)
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	}
}

// HTTPMiddleware opens a server span per inbound request.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return otelhttp.NewMiddleware(serviceName)
}

// InstrumentClient propagates trace context on outbound calls. The client
// is modified in place.
func InstrumentClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = otelhttp.NewTransport(base)
	return client
}
