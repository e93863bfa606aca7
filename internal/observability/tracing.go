// Package observability provides OpenTelemetry integration for distributed tracing.
//
// Spans are exported over OTLP HTTP to a local collector agent. Any
// OTLP-capable collector works: the OpenTelemetry Collector, a Jaeger
// all-in-one, or a vendor agent with its OTLP receiver enabled.
//
// # Running a local collector
//
// The quickest option for development is Jaeger:
//
//	docker run --rm -p 4318:4318 -p 16686:16686 jaegertracing/all-in-one
//
// Traces then appear at http://localhost:16686 under the configured
// service name.
//
// # Configuration
//
// Config file (~/.parley/config.yaml):
//
//	tracing:
//	  enabled: true
//	  agent_host: "localhost:4318"
//	  environment: "dev"
//	  service_name: "parley"
//
// # Troubleshooting
//
// Test the collector endpoint:
//
//	curl -v http://localhost:4318/v1/traces
//
// Setup degrades to a no-op with a WARN log when the exporter cannot be
// built; span export failures after that are silent by OTLP design, so a
// missing collector never affects request handling.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for OTLP trace export.
type Config struct {
	// AgentHost is the collector OTLP HTTP endpoint (default: localhost:4318)
	AgentHost string
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
	// ServiceName is the service name reported on spans
	ServiceName string
}

// DefaultAgentHost is the default collector OTLP HTTP endpoint.
const DefaultAgentHost = "localhost:4318"

// Setup registers an OTLP HTTP exporter with Genkit's TracerProvider, so
// generation spans and our own spans leave through the same pipeline.
//
// Returns a shutdown function that flushes pending spans. If AgentHost is
// empty, uses DefaultAgentHost (localhost:4318).
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	agentHost := cfg.AgentHost
	if agentHost == "" {
		agentHost = DefaultAgentHost
	}

	// Genkit builds its TracerProvider from the OTEL_* environment, so the
	// service identity has to be in place before spans are created.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	// Local collector, no TLS.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		slog.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	slog.Debug("tracing enabled",
		"agent", agentHost,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	// Emit one span so a misconfigured pipeline shows up at startup
	// instead of after the first real request.
	tracer := tracing.TracerProvider().Tracer("parley-init")
	_, span := tracer.Start(ctx, "parley.init")
	span.End()

	return tracing.TracerProvider().Shutdown, nil
}
