// Package telemetry wraps OpenTelemetry tracing around scan orchestrator
// invocations.
package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// DefaultConfig enables tracing through the stdout exporter so the binary
// is useful with zero external collector configuration.
func DefaultConfig() Config {
	return Config{Enabled: true, Exporter: "stdout", ServiceName: "reconsage"}
}

// ConfigFromEnv overlays environment variables onto DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if endpoint := os.Getenv("RECONSAGE_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Exporter = "otlp"
		cfg.Endpoint = endpoint
	}
	return cfg
}

// Provider manages a tracer and the provider lifetime backing it.
type Provider struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider builds a Provider from Config, falling back to a disabled
// no-op tracer if Enabled is false or the exporter is "none".
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return &Provider{config: cfg, tracer: otel.Tracer("reconsage")}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "reconsage"
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("otlp trace exporter initialized", "endpoint", cfg.Endpoint)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		slog.Info("stdout trace exporter initialized")
	default:
		return &Provider{config: cfg, tracer: otel.Tracer("reconsage")}, nil
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	return &Provider{config: cfg, tracer: tp.Tracer("reconsage"), provider: tp}, nil
}

// NoopProvider returns a Provider with tracing disabled, for tests and
// callers that don't care about spans.
func NoopProvider() *Provider {
	return &Provider{config: Config{Enabled: false}, tracer: otel.Tracer("reconsage-noop")}
}

// Tracer returns the underlying tracer for ad-hoc spans.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Enabled reports whether a real exporter is wired.
func (p *Provider) Enabled() bool { return p.config.Enabled && p.provider != nil }

// Shutdown flushes and stops the trace provider, if one was created.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

func createOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Span attribute keys.
const (
	AttrRunID     = "reconsage.run.id"
	AttrOperation = "reconsage.operation"
	AttrTarget    = "reconsage.target"
	AttrSuccess   = "reconsage.success"
)

// StartScanSpan opens one span per orchestrator invocation.
func (p *Provider) StartScanSpan(ctx context.Context, runID, operation, target string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "scan."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrRunID, runID),
			attribute.String(AttrOperation, operation),
			attribute.String(AttrTarget, target),
		),
	)
}

// EndScanSpan closes a scan span, recording the outcome.
func (p *Provider) EndScanSpan(span trace.Span, err error) {
	span.SetAttributes(attribute.Bool(AttrSuccess, err == nil))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
