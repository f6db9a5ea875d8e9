package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Span exporter kinds accepted by [NewTraceExporter].
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// ErrUnknownExporter is returned by [NewTraceExporter] for an unsupported kind.
var ErrUnknownExporter = errors.New("observe: unknown trace exporter")

// ExporterConfig selects and configures a span exporter.
type ExporterConfig struct {
	// Kind is one of the Exporter* constants. Empty means none.
	Kind string

	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint string

	// Insecure sends OTLP over plain HTTP.
	Insecure bool

	// Headers are attached to every OTLP export request.
	Headers map[string]string

	// Writer receives stdout exporter output. Default: os.Stdout.
	Writer io.Writer
}

// NewTraceExporter builds the exporter described by cfg. It returns a nil
// exporter for [ExporterNone].
func NewTraceExporter(ctx context.Context, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Kind {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("observe: stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		if cfg.Endpoint == "" {
			return nil, errors.New("observe: otlp exporter: endpoint is required")
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("observe: otlp exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownExporter, cfg.Kind)
}

// RatioSampler samples the given fraction of new traces and follows the
// parent's decision for continued ones.
func RatioSampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// BuildVersion returns the main module version stamped by the go tool, or ""
// for development builds.
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "(devel)" {
		return ""
	}
	return info.Main.Version
}

// ProviderConfig describes the service to OpenTelemetry.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "voxfill".
	ServiceName string

	// ServiceVersion is reported as service.version. Default: [BuildVersion].
	ServiceVersion string

	// Environment is reported as deployment.environment when non-empty.
	Environment string

	// TraceExporter receives finished spans in batches. Nil keeps spans
	// in-process, where they still provide trace and correlation IDs.
	TraceExporter sdktrace.SpanExporter

	// Sampler decides which traces are recorded. Default: every new trace,
	// parent-based for continued ones.
	Sampler sdktrace.Sampler

	// Registerer receives the Prometheus collector backing /metrics.
	// Default: [prometheus.DefaultRegisterer].
	Registerer prometheus.Registerer
}

// InitProvider installs global meter and tracer providers plus a W3C trace
// context propagator. Metrics are exposed through a Prometheus collector on
// cfg.Registerer. The returned function flushes and stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voxfill"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = BuildVersion()
	}
	if cfg.Sampler == nil {
		cfg.Sampler = RatioSampler(1)
	}

	attrs := []resource.Option{
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(cfg.Environment)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	reader, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.Sampler),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		// Spans first so the batcher drains before metrics stop.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
