package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// restoreGlobals puts back the OTel globals that InitProvider replaces.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInitProvider_ExportsSpansWithResource(t *testing.T) {
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()
	reg := prometheus.NewRegistry()

	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:    "voxfill-test",
		ServiceVersion: "v1.2.3",
		Environment:    "staging",
		TraceExporter:  exp,
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "parse")
	span.End()

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("global tracer provider is %T", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "parse" {
		t.Fatalf("spans = %v, want one span named parse", spans)
	}
	attrs := spans[0].Resource.Set()
	for key, want := range map[attribute.Key]string{
		semconv.ServiceNameKey:           "voxfill-test",
		semconv.ServiceVersionKey:        "v1.2.3",
		semconv.DeploymentEnvironmentKey: "staging",
	} {
		v, ok := attrs.Value(key)
		if !ok || v.AsString() != want {
			t.Errorf("resource %s = %q, want %q", key, v.AsString(), want)
		}
	}

	fields := otel.GetTextMapPropagator().Fields()
	if !strings.Contains(strings.Join(fields, ","), "traceparent") {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}

func TestInitProvider_MetricsOnRegisterer(t *testing.T) {
	restoreGlobals(t)
	reg := prometheus.NewRegistry()

	shutdown, err := InitProvider(context.Background(), ProviderConfig{Registerer: reg})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	counter, err := otel.Meter("test").Int64Counter("voxfill_test_events")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "voxfill_test_events") {
			return
		}
	}
	t.Errorf("registry has no voxfill_test_events family among %d families", len(families))
}

func TestInitProvider_ZeroRatioDropsNewTraces(t *testing.T) {
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()

	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		TraceExporter: exp,
		Sampler:       RatioSampler(0),
		Registerer:    prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	ctx, span := StartSpan(context.Background(), "dropped")
	span.End()
	if span.SpanContext().IsSampled() {
		t.Error("span sampled with ratio 0")
	}
	if CorrelationID(ctx) == "" {
		t.Error("unsampled span should still carry a trace ID")
	}

	if err := otel.GetTracerProvider().(*sdktrace.TracerProvider).ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("exported %d spans, want 0", n)
	}
}

func TestNewTraceExporter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		t.Parallel()
		for _, kind := range []string{"", ExporterNone} {
			exp, err := NewTraceExporter(ctx, ExporterConfig{Kind: kind})
			if err != nil || exp != nil {
				t.Errorf("NewTraceExporter(%q) = %v, %v; want nil, nil", kind, exp, err)
			}
		}
	})

	t.Run("stdout writes spans", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		exp, err := NewTraceExporter(ctx, ExporterConfig{Kind: ExporterStdout, Writer: &buf})
		if err != nil {
			t.Fatalf("NewTraceExporter: %v", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		_, span := tp.Tracer("test").Start(ctx, "extract-form")
		span.End()
		if err := tp.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		if !strings.Contains(buf.String(), "extract-form") {
			t.Errorf("stdout output = %q, want span name", buf.String())
		}
	})

	t.Run("otlp", func(t *testing.T) {
		t.Parallel()
		exp, err := NewTraceExporter(ctx, ExporterConfig{
			Kind:     ExporterOTLP,
			Endpoint: "127.0.0.1:4318",
			Insecure: true,
			Headers:  map[string]string{"authorization": "Bearer x"},
		})
		if err != nil || exp == nil {
			t.Fatalf("NewTraceExporter = %v, %v", exp, err)
		}
		_ = exp.Shutdown(ctx)
	})

	t.Run("otlp without endpoint", func(t *testing.T) {
		t.Parallel()
		if _, err := NewTraceExporter(ctx, ExporterConfig{Kind: ExporterOTLP}); err == nil {
			t.Error("expected an error without endpoint")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		if _, err := NewTraceExporter(ctx, ExporterConfig{Kind: "zipkin"}); !errors.Is(err, ErrUnknownExporter) {
			t.Errorf("err = %v, want ErrUnknownExporter", err)
		}
	})
}
