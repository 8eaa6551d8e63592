// Package telemetry wires OpenTelemetry tracing and metrics. Metrics are
// exported through a private Prometheus registry that the daemon serves and
// the CLI can dump to a textfile.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/otlptranslator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-dictate"

// Telemetry owns the tracer and meter providers for one process.
type Telemetry struct {
	Tracer   trace.Tracer
	Metrics  *Metrics
	registry *prom.Registry
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
}

// Setup builds the providers and installs them globally. Stdout traces are
// written to traceOut so the CLI can keep stdout for the transcript.
func Setup(ctx context.Context, cfg config.Config, traceOut io.Writer, logger *slog.Logger) (*Telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp, err := initTracer(ctx, cfg.Telemetry, res, traceOut, logger)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	registry := prom.NewRegistry()
	mp, err := initMetrics(registry, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	otel.SetMeterProvider(mp)

	metrics, err := newMetrics(mp.Meter(instrumentationName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, err
	}

	return &Telemetry{
		Tracer:   tp.Tracer(instrumentationName),
		Metrics:  metrics,
		registry: registry,
		tp:       tp,
		mp:       mp,
	}, nil
}

func initTracer(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, traceOut io.Writer, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	switch strings.ToLower(cfg.TraceExporter) {
	case "otlp":
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		logger.Info("telemetry initialized", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	case "stdout":
		if traceOut == nil {
			traceOut = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceOut), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		logger.Info("telemetry initialized", slog.String("exporter", "stdout"))
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	default:
		return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
	}
}

func initMetrics(registry *prom.Registry, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithTranslationStrategy(otlptranslator.UnderscoreEscapingWithSuffixes),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	), nil
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// WriteMetricsFile writes the registry to path for the node-exporter textfile
// collector. An empty path is a no-op.
func (t *Telemetry) WriteMetricsFile(path string) error {
	if path == "" {
		return nil
	}
	return prom.WriteToTextfile(path, t.registry)
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if err := t.mp.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.tp.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Metrics holds the recognition instruments.
type Metrics struct {
	recognitions metric.Int64Counter
	duration     metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	recognitions, err := meter.Int64Counter("dictate.recognitions",
		metric.WithDescription("Recognition requests by outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("dictate.recognition.duration",
		metric.WithDescription("Time from submission to terminal outcome"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{recognitions: recognitions, duration: duration}, nil
}

// Observe records one terminal outcome. It is safe on a nil receiver.
func (m *Metrics) Observe(ctx context.Context, outcome, engine string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("engine", engine),
	)
	m.recognitions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
