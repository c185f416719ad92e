// Package observability provides OpenTelemetry tracing and metrics for the
// gating pipeline: spans around catalog refreshes and artifact selection,
// and counters over validation verdicts. Export is OTLP over gRPC; with no
// endpoint configured the provider is inert and every hook is a no-op.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/vitrine-app/vitrine/pkg/artifact"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // e.g. "localhost:4317"
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults with telemetry disabled; setting an OTLP
// endpoint is the opt-in.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "vitrine",
		ServiceVersion: "1.0.0",
		BatchTimeout:   5 * time.Second,
	}
}

// Provider manages the OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	meter          metric.Meter
	logger         *slog.Logger

	verdictCounter  metric.Int64Counter
	rejectedCounter metric.Int64Counter
}

// New creates an observability provider. A disabled config yields an inert
// provider whose methods are all safe no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, err
	}

	p.meter = otel.Meter("vitrine",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initVerdictMetrics(); err != nil {
		return nil, fmt.Errorf("observability: metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initVerdictMetrics() error {
	var err error
	p.verdictCounter, err = p.meter.Int64Counter("vitrine.verdicts.total",
		metric.WithDescription("Total validation verdicts computed"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return err
	}
	p.rejectedCounter, err = p.meter.Int64Counter("vitrine.verdicts.rejected",
		metric.WithDescription("Verdicts that blocked loading"),
		metric.WithUnit("{verdict}"),
	)
	return err
}

// Record counts one verdict. It satisfies loader.Recorder so the provider
// can sit alongside the history store on the loader's recorder chain.
func (p *Provider) Record(ctx context.Context, id string, result artifact.ValidationResult) error {
	if p.verdictCounter == nil {
		return nil
	}
	attrs := metric.WithAttributes(
		attribute.String("artifact.id", id),
		attribute.Bool("verdict.valid", result.IsValid),
	)
	p.verdictCounter.Add(ctx, 1, attrs)
	if !result.IsValid {
		p.rejectedCounter.Add(ctx, 1, attrs)
	}
	return nil
}

// Middleware wraps an HTTP handler with otelhttp server instrumentation.
// Pass-through when telemetry is disabled.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	if !p.config.Enabled {
		return next
	}
	return otelhttp.NewHandler(next, "vitrine.api")
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		}
	}
	return nil
}
