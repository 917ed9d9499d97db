// Package observability provides OpenTelemetry tracing and RED metrics for the
// votebridge server, plus an in-process SLO tracker for the vote transitions.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "votebridge"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // how long spans wait before a batch is sent
	MetricInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC, dev only
}

// DefaultConfig returns disabled telemetry with local collector defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "votebridge",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the OpenTelemetry trace and metric pipelines. A disabled
// Provider records through the global no-op implementations, so every method
// is safe to call either way.
type Provider struct {
	config  *Config
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	tracer  trace.Tracer
	logger  *slog.Logger
	slo     *SLOTracker

	transitions metric.Int64Counter
	latency     metric.Float64Histogram
	inflight    metric.Int64UpDownCounter
}

// New starts the exporters described by config. A nil config is disabled.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		tracer: otel.Tracer(instrumentationName),
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.DebugContext(ctx, "observability disabled")
		if err := p.instruments(otel.Meter(instrumentationName)); err != nil {
			return nil, fmt.Errorf("observability: instruments: %w", err)
		}
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	if p.traces, err = newTracerProvider(ctx, config, res); err != nil {
		return nil, err
	}
	if p.metrics, err = newMeterProvider(ctx, config, res); err != nil {
		_ = p.traces.Shutdown(ctx)
		return nil, err
	}
	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.metrics)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = p.traces.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	meter := p.metrics.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.instruments(meter); err != nil {
		return nil, fmt.Errorf("observability: instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability started",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func newTracerProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(config.SampleRate)
	batch := config.BatchTimeout
	if batch <= 0 {
		batch = 5 * time.Second
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batch)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	), nil
}

func newMeterProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}

	interval := config.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}

// instruments registers one counter per transition outcome, a latency
// histogram and an in-flight gauge.
func (p *Provider) instruments(meter metric.Meter) error {
	var err error
	p.transitions, err = meter.Int64Counter("votebridge.transitions",
		metric.WithDescription("Completed transitions by operation and outcome"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}
	p.latency, err = meter.Float64Histogram("votebridge.transition.duration",
		metric.WithDescription("Transition latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return err
	}
	p.inflight, err = meter.Int64UpDownCounter("votebridge.transitions.inflight",
		metric.WithDescription("Transitions currently executing"),
		metric.WithUnit("{transition}"),
	)
	return err
}

// WithSLO attaches a tracker that TrackOperation feeds.
func (p *Provider) WithSLO(t *SLOTracker) *Provider {
	p.slo = t
	return p
}

// SLO returns the attached tracker, or nil.
func (p *Provider) SLO() *SLOTracker {
	return p.slo
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider: %w", err))
		}
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Outcome classifies a finished transition: "ok", "rejected" for caller
// errors, "fault" for everything else.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsFault(err):
		return "fault"
	default:
		return "rejected"
	}
}

// TrackOperation opens a span for one transition. The returned function must
// be called exactly once with the transition's result.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	op := metric.WithAttributes(AttrOperation.String(name))
	p.inflight.Add(ctx, 1, op)

	return ctx, func(err error) {
		elapsed := time.Since(start)
		p.inflight.Add(ctx, -1, op)

		outcome := Outcome(err)
		tags := []attribute.KeyValue{AttrOperation.String(name), AttrOutcome.String(outcome)}
		if err != nil {
			kind := ErrorKind(err)
			tags = append(tags, AttrErrorKind.String(kind))
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		p.transitions.Add(ctx, 1, metric.WithAttributes(tags...))
		p.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(tags...))

		if p.slo != nil {
			p.slo.Record(SLOObservation{Operation: name, Latency: elapsed, Success: outcome != "fault"})
		}
		span.End()
	}
}
