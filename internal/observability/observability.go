// Package observability wires OpenTelemetry tracing and metrics. A nil
// *Observability is valid and turns every Mark call into a no-op, so tests
// and trimmed-down deployments can skip the setup entirely.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider *sdktrace.TracerProvider
	ProbeCounter  metric.Int64Counter
	ProbeLatency  metric.Int64Histogram
	ActiveTasks   metric.Int64UpDownCounter
	CleanupTotal  metric.Int64Counter
}

func Setup(ctx context.Context, cfg Config) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "relaywatch"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	probeCounter, _ := meter.Int64Counter("probe_checks_total")
	probeLatency, _ := meter.Int64Histogram("probe_latency_ms")
	activeTasks, _ := meter.Int64UpDownCounter("probe_tasks_active")
	cleanupTotal, _ := meter.Int64Counter("probe_history_deleted_total")
	return &Observability{
		Tracer:        tracer,
		Meter:         meter,
		traceProvider: tp,
		ProbeCounter:  probeCounter,
		ProbeLatency:  probeLatency,
		ActiveTasks:   activeTasks,
		CleanupTotal:  cleanupTotal,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkProbe(ctx context.Context, category string, latencyMS int64, matched bool) {
	if o == nil {
		return
	}
	o.ProbeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("matched", matched),
	))
	o.ProbeLatency.Record(ctx, latencyMS, metric.WithAttributes(
		attribute.String("category", category),
	))
}

func (o *Observability) MarkTaskStarted(ctx context.Context) {
	if o == nil {
		return
	}
	o.ActiveTasks.Add(ctx, 1)
}

func (o *Observability) MarkTaskStopped(ctx context.Context) {
	if o == nil {
		return
	}
	o.ActiveTasks.Add(ctx, -1)
}

func (o *Observability) MarkCleanup(ctx context.Context, deleted int64) {
	if o == nil {
		return
	}
	o.CleanupTotal.Add(ctx, deleted)
}
