// Self-telemetry for derivations: trace and metric providers over OTLP or stdout
// Disabled unless --otel-endpoint or --otel-stdout is given
package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// telemetry holds the providers handed to the session engine.
type telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	shutdown       func()
}

// newTelemetry creates providers for the configured exporters. Stdout
// exporters write to w so derived output on stdout stays parseable.
func newTelemetry(ctx context.Context, cfg otelConfig, w io.Writer, logger *zap.Logger) (*telemetry, error) {
	if !cfg.enabled() {
		return &telemetry{
			tracerProvider: tracenoop.NewTracerProvider(),
			meterProvider:  metricnoop.NewMeterProvider(),
			shutdown:       func() {},
		}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "turnscope"),
		attribute.String("turnscope.version", version),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	spanExporter, err := createTraceExporter(ctx, cfg, w)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	var sp sdktrace.SpanProcessor
	if cfg.Stdout {
		sp = sdktrace.NewSimpleSpanProcessor(spanExporter)
	} else {
		sp = sdktrace.NewBatchSpanProcessor(spanExporter)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sp),
		sdktrace.WithResource(res),
	)

	metricExporter, err := createMetricExporter(ctx, cfg, w)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	return &telemetry{
		tracerProvider: tp,
		meterProvider:  mp,
		shutdown: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			shutdownAll(shutdownCtx, logger, []shutdownable{tp, mp}, "telemetry provider")
		},
	}, nil
}

func createTraceExporter(ctx context.Context, cfg otelConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	if cfg.Stdout {
		return stdouttrace.New(stdouttrace.WithWriter(w))
	}
	switch cfg.Protocol {
	case "grpc":
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	case "http/protobuf", "":
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	default:
		return nil, fmt.Errorf("unsupported protocol %q, supported: http/protobuf, grpc", cfg.Protocol)
	}
}

func createMetricExporter(ctx context.Context, cfg otelConfig, w io.Writer) (sdkmetric.Exporter, error) {
	if cfg.Stdout {
		return stdoutmetric.New(stdoutmetric.WithWriter(w))
	}
	switch cfg.Protocol {
	case "grpc":
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
	case "http/protobuf", "":
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
	default:
		return nil, fmt.Errorf("unsupported protocol %q for metrics", cfg.Protocol)
	}
}

// shutdownable is anything with a Shutdown method (TracerProvider, MeterProvider).
type shutdownable interface {
	Shutdown(context.Context) error
}

// shutdownAll shuts down all items concurrently within the given context.
// Errors are logged individually; a slow item does not block others.
func shutdownAll[S shutdownable](ctx context.Context, logger *zap.Logger, items []S, label string) {
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Go(func() {
			if err := item.Shutdown(ctx); err != nil {
				logger.Warn("shutdown failed", zap.String("component", label), zap.Error(err))
			}
		})
	}
	wg.Wait()
}

// startProfiler starts continuous profiling when a server address is configured.
// The returned stop function is safe to call when profiling is off.
func startProfiler(server, sessionID string) (func(), error) {
	if server == "" {
		return func() {}, nil
	}
	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "turnscope.replay",
		ServerAddress:   server,
		Tags:            map[string]string{"session": sessionID, "version": version},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("starting profiler: %w", err)
	}
	return func() { _ = p.Stop() }, nil
}
